package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/nofeaturesonlybugs/stomp/v2"
	"github.com/nofeaturesonlybugs/stomp/v2/frames"
	"github.com/nofeaturesonlybugs/stomp/v2/server/events"
)

// Server is a STOMP server.
//
// Server should not be copied once started.
type Server struct {
	// Addr specifies the TCP address for the server to listen on
	// in the form of "host:port".
	//
	// If empty then a random port is used with 127.0.0.1 and this
	// field is updated accordingly.
	Addr string

	// Events is an optional channel for the server to push event notifications into.
	// Events are queued so a slow reader never stalls a connection.  The channel is
	// closed after ServerStop is sent.
	Events chan<- interface{}

	// TLSConfig specifies an optional TLS configuration.
	TLSConfig *tls.Config

	// Logger; nil is a no-op logger.
	Logger *zap.Logger

	// NewSessionID is the provider for client session IDs.
	//
	// NewSessionID=nil means stomp.SessionID will be used as this provider.
	NewSessionID func() string

	// Options configure protocol behavior.
	Options Options

	// Registry holds the destinations; nil is a MemoryRegistry creating
	// destinations with DefaultFactory(Authorizer).
	Registry Registry

	// Authorizer is consulted by the default registry's destinations; nil allows everything.
	Authorizer Authorizer

	// Metrics is optional.
	Metrics *Metrics

	once         sync.Once
	log          *zap.Logger
	opts         Options
	registry     Registry
	metrics      *Metrics
	newSessionID func() string

	// routing serializes changes to subscriptions so the cross-destination
	// checks of SUBSCRIBE see a stable view.
	routing sync.Mutex

	mu          sync.Mutex
	connections map[*Connection]struct{}
	listeners   []net.Listener
	shutdown    chan stomp.Signal
	stopping    bool
	wg          sync.WaitGroup

	eventsMu      sync.Mutex
	eventQueue    []interface{}
	eventWake     chan stomp.Signal
	eventsClosed  bool
	eventsStopped chan stomp.Signal
}

// init applies defaults and starts the event forwarder.
func (srv *Server) init() {
	if srv.log = srv.Logger; srv.log == nil {
		srv.log = zap.NewNop()
	}
	srv.opts = srv.Options.withDefaults()
	if srv.registry = srv.Registry; srv.registry == nil {
		srv.registry = NewRegistry(DefaultFactory(srv.Authorizer))
	}
	srv.metrics = srv.Metrics
	if srv.newSessionID = srv.NewSessionID; srv.newSessionID == nil {
		srv.newSessionID = stomp.SessionID
	}
	srv.connections = map[*Connection]struct{}{}
	srv.shutdown = make(chan stomp.Signal)
	srv.eventWake = make(chan stomp.Signal, 1)
	srv.eventsStopped = make(chan stomp.Signal)
	go srv.forwardEvents()
}

// emit queues an event for the Events channel.
func (srv *Server) emit(event interface{}) {
	srv.eventsMu.Lock()
	if srv.eventsClosed {
		srv.eventsMu.Unlock()
		return
	}
	srv.eventQueue = append(srv.eventQueue, event)
	srv.eventsMu.Unlock()
	select {
	case srv.eventWake <- stomp.Signal{}:
	default:
	}
}

// forwardEvents drains the event queue into Events until the queue is closed.
func (srv *Server) forwardEvents() {
	defer close(srv.eventsStopped)
	for range srv.eventWake {
		srv.eventsMu.Lock()
		queue, closed := srv.eventQueue, srv.eventsClosed
		srv.eventQueue = nil
		srv.eventsMu.Unlock()
		for _, event := range queue {
			if srv.Events != nil {
				srv.Events <- event
			}
		}
		if closed {
			if srv.Events != nil {
				close(srv.Events)
			}
			return
		}
	}
}

// closeEvents queues ServerStop as the last event.
func (srv *Server) closeEvents() {
	srv.eventsMu.Lock()
	srv.eventQueue = append(srv.eventQueue, events.ServerStop{})
	srv.eventsClosed = true
	srv.eventsMu.Unlock()
	select {
	case srv.eventWake <- stomp.Signal{}:
	default:
	}
}

// join adds a transport to the server and starts its connection.
func (srv *Server) join(peer *stomp.Peer) *Connection {
	c := newConnection(srv, peer)
	srv.mu.Lock()
	if srv.stopping {
		srv.mu.Unlock()
		peer.Start(nil)
		_ = peer.Send(frames.Error("server shutting down", "The server is shutting down.", frames.Empty))
		peer.Stop()
		return nil
	}
	srv.connections[c] = struct{}{}
	c.Start(&srv.wg)
	srv.mu.Unlock()
	srv.metrics.connection(1)
	return c
}

// remove forgets c; called from its teardown.
func (srv *Server) remove(c *Connection) {
	srv.mu.Lock()
	_, ok := srv.connections[c]
	delete(srv.connections, c)
	srv.mu.Unlock()
	if ok {
		srv.metrics.connection(-1)
	}
}

// Connections returns the open connections.
func (srv *Server) Connections() []*Connection {
	srv.once.Do(srv.init)
	srv.mu.Lock()
	defer srv.mu.Unlock()
	rv := make([]*Connection, 0, len(srv.connections))
	for c := range srv.connections {
		rv = append(rv, c)
	}
	return rv
}

// Destinations returns the server's destinations.
func (srv *Server) Destinations() []Destination {
	srv.once.Do(srv.init)
	return srv.registry.Destinations()
}

// Pipe creates a pair of Peers whose R and W fields are linked to each other via
// pipes created by calls to io.Pipe.
//
// One Peer is inserted into the server and the other is returned.  The returned Peer
// can be used to communicate with the Server as if it had joined via network connection.
func (srv *Server) Pipe() *stomp.Peer {
	srv.once.Do(srv.init)
	server, client := stomp.Pipe()
	srv.join(server)
	return client
}

// ListenAndServe listens on the TCP network address Server.Addr and then calls Serve
// to accept incoming connections.
//
// If Server.Addr is blank then "127.0.0.1:" is used and Server.Addr is updated with
// the listener's address.
//
// Unlike ListenAndServe in standard library net/http this method is non-blocking
// and returns a nil error if the server is running or an error if it is not.
func (srv *Server) ListenAndServe() error {
	var listener net.Listener
	var addr string
	var err error
	//
	if addr = srv.Addr; addr == "" {
		addr = "127.0.0.1:"
	}
	//
	if srv.TLSConfig != nil {
		if listener, err = tls.Listen("tcp", addr, srv.TLSConfig); err != nil {
			return err
		}
	} else {
		if listener, err = net.Listen("tcp", addr); err != nil {
			return err
		}
	}
	//
	srv.Addr = listener.Addr().String()
	srv.Serve(listener)
	//
	return nil
}

// Serve starts the goroutine accepting connections on the net.Listener l and
// then returns.  l is closed by Shutdown.
func (srv *Server) Serve(l net.Listener) {
	srv.once.Do(srv.init)
	srv.mu.Lock()
	if srv.stopping {
		srv.mu.Unlock()
		_ = l.Close()
		return
	}
	srv.listeners = append(srv.listeners, l)
	srv.wg.Add(1)
	srv.mu.Unlock()
	//
	go func() {
		defer srv.wg.Done()
		for {
			conn, err := l.Accept()
			if err != nil {
				select {
				case <-srv.shutdown:
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				srv.log.Warn("stomp.server: accept", zap.Error(err))
				continue
			}
			srv.log.Debug("stomp.server: accepted", zap.Stringer("remote", conn.RemoteAddr()))
			srv.join(&stomp.Peer{R: conn, W: conn})
		}
	}()
}

// Shutdown stops accepting connections, sends an ERROR to every connected client,
// closes the connections, and waits for their goroutines to end or ctx to be
// done.  Connections still open when ctx is done are aborted.  The Events channel
// receives ServerStop and is closed.
func (srv *Server) Shutdown(ctx context.Context) error {
	srv.once.Do(srv.init)
	srv.mu.Lock()
	if srv.stopping {
		srv.mu.Unlock()
		return nil
	}
	srv.stopping = true
	close(srv.shutdown)
	listeners := srv.listeners
	srv.listeners = nil
	connections := make([]*Connection, 0, len(srv.connections))
	for c := range srv.connections {
		connections = append(connections, c)
	}
	srv.mu.Unlock()
	//
	for _, l := range listeners {
		if err := l.Close(); err != nil {
			srv.log.Debug("stomp.server: closing listener", zap.Error(err))
		}
	}
	for _, c := range connections {
		_ = c.Write(frames.Error("server shutting down", "The server is shutting down.", frames.Empty))
		c.Close()
	}
	//
	done := make(chan stomp.Signal)
	go func() {
		srv.wg.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		// Peers still flushing are not reading; drop their transports.
		for _, c := range connections {
			c.Abort()
		}
	}
	srv.closeEvents()
	select {
	case <-srv.eventsStopped:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	srv.log.Info("stomp.server: stopped", zap.Int("connections", len(connections)))
	return err
}
