package server

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/nofeaturesonlybugs/stomp/v2"
	"github.com/nofeaturesonlybugs/stomp/v2/frames"
	"github.com/nofeaturesonlybugs/stomp/v2/server/events"
)

// rejection is a client error answered with an ERROR frame before the
// connection is closed.
type rejection struct {
	reason  string // metrics label
	message string // ERROR message header
	detail  string // ERROR body
	err     error
}

func (r *rejection) Error() string {
	return fmt.Sprintf("%v: %v", r.err, r.detail)
}

func (r *rejection) Unwrap() error {
	return r.err
}

func reject(err error, reason, message, detail string) error {
	return &rejection{reason: reason, message: message, detail: detail, err: err}
}

// Connection is the server side of one client connection.
//
// The embedded Engine provides the connection state, heart-beats, and receipt
// correlation; Connection handles client frames by command.
type Connection struct {
	*stomp.Engine

	server *Server
	log    *zap.Logger

	mu           sync.Mutex
	session      string
	login        string
	transactions map[string][]stomp.Frame
}

func newConnection(srv *Server, peer *stomp.Peer) *Connection {
	c := &Connection{
		server:       srv,
		log:          srv.log,
		transactions: map[string][]stomp.Frame{},
	}
	opts := srv.opts
	peer.Limits = opts.Limits
	peer.TrailingLine = opts.TrailingLine
	c.Engine = stomp.NewEngine(stomp.EngineConfig{
		Peer:      peer,
		Scheduler: opts.Scheduler,
		Clock:     opts.Clock,
		Logger:    srv.log,
		Handlers: stomp.Handlers{
			FrameReceived: func(f stomp.Frame) {
				srv.metrics.frame("in", f)
				if opts.FrameReceived != nil {
					opts.FrameReceived(c, f)
				}
			},
			FrameWriting: func(f stomp.Frame) {
				srv.metrics.frame("out", f)
				if opts.FrameWriting != nil {
					opts.FrameWriting(c, f)
				}
			},
			Dropped: c.dropped,
			Exception: func(err error) {
				c.log.Debug("stomp.server: connection error", zap.String("session", c.Session()), zap.Error(err))
			},
		},
		IsHandshake: isHandshake,
		Dispatch:    c.dispatch,
		Violation:   c.violation,
		Teardown:    c.teardown,
	})
	return c
}

// Session returns the session id assigned at CONNECT.  Unlike the engine's
// session it remains set after the connection closes.
func (c *Connection) Session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Login returns the login header of CONNECT.
func (c *Connection) Login() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.login
}

// Transactions returns the number of open transactions.
func (c *Connection) Transactions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.transactions)
}

func isHandshake(cmd stomp.Command) bool {
	return cmd == stomp.CommandConnect || cmd == stomp.CommandStomp
}

// dispatch handles a client frame.  A returned error closes the connection after
// violation has answered it.
func (c *Connection) dispatch(f stomp.Frame) error {
	switch f.Command {
	case stomp.CommandConnect, stomp.CommandStomp:
		return c.connect(f)
	case stomp.CommandSend:
		return c.send(f)
	case stomp.CommandSubscribe:
		return c.subscribe(f)
	case stomp.CommandUnsubscribe:
		return c.unsubscribe(f)
	case stomp.CommandAck, stomp.CommandNack:
		return c.acknowledge(f)
	case stomp.CommandBegin:
		return c.begin(f)
	case stomp.CommandCommit:
		return c.commit(f)
	case stomp.CommandAbort:
		return c.abort(f)
	case stomp.CommandDisconnect:
		_ = c.SendReceipt(f)
		c.Close()
		return nil
	}
	return reject(stomp.ErrProtocolViolation, "command", "Unsupported command",
		fmt.Sprintf("%v is not a client frame", f.Command))
}

// violation answers err with an ERROR frame.
func (c *Connection) violation(err error, f stomp.Frame) {
	var message, detail, reason string
	var rej *rejection
	switch {
	case errors.As(err, &rej):
		message, detail, reason = rej.message, rej.detail, rej.reason
	case errors.Is(err, stomp.ErrFrame):
		message, detail, reason = "Malformed frame", err.Error(), "frame"
	default:
		message, detail, reason = "Protocol violation", err.Error(), "protocol"
	}
	c.server.metrics.rejected(reason)
	c.log.Info("stomp.server: rejecting client",
		zap.String("session", c.Session()),
		zap.String("reason", reason),
		zap.Error(err))
	_ = c.Write(frames.Error(message, detail, f))
}

func (c *Connection) connect(f stomp.Frame) error {
	if c.IsConnected() {
		return reject(stomp.ErrProtocolViolation, "connect", "Already connected",
			fmt.Sprintf("%v received on a connected session", f.Command))
	}
	opts := c.server.opts
	version, ok := negotiateVersion(f.Header(stomp.HeaderAcceptVersion), opts.Versions)
	if !ok {
		return reject(stomp.ErrUnsupportedVersion, "version", "Invalid version",
			"Supported protocol versions are "+strings.Join(opts.Versions, ","))
	}
	remote, err := stomp.ParseHeartbeat(f.Header(stomp.HeaderHeartBeat))
	if err != nil {
		return reject(err, "connect", "Invalid heart-beat", err.Error())
	}
	login := f.Header(stomp.HeaderLogin)
	if opts.Authenticate != nil && !opts.Authenticate(login, f.Header(stomp.HeaderPasscode)) {
		return reject(stomp.ErrAccessDenied, "authentication", "Authentication failed",
			"The connection frame does not contain valid credentials.")
	}
	session := c.server.newSessionID()
	c.mu.Lock()
	c.session, c.login = session, login
	c.mu.Unlock()
	if err := c.Write(frames.Connected(session, version, opts.ServerName, opts.Heartbeat)); err != nil {
		return err
	}
	if err := c.Established(session, version, opts.ServerName, opts.Heartbeat, remote); err != nil {
		return err
	}
	c.log.Debug("stomp.server: client connected", zap.String("session", session), zap.String("version", version))
	c.server.emit(events.ClientConnect{SessionID: session})
	return nil
}

// negotiateVersion returns the first of supported named in accept.  An empty
// accept means 1.0.
func negotiateVersion(accept string, supported []string) (string, bool) {
	if accept == "" {
		accept = "1.0"
	}
	offered := map[string]bool{}
	for _, v := range strings.Split(accept, ",") {
		offered[strings.TrimSpace(v)] = true
	}
	for _, v := range supported {
		if offered[v] {
			return v, true
		}
	}
	return "", false
}

func (c *Connection) send(f stomp.Frame) error {
	if f.Header(stomp.HeaderDestination) == "" {
		return reject(stomp.ErrMissingHeader, "send", "Invalid send", "The 'destination' header must be set")
	}
	if tx, ok := f.Headers.Lookup(stomp.HeaderTransaction); ok {
		if err := c.buffer(tx, f); err != nil {
			return err
		}
	} else if err := c.route(f); err != nil {
		return err
	}
	return c.SendReceipt(f)
}

// route delivers a SEND frame to its destination.  Sending to a destination
// nobody has subscribed to discards the message.
func (c *Connection) route(f stomp.Frame) error {
	name := f.Header(stomp.HeaderDestination)
	d, ok := c.server.registry.Get(name)
	if !ok {
		c.log.Debug("stomp.server: no subscribers", zap.String("destination", name))
		return nil
	}
	if d.Dispatch(c, f) == Denied {
		return reject(stomp.ErrAccessDenied, "access", "Access denied", "The destination has been rejected by the server")
	}
	return nil
}

func (c *Connection) subscribe(f stomp.Frame) error {
	name, id := f.Header(stomp.HeaderDestination), f.Header(stomp.HeaderID)
	if name == "" || id == "" {
		return c.rejectSubscription(name, id, reject(stomp.ErrMissingHeader, "subscription",
			"Invalid subscription", "The 'destination' and 'id' headers must be set"))
	}
	srv := c.server
	srv.routing.Lock()
	defer srv.routing.Unlock()
	//
	// Ids are unique per connection, not per destination, so every destination is scanned.
	count := 0
	for _, d := range srv.registry.Destinations() {
		for _, existing := range d.Subscriptions(c) {
			if existing == id {
				return c.rejectSubscription(name, id, reject(stomp.ErrDuplicateSubscription, "subscription",
					"Invalid subscription", "'id' already used by this connection."))
			}
			count++
		}
	}
	if max := srv.opts.MaxSubscriptionsByClient; max > 0 && count+1 > max {
		return c.rejectSubscription(name, id, reject(stomp.ErrSubscriptionLimit, "limit",
			"Invalid subscription", "Too many subscriptions"))
	}
	d, created := srv.registry.GetOrCreate(name)
	if d == nil {
		return c.rejectSubscription(name, id, reject(stomp.ErrAccessDenied, "access",
			"Invalid subscription", "The destination has been rejected by the server"))
	}
	ack := f.Header(stomp.HeaderAck)
	if ack == "" {
		ack = AckAuto
	}
	sub := Subscription{ID: id, Destination: name, Ack: ack, Connection: c}
	if d.Subscribe(sub) == Denied {
		srv.registry.Release(d)
		return c.rejectSubscription(name, id, reject(stomp.ErrAccessDenied, "access",
			"Access denied", "The destination has been rejected by the server"))
	}
	srv.metrics.subscriptions(1)
	if created {
		srv.emit(events.SubscriptionStart{Destination: name})
	}
	return c.SendReceipt(f)
}

func (c *Connection) rejectSubscription(destination, id string, err error) error {
	var rej *rejection
	reason := ""
	if errors.As(err, &rej) {
		reason = rej.detail
	}
	c.server.emit(events.SubscriptionRejected{
		SessionID:   c.Session(),
		Destination: destination,
		ID:          id,
		Reason:      reason,
	})
	return err
}

func (c *Connection) unsubscribe(f stomp.Frame) error {
	id := f.Header(stomp.HeaderID)
	if id == "" {
		return reject(stomp.ErrMissingHeader, "subscription", "Invalid unsubscribe", "The 'id' header must be set")
	}
	srv := c.server
	srv.routing.Lock()
	defer srv.routing.Unlock()
	for _, d := range srv.registry.Destinations() {
		if !d.Unsubscribe(c, id) {
			continue
		}
		srv.metrics.subscriptions(-1)
		if srv.registry.Release(d) {
			srv.emit(events.SubscriptionStop{Destination: d.Name()})
		}
		return c.SendReceipt(f)
	}
	return reject(stomp.ErrNoSuchSubscription, "subscription", "Invalid unsubscribe",
		fmt.Sprintf("No subscription with id '%v'", id))
}

// acknowledge handles ACK and NACK.  Acknowledgment has no effect on delivery;
// the frame is validated, buffered when transactional, and receipted.
func (c *Connection) acknowledge(f stomp.Frame) error {
	if !f.Headers.Contains(stomp.HeaderID) && !f.Headers.Contains(stomp.HeaderMessageID) {
		return reject(stomp.ErrMissingHeader, "ack", "Invalid "+f.Command.String(), "The 'id' header must be set")
	}
	if tx, ok := f.Headers.Lookup(stomp.HeaderTransaction); ok {
		if err := c.buffer(tx, f); err != nil {
			return err
		}
	}
	return c.SendReceipt(f)
}

func (c *Connection) begin(f stomp.Frame) error {
	tx := f.Header(stomp.HeaderTransaction)
	if tx == "" {
		return reject(stomp.ErrMissingHeader, "transaction", "Invalid transaction", "The 'transaction' header must be set")
	}
	c.mu.Lock()
	if _, ok := c.transactions[tx]; ok {
		c.mu.Unlock()
		return reject(stomp.ErrProtocolViolation, "transaction", "Invalid transaction",
			fmt.Sprintf("Transaction '%v' already started", tx))
	}
	c.transactions[tx] = []stomp.Frame{}
	c.mu.Unlock()
	return c.SendReceipt(f)
}

// commit replays the frames buffered in the transaction.
func (c *Connection) commit(f stomp.Frame) error {
	buffered, err := c.end(f)
	if err != nil {
		return err
	}
	for _, frame := range buffered {
		if frame.Command != stomp.CommandSend {
			continue
		}
		if err := c.route(frame); err != nil {
			return err
		}
	}
	return c.SendReceipt(f)
}

func (c *Connection) abort(f stomp.Frame) error {
	if _, err := c.end(f); err != nil {
		return err
	}
	return c.SendReceipt(f)
}

// end removes the transaction named by f and returns its frames.
func (c *Connection) end(f stomp.Frame) ([]stomp.Frame, error) {
	tx := f.Header(stomp.HeaderTransaction)
	if tx == "" {
		return nil, reject(stomp.ErrMissingHeader, "transaction", "Invalid transaction", "The 'transaction' header must be set")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	buffered, ok := c.transactions[tx]
	if !ok {
		return nil, reject(stomp.ErrProtocolViolation, "transaction", "Unknown transaction",
			fmt.Sprintf("Transaction '%v' does not exist", tx))
	}
	delete(c.transactions, tx)
	return buffered, nil
}

// buffer adds f to transaction tx.
func (c *Connection) buffer(tx string, f stomp.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	buffered, ok := c.transactions[tx]
	if !ok {
		return reject(stomp.ErrProtocolViolation, "transaction", "Unknown transaction",
			fmt.Sprintf("Transaction '%v' does not exist", tx))
	}
	if max := c.server.opts.MaxFramesInTransaction; max > 0 && len(buffered) >= max {
		delete(c.transactions, tx)
		return reject(stomp.ErrProtocolViolation, "transaction", "Transaction error",
			fmt.Sprintf("Too many frames in transaction '%v'", tx))
	}
	c.transactions[tx] = append(buffered, f.Clone())
	return nil
}

// teardown removes the connection's subscriptions and transactions.
func (c *Connection) teardown() {
	srv := c.server
	srv.routing.Lock()
	for _, d := range srv.registry.Destinations() {
		n := d.UnsubscribeConnection(c)
		if n == 0 {
			continue
		}
		srv.metrics.subscriptions(-float64(n))
		if srv.registry.Release(d) {
			srv.emit(events.SubscriptionStop{Destination: d.Name()})
		}
	}
	srv.routing.Unlock()
	//
	c.mu.Lock()
	c.transactions = map[string][]stomp.Frame{}
	session := c.session
	c.mu.Unlock()
	//
	srv.remove(c)
	if session != "" {
		srv.emit(events.ClientDisconnect{SessionID: session})
	}
	c.log.Debug("stomp.server: connection closed", zap.String("session", session))
}

func (c *Connection) dropped() {
	c.server.metrics.dropped()
	c.server.emit(events.ConnectionDropped{SessionID: c.Session()})
}
