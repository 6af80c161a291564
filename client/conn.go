// Package client contains a STOMP client.
package client

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/nofeaturesonlybugs/stomp/v2"
	"github.com/nofeaturesonlybugs/stomp/v2/frames"
)

// ErrNilHandler occurs when Subscribe is called without a message handler.
var ErrNilHandler = errors.New("client: nil message handler")

// MessageHandler receives the MESSAGE frames of a subscription.
type MessageHandler func(message stomp.Frame)

type subscription struct {
	id          string
	destination string
	handler     MessageHandler
}

// Conn is a client connection to a STOMP server.
//
// All methods are safe for concurrent use.  Methods that send frames never wait
// for the network; completion is reported through receipt callbacks.  Callbacks
// run on the connection's reader goroutine.
type Conn struct {
	opts   Options
	engine *stomp.Engine
	log    *zap.Logger
	wg     sync.WaitGroup

	// mu guards subscriptions only.  It is never held across a call into the
	// engine or a message handler.
	mu            sync.Mutex
	subscriptions map[string]subscription

	handshake     chan error
	handshakeOnce sync.Once
}

// New creates a Conn over peer.  Call Connect to start it.
func New(peer *stomp.Peer, opts ...Option) *Conn {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	c := &Conn{
		opts:          o,
		log:           o.Logger.With(zap.String("role", "client")),
		subscriptions: map[string]subscription{},
		handshake:     make(chan error, 1),
	}
	peer.TrailingLine = o.TrailingLine
	peer.Limits = o.Limits
	handlers := o.handlers
	if o.pingHandler != nil {
		handlers.Ping = func() { o.pingHandler(c) }
	}
	c.engine = stomp.NewEngine(stomp.EngineConfig{
		Peer:        peer,
		Scheduler:   o.Scheduler,
		Clock:       o.Clock,
		Logger:      c.log,
		Handlers:    handlers,
		IsHandshake: isHandshake,
		Dispatch:    c.dispatch,
		Teardown:    c.teardown,
	})
	return c
}

// Connect starts the connection, sends CONNECT, and waits for CONNECTED.  An
// ERROR in reply, a closed connection, or ctx ending first closes the connection
// and returns an error.
func (c *Conn) Connect(ctx context.Context) error {
	c.engine.Start(&c.wg)
	connect := frames.Connect(c.opts.Host, c.opts.AcceptVersion, c.opts.Login, c.opts.Passcode, c.opts.Heartbeat)
	if err := c.engine.Write(connect); err != nil {
		return err
	}
	select {
	case err := <-c.handshake:
		if err != nil {
			c.engine.Close()
			return err
		}
		return nil
	case <-ctx.Done():
		c.engine.Close()
		return ctx.Err()
	}
}

// Session returns the session id from CONNECTED.
func (c *Conn) Session() string { return c.engine.Session() }

// Version returns the protocol version from CONNECTED.
func (c *Conn) Version() string { return c.engine.Version() }

// Server returns the server banner from CONNECTED.
func (c *Conn) Server() string { return c.engine.Server() }

// IsConnected returns true between CONNECTED and close.
func (c *Conn) IsConnected() bool { return c.engine.IsConnected() }

// Engine returns the underlying connection engine.
func (c *Conn) Engine() *stomp.Engine { return c.engine }

// Subscriptions returns the ids of the active subscriptions.
func (c *Conn) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.subscriptions))
	for id := range c.subscriptions {
		ids = append(ids, id)
	}
	return ids
}

// Send sends a SEND frame.  dest overrides the destination header; one of them
// is required.  fn, when non-nil, is called with the RECEIPT.
func (c *Conn) Send(dest string, headers stomp.Headers, body []byte, fn stomp.ReceiptFunc) (*stomp.Receipt, error) {
	headers = headers.Clone()
	if dest != "" {
		headers.Set(stomp.HeaderDestination, dest)
	}
	if headers.Get(stomp.HeaderDestination) == "" {
		return nil, fmt.Errorf("%w: %v", stomp.ErrMissingHeader, stomp.HeaderDestination)
	}
	if body != nil && c.opts.AutoComputeContentLength && !headers.Contains(stomp.HeaderContentLength) {
		headers.Set(stomp.HeaderContentLength, strconv.Itoa(len(body)))
	}
	return c.engine.Send(stomp.Frame{
		Command: stomp.CommandSend,
		Headers: headers,
		Body:    body,
	}, fn)
}

// Subscribe subscribes to dest and returns the subscription id, which is the id
// header when given and dest otherwise.  Reusing an active id fails with
// ErrDuplicateSubscription before anything is sent.
func (c *Conn) Subscribe(dest string, headers stomp.Headers, handler MessageHandler, fn stomp.ReceiptFunc) (string, error) {
	if dest == "" {
		return "", fmt.Errorf("%w: %v", stomp.ErrMissingHeader, stomp.HeaderDestination)
	} else if handler == nil {
		return "", ErrNilHandler
	}
	headers = headers.Clone()
	id, ok := headers.Lookup(stomp.HeaderID)
	if !ok || id == "" {
		id = dest
	}
	headers.Set(stomp.HeaderDestination, dest)
	headers.Set(stomp.HeaderID, id)
	//
	c.mu.Lock()
	if _, ok := c.subscriptions[id]; ok {
		c.mu.Unlock()
		return "", fmt.Errorf("%w: id=%v", stomp.ErrDuplicateSubscription, id)
	}
	c.subscriptions[id] = subscription{
		id:          id,
		destination: dest,
		handler:     handler,
	}
	c.mu.Unlock()
	//
	frame := stomp.Frame{
		Command: stomp.CommandSubscribe,
		Headers: headers,
	}
	if _, err := c.engine.Send(frame, fn); err != nil {
		c.mu.Lock()
		delete(c.subscriptions, id)
		c.mu.Unlock()
		return "", err
	}
	return id, nil
}

// Unsubscribe ends the subscription whose id is the id header when given and
// dest otherwise.  An unknown id fails with ErrNoSuchSubscription before anything
// is sent.
func (c *Conn) Unsubscribe(dest string, headers stomp.Headers, fn stomp.ReceiptFunc) (*stomp.Receipt, error) {
	headers = headers.Clone()
	id, ok := headers.Lookup(stomp.HeaderID)
	if !ok || id == "" {
		id = dest
	}
	headers.Set(stomp.HeaderID, id)
	//
	c.mu.Lock()
	if _, ok := c.subscriptions[id]; !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: id=%v", stomp.ErrNoSuchSubscription, id)
	}
	delete(c.subscriptions, id)
	c.mu.Unlock()
	return c.engine.Send(stomp.Frame{
		Command: stomp.CommandUnsubscribe,
		Headers: headers,
	}, fn)
}

// Begin starts transaction tx.
func (c *Conn) Begin(tx string, headers stomp.Headers, fn stomp.ReceiptFunc) (*stomp.Receipt, error) {
	return c.transaction(stomp.CommandBegin, tx, headers, fn)
}

// Commit commits transaction tx.
func (c *Conn) Commit(tx string, headers stomp.Headers, fn stomp.ReceiptFunc) (*stomp.Receipt, error) {
	return c.transaction(stomp.CommandCommit, tx, headers, fn)
}

// Abort aborts transaction tx.
func (c *Conn) Abort(tx string, headers stomp.Headers, fn stomp.ReceiptFunc) (*stomp.Receipt, error) {
	return c.transaction(stomp.CommandAbort, tx, headers, fn)
}

func (c *Conn) transaction(cmd stomp.Command, tx string, headers stomp.Headers, fn stomp.ReceiptFunc) (*stomp.Receipt, error) {
	if tx == "" {
		return nil, fmt.Errorf("%w: %v", stomp.ErrMissingHeader, stomp.HeaderTransaction)
	}
	headers = headers.Clone()
	headers.Set(stomp.HeaderTransaction, tx)
	return c.engine.Send(stomp.Frame{Command: cmd, Headers: headers}, fn)
}

// Ack acknowledges the message with ack id.
func (c *Conn) Ack(id string, fn stomp.ReceiptFunc) (*stomp.Receipt, error) {
	return c.AckTx(id, "", fn)
}

// AckTx acknowledges the message with ack id as part of transaction tx.
func (c *Conn) AckTx(id, tx string, fn stomp.ReceiptFunc) (*stomp.Receipt, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: %v", stomp.ErrMissingHeader, stomp.HeaderID)
	}
	return c.engine.Send(frames.Ack(id, tx), fn)
}

// Nack rejects the message with ack id.
func (c *Conn) Nack(id string, fn stomp.ReceiptFunc) (*stomp.Receipt, error) {
	return c.NackTx(id, "", fn)
}

// NackTx rejects the message with ack id as part of transaction tx.
func (c *Conn) NackTx(id, tx string, fn stomp.ReceiptFunc) (*stomp.Receipt, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: %v", stomp.ErrMissingHeader, stomp.HeaderID)
	}
	return c.engine.Send(frames.Nack(id, tx), fn)
}

// Disconnect sends DISCONNECT with a receipt request.  When the RECEIPT arrives
// fn is called and then the connection is closed.
func (c *Conn) Disconnect(fn stomp.ReceiptFunc) (*stomp.Receipt, error) {
	return c.engine.Send(frames.Disconnect(), func(receipt stomp.Frame) {
		if fn != nil {
			fn(receipt)
		}
		c.engine.Close()
	})
}

// Close closes the connection without DISCONNECT once queued frames are
// written.  It is idempotent.
func (c *Conn) Close() {
	c.engine.Close()
}

// CloseNow closes the connection and its transport at once, discarding queued
// frames.  Use it when the server has stopped reading and Close would not
// return the goroutines awaited by Wait.
func (c *Conn) CloseNow() {
	c.engine.Abort()
}

// Wait blocks until the connection's goroutines have ended.
func (c *Conn) Wait() {
	c.wg.Wait()
}

func isHandshake(cmd stomp.Command) bool {
	return cmd == stomp.CommandConnected || cmd == stomp.CommandError
}

// dispatch handles inbound frames other than RECEIPT and heart-beats.
func (c *Conn) dispatch(f stomp.Frame) error {
	switch f.Command {
	case stomp.CommandConnected:
		return c.connected(f)
	case stomp.CommandMessage:
		id := f.Header(stomp.HeaderSubscription)
		c.mu.Lock()
		sub, ok := c.subscriptions[id]
		c.mu.Unlock()
		if !ok {
			c.log.Debug("client: message for unknown subscription", zap.String("subscription", id))
			return nil
		}
		sub.handler(f)
	case stomp.CommandError:
		if !c.engine.IsConnected() {
			c.finishHandshake(fmt.Errorf("%w: %v", ErrConnectRefused, f.Header(stomp.HeaderMessage)))
		}
		if c.opts.errorHandler != nil {
			c.opts.errorHandler(f)
		}
	default:
		c.log.Debug("client: ignoring frame", zap.Stringer("command", f.Command))
	}
	return nil
}

// connected completes the handshake.
func (c *Conn) connected(f stomp.Frame) error {
	remote, err := stomp.ParseHeartbeat(f.Header(stomp.HeaderHeartBeat))
	if err != nil {
		c.finishHandshake(err)
		return err
	}
	version := f.Header(stomp.HeaderVersion)
	if version == "" {
		version = "1.0"
	}
	err = c.engine.Established(f.Header(stomp.HeaderSession), version, f.Header(stomp.HeaderServer), c.opts.Heartbeat, remote)
	c.finishHandshake(err)
	return err
}

func (c *Conn) finishHandshake(err error) {
	c.handshakeOnce.Do(func() {
		c.handshake <- err
	})
}

// teardown runs once when the connection closes.
func (c *Conn) teardown() {
	c.mu.Lock()
	c.subscriptions = map[string]subscription{}
	c.mu.Unlock()
	c.finishHandshake(stomp.ErrClosed)
}
