package stomp

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// State is the state of a connection.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return "idle"
}

// Handlers are the optional owner callbacks of an Engine.  A nil handler does
// nothing unless documented otherwise.
type Handlers struct {
	// FrameReceived observes every inbound frame, heart-beats included, before
	// it is dispatched.
	FrameReceived func(Frame)

	// FrameWriting observes every outbound frame once it is queued.  Frames
	// refused because the connection is closed are not observed.
	FrameWriting func(Frame)

	// Close is called exactly once when the connection closes for any reason.
	Close func()

	// Dropped is called after Close when the connection closed without an
	// orderly disconnect: heart-beat timeout, loss of the transport, or a
	// write queue overflow.
	Dropped func()

	// Exception receives transport errors, parse errors, and fatal protocol
	// conditions such as ErrUnmatchedReceipt.
	Exception func(error)

	// Ping is called every negotiated outgoing heart-beat period.  nil sends a
	// heart-beat frame.
	Ping func()
}

// EngineConfig configures an Engine.  Peer, IsHandshake, and Dispatch are required.
type EngineConfig struct {
	// Peer is the transport; the Engine sets its callbacks and starts it.
	Peer *Peer

	// Scheduler runs the heart-beat timers; nil is TickerScheduler.
	Scheduler Scheduler

	// Clock is used for liveness tracking; nil is time.Now.
	Clock Clock

	// Logger; nil is a no-op logger.
	Logger *zap.Logger

	Handlers Handlers

	// IsHandshake reports whether a command may arrive before the connection
	// is established.
	IsHandshake func(Command) bool

	// Dispatch handles every inbound frame except heart-beats and RECEIPT
	// frames.  A non-nil error is a protocol violation that ends the connection.
	Dispatch func(Frame) error

	// Violation is called for a protocol violation before the connection is
	// closed so the role can send an ERROR frame.  Optional.
	Violation func(err error, frame Frame)

	// Teardown runs once while closing, before the Close handler.  Optional.
	Teardown func()
}

type pendingReceipt struct {
	receipt *Receipt
	fn      ReceiptFunc
}

// Engine is the connection state machine shared by the client and server roles:
//
//	Idle → Connecting → Connected → Closed
//
// It owns heart-beat negotiation and timers, liveness tracking, receipt
// correlation, and dispatch of inbound frames by command.  Every piece of mutable
// state is guarded by one mutex; owner callbacks are never called with it held.
type Engine struct {
	cfg EngineConfig
	log *zap.Logger

	mu       sync.Mutex
	state    State
	session  string
	version  string
	server   string
	pending  map[string]pendingReceipt
	pinger   Timer
	ponger   Timer
	ping     time.Duration
	pong     time.Duration
	activity atomic.Int64
}

// NewEngine returns an Engine in StateIdle.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Scheduler == nil {
		cfg.Scheduler = TickerScheduler{}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Engine{
		cfg:     cfg,
		log:     cfg.Logger,
		pending: map[string]pendingReceipt{},
	}
}

// Start moves the engine to StateConnecting and starts the peer.  The wait group
// is optional.
func (e *Engine) Start(wg *sync.WaitGroup) {
	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return
	}
	e.state = StateConnecting
	e.mu.Unlock()
	e.touch()
	peer := e.cfg.Peer
	peer.OnFrame = e.receive
	peer.OnActivity = e.touch
	peer.OnClose = e.transportClosed
	peer.Start(wg)
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// IsConnected returns true in StateConnected.
func (e *Engine) IsConnected() bool {
	return e.State() == StateConnected
}

// Session returns the session id; empty until connected and after close.
func (e *Engine) Session() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// Version returns the negotiated protocol version.
func (e *Engine) Version() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.version
}

// Server returns the server banner.
func (e *Engine) Server() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.server
}

// Heartbeat returns the negotiated outgoing and incoming heart-beat periods.
func (e *Engine) Heartbeat() (ping, pong time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ping, e.pong
}

// LastActivity returns the last time bytes arrived from the peer.
func (e *Engine) LastActivity() time.Time {
	return time.Unix(0, e.activity.Load())
}

// PendingReceipts returns the number of receipts not yet answered.
func (e *Engine) PendingReceipts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Established records the session fields, moves the engine to StateConnected,
// and arms the heart-beat timers negotiated from local and remote.
func (e *Engine) Established(session, version, server string, local, remote HeartbeatConfig) error {
	ping, pong := Negotiate(local, remote)
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case StateClosed:
		return ErrClosed
	case StateConnected:
		return fmt.Errorf("%w: already connected", ErrProtocolViolation)
	}
	e.state = StateConnected
	e.session, e.version, e.server = session, version, server
	e.ping, e.pong = ping, pong
	if ping > 0 {
		e.pinger = e.cfg.Scheduler.SchedulePeriodic(ping, e.sendPing)
	}
	if pong > 0 {
		e.ponger = e.cfg.Scheduler.SchedulePeriodic(pong, e.checkLiveness)
	}
	e.log.Debug("stomp: connected",
		zap.String("session", session),
		zap.String("version", version),
		zap.Duration("ping", ping),
		zap.Duration("pong", pong))
	return nil
}

// Write queues frame without receipt tracking.
func (e *Engine) Write(frame Frame) error {
	e.mu.Lock()
	if e.state == StateClosed {
		e.mu.Unlock()
		return ErrClosed
	}
	err := e.cfg.Peer.Send(frame)
	e.mu.Unlock()
	if err != nil {
		return err
	}
	e.writing(frame)
	return nil
}

// Send queues frame with receipt tracking.
//
// When fn is non-nil or frame already carries a receipt header a pending receipt
// is recorded before the frame is queued; the receipt header is generated when
// absent.  fn is called exactly once when the matching RECEIPT arrives and never
// if the connection closes first.  The returned Receipt is nil when no receipt
// was requested.
func (e *Engine) Send(frame Frame, fn ReceiptFunc) (*Receipt, error) {
	id, ok := frame.Headers.Lookup(HeaderReceipt)
	if fn == nil && !ok {
		return nil, e.Write(frame)
	}
	if !ok || id == "" {
		id = ReceiptID()
		frame.Headers = frame.Headers.Clone()
		frame.Headers.Set(HeaderReceipt, id)
	}
	receipt := newReceipt(id)
	e.mu.Lock()
	if e.state == StateClosed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	if _, dup := e.pending[id]; dup {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: receipt %v already pending", ErrProtocolViolation, id)
	}
	e.pending[id] = pendingReceipt{receipt: receipt, fn: fn}
	if err := e.cfg.Peer.Send(frame); err != nil {
		delete(e.pending, id)
		e.mu.Unlock()
		return nil, err
	}
	e.mu.Unlock()
	e.writing(frame)
	return receipt, nil
}

func (e *Engine) writing(frame Frame) {
	if h := e.cfg.Handlers.FrameWriting; h != nil {
		h(frame)
	}
}

// SendReceipt answers frame with a RECEIPT if it requested one.
func (e *Engine) SendReceipt(frame Frame) error {
	id, ok := frame.Headers.Lookup(HeaderReceipt)
	if !ok {
		return nil
	}
	return e.Write(Frame{
		Command: CommandReceipt,
		Headers: Headers{{Key: HeaderReceiptID, Value: id}},
	})
}

// Close closes the connection after the frames already queued are written.  It
// is idempotent and reports whether this call performed the close.
func (e *Engine) Close() bool {
	return e.close(false, false)
}

// Abort closes the connection and the transport at once, discarding queued
// frames.  It is idempotent and reports whether this call performed the close.
// Abort on a connection already closed by Close still closes the transport.
func (e *Engine) Abort() bool {
	if e.close(false, true) {
		return true
	}
	e.cfg.Peer.Abort()
	return false
}

// Fail treats err as a protocol violation caused by frame: the Violation
// callback may send an ERROR frame and then the connection is closed.
func (e *Engine) Fail(err error, frame Frame) {
	if e.State() == StateClosed {
		return
	}
	e.log.Warn("stomp: protocol violation", zap.Error(err), zap.Stringer("command", frame.Command))
	if e.cfg.Violation != nil {
		e.cfg.Violation(err, frame)
	}
	e.close(false, false)
}

// close is the single teardown routine.  An abrupt close discards queued
// frames and closes the transport immediately; otherwise queued frames, such
// as an ERROR or RECEIPT, are flushed first.
func (e *Engine) close(dropped, abrupt bool) bool {
	e.mu.Lock()
	if e.state == StateClosed {
		e.mu.Unlock()
		return false
	}
	e.state = StateClosed
	if e.pinger != nil {
		e.pinger.Cancel()
		e.pinger = nil
	}
	if e.ponger != nil {
		e.ponger.Cancel()
		e.ponger = nil
	}
	pending := e.pending
	e.pending = map[string]pendingReceipt{}
	e.session, e.version, e.server = "", "", ""
	e.mu.Unlock()
	//
	if abrupt {
		e.cfg.Peer.Abort()
	} else {
		e.cfg.Peer.Stop()
	}
	for _, p := range pending {
		p.receipt.resolve(ReceiptConnectionClosed, Frame{})
	}
	if e.cfg.Teardown != nil {
		e.cfg.Teardown()
	}
	if h := e.cfg.Handlers.Close; h != nil {
		h()
	}
	if h := e.cfg.Handlers.Dropped; dropped && h != nil {
		h()
	}
	e.log.Debug("stomp: closed",
		zap.Bool("dropped", dropped),
		zap.Bool("abrupt", abrupt),
		zap.Int("discarded_receipts", len(pending)))
	return true
}

// receive is the peer's OnFrame callback.
func (e *Engine) receive(frame Frame) {
	if h := e.cfg.Handlers.FrameReceived; h != nil {
		h(frame)
	}
	if frame.IsHeartbeat() {
		return
	}
	switch state := e.State(); {
	case state == StateClosed:
		return
	case state != StateConnected && !e.cfg.IsHandshake(frame.Command):
		e.Fail(fmt.Errorf("%w: %v before handshake", ErrProtocolViolation, frame.Command), frame)
		return
	}
	if frame.Command == CommandReceipt {
		e.receipt(frame)
		return
	}
	if err := e.cfg.Dispatch(frame); err != nil {
		e.Fail(err, frame)
	}
}

// receipt correlates a RECEIPT frame with its pending request.
func (e *Engine) receipt(frame Frame) {
	id := frame.Header(HeaderReceiptID)
	e.mu.Lock()
	p, ok := e.pending[id]
	delete(e.pending, id)
	e.mu.Unlock()
	if !ok {
		err := fmt.Errorf("%w: %q", ErrUnmatchedReceipt, id)
		e.log.Error("stomp: no pending receipt", zap.String("receipt_id", id))
		e.exception(err)
		e.close(false, true)
		return
	}
	p.receipt.resolve(ReceiptCompleted, frame)
	if p.fn != nil {
		p.fn(frame)
	}
}

// transportClosed is the peer's OnClose callback.  A frame that cannot be
// decoded is a protocol violation; anything else is loss of the transport.
func (e *Engine) transportClosed(err error) {
	if e.State() == StateClosed {
		return
	}
	if err != nil && !errors.Is(err, io.EOF) {
		e.exception(err)
		var readErr *ReadError
		if errors.Is(err, ErrFrame) && !errors.As(err, &readErr) {
			e.Fail(err, Frame{})
			return
		}
	}
	e.close(true, true)
}

func (e *Engine) exception(err error) {
	if h := e.cfg.Handlers.Exception; h != nil {
		h(err)
	}
}

func (e *Engine) touch() {
	e.activity.Store(e.cfg.Clock().UnixNano())
}

// sendPing runs on the outgoing heart-beat timer.
func (e *Engine) sendPing() {
	if h := e.cfg.Handlers.Ping; h != nil {
		h()
		return
	}
	_ = e.Write(Heartbeat)
}

// checkLiveness runs on the incoming heart-beat timer and drops the connection
// when nothing arrived for twice the negotiated period.
func (e *Engine) checkLiveness() {
	e.mu.Lock()
	pong, ponger := e.pong, e.ponger
	e.mu.Unlock()
	if ponger == nil {
		return
	}
	elapsed := e.cfg.Clock().Sub(e.LastActivity())
	if elapsed <= 2*pong {
		return
	}
	e.log.Error("stomp: no activity from peer, dropping connection",
		zap.Duration("elapsed", elapsed),
		zap.Duration("pong", pong),
		zap.Error(ErrHeartbeatTimeout))
	e.mu.Lock()
	if e.ponger != nil {
		e.ponger.Cancel()
		e.ponger = nil
	}
	e.mu.Unlock()
	e.close(true, true)
}
