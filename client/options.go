package client

import (
	"crypto/tls"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/nofeaturesonlybugs/stomp/v2"
)

// DefaultAcceptVersion is sent in the accept-version header of CONNECT.
const DefaultAcceptVersion = "1.0,1.1,1.2"

// DefaultHeartbeat is advertised when no heart-beat option is given.
var DefaultHeartbeat = stomp.HeartbeatConfig{Out: time.Second, In: time.Second}

// Options configure a Conn.  Use the Option functions rather than setting
// fields directly.
type Options struct {
	// Host is the virtual host sent in CONNECT; empty uses the dialed host.
	Host string

	AcceptVersion string
	Login         string
	Passcode      string

	// Heartbeat is this client's advertised heart-beat pair.
	Heartbeat stomp.HeartbeatConfig

	// AutoComputeContentLength adds a content-length header to SEND frames
	// with a body unless the caller supplied one.  Default true.
	AutoComputeContentLength bool

	// TrailingLine appends a newline after every frame sent.
	TrailingLine bool

	Limits    stomp.Limits
	Scheduler stomp.Scheduler
	Clock     stomp.Clock
	Logger    *zap.Logger

	// Dialer and TLSConfig are used by Dial.
	Dialer    *net.Dialer
	TLSConfig *tls.Config

	handlers     stomp.Handlers
	errorHandler func(stomp.Frame)
	pingHandler  func(*Conn)
}

// Option configures a Conn.
type Option func(*Options)

func defaultOptions() Options {
	return Options{
		AcceptVersion:            DefaultAcceptVersion,
		Heartbeat:                DefaultHeartbeat,
		AutoComputeContentLength: true,
	}
}

// WithHost sets the host header of CONNECT.
func WithHost(host string) Option {
	return func(o *Options) { o.Host = host }
}

// WithAcceptVersion sets the accept-version header of CONNECT.
func WithAcceptVersion(versions string) Option {
	return func(o *Options) { o.AcceptVersion = versions }
}

// WithLogin sets the login and passcode headers of CONNECT.
func WithLogin(login, passcode string) Option {
	return func(o *Options) { o.Login, o.Passcode = login, passcode }
}

// WithHeartbeat sets the advertised heart-beat pair; zero disables a direction.
func WithHeartbeat(hb stomp.HeartbeatConfig) Option {
	return func(o *Options) { o.Heartbeat = hb }
}

// WithAutoComputeContentLength turns automatic content-length on SEND on or off.
func WithAutoComputeContentLength(on bool) Option {
	return func(o *Options) { o.AutoComputeContentLength = on }
}

// WithTrailingLine appends a newline after each frame sent.
func WithTrailingLine(on bool) Option {
	return func(o *Options) { o.TrailingLine = on }
}

// WithLimits sets the limits enforced on frames received from the server.
func WithLimits(limits stomp.Limits) Option {
	return func(o *Options) { o.Limits = limits }
}

// WithScheduler replaces the heart-beat scheduler.
func WithScheduler(s stomp.Scheduler) Option {
	return func(o *Options) { o.Scheduler = s }
}

// WithClock replaces the clock used for liveness tracking.
func WithClock(c stomp.Clock) Option {
	return func(o *Options) { o.Clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithDialer sets the dialer used by Dial.
func WithDialer(d *net.Dialer) Option {
	return func(o *Options) { o.Dialer = d }
}

// WithTLS makes Dial use TLS.
func WithTLS(cfg *tls.Config) Option {
	return func(o *Options) { o.TLSConfig = cfg }
}

// OnError is called with every ERROR frame from the server.  Default: ignored.
func OnError(fn func(stomp.Frame)) Option {
	return func(o *Options) { o.errorHandler = fn }
}

// OnClose is called exactly once when the connection closes.
func OnClose(fn func()) Option {
	return func(o *Options) { o.handlers.Close = fn }
}

// OnDropped is called when the connection is lost without DISCONNECT, for
// example on heart-beat timeout.  Default: nothing.
func OnDropped(fn func()) Option {
	return func(o *Options) { o.handlers.Dropped = fn }
}

// OnException receives transport and protocol errors.
func OnException(fn func(error)) Option {
	return func(o *Options) { o.handlers.Exception = fn }
}

// OnFrameReceived observes every frame received, heart-beats included.
func OnFrameReceived(fn func(stomp.Frame)) Option {
	return func(o *Options) { o.handlers.FrameReceived = fn }
}

// OnFrameWriting observes every frame once it is queued for writing.
func OnFrameWriting(fn func(stomp.Frame)) Option {
	return func(o *Options) { o.handlers.FrameWriting = fn }
}

// WithPingHandler replaces the heart-beat sender.  Default: write a heart-beat.
func WithPingHandler(fn func(*Conn)) Option {
	return func(o *Options) { o.pingHandler = fn }
}
