package server

import (
	"time"

	"github.com/nofeaturesonlybugs/stomp/v2"
)

// Defaults used for zero fields of Options.
const (
	DefaultServerName               = "stomp/2"
	DefaultMaxSubscriptionsByClient = 1000
	DefaultMaxFramesInTransaction   = 1000
)

var (
	// DefaultVersions are the protocol versions supported by default, most preferred first.
	DefaultVersions = []string{"1.2", "1.1", "1.0"}

	// DefaultHeartbeat is the heart-beat pair a server advertises by default.
	DefaultHeartbeat = stomp.HeartbeatConfig{Out: time.Second, In: time.Second}

	// DefaultLimits are enforced on client frames and connection write queues
	// by default.
	DefaultLimits = stomp.Limits{
		MaxHeaderLength: 10 * 1024,
		MaxHeaders:      1000,
		MaxBodyLength:   10 * 1024 * 1024,
		MaxQueuedFrames: 1024,
	}
)

// Options configure the protocol behavior of a Server.  Zero fields take the
// documented defaults.
type Options struct {
	// ServerName is sent in the server header of CONNECTED.
	ServerName string

	// Versions are the supported protocol versions, most preferred first.  A
	// client's accept-version header is matched against them in this order.
	Versions []string

	// Heartbeat is the heart-beat pair advertised in CONNECTED.  Use
	// DisableHeartbeat to advertise 0,0.
	Heartbeat        stomp.HeartbeatConfig
	DisableHeartbeat bool

	// MaxSubscriptionsByClient caps a connection's subscriptions across every
	// destination.  Negative means no limit.
	MaxSubscriptionsByClient int

	// MaxFramesInTransaction caps the frames buffered in one transaction.
	// Negative means no limit.
	MaxFramesInTransaction int

	// TrailingLine appends a newline after every frame sent.
	TrailingLine bool

	// Limits are enforced on client frames and on the frames queued for each
	// connection; the zero value is DefaultLimits.  A connection whose queue
	// overflows is dropped.
	Limits stomp.Limits

	// Scheduler runs heart-beat timers; nil is stomp.TickerScheduler.
	Scheduler stomp.Scheduler

	// Clock is used for liveness tracking; nil is time.Now.
	Clock stomp.Clock

	// Authenticate checks the login and passcode of CONNECT.  nil accepts everyone.
	Authenticate func(login, passcode string) bool

	// FrameReceived and FrameWriting observe every frame of every connection.
	FrameReceived func(*Connection, stomp.Frame)
	FrameWriting  func(*Connection, stomp.Frame)
}

// withDefaults returns a copy of o with zero fields replaced by defaults.
func (o Options) withDefaults() Options {
	if o.ServerName == "" {
		o.ServerName = DefaultServerName
	}
	if len(o.Versions) == 0 {
		o.Versions = DefaultVersions
	}
	if o.DisableHeartbeat {
		o.Heartbeat = stomp.HeartbeatConfig{}
	} else if o.Heartbeat == (stomp.HeartbeatConfig{}) {
		o.Heartbeat = DefaultHeartbeat
	}
	if o.MaxSubscriptionsByClient == 0 {
		o.MaxSubscriptionsByClient = DefaultMaxSubscriptionsByClient
	}
	if o.MaxFramesInTransaction == 0 {
		o.MaxFramesInTransaction = DefaultMaxFramesInTransaction
	}
	if o.Limits == (stomp.Limits{}) {
		o.Limits = DefaultLimits
	}
	return o
}
