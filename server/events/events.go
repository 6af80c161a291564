// Package events is a collection of events emitted by the STOMP server.
package events

type ClientConnect struct {
	SessionID string
}

// ClientDisconnect is emitted when a connected client's connection closes.
type ClientDisconnect struct {
	SessionID string
}

// ConnectionDropped is emitted when a connection is lost without an orderly
// disconnect, either from heart-beat timeout or transport loss.
type ConnectionDropped struct {
	SessionID string
}

type ServerStop struct{}

type SubscriptionStart struct {
	Destination string
}

type SubscriptionStop struct {
	Destination string
}

// SubscriptionRejected is emitted when a SUBSCRIBE is refused.
type SubscriptionRejected struct {
	SessionID   string
	Destination string
	ID          string
	Reason      string
}
