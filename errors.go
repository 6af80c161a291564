package stomp

import (
	"errors"
	"fmt"
)

var (
	// ErrAccessDenied occurs when a destination refuses a subscription or a message.
	ErrAccessDenied = errors.New("stomp: access denied")

	// ErrClosed occurs when an operation is attempted on a closed connection.
	ErrClosed = errors.New("stomp: connection closed")

	// ErrDuplicateSubscription occurs when a connection reuses an active subscription id.
	ErrDuplicateSubscription = errors.New("stomp: duplicate subscription")

	// ErrFrame occurs when the reader returns any error during parsing of a STOMP frame.
	ErrFrame = errors.New("stomp: invalid frame")

	// ErrHeartbeatTimeout occurs when the peer has been silent for more than twice
	// the negotiated incoming heart-beat period.
	ErrHeartbeatTimeout = errors.New("stomp: heart-beat timeout")

	// ErrMissingHeader occurs when a frame is missing a required header.
	ErrMissingHeader = errors.New("stomp: missing required header")

	// ErrNoSuchSubscription occurs when unsubscribing from an id that is not active.
	ErrNoSuchSubscription = errors.New("stomp: no such subscription")

	// ErrNotConnected occurs when an operation requires a completed handshake.
	ErrNotConnected = errors.New("stomp: not connected")

	// ErrProtocolViolation occurs when a peer sends a frame that is not allowed in
	// the current connection state.
	ErrProtocolViolation = errors.New("stomp: protocol violation")

	// ErrSlowConsumer occurs when a peer's write queue is full because the remote
	// end is not reading.  The peer is aborted.
	ErrSlowConsumer = errors.New("stomp: slow consumer")

	// ErrSubscriptionLimit occurs when a connection exceeds its subscription limit.
	ErrSubscriptionLimit = errors.New("stomp: too many subscriptions")

	// ErrUnmatchedReceipt occurs when a RECEIPT arrives for a receipt id that is
	// not pending.  It is fatal to the connection.
	ErrUnmatchedReceipt = errors.New("stomp: unmatched receipt")

	// ErrUnsupportedVersion occurs when client and server share no protocol version.
	ErrUnsupportedVersion = errors.New("stomp: unsupported protocol version")
)

func errInvalidContentLength(value string) error {
	return fmt.Errorf("%w: invalid %v: %q", ErrFrame, HeaderContentLength, value)
}
