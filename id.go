package stomp

import (
	"crypto/rand"
	"fmt"

	"github.com/google/uuid"
)

// SessionID generates and returns a session SessionID.
func SessionID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%x", b)
}

// ReceiptID generates a receipt id for frames sent with a receipt callback.
func ReceiptID() string {
	return uuid.NewString()
}

// MessageID generates a message-id for MESSAGE frames.
func MessageID() string {
	return uuid.NewString()
}
