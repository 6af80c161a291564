package stomp

import (
	"context"
	"sync"
)

// ReceiptFunc is called with the RECEIPT frame answering a frame sent with a
// receipt request.
type ReceiptFunc func(receipt Frame)

// ReceiptResult is the outcome of a receipt request.
type ReceiptResult int

const (
	// ReceiptPending means neither a RECEIPT nor a close has happened yet.
	ReceiptPending ReceiptResult = iota

	// ReceiptCompleted means the matching RECEIPT frame arrived.
	ReceiptCompleted

	// ReceiptConnectionClosed means the connection closed before the RECEIPT
	// arrived.  The ReceiptFunc for such a request is never called.
	ReceiptConnectionClosed
)

func (r ReceiptResult) String() string {
	switch r {
	case ReceiptCompleted:
		return "completed"
	case ReceiptConnectionClosed:
		return "connection-closed"
	}
	return "pending"
}

// Receipt tracks a single receipt request.
type Receipt struct {
	// ID is the value of the receipt header sent to the peer.
	ID string

	once   sync.Once
	done   chan Signal
	mu     sync.Mutex
	result ReceiptResult
	frame  Frame
}

func newReceipt(id string) *Receipt {
	return &Receipt{
		ID:   id,
		done: make(chan Signal),
	}
}

// Done is closed when the receipt is resolved.
func (r *Receipt) Done() <-chan Signal {
	return r.done
}

// Result returns the current outcome.
func (r *Receipt) Result() ReceiptResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// Frame returns the RECEIPT frame once the result is ReceiptCompleted.
func (r *Receipt) Frame() Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frame
}

// Wait blocks until the receipt resolves or ctx is done.  It returns ErrClosed if
// the connection closed first.
func (r *Receipt) Wait(ctx context.Context) (Frame, error) {
	select {
	case <-r.done:
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
	if r.Result() == ReceiptConnectionClosed {
		return Frame{}, ErrClosed
	}
	return r.Frame(), nil
}

func (r *Receipt) resolve(result ReceiptResult, frame Frame) {
	r.once.Do(func() {
		r.mu.Lock()
		r.result, r.frame = result, frame
		r.mu.Unlock()
		close(r.done)
	})
}
