package stomp

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// Signal is the element type of channels that are only ever closed.
type Signal struct{}

// PeerSignals allows notification of a Peer's lifecycle after Start.
type PeerSignals struct {
	// AwaitReader is closed when the goroutine reading from R is fully stopped
	// and OnClose has returned.
	AwaitReader <-chan Signal

	// AwaitWriter is closed when the goroutine writing to W is fully stopped.
	AwaitWriter <-chan Signal

	// AwaitClosed is closed when all goroutines have stopped and R and W are closed.
	AwaitClosed <-chan Signal

	// internal handles are necessary so peer can close() them.
	awaitReader chan Signal
	awaitWriter chan Signal
	awaitClosed chan Signal
}

// newPeerSignals creates the peer signals type.
func newPeerSignals() PeerSignals {
	awaitReader := make(chan Signal)
	awaitWriter := make(chan Signal)
	awaitClosed := make(chan Signal)
	return PeerSignals{
		AwaitReader: awaitReader,
		AwaitWriter: awaitWriter,
		AwaitClosed: awaitClosed,
		// internal handles
		awaitReader: awaitReader,
		awaitWriter: awaitWriter,
		awaitClosed: awaitClosed,
	}
}

// Pipe creates a pair of peers whose R and W are linked by memory pipes.
func Pipe() (*Peer, *Peer) {
	ar, bw := io.Pipe()
	br, aw := io.Pipe()
	a := &Peer{
		R: ar,
		W: aw,
		pipe: pipePeer{
			w: bw,
		},
	}
	b := &Peer{
		R: br,
		W: bw,
		pipe: pipePeer{
			w: aw,
		},
	}
	return a, b
}

// pipePeer contains the remote writer when peers are created with a call to Pipe.
//
//	Peer.R ↔ pipePeer.w  R blocks indefinitely on R.Read(); close pipePeer.w to wake Peer.R.
type pipePeer struct {
	w *io.PipeWriter
}

// Peer is the transport of a STOMP connection.
//
// There are two ways to use a Peer.
//
// The first method is to read from and write to R and W directly.  When used in
// this manner you are responsible for constructing and parsing frames.
//
// The other way is to set the callbacks and call Start, which launches a reader
// goroutine that decodes frames from R and a writer goroutine that drains frames
// queued with Send into W.  Send never blocks on I/O and every frame reaches W in
// a single Write so concurrent senders never interleave bytes.
type Peer struct {
	// R and W are the reader and writer connected to the remote endpoint.
	R io.Reader
	W io.Writer

	// Limits are enforced on decoded frames.
	Limits Limits

	// TrailingLine appends a newline after the NUL byte of every frame sent.
	TrailingLine bool

	// OnFrame is called on the reader goroutine for every decoded frame,
	// heart-beats included, in arrival order.
	OnFrame func(Frame)

	// OnActivity is called on the reader goroutine whenever bytes arrive.
	OnActivity func()

	// OnClose is called once when the reader stops.  err is nil when the reader
	// stopped because of Stop or Abort, ErrSlowConsumer when the write queue
	// overflowed, io.EOF when the remote end closed cleanly between frames, and
	// otherwise the read, write, or parse error.
	OnClose func(err error)

	// Signals allow notification of the peer's lifecycle after calling Start.
	Signals PeerSignals

	pipe pipePeer // populated when Peer is created by calling Pipe function.

	mu       sync.Mutex
	queue    [][]byte
	wake     chan Signal
	stopping bool
	aborted  bool
	abortErr error
	writeErr error
}

// Close closes both R and W by attempting to convert them to io.Closer.  If
// R and W are the same instance then its close method is called only once.
//
// Close should only be called if you are using R and W directly and did not
// make a call to Start.
func (peer *Peer) Close() error {
	var rc, wc io.Closer
	var ok bool
	var err error
	//
	// When R+W are created from io.Pipe our R can block indefinitely until remote W is closed.
	if peer.pipe.w != nil {
		_ = peer.pipe.w.CloseWithError(io.EOF) // docs say always returns nil
	}
	if rc, ok = peer.R.(io.Closer); ok {
		if e := rc.Close(); e != nil {
			err = fmt.Errorf("%w: closing reader", e)
		}
	}
	if wc, ok = peer.W.(io.Closer); ok && wc != rc {
		if e := wc.Close(); e != nil && err == nil {
			err = fmt.Errorf("%w: closing writer", e)
		}
	}
	//
	return err
}

// EqualRW returns true if R and W are one and the same instance.
func (peer *Peer) EqualRW() bool {
	if peer.R == nil || peer.W == nil {
		return false
	}
	r, ok := peer.W.(io.Reader)
	return ok && peer.R == r
}

// Start begins concurrent handling of the Peer.
//
// The goroutines created by Start assume exclusive access to the R and W fields.
//
// The wait group is optional.
func (peer *Peer) Start(wg *sync.WaitGroup) {
	if wg == nil {
		wg = &sync.WaitGroup{}
	}
	peer.Signals = newPeerSignals()
	peer.mu.Lock()
	if peer.wake == nil {
		peer.wake = make(chan Signal, 1)
	}
	peer.mu.Unlock()
	//
	wg.Add(3)
	go func() {
		defer wg.Done()
		err := peer.reader()
		peer.mu.Lock()
		stopping, writeErr, abortErr := peer.stopping, peer.writeErr, peer.abortErr
		peer.mu.Unlock()
		switch {
		case writeErr != nil:
			err = writeErr
		case abortErr != nil:
			err = abortErr
		case stopping:
			err = nil
		}
		if peer.OnClose != nil {
			peer.OnClose(err)
		}
		peer.Stop()
		close(peer.Signals.awaitReader)
	}()
	go func() {
		defer wg.Done()
		err := peer.writer()
		peer.mu.Lock()
		aborted := peer.aborted
		peer.mu.Unlock()
		// When R+W are created as pipes the writer gets io.ErrClosedPipe if the
		// other end closed our writer as part of its own shutdown.  After Abort
		// the write error is the result of closing W underneath the writer.
		if aborted || (peer.pipe.w != nil && errors.Is(err, io.ErrClosedPipe)) {
			peer.mu.Lock()
			peer.stopping, peer.queue = true, nil
			peer.mu.Unlock()
		} else if err != nil {
			peer.mu.Lock()
			peer.writeErr = fmt.Errorf("stomp: peer writer: %w", err)
			peer.stopping = true
			peer.queue = nil
			peer.mu.Unlock()
		}
		_ = peer.Close() // wakes the reader
		close(peer.Signals.awaitWriter)
	}()
	go func() {
		defer wg.Done()
		<-peer.Signals.AwaitReader
		<-peer.Signals.AwaitWriter
		close(peer.Signals.awaitClosed)
	}()
}

// Send queues frame for writing.  It returns ErrClosed once Stop or Abort has
// been called.  When Limits.MaxQueuedFrames frames are already queued the peer
// is aborted and Send returns ErrSlowConsumer.
func (peer *Peer) Send(frame Frame) error {
	data := frame.Encode(peer.TrailingLine)
	peer.mu.Lock()
	if peer.stopping {
		peer.mu.Unlock()
		return ErrClosed
	}
	if max := peer.Limits.MaxQueuedFrames; max > 0 && len(peer.queue) >= max {
		peer.mu.Unlock()
		err := fmt.Errorf("%w: %v frame(s) queued", ErrSlowConsumer, max)
		peer.abort(err)
		return err
	}
	if peer.wake == nil {
		peer.wake = make(chan Signal, 1)
	}
	peer.queue = append(peer.queue, data)
	wake := peer.wake
	peer.mu.Unlock()
	select {
	case wake <- Signal{}:
	default:
	}
	return nil
}

// Stop stops accepting frames; frames already queued are written and then R and
// W are closed.  Stop does not wait and may be called from any goroutine,
// including OnFrame and OnClose.  Calling Stop more than once is a no-op.
func (peer *Peer) Stop() {
	peer.mu.Lock()
	if peer.stopping {
		peer.mu.Unlock()
		return
	}
	peer.stopping = true
	if peer.wake == nil {
		peer.wake = make(chan Signal, 1)
	}
	wake := peer.wake
	peer.mu.Unlock()
	select {
	case wake <- Signal{}:
	default:
	}
}

// Abort stops accepting frames, discards the queue, and closes R and W at once
// so a reader or writer blocked on a dead transport returns.  Abort does not
// wait and may be called from any goroutine, including OnFrame and OnClose.
func (peer *Peer) Abort() {
	peer.abort(nil)
}

func (peer *Peer) abort(err error) {
	peer.mu.Lock()
	if peer.aborted {
		peer.mu.Unlock()
		return
	}
	peer.aborted, peer.stopping, peer.queue = true, true, nil
	if peer.abortErr == nil {
		peer.abortErr = err
	}
	if peer.wake == nil {
		peer.wake = make(chan Signal, 1)
	}
	wake := peer.wake
	peer.mu.Unlock()
	select {
	case wake <- Signal{}:
	default:
	}
	_ = peer.Close()
}

// Shutdown calls Stop and waits for all goroutines to end.  It returns the write
// error that ended the writer, if any.  Shutdown must not be called from
// OnFrame or OnClose.
func (peer *Peer) Shutdown() error {
	peer.Stop()
	<-peer.Signals.AwaitClosed
	peer.mu.Lock()
	defer peer.mu.Unlock()
	return peer.writeErr
}

// reader decodes frames from R until an error occurs.
func (peer *Peer) reader() error {
	var r io.Reader = peer.R
	if peer.OnActivity != nil {
		r = activityReader{r: peer.R, fn: peer.OnActivity}
	}
	parser := NewParserLimits(r, peer.Limits)
	for parser.Next() {
		frame, err := parser.Frame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.EOF
			}
			return err
		}
		if peer.OnFrame != nil {
			peer.OnFrame(frame)
		}
	}
	return nil
}

// writer drains the queue into W until Stop is called and the queue is empty.
func (peer *Peer) writer() error {
	for range peer.wake {
		peer.mu.Lock()
		queue, stopping := peer.queue, peer.stopping
		peer.queue = nil
		peer.mu.Unlock()
		for _, data := range queue {
			peer.mu.Lock()
			aborted := peer.aborted
			peer.mu.Unlock()
			if aborted {
				return nil
			}
			if _, err := peer.W.Write(data); err != nil {
				return err
			}
		}
		if stopping {
			peer.mu.Lock()
			empty := len(peer.queue) == 0
			peer.mu.Unlock()
			if empty {
				return nil
			}
		}
	}
	return nil
}

// activityReader calls fn after every read that returns data.
type activityReader struct {
	r  io.Reader
	fn func()
}

func (a activityReader) Read(p []byte) (int, error) {
	n, err := a.r.Read(p)
	if n > 0 {
		a.fn()
	}
	return n, err
}
