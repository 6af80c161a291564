package stomp

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
)

// Parser accepts a reader and parses STOMP frames.
//
// Parser is a pull style wrapper around Decoder; bytes are read from the reader
// in whatever chunks it returns and frames are handed out one at a time.
type Parser struct {
	// r is the io.Reader providing data to the Parser.
	r io.Reader

	// buf is the read buffer.
	buf []byte

	// d decodes bytes read from r.
	d *Decoder

	// frames decoded but not yet returned by Frame.
	frames []Frame

	// err is our parsing error.
	err error
}

// NewParser returns a new STOMP Parser.
func NewParser(r io.Reader) *Parser {
	return NewParserLimits(r, Limits{})
}

// NewParserLimits returns a new STOMP Parser that enforces limits.
func NewParserLimits(r io.Reader, limits Limits) *Parser {
	return &Parser{
		r:   r,
		buf: make([]byte, 4096),
		d:   NewDecoder(limits),
	}
}

// Next returns true if parsing can continue.
//
// Next always returns false once Frame has returned an error.
func (p *Parser) Next() bool {
	return p.err == nil
}

// Frame returns the next Frame or an error.  Heart-beats are returned as frames
// for which IsHeartbeat is true.
//
// If the error is io.EOF then the reader ended cleanly between STOMP frames.
func (p *Parser) Frame() (Frame, error) {
	for len(p.frames) == 0 {
		if p.err != nil {
			return Frame{}, p.err
		}
		n, err := p.r.Read(p.buf)
		if n > 0 {
			frames, derr := p.d.Feed(p.buf[:n])
			p.frames = append(p.frames, frames...)
			if derr != nil {
				p.err = derr
				continue
			}
		}
		if err != nil {
			p.err = p.readError(err)
		}
	}
	frame := p.frames[0]
	p.frames[0] = Frame{}
	p.frames = p.frames[1:]
	return frame, nil
}

// ReadError is returned by Parser when the reader fails while a frame is
// partially read, or fails with an error that is not a clean end of stream.  It
// matches ErrFrame with errors.Is but, unlike other ErrFrame errors, describes
// loss of the transport rather than malformed input.
type ReadError struct {
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("%v: reading frame: %v", ErrFrame, e.Err)
}

// Unwrap returns ErrFrame.  The reader's error is available in Err; it is not
// unwrapped so a partial frame followed by io.EOF is not mistaken for a clean
// end of stream.
func (e *ReadError) Unwrap() error {
	return ErrFrame
}

// readError converts an error from the reader into the parser's error.
func (p *Parser) readError(err error) error {
	// Certain errors represent a clean break between frames if nothing is
	// buffered.  All such errors are coalesced to io.EOF to ease error
	// checking when using the parser.
	asEOF := errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrDeadlineExceeded)
	if asEOF && !p.d.Partial() {
		return io.EOF
	}
	return &ReadError{Err: err}
}
