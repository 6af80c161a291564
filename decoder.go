package stomp

import (
	"bytes"
	"fmt"
	"strings"
)

// Limits bound the frames accepted by a Decoder and the frames a Peer queues
// for writing.  A zero field is unlimited.
type Limits struct {
	// MaxHeaderLength is the longest command or header line in bytes.
	MaxHeaderLength int

	// MaxHeaders is the largest number of headers in one frame.
	MaxHeaders int

	// MaxBodyLength is the largest body in bytes.
	MaxBodyLength int

	// MaxQueuedFrames is the most frames a Peer holds queued but not yet
	// written.  A Send beyond it fails with ErrSlowConsumer and aborts the peer.
	MaxQueuedFrames int
}

type decodeState int

const (
	stateCommand decodeState = iota
	stateHeaders
	stateBody
)

// Decoder is a streaming STOMP decoder.  Bytes are pushed in with Feed in chunks
// of any size; chunk boundaries need not align with frame boundaries.
//
// A newline found where a command is expected is returned as a Heartbeat frame.
//
// Decoder is not safe for concurrent use.
type Decoder struct {
	Limits Limits

	state   decodeState
	buf     []byte
	pos     int
	frame   Frame
	bodyLen int // -1 when the frame has no content-length
	err     error
}

// NewDecoder returns a Decoder enforcing limits.
func NewDecoder(limits Limits) *Decoder {
	return &Decoder{
		Limits: limits,
	}
}

// Feed appends p to the internal buffer and returns every frame it completes,
// in arrival order.
//
// Once Feed has returned an error the Decoder returns that error on every call;
// there is no resynchronization.
func (d *Decoder) Feed(p []byte) ([]Frame, error) {
	if d.err != nil {
		return nil, d.err
	}
	d.buf = append(d.buf, p...)
	var out []Frame
	for {
		frame, ok, err := d.next()
		if err != nil {
			d.err, d.buf, d.pos = err, nil, 0
			return out, err
		}
		if !ok {
			break
		}
		out = append(out, frame)
	}
	if d.pos > 0 {
		d.buf = append(d.buf[:0], d.buf[d.pos:]...)
		d.pos = 0
	}
	return out, nil
}

// Partial returns true if part of a frame has been buffered.
func (d *Decoder) Partial() bool {
	return d.state != stateCommand || len(d.buf) > d.pos
}

// Err returns the error that stopped the decoder, if any.
func (d *Decoder) Err() error {
	return d.err
}

// next decodes at most one frame from the buffer.  ok is false when more bytes
// are required.
func (d *Decoder) next() (Frame, bool, error) {
	for {
		switch d.state {
		case stateCommand:
			rest := d.buf[d.pos:]
			if len(rest) == 0 {
				return Frame{}, false, nil
			}
			if rest[0] == '\n' {
				d.pos++
				return Heartbeat, true, nil
			}
			if rest[0] == '\r' {
				if len(rest) == 1 {
					return Frame{}, false, nil
				} else if rest[1] == '\n' {
					d.pos += 2
					return Heartbeat, true, nil
				}
			}
			line, ok, err := d.line()
			if err != nil || !ok {
				return Frame{}, false, err
			}
			command := Command(line)
			if !command.Valid() {
				return Frame{}, false, fmt.Errorf("%w: unknown command: %q", ErrFrame, line)
			}
			d.frame = Frame{Command: command}
			d.bodyLen = -1
			d.state = stateHeaders

		case stateHeaders:
			line, ok, err := d.line()
			if err != nil || !ok {
				return Frame{}, false, err
			}
			if line == "" {
				n, ok, err := d.frame.ContentLength()
				if err != nil {
					return Frame{}, false, err
				} else if ok {
					d.bodyLen = n
				}
				if max := d.Limits.MaxBodyLength; max > 0 && d.bodyLen > max {
					return Frame{}, false, fmt.Errorf("%w: body of %v byte(s) exceeds %v", ErrFrame, d.bodyLen, max)
				}
				d.state = stateBody
				continue
			}
			colon := strings.IndexByte(line, ':')
			if colon == -1 {
				return Frame{}, false, fmt.Errorf("%w: header missing colon: %v", ErrFrame, line)
			}
			key, err := UnescapeHeader(line[:colon])
			if err != nil {
				return Frame{}, false, err
			}
			value, err := UnescapeHeader(line[colon+1:])
			if err != nil {
				return Frame{}, false, err
			}
			// STOMP protocol dictates when headers are repeated the first value wins.
			d.frame.Headers.Add(key, value)
			if max := d.Limits.MaxHeaders; max > 0 && len(d.frame.Headers) > max {
				return Frame{}, false, fmt.Errorf("%w: more than %v header(s)", ErrFrame, max)
			}

		case stateBody:
			rest := d.buf[d.pos:]
			var body []byte
			if d.bodyLen >= 0 {
				if len(rest) < d.bodyLen+1 {
					return Frame{}, false, nil
				}
				if rest[d.bodyLen] != 0x00 {
					return Frame{}, false, fmt.Errorf("%w: missing null byte after %v byte(s) of content", ErrFrame, d.bodyLen)
				}
				body = rest[:d.bodyLen]
				d.pos += d.bodyLen + 1
			} else {
				null := bytes.IndexByte(rest, 0x00)
				size := null
				if null == -1 {
					size = len(rest)
				}
				if max := d.Limits.MaxBodyLength; max > 0 && size > max {
					return Frame{}, false, fmt.Errorf("%w: body exceeds %v byte(s)", ErrFrame, max)
				}
				if null == -1 {
					return Frame{}, false, nil
				}
				body = rest[:null]
				d.pos += null + 1
			}
			frame := d.frame
			if len(body) > 0 {
				frame.Body = append([]byte(nil), body...)
			}
			d.frame = Frame{}
			d.state = stateCommand
			return frame, true, nil
		}
	}
}

// line consumes one newline terminated line and strips the line ending.
func (d *Decoder) line() (string, bool, error) {
	rest := d.buf[d.pos:]
	max := d.Limits.MaxHeaderLength
	newline := bytes.IndexByte(rest, '\n')
	if newline == -1 {
		if max > 0 && len(rest) > max+1 {
			return "", false, fmt.Errorf("%w: line exceeds %v byte(s)", ErrFrame, max)
		}
		return "", false, nil
	}
	line := rest[:newline]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	if max > 0 && len(line) > max {
		return "", false, fmt.Errorf("%w: line exceeds %v byte(s)", ErrFrame, max)
	}
	d.pos += newline + 1
	return string(line), true, nil
}

// Decode decodes exactly one frame from data.
func Decode(data []byte) (Frame, error) {
	d := NewDecoder(Limits{})
	frames, err := d.Feed(data)
	if err != nil {
		return Frame{}, err
	}
	for _, frame := range frames {
		if !frame.IsHeartbeat() {
			return frame, nil
		}
	}
	if len(frames) > 0 {
		return frames[0], nil
	}
	return Frame{}, fmt.Errorf("%w: incomplete frame", ErrFrame)
}
