package stomp

import (
	"bytes"
	"io"
	"strconv"
)

// Frame is a STOMP frame.
type Frame struct {
	Command Command
	Headers Headers
	Body    []byte
}

// Heartbeat is the frame sent and received as a heart-beat.
var Heartbeat = Frame{Command: CommandHeartbeat}

// Empty returns true if the frame is empty.  An empty frame has no command,
// no headers, and a zero-length body.
func (f Frame) Empty() bool {
	return f.Command == "" && len(f.Headers) == 0 && len(f.Body) == 0
}

// IsHeartbeat returns true if the frame is a heart-beat.
func (f Frame) IsHeartbeat() bool {
	return f.Command == CommandHeartbeat
}

// Header is shorthand for f.Headers.Get(key).
func (f Frame) Header(key string) string {
	return f.Headers.Get(key)
}

// ContentLength returns the parsed content-length header.
//
// ok is false when the header is absent; err is non-nil when it is present
// but not a non-negative integer.
func (f Frame) ContentLength() (n int, ok bool, err error) {
	h, ok := f.Headers.Lookup(HeaderContentLength)
	if !ok {
		return 0, false, nil
	}
	if n, err = strconv.Atoi(h); err != nil || n < 0 {
		return 0, true, errInvalidContentLength(h)
	}
	return n, true, nil
}

// Clone returns a deep copy of f.
func (f Frame) Clone() Frame {
	out := Frame{
		Command: f.Command,
		Headers: f.Headers.Clone(),
	}
	if f.Body != nil {
		out.Body = append([]byte(nil), f.Body...)
	}
	return out
}

// String returns the STOMP frame as a string.
func (f Frame) String() string {
	return string(f.Encode(false))
}

// Encode returns the wire representation of f.  trailingLine appends a newline
// after the NUL terminator.
//
// A heart-beat frame encodes as a single newline.
func (f Frame) Encode(trailingLine bool) []byte {
	if f.IsHeartbeat() {
		return []byte{'\n'}
	}
	var buf bytes.Buffer
	buf.Grow(len(f.Command) + len(f.Body) + 32*len(f.Headers) + 4)
	buf.WriteString(string(f.Command))
	buf.WriteByte('\n')
	for _, header := range f.Headers {
		buf.WriteString(EscapeHeader(header.Key))
		buf.WriteByte(':')
		buf.WriteString(EscapeHeader(header.Value))
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	buf.Write(f.Body)
	buf.WriteByte(0x00)
	if trailingLine {
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// WriteTo writes the encoded frame to w in a single call to w.Write.
// The return value n is the number of bytes written.
func (f Frame) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(f.Encode(false))
	return int64(n), err
}
