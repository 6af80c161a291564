package stomp

import (
	"fmt"
	"strings"
)

var headerEscaper = strings.NewReplacer(
	"\\", "\\\\",
	"\r", "\\r",
	"\n", "\\n",
	":", "\\c",
)

// EscapeHeader escapes s for use as a header key or value.
func EscapeHeader(s string) string {
	if !strings.ContainsAny(s, "\\\r\n:") {
		return s
	}
	return headerEscaper.Replace(s)
}

// UnescapeHeader reverses EscapeHeader.  An undefined escape sequence is ErrFrame.
func UnescapeHeader(s string) (string, error) {
	if strings.IndexByte(s, '\\') == -1 {
		return s, nil
	}
	var b strings.Builder
	b.Grow(len(s))
	for n := 0; n < len(s); n++ {
		c := s[n]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		if n++; n == len(s) {
			return "", fmt.Errorf("%w: dangling escape in header: %q", ErrFrame, s)
		}
		switch s[n] {
		case '\\':
			b.WriteByte('\\')
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		case 'c':
			b.WriteByte(':')
		default:
			return "", fmt.Errorf("%w: undefined escape \\%c in header: %q", ErrFrame, s[n], s)
		}
	}
	return b.String(), nil
}
