package stomp

const (
	HeaderAcceptVersion = "accept-version"
	HeaderAck           = "ack"
	HeaderContentLength = "content-length"
	HeaderContentType   = "content-type"
	HeaderDestination   = "destination"
	HeaderHeartBeat     = "heart-beat"
	HeaderHost          = "host"
	HeaderID            = "id"
	HeaderLogin         = "login"
	HeaderMessage       = "message"
	HeaderMessageID     = "message-id"
	HeaderPasscode      = "passcode"
	HeaderReceipt       = "receipt"
	HeaderReceiptID     = "receipt-id"
	HeaderReplyTo       = "reply-to"
	HeaderServer        = "server"
	HeaderSession       = "session"
	HeaderSubscription  = "subscription"
	HeaderTransaction   = "transaction"
	HeaderVersion       = "version"
)

// Header is a single frame header.
type Header struct {
	Key   string
	Value string
}

// Headers are the frame headers in the order they appear on the wire.
//
// Keys are unique within a well formed Headers value; Set replaces and Add
// keeps the first value, which is the STOMP rule for repeated headers.
type Headers []Header

// Get returns the value for key or an empty string.
func (h Headers) Get(key string) string {
	v, _ := h.Lookup(key)
	return v
}

// Lookup returns the value for key and whether it was present.
func (h Headers) Lookup(key string) (string, bool) {
	for _, header := range h {
		if header.Key == key {
			return header.Value, true
		}
	}
	return "", false
}

// Contains returns true if key is present.
func (h Headers) Contains(key string) bool {
	_, ok := h.Lookup(key)
	return ok
}

// Set replaces the value of key or appends it if key is not present.
func (h *Headers) Set(key, value string) {
	for n := range *h {
		if (*h)[n].Key == key {
			(*h)[n].Value = value
			return
		}
	}
	*h = append(*h, Header{Key: key, Value: value})
}

// Add appends key only if it is not already present and reports whether it did.
func (h *Headers) Add(key, value string) bool {
	if h.Contains(key) {
		return false
	}
	*h = append(*h, Header{Key: key, Value: value})
	return true
}

// Del removes key.
func (h *Headers) Del(key string) {
	out := (*h)[:0]
	for _, header := range *h {
		if header.Key != key {
			out = append(out, header)
		}
	}
	*h = out
}

// Clone returns a copy of h that can be modified independently.
func (h Headers) Clone() Headers {
	if h == nil {
		return nil
	}
	out := make(Headers, len(h))
	copy(out, h)
	return out
}

// Keys returns the header keys in wire order.
func (h Headers) Keys() []string {
	var keys []string
	if n := len(h); n > 0 {
		keys = make([]string, 0, n)
		for _, header := range h {
			keys = append(keys, header.Key)
		}
	}
	return keys
}
