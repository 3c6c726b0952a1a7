package eslprotocol

import (
	"strconv"
	"strings"
)

// Event is one frame received from the server: an ordered header mapping plus
// an optional body. Events are created by the frame reader and then handed,
// without further mutation, to exactly one consumer (a pending command or the
// dispatcher).
type Event struct {
	headers map[string]string
	keys    []string

	// Body holds the Content-Length payload for body-bearing frames. For
	// command/reply frames it holds the Reply-Text value.
	Body []byte
}

// NewEvent creates an empty event.
func NewEvent() *Event {
	return &Event{headers: make(map[string]string)}
}

// ParseEvent builds an event from a raw header block.
func ParseEvent(data string) *Event {
	ev := NewEvent()
	ev.parseHeaders(data)
	return ev
}

// Set stores a header. A key keeps the position of its first insertion.
func (e *Event) Set(key, value string) {
	if e.headers == nil {
		e.headers = make(map[string]string)
	}
	if _, ok := e.headers[key]; !ok {
		e.keys = append(e.keys, key)
	}
	e.headers[key] = value
}

// Get returns the header value, or "" when absent.
func (e *Event) Get(key string) string {
	return e.headers[key]
}

// Header returns the header value and whether it was present.
func (e *Event) Header(key string) (string, bool) {
	v, ok := e.headers[key]
	return v, ok
}

// Keys returns the header keys in arrival order.
func (e *Event) Keys() []string {
	out := make([]string, len(e.keys))
	copy(out, e.keys)
	return out
}

// Headers returns a copy of the header mapping.
func (e *Event) Headers() map[string]string {
	out := make(map[string]string, len(e.headers))
	for k, v := range e.headers {
		out[k] = v
	}
	return out
}

// Len returns the number of headers.
func (e *Event) Len() int {
	return len(e.keys)
}

// Name returns the Event-Name header.
func (e *Event) Name() string { return e.Get(HeaderEventName) }

// Subclass returns the Event-Subclass header.
func (e *Event) Subclass() string { return e.Get(HeaderEventSubclass) }

// ContentType returns the Content-Type header.
func (e *Event) ContentType() string { return e.Get(HeaderContentType) }

// ReplyText returns the Reply-Text header.
func (e *Event) ReplyText() string { return e.Get(HeaderReplyText) }

// ContentLength returns the declared body length. ok is false when the header
// is absent or not a non-negative integer.
func (e *Event) ContentLength() (n int, ok bool) {
	v, present := e.headers[HeaderContentLength]
	if !present {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// BodyText returns the body as a string.
func (e *Event) BodyText() string {
	return string(e.Body)
}

// result is the text that carries +OK/-ERR for this frame: the Reply-Text of
// a command reply, the body of anything else.
func (e *Event) result() string {
	if rt, ok := e.headers[HeaderReplyText]; ok {
		return rt
	}
	return strings.TrimSpace(e.BodyText())
}

// IsOK reports whether the reply (or API body) starts with +OK.
func (e *Event) IsOK() bool {
	return strings.HasPrefix(e.result(), ReplyOKPrefix)
}

// Err returns a *CommandError when the reply (or API body) starts with -ERR.
func (e *Event) Err(command string) error {
	r := e.result()
	if strings.HasPrefix(r, ReplyErrPrefix) {
		return &CommandError{Command: command, Reply: strings.TrimSpace(strings.TrimPrefix(r, ReplyErrPrefix))}
	}
	return nil
}

// String renders the event the way it looked on the wire (headers unescaped).
func (e *Event) String() string {
	var b strings.Builder
	for _, k := range e.keys {
		b.WriteString(k)
		b.WriteString(HeaderDelimiter)
		b.WriteString(e.headers[k])
		b.WriteString(EOL)
	}
	if len(e.Body) > 0 {
		b.WriteString(EOL)
		b.Write(e.Body)
	}
	return b.String()
}

// parseHeaders decodes a header block into e. The block is percent-decoded as
// a whole, then split into lines; "Key: value" lines start a header and any
// other line continues the previous header's value.
func (e *Event) parseHeaders(data string) {
	data = unescape(data)
	data = strings.TrimSpace(strings.ReplaceAll(data, "\r\n", "\n"))
	if data == "" {
		return
	}

	var lastKey, value string
	for _, line := range strings.Split(data, "\n") {
		if i := strings.Index(line, HeaderDelimiter); i >= 0 {
			lastKey = strings.TrimSpace(line[:i])
			value = line[i+len(HeaderDelimiter):]
		} else {
			if lastKey == "" {
				continue
			}
			value += "\n" + line
		}
		e.Set(lastKey, strings.TrimSpace(value))
	}
}

// unescape percent-decodes s. Malformed escapes are copied through unchanged.
func unescape(s string) string {
	if strings.IndexByte(s, '%') < 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
			b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
			i += 2
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
