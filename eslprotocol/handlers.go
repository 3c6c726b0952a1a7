package eslprotocol

import (
	"fmt"
	"reflect"
	"sync"
)

// KeyKind discriminates the dispatch keys a handler can be registered under.
type KeyKind int

const (
	// KeyEventName selects events by Event-Name (or Event-Subclass for CUSTOM).
	KeyEventName KeyKind = iota
	// KeyWildcard receives events no specific handler claimed.
	KeyWildcard
	// KeyDisconnect receives disconnect notices.
	KeyDisconnect
	// KeyLog receives log/data frames no specific handler claimed.
	KeyLog
)

// Textual forms of the synthetic keys accepted by ParseKey.
const (
	WildcardKeyName   = "*"
	DisconnectKeyName = "DISCONNECT"
	LogKeyName        = "log"
)

// Key is a dispatch bucket in the handler registry.
type Key struct {
	Kind KeyKind
	Name string
}

// Synthetic keys.
var (
	Wildcard   = Key{Kind: KeyWildcard}
	Disconnect = Key{Kind: KeyDisconnect}
	Log        = Key{Kind: KeyLog}
)

// EventKey returns the key for a literal event name or CUSTOM subclass.
func EventKey(name string) Key {
	return Key{Kind: KeyEventName, Name: name}
}

// ParseKey maps "*", "DISCONNECT" and "log" to the synthetic keys and any
// other string to an event-name key.
func ParseKey(s string) Key {
	switch s {
	case WildcardKeyName:
		return Wildcard
	case DisconnectKeyName:
		return Disconnect
	case LogKeyName:
		return Log
	default:
		return EventKey(s)
	}
}

// ParseKeys applies ParseKey to every name.
func ParseKeys(names ...string) []Key {
	keys := make([]Key, len(names))
	for i, n := range names {
		keys[i] = ParseKey(n)
	}
	return keys
}

// String returns the textual form of the key.
func (k Key) String() string {
	switch k.Kind {
	case KeyWildcard:
		return WildcardKeyName
	case KeyDisconnect:
		return DisconnectKeyName
	case KeyLog:
		return LogKeyName
	default:
		return k.Name
	}
}

// Handler consumes dispatched events. A returned error is logged by the
// dispatcher and otherwise ignored.
//
// Handlers are deduplicated by equality, so the dynamic type of a Handler
// must be comparable; use HandlerFunc to wrap a plain function.
type Handler interface {
	HandleEvent(ev *Event) error
}

type funcHandler struct {
	name string
	fn   func(ev *Event) error
}

func (h *funcHandler) HandleEvent(ev *Event) error { return h.fn(ev) }

func (h *funcHandler) String() string { return h.name }

// HandlerFunc wraps fn as a named Handler. Each call returns a distinct
// handler; keep the returned value to unregister it later.
func HandlerFunc(name string, fn func(ev *Event) error) Handler {
	return &funcHandler{name: name, fn: fn}
}

// handlerName returns a printable name for logging.
func handlerName(h Handler) string {
	if s, ok := h.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", h)
}

// sameHandler compares handlers without panicking on non-comparable types.
func sameHandler(a, b Handler) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if !ta.Comparable() {
		return false
	}
	return a == b
}

// Registry maps dispatch keys to ordered, duplicate-free handler lists. It is
// safe for concurrent use; lookups return a snapshot.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Key][]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Key][]Handler)}
}

// Register adds h under every key. Registering the same handler twice under
// the same key is a no-op.
func (r *Registry) Register(keys []Key, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, k := range keys {
		list := r.handlers[k]
		if containsHandler(list, h) {
			continue
		}
		r.handlers[k] = append(list, h)
	}
}

// Unregister removes h from key. It fails when key has no handlers or h is
// not among them.
func (r *Registry) Unregister(key Key, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	list, ok := r.handlers[key]
	if !ok {
		return fmt.Errorf("%w for event: %s", ErrNoHandlers, key)
	}

	idx := -1
	for i, existing := range list {
		if sameHandler(existing, h) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("handler %s is not registered for event: %s", handlerName(h), key)
	}

	next := make([]Handler, 0, len(list)-1)
	next = append(next, list[:idx]...)
	next = append(next, list[idx+1:]...)
	if len(next) == 0 {
		delete(r.handlers, key)
	} else {
		r.handlers[key] = next
	}
	return nil
}

// Lookup returns a copy of the handlers registered under key.
func (r *Registry) Lookup(key Key) []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.handlers[key]
	if len(list) == 0 {
		return nil
	}
	out := make([]Handler, len(list))
	copy(out, list)
	return out
}

// Has reports whether any handler is registered under key.
func (r *Registry) Has(key Key) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[key]) > 0
}

// Select picks the handlers for ev, first match wins:
//
//  1. CUSTOM events look up their Event-Subclass, others their Event-Name.
//  2. Disconnect notices always use the Disconnect bucket.
//  3. log/data frames with no handler fall back to the Log bucket.
//  4. Anything still unhandled falls back to the Wildcard bucket.
//
// A nil result means the event is dropped.
func (r *Registry) Select(ev *Event) []Handler {
	var handlers []Handler
	if ev.Name() == EventNameCustom {
		handlers = r.Lookup(EventKey(ev.Subclass()))
	} else {
		handlers = r.Lookup(EventKey(ev.Name()))
	}

	contentType := ev.ContentType()
	if contentType == ContentTypeDisconnectNotice {
		handlers = r.Lookup(Disconnect)
	}

	if len(handlers) == 0 && contentType == ContentTypeLogData {
		handlers = r.Lookup(Log)
	}

	if len(handlers) == 0 {
		handlers = r.Lookup(Wildcard)
	}

	return handlers
}

func containsHandler(list []Handler, h Handler) bool {
	for _, existing := range list {
		if sameHandler(existing, h) {
			return true
		}
	}
	return false
}
