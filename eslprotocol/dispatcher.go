package eslprotocol

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
)

// Dispatcher drains a queue of non-reply events and runs the handlers the
// registry selects for each one.
type Dispatcher struct {
	registry *Registry
	logger   *slog.Logger

	// Before and After, when set, bracket every dispatched event. Failures
	// are isolated the same way handler failures are.
	Before Handler
	After  Handler

	pollInterval time.Duration
	capacity     int

	mu     sync.Mutex
	events *queue.Queue
	wake   chan struct{}

	dispatching atomic.Bool
}

// NewDispatcher creates a dispatcher over registry. capacity bounds the queue
// (0 means unbounded); pollInterval is how often Run re-checks its context
// when idle.
func NewDispatcher(registry *Registry, logger *slog.Logger, capacity int, pollInterval time.Duration) *Dispatcher {
	if pollInterval <= 0 {
		pollInterval = PollInterval
	}
	return &Dispatcher{
		registry:     registry,
		logger:       logger,
		pollInterval: pollInterval,
		capacity:     capacity,
		events:       queue.New(),
		wake:         make(chan struct{}, 1),
	}
}

// Enqueue adds ev to the queue. It never blocks; when the queue is full the
// event is dropped and Enqueue returns false.
func (d *Dispatcher) Enqueue(ev *Event) bool {
	d.mu.Lock()
	if d.capacity > 0 && d.events.Length() >= d.capacity {
		d.mu.Unlock()
		d.logger.Warn("event queue full, dropping event",
			"event", ev.Name(), "content_type", ev.ContentType(), "capacity", d.capacity)
		return false
	}
	d.events.Add(ev)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return true
}

// Len returns the number of queued events.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.events.Length()
}

func (d *Dispatcher) next() (*Event, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.events.Length() == 0 {
		return nil, false
	}
	return d.events.Remove().(*Event), true
}

// Run dispatches queued events until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Debug("event dispatcher running")
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		for {
			if ctx.Err() != nil {
				return nil
			}
			ev, ok := d.next()
			if !ok {
				break
			}
			d.Dispatch(ev)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-d.wake:
		case <-ticker.C:
		}
	}
}

// Dispatch runs the selected handlers for ev, in registration order. It
// returns the number of handlers run.
func (d *Dispatcher) Dispatch(ev *Event) int {
	handlers := d.registry.Select(ev)
	if len(handlers) == 0 {
		return 0
	}

	d.dispatching.Store(true)
	defer d.dispatching.Store(false)

	if d.Before != nil {
		d.safeExec(d.Before, ev)
	}
	for _, h := range handlers {
		d.safeExec(h, ev)
	}
	if d.After != nil {
		d.safeExec(d.After, ev)
	}
	return len(handlers)
}

// Dispatching reports whether handlers are running right now.
func (d *Dispatcher) Dispatching() bool {
	return d.dispatching.Load()
}

// safeExec runs h and logs, then discards, any error or panic.
func (d *Dispatcher) safeExec(h Handler, ev *Event) {
	if err := invoke(h, ev); err != nil {
		d.logger.Error("event handler failed",
			"err", &HandlerError{Handler: handlerName(h), Err: err},
			"headers", ev.Headers())
	}
}

func invoke(h Handler, ev *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h.HandleEvent(ev)
}
