package eventbus

import (
	"log/slog"
	"sort"
	"sync"
)

// Handler subscribes to lifecycle events and reacts to them. Implementations
// must be idempotent, fast, and must never propagate an error or panic past
// HandleEvent's own recovery boundary — the Bus isolates both for them, but a
// well-behaved handler still owns catching its own expected failures.
type Handler interface {
	Name() string
	Priority() Priority
	Subscriptions() []EventType
	HandleEvent(event Event) error
	IsAvailable() bool
}

// Stats tracks dispatch counters for observability.
type Stats struct {
	EventsEmitted    int
	HandlersInvoked  int
	ErrorsHandled    int
	PanicsRecovered  int
}

// Bus is the Integration Event Bus: priority-ordered, failure-isolated
// pub-sub dispatch of lifecycle events to cross-cutting concerns.
type Bus struct {
	mu            sync.RWMutex
	handlers      map[string]Handler
	order         map[string]int // registration sequence, for stable tie-break
	seq           int
	subscriptions map[EventType][]string
	stats         Stats
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{
		handlers:      make(map[string]Handler),
		order:         make(map[string]int),
		subscriptions: make(map[EventType][]string),
	}
}

// Register adds a handler and indexes its subscriptions. Re-registering a
// name replaces the previous handler.
func (b *Bus) Register(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	name := h.Name()
	if _, exists := b.handlers[name]; exists {
		slog.Warn("replacing existing integration handler", "name", name)
		b.unsafeUnregister(name)
	}

	b.handlers[name] = h
	b.seq++
	b.order[name] = b.seq

	for _, et := range h.Subscriptions() {
		b.subscriptions[et] = append(b.subscriptions[et], name)
		b.sortSubscribers(et)
	}

	slog.Debug("registered integration", "name", name, "priority", h.Priority())
}

// Unregister removes a handler by name.
func (b *Bus) Unregister(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unsafeUnregister(name)
}

func (b *Bus) unsafeUnregister(name string) {
	if _, ok := b.handlers[name]; !ok {
		return
	}
	delete(b.handlers, name)
	delete(b.order, name)
	for et, names := range b.subscriptions {
		filtered := names[:0]
		for _, n := range names {
			if n != name {
				filtered = append(filtered, n)
			}
		}
		b.subscriptions[et] = filtered
	}
}

// sortSubscribers orders subscribers for et by (priority asc, registration
// order asc), giving a stable tie-break when two handlers share a priority.
func (b *Bus) sortSubscribers(et EventType) {
	names := b.subscriptions[et]
	sort.SliceStable(names, func(i, j int) bool {
		hi, hj := b.handlers[names[i]], b.handlers[names[j]]
		if hi.Priority() != hj.Priority() {
			return hi.Priority() < hj.Priority()
		}
		return b.order[names[i]] < b.order[names[j]]
	})
}

// Emit dispatches event to every subscribed, available handler in priority
// order. A handler's error or panic is caught and logged; it never stops the
// remaining handlers from running.
func (b *Bus) Emit(event Event) {
	b.mu.Lock()
	b.stats.EventsEmitted++
	names := append([]string(nil), b.subscriptions[event.Type]...)
	handlers := make([]Handler, 0, len(names))
	for _, n := range names {
		if h, ok := b.handlers[n]; ok {
			handlers = append(handlers, h)
		}
	}
	b.mu.Unlock()

	if len(handlers) == 0 {
		slog.Debug("no handlers for event", "type", event.Type)
		return
	}

	for _, h := range handlers {
		if !h.IsAvailable() {
			slog.Debug("handler not available, skipping", "name", h.Name())
			continue
		}
		b.dispatch(h, event)
	}
}

func (b *Bus) dispatch(h Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.mu.Lock()
			b.stats.PanicsRecovered++
			b.stats.ErrorsHandled++
			b.mu.Unlock()
			slog.Error("integration handler panicked", "name", h.Name(), "event", event.Type, "panic", r)
		}
	}()

	if err := h.HandleEvent(event); err != nil {
		b.mu.Lock()
		b.stats.ErrorsHandled++
		b.mu.Unlock()
		slog.Warn("integration handler failed", "name", h.Name(), "event", event.Type, "error", err)
		return
	}

	b.mu.Lock()
	b.stats.HandlersInvoked++
	b.mu.Unlock()
}

// Handler returns a registered handler by name.
func (b *Bus) Handler(name string) (Handler, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	h, ok := b.handlers[name]
	return h, ok
}

// IsAvailable reports whether the named handler exists and is available.
func (b *Bus) IsAvailable(name string) bool {
	h, ok := b.Handler(name)
	return ok && h.IsAvailable()
}

// Handlers returns every registered handler, keyed by name.
func (b *Bus) Handlers() map[string]Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]Handler, len(b.handlers))
	for k, v := range b.handlers {
		out[k] = v
	}
	return out
}

// AvailableHandlers returns only the handlers currently available.
func (b *Bus) AvailableHandlers() map[string]Handler {
	out := make(map[string]Handler)
	for k, v := range b.Handlers() {
		if v.IsAvailable() {
			out[k] = v
		}
	}
	return out
}

// StatsSnapshot returns a copy of the bus's dispatch counters.
func (b *Bus) StatsSnapshot() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stats
}
