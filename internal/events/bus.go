package events

import (
	"log/slog"
	"sync"

	"github.com/loamdev/loam/internal/entity"
)

// Name identifies an event channel on the bus.
type Name string

const (
	// ThreadsUpdated carries the full merged thread collection.
	ThreadsUpdated Name = "threads_updated"

	// MessagesUpdated carries the full message collection for one thread.
	MessagesUpdated Name = "messages_updated"

	// ProjectsUpdated carries the full project collection.
	ProjectsUpdated Name = "projects_updated"
)

// ThreadsPayload is the payload for ThreadsUpdated events.
type ThreadsPayload struct {
	Threads []entity.Thread
}

// MessagesPayload is the payload for MessagesUpdated events. The event
// is thread-scoped: consumers watching a different thread must filter
// on ThreadID.
type MessagesPayload struct {
	ThreadID string
	Messages []entity.Message
}

// ProjectsPayload is the payload for ProjectsUpdated events.
type ProjectsPayload struct {
	Projects []entity.Project
}

// Handler receives an event payload. Payloads are whole collections,
// not diffs: consumers replace their state rather than patching it.
type Handler func(payload any)

type registration struct {
	id      int
	handler Handler
}

// Bus is a synchronous publish/subscribe channel. Dispatch happens on
// the emitting goroutine, to all handlers registered at emission time,
// in registration order. A panicking handler does not prevent delivery
// to subsequent handlers.
//
// The bus holds no external resources; construct one per process at
// startup and share it by injection, not by package global.
type Bus struct {
	mu       sync.Mutex
	nextID   int
	handlers map[Name][]registration
	logger   *slog.Logger
}

// NewBus creates an empty event bus. logger may be nil.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Bus{
		handlers: make(map[Name][]registration),
		logger:   logger,
	}
}

// On registers handler for name and returns an unsubscribe func.
// Unsubscribing twice is a no-op.
func (b *Bus) On(name Name, handler Handler) (off func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[name] = append(b.handlers[name], registration{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		regs := b.handlers[name]
		for i, reg := range regs {
			if reg.id == id {
				b.handlers[name] = append(regs[:i:i], regs[i+1:]...)
				return
			}
		}
	}
}

// Emit dispatches payload to every handler currently registered for
// name, synchronously and in registration order.
func (b *Bus) Emit(name Name, payload any) {
	b.mu.Lock()
	regs := make([]registration, len(b.handlers[name]))
	copy(regs, b.handlers[name])
	b.mu.Unlock()

	for _, reg := range regs {
		b.dispatch(name, reg, payload)
	}
}

// dispatch invokes one handler, containing panics so one bad consumer
// cannot break delivery to the rest.
func (b *Bus) dispatch(name Name, reg registration, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "event", string(name), "panic", r)
		}
	}()
	reg.handler(payload)
}
