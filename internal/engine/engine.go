// Package engine orchestrates the cache: optimistic local mutation,
// event emission, background remote writes, and reconciliation. Reads
// are served from the local store synchronously; every remote round
// trip happens behind a deduplicated fetch or after the local write
// has already been applied and announced.
package engine

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/loamdev/loam/internal/entity"
	"github.com/loamdev/loam/internal/events"
	"github.com/loamdev/loam/internal/flight"
	"github.com/loamdev/loam/internal/remote"
	"github.com/loamdev/loam/internal/store"
)

// State tracks how a cached resource relates to the remote copy.
type State string

const (
	// StateFresh means the local copy reflects the latest known remote state.
	StateFresh State = "fresh"

	// StateOptimistic means a local write was applied and the remote
	// write is (or was) in flight.
	StateOptimistic State = "optimistically_mutated"

	// StateReconciled means the remote confirmed the local write.
	StateReconciled State = "reconciled"

	// StateDiverged means the remote write failed: local and remote are
	// known to differ. There is no automatic retry; the state clears on
	// the next successful fetch of the resource's collection.
	StateDiverged State = "diverged"
)

// Engine is the cache orchestrator. All exported methods are safe for
// concurrent use.
type Engine struct {
	store    *store.Store
	gateway  remote.Gateway
	bus      *events.Bus
	flights  *flight.Cache
	logger   *slog.Logger
	pageSize int

	mu sync.Mutex
	// pagination state for the regular (non-priority) thread window
	threadOffset  int
	hasMore       bool
	isLoadingMore bool
	regularIDs    map[string]bool
	// per-thread fetch generation, bumped each time a message fetch is
	// actually issued; a completion whose generation is no longer
	// current is discarded
	msgGen map[string]uint64
	// per-resource reconciliation state, keyed by "<type>/<id>"
	states map[string]State
}

// Options configures a new Engine.
type Options struct {
	Store    *store.Store
	Gateway  remote.Gateway
	Bus      *events.Bus
	PageSize int // 0 means the default page size
	Logger   *slog.Logger
}

const defaultPageSize = 40

// New creates an Engine over an already-hydrated store.
func New(opts Options) *Engine {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		store:      opts.Store,
		gateway:    opts.Gateway,
		bus:        opts.Bus,
		flights:    flight.New(),
		logger:     logger,
		pageSize:   pageSize,
		hasMore:    true,
		regularIDs: make(map[string]bool),
		msgGen:     make(map[string]uint64),
		states:     make(map[string]State),
	}
}

// PageSize returns the regular-thread page size.
func (e *Engine) PageSize() int {
	return e.pageSize
}

// Threads returns the local thread snapshot, most recent first. Never
// touches the network.
func (e *Engine) Threads() []entity.Thread {
	return e.store.Threads()
}

// Thread returns one cached thread.
func (e *Engine) Thread(id string) (entity.Thread, bool) {
	return e.store.Thread(id)
}

// Messages returns one thread's local message snapshot in
// chronological order. Never touches the network.
func (e *Engine) Messages(threadID string) []entity.Message {
	return e.store.MessagesByThread(threadID)
}

// Summaries returns one thread's summaries in chronological order.
func (e *Engine) Summaries(threadID string) []entity.MessageSummary {
	return e.store.SummariesByThread(threadID)
}

// Projects returns the local project snapshot ordered by name.
func (e *Engine) Projects() []entity.Project {
	return e.store.Projects()
}

// Project returns one cached project.
func (e *Engine) Project(id string) (entity.Project, bool) {
	return e.store.Project(id)
}

// HasMoreThreads reports whether another regular page may exist.
func (e *Engine) HasMoreThreads() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasMore
}

// OnThreadsUpdated subscribes to thread collection changes.
func (e *Engine) OnThreadsUpdated(fn func(events.ThreadsPayload)) (off func()) {
	return e.bus.On(events.ThreadsUpdated, func(payload any) {
		if p, ok := payload.(events.ThreadsPayload); ok {
			fn(p)
		}
	})
}

// OnMessagesUpdated subscribes to message collection changes. Events
// for all threads are delivered; consumers filter on ThreadID.
func (e *Engine) OnMessagesUpdated(fn func(events.MessagesPayload)) (off func()) {
	return e.bus.On(events.MessagesUpdated, func(payload any) {
		if p, ok := payload.(events.MessagesPayload); ok {
			fn(p)
		}
	})
}

// OnProjectsUpdated subscribes to project collection changes.
func (e *Engine) OnProjectsUpdated(fn func(events.ProjectsPayload)) (off func()) {
	return e.bus.On(events.ProjectsUpdated, func(payload any) {
		if p, ok := payload.(events.ProjectsPayload); ok {
			fn(p)
		}
	})
}

// emitThreads announces the current full thread collection.
func (e *Engine) emitThreads() {
	e.bus.Emit(events.ThreadsUpdated, events.ThreadsPayload{Threads: e.store.Threads()})
}

// emitMessages announces one thread's current full message collection.
func (e *Engine) emitMessages(threadID string) {
	e.bus.Emit(events.MessagesUpdated, events.MessagesPayload{
		ThreadID: threadID,
		Messages: e.store.MessagesByThread(threadID),
	})
}

// emitProjects announces the current full project collection.
func (e *Engine) emitProjects() {
	e.bus.Emit(events.ProjectsUpdated, events.ProjectsPayload{Projects: e.store.Projects()})
}

func stateKey(entityType entity.Type, id string) string {
	return fmt.Sprintf("%s/%s", entityType, id)
}

func (e *Engine) setState(entityType entity.Type, id string, s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.states[stateKey(entityType, id)] = s
}

// StateOf returns the reconciliation state of one resource. Resources
// never written to optimistically report StateFresh.
func (e *Engine) StateOf(entityType entity.Type, id string) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.states[stateKey(entityType, id)]; ok {
		return s
	}
	return StateFresh
}

// clearStates resets all reconciliation state for one entity type. A
// successful collection fetch makes the local copy authoritative again.
func (e *Engine) clearStates(entityType entity.Type) {
	e.mu.Lock()
	defer e.mu.Unlock()
	prefix := string(entityType) + "/"
	for k := range e.states {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			delete(e.states, k)
		}
	}
}

// Diverged lists the resources whose last remote write failed.
func (e *Engine) Diverged() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0)
	for k, s := range e.states {
		if s == StateDiverged {
			out = append(out, k)
		}
	}
	return out
}

// Status summarizes the cache for diagnostics.
type Status struct {
	// Counts is the number of cached entities per type
	Counts map[entity.Type]int `json:"counts"`

	// PageSize is the configured regular-thread page size
	PageSize int `json:"page_size"`

	// NextOffset is the offset the next loadMoreThreads call would use
	NextOffset int `json:"next_offset"`

	// HasMore reports whether another regular page may exist
	HasMore bool `json:"has_more"`

	// Diverged lists resources whose last remote write failed
	Diverged []string `json:"diverged"`
}

// Status returns a snapshot of cache health and pagination state.
func (e *Engine) Status() Status {
	diverged := e.Diverged()
	e.mu.Lock()
	offset := e.threadOffset
	hasMore := e.hasMore
	e.mu.Unlock()
	return Status{
		Counts:     e.store.Counts(),
		PageSize:   e.pageSize,
		NextOffset: offset,
		HasMore:    hasMore,
		Diverged:   diverged,
	}
}
