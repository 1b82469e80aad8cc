package engine

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/loamdev/loam/internal/entity"
	"github.com/loamdev/loam/internal/flight"
	"github.com/loamdev/loam/internal/remote"
)

const threadsCollection = "threads"
const messagesCollection = "messages"
const summariesCollection = "message_summaries"
const projectsCollection = "projects"

// LoadThreads performs the two-phase thread load: all priority threads
// (pinned or project-scoped, unpaginated) and the first regular page,
// fetched concurrently. On success the fetched threads land in the
// store, pagination state resets, and one threads_updated event carries
// the merged collection. The pre-fetch snapshot is available from
// Threads() at any time, so callers render instantly and subscribe for
// the refresh.
func (e *Engine) LoadThreads(ctx context.Context) ([]entity.Thread, error) {
	var priority, regular []entity.Thread

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		priority, err = e.fetchPriorityThreads(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		regular, err = e.fetchRegularThreads(ctx, 0)
		return err
	})
	if err := g.Wait(); err != nil {
		return e.store.Threads(), err
	}

	merged := dedupeThreads(priority, regular)
	for _, t := range merged {
		if err := e.store.UpsertThread(t); err != nil {
			return e.store.Threads(), err
		}
	}

	e.mu.Lock()
	e.threadOffset = e.pageSize
	e.hasMore = len(regular) == e.pageSize
	e.regularIDs = make(map[string]bool, len(regular))
	for _, t := range regular {
		e.regularIDs[t.ID] = true
	}
	e.mu.Unlock()

	e.clearStates(entity.TypeThread)
	e.emitThreads()
	return e.store.Threads(), nil
}

// fetchPriorityThreads loads every pinned or project-scoped thread,
// unbounded. Deduplicated: concurrent callers share one fetch.
func (e *Engine) fetchPriorityThreads(ctx context.Context) ([]entity.Thread, error) {
	threads, err, _ := flight.Do(e.flights, flight.PriorityThreadsKey(), func() ([]entity.Thread, error) {
		pinned, err := e.gateway.List(ctx, threadsCollection, remote.Query{
			Filters: []remote.Filter{remote.Eq("pinned", true)},
		})
		if err != nil {
			return nil, err
		}
		scoped, err := e.gateway.List(ctx, threadsCollection, remote.Query{
			Filters: []remote.Filter{remote.NotNull("project_id")},
		})
		if err != nil {
			return nil, err
		}

		pinnedThreads, err := remote.DecodeAll[entity.Thread](pinned)
		if err != nil {
			return nil, err
		}
		scopedThreads, err := remote.DecodeAll[entity.Thread](scoped)
		if err != nil {
			return nil, err
		}
		return dedupeThreads(pinnedThreads, scopedThreads), nil
	})
	return threads, err
}

// fetchRegularThreads loads one page of the recency-ordered thread list.
func (e *Engine) fetchRegularThreads(ctx context.Context, offset int) ([]entity.Thread, error) {
	docs, err := e.gateway.List(ctx, threadsCollection, remote.Query{
		OrderBy: "last_message_at",
		Desc:    true,
		Limit:   e.pageSize,
		Offset:  offset,
	})
	if err != nil {
		return nil, err
	}
	return remote.DecodeAll[entity.Thread](docs)
}

// LoadMoreThreads fetches the next regular page. A call while another
// is in flight is a no-op returning the current snapshot: pagination is
// guarded by a flag rather than the dedup cache because it is stateful
// (offset-dependent), not idempotent per key.
func (e *Engine) LoadMoreThreads(ctx context.Context) ([]entity.Thread, error) {
	e.mu.Lock()
	if e.isLoadingMore || !e.hasMore {
		e.mu.Unlock()
		return e.store.Threads(), nil
	}
	e.isLoadingMore = true
	offset := e.threadOffset
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.isLoadingMore = false
		e.mu.Unlock()
	}()

	page, err := e.fetchRegularThreads(ctx, offset)
	if err != nil {
		return e.store.Threads(), err
	}

	e.mu.Lock()
	fresh := make([]entity.Thread, 0, len(page))
	for _, t := range page {
		if e.regularIDs[t.ID] {
			continue
		}
		e.regularIDs[t.ID] = true
		fresh = append(fresh, t)
	}
	e.threadOffset = offset + e.pageSize
	e.hasMore = len(page) == e.pageSize
	e.mu.Unlock()

	for _, t := range fresh {
		if err := e.store.UpsertThread(t); err != nil {
			return e.store.Threads(), err
		}
	}

	e.emitThreads()
	return e.store.Threads(), nil
}

// LoadMessages fetches one thread's messages from the remote, replacing
// the local collection on success. Concurrent calls for the same thread
// share one in-flight fetch. Each issued fetch carries a generation
// token; a completion whose generation has been superseded (a forced
// refresh started after it) is discarded, so a late-settling old fetch
// never overwrites a newer one's result.
func (e *Engine) LoadMessages(ctx context.Context, threadID string) ([]entity.Message, error) {
	msgs, err, _ := flight.Do(e.flights, flight.MessagesKey(threadID), func() ([]entity.Message, error) {
		e.mu.Lock()
		e.msgGen[threadID]++
		gen := e.msgGen[threadID]
		e.mu.Unlock()

		docs, err := e.gateway.List(ctx, messagesCollection, remote.Query{
			Filters: []remote.Filter{remote.Eq("thread_id", threadID)},
			OrderBy: "created_at",
		})
		if err != nil {
			return nil, err
		}
		fetched, err := remote.DecodeAll[entity.Message](docs)
		if err != nil {
			return nil, err
		}

		e.mu.Lock()
		stale := gen != e.msgGen[threadID]
		e.mu.Unlock()
		if stale {
			return e.store.MessagesByThread(threadID), nil
		}

		if err := e.replaceThreadMessages(threadID, fetched); err != nil {
			return nil, err
		}
		e.clearStates(entity.TypeMessage)
		e.emitMessages(threadID)
		return e.store.MessagesByThread(threadID), nil
	})
	return msgs, err
}

// RefreshMessages forces a fresh fetch even if one is in flight. The
// in-flight fetch still settles, but its result loses the generation
// race and is discarded.
func (e *Engine) RefreshMessages(ctx context.Context, threadID string) ([]entity.Message, error) {
	e.flights.Forget(flight.MessagesKey(threadID))
	return e.LoadMessages(ctx, threadID)
}

// replaceThreadMessages swaps one thread's local messages for the
// fetched collection.
func (e *Engine) replaceThreadMessages(threadID string, fetched []entity.Message) error {
	if _, err := e.store.RemoveMessagesByThread(threadID); err != nil {
		return err
	}
	for _, m := range fetched {
		if err := e.store.UpsertMessage(m); err != nil {
			return err
		}
	}
	return nil
}

// LoadProjects fetches the project list, deduplicated across
// concurrent callers.
func (e *Engine) LoadProjects(ctx context.Context) ([]entity.Project, error) {
	projects, err, _ := flight.Do(e.flights, flight.ProjectsKey(), func() ([]entity.Project, error) {
		docs, err := e.gateway.List(ctx, projectsCollection, remote.Query{OrderBy: "name"})
		if err != nil {
			return nil, err
		}
		fetched, err := remote.DecodeAll[entity.Project](docs)
		if err != nil {
			return nil, err
		}
		for _, p := range fetched {
			if err := e.store.UpsertProject(p); err != nil {
				return nil, err
			}
		}
		e.clearStates(entity.TypeProject)
		e.emitProjects()
		return e.store.Projects(), nil
	})
	return projects, err
}

// dedupeThreads merges thread lists preserving order; the first
// occurrence of an id wins.
func dedupeThreads(lists ...[]entity.Thread) []entity.Thread {
	seen := make(map[string]bool)
	out := make([]entity.Thread, 0)
	for _, list := range lists {
		for _, t := range list {
			if seen[t.ID] {
				continue
			}
			seen[t.ID] = true
			out = append(out, t)
		}
	}
	return out
}
