// Package flight deduplicates concurrent remote fetches for the same
// logical resource: at most one fetch is in flight per key, and every
// caller that joins while it is pending observes the same result or
// the same error. Registrations are dropped once the call settles, so
// a later fetch for the same key runs fresh.
package flight

import (
	"golang.org/x/sync/singleflight"

	"github.com/loamdev/loam/internal/entity"
)

// Cache is a keyed in-flight fetch table. The zero value is not usable;
// use New.
type Cache struct {
	group singleflight.Group
}

// New creates an empty dedup cache.
func New() *Cache {
	return &Cache{}
}

// Do invokes fn under key unless a call for key is already in flight,
// in which case it waits for that call and returns its outcome.
// shared reports whether the result was delivered to more than one caller.
func Do[T any](c *Cache, key string, fn func() (T, error)) (value T, err error, shared bool) {
	v, err, shared := c.group.Do(key, func() (any, error) {
		return fn()
	})
	if v != nil {
		value = v.(T)
	}
	return value, err, shared
}

// Forget drops any registration for key without waiting for it. The
// next Do for key will invoke its factory regardless of prior state.
func (c *Cache) Forget(key string) {
	c.group.Forget(key)
}

// MessagesKey is the dedup key for loading one thread's messages.
func MessagesKey(threadID string) string {
	return "loadMessages_" + threadID
}

// PriorityThreadsKey is the dedup key for the unpaginated priority-thread load.
func PriorityThreadsKey() string {
	return "loadPriorityThreads"
}

// ProjectsKey is the dedup key for the project list load.
func ProjectsKey() string {
	return "loadProjects"
}

// EntityKey is the dedup key for a single-entity fetch.
func EntityKey(entityType entity.Type, id string) string {
	return "load_" + string(entityType) + "_" + id
}
