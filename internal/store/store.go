// Package store implements the Local Store: one in-memory table per
// entity type, mirrored synchronously to SQLite so the cache survives
// restarts. All operations are synchronous and touch no network. The
// store never emits events; emission is the sync engine's job, so a
// multi-step mutation produces one event, not several partial ones.
package store

import (
	"database/sql"
	"encoding/json"
	"sort"
	"sync"

	"github.com/loamdev/loam/internal/entity"
	"github.com/loamdev/loam/internal/errors"
)

// Store is the fast-path read source for all cached entities. The sync
// engine is the only component that may write to it.
type Store struct {
	mu sync.RWMutex
	db *sql.DB

	threads   map[string]entity.Thread
	messages  map[string]entity.Message
	summaries map[string]entity.MessageSummary
	projects  map[string]entity.Project
}

// Open hydrates a Store from the SQLite mirror. A fresh database yields
// an empty (but usable) store.
func Open(db *sql.DB) (*Store, error) {
	s := &Store{
		db:        db,
		threads:   make(map[string]entity.Thread),
		messages:  make(map[string]entity.Message),
		summaries: make(map[string]entity.MessageSummary),
		projects:  make(map[string]entity.Project),
	}
	if err := s.hydrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// hydrate loads all persisted rows into the in-memory tables.
func (s *Store) hydrate() error {
	rows, err := s.db.Query(`SELECT entity_type, id, doc FROM cache_entries`)
	if err != nil {
		return errors.NewInternal(err)
	}
	defer rows.Close()

	for rows.Next() {
		var entityType, id, doc string
		if err := rows.Scan(&entityType, &id, &doc); err != nil {
			return errors.NewInternal(err)
		}

		switch entity.Type(entityType) {
		case entity.TypeThread:
			var t entity.Thread
			if err := json.Unmarshal([]byte(doc), &t); err != nil {
				return errors.NewInternal(err)
			}
			s.threads[id] = t
		case entity.TypeMessage:
			var m entity.Message
			if err := json.Unmarshal([]byte(doc), &m); err != nil {
				return errors.NewInternal(err)
			}
			s.messages[id] = m
		case entity.TypeSummary:
			var sum entity.MessageSummary
			if err := json.Unmarshal([]byte(doc), &sum); err != nil {
				return errors.NewInternal(err)
			}
			s.summaries[id] = sum
		case entity.TypeProject:
			var p entity.Project
			if err := json.Unmarshal([]byte(doc), &p); err != nil {
				return errors.NewInternal(err)
			}
			s.projects[id] = p
		}
		// Unknown entity types are skipped: a downgraded binary must
		// not choke on rows written by a newer one.
	}
	return rows.Err()
}

// persist mirrors one entity to SQLite. threadID indexes messages and
// summaries for cascade removal; nil for threads and projects.
func (s *Store) persist(entityType entity.Type, id string, threadID *string, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return errors.NewInternal(err)
	}

	tid := sql.NullString{}
	if threadID != nil {
		tid = sql.NullString{String: *threadID, Valid: true}
	}

	_, err = s.db.Exec(`
		INSERT INTO cache_entries (entity_type, id, thread_id, doc, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (entity_type, id)
		DO UPDATE SET thread_id = excluded.thread_id, doc = excluded.doc, updated_at = excluded.updated_at`,
		string(entityType), id, tid, string(data), entity.Now(),
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// unpersist removes one entity's mirror row.
func (s *Store) unpersist(entityType entity.Type, id string) error {
	_, err := s.db.Exec(`DELETE FROM cache_entries WHERE entity_type = ? AND id = ?`, string(entityType), id)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// Thread returns the cached thread with the given id.
func (s *Store) Thread(id string) (entity.Thread, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[id]
	return t, ok
}

// Threads returns a snapshot of all cached threads ordered by recency
// (last message first, id as tiebreaker).
func (s *Store) Threads() []entity.Thread {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]entity.Thread, 0, len(s.threads))
	for _, t := range s.threads {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastMessageAt != out[j].LastMessageAt {
			return out[i].LastMessageAt > out[j].LastMessageAt
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// UpsertThread inserts or replaces a thread.
func (s *Store) UpsertThread(t entity.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persist(entity.TypeThread, t.ID, nil, t); err != nil {
		return err
	}
	s.threads[t.ID] = t
	return nil
}

// RemoveThread removes a thread. Messages and summaries are removed
// separately by the caller (the cascade belongs to the sync engine).
func (s *Store) RemoveThread(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.unpersist(entity.TypeThread, id); err != nil {
		return err
	}
	delete(s.threads, id)
	return nil
}

// Message returns the cached message with the given id.
func (s *Store) Message(id string) (entity.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	return m, ok
}

// MessagesByThread returns a snapshot of one thread's messages in
// chronological order.
func (s *Store) MessagesByThread(threadID string) []entity.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]entity.Message, 0)
	for _, m := range s.messages {
		if m.ThreadID == threadID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// UpsertMessage inserts or replaces a message.
func (s *Store) UpsertMessage(m entity.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persist(entity.TypeMessage, m.ID, &m.ThreadID, m); err != nil {
		return err
	}
	s.messages[m.ID] = m
	return nil
}

// RemoveMessage removes a single message.
func (s *Store) RemoveMessage(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.unpersist(entity.TypeMessage, id); err != nil {
		return err
	}
	delete(s.messages, id)
	return nil
}

// RemoveMessagesByThread removes all messages of a thread and returns
// how many were removed.
func (s *Store) RemoveMessagesByThread(threadID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM cache_entries WHERE entity_type = ? AND thread_id = ?`,
		string(entity.TypeMessage), threadID)
	if err != nil {
		return 0, errors.NewInternal(err)
	}

	removed := 0
	for id, m := range s.messages {
		if m.ThreadID == threadID {
			delete(s.messages, id)
			removed++
		}
	}
	return removed, nil
}

// Summary returns a summary by ID.
func (s *Store) Summary(id string) (entity.MessageSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum, ok := s.summaries[id]
	return sum, ok
}

// SummaryByMessage returns the summary for a message, if one exists.
func (s *Store) SummaryByMessage(messageID string) (entity.MessageSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sum := range s.summaries {
		if sum.MessageID == messageID {
			return sum, true
		}
	}
	return entity.MessageSummary{}, false
}

// SummariesByThread returns a snapshot of one thread's summaries in
// chronological order.
func (s *Store) SummariesByThread(threadID string) []entity.MessageSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]entity.MessageSummary, 0)
	for _, sum := range s.summaries {
		if sum.ThreadID == threadID {
			out = append(out, sum)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// UpsertSummary inserts or replaces a message summary.
func (s *Store) UpsertSummary(sum entity.MessageSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persist(entity.TypeSummary, sum.ID, &sum.ThreadID, sum); err != nil {
		return err
	}
	s.summaries[sum.ID] = sum
	return nil
}

// RemoveSummary removes a single summary.
func (s *Store) RemoveSummary(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.unpersist(entity.TypeSummary, id); err != nil {
		return err
	}
	delete(s.summaries, id)
	return nil
}

// RemoveSummariesByThread removes all summaries of a thread and returns
// how many were removed.
func (s *Store) RemoveSummariesByThread(threadID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM cache_entries WHERE entity_type = ? AND thread_id = ?`,
		string(entity.TypeSummary), threadID)
	if err != nil {
		return 0, errors.NewInternal(err)
	}

	removed := 0
	for id, sum := range s.summaries {
		if sum.ThreadID == threadID {
			delete(s.summaries, id)
			removed++
		}
	}
	return removed, nil
}

// Project returns the cached project with the given id.
func (s *Store) Project(id string) (entity.Project, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	return p, ok
}

// Projects returns a snapshot of all cached projects ordered by name,
// id as tiebreaker.
func (s *Store) Projects() []entity.Project {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]entity.Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// UpsertProject inserts or replaces a project.
func (s *Store) UpsertProject(p entity.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persist(entity.TypeProject, p.ID, nil, p); err != nil {
		return err
	}
	s.projects[p.ID] = p
	return nil
}

// RemoveProject removes a project. Detaching or reassigning its threads
// is the sync engine's responsibility.
func (s *Store) RemoveProject(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.unpersist(entity.TypeProject, id); err != nil {
		return err
	}
	delete(s.projects, id)
	return nil
}

// Counts returns the number of cached entities per table.
func (s *Store) Counts() map[entity.Type]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[entity.Type]int{
		entity.TypeThread:  len(s.threads),
		entity.TypeMessage: len(s.messages),
		entity.TypeSummary: len(s.summaries),
		entity.TypeProject: len(s.projects),
	}
}
