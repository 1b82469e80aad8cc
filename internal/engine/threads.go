package engine

import (
	"context"
	"fmt"

	"github.com/loamdev/loam/internal/entity"
	"github.com/loamdev/loam/internal/errors"
	"github.com/loamdev/loam/internal/remote"
)

// applyThreadPatch runs the optimistic write protocol for one thread:
// mutate locally, persist, announce, then push the partial update to
// the remote. On remote failure the local change stays (no rollback),
// the thread is marked diverged, and the error propagates.
func (e *Engine) applyThreadPatch(ctx context.Context, id string, mutate func(*entity.Thread), patch remote.Document) (entity.Thread, error) {
	th, ok := e.store.Thread(id)
	if !ok {
		return entity.Thread{}, errors.NewNotFound(threadsCollection, id)
	}

	mutate(&th)
	th.UpdatedAt = entity.Now()
	if err := e.store.UpsertThread(th); err != nil {
		return entity.Thread{}, err
	}
	e.setState(entity.TypeThread, id, StateOptimistic)
	e.emitThreads()

	patch["updated_at"] = th.UpdatedAt
	if _, err := e.gateway.Update(ctx, threadsCollection, id, patch); err != nil {
		// A thread the remote has never seen (created offline, not yet
		// synced) lands as a full create instead.
		if errors.Is(err, errors.ErrNotFound) {
			err = e.createRemoteThread(ctx, th)
		}
		if err != nil {
			e.setState(entity.TypeThread, id, StateDiverged)
			e.logger.Warn("remote thread update failed", "thread_id", id, "error", err)
			return th, err
		}
	}
	e.setState(entity.TypeThread, id, StateReconciled)
	return th, nil
}

// createRemoteThread pushes the full thread document to the remote.
func (e *Engine) createRemoteThread(ctx context.Context, th entity.Thread) error {
	doc, err := remote.Encode(th)
	if err != nil {
		return err
	}
	_, err = e.gateway.Create(ctx, threadsCollection, th.ID, doc)
	return err
}

// RenameThread sets a thread's title. Empty titles are rejected before
// any local mutation.
func (e *Engine) RenameThread(ctx context.Context, id, title string) (entity.Thread, error) {
	if err := entity.ValidateTitle(title); err != nil {
		return entity.Thread{}, err
	}
	return e.applyThreadPatch(ctx, id,
		func(t *entity.Thread) { t.Title = title },
		remote.Document{"title": title},
	)
}

// SetThreadPinned toggles the pinned flag. Pinned threads join the
// priority partition and are always loaded unpaginated.
func (e *Engine) SetThreadPinned(ctx context.Context, id string, pinned bool) (entity.Thread, error) {
	return e.applyThreadPatch(ctx, id,
		func(t *entity.Thread) { t.Pinned = pinned },
		remote.Document{"pinned": pinned},
	)
}

// SetThreadTags replaces a thread's tag list. Tags are trimmed and
// validated against count and length limits before any local mutation.
func (e *Engine) SetThreadTags(ctx context.Context, id string, tags []string) (entity.Thread, error) {
	normalized := entity.NormalizeTags(tags)
	if err := entity.ValidateTags(normalized); err != nil {
		return entity.Thread{}, err
	}
	var patchValue any
	if normalized != nil {
		patchValue = normalized
	}
	return e.applyThreadPatch(ctx, id,
		func(t *entity.Thread) { t.Tags = normalized },
		remote.Document{"tags": patchValue},
	)
}

// AssignThreadProject scopes a thread to a project, or detaches it when
// projectID is nil. A non-nil target must exist in the cache.
func (e *Engine) AssignThreadProject(ctx context.Context, id string, projectID *string) (entity.Thread, error) {
	if projectID != nil {
		if _, ok := e.store.Project(*projectID); !ok {
			return entity.Thread{}, errors.NewNotFound(projectsCollection, *projectID)
		}
	}
	var patchValue any
	if projectID != nil {
		patchValue = *projectID
	}
	return e.applyThreadPatch(ctx, id,
		func(t *entity.Thread) { t.ProjectID = projectID },
		remote.Document{"project_id": patchValue},
	)
}

// DeleteThread removes a thread and all its messages and summaries,
// locally first, then remotely. The remote cascade fans out per
// document and tolerates individual failures: one failed deletion does
// not abort the rest. When some remote deletions fail the local cache
// still reflects the full removal, the thread is marked diverged, and a
// PARTIAL_FAILURE error reports the per-item failures.
func (e *Engine) DeleteThread(ctx context.Context, id string) error {
	if _, ok := e.store.Thread(id); !ok {
		return errors.NewNotFound(threadsCollection, id)
	}

	// Capture the cascade targets before the local removal erases them.
	messages := e.store.MessagesByThread(id)
	summaries := e.store.SummariesByThread(id)

	if _, err := e.store.RemoveMessagesByThread(id); err != nil {
		return err
	}
	if _, err := e.store.RemoveSummariesByThread(id); err != nil {
		return err
	}
	if err := e.store.RemoveThread(id); err != nil {
		return err
	}
	e.setState(entity.TypeThread, id, StateOptimistic)
	e.emitThreads()
	e.emitMessages(id)

	attempted := 0
	var itemErrors []string
	deleteOne := func(collection, docID string) {
		attempted++
		err := e.gateway.Delete(ctx, collection, docID)
		if err != nil && !errors.Is(err, errors.ErrNotFound) {
			itemErrors = append(itemErrors, fmt.Sprintf("%s/%s: %v", collection, docID, err))
		}
	}
	for _, m := range messages {
		deleteOne(messagesCollection, m.ID)
	}
	for _, s := range summaries {
		deleteOne(summariesCollection, s.ID)
	}
	deleteOne(threadsCollection, id)

	if len(itemErrors) > 0 {
		e.setState(entity.TypeThread, id, StateDiverged)
		e.logger.Warn("remote cascade delete incomplete",
			"thread_id", id, "attempted", attempted, "failed", len(itemErrors))
		return errors.NewPartialFailure(attempted, len(itemErrors), itemErrors)
	}
	e.setState(entity.TypeThread, id, StateReconciled)
	return nil
}

// BranchThread clones a thread: a new collision-resistant id, a copy of
// the source's message history (and summaries) under that id, and an
// optional title override. The copy is independent; mutations to either
// thread never affect the other.
func (e *Engine) BranchThread(ctx context.Context, sourceID, title string) (entity.Thread, error) {
	source, ok := e.store.Thread(sourceID)
	if !ok {
		return entity.Thread{}, errors.NewNotFound(threadsCollection, sourceID)
	}
	if title == "" {
		title = source.Title
	} else if err := entity.ValidateTitle(title); err != nil {
		return entity.Thread{}, err
	}

	newID, err := entity.NewID()
	if err != nil {
		return entity.Thread{}, errors.NewInternal(err)
	}

	now := entity.Now()
	branch := entity.Thread{
		ID:            newID,
		Title:         title,
		Pinned:        false,
		ProjectID:     source.ProjectID,
		Tags:          append([]string(nil), source.Tags...),
		CreatedAt:     now,
		UpdatedAt:     now,
		LastMessageAt: source.LastMessageAt,
	}

	sourceMessages := e.store.MessagesByThread(sourceID)
	copies := make([]entity.Message, 0, len(sourceMessages))
	summaryCopies := make([]entity.MessageSummary, 0, len(sourceMessages))
	for _, m := range sourceMessages {
		copied := m
		copied.ID = entity.MustNewID()
		copied.ThreadID = newID
		copied.Attachments = append([]entity.Attachment(nil), m.Attachments...)
		copies = append(copies, copied)

		if sum, ok := e.store.SummaryByMessage(m.ID); ok {
			sumCopy := sum
			sumCopy.ID = entity.MustNewID()
			sumCopy.ThreadID = newID
			sumCopy.MessageID = copied.ID
			summaryCopies = append(summaryCopies, sumCopy)
		}
	}

	if err := e.store.UpsertThread(branch); err != nil {
		return entity.Thread{}, err
	}
	for _, m := range copies {
		if err := e.store.UpsertMessage(m); err != nil {
			return entity.Thread{}, err
		}
	}
	for _, s := range summaryCopies {
		if err := e.store.UpsertSummary(s); err != nil {
			return entity.Thread{}, err
		}
	}
	e.setState(entity.TypeThread, newID, StateOptimistic)
	e.emitThreads()
	e.emitMessages(newID)

	attempted := 0
	var itemErrors []string
	createOne := func(collection, docID string, v any) {
		attempted++
		doc, err := remote.Encode(v)
		if err != nil {
			itemErrors = append(itemErrors, fmt.Sprintf("%s/%s: %v", collection, docID, err))
			return
		}
		if _, err := e.gateway.Create(ctx, collection, docID, doc); err != nil {
			itemErrors = append(itemErrors, fmt.Sprintf("%s/%s: %v", collection, docID, err))
		}
	}
	createOne(threadsCollection, branch.ID, branch)
	for _, m := range copies {
		createOne(messagesCollection, m.ID, m)
	}
	for _, s := range summaryCopies {
		createOne(summariesCollection, s.ID, s)
	}

	if len(itemErrors) > 0 {
		e.setState(entity.TypeThread, newID, StateDiverged)
		e.logger.Warn("remote branch incomplete",
			"source_id", sourceID, "branch_id", newID, "failed", len(itemErrors))
		return branch, errors.NewPartialFailure(attempted, len(itemErrors), itemErrors)
	}
	e.setState(entity.TypeThread, newID, StateReconciled)
	return branch, nil
}
