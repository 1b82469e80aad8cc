package engine

import (
	"context"
	"fmt"

	"github.com/loamdev/loam/internal/entity"
	"github.com/loamdev/loam/internal/errors"
	"github.com/loamdev/loam/internal/remote"
)

const implicitTitleMaxChars = 80

// AppendMessage adds one turn to a thread, deriving its summary and
// bumping the thread's recency. Sending to an unknown thread id creates
// the thread implicitly, titled from the message content. The local
// write and events happen before any remote round trip; remote failures
// leave the message in place and report what went wrong.
func (e *Engine) AppendMessage(ctx context.Context, threadID, userID string, role entity.Role, content string, attachments []entity.Attachment) (entity.Message, error) {
	msg := entity.Message{
		ID:          entity.MustNewID(),
		ThreadID:    threadID,
		UserID:      userID,
		Role:        role,
		Content:     content,
		Attachments: attachments,
		CreatedAt:   entity.Now(),
	}
	if err := entity.ValidateMessage(&msg); err != nil {
		return entity.Message{}, err
	}

	summary, err := entity.Summarize(&msg)
	if err != nil {
		return entity.Message{}, err
	}

	th, threadExists := e.store.Thread(threadID)
	if !threadExists {
		th = entity.Thread{
			ID:        threadID,
			Title:     implicitTitle(summary.Content),
			CreatedAt: msg.CreatedAt,
		}
	}
	th.LastMessageAt = msg.CreatedAt
	th.UpdatedAt = msg.CreatedAt

	if err := e.store.UpsertMessage(msg); err != nil {
		return entity.Message{}, err
	}
	if err := e.store.UpsertSummary(*summary); err != nil {
		return entity.Message{}, err
	}
	if err := e.store.UpsertThread(th); err != nil {
		return entity.Message{}, err
	}
	e.setState(entity.TypeMessage, msg.ID, StateOptimistic)
	e.emitThreads()
	e.emitMessages(threadID)

	attempted := 0
	var itemErrors []string
	record := func(collection, docID string, err error) {
		attempted++
		if err != nil {
			itemErrors = append(itemErrors, fmt.Sprintf("%s/%s: %v", collection, docID, err))
		}
	}

	msgDoc, err := remote.Encode(msg)
	if err != nil {
		return msg, err
	}
	_, err = e.gateway.Create(ctx, messagesCollection, msg.ID, msgDoc)
	record(messagesCollection, msg.ID, err)

	sumDoc, err := remote.Encode(*summary)
	if err != nil {
		return msg, err
	}
	_, err = e.gateway.Create(ctx, summariesCollection, summary.ID, sumDoc)
	record(summariesCollection, summary.ID, err)

	if threadExists {
		_, err = e.gateway.Update(ctx, threadsCollection, threadID, remote.Document{
			"last_message_at": th.LastMessageAt,
			"updated_at":      th.UpdatedAt,
		})
		if errors.Is(err, errors.ErrNotFound) {
			err = e.createRemoteThread(ctx, th)
		}
	} else {
		err = e.createRemoteThread(ctx, th)
	}
	record(threadsCollection, threadID, err)

	if len(itemErrors) > 0 {
		e.setState(entity.TypeMessage, msg.ID, StateDiverged)
		e.logger.Warn("remote message append incomplete",
			"thread_id", threadID, "message_id", msg.ID, "failed", len(itemErrors))
		return msg, errors.NewPartialFailure(attempted, len(itemErrors), itemErrors)
	}
	e.setState(entity.TypeMessage, msg.ID, StateReconciled)
	return msg, nil
}

// implicitTitle derives a thread title from condensed message content.
func implicitTitle(condensed string) string {
	if condensed == "" {
		return "New thread"
	}
	runes := []rune(condensed)
	if len(runes) <= implicitTitleMaxChars {
		return condensed
	}
	return string(runes[:implicitTitleMaxChars])
}

// PruneAttachment removes one attachment reference from a message,
// typically after the backing file was deleted from the object store.
// The message itself survives with the reference gone.
func (e *Engine) PruneAttachment(ctx context.Context, messageID, publicID string) (entity.Message, error) {
	msg, ok := e.store.Message(messageID)
	if !ok {
		return entity.Message{}, errors.NewNotFound(messagesCollection, messageID)
	}

	kept := make([]entity.Attachment, 0, len(msg.Attachments))
	found := false
	for _, a := range msg.Attachments {
		if a.PublicID == publicID {
			found = true
			continue
		}
		kept = append(kept, a)
	}
	if !found {
		return entity.Message{}, errors.NewNotFound("attachments", publicID)
	}
	if len(kept) == 0 {
		kept = nil
	}
	msg.Attachments = kept

	if err := e.store.UpsertMessage(msg); err != nil {
		return entity.Message{}, err
	}
	e.setState(entity.TypeMessage, messageID, StateOptimistic)
	e.emitMessages(msg.ThreadID)

	var patchValue any
	if kept != nil {
		patchValue = kept
	}
	if _, err := e.gateway.Update(ctx, messagesCollection, messageID, remote.Document{"attachments": patchValue}); err != nil {
		e.setState(entity.TypeMessage, messageID, StateDiverged)
		e.logger.Warn("remote attachment prune failed", "message_id", messageID, "error", err)
		return msg, err
	}
	e.setState(entity.TypeMessage, messageID, StateReconciled)
	return msg, nil
}
