package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/loamdev/loam/internal/events"
)

// sseBufferSize bounds the per-client event queue. The bus dispatches
// synchronously, so a slow client must never block an emitter: when the
// queue is full the event is dropped for that client, who can recover
// by re-fetching the collection.
const sseBufferSize = 64

type sseEvent struct {
	name string
	data []byte
}

// HandleEvents handles GET /api/events — a server-sent-events stream
// relaying threads_updated, messages_updated, and projects_updated to
// the client until it disconnects.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	queue := make(chan sseEvent, sseBufferSize)
	enqueue := func(name string, payload any) {
		data, err := json.Marshal(payload)
		if err != nil {
			return
		}
		select {
		case queue <- sseEvent{name: name, data: data}:
		default:
			// Client too slow; it re-syncs from the snapshot endpoints.
		}
	}

	offThreads := h.engine.OnThreadsUpdated(func(p events.ThreadsPayload) {
		enqueue(string(events.ThreadsUpdated), p)
	})
	defer offThreads()
	offMessages := h.engine.OnMessagesUpdated(func(p events.MessagesPayload) {
		enqueue(string(events.MessagesUpdated), p)
	})
	defer offMessages()
	offProjects := h.engine.OnProjectsUpdated(func(p events.ProjectsPayload) {
		enqueue(string(events.ProjectsUpdated), p)
	})
	defer offProjects()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-queue:
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.name, ev.data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
