package api

import (
	"encoding/json"
	"net/http"

	"github.com/loamdev/loam/internal/engine"
	"github.com/loamdev/loam/internal/entity"
	"github.com/loamdev/loam/internal/errors"
)

// Handlers contains HTTP route handlers for the API.
type Handlers struct {
	engine  *engine.Engine
	baseDir string
	version string
}

// HandleThreadList handles GET /api/threads. With ?refresh=true the
// two-phase remote load runs before responding.
func (h *Handlers) HandleThreadList(w http.ResponseWriter, r *http.Request) {
	if parseBoolParam(r, "refresh") {
		threads, err := h.engine.LoadThreads(r.Context())
		if err != nil {
			renderError(w, err)
			return
		}
		renderJSON(w, http.StatusOK, map[string]any{
			"threads":  threads,
			"has_more": h.engine.HasMoreThreads(),
		})
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{
		"threads":  h.engine.Threads(),
		"has_more": h.engine.HasMoreThreads(),
	})
}

// HandleThreadLoadMore handles POST /api/threads/more — fetch the next
// regular page. A no-op while a page fetch is already in flight.
func (h *Handlers) HandleThreadLoadMore(w http.ResponseWriter, r *http.Request) {
	threads, err := h.engine.LoadMoreThreads(r.Context())
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{
		"threads":  threads,
		"has_more": h.engine.HasMoreThreads(),
	})
}

// threadPatchRequest carries the optional thread mutations. Only the
// provided fields are applied.
type threadPatchRequest struct {
	Title     *string   `json:"title,omitempty"`
	Pinned    *bool     `json:"pinned,omitempty"`
	Tags      *[]string `json:"tags,omitempty"`
	ProjectID *string   `json:"project_id,omitempty"`
	Detach    bool      `json:"detach,omitempty"` // clear project_id
}

// HandleThreadPatch handles PATCH /api/threads/{id}. Each provided
// field maps to one optimistic mutation; the first failing mutation
// stops the rest.
func (h *Handlers) HandleThreadPatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req threadPatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderError(w, errors.NewInvalidRequest("invalid JSON body"))
		return
	}

	var th entity.Thread
	var err error
	applied := false

	if req.Title != nil {
		if th, err = h.engine.RenameThread(r.Context(), id, *req.Title); err != nil {
			renderError(w, err)
			return
		}
		applied = true
	}
	if req.Pinned != nil {
		if th, err = h.engine.SetThreadPinned(r.Context(), id, *req.Pinned); err != nil {
			renderError(w, err)
			return
		}
		applied = true
	}
	if req.Tags != nil {
		if th, err = h.engine.SetThreadTags(r.Context(), id, *req.Tags); err != nil {
			renderError(w, err)
			return
		}
		applied = true
	}
	if req.ProjectID != nil || req.Detach {
		target := req.ProjectID
		if req.Detach || (target != nil && *target == "") {
			target = nil
		}
		if th, err = h.engine.AssignThreadProject(r.Context(), id, target); err != nil {
			renderError(w, err)
			return
		}
		applied = true
	}

	if !applied {
		renderError(w, errors.NewInvalidRequest("no fields to update"))
		return
	}
	renderJSON(w, http.StatusOK, th)
}

// HandleThreadDelete handles DELETE /api/threads/{id}. A partial remote
// cascade failure still returns the per-item error list with 207.
func (h *Handlers) HandleThreadDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.engine.DeleteThread(r.Context(), id); err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

type threadBranchRequest struct {
	Title string `json:"title,omitempty"`
}

// HandleThreadBranch handles POST /api/threads/{id}/branch.
func (h *Handlers) HandleThreadBranch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req threadBranchRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			renderError(w, errors.NewInvalidRequest("invalid JSON body"))
			return
		}
	}

	branch, err := h.engine.BranchThread(r.Context(), id, req.Title)
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusCreated, branch)
}

// HandleThreadMessages handles GET /api/threads/{id}/messages.
func (h *Handlers) HandleThreadMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var messages []entity.Message
	if parseBoolParam(r, "refresh") {
		var err error
		messages, err = h.engine.LoadMessages(r.Context(), id)
		if err != nil {
			renderError(w, err)
			return
		}
	} else {
		messages = h.engine.Messages(id)
	}
	renderJSON(w, http.StatusOK, map[string]any{
		"thread_id": id,
		"messages":  messages,
	})
}

type messageAppendRequest struct {
	UserID      string              `json:"user_id,omitempty"`
	Role        string              `json:"role"`
	Content     string              `json:"content"`
	Attachments []entity.Attachment `json:"attachments,omitempty"`
}

// HandleMessageAppend handles POST /api/threads/{id}/messages.
func (h *Handlers) HandleMessageAppend(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req messageAppendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderError(w, errors.NewInvalidRequest("invalid JSON body"))
		return
	}

	msg, err := h.engine.AppendMessage(r.Context(), id, req.UserID, entity.Role(req.Role), req.Content, req.Attachments)
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusCreated, msg)
}

// HandleAttachmentPrune handles DELETE /api/messages/{id}/attachments/{publicID}.
func (h *Handlers) HandleAttachmentPrune(w http.ResponseWriter, r *http.Request) {
	msg, err := h.engine.PruneAttachment(r.Context(), r.PathValue("id"), r.PathValue("publicID"))
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, msg)
}

// HandleProjectList handles GET /api/projects.
func (h *Handlers) HandleProjectList(w http.ResponseWriter, r *http.Request) {
	if parseBoolParam(r, "refresh") {
		projects, err := h.engine.LoadProjects(r.Context())
		if err != nil {
			renderError(w, err)
			return
		}
		renderJSON(w, http.StatusOK, map[string]any{"projects": projects})
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{"projects": h.engine.Projects()})
}

type projectCreateRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	Prompt      *string `json:"prompt,omitempty"`
	OwnerUserID string  `json:"owner_user_id,omitempty"`
}

// HandleProjectCreate handles POST /api/projects.
func (h *Handlers) HandleProjectCreate(w http.ResponseWriter, r *http.Request) {
	var req projectCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderError(w, errors.NewInvalidRequest("invalid JSON body"))
		return
	}

	p, err := h.engine.CreateProject(r.Context(), req.Name, req.Description, req.Prompt, req.OwnerUserID)
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusCreated, p)
}

type projectPatchRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Prompt      *string `json:"prompt,omitempty"`
}

// HandleProjectPatch handles PATCH /api/projects/{id}.
func (h *Handlers) HandleProjectPatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req projectPatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderError(w, errors.NewInvalidRequest("invalid JSON body"))
		return
	}

	p, err := h.engine.UpdateProject(r.Context(), id, req.Name, req.Description, req.Prompt)
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, p)
}

// HandleProjectDelete handles DELETE /api/projects/{id}. The optional
// reassign_to query parameter moves the project's threads; without it
// they are detached.
func (h *Handlers) HandleProjectDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	reassign := ptrString(r.URL.Query().Get("reassign_to"))

	if err := h.engine.DeleteProject(r.Context(), id, reassign); err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

// HandleStatus handles GET /api/status.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, http.StatusOK, map[string]any{
		"version": h.version,
		"cache":   h.engine.Status(),
	})
}

type exportRequest struct {
	Path     string  `json:"path,omitempty"`
	ThreadID *string `json:"thread_id,omitempty"`
}

// HandleExport handles POST /api/export.
func (h *Handlers) HandleExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			renderError(w, errors.NewInvalidRequest("invalid JSON body"))
			return
		}
	}

	out, err := h.engine.Export(r.Context(), h.baseDir, engine.ExportInput{
		Path:     req.Path,
		ThreadID: req.ThreadID,
	})
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

type importRequest struct {
	Path string `json:"path"`
	Mode string `json:"mode,omitempty"`
}

// HandleImport handles POST /api/import.
func (h *Handlers) HandleImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderError(w, errors.NewInvalidRequest("invalid JSON body"))
		return
	}

	out, err := h.engine.Import(r.Context(), engine.ImportInput{
		Path: req.Path,
		Mode: engine.ImportMode(req.Mode),
	})
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// renderJSON writes a JSON response with the given status.
func renderJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// renderError maps a structured error to its HTTP status and JSON body.
// Internal error details are not exposed.
func renderError(w http.ResponseWriter, err error) {
	if loamErr, ok := err.(*errors.LoamError); ok {
		body := map[string]any{
			"code":    loamErr.Code,
			"message": loamErr.Message,
		}
		if loamErr.Code != errors.ErrInternal && loamErr.Details != nil {
			body["details"] = loamErr.Details
		}
		renderJSON(w, loamErr.Status, map[string]any{"error": body})
		return
	}
	renderJSON(w, http.StatusInternalServerError, map[string]any{
		"error": map[string]any{
			"code":    "INTERNAL",
			"message": "an internal error occurred",
		},
	})
}

// parseBoolParam parses a boolean query parameter.
func parseBoolParam(r *http.Request, name string) bool {
	s := r.URL.Query().Get(name)
	return s == "true" || s == "1"
}

// ptrString returns a pointer to s if non-empty, nil otherwise.
func ptrString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
