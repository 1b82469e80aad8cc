package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/loamdev/loam/internal/engine"
	"github.com/loamdev/loam/internal/entity"
	"github.com/loamdev/loam/internal/errors"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	engine  *engine.Engine
	baseDir string
}

// NewHandlers creates a new Handlers instance. baseDir anchors default
// export paths.
func NewHandlers(eng *engine.Engine, baseDir string) *Handlers {
	return &Handlers{engine: eng, baseDir: baseDir}
}

// Request types for each tool

// ThreadListRequest represents the arguments for thread_list.
type ThreadListRequest struct {
	Refresh bool `json:"refresh,omitempty"`
}

// ThreadMessagesRequest represents the arguments for thread_messages.
type ThreadMessagesRequest struct {
	ThreadID string `json:"thread_id"`
	Refresh  bool   `json:"refresh,omitempty"`
}

// ThreadRenameRequest represents the arguments for thread_rename.
type ThreadRenameRequest struct {
	ThreadID string `json:"thread_id"`
	Title    string `json:"title"`
}

// ThreadPinRequest represents the arguments for thread_pin.
type ThreadPinRequest struct {
	ThreadID string `json:"thread_id"`
	Pinned   bool   `json:"pinned"`
}

// ThreadTagsRequest represents the arguments for thread_tags.
type ThreadTagsRequest struct {
	ThreadID string   `json:"thread_id"`
	Tags     []string `json:"tags"`
}

// ThreadAssignRequest represents the arguments for thread_assign.
type ThreadAssignRequest struct {
	ThreadID  string  `json:"thread_id"`
	ProjectID *string `json:"project_id,omitempty"`
}

// ThreadBranchRequest represents the arguments for thread_branch.
type ThreadBranchRequest struct {
	SourceID string `json:"source_id"`
	Title    string `json:"title,omitempty"`
}

// ThreadDeleteRequest represents the arguments for thread_delete.
type ThreadDeleteRequest struct {
	ThreadID string `json:"thread_id"`
}

// MessageAppendRequest represents the arguments for message_append.
type MessageAppendRequest struct {
	ThreadID string `json:"thread_id"`
	UserID   string `json:"user_id,omitempty"`
	Role     string `json:"role"`
	Content  string `json:"content"`
}

// MessagePruneAttachmentRequest represents the arguments for message_prune_attachment.
type MessagePruneAttachmentRequest struct {
	MessageID string `json:"message_id"`
	PublicID  string `json:"public_id"`
}

// ProjectListRequest represents the arguments for project_list.
type ProjectListRequest struct {
	Refresh bool `json:"refresh,omitempty"`
}

// ProjectCreateRequest represents the arguments for project_create.
type ProjectCreateRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	Prompt      *string `json:"prompt,omitempty"`
	OwnerUserID string  `json:"owner_user_id,omitempty"`
}

// ProjectUpdateRequest represents the arguments for project_update.
type ProjectUpdateRequest struct {
	ProjectID   string  `json:"project_id"`
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Prompt      *string `json:"prompt,omitempty"`
}

// ProjectDeleteRequest represents the arguments for project_delete.
type ProjectDeleteRequest struct {
	ProjectID  string  `json:"project_id"`
	ReassignTo *string `json:"reassign_to,omitempty"`
}

// CacheExportRequest represents the arguments for cache_export.
type CacheExportRequest struct {
	Path     string  `json:"path,omitempty"`
	ThreadID *string `json:"thread_id,omitempty"`
}

// CacheImportRequest represents the arguments for cache_import.
type CacheImportRequest struct {
	Path string `json:"path"`
	Mode string `json:"mode,omitempty"`
}

// Handler implementations

// HandleThreadList handles the thread_list tool call.
func (h *Handlers) HandleThreadList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ThreadListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	if input.Refresh {
		threads, err := h.engine.LoadThreads(ctx)
		if err != nil {
			return errorResult(err), nil
		}
		return successResult(map[string]any{
			"threads":  threads,
			"has_more": h.engine.HasMoreThreads(),
		})
	}
	return successResult(map[string]any{
		"threads":  h.engine.Threads(),
		"has_more": h.engine.HasMoreThreads(),
	})
}

// HandleThreadLoadMore handles the thread_load_more tool call.
func (h *Handlers) HandleThreadLoadMore(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	threads, err := h.engine.LoadMoreThreads(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{
		"threads":  threads,
		"has_more": h.engine.HasMoreThreads(),
	})
}

// HandleThreadMessages handles the thread_messages tool call.
func (h *Handlers) HandleThreadMessages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ThreadMessagesRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.ThreadID == "" {
		return errorResult(errors.NewInvalidRequest("thread_id is required")), nil
	}

	var messages []entity.Message
	if input.Refresh {
		messages, err = h.engine.LoadMessages(ctx, input.ThreadID)
		if err != nil {
			return errorResult(err), nil
		}
	} else {
		messages = h.engine.Messages(input.ThreadID)
	}
	return successResult(map[string]any{
		"thread_id": input.ThreadID,
		"messages":  messages,
	})
}

// HandleThreadRename handles the thread_rename tool call.
func (h *Handlers) HandleThreadRename(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ThreadRenameRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	th, err := h.engine.RenameThread(ctx, input.ThreadID, input.Title)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(th)
}

// HandleThreadPin handles the thread_pin tool call.
func (h *Handlers) HandleThreadPin(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ThreadPinRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	th, err := h.engine.SetThreadPinned(ctx, input.ThreadID, input.Pinned)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(th)
}

// HandleThreadTags handles the thread_tags tool call.
func (h *Handlers) HandleThreadTags(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ThreadTagsRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	th, err := h.engine.SetThreadTags(ctx, input.ThreadID, input.Tags)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(th)
}

// HandleThreadAssign handles the thread_assign tool call.
func (h *Handlers) HandleThreadAssign(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ThreadAssignRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	// An empty project_id also detaches.
	projectID := input.ProjectID
	if projectID != nil && *projectID == "" {
		projectID = nil
	}
	th, err := h.engine.AssignThreadProject(ctx, input.ThreadID, projectID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(th)
}

// HandleThreadBranch handles the thread_branch tool call.
func (h *Handlers) HandleThreadBranch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ThreadBranchRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	branch, err := h.engine.BranchThread(ctx, input.SourceID, input.Title)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(branch)
}

// HandleThreadDelete handles the thread_delete tool call.
func (h *Handlers) HandleThreadDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ThreadDeleteRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	if err := h.engine.DeleteThread(ctx, input.ThreadID); err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"deleted": input.ThreadID})
}

// HandleMessageAppend handles the message_append tool call.
func (h *Handlers) HandleMessageAppend(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[MessageAppendRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	msg, err := h.engine.AppendMessage(ctx, input.ThreadID, input.UserID, entity.Role(input.Role), input.Content, nil)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(msg)
}

// HandleMessagePruneAttachment handles the message_prune_attachment tool call.
func (h *Handlers) HandleMessagePruneAttachment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[MessagePruneAttachmentRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	msg, err := h.engine.PruneAttachment(ctx, input.MessageID, input.PublicID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(msg)
}

// HandleProjectList handles the project_list tool call.
func (h *Handlers) HandleProjectList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ProjectListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	if input.Refresh {
		projects, err := h.engine.LoadProjects(ctx)
		if err != nil {
			return errorResult(err), nil
		}
		return successResult(map[string]any{"projects": projects})
	}
	return successResult(map[string]any{"projects": h.engine.Projects()})
}

// HandleProjectCreate handles the project_create tool call.
func (h *Handlers) HandleProjectCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ProjectCreateRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	p, err := h.engine.CreateProject(ctx, input.Name, input.Description, input.Prompt, input.OwnerUserID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(p)
}

// HandleProjectUpdate handles the project_update tool call.
func (h *Handlers) HandleProjectUpdate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ProjectUpdateRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	p, err := h.engine.UpdateProject(ctx, input.ProjectID, input.Name, input.Description, input.Prompt)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(p)
}

// HandleProjectDelete handles the project_delete tool call.
func (h *Handlers) HandleProjectDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ProjectDeleteRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	reassign := input.ReassignTo
	if reassign != nil && *reassign == "" {
		reassign = nil
	}
	if err := h.engine.DeleteProject(ctx, input.ProjectID, reassign); err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"deleted": input.ProjectID})
}

// HandleCacheStatus handles the cache_status tool call.
func (h *Handlers) HandleCacheStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successResult(h.engine.Status())
}

// HandleCacheExport handles the cache_export tool call.
func (h *Handlers) HandleCacheExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CacheExportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	out, err := h.engine.Export(ctx, h.baseDir, engine.ExportInput{
		Path:     input.Path,
		ThreadID: input.ThreadID,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(out)
}

// HandleCacheImport handles the cache_import tool call.
func (h *Handlers) HandleCacheImport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CacheImportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	out, err := h.engine.Import(ctx, engine.ImportInput{
		Path: input.Path,
		Mode: engine.ImportMode(input.Mode),
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(out)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Note: Internal error details are not exposed to prevent leaking sensitive info.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if loamErr, ok := err.(*errors.LoamError); ok {
		errorObj := map[string]any{
			"code":    loamErr.Code,
			"message": loamErr.Message,
			"status":  loamErr.Status,
		}
		if loamErr.Code != errors.ErrInternal && loamErr.Details != nil {
			errorObj["details"] = loamErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
