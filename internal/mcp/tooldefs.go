package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

var threadListToolDef = mcp.NewTool("thread_list",
	mcp.WithDescription("List cached threads, most recent first. With refresh=true, performs the two-phase load (all priority threads plus the first regular page) before returning."),
	mcp.WithBoolean("refresh", mcp.Description("Fetch from the remote before returning")),
)

var threadLoadMoreToolDef = mcp.NewTool("thread_load_more",
	mcp.WithDescription("Fetch the next page of regular threads. A no-op if a page fetch is already in flight or no more pages exist."),
)

var threadMessagesToolDef = mcp.NewTool("thread_messages",
	mcp.WithDescription("List one thread's messages in chronological order. With refresh=true, fetches from the remote first (deduplicated with any in-flight fetch for the same thread)."),
	mcp.WithString("thread_id", mcp.Required(), mcp.Description("Thread id")),
	mcp.WithBoolean("refresh", mcp.Description("Fetch from the remote before returning")),
)

var threadRenameToolDef = mcp.NewTool("thread_rename",
	mcp.WithDescription("Rename a thread. Applied locally first; the remote update runs in the background of the call."),
	mcp.WithString("thread_id", mcp.Required(), mcp.Description("Thread id")),
	mcp.WithString("title", mcp.Required(), mcp.Description("New title (must not be blank)")),
)

var threadPinToolDef = mcp.NewTool("thread_pin",
	mcp.WithDescription("Pin or unpin a thread. Pinned threads are always loaded unpaginated."),
	mcp.WithString("thread_id", mcp.Required(), mcp.Description("Thread id")),
	mcp.WithBoolean("pinned", mcp.Required(), mcp.Description("Pin state to set")),
)

var threadTagsToolDef = mcp.NewTool("thread_tags",
	mcp.WithDescription("Replace a thread's tags. At most 10 tags, each at most 20 characters; violations are rejected before any cache change."),
	mcp.WithString("thread_id", mcp.Required(), mcp.Description("Thread id")),
	mcp.WithArray("tags", mcp.Required(), mcp.Description("Full replacement tag list"), mcp.Items(map[string]any{"type": "string"})),
)

var threadAssignToolDef = mcp.NewTool("thread_assign",
	mcp.WithDescription("Assign a thread to a project, or detach it when project_id is omitted. Project-scoped threads are always loaded unpaginated."),
	mcp.WithString("thread_id", mcp.Required(), mcp.Description("Thread id")),
	mcp.WithString("project_id", mcp.Description("Target project id; omit to detach")),
)

var threadBranchToolDef = mcp.NewTool("thread_branch",
	mcp.WithDescription("Clone a thread under a new id, copying its message history. The copy is independent of the source."),
	mcp.WithString("source_id", mcp.Required(), mcp.Description("Thread to branch from")),
	mcp.WithString("title", mcp.Description("Title for the branch; defaults to the source title")),
)

var threadDeleteToolDef = mcp.NewTool("thread_delete",
	mcp.WithDescription("Delete a thread and all its messages and summaries. Remote deletions fan out per document; individual failures are reported but do not abort the rest."),
	mcp.WithString("thread_id", mcp.Required(), mcp.Description("Thread id")),
)

var messageAppendToolDef = mcp.NewTool("message_append",
	mcp.WithDescription("Append a message to a thread, deriving its summary and bumping thread recency. Sending to an unknown thread id creates the thread."),
	mcp.WithString("thread_id", mcp.Required(), mcp.Description("Thread id")),
	mcp.WithString("user_id", mcp.Description("Authoring user id")),
	mcp.WithString("role", mcp.Required(), mcp.Description("Turn author: user, assistant, system, or data")),
	mcp.WithString("content", mcp.Required(), mcp.Description("Message text (markdown)")),
)

var messagePruneAttachmentToolDef = mcp.NewTool("message_prune_attachment",
	mcp.WithDescription("Remove one attachment reference from a message, after the backing file was deleted from the object store."),
	mcp.WithString("message_id", mcp.Required(), mcp.Description("Message id")),
	mcp.WithString("public_id", mcp.Required(), mcp.Description("Attachment public id to remove")),
)

var projectListToolDef = mcp.NewTool("project_list",
	mcp.WithDescription("List cached projects ordered by name. With refresh=true, fetches from the remote first."),
	mcp.WithBoolean("refresh", mcp.Description("Fetch from the remote before returning")),
)

var projectCreateToolDef = mcp.NewTool("project_create",
	mcp.WithDescription("Create a project: a named thread grouping with an optional custom instruction prompt (at most 500 characters)."),
	mcp.WithString("name", mcp.Required(), mcp.Description("Project name (must not be blank)")),
	mcp.WithString("description", mcp.Description("Optional description")),
	mcp.WithString("prompt", mcp.Description("Optional custom instruction prompt")),
	mcp.WithString("owner_user_id", mcp.Description("Owning user id")),
)

var projectUpdateToolDef = mcp.NewTool("project_update",
	mcp.WithDescription("Update project fields. Only provided fields change."),
	mcp.WithString("project_id", mcp.Required(), mcp.Description("Project id")),
	mcp.WithString("name", mcp.Description("New name")),
	mcp.WithString("description", mcp.Description("New description")),
	mcp.WithString("prompt", mcp.Description("New custom instruction prompt")),
)

var projectDeleteToolDef = mcp.NewTool("project_delete",
	mcp.WithDescription("Delete a project. Its threads are reassigned to reassign_to or detached; threads are never deleted or left dangling."),
	mcp.WithString("project_id", mcp.Required(), mcp.Description("Project id")),
	mcp.WithString("reassign_to", mcp.Description("Project to reassign threads to; omit to detach them")),
)

var cacheStatusToolDef = mcp.NewTool("cache_status",
	mcp.WithDescription("Report cache health: entity counts, pagination state, and resources whose last remote write failed (diverged)."),
)

var cacheExportToolDef = mcp.NewTool("cache_export",
	mcp.WithDescription("Export the cached collections to a JSONL file."),
	mcp.WithString("path", mcp.Description("Destination path; defaults to the exports directory")),
	mcp.WithString("thread_id", mcp.Description("Export only this thread and its messages")),
)

var cacheImportToolDef = mcp.NewTool("cache_import",
	mcp.WithDescription("Import a JSONL export file back into the cache and push the documents to the remote."),
	mcp.WithString("path", mcp.Required(), mcp.Description("Import file path")),
	mcp.WithString("mode", mcp.Description("Collision mode: error|replace|skip (default: error)")),
)
