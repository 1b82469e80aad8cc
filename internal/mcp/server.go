package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/loamdev/loam/internal/config"
	"github.com/loamdev/loam/internal/engine"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"thread_list": {
		def:     threadListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleThreadList },
	},
	"thread_load_more": {
		def:     threadLoadMoreToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleThreadLoadMore },
	},
	"thread_messages": {
		def:     threadMessagesToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleThreadMessages },
	},
	"thread_rename": {
		def:     threadRenameToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleThreadRename },
	},
	"thread_pin": {
		def:     threadPinToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleThreadPin },
	},
	"thread_tags": {
		def:     threadTagsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleThreadTags },
	},
	"thread_assign": {
		def:     threadAssignToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleThreadAssign },
	},
	"thread_branch": {
		def:     threadBranchToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleThreadBranch },
	},
	"thread_delete": {
		def:     threadDeleteToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleThreadDelete },
	},
	"message_append": {
		def:     messageAppendToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleMessageAppend },
	},
	"message_prune_attachment": {
		def:     messagePruneAttachmentToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleMessagePruneAttachment },
	},
	"project_list": {
		def:     projectListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleProjectList },
	},
	"project_create": {
		def:     projectCreateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleProjectCreate },
	},
	"project_update": {
		def:     projectUpdateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleProjectUpdate },
	},
	"project_delete": {
		def:     projectDeleteToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleProjectDelete },
	},
	"cache_status": {
		def:     cacheStatusToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCacheStatus },
	},
	"cache_export": {
		def:     cacheExportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCacheExport },
	},
	"cache_import": {
		def:     cacheImportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCacheImport },
	},
}

// AllToolNames returns a list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// NewServer creates a new MCP server with Loam tools registered.
// Tools listed in cfg.DisabledTools are excluded from registration.
func NewServer(eng *engine.Engine, cfg *config.Config, baseDir, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"loam",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(eng, baseDir)

	disabled := make(map[string]bool)
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(eng *engine.Engine, cfg *config.Config, baseDir, version string) error {
	s := NewServer(eng, cfg, baseDir, version)
	return server.ServeStdio(s)
}
