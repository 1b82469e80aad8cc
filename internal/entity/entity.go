package entity

// Type identifies one of the cached entity tables.
type Type string

const (
	TypeThread  Type = "threads"
	TypeMessage Type = "messages"
	TypeSummary Type = "message_summaries"
	TypeProject Type = "projects"
)

// Role identifies the author of a message turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleData      Role = "data"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleData:
		return true
	}
	return false
}

// Thread represents one conversation.
type Thread struct {
	// ID is a ULID that uniquely identifies this thread
	ID string `json:"id"`

	// Title is the human-readable thread title
	Title string `json:"title"`

	// Pinned marks the thread as always loaded, unpaginated
	Pinned bool `json:"pinned"`

	// ProjectID references the owning project (nullable)
	ProjectID *string `json:"project_id,omitempty"`

	// Tags is an ordered list of user-assigned labels
	Tags []string `json:"tags,omitempty"`

	// CreatedAt is the Unix millisecond timestamp when the thread was created
	CreatedAt int64 `json:"created_at"`

	// UpdatedAt is the Unix millisecond timestamp of the last mutation
	UpdatedAt int64 `json:"updated_at"`

	// LastMessageAt is the Unix millisecond timestamp of the newest message
	LastMessageAt int64 `json:"last_message_at"`
}

// Priority reports whether the thread must always be loaded without
// pagination: pinned or scoped to a project.
func (t *Thread) Priority() bool {
	return t.Pinned || (t.ProjectID != nil && *t.ProjectID != "")
}

// Attachment references an externally-stored file by its opaque public
// identifier. The file bytes themselves never enter the cache.
type Attachment struct {
	// PublicID is the opaque identifier issued by the object store
	PublicID string `json:"public_id"`

	// FileType is the declared content type (e.g., "image/png")
	FileType string `json:"file_type"`

	// Name is the original filename, if known
	Name string `json:"name,omitempty"`
}

// Message is one turn in a thread.
type Message struct {
	// ID is a ULID that uniquely identifies this message
	ID string `json:"id"`

	// ThreadID references the owning thread
	ThreadID string `json:"thread_id"`

	// UserID identifies the authoring user
	UserID string `json:"user_id"`

	// Role is the turn author type: user, assistant, system, or data
	Role Role `json:"role"`

	// Content is the message text (markdown)
	Content string `json:"content"`

	// Attachments is an ordered list of file references
	Attachments []Attachment `json:"attachments,omitempty"`

	// CreatedAt is the Unix millisecond timestamp when the message was created
	CreatedAt int64 `json:"created_at"`
}

// MessageSummary is a condensed representation of a message, used for
// lightweight search and recall. At most one summary per message; its
// lifetime is bounded by the owning message's lifetime.
type MessageSummary struct {
	// ID is a ULID that uniquely identifies this summary
	ID string `json:"id"`

	// ThreadID references the owning thread
	ThreadID string `json:"thread_id"`

	// MessageID references the summarized message
	MessageID string `json:"message_id"`

	// UserID identifies the authoring user of the source message
	UserID string `json:"user_id"`

	// Role is copied from the source message
	Role Role `json:"role"`

	// Content is the condensed plain text
	Content string `json:"content"`

	// CreatedAt is the Unix millisecond timestamp when the summary was created
	CreatedAt int64 `json:"created_at"`
}

// Project is a named grouping of threads with an optional custom
// instruction prompt.
type Project struct {
	// ID is a ULID that uniquely identifies this project
	ID string `json:"id"`

	// Name is the project display name
	Name string `json:"name"`

	// Description is optional free text (nullable)
	Description *string `json:"description,omitempty"`

	// Prompt is an optional custom instruction prompt (nullable)
	Prompt *string `json:"prompt,omitempty"`

	// OwnerUserID identifies the owning user
	OwnerUserID string `json:"owner_user_id"`
}
