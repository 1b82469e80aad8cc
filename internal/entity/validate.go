package entity

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/loamdev/loam/internal/errors"
)

const (
	// MaxTags is the maximum number of tags per thread.
	MaxTags = 10

	// MaxTagChars is the maximum tag length in runes.
	MaxTagChars = 20

	// MaxPromptChars is the maximum project prompt length in runes.
	MaxPromptChars = 500
)

// ValidateTitle rejects empty or whitespace-only thread titles.
func ValidateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return errors.NewInvalidRequest("title must not be empty")
	}
	return nil
}

// NormalizeTags trims whitespace from each tag and drops empties,
// preserving order. Validation happens separately so a too-long tag is
// rejected rather than silently truncated.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		t := strings.TrimSpace(tag)
		if t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// ValidateTags enforces the tag count and length limits. Called before
// any local mutation so an invalid tag set never corrupts the cache.
func ValidateTags(tags []string) error {
	if len(tags) > MaxTags {
		return errors.NewInvalidRequest(fmt.Sprintf("too many tags: %d (max %d)", len(tags), MaxTags))
	}
	for _, tag := range tags {
		if n := utf8.RuneCountInString(tag); n > MaxTagChars {
			return errors.NewInvalidRequest(fmt.Sprintf("tag %q too long: %d chars (max %d)", tag, n, MaxTagChars))
		}
	}
	return nil
}

// ValidateProject checks project fields before creation or update.
func ValidateProject(p *Project) error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.NewInvalidRequest("project name must not be empty")
	}
	if p.Prompt != nil {
		if n := utf8.RuneCountInString(*p.Prompt); n > MaxPromptChars {
			return errors.NewInvalidRequest(fmt.Sprintf("project prompt too long: %d chars (max %d)", n, MaxPromptChars))
		}
	}
	return nil
}

// ValidateMessage checks message fields before creation.
func ValidateMessage(m *Message) error {
	if m.ThreadID == "" {
		return errors.NewInvalidRequest("message thread_id is required")
	}
	if !m.Role.Valid() {
		return errors.NewInvalidRequest(fmt.Sprintf("unknown role %q", m.Role))
	}
	return nil
}
