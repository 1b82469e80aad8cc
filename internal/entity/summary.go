package entity

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// SummaryMaxChars is the character budget for derived summary content.
const SummaryMaxChars = 240

// Summarize derives a MessageSummary from a message. The markdown
// content is parsed and flattened to plain text (code blocks dropped,
// whitespace collapsed) and truncated to SummaryMaxChars runes.
func Summarize(m *Message) (*MessageSummary, error) {
	id, err := NewID()
	if err != nil {
		return nil, err
	}
	return &MessageSummary{
		ID:        id,
		ThreadID:  m.ThreadID,
		MessageID: m.ID,
		UserID:    m.UserID,
		Role:      m.Role,
		Content:   condense(m.Content, SummaryMaxChars),
		CreatedAt: Now(),
	}, nil
}

// condense flattens markdown to plain text and truncates to maxChars runes.
func condense(markdown string, maxChars int) string {
	plain := markdownText([]byte(markdown))
	runes := []rune(plain)
	if len(runes) <= maxChars {
		return plain
	}
	return strings.TrimSpace(string(runes[:maxChars-1])) + "…"
}

// markdownText extracts the visible text from a markdown document.
// Fenced and indented code blocks are skipped entirely: summaries are
// for recall, and code bodies dominate length without aiding it.
func markdownText(src []byte) string {
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			// Separate block-level nodes with a single space
			if n.Type() == ast.TypeBlock && b.Len() > 0 {
				b.WriteByte(' ')
			}
			return ast.WalkContinue, nil
		}
		switch t := n.(type) {
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			return ast.WalkSkipChildren, nil
		case *ast.Text:
			b.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.AutoLink:
			b.Write(t.URL(src))
		}
		return ast.WalkContinue, nil
	})

	return strings.Join(strings.Fields(b.String()), " ")
}
