package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/loamdev/loam/internal/entity"
	"github.com/loamdev/loam/internal/errors"
	"github.com/loamdev/loam/internal/remote"
)

// ImportMode controls collision behavior during import.
type ImportMode string

const (
	ImportModeError   ImportMode = "error"   // fail on collision (nothing applied)
	ImportModeReplace ImportMode = "replace" // overwrite on collision
	ImportModeSkip    ImportMode = "skip"    // keep the cached copy on collision
)

// ImportInput contains parameters for the Import operation.
type ImportInput struct {
	Path string     // required
	Mode ImportMode // default: error
}

// ImportOutput contains the result of the Import operation.
type ImportOutput struct {
	Imported int           `json:"imported"`
	Skipped  int           `json:"skipped"`
	Errors   []ImportError `json:"errors"`
}

// ImportError represents an error that occurred during import.
type ImportError struct {
	Line    int    `json:"line,omitempty"`
	ID      string `json:"id,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// importRecord mirrors exportRecord with the document left raw so it
// can be decoded by type.
type importRecord struct {
	LoamExport bool            `json:"_loam_export"`
	Type       entity.Type     `json:"type"`
	Doc        json.RawMessage `json:"doc"`
	line       int
}

// importedDoc is a decoded record ready to apply.
type importedDoc struct {
	entityType entity.Type
	id         string
	threadID   string
	doc        any
	line       int
}

// Import reads a JSONL export file back into the cache. Collisions with
// entities already cached are resolved per mode. Imported documents are
// also pushed to the remote; remote failures surface as a partial
// failure without undoing the local import.
func (e *Engine) Import(ctx context.Context, input ImportInput) (*ImportOutput, error) {
	if input.Path == "" {
		return nil, errors.NewInvalidRequest("path is required")
	}
	if input.Mode == "" {
		input.Mode = ImportModeError
	}
	if input.Mode != ImportModeError && input.Mode != ImportModeReplace && input.Mode != ImportModeSkip {
		return nil, errors.NewInvalidRequest("mode must be one of: error, replace, skip")
	}

	file, err := os.Open(input.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFound("import file", input.Path)
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to open import file: %w", err))
	}
	defer file.Close()

	docs, parseErrors := parseImportFile(file)
	if input.Mode == ImportModeError && len(parseErrors) > 0 {
		return &ImportOutput{Errors: parseErrors}, nil
	}

	out := &ImportOutput{Errors: parseErrors}
	out.Skipped += len(parseErrors)

	// Mode error is all-or-nothing: check every collision before
	// touching the store.
	if input.Mode == ImportModeError {
		for _, d := range docs {
			if e.cached(d.entityType, d.id) {
				out.Errors = append(out.Errors, ImportError{
					Line:    d.line,
					ID:      d.id,
					Code:    "ID_COLLISION",
					Message: fmt.Sprintf("%s %q already cached", d.entityType, d.id),
				})
				return out, nil
			}
		}
	}

	var applied []importedDoc
	threadsTouched := make(map[string]bool)

	for _, d := range docs {
		if input.Mode != ImportModeError && e.cached(d.entityType, d.id) {
			if input.Mode == ImportModeSkip {
				out.Skipped++
				continue
			}
			// replace falls through to upsert
		}
		if err := e.upsertImported(d); err != nil {
			out.Errors = append(out.Errors, ImportError{
				Line:    d.line,
				ID:      d.id,
				Code:    "APPLY_FAILED",
				Message: err.Error(),
			})
			out.Skipped++
			continue
		}
		if d.threadID != "" {
			threadsTouched[d.threadID] = true
		}
		applied = append(applied, d)
		out.Imported++
	}

	e.emitThreads()
	e.emitProjects()
	for threadID := range threadsTouched {
		e.emitMessages(threadID)
	}

	// Push to the remote. An existing remote copy is replaced via
	// update; anything else lands as a create.
	var failed []string
	var itemErrors []string
	for _, d := range applied {
		collection := string(d.entityType)
		doc, err := remote.Encode(d.doc)
		if err != nil {
			failed = append(failed, d.id)
			itemErrors = append(itemErrors, fmt.Sprintf("%s/%s: %v", collection, d.id, err))
			continue
		}
		if _, err := e.gateway.Create(ctx, collection, d.id, doc); err != nil {
			if errors.Is(err, errors.ErrConflict) {
				if _, err = e.gateway.Update(ctx, collection, d.id, doc); err == nil {
					continue
				}
			}
			failed = append(failed, d.id)
			itemErrors = append(itemErrors, fmt.Sprintf("%s/%s: %v", collection, d.id, err))
			e.setState(d.entityType, d.id, StateDiverged)
		}
	}
	if len(failed) > 0 {
		return out, errors.NewPartialFailure(len(applied), len(failed), itemErrors)
	}

	return out, nil
}

// parseImportFile parses a JSONL export file into typed documents.
func parseImportFile(file *os.File) ([]importedDoc, []ImportError) {
	var docs []importedDoc
	var parseErrors []ImportError

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var record importRecord
		if err := json.Unmarshal(line, &record); err != nil {
			parseErrors = append(parseErrors, ImportError{
				Line:    lineNum,
				Code:    "PARSE_ERROR",
				Message: fmt.Sprintf("invalid JSON: %v", err),
			})
			continue
		}

		// Skip header line
		if record.LoamExport {
			continue
		}
		record.line = lineNum

		d, err := decodeImportRecord(record)
		if err != nil {
			parseErrors = append(parseErrors, ImportError{
				Line:    lineNum,
				Code:    "INVALID_RECORD",
				Message: err.Error(),
			})
			continue
		}
		docs = append(docs, d)
	}

	if err := scanner.Err(); err != nil {
		parseErrors = append(parseErrors, ImportError{
			Line:    lineNum,
			Code:    "READ_ERROR",
			Message: fmt.Sprintf("failed to read file: %v", err),
		})
	}

	return docs, parseErrors
}

// decodeImportRecord decodes the raw document per record type.
func decodeImportRecord(record importRecord) (importedDoc, error) {
	d := importedDoc{entityType: record.Type, line: record.line}
	switch record.Type {
	case entity.TypeThread:
		var th entity.Thread
		if err := json.Unmarshal(record.Doc, &th); err != nil {
			return d, err
		}
		d.id, d.doc = th.ID, th
	case entity.TypeMessage:
		var m entity.Message
		if err := json.Unmarshal(record.Doc, &m); err != nil {
			return d, err
		}
		d.id, d.threadID, d.doc = m.ID, m.ThreadID, m
	case entity.TypeSummary:
		var s entity.MessageSummary
		if err := json.Unmarshal(record.Doc, &s); err != nil {
			return d, err
		}
		d.id, d.threadID, d.doc = s.ID, s.ThreadID, s
	case entity.TypeProject:
		var p entity.Project
		if err := json.Unmarshal(record.Doc, &p); err != nil {
			return d, err
		}
		d.id, d.doc = p.ID, p
	default:
		return d, fmt.Errorf("unknown record type %q", record.Type)
	}
	if d.id == "" {
		return d, fmt.Errorf("missing id field")
	}
	return d, nil
}

// cached reports whether an entity of the given type is already cached.
func (e *Engine) cached(entityType entity.Type, id string) bool {
	switch entityType {
	case entity.TypeThread:
		_, ok := e.store.Thread(id)
		return ok
	case entity.TypeMessage:
		_, ok := e.store.Message(id)
		return ok
	case entity.TypeSummary:
		_, ok := e.store.Summary(id)
		return ok
	case entity.TypeProject:
		_, ok := e.store.Project(id)
		return ok
	}
	return false
}

// upsertImported writes one decoded document into the local store.
func (e *Engine) upsertImported(d importedDoc) error {
	switch doc := d.doc.(type) {
	case entity.Thread:
		return e.store.UpsertThread(doc)
	case entity.Message:
		return e.store.UpsertMessage(doc)
	case entity.MessageSummary:
		return e.store.UpsertSummary(doc)
	case entity.Project:
		return e.store.UpsertProject(doc)
	}
	return fmt.Errorf("unknown document type %T", d.doc)
}
