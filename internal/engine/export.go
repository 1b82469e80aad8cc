package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/loamdev/loam/internal/entity"
	"github.com/loamdev/loam/internal/errors"
)

// ExportInput contains parameters for the Export operation.
type ExportInput struct {
	Path     string  // optional, default: <baseDir>/exports/<scope>-<timestamp>.jsonl
	ThreadID *string // optional filter: export one thread and its messages/summaries
}

// ExportOutput contains the result of the Export operation.
type ExportOutput struct {
	Path       string `json:"path"`
	Count      int    `json:"count"`
	ExportedAt int64  `json:"exported_at"`
}

// exportHeader is the first line of a JSONL export file.
type exportHeader struct {
	LoamExport    bool   `json:"_loam_export"`
	SchemaVersion string `json:"schema_version"`
	ExportedAt    int64  `json:"exported_at"`
}

// exportRecord is one entity line in a JSONL export file.
type exportRecord struct {
	Type entity.Type `json:"type"`
	Doc  any         `json:"doc"`
}

// Export writes the cached collections to a JSONL file: one header
// line, then one record per entity. The write goes to a temp file first
// and lands by atomic rename, so a failed export never clobbers an
// existing file. Export reads the cache only; nothing is fetched.
func (e *Engine) Export(ctx context.Context, baseDir string, input ExportInput) (*ExportOutput, error) {
	now := time.Now()
	exportedAt := now.Unix()

	exportPath := input.Path
	if exportPath == "" {
		scope := "all"
		if input.ThreadID != nil && *input.ThreadID != "" {
			scope = *input.ThreadID
		}
		filename := fmt.Sprintf("%s-%s.jsonl", scope, now.Format("2006-01-02T150405"))
		exportPath = filepath.Join(baseDir, "exports", filename)
	}

	if err := os.MkdirAll(filepath.Dir(exportPath), 0700); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
	}

	// Temp file plus atomic rename preserves any existing file on failure.
	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return nil, errors.NewInternal(err)
	}
	tempPath := exportPath + "." + hex.EncodeToString(randBytes) + ".tmp"
	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export file: %w", err))
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	writeLine := func(v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return errors.NewInternal(err)
		}
		if _, err := file.Write(append(data, '\n')); err != nil {
			return errors.NewInternal(err)
		}
		return nil
	}

	if err := writeLine(exportHeader{LoamExport: true, SchemaVersion: "1.0", ExportedAt: exportedAt}); err != nil {
		return nil, err
	}

	count := 0
	write := func(entityType entity.Type, doc any) error {
		if err := ctx.Err(); err != nil {
			return errors.NewInternal(err)
		}
		if err := writeLine(exportRecord{Type: entityType, Doc: doc}); err != nil {
			return err
		}
		count++
		return nil
	}

	if input.ThreadID != nil && *input.ThreadID != "" {
		threadID := *input.ThreadID
		th, ok := e.store.Thread(threadID)
		if !ok {
			return nil, errors.NewNotFound(threadsCollection, threadID)
		}
		if err := write(entity.TypeThread, th); err != nil {
			return nil, err
		}
		for _, m := range e.store.MessagesByThread(threadID) {
			if err := write(entity.TypeMessage, m); err != nil {
				return nil, err
			}
		}
		for _, s := range e.store.SummariesByThread(threadID) {
			if err := write(entity.TypeSummary, s); err != nil {
				return nil, err
			}
		}
	} else {
		for _, p := range e.store.Projects() {
			if err := write(entity.TypeProject, p); err != nil {
				return nil, err
			}
		}
		for _, th := range e.store.Threads() {
			if err := write(entity.TypeThread, th); err != nil {
				return nil, err
			}
			for _, m := range e.store.MessagesByThread(th.ID) {
				if err := write(entity.TypeMessage, m); err != nil {
					return nil, err
				}
			}
			for _, s := range e.store.SummariesByThread(th.ID) {
				if err := write(entity.TypeSummary, s); err != nil {
					return nil, err
				}
			}
		}
	}

	if err := file.Sync(); err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := file.Close(); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to close export file: %w", err))
	}
	file = nil

	// os.Rename would follow a symlink destination
	if info, err := os.Lstat(exportPath); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return nil, errors.NewInternal(fmt.Errorf("export path is a symlink"))
	}
	if err := os.Rename(tempPath, exportPath); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to finalize export: %w", err))
	}

	success = true
	return &ExportOutput{Path: exportPath, Count: count, ExportedAt: exportedAt}, nil
}
