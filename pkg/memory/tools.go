package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// RecallParams are the recallMemory tool's parameters.
type RecallParams struct {
	Query         string  `json:"query"`
	Limit         int     `json:"limit,omitempty"`
	VectorWeight  float64 `json:"vector_weight,omitempty"`
	KeywordWeight float64 `json:"keyword_weight,omitempty"`
	MinScore      float64 `json:"min_score,omitempty"`
}

// RecallResult is the recallMemory tool's output.
type RecallResult struct {
	Results []RecallHit `json:"results"`
	Query   string      `json:"query"`
	Count   int         `json:"count"`
}

// RecallNotes runs a recall query and shapes it as tool output.
func RecallNotes(ctx context.Context, manager *Manager, params RecallParams) (*RecallResult, error) {
	if params.Query == "" {
		return nil, fmt.Errorf("query is required")
	}

	// Set defaults
	if params.Limit == 0 {
		params.Limit = 20
	}
	if params.VectorWeight == 0 {
		params.VectorWeight = 0.7
	}
	if params.KeywordWeight == 0 {
		params.KeywordWeight = 0.3
	}

	opts := &RecallOptions{
		Limit:         params.Limit,
		VectorWeight:  params.VectorWeight,
		KeywordWeight: params.KeywordWeight,
		MinScore:      params.MinScore,
	}

	results, err := manager.Recall(params.Query, opts)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	return &RecallResult{
		Results: results,
		Query:   params.Query,
		Count:   len(results),
	}, nil
}

// WriteNoteParams are the writeMemoryNote tool's parameters.
type WriteNoteParams struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// WriteNoteResult is the writeMemoryNote tool's output.
type WriteNoteResult struct {
	Path         string `json:"path"`
	BytesWritten int    `json:"bytes_written"`
	Created      bool   `json:"created"`
}

// WriteNote creates or overwrites one markdown note and marks the
// index dirty so the next Recall picks it up without waiting on the
// file watcher's debounce.
func WriteNote(ctx context.Context, manager *Manager, workspacePath string, params WriteNoteParams) (*WriteNoteResult, error) {
	if filepath.Ext(params.Path) != ".md" {
		return nil, fmt.Errorf("note path must end with .md: %s", params.Path)
	}
	fullPath, err := notePath(workspacePath, params.Path)
	if err != nil {
		return nil, err
	}

	_, statErr := os.Stat(fullPath)
	created := os.IsNotExist(statErr)

	if err := ensureParentDir(fullPath); err != nil {
		return nil, fmt.Errorf("create note directory: %w", err)
	}
	if err := os.WriteFile(fullPath, []byte(params.Content), 0o644); err != nil {
		return nil, fmt.Errorf("write note: %w", err)
	}

	// The watcher would flag this after its debounce; marking directly
	// makes the note recallable on the very next query.
	manager.MarkDirty()

	return &WriteNoteResult{
		Path:         params.Path,
		BytesWritten: len(params.Content),
		Created:      created,
	}, nil
}

// DeleteNoteParams are the deleteMemoryNote tool's parameters.
type DeleteNoteParams struct {
	Path string `json:"path"`
}

// DeleteNoteResult is the deleteMemoryNote tool's output.
type DeleteNoteResult struct {
	Path    string `json:"path"`
	Deleted bool   `json:"deleted"`
}

// DeleteNote removes one markdown note, if present, and marks the
// index dirty. A missing note is not an error: the agent retrying a
// delete after a partial turn should see deleted=false, not a failure.
func DeleteNote(ctx context.Context, manager *Manager, workspacePath string, params DeleteNoteParams) (*DeleteNoteResult, error) {
	fullPath, err := notePath(workspacePath, params.Path)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(fullPath); os.IsNotExist(err) {
		return &DeleteNoteResult{Path: params.Path, Deleted: false}, nil
	}
	if err := os.Remove(fullPath); err != nil {
		return nil, fmt.Errorf("delete note: %w", err)
	}
	manager.MarkDirty()

	return &DeleteNoteResult{Path: params.Path, Deleted: true}, nil
}

// ListNotesParams are the listMemoryNotes tool's parameters.
type ListNotesParams struct {
	Pattern string `json:"pattern,omitempty"`
}

// NoteInfo describes one markdown note on disk.
type NoteInfo struct {
	Path         string    `json:"path"`
	SizeBytes    int64     `json:"size_bytes"`
	ModifiedTime time.Time `json:"modified_time"`
}

// ListNotesResult is the listMemoryNotes tool's output.
type ListNotesResult struct {
	Files []NoteInfo `json:"files"`
	Count int        `json:"count"`
}

// ListNotes walks the workspace for markdown notes, optionally
// filtered by a glob pattern matched against the relative path.
func ListNotes(ctx context.Context, workspacePath string, params ListNotesParams) (*ListNotesResult, error) {
	var files []NoteInfo

	// Walk the workspace directory
	err := filepath.Walk(workspacePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		// Skip directories
		if info.IsDir() {
			return nil
		}

		// Only include .md files
		if filepath.Ext(path) != ".md" {
			return nil
		}

		// Get relative path
		relPath, err := filepath.Rel(workspacePath, path)
		if err != nil {
			return err
		}

		// Apply pattern filter if provided
		if params.Pattern != "" {
			matched, err := filepath.Match(params.Pattern, relPath)
			if err != nil {
				return fmt.Errorf("invalid pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}

		files = append(files, NoteInfo{
			Path:         relPath,
			SizeBytes:    info.Size(),
			ModifiedTime: info.ModTime(),
		})

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	return &ListNotesResult{
		Files: files,
		Count: len(files),
	}, nil
}
