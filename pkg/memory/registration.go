package memory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/harun/ranya-core/pkg/toolexecutor"
)

// ToolExecutor is the subset of toolexecutor.ToolExecutor this package
// needs, kept narrow to avoid a circular import back into
// pkg/toolexecutor.
type ToolExecutor interface {
	RegisterTool(def toolexecutor.ToolDefinition) error
}

// decodeParams round-trips a tool call's untyped parameter map through
// its typed struct via the json tags already on RecallParams,
// WriteNoteParams, DeleteNoteParams, and ListNotesParams.
func decodeParams[T any](params map[string]interface{}) (T, error) {
	var out T
	raw, err := json.Marshal(params)
	if err != nil {
		return out, fmt.Errorf("marshal tool params: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("unmarshal tool params: %w", err)
	}
	return out, nil
}

// RegisterMemoryTools wires recallMemory, writeMemoryNote,
// deleteMemoryNote, and listMemoryNotes into executor, backed by
// manager and rooted at workspacePath.
func RegisterMemoryTools(executor ToolExecutor, manager *Manager, workspacePath string) error {
	tools := []toolexecutor.ToolDefinition{
		{
			Name:        "recallMemory",
			Description: "Search indexed memory notes using hybrid vector and keyword search",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "query", Type: "string", Description: "Search query", Required: true},
				{Name: "limit", Type: "integer", Description: "Maximum number of results to return", Default: 20},
				{Name: "vector_weight", Type: "number", Description: "Weight for vector similarity (0-1)", Default: 0.7},
				{Name: "keyword_weight", Type: "number", Description: "Weight for keyword matching (0-1)", Default: 0.3},
				{Name: "min_score", Type: "number", Description: "Minimum relevance score threshold", Default: 0.0},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				p, err := decodeParams[RecallParams](params)
				if err != nil {
					return nil, err
				}
				return RecallNotes(ctx, manager, p)
			},
		},
		{
			Name:        "writeMemoryNote",
			Description: "Create or update a memory note",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "path", Type: "string", Description: "Relative path to the note (must end with .md)", Required: true},
				{Name: "content", Type: "string", Description: "Content to write", Required: true},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				p, err := decodeParams[WriteNoteParams](params)
				if err != nil {
					return nil, err
				}
				return WriteNote(ctx, manager, workspacePath, p)
			},
		},
		{
			Name:        "deleteMemoryNote",
			Description: "Delete a memory note",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "path", Type: "string", Description: "Relative path to the note to delete", Required: true},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				p, err := decodeParams[DeleteNoteParams](params)
				if err != nil {
					return nil, err
				}
				return DeleteNote(ctx, manager, workspacePath, p)
			},
		},
		{
			Name:        "listMemoryNotes",
			Description: "List memory notes, optionally filtered by a glob pattern",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "pattern", Type: "string", Description: "Optional glob pattern to filter notes"},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				p, err := decodeParams[ListNotesParams](params)
				if err != nil {
					return nil, err
				}
				return ListNotes(ctx, workspacePath, p)
			},
		},
	}

	for _, tool := range tools {
		if err := executor.RegisterTool(tool); err != nil {
			return fmt.Errorf("register tool %s: %w", tool.Name, err)
		}
	}
	return nil
}
