package coretools

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/harun/ranya-core/internal/kvstore"
	"github.com/harun/ranya-core/pkg/metadata"
	"github.com/harun/ranya-core/pkg/toolexecutor"
)

// RequiredToolsOptions configures the fixed set of tools every custom
// agent's catalog must include regardless of its AllowedTools list.
type RequiredToolsOptions struct {
	Metadata *metadata.Store
}

// RegisterRequiredTools registers reportProgress, todoInit,
// todoUpdate, and sendImage, the fixed set every agent's catalog
// carries.
func RegisterRequiredTools(executor *toolexecutor.ToolExecutor, opts RequiredToolsOptions) error {
	if executor == nil {
		return fmt.Errorf("tool executor is required")
	}

	tools := []toolexecutor.ToolDefinition{
		reportProgressTool(),
		todoInitTool(opts),
		todoUpdateTool(opts),
		sendImageTool(),
	}
	for _, tool := range tools {
		if err := executor.RegisterTool(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
		}
	}
	return nil
}

// reportProgressTool echoes its message back as the tool's output;
// the Agent Turn Loop's post-effect for this tool name records the
// message into the session's progress transcript and bumps the
// last-report timestamp.
func reportProgressTool() toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "reportProgress",
		Description: "Report a human-readable progress update to the session's originator.",
		Category:    toolexecutor.CategoryGeneral,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "message", Type: "string", Description: "Progress update text", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			message, _ := params["message"].(string)
			if strings.TrimSpace(message) == "" {
				return nil, fmt.Errorf("message is required")
			}
			return message, nil
		},
	}
}

func todoInitTool(opts RequiredToolsOptions) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "todoInit",
		Description: "Replace the session's todo list.",
		Category:    toolexecutor.CategoryGeneral,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "items", Type: "array", Description: "Todo item descriptions", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			execCtx := toolexecutor.ExecContextFromContext(ctx)
			if execCtx == nil || opts.Metadata == nil {
				return nil, fmt.Errorf("todoInit requires a session context")
			}
			items := toStringSlice(params["items"])
			if err := opts.Metadata.Set(ctx, execCtx.WorkerID, "todos", kvstore.Item{"items": items}); err != nil {
				return nil, err
			}
			return map[string]interface{}{"count": len(items)}, nil
		},
	}
}

func todoUpdateTool(opts RequiredToolsOptions) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "todoUpdate",
		Description: "Mark one todo item's status.",
		Category:    toolexecutor.CategoryGeneral,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "index", Type: "integer", Description: "Zero-based todo index", Required: true},
			{Name: "status", Type: "string", Description: "New status for the item", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			execCtx := toolexecutor.ExecContextFromContext(ctx)
			if execCtx == nil || opts.Metadata == nil {
				return nil, fmt.Errorf("todoUpdate requires a session context")
			}
			index := toInt(params["index"])
			status, _ := params["status"].(string)
			rec, ok, err := opts.Metadata.Get(ctx, execCtx.WorkerID, "todos")
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, fmt.Errorf("no todo list has been initialized")
			}
			statuses, _ := rec["statuses"].(map[string]interface{})
			if statuses == nil {
				statuses = make(map[string]interface{})
			}
			statuses[fmt.Sprint(index)] = status
			if err := opts.Metadata.Update(ctx, execCtx.WorkerID, "todos", kvstore.Item{"statuses": statuses}); err != nil {
				return nil, err
			}
			return map[string]interface{}{"index": index, "status": status}, nil
		},
	}
}

// sendImageTool reads image bytes from a workspace-relative path and
// returns them alongside the format, so the Agent Turn Loop's tool
// result conversion can wrap the output as an image content block
// instead of a text block.
func sendImageTool() toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "sendImage",
		Description: "Send an image from the workspace to the session's originator.",
		Category:    toolexecutor.CategoryGeneral,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "path", Type: "string", Description: "Workspace-relative image path", Required: true},
			{Name: "format", Type: "string", Description: "png or jpeg; defaults to png", Required: false},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			root, err := workspaceRoot(ctx, Options{})
			if err != nil {
				return nil, err
			}
			pathValue, _ := params["path"].(string)
			target, err := containedPath(root, pathValue)
			if err != nil {
				return nil, err
			}
			data, err := os.ReadFile(target)
			if err != nil {
				return nil, err
			}
			format, _ := params["format"].(string)
			if format == "" {
				format = "png"
			}
			return map[string]interface{}{"imageBytes": data, "imageFormat": format}, nil
		},
	}
}

func toStringSlice(value interface{}) []string {
	raw, ok := value.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
