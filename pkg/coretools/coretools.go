// Package coretools registers the built-in tool handlers the Agent
// Turn Loop dispatches to: the required set every catalog carries
// (requiredtools.go), repository cloning (repository.go), and the
// baseline workspace tools below. Handlers receive schema-validated
// input plus an execution context and return either a string or
// structured content.
package coretools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/harun/ranya-core/pkg/toolexecutor"
)

// Options configures workspace tool registration.
type Options struct {
	WorkspaceRoot string
}

// defaultCommandTimeout bounds a commandExecution call that names no
// timeout of its own.
const defaultCommandTimeout = 30 * time.Second

// defaultReadLimit caps readFile output so a giant file can't blow the
// conversation's token budget in one tool result.
const defaultReadLimit = 200_000

// RegisterWorkspaceTools registers the session's workspace tools:
// commandExecution, readFile, writeFile, editFile.
func RegisterWorkspaceTools(executor *toolexecutor.ToolExecutor, opts Options) error {
	if executor == nil {
		return errors.New("tool executor is required")
	}
	for _, tool := range []toolexecutor.ToolDefinition{
		commandExecutionTool(opts),
		readFileTool(opts),
		writeFileTool(opts),
		editFileTool(opts),
	} {
		if err := executor.RegisterTool(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
		}
	}
	return nil
}

// commandExecutionTool runs a shell command line inside the workspace.
// The command is passed through `sh -c` so the model can use pipes and
// redirection the way it would in a terminal.
func commandExecutionTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "commandExecution",
		Description: "Run a shell command in the session workspace and return its output and exit code.",
		Category:    toolexecutor.CategoryShell,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "command", Type: "string", Description: "Shell command line to run", Required: true},
			{Name: "cwd", Type: "string", Description: "Working directory relative to the workspace", Required: false},
			{Name: "timeoutSeconds", Type: "number", Description: "Kill the command after this many seconds (default 30)", Required: false},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			command, _ := params["command"].(string)
			if strings.TrimSpace(command) == "" {
				return nil, fmt.Errorf("command is required")
			}

			root, err := workspaceRoot(ctx, opts)
			if err != nil {
				return nil, err
			}
			dir := root
			if rel, _ := params["cwd"].(string); strings.TrimSpace(rel) != "" {
				if dir, err = containedPath(root, rel); err != nil {
					return nil, err
				}
			}

			timeout := defaultCommandTimeout
			if secs, ok := params["timeoutSeconds"].(float64); ok && secs > 0 {
				timeout = time.Duration(secs * float64(time.Second))
			}
			runCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			cmd := exec.CommandContext(runCtx, "sh", "-c", command)
			cmd.Dir = dir
			var stdout, stderr bytes.Buffer
			cmd.Stdout, cmd.Stderr = &stdout, &stderr

			runErr := cmd.Run()
			exitCode := 0
			if runErr != nil {
				var exitErr *exec.ExitError
				if !errors.As(runErr, &exitErr) {
					return nil, runErr
				}
				exitCode = exitErr.ExitCode()
			}
			return map[string]interface{}{
				"stdout":   stdout.String(),
				"stderr":   stderr.String(),
				"exitCode": exitCode,
			}, nil
		},
	}
}

func readFileTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "readFile",
		Description: "Read a file from the session workspace.",
		Category:    toolexecutor.CategoryRead,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "path", Type: "string", Description: "Workspace-relative file path", Required: true},
			{Name: "maxBytes", Type: "number", Description: "Truncate after this many bytes (default 200000)", Required: false},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			root, err := workspaceRoot(ctx, opts)
			if err != nil {
				return nil, err
			}
			relPath, _ := params["path"].(string)
			target, err := containedPath(root, relPath)
			if err != nil {
				return nil, err
			}

			limit := int64(defaultReadLimit)
			if raw, ok := params["maxBytes"].(float64); ok && raw > 0 {
				limit = int64(raw)
			}

			f, err := os.Open(target)
			if err != nil {
				return nil, err
			}
			defer f.Close()

			var buf bytes.Buffer
			if _, err := io.CopyN(&buf, f, limit); err != nil && !errors.Is(err, io.EOF) {
				return nil, err
			}
			truncated := false
			if _, err := f.Read(make([]byte, 1)); err == nil {
				truncated = true
			}
			return map[string]interface{}{
				"path":      relPath,
				"content":   buf.String(),
				"truncated": truncated,
			}, nil
		},
	}
}

func writeFileTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "writeFile",
		Description: "Create or overwrite a file in the session workspace.",
		Category:    toolexecutor.CategoryWrite,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "path", Type: "string", Description: "Workspace-relative file path", Required: true},
			{Name: "content", Type: "string", Description: "Full file content", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			root, err := workspaceRoot(ctx, opts)
			if err != nil {
				return nil, err
			}
			relPath, _ := params["path"].(string)
			target, err := containedPath(root, relPath)
			if err != nil {
				return nil, err
			}
			content, _ := params["content"].(string)

			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return nil, err
			}
			if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
				return nil, err
			}
			return fmt.Sprintf("wrote %d bytes to %s", len(content), relPath), nil
		},
	}
}

func editFileTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "editFile",
		Description: "Replace an exact text match inside a workspace file.",
		Category:    toolexecutor.CategoryWrite,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "path", Type: "string", Description: "Workspace-relative file path", Required: true},
			{Name: "search", Type: "string", Description: "Exact text to find", Required: true},
			{Name: "replace", Type: "string", Description: "Replacement text", Required: true},
			{Name: "replaceAll", Type: "boolean", Description: "Replace every occurrence (default: first only)", Required: false},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			root, err := workspaceRoot(ctx, opts)
			if err != nil {
				return nil, err
			}
			relPath, _ := params["path"].(string)
			target, err := containedPath(root, relPath)
			if err != nil {
				return nil, err
			}
			search, _ := params["search"].(string)
			if search == "" {
				return nil, fmt.Errorf("search is required")
			}
			replace, _ := params["replace"].(string)
			replaceAll, _ := params["replaceAll"].(bool)

			data, err := os.ReadFile(target)
			if err != nil {
				return nil, err
			}
			content := string(data)
			count := strings.Count(content, search)
			if count == 0 {
				return nil, fmt.Errorf("search text not found in %s", relPath)
			}
			if replaceAll {
				content = strings.ReplaceAll(content, search, replace)
			} else {
				content = strings.Replace(content, search, replace, 1)
				count = 1
			}
			if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
				return nil, err
			}
			return fmt.Sprintf("replaced %d occurrence(s) in %s", count, relPath), nil
		},
	}
}

// workspaceRoot resolves the directory a tool call operates under: the
// execution context's working dir when the dispatcher set one, else the
// registration-time default.
func workspaceRoot(ctx context.Context, opts Options) (string, error) {
	if execCtx := toolexecutor.ExecContextFromContext(ctx); execCtx != nil && strings.TrimSpace(execCtx.WorkingDir) != "" {
		return filepath.Clean(execCtx.WorkingDir), nil
	}
	if strings.TrimSpace(opts.WorkspaceRoot) != "" {
		return filepath.Clean(opts.WorkspaceRoot), nil
	}
	return "", fmt.Errorf("workspace root is not configured")
}

// containedPath joins rel onto root and rejects any result that
// escapes it, so a crafted ../ path can't reach outside the session's
// workspace.
func containedPath(root, rel string) (string, error) {
	rel = strings.TrimSpace(rel)
	if rel == "" {
		return "", fmt.Errorf("path is required")
	}
	candidate := rel
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}
	candidate = filepath.Clean(candidate)

	within, err := filepath.Rel(root, candidate)
	if err != nil {
		return "", err
	}
	if within == ".." || strings.HasPrefix(within, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside the workspace", rel)
	}
	return candidate, nil
}
