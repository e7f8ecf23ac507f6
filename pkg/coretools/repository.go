package coretools

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/harun/ranya-core/pkg/metadata"
	"github.com/harun/ranya-core/pkg/toolexecutor"
)

// RepositoryToolsOptions configures cloneRepository.
type RepositoryToolsOptions struct {
	WorkspaceRoot string
	Metadata      *metadata.Store
}

// RegisterRepositoryTools registers cloneRepository, the tool whose
// success the Agent Turn Loop treats specially: once a repository
// lands on disk, the loop re-derives
// its system prompt so the next iteration carries repo-local knowledge.
func RegisterRepositoryTools(executor *toolexecutor.ToolExecutor, opts RepositoryToolsOptions) error {
	if executor == nil {
		return fmt.Errorf("tool executor is required")
	}
	return executor.RegisterTool(cloneRepositoryTool(opts))
}

func cloneRepositoryTool(opts RepositoryToolsOptions) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "cloneRepository",
		Description: "Clone a git repository into the session's workspace and record it as the active repository.",
		Category:    toolexecutor.CategoryShell,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "url", Type: "string", Description: "Git remote URL", Required: true},
			{Name: "ref", Type: "string", Description: "Branch, tag, or commit to check out", Required: false},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			execCtx := toolexecutor.ExecContextFromContext(ctx)
			if execCtx == nil || opts.Metadata == nil {
				return nil, fmt.Errorf("cloneRepository requires a session context")
			}
			url, _ := params["url"].(string)
			if strings.TrimSpace(url) == "" {
				return nil, fmt.Errorf("url is required")
			}
			root, err := workspaceRoot(ctx, Options{WorkspaceRoot: opts.WorkspaceRoot})
			if err != nil {
				return nil, err
			}
			dir := filepath.Join(root, "repo")

			args := []string{"clone", "--depth", "1"}
			if ref, _ := params["ref"].(string); ref != "" {
				args = append(args, "--branch", ref)
			}
			args = append(args, url, dir)

			cmd := exec.CommandContext(ctx, "git", args...)
			output, err := cmd.CombinedOutput()
			if err != nil {
				return nil, fmt.Errorf("git clone failed: %w: %s", err, strings.TrimSpace(string(output)))
			}

			if err := opts.Metadata.SetRepoDirectory(ctx, execCtx.WorkerID, dir); err != nil {
				return nil, fmt.Errorf("record repository directory: %w", err)
			}
			return map[string]interface{}{"repoDirectory": dir}, nil
		},
	}
}
