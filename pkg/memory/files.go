package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// notePath resolves a workspace-relative note path to an absolute one,
// rejecting anything that would land outside the workspace. WriteNote
// and DeleteNote route every caller-supplied path through here so a
// crafted "../" can never reach a file the session doesn't own.
func notePath(workspace, rel string) (string, error) {
	if strings.TrimSpace(rel) == "" {
		return "", fmt.Errorf("note path is required")
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("note path must be workspace-relative: %s", rel)
	}

	full := filepath.Join(workspace, rel)
	within, err := filepath.Rel(workspace, full)
	if err != nil {
		return "", fmt.Errorf("resolve note path: %w", err)
	}
	if within == ".." || strings.HasPrefix(within, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("note path escapes the workspace: %s", rel)
	}
	return full, nil
}

// ensureParentDir creates the directory a note is about to be written
// into.
func ensureParentDir(full string) error {
	return os.MkdirAll(filepath.Dir(full), 0o755)
}
