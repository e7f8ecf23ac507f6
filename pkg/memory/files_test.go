package memory

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotePath_ResolvesInsideTheWorkspace(t *testing.T) {
	workspace := t.TempDir()

	full, err := notePath(workspace, "notes/today.md")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(workspace, "notes", "today.md"), full)
	assert.True(t, strings.HasPrefix(full, workspace))
}

func TestNotePath_RejectsUnsafeInput(t *testing.T) {
	workspace := t.TempDir()

	for name, rel := range map[string]string{
		"empty":           "",
		"whitespace only": "   ",
		"absolute":        "/etc/passwd.md",
		"parent escape":   "../outside.md",
		"nested escape":   "notes/../../outside.md",
		"bare parent":     "..",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := notePath(workspace, rel)
			assert.Error(t, err, "input %q must be rejected", rel)
		})
	}
}

func TestNotePath_AllowsDotSegmentsThatStayInside(t *testing.T) {
	workspace := t.TempDir()

	full, err := notePath(workspace, "notes/../kept.md")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(workspace, "kept.md"), full)
}
