package observability

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitAuditLoggerWritesToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")

	require.NoError(t, InitAuditLogger(path))
	defer GetAuditLogger().Close()

	RecordToolAudit(context.Background(), "read_file", "worker-1", "success", map[string]interface{}{"duration": 12})

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "read_file")
	assert.Contains(t, string(data), "worker-1")
}

func TestRecordSecurityAudit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")
	require.NoError(t, InitAuditLogger(path))
	defer GetAuditLogger().Close()

	RecordSecurityAudit(context.Background(), "policy_violation:exec_shell", "worker-2", "denied", nil)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "policy_violation:exec_shell")
	assert.Contains(t, string(data), "denied")
}
