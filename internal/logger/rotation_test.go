package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWriter(t *testing.T, maxSizeMB, maxAgeDays int) (*RotatingWriter, string) {
	t.Helper()
	logFile := filepath.Join(t.TempDir(), "nested", "core.log")
	rw, err := NewRotatingWriter(logFile, maxSizeMB, maxAgeDays, false)
	require.NoError(t, err)
	t.Cleanup(func() { rw.Close() })
	return rw, logFile
}

func TestRotatingWriter_CreatesFileAndParentDir(t *testing.T) {
	_, logFile := newTestWriter(t, 10, 7)

	_, err := os.Stat(logFile)
	assert.NoError(t, err, "log file should exist after construction")
}

func TestRotatingWriter_WritesThrough(t *testing.T) {
	rw, logFile := newTestWriter(t, 10, 7)

	line := []byte("turn started worker_id=w1\n")
	n, err := rw.Write(line)
	require.NoError(t, err)
	assert.Equal(t, len(line), n)

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), "turn started")
}

func TestRotatingWriter_RotatesWhenOverSize(t *testing.T) {
	// A zero-MB cap trips rotation on the very first write.
	rw, logFile := newTestWriter(t, 0, 7)

	_, err := rw.Write([]byte(strings.Repeat("x", 128)))
	require.NoError(t, err)

	rotated, err := filepath.Glob(logFile + ".*")
	require.NoError(t, err)
	require.Len(t, rotated, 1)

	// The empty pre-rotation file moved aside; the write landed fresh.
	old, err := os.ReadFile(rotated[0])
	require.NoError(t, err)
	assert.Empty(t, old)

	current, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Len(t, current, 128)
}

func TestRotatingWriter_CompressesRotatedFile(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "old.log")
	require.NoError(t, os.WriteFile(target, []byte("archived lines"), 0o644))

	rw := &RotatingWriter{compress: true}
	require.NoError(t, rw.compressFile(target))

	_, err := os.Stat(target + ".gz")
	assert.NoError(t, err, "gzip sibling should exist")
	_, err = os.Stat(target)
	assert.True(t, os.IsNotExist(err), "uncompressed original should be gone")
}

func TestRotatingWriter_CleanupDropsExpiredFiles(t *testing.T) {
	rw, logFile := newTestWriter(t, 10, 7)

	expired := logFile + ".20200101-120000"
	require.NoError(t, os.WriteFile(expired, []byte("stale"), 0o644))
	tenDaysAgo := time.Now().AddDate(0, 0, -10)
	require.NoError(t, os.Chtimes(expired, tenDaysAgo, tenDaysAgo))

	rw.cleanup()

	require.Eventually(t, func() bool {
		_, err := os.Stat(expired)
		return os.IsNotExist(err)
	}, time.Second, 20*time.Millisecond, "file past maxAge should be removed")
}
