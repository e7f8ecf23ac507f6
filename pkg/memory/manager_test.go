package memory

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	workspace := t.TempDir()

	m, err := NewManager(Config{
		WorkspacePath: workspace,
		DBPath:        filepath.Join(workspace, "index.db"),
		Logger:        zerolog.Nop(),
		Embedder:      NewMockEmbedder(384),
	})
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m, workspace
}

func writeNote(t *testing.T, workspace, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(workspace, name), []byte(content), 0o644))
}

func TestNewManager_RequiresPaths(t *testing.T) {
	_, err := NewManager(Config{DBPath: "/tmp/x.db", Logger: zerolog.Nop()})
	assert.Error(t, err)

	_, err = NewManager(Config{WorkspacePath: t.TempDir(), Logger: zerolog.Nop()})
	assert.Error(t, err)
}

func TestSync_IndexesMarkdownOnly(t *testing.T) {
	m, workspace := newTestManager(t)
	writeNote(t, workspace, "notes.md", "# Notes\n\nIndexed content.")
	writeNote(t, workspace, "ignored.txt", "plain text is not a note")
	writeNote(t, workspace, "ignored.html", "<h1>also not a note</h1>")

	require.NoError(t, m.Sync())

	status := m.Status()
	assert.Equal(t, 1, status.TotalFiles)
	assert.Greater(t, status.TotalChunks, 0)
	assert.False(t, status.IsDirty)
	assert.NotNil(t, status.LastSyncTime)
}

func TestSync_UnchangedNotesAreSkipped(t *testing.T) {
	m, workspace := newTestManager(t)
	writeNote(t, workspace, "a.md", "# A\n\nstable content")

	require.NoError(t, m.Sync())
	first := m.Status()

	m.MarkDirty()
	require.NoError(t, m.Sync())
	second := m.Status()

	assert.Equal(t, first.TotalFiles, second.TotalFiles)
	assert.Equal(t, first.TotalChunks, second.TotalChunks)
}

func TestSync_PrunesDeletedNotes(t *testing.T) {
	m, workspace := newTestManager(t)
	for _, name := range []string{"a.md", "b.md", "c.md"} {
		writeNote(t, workspace, name, "# "+name+"\n\ncontent")
	}
	require.NoError(t, m.Sync())
	require.Equal(t, 3, m.Status().TotalFiles)

	require.NoError(t, os.Remove(filepath.Join(workspace, "b.md")))
	m.MarkDirty()
	require.NoError(t, m.Sync())

	status := m.Status()
	assert.Equal(t, 2, status.TotalFiles)

	// Recall should no longer surface the pruned note.
	hits, err := m.Recall("content", &RecallOptions{Limit: 10})
	require.NoError(t, err)
	for _, h := range hits {
		assert.NotEqual(t, "b.md", h.FilePath)
	}
}

func TestRecall_EmptyQueryReturnsNothing(t *testing.T) {
	m, _ := newTestManager(t)
	hits, err := m.Recall("  ", nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestRecall_BlendsKeywordAndVectorScores(t *testing.T) {
	m, workspace := newTestManager(t)
	writeNote(t, workspace, "go.md", "# Go\n\nGoroutines make concurrent programming in Go straightforward.")
	writeNote(t, workspace, "cooking.md", "# Cooking\n\nSear the onions before deglazing the pan.")
	require.NoError(t, m.Sync())

	hits, err := m.Recall("concurrent goroutines", nil)
	require.NoError(t, err)
	require.NotEmpty(t, hits)

	top := hits[0]
	assert.Equal(t, "go.md", top.FilePath)
	assert.NotEmpty(t, top.ChunkID)
	assert.NotEmpty(t, top.Content)
	assert.Greater(t, top.Score, 0.0)
	assert.NotNil(t, top.VectorScore)
	assert.NotNil(t, top.KeywordScore)
}

func TestRecall_HonorsLimit(t *testing.T) {
	m, workspace := newTestManager(t)
	for i := 0; i < 8; i++ {
		writeNote(t, workspace, string(rune('a'+i))+".md", "# Note\n\ndeploy deploy deploy")
	}
	require.NoError(t, m.Sync())

	hits, err := m.Recall("deploy", &RecallOptions{Limit: 3})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(hits), 3)
}

func TestRecall_SyncsWhenDirty(t *testing.T) {
	m, workspace := newTestManager(t)
	require.NoError(t, m.Sync())

	writeNote(t, workspace, "late.md", "# Late\n\nfreshly written searchable note")
	m.MarkDirty()

	hits, err := m.Recall("searchable", nil)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "late.md", hits[0].FilePath)
}

func TestWatcher_MarksIndexDirty(t *testing.T) {
	m, workspace := newTestManager(t)
	require.NoError(t, m.Sync())
	require.False(t, m.Status().IsDirty)

	writeNote(t, workspace, "new.md", "# New\n\njust arrived")

	require.Eventually(t, func() bool { return m.Status().IsDirty },
		3*time.Second, 50*time.Millisecond, "watcher should flag the new note")
}

func TestChunkNote_SplitsOnHeadings(t *testing.T) {
	chunks := chunkNote("# One\n\nfirst section\n\n# Two\n\nsecond section\n")
	require.Len(t, chunks, 2)
	assert.Contains(t, chunks[0], "first section")
	assert.Contains(t, chunks[1], "second section")
}

func TestChunkNote_CapsOversizedSections(t *testing.T) {
	var paras []string
	for i := 0; i < 20; i++ {
		paras = append(paras, "This paragraph pads the section well past the chunk cap with repeated filler text.")
	}
	content := "# Big\n\n" + joinParagraphs(paras)

	chunks := chunkNote(content)
	assert.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), maxChunkRunes+2)
	}
}

func joinParagraphs(paras []string) string {
	out := ""
	for i, p := range paras {
		if i > 0 {
			out += "\n\n"
		}
		out += p
	}
	return out
}
