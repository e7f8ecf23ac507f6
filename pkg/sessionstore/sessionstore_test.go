package sessionstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/harun/ranya-core/internal/kvstore"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore() *Store {
	return New(kvstore.NewMemoryStore(), zerolog.Nop())
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	created, err := s.Create(ctx, "w1", "slack")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, created.AgentStatus)

	got, ok, err := s.Get(ctx, "w1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "w1", got.WorkerID)
	assert.Equal(t, "slack", got.Initiator)
}

func TestGet_Missing(t *testing.T) {
	s := newTestStore()
	_, ok, err := s.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestList_NewestFirstAndHiddenFiltered(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Create(ctx, fmt.Sprintf("w%d", i), "cli")
		require.NoError(t, err)
		time.Sleep(1100 * time.Millisecond / 10) // ensure distinct unix-second buckets are unlikely to matter; ordering also breaks ties via update
	}
	require.NoError(t, s.UpdateVisibility(ctx, "w1", true))

	sessions, err := s.List(ctx, ListOptions{})
	require.NoError(t, err)
	for _, sess := range sessions {
		assert.NotEqual(t, "w1", sess.WorkerID)
	}

	all, err := s.List(ctx, ListOptions{IncludeHidden: true})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestUpdateStatus(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	_, err := s.Create(ctx, "w1", "cli")
	require.NoError(t, err)

	require.NoError(t, s.UpdateStatus(ctx, "w1", StatusWorking))

	got, _, err := s.Get(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, StatusWorking, got.AgentStatus)
}

func TestUpdateTitle_Truncates(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	_, err := s.Create(ctx, "w1", "cli")
	require.NoError(t, err)

	require.NoError(t, s.UpdateTitle(ctx, "w1", "This title is definitely too long"))

	got, _, err := s.Get(ctx, "w1")
	require.NoError(t, err)
	assert.LessOrEqual(t, len([]rune(got.Title)), titleMaxChars)
}

func TestTruncateTitle(t *testing.T) {
	assert.Equal(t, "short", TruncateTitle("short"))
	assert.Equal(t, "exactly15charss", TruncateTitle("exactly15charss"))
	assert.Len(t, []rune(TruncateTitle("this is way too long for a title")), titleMaxChars)
}

type fakeTitleGen struct {
	title string
	err   error
	calls int
}

func (f *fakeTitleGen) GenerateTitle(ctx context.Context, workerID, conversationText string) (string, error) {
	f.calls++
	return f.title, f.err
}

func TestGenerateTitleIfUnset_OnlyWhileEmpty(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	_, err := s.Create(ctx, "w1", "cli")
	require.NoError(t, err)

	gen := &fakeTitleGen{title: "Fix login bug"}
	s.GenerateTitleIfUnset(ctx, "w1", "conversation", gen)

	got, _, err := s.Get(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, "Fix login bug", got.Title)
	assert.Equal(t, 1, gen.calls)

	// Calling again is a no-op once a title is set.
	s.GenerateTitleIfUnset(ctx, "w1", "conversation", gen)
	assert.Equal(t, 1, gen.calls)
}

func TestGenerateTitleIfUnset_RetriesAfterFailure(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	_, err := s.Create(ctx, "w1", "cli")
	require.NoError(t, err)

	gen := &fakeTitleGen{err: assertError("boom")}
	s.GenerateTitleIfUnset(ctx, "w1", "conversation", gen)

	got, _, err := s.Get(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, "", got.Title)

	gen.err = nil
	gen.title = "Now it works"
	s.GenerateTitleIfUnset(ctx, "w1", "conversation", gen)

	got, _, err = s.Get(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, "Now it works", got.Title)
	assert.Equal(t, 2, gen.calls)
}

type simpleError string

func (e simpleError) Error() string { return string(e) }

func assertError(msg string) error { return simpleError(msg) }
