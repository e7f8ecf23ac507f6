package message

import (
	"context"
	"testing"
	"time"

	"github.com/harun/ranya-core/internal/kvstore"
	"github.com/harun/ranya-core/pkg/convo"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore() *Store {
	return New(kvstore.NewMemoryStore(), zerolog.Nop())
}

func TestAppend_AssignsSortKeyAndOrders(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	sk1, err := s.Append(ctx, "w1", convo.Item{
		Role: convo.RoleUser, MessageType: convo.TypeUserMessage,
		Content: []convo.Block{convo.TextBlock("hi")},
	})
	require.NoError(t, err)

	sk2, err := s.Append(ctx, "w1", convo.Item{
		Role: convo.RoleAssistant, MessageType: convo.TypeAssistantResponse,
		Content: []convo.Block{convo.TextBlock("hello")},
	})
	require.NoError(t, err)

	assert.NotEqual(t, sk1, sk2)
	assert.Less(t, sk1, sk2)

	items, err := s.List(ctx, "w1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, convo.RoleUser, items[0].Role)
	assert.Equal(t, convo.RoleAssistant, items[1].Role)
	assert.Equal(t, "hi", items[0].TextContent())
}

func TestAppendPair_AtomicAndOrdered(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	toolUse := convo.Item{
		Role: convo.RoleAssistant, MessageType: convo.TypeToolUse,
		Content: []convo.Block{convo.ToolUseBlock("tu-1", "read_file", map[string]any{"path": "a.go"})},
	}
	toolResult := convo.Item{
		Role: convo.RoleUser, MessageType: convo.TypeToolResult,
		Content: []convo.Block{convo.ToolResultBlock("tu-1", []convo.Block{convo.TextBlock("contents")}, convo.ToolResultSuccess)},
	}

	sks, err := s.AppendPair(ctx, "w1", toolUse, toolResult, 42, 0)
	require.NoError(t, err)
	assert.Less(t, sks[0], sks[1])

	items, err := s.List(ctx, "w1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, convo.TypeToolUse, items[0].MessageType)
	assert.Equal(t, convo.TypeToolResult, items[1].MessageType)
	assert.Equal(t, 42, items[1].TokenCount)
	assert.Equal(t, []string{"tu-1"}, items[0].ToolUseIDs())
}

func TestAppendPair_NeverPartiallyVisible(t *testing.T) {
	kv := kvstore.NewMemoryStore()
	s := New(kv, zerolog.Nop())
	ctx := context.Background()

	toolUse := convo.Item{Role: convo.RoleAssistant, MessageType: convo.TypeToolUse}
	toolResult := convo.Item{Role: convo.RoleUser, MessageType: convo.TypeToolResult}

	_, err := s.AppendPair(ctx, "w1", toolUse, toolResult, 0, 0)
	require.NoError(t, err)

	items, err := s.List(ctx, "w1")
	require.NoError(t, err)
	assert.Len(t, items, 2, "both halves of the pair must be visible together")
}

func TestAttributeInputTokens_DeltaGoesToLastUserItem(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	_, err := s.Append(ctx, "w1", convo.Item{Role: convo.RoleUser, MessageType: convo.TypeUserMessage, TokenCount: 10})
	require.NoError(t, err)
	_, err = s.Append(ctx, "w1", convo.Item{Role: convo.RoleAssistant, MessageType: convo.TypeAssistantResponse, TokenCount: 5})
	require.NoError(t, err)

	require.NoError(t, s.AttributeInputTokens(ctx, "w1", 30))

	items, err := s.List(ctx, "w1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, 25, items[0].TokenCount) // 10 + (30 - 15)
	assert.Equal(t, 5, items[1].TokenCount)

	sum := 0
	for _, it := range items {
		sum += it.TokenCount
	}
	assert.Equal(t, 30, sum)
}

func TestUpdateTokenCount(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	sk, err := s.Append(ctx, "w1", convo.Item{Role: convo.RoleUser, MessageType: convo.TypeUserMessage})
	require.NoError(t, err)

	require.NoError(t, s.UpdateTokenCount(ctx, "w1", sk, 99))

	items, err := s.List(ctx, "w1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 99, items[0].TokenCount)
}

func TestNewSortKey_Monotonic(t *testing.T) {
	a := NewSortKey()
	time.Sleep(time.Millisecond)
	b := NewSortKey()
	assert.Less(t, a, b)
}
