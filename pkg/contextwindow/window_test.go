package contextwindow

import (
	"testing"
	"time"

	"github.com/harun/ranya-core/pkg/convo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userItem(tokens int) convo.Item {
	return convo.Item{
		Role:        convo.RoleUser,
		MessageType: convo.TypeUserMessage,
		Content:     []convo.Block{convo.TextBlock("hi")},
		TokenCount:  tokens,
		CreatedAt:   time.Now(),
	}
}

func assistantItem(tokens int) convo.Item {
	return convo.Item{
		Role:        convo.RoleAssistant,
		MessageType: convo.TypeAssistantResponse,
		Content:     []convo.Block{convo.TextBlock("ok")},
		TokenCount:  tokens,
		CreatedAt:   time.Now(),
	}
}

func toolPair(tokens int) []convo.Item {
	return []convo.Item{
		{
			Role:        convo.RoleAssistant,
			MessageType: convo.TypeToolUse,
			Content:     []convo.Block{convo.ToolUseBlock("t1", "grep", nil)},
			TokenCount:  tokens,
			CreatedAt:   time.Now(),
		},
		{
			Role:        convo.RoleUser,
			MessageType: convo.TypeToolResult,
			Content:     []convo.Block{convo.ToolResultBlock("t1", []convo.Block{convo.TextBlock("found")}, convo.ToolResultSuccess)},
			TokenCount:  0,
			CreatedAt:   time.Now(),
		},
	}
}

func TestNoOpFiltering_ProjectsAllItems(t *testing.T) {
	items := []convo.Item{userItem(10), assistantItem(5)}
	w := NoOpFiltering(items)
	assert.Len(t, w.Messages, 2)
	assert.Equal(t, 15, w.TotalTokens)
	assert.False(t, w.Truncated)
}

func TestMiddleOutFiltering_NoOpBelowCap(t *testing.T) {
	items := []convo.Item{userItem(10), assistantItem(5)}
	w := MiddleOutFiltering(items, 1000)
	assert.Len(t, w.Items, 2)
	assert.False(t, w.Truncated)
}

func TestMiddleOutFiltering_RemovesMiddleRangeUnderCap(t *testing.T) {
	var items []convo.Item
	items = append(items, userItem(1000)) // earliest: initial task statement
	for i := 0; i < 500; i++ {
		items = append(items, assistantItem(1000))
	}
	items = append(items, userItem(1000)) // latest

	w := MiddleOutFiltering(items, 190000)
	require.True(t, w.Truncated)
	assert.LessOrEqual(t, w.TotalTokens, 190000)
	assert.Equal(t, items[0], w.Items[0])
	assert.Equal(t, items[len(items)-1], w.Items[len(w.Items)-1])
	assert.Less(t, len(w.Items), len(items))
}

func TestMiddleOutFiltering_NeverSplitsAToolPair(t *testing.T) {
	var items []convo.Item
	items = append(items, userItem(1000))
	for i := 0; i < 200; i++ {
		items = append(items, toolPair(1000)...)
	}
	items = append(items, userItem(1000))

	w := MiddleOutFiltering(items, 190000)
	for i := 1; i < len(w.Items); i++ {
		if w.Items[i-1].MessageType == convo.TypeToolUse {
			assert.Equal(t, convo.TypeToolResult, w.Items[i].MessageType,
				"a toolUse item must never be followed by anything other than its toolResult in the kept window")
		}
	}
}

func TestMiddleOutFiltering_FullLogKeptWhenNoSafeSplitExists(t *testing.T) {
	items := toolPair(1_000_000)
	w := MiddleOutFiltering(items, 100)
	assert.Len(t, w.Items, 2)
}

func TestPlaceCachePoints_ShortLogCollapsesToLastMessage(t *testing.T) {
	w := NoOpFiltering([]convo.Item{userItem(10)})
	messages := PlaceCachePoints(w.Messages, w.Truncated)
	assert.True(t, messages[0].CachePoint)
}

func TestPlaceCachePoints_LongUntruncatedLogUsesTwoSlots(t *testing.T) {
	items := []convo.Item{userItem(1), assistantItem(1), userItem(1), assistantItem(1), userItem(1)}
	w := NoOpFiltering(items)
	messages := PlaceCachePoints(w.Messages, w.Truncated)

	assert.True(t, messages[len(messages)-1].CachePoint)
	assert.True(t, messages[len(messages)-3].CachePoint)
	assert.False(t, messages[0].CachePoint)
}

func TestPlaceCachePoints_TruncatedLogCollapsesToOneSlot(t *testing.T) {
	items := []convo.Item{userItem(1), assistantItem(1), userItem(1), assistantItem(1), userItem(1)}
	messages := PlaceCachePoints(itemsToMessages(items), true)

	cachePointCount := 0
	for _, m := range messages {
		if m.CachePoint {
			cachePointCount++
		}
	}
	assert.Equal(t, 1, cachePointCount)
	assert.True(t, messages[len(messages)-1].CachePoint)
}

func TestReasoningEligible_TrueOnFreshUserTurn(t *testing.T) {
	items := []convo.Item{userItem(1)}
	assert.True(t, ReasoningEligible(items))
}

func TestReasoningEligible_FalseMidToolChainWithoutReasoning(t *testing.T) {
	items := []convo.Item{userItem(1)}
	items = append(items, toolPair(1)...)
	assert.False(t, ReasoningEligible(items))
}

func TestReasoningEligible_TrueMidToolChainWithReasoning(t *testing.T) {
	items := []convo.Item{userItem(1)}
	pair := toolPair(1)
	pair[0].Content = append(pair[0].Content, convo.ReasoningBlock("thinking", "sig"))
	items = append(items, pair...)
	assert.True(t, ReasoningEligible(items))
}

func TestReasoningEligible_OnlyInspectsImmediatePriorMessage(t *testing.T) {
	items := []convo.Item{userItem(1)}
	items = append(items, toolPair(1)...)
	items = append(items, toolPair(1)...)
	assert.False(t, ReasoningEligible(items), "the second-to-last item is the most recent toolUse, which carries no reasoning block")
}
