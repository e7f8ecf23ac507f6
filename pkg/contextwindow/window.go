package contextwindow

import (
	"github.com/harun/ranya-core/pkg/convo"
	"github.com/harun/ranya-core/pkg/llm"
)

// DefaultTokenCap is the soft cap middle-out truncation enforces,
// roughly 95% of a 200k context window.
const DefaultTokenCap = 190000

// Window is the projection of a session's items into the shape the
// LLM Client's Request.Messages expects, alongside the token total
// that projection carries.
type Window struct {
	Items       []convo.Item
	Messages    []llm.Message
	TotalTokens int

	// Truncated reports whether middle-out ran, which collapses the
	// cache-point plan down to a single slot on the last message.
	Truncated bool
}

// NoOpFiltering is the identity projection: every item becomes one
// message, in order, with no truncation.
func NoOpFiltering(items []convo.Item) Window {
	return Window{
		Items:       items,
		Messages:    itemsToMessages(items),
		TotalTokens: sumTokens(items),
	}
}

// MiddleOutFiltering enforces capTokens (DefaultTokenCap when <= 0) by
// removing a contiguous range from the middle of items, preserving the
// earliest and latest items while never splitting a toolUse/toolResult
// pair across the kept/removed boundary. When no cap-satisfying split
// exists without violating the pairing invariant, the full log is kept
// — pairing correctness outranks the cap.
func MiddleOutFiltering(items []convo.Item, capTokens int) Window {
	if capTokens <= 0 {
		capTokens = DefaultTokenCap
	}
	if sumTokens(items) <= capTokens || len(items) == 0 {
		return NoOpFiltering(items)
	}

	prefixEnd, suffixStart := computeKeepRange(items, capTokens)
	if prefixEnd >= suffixStart {
		return NoOpFiltering(items)
	}

	kept := make([]convo.Item, 0, prefixEnd+(len(items)-suffixStart))
	kept = append(kept, items[:prefixEnd]...)
	kept = append(kept, items[suffixStart:]...)

	return Window{
		Items:       kept,
		Messages:    itemsToMessages(kept),
		TotalTokens: sumTokens(kept),
		Truncated:   true,
	}
}

func itemsToMessages(items []convo.Item) []llm.Message {
	messages := make([]llm.Message, len(items))
	for i, item := range items {
		messages[i] = llm.Message{Role: item.Role, Content: item.Content}
	}
	return messages
}

// sumTokens adds up each item's billed tokenCount, never an estimate.
func sumTokens(items []convo.Item) int {
	total := 0
	for _, item := range items {
		total += item.TokenCount
	}
	return total
}

// isSplitBoundary reports whether cutting the log between b-1 and b
// would separate an atomically-appended toolUse/toolResult pair.
func isSplitBoundary(items []convo.Item, b int) bool {
	if b <= 0 || b >= len(items) {
		return false
	}
	return items[b-1].MessageType == convo.TypeToolUse && items[b].MessageType == convo.TypeToolResult
}

// snapForwardSafe returns the smallest boundary >= b that doesn't
// split a pair.
func snapForwardSafe(items []convo.Item, b int) int {
	for isSplitBoundary(items, b) {
		b++
	}
	if b > len(items) {
		b = len(items)
	}
	return b
}

// snapBackwardSafe returns the largest boundary <= b that doesn't
// split a pair.
func snapBackwardSafe(items []convo.Item, b int) int {
	for isSplitBoundary(items, b) {
		b--
	}
	if b < 0 {
		b = 0
	}
	return b
}

// computeKeepRange greedily grows a prefix anchor and a suffix anchor
// outward from the log's two ends, always snapping to a pair-safe
// boundary and only committing growth that keeps the combined token
// sum within capTokens. It favors growing the suffix (the current
// tool chain) over the prefix (the initial framing) on each step.
func computeKeepRange(items []convo.Item, capTokens int) (prefixEnd, suffixStart int) {
	n := len(items)
	prefixEnd = snapForwardSafe(items, 1)
	suffixStart = snapBackwardSafe(items, n-1)
	if prefixEnd >= suffixStart {
		return n, n
	}

	prefixTokens := sumTokens(items[:prefixEnd])
	suffixTokens := sumTokens(items[suffixStart:])

	for prefixEnd < suffixStart {
		candidateStart := snapBackwardSafe(items, suffixStart-1)
		if candidateStart < suffixStart && candidateStart >= prefixEnd {
			added := sumTokens(items[candidateStart:suffixStart])
			if prefixTokens+suffixTokens+added <= capTokens {
				suffixStart = candidateStart
				suffixTokens += added
				continue
			}
		}

		candidateEnd := snapForwardSafe(items, prefixEnd+1)
		if candidateEnd > prefixEnd && candidateEnd <= suffixStart {
			added := sumTokens(items[prefixEnd:candidateEnd])
			if prefixTokens+suffixTokens+added <= capTokens {
				prefixTokens += added
				prefixEnd = candidateEnd
				continue
			}
		}

		break
	}

	return prefixEnd, suffixStart
}
