package contextwindow

import "github.com/harun/ranya-core/pkg/llm"

// PlaceCachePoints marks up to two messages as cache-point boundaries,
// mutating messages in place and returning it for chaining.
//
// secondCachePoint is always the last message. firstCachePoint is the
// item three back from the end (typically the previous user/toolResult
// boundary, so the cache survives one tool round trip) when the window
// has more than two messages, else it collapses onto the second slot —
// the same collapse middle-out always forces, since truncation
// invalidates any cache boundary that used to sit inside the removed
// range.
func PlaceCachePoints(messages []llm.Message, truncated bool) []llm.Message {
	n := len(messages)
	if n == 0 {
		return messages
	}

	secondIdx := n - 1
	firstIdx := secondIdx
	if !truncated && n > 2 {
		firstIdx = n - 3
	}

	messages[secondIdx].CachePoint = true
	if firstIdx != secondIdx {
		messages[firstIdx].CachePoint = true
	}
	return messages
}
