package contextwindow

import "github.com/harun/ranya-core/pkg/convo"

// ReasoningEligible mirrors the condition exactly as described:
// reasoning may be enabled unless the second-to-last item is a
// tool-use message with no reasoning block of its own — i.e. we are
// mid tool chain and the assistant turn that started it never carried
// a thinking block. Only the immediate prior message is inspected;
// this does not walk an arbitrarily long tool chain.
func ReasoningEligible(items []convo.Item) bool {
	n := len(items)
	if n < 2 {
		return true
	}
	secondToLast := items[n-2]
	if secondToLast.MessageType != convo.TypeToolUse {
		return true
	}
	return hasReasoningBlock(secondToLast)
}

func hasReasoningBlock(item convo.Item) bool {
	for _, b := range item.Content {
		if b.Kind == convo.BlockReasoning {
			return true
		}
	}
	return false
}
