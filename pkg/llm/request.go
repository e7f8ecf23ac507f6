// Package llm implements the LLM Client: a
// provider-neutral request/response shape dispatched to either
// Bedrock or Anthropic, with model selection, input normalization,
// throttling-driven account rotation, and ledger accounting.
package llm

import "github.com/harun/ranya-core/pkg/convo"

// Message is one provider-neutral conversation turn handed to
// Converse, built by the Context Manager's windowing pass.
type Message struct {
	Role    convo.Role
	Content []convo.Block

	// CachePoint marks this message as one of the Context Manager's
	// two cache-point slots: the provider should cache
	// the prefix ending immediately after this message.
	CachePoint bool
}

// ToolSpec describes one tool available to the model, built from the
// Agent Turn Loop's catalog assembly step.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
}

// ToolChoiceKind selects how strongly the model is steered toward
// using a tool.
type ToolChoiceKind string

const (
	ToolChoiceAuto ToolChoiceKind = "auto"
	ToolChoiceAny  ToolChoiceKind = "any"
	ToolChoiceTool ToolChoiceKind = "tool"
)

// ToolChoice optionally steers the model's tool use.
type ToolChoice struct {
	Kind     ToolChoiceKind
	ToolName string // set when Kind == ToolChoiceTool
}

// InferenceConfig carries the generation parameters: maxTokens,
// temperature, topP.
type InferenceConfig struct {
	MaxTokens   int
	Temperature float64
	TopP        float64
}

// Request is the provider-neutral call shape the client normalizes
// before dispatch.
type Request struct {
	Messages []Message

	// SystemPrompt is the assembled system text. When
	// SystemPromptCachePoint is set, the client places a cache point
	// immediately after it, outside the message list.
	SystemPrompt           string
	SystemPromptCachePoint bool

	// Tools is the catalog passed for this call; nil/empty means no
	// tool use is offered and ToolChoice must be cleared, since some
	// providers reject an empty tool list. ToolsCachePoint
	// marks the catalog as cacheable; the system prompt and tool list
	// are the two most stable prefixes across calls.
	Tools           []ToolSpec
	ToolsCachePoint bool

	ToolChoice *ToolChoice
	Inference  InferenceConfig

	// ReasoningRequested is the Context Manager's verdict from
	// ReasoningEligible; the LLM Client still gates it against the
	// selected model's ReasoningSupport.
	ReasoningRequested bool
	// UltrathinkRequested additionally escalates the reasoning budget
	// when the last user
	// message contained the literal substring, case-insensitively.
	UltrathinkRequested bool
}

// Response is the provider-neutral result of one converse call.
type Response struct {
	Content    []convo.Block
	StopReason StopReason

	InputTokens           int
	OutputTokens          int
	CacheReadInputTokens  int
	CacheWriteInputTokens int
}

// StopReason enumerates why the model stopped generating.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
)

// Result is what Converse returns: the response plus the thinking
// budget actually used, reported only when it departs from the
// client's default.
type Result struct {
	Response       Response
	ThinkingBudget int
}
