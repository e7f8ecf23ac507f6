// Package eventbus defines the fan-out-of-progress-events contract
// the core publishes against and a reference websocket
// implementation for local development and tests. Production fan-out
// is an external collaborator; the core only ever depends on Bus.
package eventbus

import "context"

// EventType enumerates the event payload shapes the core publishes.
type EventType string

const (
	EventToolUse            EventType = "toolUse"
	EventToolResult         EventType = "toolResult"
	EventSessionTitleUpdate EventType = "sessionTitleUpdate"
	EventMessage            EventType = "message"
)

// Event is the envelope published for one worker's session.
type Event struct {
	Type EventType `json:"type"`

	// toolUse / toolResult fields.
	ToolName       string `json:"toolName,omitempty"`
	ToolUseID      string `json:"toolUseId,omitempty"`
	Input          string `json:"input,omitempty"`
	Output         string `json:"output,omitempty"`
	ThinkingBudget int    `json:"thinkingBudget,omitempty"`
	ReasoningText  string `json:"reasoningText,omitempty"`

	// sessionTitleUpdate field.
	NewTitle string `json:"newTitle,omitempty"`

	// message fields.
	Role string `json:"role,omitempty"`
	Text string `json:"text,omitempty"`
}

// Bus is the fan-out contract the core publishes progress through.
type Bus interface {
	Publish(ctx context.Context, workerID string, event Event) error
}

// NopBus discards every event. Useful as a zero-value default so
// callers that don't care about progress streaming don't need to wire
// a real bus.
type NopBus struct{}

func (NopBus) Publish(ctx context.Context, workerID string, event Event) error { return nil }
