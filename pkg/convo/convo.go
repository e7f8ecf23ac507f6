// Package convo defines the conversation data model shared by the
// Message Store, Context Manager, and LLM Client: the closed set of
// content block kinds and the per-session message item.
package convo

import "time"

// Role identifies who authored a message item.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageType refines Role with the structural shape of the item.
type MessageType string

const (
	TypeUserMessage       MessageType = "userMessage"
	TypeAssistantResponse MessageType = "assistantResponse"
	TypeToolUse           MessageType = "toolUse"
	TypeToolResult        MessageType = "toolResult"
)

// BlockKind tags which field of Block is populated.
type BlockKind string

const (
	BlockText       BlockKind = "text"
	BlockImage      BlockKind = "image"
	BlockToolUse    BlockKind = "toolUse"
	BlockToolResult BlockKind = "toolResult"
	BlockReasoning  BlockKind = "reasoning"
	BlockCachePoint BlockKind = "cachePoint"
)

// ToolResultStatus marks whether a tool invocation succeeded.
type ToolResultStatus string

const (
	ToolResultSuccess ToolResultStatus = "success"
	ToolResultError   ToolResultStatus = "error"
)

// ImageFormat enumerates supported raster formats for image blocks.
type ImageFormat string

const (
	ImageFormatPNG  ImageFormat = "png"
	ImageFormatJPEG ImageFormat = "jpeg"
)

// Block is one content block. Exactly one of the typed fields is
// populated, selected by Kind — a closed sum type modeled as a tagged
// struct rather than an interface so message items round-trip through
// JSON without a custom unmarshaler.
type Block struct {
	Kind BlockKind `json:"kind"`

	Text string `json:"text,omitempty"`

	ImageBytes  []byte      `json:"imageBytes,omitempty"`
	ImageFormat ImageFormat `json:"imageFormat,omitempty"`

	ToolUseID string         `json:"toolUseId,omitempty"`
	ToolName  string         `json:"toolName,omitempty"`
	ToolInput map[string]any `json:"toolInput,omitempty"`

	ToolResultContent []Block          `json:"toolResultContent,omitempty"`
	ToolResultStatus  ToolResultStatus `json:"toolResultStatus,omitempty"`

	ReasoningText      string `json:"reasoningText,omitempty"`
	ReasoningSignature string `json:"reasoningSignature,omitempty"`
}

// TextBlock constructs a text content block.
func TextBlock(text string) Block { return Block{Kind: BlockText, Text: text} }

// ImageBlock constructs an image block, defaulting to PNG when the
// caller has no explicit format.
func ImageBlock(data []byte, format ImageFormat) Block {
	if format == "" {
		format = ImageFormatPNG
	}
	return Block{Kind: BlockImage, ImageBytes: data, ImageFormat: format}
}

// ToolUseBlock constructs a tool invocation block.
func ToolUseBlock(id, name string, input map[string]any) Block {
	return Block{Kind: BlockToolUse, ToolUseID: id, ToolName: name, ToolInput: input}
}

// ToolResultBlock constructs a tool result block.
func ToolResultBlock(toolUseID string, content []Block, status ToolResultStatus) Block {
	return Block{Kind: BlockToolResult, ToolUseID: toolUseID, ToolResultContent: content, ToolResultStatus: status}
}

// ReasoningBlock constructs a reasoning ("thinking") block.
func ReasoningBlock(text, signature string) Block {
	return Block{Kind: BlockReasoning, ReasoningText: text, ReasoningSignature: signature}
}

// CachePointBlock marks a prefix boundary a provider may cache.
func CachePointBlock() Block { return Block{Kind: BlockCachePoint} }

// Item is one persisted conversation record.
type Item struct {
	WorkerID       string      `json:"workerId"`
	SK             string      `json:"sk"`
	Role           Role        `json:"role"`
	MessageType    MessageType `json:"messageType"`
	Content        []Block     `json:"content"`
	TokenCount     int         `json:"tokenCount"`
	ModelOverride  string      `json:"modelOverride,omitempty"`
	ThinkingBudget int         `json:"thinkingBudget,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// TextContent concatenates the item's text blocks in order.
func (i Item) TextContent() string {
	var out string
	for _, b := range i.Content {
		if b.Kind == BlockText {
			out += b.Text
		}
	}
	return out
}

// ToolUseIDs returns the tool-use IDs carried by a toolUse item's
// content blocks, in order.
func (i Item) ToolUseIDs() []string {
	var ids []string
	for _, b := range i.Content {
		if b.Kind == BlockToolUse {
			ids = append(ids, b.ToolUseID)
		}
	}
	return ids
}
