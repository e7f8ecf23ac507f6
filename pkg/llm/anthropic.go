package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/harun/ranya-core/pkg/convo"
)

// anthropicModelIDs maps this core's logical model ids to the
// Anthropic SDK's model identifiers.
var anthropicModelIDs = map[string]anthropic.Model{
	"claude-opus-4":   anthropic.ModelClaudeOpus4_1_20250805,
	"claude-sonnet-4": anthropic.ModelClaudeSonnet4_20250514,
	"claude-haiku-4":  anthropic.ModelClaude3_5HaikuLatest,
}

func anthropicModel(modelID string) anthropic.Model {
	if m, ok := anthropicModelIDs[modelID]; ok {
		return m
	}
	return anthropic.Model(modelID)
}

// AnthropicProvider dispatches normalized requests directly to the
// Anthropic Messages API, covering cache points, extended thinking,
// and image/tool-result content.
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider builds a provider from a resolved API key.
func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	return &AnthropicProvider{client: anthropic.NewClient(option.WithAPIKey(apiKey))}
}

func (p *AnthropicProvider) Invoke(ctx context.Context, n normalizedRequest) (Response, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropicModel(n.ModelID),
		MaxTokens: int64(n.AdjustedMaxTokens),
	}

	if n.Request.SystemPrompt != "" {
		sysBlock := anthropic.TextBlockParam{Text: n.Request.SystemPrompt}
		if n.Request.SystemPromptCachePoint {
			sysBlock.CacheControl = anthropic.NewCacheControlEphemeralParam()
		}
		params.System = []anthropic.TextBlockParam{sysBlock}
	}

	messages, err := anthropicMessages(n.Request.Messages)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrProviderError, err)
	}
	params.Messages = messages

	if len(n.Request.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, 0, len(n.Request.Tools))
		for i, tool := range n.Request.Tools {
			toolParam := anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: tool.InputSchema["properties"],
				},
			}
			if required, ok := tool.InputSchema["required"].([]string); ok {
				toolParam.InputSchema.Required = required
			}
			if n.Request.ToolsCachePoint && i == len(n.Request.Tools)-1 {
				toolParam.CacheControl = anthropic.NewCacheControlEphemeralParam()
			}
			tools = append(tools, anthropic.ToolUnionParam{OfTool: &toolParam})
		}
		params.Tools = tools

		if n.Request.ToolChoice != nil {
			switch n.Request.ToolChoice.Kind {
			case ToolChoiceAuto:
				params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
			case ToolChoiceAny:
				params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
			case ToolChoiceTool:
				params.ToolChoice = anthropic.ToolChoiceUnionParam{OfTool: &anthropic.ToolChoiceToolParam{Name: n.Request.ToolChoice.ToolName}}
			}
		}
	}

	if n.Request.Inference.Temperature > 0 {
		params.Temperature = anthropic.Float(n.Request.Inference.Temperature)
	}
	if n.Request.Inference.TopP > 0 {
		params.TopP = anthropic.Float(n.Request.Inference.TopP)
	}

	if n.ReasoningEnabled {
		params.Thinking = anthropic.ThinkingConfigParamUnion{
			OfEnabled: &anthropic.ThinkingConfigEnabledParam{BudgetTokens: int64(n.ThinkingBudget)},
		}
	}

	var reqOpts []option.RequestOption
	if n.InterleavedThinking {
		reqOpts = append(reqOpts, option.WithHeader("anthropic-beta", "interleaved-thinking-2025-05-14"))
	}

	msg, err := p.client.Messages.New(ctx, params, reqOpts...)
	if err != nil {
		return Response{}, classifyAnthropicError(err)
	}

	return anthropicToResponse(msg), nil
}

func anthropicMessages(messages []Message) ([]anthropic.MessageParam, error) {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		blocks, err := anthropicContentBlocks(m.Content)
		if err != nil {
			return nil, err
		}
		if m.CachePoint && len(blocks) > 0 {
			applyCacheControl(blocks[len(blocks)-1])
		}
		role := anthropic.MessageParamRoleUser
		if m.Role == convo.RoleAssistant {
			role = anthropic.MessageParamRoleAssistant
		}
		out = append(out, anthropic.MessageParam{Role: role, Content: blocks})
	}
	return out, nil
}

func applyCacheControl(block anthropic.ContentBlockParamUnion) {
	cc := anthropic.NewCacheControlEphemeralParam()
	switch {
	case block.OfText != nil:
		block.OfText.CacheControl = cc
	case block.OfToolUse != nil:
		block.OfToolUse.CacheControl = cc
	case block.OfToolResult != nil:
		block.OfToolResult.CacheControl = cc
	case block.OfImage != nil:
		block.OfImage.CacheControl = cc
	}
}

func anthropicContentBlocks(blocks []convo.Block) ([]anthropic.ContentBlockParamUnion, error) {
	out := make([]anthropic.ContentBlockParamUnion, 0, len(blocks))
	for _, b := range blocks {
		switch b.Kind {
		case convo.BlockText:
			out = append(out, anthropic.NewTextBlock(b.Text))
		case convo.BlockImage:
			mediaType := "image/png"
			if b.ImageFormat == convo.ImageFormatJPEG {
				mediaType = "image/jpeg"
			}
			out = append(out, anthropic.NewImageBlockBase64(mediaType, base64Encode(b.ImageBytes)))
		case convo.BlockToolUse:
			out = append(out, anthropic.NewToolUseBlock(b.ToolUseID, b.ToolInput, b.ToolName))
		case convo.BlockToolResult:
			text, err := toolResultText(b.ToolResultContent)
			if err != nil {
				return nil, err
			}
			out = append(out, anthropic.NewToolResultBlock(b.ToolUseID, text, b.ToolResultStatus == convo.ToolResultError))
		case convo.BlockReasoning:
			out = append(out, anthropic.ContentBlockParamUnion{
				OfThinking: &anthropic.ThinkingBlockParam{Thinking: b.ReasoningText, Signature: b.ReasoningSignature},
			})
		case convo.BlockCachePoint:
			// Handled at the message level via Message.CachePoint; a
			// standalone marker block carries no content to emit.
		}
	}
	return out, nil
}

// toolResultText flattens a tool result's content blocks to the plain
// string the Anthropic SDK's tool_result helper accepts; image blocks
// inside a tool result are out of scope for the text-only path; the
// Agent Turn Loop's sendImage tool emits images as a separate
// user-role message instead.
func toolResultText(blocks []convo.Block) (string, error) {
	var out string
	for _, b := range blocks {
		if b.Kind == convo.BlockText {
			out += b.Text
		}
	}
	return out, nil
}

func anthropicToResponse(msg *anthropic.Message) Response {
	var content []convo.Block
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			content = append(content, convo.TextBlock(b.Text))
		case anthropic.ToolUseBlock:
			var input map[string]any
			_ = json.Unmarshal([]byte(b.JSON.Input.Raw()), &input)
			content = append(content, convo.ToolUseBlock(b.ID, b.Name, input))
		case anthropic.ThinkingBlock:
			content = append(content, convo.ReasoningBlock(b.Thinking, b.Signature))
		}
	}

	stop := StopEndTurn
	switch msg.StopReason {
	case anthropic.StopReasonToolUse:
		stop = StopToolUse
	case anthropic.StopReasonMaxTokens:
		stop = StopMaxTokens
	}

	return Response{
		Content:               content,
		StopReason:            stop,
		InputTokens:           int(msg.Usage.InputTokens),
		OutputTokens:          int(msg.Usage.OutputTokens),
		CacheReadInputTokens:  int(msg.Usage.CacheReadInputTokens),
		CacheWriteInputTokens: int(msg.Usage.CacheCreationInputTokens),
	}
}

func classifyAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if ok := asAnthropicError(err, &apiErr); ok {
		switch apiErr.StatusCode {
		case 429:
			return fmt.Errorf("%w: %v", ErrThrottled, err)
		case 529:
			return fmt.Errorf("%w: %v", ErrThrottled, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrProviderError, err)
}
