package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithydocument "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/harun/ranya-core/pkg/convo"
)

// BedrockProvider dispatches normalized requests to Bedrock Runtime's
// Converse API, prepending the selected CRI region tag to the model
// id.
type BedrockProvider struct {
	client *bedrockruntime.Client
}

// NewBedrockProvider builds a provider bound to one assumed-role
// credential set; the LLM Client constructs a fresh one per account
// rotation.
func NewBedrockProvider(cfg aws.Config) *BedrockProvider {
	return &BedrockProvider{client: bedrockruntime.NewFromConfig(cfg)}
}

func (p *BedrockProvider) Invoke(ctx context.Context, n normalizedRequest) (Response, error) {
	messages, err := bedrockMessages(n.Request.Messages)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrProviderError, err)
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(criQualifiedModelID(n.CRIRegion, n.ModelID)),
		Messages: messages,
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens: aws.Int32(int32(n.AdjustedMaxTokens)),
		},
	}
	if n.Request.Inference.Temperature > 0 {
		input.InferenceConfig.Temperature = aws.Float32(float32(n.Request.Inference.Temperature))
	}
	if n.Request.Inference.TopP > 0 {
		input.InferenceConfig.TopP = aws.Float32(float32(n.Request.Inference.TopP))
	}

	if n.Request.SystemPrompt != "" {
		sys := []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: n.Request.SystemPrompt}}
		if n.Request.SystemPromptCachePoint {
			sys = append(sys, &types.SystemContentBlockMemberCachePoint{
				Value: types.CachePointBlock{Type: types.CachePointTypeDefault},
			})
		}
		input.System = sys
	}

	if len(n.Request.Tools) > 0 {
		toolConfig, err := bedrockToolConfig(n.Request)
		if err != nil {
			return Response{}, fmt.Errorf("%w: %v", ErrProviderError, err)
		}
		input.ToolConfig = toolConfig
	}

	if n.ReasoningEnabled {
		fields := map[string]interface{}{
			"thinking": map[string]interface{}{
				"type":          "enabled",
				"budget_tokens": n.ThinkingBudget,
			},
		}
		if n.InterleavedThinking {
			fields["anthropic_beta"] = []string{"interleaved-thinking-2025-05-14"}
		}
		input.AdditionalModelRequestFields = smithydocument.NewLazyDocument(fields)
	}

	out, err := p.client.Converse(ctx, input)
	if err != nil {
		return Response{}, classifyBedrockError(err)
	}

	return bedrockToResponse(out)
}

// criQualifiedModelID prepends the cross-region inference profile tag
// Bedrock expects, e.g. "us.anthropic.claude-sonnet-4-..." for
// region="us". An empty region leaves the model id untouched.
func criQualifiedModelID(region, modelID string) string {
	if region == "" || region == "global" {
		return modelID
	}
	return region + "." + modelID
}

func bedrockMessages(messages []Message) ([]types.Message, error) {
	out := make([]types.Message, 0, len(messages))
	for _, m := range messages {
		blocks, err := bedrockContentBlocks(m.Content)
		if err != nil {
			return nil, err
		}
		if m.CachePoint {
			blocks = append(blocks, &types.ContentBlockMemberCachePoint{
				Value: types.CachePointBlock{Type: types.CachePointTypeDefault},
			})
		}
		role := types.ConversationRoleUser
		if m.Role == convo.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		out = append(out, types.Message{Role: role, Content: blocks})
	}
	return out, nil
}

func bedrockContentBlocks(blocks []convo.Block) ([]types.ContentBlock, error) {
	out := make([]types.ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		switch b.Kind {
		case convo.BlockText:
			out = append(out, &types.ContentBlockMemberText{Value: b.Text})
		case convo.BlockImage:
			format := types.ImageFormatPng
			if b.ImageFormat == convo.ImageFormatJPEG {
				format = types.ImageFormatJpeg
			}
			out = append(out, &types.ContentBlockMemberImage{
				Value: types.ImageBlock{
					Format: format,
					Source: &types.ImageSourceMemberBytes{Value: b.ImageBytes},
				},
			})
		case convo.BlockToolUse:
			out = append(out, &types.ContentBlockMemberToolUse{
				Value: types.ToolUseBlock{
					ToolUseId: aws.String(b.ToolUseID),
					Name:      aws.String(b.ToolName),
					Input:     smithydocument.NewLazyDocument(b.ToolInput),
				},
			})
		case convo.BlockToolResult:
			resultBlocks, err := bedrockToolResultContent(b.ToolResultContent)
			if err != nil {
				return nil, err
			}
			status := types.ToolResultStatusSuccess
			if b.ToolResultStatus == convo.ToolResultError {
				status = types.ToolResultStatusError
			}
			out = append(out, &types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(b.ToolUseID),
					Content:   resultBlocks,
					Status:    status,
				},
			})
		case convo.BlockReasoning:
			out = append(out, &types.ContentBlockMemberReasoningContent{
				Value: &types.ReasoningContentBlockMemberReasoningText{
					Value: types.ReasoningTextBlock{
						Text:      aws.String(b.ReasoningText),
						Signature: aws.String(b.ReasoningSignature),
					},
				},
			})
		case convo.BlockCachePoint:
			out = append(out, &types.ContentBlockMemberCachePoint{
				Value: types.CachePointBlock{Type: types.CachePointTypeDefault},
			})
		}
	}
	return out, nil
}

func bedrockToolResultContent(blocks []convo.Block) ([]types.ToolResultContentBlock, error) {
	out := make([]types.ToolResultContentBlock, 0, len(blocks))
	for _, b := range blocks {
		switch b.Kind {
		case convo.BlockText:
			out = append(out, &types.ToolResultContentBlockMemberText{Value: b.Text})
		case convo.BlockImage:
			format := types.ImageFormatPng
			if b.ImageFormat == convo.ImageFormatJPEG {
				format = types.ImageFormatJpeg
			}
			out = append(out, &types.ToolResultContentBlockMemberImage{
				Value: types.ImageBlock{
					Format: format,
					Source: &types.ImageSourceMemberBytes{Value: b.ImageBytes},
				},
			})
		}
	}
	return out, nil
}

func bedrockToolConfig(req Request) (*types.ToolConfiguration, error) {
	tools := make([]types.Tool, 0, len(req.Tools))
	for i, t := range req.Tools {
		var member types.ToolInputSchema = &types.ToolInputSchemaMemberJson{
			Value: smithydocument.NewLazyDocument(t.InputSchema),
		}
		tool := &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: member,
			},
		}
		tools = append(tools, tool)
		if req.ToolsCachePoint && i == len(req.Tools)-1 {
			tools = append(tools, &types.ToolMemberCachePoint{
				Value: types.CachePointBlock{Type: types.CachePointTypeDefault},
			})
		}
	}

	config := &types.ToolConfiguration{Tools: tools}
	if req.ToolChoice != nil {
		switch req.ToolChoice.Kind {
		case ToolChoiceAuto:
			config.ToolChoice = &types.ToolChoiceMemberAuto{Value: types.AutoToolChoice{}}
		case ToolChoiceAny:
			config.ToolChoice = &types.ToolChoiceMemberAny{Value: types.AnyToolChoice{}}
		case ToolChoiceTool:
			config.ToolChoice = &types.ToolChoiceMemberTool{Value: types.SpecificToolChoice{Name: aws.String(req.ToolChoice.ToolName)}}
		}
	}
	return config, nil
}

func bedrockToResponse(out *bedrockruntime.ConverseOutput) (Response, error) {
	msgOutput, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return Response{}, ErrEmptyResponse
	}

	var content []convo.Block
	for _, block := range msgOutput.Value.Content {
		switch b := block.(type) {
		case *types.ContentBlockMemberText:
			content = append(content, convo.TextBlock(b.Value))
		case *types.ContentBlockMemberToolUse:
			var input map[string]any
			_ = b.Value.Input.UnmarshalSmithyDocument(&input)
			content = append(content, convo.ToolUseBlock(aws.ToString(b.Value.ToolUseId), aws.ToString(b.Value.Name), input))
		case *types.ContentBlockMemberReasoningContent:
			if rt, ok := b.Value.(*types.ReasoningContentBlockMemberReasoningText); ok {
				content = append(content, convo.ReasoningBlock(aws.ToString(rt.Value.Text), aws.ToString(rt.Value.Signature)))
			}
		}
	}
	if len(content) == 0 {
		return Response{}, ErrEmptyResponse
	}

	stop := StopEndTurn
	switch out.StopReason {
	case types.StopReasonToolUse:
		stop = StopToolUse
	case types.StopReasonMaxTokens:
		stop = StopMaxTokens
	}

	resp := Response{Content: content, StopReason: stop}
	if out.Usage != nil {
		resp.InputTokens = int(aws.ToInt32(out.Usage.InputTokens))
		resp.OutputTokens = int(aws.ToInt32(out.Usage.OutputTokens))
		if out.Usage.CacheReadInputTokens != nil {
			resp.CacheReadInputTokens = int(aws.ToInt32(out.Usage.CacheReadInputTokens))
		}
		if out.Usage.CacheWriteInputTokens != nil {
			resp.CacheWriteInputTokens = int(aws.ToInt32(out.Usage.CacheWriteInputTokens))
		}
	}
	return resp, nil
}

func classifyBedrockError(err error) error {
	var throttling *types.ThrottlingException
	if errors.As(err, &throttling) {
		return fmt.Errorf("%w: %v", ErrThrottled, err)
	}
	var serviceUnavailable *types.ServiceUnavailableException
	if errors.As(err, &serviceUnavailable) {
		return fmt.Errorf("%w: %v", ErrThrottled, err)
	}
	return fmt.Errorf("%w: %v", ErrProviderError, err)
}
