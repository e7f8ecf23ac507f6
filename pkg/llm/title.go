package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/harun/ranya-core/pkg/convo"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// titlePrompt is deliberately compact: one line, one constraint, no
// preamble.
const titlePrompt = "Summarize this conversation's task in 15 characters or fewer, as a short noun phrase. Respond with only the title, no punctuation, no quotes."

// TitleModel is the haiku-class model candidate used for title
// generation, never the conversation's own model.
const TitleModel = "claude-haiku-4"

// TitleGenerator implements sessionstore.TitleGenerator, dispatching
// either through the main Client (Bedrock or Anthropic) or, when an
// OpenAI-compatible gateway is configured for title generation
// specifically, through a dedicated openai-go client.
type TitleGenerator struct {
	client *Client
	openai *openai.Client
	model  string
}

// NewTitleGenerator builds a title generator. When apiKey is non-empty
// it dispatches title calls to an OpenAI-compatible gateway instead of
// client's provider.
func NewTitleGenerator(client *Client, baseURL, apiKey, model string) *TitleGenerator {
	g := &TitleGenerator{client: client, model: model}
	if apiKey == "" {
		return g
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	oc := openai.NewClient(opts...)
	g.openai = &oc
	return g
}

// GenerateTitle produces a short title from the first turn's text,
// satisfying sessionstore.TitleGenerator. workerID keys the ledger
// entry so title-model tokens are billed to the session they titled.
func (g *TitleGenerator) GenerateTitle(ctx context.Context, workerID, conversationText string) (string, error) {
	if g.openai != nil {
		return g.generateViaOpenAI(ctx, conversationText)
	}
	return g.generateViaClient(ctx, workerID, conversationText)
}

func (g *TitleGenerator) generateViaClient(ctx context.Context, workerID, conversationText string) (string, error) {
	req := Request{
		SystemPrompt: titlePrompt,
		Messages: []Message{
			{Role: convo.RoleUser, Content: []convo.Block{convo.TextBlock(conversationText)}},
		},
		Inference: InferenceConfig{MaxTokens: 32},
	}
	result, err := g.client.Converse(ctx, workerID, []string{TitleModel}, req, 0)
	if err != nil {
		return "", fmt.Errorf("title generation: %w", err)
	}
	return extractTitleText(result.Response), nil
}

func (g *TitleGenerator) generateViaOpenAI(ctx context.Context, conversationText string) (string, error) {
	model := g.model
	if model == "" {
		model = "gpt-4o-mini"
	}
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(titlePrompt),
			openai.UserMessage(conversationText),
		},
		MaxTokens: openai.Int(32),
	}
	resp, err := g.openai.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("title generation via openai gateway: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("title generation via openai gateway: empty response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func extractTitleText(resp Response) string {
	var out strings.Builder
	for _, b := range resp.Content {
		if b.Kind == convo.BlockText {
			out.WriteString(b.Text)
		}
	}
	return strings.TrimSpace(out.String())
}
