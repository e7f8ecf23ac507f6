package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/harun/ranya-core/internal/config"
	"github.com/harun/ranya-core/internal/kvstore"
	"github.com/harun/ranya-core/pkg/convo"
	"github.com/harun/ranya-core/pkg/ledger"
	"github.com/harun/ranya-core/pkg/sessionstore"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	lastRequest normalizedRequest
	response    Response
	err         error
	calls       int
}

func (f *fakeProvider) Invoke(ctx context.Context, n normalizedRequest) (Response, error) {
	f.calls++
	f.lastRequest = n
	if f.err != nil {
		return Response{}, f.err
	}
	return f.response, nil
}

func newTestClient(t *testing.T, provider Provider) (*Client, *ledger.Ledger) {
	kv := kvstore.NewMemoryStore()
	sessions := sessionstore.New(kv, zerolog.Nop())
	_, err := sessions.Create(context.Background(), "w1", "cli")
	require.NoError(t, err)
	l := ledger.New(kv, sessions, ledger.DefaultPriceTable(), zerolog.Nop())

	cfg := config.DefaultConfig()
	cfg.Provider = config.ProviderAnthropic
	cfg.AnthropicAPIKey = "unused-in-tests"

	c := &Client{cfg: cfg, ledger: l, logger: zerolog.Nop(), anthropic: provider}
	return c, l
}

func textResponse(text string) Response {
	return Response{
		Content:      []convo.Block{convo.TextBlock(text)},
		StopReason:   StopEndTurn,
		InputTokens:  10,
		OutputTokens: 5,
	}
}

func TestConverse_DispatchesToAnthropicAndRecordsUsage(t *testing.T) {
	p := &fakeProvider{response: textResponse("hi")}
	c, l := newTestClient(t, p)

	result, err := c.Converse(context.Background(), "w1", []string{"claude-sonnet-4"}, Request{}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, p.calls)
	assert.Equal(t, "hi", result.Response.Content[0].Text)

	totals, err := l.Totals(context.Background(), "w1")
	require.NoError(t, err)
	assert.Equal(t, 10, totals.InputTokens)
	assert.Equal(t, 5, totals.OutputTokens)
}

func TestConverse_NoCandidateModelsErrors(t *testing.T) {
	p := &fakeProvider{response: textResponse("hi")}
	c, _ := newTestClient(t, p)

	_, err := c.Converse(context.Background(), "w1", nil, Request{}, 0)
	assert.Error(t, err)
	assert.Equal(t, 0, p.calls)
}

func TestConverse_EmptyResponseIsAnError(t *testing.T) {
	p := &fakeProvider{response: Response{}}
	c, _ := newTestClient(t, p)

	_, err := c.Converse(context.Background(), "w1", []string{"claude-sonnet-4"}, Request{}, 0)
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestConverse_MaxTokensStopReasonSurfacesError(t *testing.T) {
	resp := textResponse("truncated")
	resp.StopReason = StopMaxTokens
	p := &fakeProvider{response: resp}
	c, _ := newTestClient(t, p)

	result, err := c.Converse(context.Background(), "w1", []string{"claude-sonnet-4"}, Request{}, 0)
	assert.ErrorIs(t, err, ErrMaxTokensExceeded)
	assert.Equal(t, "truncated", result.Response.Content[0].Text)
}

func TestConverse_ReasoningDisabledForNonReasoningModel(t *testing.T) {
	p := &fakeProvider{response: textResponse("hi")}
	c, _ := newTestClient(t, p)

	_, err := c.Converse(context.Background(), "w1", []string{"claude-haiku-4"}, Request{ReasoningRequested: true}, 0)
	require.NoError(t, err)
	assert.False(t, p.lastRequest.ReasoningEnabled)
}

func TestConverse_ReasoningEnabledUsesDefaultBudget(t *testing.T) {
	p := &fakeProvider{response: textResponse("hi")}
	c, _ := newTestClient(t, p)

	_, err := c.Converse(context.Background(), "w1", []string{"claude-sonnet-4"}, Request{ReasoningRequested: true}, 0)
	require.NoError(t, err)
	assert.True(t, p.lastRequest.ReasoningEnabled)
	assert.Equal(t, defaultThinkingBudget, p.lastRequest.ThinkingBudget)
}

func TestConverse_UltrathinkEscalatesBudgetAndIsReported(t *testing.T) {
	p := &fakeProvider{response: textResponse("hi")}
	c, _ := newTestClient(t, p)

	// claude-sonnet-4 caps output at 64000, so the escalated budget is
	// min(64000/2, 31999) = 31999 even on a first attempt, when the
	// retry-adjusted max is still only 8192 — the budget keys off the
	// model's raw cap. The adjusted max is then raised to hold it:
	// min(2*31999, 64000) = 63998.
	result, err := c.Converse(context.Background(), "w1", []string{"claude-sonnet-4"}, Request{
		ReasoningRequested:  true,
		UltrathinkRequested: true,
	}, 0)
	require.NoError(t, err)
	assert.Equal(t, maxThinkingBudget, p.lastRequest.ThinkingBudget)
	assert.Equal(t, 2*maxThinkingBudget, p.lastRequest.AdjustedMaxTokens)
	assert.Equal(t, p.lastRequest.ThinkingBudget, result.ThinkingBudget)
}

func TestConverse_UltrathinkBudgetIsHalfTheModelCapWhenUnderTheCeiling(t *testing.T) {
	RegisterCapabilities(ModelCapabilities{
		ModelID: "small-reasoner", MaxOutputTokens: 16000,
		ReasoningSupport: true, CacheSupport: fullCacheSupport,
	})
	p := &fakeProvider{response: textResponse("hi")}
	c, _ := newTestClient(t, p)

	_, err := c.Converse(context.Background(), "w1", []string{"small-reasoner"}, Request{
		ReasoningRequested:  true,
		UltrathinkRequested: true,
	}, 0)
	require.NoError(t, err)
	assert.Equal(t, 8000, p.lastRequest.ThinkingBudget)
	assert.Equal(t, 16000, p.lastRequest.AdjustedMaxTokens, "2B exceeds the model cap, so the raise clamps to it")
}

func TestConverse_DefaultBudgetIsNotReported(t *testing.T) {
	p := &fakeProvider{response: textResponse("hi")}
	c, _ := newTestClient(t, p)

	result, err := c.Converse(context.Background(), "w1", []string{"claude-sonnet-4"}, Request{ReasoningRequested: true}, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, result.ThinkingBudget)
}

func TestConverse_MaxTokensRetryCountDoublesBudget(t *testing.T) {
	p := &fakeProvider{response: textResponse("hi")}
	c, _ := newTestClient(t, p)

	_, err := c.Converse(context.Background(), "w1", []string{"claude-sonnet-4"}, Request{}, 0)
	require.NoError(t, err)
	first := p.lastRequest.AdjustedMaxTokens

	_, err = c.Converse(context.Background(), "w1", []string{"claude-sonnet-4"}, Request{}, 1)
	require.NoError(t, err)
	assert.Equal(t, first*2, p.lastRequest.AdjustedMaxTokens)
}

func TestConverse_AdjustedMaxTokensNeverExceedsModelCap(t *testing.T) {
	p := &fakeProvider{response: textResponse("hi")}
	c, _ := newTestClient(t, p)

	_, err := c.Converse(context.Background(), "w1", []string{"claude-haiku-4"}, Request{}, 5)
	require.NoError(t, err)
	assert.Equal(t, GetCapabilities("claude-haiku-4").MaxOutputTokens, p.lastRequest.AdjustedMaxTokens)
}

func TestConverse_CachePointsPrunedWhenModelLacksCacheSupport(t *testing.T) {
	RegisterCapabilities(ModelCapabilities{ModelID: "no-cache-model", MaxOutputTokens: 4096, ToolChoiceSupport: fullToolChoiceSupport})
	p := &fakeProvider{response: textResponse("hi")}
	c, _ := newTestClient(t, p)

	req := Request{
		SystemPromptCachePoint: true,
		ToolsCachePoint:        true,
		Messages: []Message{
			{Role: convo.RoleUser, Content: []convo.Block{convo.TextBlock("hi")}, CachePoint: true},
		},
	}
	_, err := c.Converse(context.Background(), "w1", []string{"no-cache-model"}, req, 0)
	require.NoError(t, err)
	assert.False(t, p.lastRequest.Request.SystemPromptCachePoint)
	assert.False(t, p.lastRequest.Request.ToolsCachePoint)
	assert.False(t, p.lastRequest.Request.Messages[0].CachePoint)
}

func TestConverse_CachePointsPrunedPerLayerIndependently(t *testing.T) {
	RegisterCapabilities(ModelCapabilities{ModelID: "partial-cache-model", MaxOutputTokens: 4096,
		ToolChoiceSupport: fullToolChoiceSupport, CacheSupport: CacheCapSystem | CacheCapTool})
	p := &fakeProvider{response: textResponse("hi")}
	c, _ := newTestClient(t, p)

	req := Request{
		SystemPromptCachePoint: true,
		ToolsCachePoint:        true,
		Messages: []Message{
			{Role: convo.RoleUser, Content: []convo.Block{convo.TextBlock("hi")}, CachePoint: true},
		},
	}
	_, err := c.Converse(context.Background(), "w1", []string{"partial-cache-model"}, req, 0)
	require.NoError(t, err)
	assert.True(t, p.lastRequest.Request.SystemPromptCachePoint)
	assert.True(t, p.lastRequest.Request.ToolsCachePoint)
	assert.False(t, p.lastRequest.Request.Messages[0].CachePoint, "message layer isn't in this model's cacheSupport")
}

func TestConverse_ToolChoiceDroppedWhenUnsupported(t *testing.T) {
	RegisterCapabilities(ModelCapabilities{ModelID: "no-toolchoice-model", MaxOutputTokens: 4096, CacheSupport: fullCacheSupport})
	p := &fakeProvider{response: textResponse("hi")}
	c, _ := newTestClient(t, p)

	req := Request{ToolChoice: &ToolChoice{Kind: ToolChoiceAny}}
	_, err := c.Converse(context.Background(), "w1", []string{"no-toolchoice-model"}, req, 0)
	require.NoError(t, err)
	assert.Nil(t, p.lastRequest.Request.ToolChoice)
}

func TestConverse_ToolChoiceKeptWhenKindSupported(t *testing.T) {
	RegisterCapabilities(ModelCapabilities{ModelID: "auto-only-model", MaxOutputTokens: 4096,
		CacheSupport: fullCacheSupport, ToolChoiceSupport: ToolChoiceCapAuto})
	p := &fakeProvider{response: textResponse("hi")}
	c, _ := newTestClient(t, p)

	req := Request{ToolChoice: &ToolChoice{Kind: ToolChoiceAuto}}
	_, err := c.Converse(context.Background(), "w1", []string{"auto-only-model"}, req, 0)
	require.NoError(t, err)
	require.NotNil(t, p.lastRequest.Request.ToolChoice)
	assert.Equal(t, ToolChoiceAuto, p.lastRequest.Request.ToolChoice.Kind)

	req = Request{ToolChoice: &ToolChoice{Kind: ToolChoiceTool, ToolName: "reportProgress"}}
	_, err = c.Converse(context.Background(), "w1", []string{"auto-only-model"}, req, 0)
	require.NoError(t, err)
	assert.Nil(t, p.lastRequest.Request.ToolChoice, "forced tool choice isn't in this model's toolChoiceSupport")
}

func TestConverse_ReasoningDisabledStripsReasoningBlocks(t *testing.T) {
	p := &fakeProvider{response: textResponse("hi")}
	c, _ := newTestClient(t, p)

	req := Request{
		Messages: []Message{
			{Role: convo.RoleAssistant, Content: []convo.Block{
				convo.ReasoningBlock("thinking...", "sig"),
				convo.TextBlock("answer"),
			}},
		},
	}
	_, err := c.Converse(context.Background(), "w1", []string{"claude-haiku-4"}, req, 0)
	require.NoError(t, err)
	assert.Len(t, p.lastRequest.Request.Messages[0].Content, 1)
	assert.Equal(t, convo.BlockText, p.lastRequest.Request.Messages[0].Content[0].Kind)
}

func TestConverse_ProviderErrorPropagates(t *testing.T) {
	sentinel := errors.New("boom")
	p := &fakeProvider{err: sentinel}
	c, _ := newTestClient(t, p)

	_, err := c.Converse(context.Background(), "w1", []string{"claude-sonnet-4"}, Request{}, 0)
	assert.ErrorIs(t, err, sentinel)
}

func TestConverse_ThrottledBedrockAdvancesAccountByExactlyOne(t *testing.T) {
	p := &fakeProvider{err: ErrThrottled}
	c, _ := newTestClient(t, nil)
	c.cfg.Provider = config.ProviderBedrock
	c.rotator = NewAccountRotator([]string{"111111111111", "222222222222", "333333333333"}, "role", aws.Config{})
	c.bedrockFixed = p

	before := c.rotator.Current()
	_, err := c.Converse(context.Background(), "w1", []string{"claude-sonnet-4"}, Request{}, 0)
	assert.ErrorIs(t, err, ErrThrottled)
	after := c.rotator.Current()

	accounts := []string{"111111111111", "222222222222", "333333333333"}
	beforeIdx, afterIdx := -1, -1
	for i, a := range accounts {
		if a == before {
			beforeIdx = i
		}
		if a == after {
			afterIdx = i
		}
	}
	require.NotEqual(t, -1, beforeIdx)
	require.NotEqual(t, -1, afterIdx)
	assert.Equal(t, (beforeIdx+1)%len(accounts), afterIdx, "a single throttle must advance the index by exactly 1")
}

func TestConverse_SuccessDoesNotAdvanceAccountIndex(t *testing.T) {
	p := &fakeProvider{response: textResponse("hi")}
	c, _ := newTestClient(t, p)
	c.cfg.Provider = config.ProviderBedrock
	c.rotator = NewAccountRotator([]string{"111111111111", "222222222222"}, "role", aws.Config{})
	c.bedrockFixed = p

	before := c.rotator.Current()
	_, err := c.Converse(context.Background(), "w1", []string{"claude-sonnet-4"}, Request{}, 0)
	require.NoError(t, err)
	_, err = c.Converse(context.Background(), "w1", []string{"claude-sonnet-4"}, Request{}, 0)
	require.NoError(t, err)
	after := c.rotator.Current()
	assert.Equal(t, before, after, "successful calls must never advance the rotation index")
}

func TestAccountRotator_RoundRobins(t *testing.T) {
	r := NewAccountRotator([]string{"a", "b", "c"}, "role", aws.Config{})
	assert.Equal(t, "a", r.Current())
	seen := []string{r.Next(), r.Next(), r.Next(), r.Next()}
	assert.Equal(t, []string{"b", "c", "a", "b"}, seen)
	assert.Equal(t, "b", r.Current())
}

func TestReasoningEligibleFromText(t *testing.T) {
	assert.True(t, ReasoningEligibleFromText("please Ultrathink about this"))
	assert.False(t, ReasoningEligibleFromText("just do it quickly"))
}
