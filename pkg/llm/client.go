package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/harun/ranya-core/internal/config"
	"github.com/harun/ranya-core/internal/observability"
	"github.com/harun/ranya-core/internal/secrets"
	"github.com/harun/ranya-core/internal/tracing"
	"github.com/harun/ranya-core/pkg/convo"
	"github.com/harun/ranya-core/pkg/ledger"
	"github.com/rs/zerolog"
)

// defaultThinkingBudget is the reasoning token budget applied when a
// call enables reasoning without the "ultrathink" escalation.
const defaultThinkingBudget = 2000

// maxThinkingBudget caps the "ultrathink" escalated budget.
const maxThinkingBudget = 31999

// baseMaxTokens is the starting max-output-tokens budget before the
// doubling-per-retry escalation.
const baseMaxTokens = 8192

// Provider is the per-backend dispatch contract the Client calls after
// normalization.
type Provider interface {
	Invoke(ctx context.Context, n normalizedRequest) (Response, error)
}

// normalizedRequest is Request after step 3's adjustments, plus the
// resolved model id and region the provider needs.
type normalizedRequest struct {
	Request             Request
	ModelID             string
	AdjustedMaxTokens   int
	ReasoningEnabled    bool
	ThinkingBudget      int
	InterleavedThinking bool
	CRIRegion           string
}

// Client implements the LLM Client.
type Client struct {
	cfg     *config.Config
	secrets secrets.Reader
	ledger  *ledger.Ledger
	logger  zerolog.Logger

	anthropic    Provider
	rotator      *AccountRotator
	baseAWS      aws.Config
	bedrockFixed Provider // test seam: skips account resolution when set
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithAnthropicProvider overrides the Anthropic provider, used by
// tests to inject a fake.
func WithAnthropicProvider(p Provider) Option {
	return func(c *Client) { c.anthropic = p }
}

// WithAccountRotator overrides the Bedrock account rotator.
func WithAccountRotator(r *AccountRotator) Option {
	return func(c *Client) { c.rotator = r }
}

// WithFixedBedrockProvider injects a provider used directly on the
// Bedrock path, skipping assume-role resolution; tests use this to
// exercise account rotation without calling STS.
func WithFixedBedrockProvider(p Provider) Option {
	return func(c *Client) { c.bedrockFixed = p }
}

// New builds a Client from configuration. The Anthropic provider is
// constructed eagerly (it needs only the resolved API key); the
// Bedrock provider is constructed lazily per call, once an account has
// been selected by the rotator, since each account needs its own
// assumed-role credentials.
func New(ctx context.Context, cfg *config.Config, secretReader secrets.Reader, ledgerStore *ledger.Ledger, logger zerolog.Logger, opts ...Option) (*Client, error) {
	c := &Client{cfg: cfg, secrets: secretReader, ledger: ledgerStore, logger: logger}

	if cfg.Provider == config.ProviderAnthropic {
		key, err := resolveAnthropicKey(ctx, cfg, secretReader)
		if err != nil {
			return nil, fmt.Errorf("resolve anthropic api key: %w", err)
		}
		c.anthropic = NewAnthropicProvider(key)
	}

	if cfg.Provider == config.ProviderBedrock {
		base, err := LoadBaseConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load base aws config: %w", err)
		}
		c.baseAWS = base
		c.rotator = NewAccountRotator(cfg.BedrockAWSAccounts, cfg.BedrockAWSRoleName, base)
	}

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func resolveAnthropicKey(ctx context.Context, cfg *config.Config, reader secrets.Reader) (string, error) {
	if cfg.AnthropicAPIKey != "" {
		return cfg.AnthropicAPIKey, nil
	}
	if cfg.AnthropicAPIKeyParameterName != "" {
		return reader.Get(ctx, cfg.AnthropicAPIKeyParameterName)
	}
	return "", errors.New("no anthropic api key or parameter name configured")
}

// Converse runs one provider call end to end: model selection, region
// selection, input normalization, the provider invoke with throttle
// rotation, ledger recording, and the thinking-budget report.
func (c *Client) Converse(ctx context.Context, workerID string, candidateModels []string, req Request, maxTokensRetryCount int) (result Result, err error) {
	ctx, span := tracing.StartSpan(ctx, "ranya.llm", "llm.converse")
	defer span.End()

	start := time.Now()
	defer func() {
		observability.RecordAgentRun(string(c.cfg.Provider), time.Since(start), err == nil)
	}()

	if len(candidateModels) == 0 {
		return Result{}, fmt.Errorf("converse: no candidate models")
	}

	// Step 1: model selection.
	modelID := candidateModels[rand.Intn(len(candidateModels))]
	caps := GetCapabilities(modelID)

	// Step 2: region/profile selection (Bedrock only).
	region := c.selectCRIRegion(caps)

	// Step 3: input normalization.
	n := c.normalize(req, modelID, caps, region, maxTokensRetryCount)

	// Step 4/5: provider call, rotating Bedrock accounts on throttle.
	provider, account, err := c.resolveProvider(ctx)
	if err != nil {
		return Result{}, err
	}

	resp, err := provider.Invoke(ctx, n)
	if err != nil {
		// Throttling is the only outcome that advances the rotation
		// index; success leaves it untouched. Next is
		// called exactly once here, for both the advance and the log.
		if errors.Is(err, ErrThrottled) && c.rotator != nil {
			next := c.rotator.Next()
			observability.SetProviderCooldown(account, true)
			c.logger.Warn().Str("worker_id", workerID).Str("account", account).Str("next_account", next).
				Msg("bedrock throttled, rotated account for next attempt")
		}
		return Result{}, err
	}
	if account != "" {
		observability.SetProviderCooldown(account, false)
	}
	if len(resp.Content) == 0 {
		return Result{}, ErrEmptyResponse
	}
	if resp.StopReason == StopMaxTokens {
		err = fmt.Errorf("%w", ErrMaxTokensExceeded)
	}

	// Step 6: ledger upsert.
	if c.ledger != nil {
		usageErr := c.ledger.RecordUsage(ctx, workerID, modelID, ledger.Usage{
			InputTokens:           resp.InputTokens,
			OutputTokens:          resp.OutputTokens,
			CacheReadInputTokens:  resp.CacheReadInputTokens,
			CacheWriteInputTokens: resp.CacheWriteInputTokens,
		})
		if usageErr != nil {
			c.logger.Warn().Err(usageErr).Str("worker_id", workerID).Msg("ledger record failed")
		}
	}

	// Step 7: report the thinking budget only when it departs from
	// the default (i.e. reasoning was disabled, or the default budget
	// was used exactly).
	result = Result{Response: resp}
	if n.ReasoningEnabled && n.ThinkingBudget != defaultThinkingBudget {
		result.ThinkingBudget = n.ThinkingBudget
	}
	return result, err
}

// resolveProvider picks the account the rotator currently points at
// without advancing it — a successful call must never move the index.
// Only the throttle path in Converse calls Next.
func (c *Client) resolveProvider(ctx context.Context) (Provider, string, error) {
	if c.cfg.Provider == config.ProviderAnthropic {
		return c.anthropic, "", nil
	}
	if c.rotator == nil || c.rotator.Len() == 0 {
		return nil, "", errors.New("converse: no bedrock accounts configured")
	}
	account := c.rotator.Current()
	if c.bedrockFixed != nil {
		return c.bedrockFixed, account, nil
	}
	roleCfg, err := c.rotator.AssumeRoleConfig(ctx, account)
	if err != nil {
		return nil, account, fmt.Errorf("assume bedrock role in account %s: %w", account, err)
	}
	return NewBedrockProvider(roleCfg), account, nil
}

// selectCRIRegion picks the configured override when the model
// supports it, else falls back to the model's first supported
// profile, else "global".
func (c *Client) selectCRIRegion(caps ModelCapabilities) string {
	if c.cfg.Provider != config.ProviderBedrock {
		return ""
	}
	override := string(c.cfg.BedrockCRIRegionOverride)
	for _, p := range caps.SupportedCRIProfiles {
		if p == override {
			return override
		}
	}
	if len(caps.SupportedCRIProfiles) > 0 {
		return caps.SupportedCRIProfiles[0]
	}
	return "global"
}

// normalize adjusts the request for the selected model: output-token
// budget, tool-choice support, reasoning enablement and budget, and
// cache-point pruning, on a deep clone of req.
func (c *Client) normalize(req Request, modelID string, caps ModelCapabilities, region string, maxTokensRetryCount int) normalizedRequest {
	n := normalizedRequest{
		Request:   cloneRequest(req),
		ModelID:   modelID,
		CRIRegion: region,
	}

	adjusted := baseMaxTokens << uint(maxTokensRetryCount)
	if adjusted > caps.MaxOutputTokens || adjusted <= 0 {
		adjusted = caps.MaxOutputTokens
	}
	n.AdjustedMaxTokens = adjusted

	if n.Request.ToolChoice != nil && !caps.ToolChoiceSupport.Supports(n.Request.ToolChoice.Kind) {
		n.Request.ToolChoice = nil
	}

	// Reasoning is never injected alongside a forced toolChoice, and
	// relies on the caller (the Context Manager's second-to-last-
	// message heuristic) for ReasoningRequested in the first place.
	n.ReasoningEnabled = caps.ReasoningSupport && n.Request.ReasoningRequested && n.Request.ToolChoice == nil
	if n.ReasoningEnabled {
		n.ThinkingBudget = defaultThinkingBudget
		if n.Request.UltrathinkRequested {
			// The escalated budget keys off the model's raw output cap,
			// not the retry-adjusted one; the adjusted cap is raised to
			// fit the budget right below.
			budget := caps.MaxOutputTokens / 2
			if budget > maxThinkingBudget {
				budget = maxThinkingBudget
			}
			n.ThinkingBudget = budget
		}
		raised := n.ThinkingBudget * 2
		if raised > caps.MaxOutputTokens {
			raised = caps.MaxOutputTokens
		}
		if raised > n.AdjustedMaxTokens {
			n.AdjustedMaxTokens = raised
		}
		n.InterleavedThinking = caps.InterleavedThinkingSupport
	} else {
		n.Request.Messages = stripReasoningBlocks(n.Request.Messages)
	}

	// Cache-point pruning: each layer not in the model's cacheSupport
	// set loses its markers independently of the other two.
	if !caps.CacheSupport.Supports(CacheCapSystem) {
		n.Request.SystemPromptCachePoint = false
	}
	if !caps.CacheSupport.Supports(CacheCapTool) {
		n.Request.ToolsCachePoint = false
	}
	if !caps.CacheSupport.Supports(CacheCapMessage) {
		for i := range n.Request.Messages {
			n.Request.Messages[i].CachePoint = false
		}
	}

	return n
}

func cloneRequest(req Request) Request {
	out := req
	out.Messages = make([]Message, len(req.Messages))
	for i, m := range req.Messages {
		out.Messages[i] = Message{
			Role:       m.Role,
			CachePoint: m.CachePoint,
			Content:    append([]convo.Block(nil), m.Content...),
		}
	}
	out.Tools = append([]ToolSpec(nil), req.Tools...)
	return out
}

func stripReasoningBlocks(messages []Message) []Message {
	for i, m := range messages {
		filtered := m.Content[:0:0]
		for _, b := range m.Content {
			if b.Kind != convo.BlockReasoning {
				filtered = append(filtered, b)
			}
		}
		messages[i].Content = filtered
	}
	return messages
}

// ReasoningEligibleFromText reports whether the literal "ultrathink"
// substring (case-insensitive) appears in text, the trigger that
// escalates the reasoning budget.
func ReasoningEligibleFromText(text string) bool {
	return strings.Contains(strings.ToLower(text), "ultrathink")
}
