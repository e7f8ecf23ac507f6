package turnloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/harun/ranya-core/internal/config"
	"github.com/harun/ranya-core/internal/eventbus"
	"github.com/harun/ranya-core/internal/tracing"
	"github.com/harun/ranya-core/pkg/contextwindow"
	"github.com/harun/ranya-core/pkg/convo"
	"github.com/harun/ranya-core/pkg/llm"
	"github.com/harun/ranya-core/pkg/memory"
	"github.com/harun/ranya-core/pkg/message"
	"github.com/harun/ranya-core/pkg/metadata"
	"github.com/harun/ranya-core/pkg/sessionstore"
	"github.com/harun/ranya-core/pkg/toolexecutor"
	"github.com/rs/zerolog"
)

// maxRetries bounds the outer invoke loop's total attempts: Throttled
// and MaxTokens responses are retried up to this many times with
// randomized backoff before the turn aborts.
const maxRetries = 100

// maxTokensEscalations caps how many times a single iteration's
// max-tokens budget is doubled before the turn aborts as Fatal.
const maxTokensEscalations = 5

// maxToolIterations is a backstop against a runaway tool-use loop: an
// unbounded loop would let a misbehaving model or MCP server spin a
// session forever.
const maxToolIterations = 200

// progressEchoInterval is how long the loop waits since the last
// reportProgress call before forcing an echo on the next one, so a
// long silent stretch doesn't starve the session's progress feed.
const progressEchoInterval = 300 * time.Second

// DefaultSystemPrompt is used when no custom agent's prompt applies.
const DefaultSystemPrompt = "You are an autonomous coding agent. Work the user's request to completion, using the available tools, and report progress as you go."

// Converser is the llm.Client surface the loop depends on. Tests
// satisfy it with a fake, since llm.Client's own Provider seam takes
// an unexported request type and so can't be driven from outside
// pkg/llm.
type Converser interface {
	Converse(ctx context.Context, workerID string, candidateModels []string, req llm.Request, maxTokensRetryCount int) (llm.Result, error)
}

// Options configures a new Loop. Every field but Messages, Sessions,
// LLMClient, and ToolExecutor is optional; the loop degrades
// gracefully (no memory section, no lane serialization, no title
// generation) when a dependency is left nil.
type Options struct {
	Messages     *message.Store
	Sessions     *sessionstore.Store
	Metadata     *metadata.Store
	Memory       *memory.Manager
	LLMClient    Converser
	ToolExecutor *toolexecutor.ToolExecutor
	Bus          eventbus.Bus
	Config       *config.Config
	TitleGen     sessionstore.TitleGenerator
	Logger       zerolog.Logger

	DefaultSystemPrompt string
}

// Loop implements the Agent Turn Loop.
type Loop struct {
	messages     *message.Store
	sessions     *sessionstore.Store
	metadata     *metadata.Store
	memory       *memory.Manager
	llmClient    Converser
	toolExecutor *toolexecutor.ToolExecutor
	bus          eventbus.Bus
	cfg          *config.Config
	titleGen     sessionstore.TitleGenerator
	logger       zerolog.Logger

	defaultSystemPrompt string

	// backoffDelay picks the randomized 1-5s wait between retries;
	// overridden by tests so retry/escalation scenarios don't spend
	// real wall-clock time asleep.
	backoffDelay func() time.Duration

	// laneMu guards laneLocks; laneLocks holds one mutex per workerID so
	// runLaned can serialize a worker's turns without blocking unrelated
	// workers. The runtime host, not this package, is responsible for
	// the at-most-one-Loop-per-workerId invariant across processes.
	laneMu    sync.Mutex
	laneLocks map[string]*sync.Mutex
}

func randomBackoffDelay() time.Duration {
	return time.Duration(1000+rand.Intn(4000)) * time.Millisecond
}

// New builds a Loop from opts.
func New(opts Options) *Loop {
	bus := opts.Bus
	if bus == nil {
		bus = eventbus.NopBus{}
	}
	prompt := opts.DefaultSystemPrompt
	if prompt == "" {
		prompt = DefaultSystemPrompt
	}
	return &Loop{
		messages:            opts.Messages,
		sessions:            opts.Sessions,
		metadata:            opts.Metadata,
		memory:              opts.Memory,
		llmClient:           opts.LLMClient,
		toolExecutor:        opts.ToolExecutor,
		bus:                 bus,
		cfg:                 opts.Config,
		titleGen:            opts.TitleGen,
		logger:              opts.Logger,
		defaultSystemPrompt: prompt,
		backoffDelay:        randomBackoffDelay,
		laneLocks:           make(map[string]*sync.Mutex),
	}
}

// OnMessageReceived runs one turn for workerID, the entry point the
// runtime host calls when a user message lands.
func (l *Loop) OnMessageReceived(ctx context.Context, workerID string, token *CancelToken) error {
	return l.runLaned(ctx, workerID, token)
}

// Resume restarts an interrupted session. It is a no-op unless the
// session's last item leaves a turn pending — a userMessage awaiting a
// reply, or a toolResult awaiting the model's next step — which makes
// calling it repeatedly on an already-finalized session harmless.
func (l *Loop) Resume(ctx context.Context, workerID string, token *CancelToken) error {
	items, err := l.messages.List(ctx, workerID)
	if err != nil {
		return fmt.Errorf("resume: load history: %w", err)
	}
	if len(items) == 0 {
		return nil
	}
	last := items[len(items)-1]
	if last.MessageType != convo.TypeUserMessage && last.MessageType != convo.TypeToolResult {
		return nil
	}
	return l.runLaned(ctx, workerID, token)
}

// runLaned serializes turns for a single workerID through a per-worker
// mutex, enforcing at most one in-flight turn per worker within this
// process. Coordinating across processes is the runtime host's job,
// not this package's.
func (l *Loop) runLaned(ctx context.Context, workerID string, token *CancelToken) error {
	lock := l.laneLock(workerID)
	lock.Lock()
	defer lock.Unlock()
	return l.runTurn(ctx, workerID, token)
}

func (l *Loop) laneLock(workerID string) *sync.Mutex {
	l.laneMu.Lock()
	defer l.laneMu.Unlock()
	lock, ok := l.laneLocks[workerID]
	if !ok {
		lock = &sync.Mutex{}
		l.laneLocks[workerID] = lock
	}
	return lock
}

// runTurn drives one turn end to end: enter working state, build the
// call, invoke the model, then either dispatch tools and loop back or
// finalize and exit.
func (l *Loop) runTurn(ctx context.Context, workerID string, token *CancelToken) error {
	ctx, span := tracing.StartSpan(ctx, "ranya.turnloop", "turnloop.run_turn")
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, l.logger).With().Str("worker_id", workerID).Logger()

	if err := l.sessions.UpdateStatus(ctx, workerID, sessionstore.StatusWorking); err != nil {
		return fmt.Errorf("enter working state: %w", err)
	}

	sess, ok, err := l.sessions.Get(ctx, workerID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return fmt.Errorf("no session for worker %s", workerID)
	}
	agent := l.resolveCustomAgent(sess.CustomAgentID)
	candidateModels := l.candidateModels(sess.ModelOverride)

	items, err := l.messages.List(ctx, workerID)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	tr := newTranscript(lastUserText(items))
	lastReport := l.lastReportTime(ctx, workerID)

	for iteration := 0; iteration < maxToolIterations; iteration++ {
		if err := checkCancelled(token); err != nil {
			return l.onCancelled(ctx, workerID, logger)
		}

		window := contextwindow.MiddleOutFiltering(items, contextwindow.DefaultTokenCap)
		messages := contextwindow.PlaceCachePoints(window.Messages, window.Truncated)
		query := lastUserText(items)

		// ToolChoice stays unset: the model steers its own tool use, and
		// a set toolChoice suppresses reasoning during normalization.
		req := llm.Request{
			Messages:               messages,
			SystemPrompt:           l.buildSystemPrompt(ctx, workerID, agent, query),
			SystemPromptCachePoint: true,
			Tools:                  l.buildToolCatalog(agent),
			ToolsCachePoint:        true,
			Inference:              llm.InferenceConfig{Temperature: 1},
			ReasoningRequested:     contextwindow.ReasoningEligible(items),
			UltrathinkRequested:    llm.ReasoningEligibleFromText(query),
		}

		result, err := l.invokeWithRetry(ctx, workerID, candidateModels, req, token)
		if err != nil {
			if errors.Is(err, errCancelled) {
				return l.onCancelled(ctx, workerID, logger)
			}
			if errors.Is(err, llm.ErrEmptyResponse) {
				return l.finalizeWithText(ctx, workerID, items, tr, "(no response was produced for this turn)", logger)
			}
			logger.Error().Err(err).Msg("turn aborted: provider error")
			return fmt.Errorf("invoke llm: %w", err)
		}

		if err := l.messages.AttributeInputTokens(ctx, workerID, result.Response.InputTokens); err != nil {
			logger.Warn().Err(err).Msg("failed to attribute input tokens")
		}

		if len(result.Response.Content) == 0 {
			return l.finalizeWithText(ctx, workerID, items, tr, "(no response was produced for this turn)", logger)
		}

		toolUses := toolUseBlocks(result.Response.Content)
		if len(toolUses) == 0 || result.Response.StopReason != llm.StopToolUse {
			text := stripThinkingTags(convo.Item{Content: result.Response.Content}.TextContent())
			appended, err := l.messages.Append(ctx, workerID, convo.Item{
				Role:           convo.RoleAssistant,
				MessageType:    convo.TypeAssistantResponse,
				Content:        result.Response.Content,
				TokenCount:     result.Response.OutputTokens,
				ThinkingBudget: result.ThinkingBudget,
			})
			if err != nil {
				return fmt.Errorf("persist assistant response: %w", err)
			}
			items = append(items, convo.Item{
				WorkerID:    workerID,
				SK:          appended,
				Role:        convo.RoleAssistant,
				MessageType: convo.TypeAssistantResponse,
				Content:     result.Response.Content,
				TokenCount:  result.Response.OutputTokens,
			})
			tr.addFinal(text)
			return l.finalize(ctx, workerID, tr, text, logger)
		}

		if err := checkCancelled(token); err != nil {
			return l.onCancelled(ctx, workerID, logger)
		}

		toolUseItem, toolResultItem, newLastReport, dispatchErr := l.dispatchTools(ctx, workerID, agent, result, toolUses, tr, lastReport, token)
		if dispatchErr != nil {
			if errors.Is(dispatchErr, errCancelled) {
				return l.onCancelled(ctx, workerID, logger)
			}
			return fmt.Errorf("dispatch tools: %w", dispatchErr)
		}
		lastReport = newLastReport

		sks, err := l.messages.AppendPair(ctx, workerID, toolUseItem, toolResultItem, result.Response.OutputTokens, result.ThinkingBudget)
		if err != nil {
			return fmt.Errorf("persist tool use/result pair: %w", err)
		}
		toolUseItem.SK, toolResultItem.SK = sks[0], sks[1]
		toolUseItem.WorkerID, toolResultItem.WorkerID = workerID, workerID
		items = append(items, toolUseItem, toolResultItem)

		l.emitToolEvents(ctx, workerID, toolUseItem, toolResultItem, result.ThinkingBudget)
	}

	return l.finalizeWithText(ctx, workerID, items, tr, "(reached the maximum number of tool iterations for this turn)", logger)
}

// candidateModels returns modelOverride as a single-candidate slice
// when set, else the process-wide default model. The LLM Client picks
// randomly among whatever this returns, which degenerates to a fixed
// choice when only one candidate is given.
func (l *Loop) candidateModels(modelOverride string) []string {
	if modelOverride != "" {
		return []string{modelOverride}
	}
	if l.cfg != nil && l.cfg.Preferences.DefaultModel != "" {
		return []string{l.cfg.Preferences.DefaultModel}
	}
	return []string{"claude-sonnet-4"}
}

func (l *Loop) resolveCustomAgent(customAgentID string) *config.CustomAgentConfig {
	if customAgentID == "" || l.cfg == nil {
		return nil
	}
	for i := range l.cfg.Preferences.CustomAgents {
		if l.cfg.Preferences.CustomAgents[i].Name == customAgentID {
			return &l.cfg.Preferences.CustomAgents[i]
		}
	}
	return nil
}

// invokeWithRetry is the outer retry wrapper: Throttled and
// MaxTokens are retried with randomized 1-5s backoff, up to maxRetries
// total attempts; MaxTokens additionally escalates the output budget
// via maxTokensRetryCount and aborts Fatal past maxTokensEscalations;
// any other error aborts the turn immediately.
func (l *Loop) invokeWithRetry(ctx context.Context, workerID string, candidateModels []string, req llm.Request, token *CancelToken) (llm.Result, error) {
	maxTokensRetryCount := 0
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := checkCancelled(token); err != nil {
			return llm.Result{}, err
		}

		result, err := l.llmClient.Converse(ctx, workerID, candidateModels, req, maxTokensRetryCount)
		if err == nil {
			return result, nil
		}

		if errors.Is(err, llm.ErrThrottled) {
			if waitErr := l.backoff(ctx, token); waitErr != nil {
				return llm.Result{}, waitErr
			}
			continue
		}

		if errors.Is(err, llm.ErrMaxTokensExceeded) {
			maxTokensRetryCount++
			if maxTokensRetryCount > maxTokensEscalations {
				return llm.Result{}, fmt.Errorf("%w: %v", errMaxTokensEscalationExceeded, err)
			}
			if waitErr := l.backoff(ctx, token); waitErr != nil {
				return llm.Result{}, waitErr
			}
			continue
		}

		return llm.Result{}, err
	}
	return llm.Result{}, fmt.Errorf("turnloop: exceeded retry limit of %d attempts", maxRetries)
}

func (l *Loop) backoff(ctx context.Context, token *CancelToken) error {
	timer := time.NewTimer(l.backoffDelay())
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return checkCancelled(token)
	}
}

// onCancelled leaves status as working — flipping to pending here
// would race whatever action triggered the cancel — and returns nil,
// since cancellation is not an error condition from the caller's
// perspective.
func (l *Loop) onCancelled(ctx context.Context, workerID string, logger zerolog.Logger) error {
	logger.Info().Msg("turn cancelled")
	return nil
}

// finalizeWithText appends a placeholder assistant reply (the
// empty-response and iteration-cap terminal cases) and runs the
// normal finalize path.
func (l *Loop) finalizeWithText(ctx context.Context, workerID string, items []convo.Item, tr *transcript, text string, logger zerolog.Logger) error {
	if _, err := l.messages.Append(ctx, workerID, convo.Item{
		Role:        convo.RoleAssistant,
		MessageType: convo.TypeAssistantResponse,
		Content:     []convo.Block{convo.TextBlock(text)},
	}); err != nil {
		return fmt.Errorf("persist placeholder response: %w", err)
	}
	tr.addFinal(text)
	return l.finalize(ctx, workerID, tr, text, logger)
}

// finalize best-effort generates a session title, emits the final
// assistant message event last (sessionTitleUpdate goes out before the
// final reply), and flips status back to pending.
func (l *Loop) finalize(ctx context.Context, workerID string, tr *transcript, finalText string, logger zerolog.Logger) error {
	conversationText := tr.String()
	if conversationText != "" && l.titleGen != nil {
		before, _, beforeErr := l.sessions.Get(ctx, workerID)
		l.sessions.GenerateTitleIfUnset(ctx, workerID, conversationText, l.titleGen)
		if beforeErr == nil && before.Title == "" {
			if after, ok, err := l.sessions.Get(ctx, workerID); err == nil && ok && after.Title != "" {
				if pubErr := l.bus.Publish(ctx, workerID, eventbus.Event{Type: eventbus.EventSessionTitleUpdate, NewTitle: after.Title}); pubErr != nil {
					logger.Warn().Err(pubErr).Msg("failed to publish session title update")
				}
			}
		}
	}

	if finalText != "" {
		if err := l.bus.Publish(ctx, workerID, eventbus.Event{
			Type: eventbus.EventMessage,
			Role: string(convo.RoleAssistant),
			Text: finalText,
		}); err != nil {
			logger.Warn().Err(err).Msg("failed to publish final assistant message")
		}
	}

	if err := l.sessions.UpdateStatus(ctx, workerID, sessionstore.StatusPending); err != nil {
		return fmt.Errorf("exit working state: %w", err)
	}
	return nil
}

// stripThinkingTags removes inline <thinking>...</thinking> spans from
// the assistant's visible reply text. An
// unterminated opening tag drops the rest of the string.
func stripThinkingTags(s string) string {
	const openTag, closeTag = "<thinking>", "</thinking>"
	for {
		start := strings.Index(s, openTag)
		if start < 0 {
			return strings.TrimSpace(s)
		}
		end := strings.Index(s[start:], closeTag)
		if end < 0 {
			return strings.TrimSpace(s[:start])
		}
		s = s[:start] + s[start+end+len(closeTag):]
	}
}

func lastUserText(items []convo.Item) string {
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].Role == convo.RoleUser && items[i].MessageType == convo.TypeUserMessage {
			return items[i].TextContent()
		}
	}
	return ""
}

func toolUseBlocks(content []convo.Block) []convo.Block {
	var out []convo.Block
	for _, b := range content {
		if b.Kind == convo.BlockToolUse {
			out = append(out, b)
		}
	}
	return out
}

func (l *Loop) lastReportTime(ctx context.Context, workerID string) time.Time {
	if l.metadata == nil {
		return time.Time{}
	}
	rec, ok, err := l.metadata.Get(ctx, workerID, "lastReport")
	if err != nil || !ok {
		return time.Time{}
	}
	switch v := rec["at"].(type) {
	case time.Time:
		return v
	case string:
		t, _ := time.Parse(time.RFC3339Nano, v)
		return t
	default:
		return time.Time{}
	}
}

func outputToBlocks(output interface{}) []convo.Block {
	switch v := output.(type) {
	case string:
		return []convo.Block{convo.TextBlock(v)}
	case []convo.Block:
		return v
	case map[string]interface{}:
		if bytesVal, ok := v["imageBytes"].([]byte); ok {
			format, _ := v["imageFormat"].(string)
			return []convo.Block{convo.ImageBlock(bytesVal, convo.ImageFormat(format))}
		}
	}
	data, err := json.Marshal(output)
	if err != nil {
		return []convo.Block{convo.TextBlock(fmt.Sprintf("%v", output))}
	}
	return []convo.Block{convo.TextBlock(string(data))}
}
