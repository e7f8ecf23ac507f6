package turnloop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/harun/ranya-core/internal/eventbus"
	"github.com/harun/ranya-core/internal/kvstore"
	"github.com/harun/ranya-core/pkg/convo"
	"github.com/harun/ranya-core/pkg/ledger"
	"github.com/harun/ranya-core/pkg/llm"
	"github.com/harun/ranya-core/pkg/message"
	"github.com/harun/ranya-core/pkg/metadata"
	"github.com/harun/ranya-core/pkg/sessionstore"
	"github.com/harun/ranya-core/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConverser is a scripted Converser: each call pops the next
// scripted response/error off its queue.
type fakeConverser struct {
	mu        sync.Mutex
	responses []llm.Result
	errs      []error
	calls     []llm.Request
}

func (f *fakeConverser) script(result llm.Result, err error) {
	f.responses = append(f.responses, result)
	f.errs = append(f.errs, err)
}

func (f *fakeConverser) Converse(ctx context.Context, workerID string, candidateModels []string, req llm.Request, maxTokensRetryCount int) (llm.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if len(f.responses) == 0 {
		return llm.Result{}, llm.ErrEmptyResponse
	}
	result, err := f.responses[0], f.errs[0]
	f.responses = f.responses[1:]
	f.errs = f.errs[1:]
	return result, err
}

func (f *fakeConverser) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// recordingBus captures every published event in order, for assertions
// about toolUse/toolResult and title-update ordering.
type recordingBus struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (b *recordingBus) Publish(ctx context.Context, workerID string, event eventbus.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *recordingBus) snapshot() []eventbus.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]eventbus.Event, len(b.events))
	copy(out, b.events)
	return out
}

type fakeTitleGen struct {
	title string
	err   error
}

func (g *fakeTitleGen) GenerateTitle(ctx context.Context, workerID, conversationText string) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	return g.title, nil
}

func endTurn(text string) llm.Result {
	return llm.Result{Response: llm.Response{
		Content:    []convo.Block{convo.TextBlock(text)},
		StopReason: llm.StopEndTurn,
	}}
}

func toolUse(id, name string, input map[string]interface{}) llm.Result {
	return llm.Result{Response: llm.Response{
		Content:    []convo.Block{convo.ToolUseBlock(id, name, input)},
		StopReason: llm.StopToolUse,
	}}
}

type testFixture struct {
	messages  *message.Store
	sessions  *sessionstore.Store
	ledger    *ledger.Ledger
	metadata  *metadata.Store
	executor  *toolexecutor.ToolExecutor
	bus       *recordingBus
	converser *fakeConverser
	loop      *Loop
}

func newFixture(t *testing.T, titleGen sessionstore.TitleGenerator) *testFixture {
	t.Helper()
	kv := kvstore.NewMemoryStore()
	sessions := sessionstore.New(kv, zerolog.Nop())
	messages := message.New(kv, zerolog.Nop())
	lg := ledger.New(kv, sessions, ledger.DefaultPriceTable(), zerolog.Nop())
	meta := metadata.New(kv, zerolog.Nop())
	executor := toolexecutor.New()
	bus := &recordingBus{}
	conv := &fakeConverser{}

	_, err := sessions.Create(context.Background(), "w1", "test")
	require.NoError(t, err)

	loop := New(Options{
		Messages:     messages,
		Sessions:     sessions,
		Metadata:     meta,
		LLMClient:    conv,
		ToolExecutor: executor,
		Bus:          bus,
		TitleGen:     titleGen,
		Logger:       zerolog.Nop(),
	})
	loop.backoffDelay = func() time.Duration { return time.Millisecond }

	return &testFixture{
		messages: messages, sessions: sessions, ledger: lg, metadata: meta,
		executor: executor, bus: bus, converser: conv, loop: loop,
	}
}

func (f *testFixture) postUserMessage(t *testing.T, workerID, text string) {
	t.Helper()
	_, err := f.messages.Append(context.Background(), workerID, convo.Item{
		Role:        convo.RoleUser,
		MessageType: convo.TypeUserMessage,
		Content:     []convo.Block{convo.TextBlock(text)},
	})
	require.NoError(t, err)
}

func TestRunTurn_SimpleTurnNoTools(t *testing.T) {
	f := newFixture(t, nil)
	f.postUserMessage(t, "w1", "hello there")
	f.converser.script(endTurn("hi, how can I help?"), nil)

	err := f.loop.OnMessageReceived(context.Background(), "w1", nil)
	require.NoError(t, err)

	items, err := f.messages.List(context.Background(), "w1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, convo.TypeAssistantResponse, items[1].MessageType)
	assert.Equal(t, "hi, how can I help?", items[1].TextContent())

	sess, ok, err := f.sessions.Get(context.Background(), "w1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sessionstore.StatusPending, sess.AgentStatus)

	events := f.bus.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, eventbus.EventMessage, events[0].Type)
	assert.Equal(t, "assistant", events[0].Role)
	assert.Equal(t, "hi, how can I help?", events[0].Text)
}

func TestRunTurn_StripsThinkingFromVisibleReply(t *testing.T) {
	f := newFixture(t, nil)
	f.postUserMessage(t, "w1", "hello")
	f.converser.script(endTurn("<thinking>weighing options</thinking>the answer is 4"), nil)

	err := f.loop.OnMessageReceived(context.Background(), "w1", nil)
	require.NoError(t, err)

	events := f.bus.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, eventbus.EventMessage, events[0].Type)
	assert.Equal(t, "the answer is 4", events[0].Text)

	// The persisted assistant item keeps the full content.
	items, err := f.messages.List(context.Background(), "w1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Contains(t, items[1].TextContent(), "<thinking>")
}

func TestRunTurn_SingleToolRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.executor.RegisterTool(toolexecutor.ToolDefinition{
		Name:        "echo",
		Description: "echoes back its input",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "text", Type: "string", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			text, _ := params["text"].(string)
			return text, nil
		},
	}))

	f.postUserMessage(t, "w1", "please echo hi")
	f.converser.script(toolUse("tu-1", "echo", map[string]interface{}{"text": "hi"}), nil)
	f.converser.script(endTurn("done"), nil)

	err := f.loop.OnMessageReceived(context.Background(), "w1", nil)
	require.NoError(t, err)

	items, err := f.messages.List(context.Background(), "w1")
	require.NoError(t, err)
	require.Len(t, items, 4)
	assert.Equal(t, convo.TypeToolUse, items[1].MessageType)
	assert.Equal(t, convo.TypeToolResult, items[2].MessageType)
	toolResultBlock := items[2].Content[0]
	assert.Equal(t, convo.ToolResultSuccess, toolResultBlock.ToolResultStatus)
	assert.Equal(t, "hi", toolResultBlock.ToolResultContent[0].Text)

	events := f.bus.snapshot()
	require.Len(t, events, 3)
	assert.Equal(t, eventbus.EventToolUse, events[0].Type)
	assert.Equal(t, "tu-1", events[0].ToolUseID)
	assert.Equal(t, eventbus.EventToolResult, events[1].Type)
	assert.Equal(t, "hi", events[1].Output)
	assert.Equal(t, eventbus.EventMessage, events[2].Type)
	assert.Equal(t, "done", events[2].Text)
}

func TestRunTurn_ThrottleThenSuccess(t *testing.T) {
	f := newFixture(t, nil)
	f.postUserMessage(t, "w1", "hello")
	f.converser.script(llm.Result{}, llm.ErrThrottled)
	f.converser.script(endTurn("recovered"), nil)

	err := f.loop.OnMessageReceived(context.Background(), "w1", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, f.converser.callCount())

	items, err := f.messages.List(context.Background(), "w1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "recovered", items[1].TextContent())
}

func TestRunTurn_MaxTokensEscalatesThenAborts(t *testing.T) {
	f := newFixture(t, nil)
	f.postUserMessage(t, "w1", "hello")
	for i := 0; i < maxTokensEscalations+1; i++ {
		f.converser.script(llm.Result{}, llm.ErrMaxTokensExceeded)
	}

	err := f.loop.OnMessageReceived(context.Background(), "w1", nil)
	require.Error(t, err)
	assert.Equal(t, maxTokensEscalations+1, f.converser.callCount())

	sess, ok, err := f.sessions.Get(context.Background(), "w1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sessionstore.StatusWorking, sess.AgentStatus)
}

func TestRunTurn_CancellationMidToolLeavesStatusWorking(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.executor.RegisterTool(toolexecutor.ToolDefinition{
		Name: "noop",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return "ok", nil
		},
	}))

	f.postUserMessage(t, "w1", "do something")
	f.converser.script(toolUse("tu-1", "noop", nil), nil)

	token := NewCancelToken()
	token.Cancel()

	err := f.loop.OnMessageReceived(context.Background(), "w1", token)
	require.NoError(t, err)

	items, err := f.messages.List(context.Background(), "w1")
	require.NoError(t, err)
	assert.Len(t, items, 1)

	sess, ok, err := f.sessions.Get(context.Background(), "w1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sessionstore.StatusWorking, sess.AgentStatus)
}

func TestRunTurn_EmptyResponseFinalizesWithPlaceholder(t *testing.T) {
	f := newFixture(t, nil)
	f.postUserMessage(t, "w1", "hello")
	f.converser.script(llm.Result{}, llm.ErrEmptyResponse)

	err := f.loop.OnMessageReceived(context.Background(), "w1", nil)
	require.NoError(t, err)

	items, err := f.messages.List(context.Background(), "w1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Contains(t, items[1].TextContent(), "no response")
}

func TestRunTurn_GeneratesTitleOnlyOnce(t *testing.T) {
	gen := &fakeTitleGen{title: "A Short Title"}
	f := newFixture(t, gen)
	f.postUserMessage(t, "w1", "hello")
	f.converser.script(endTurn("hi"), nil)

	err := f.loop.OnMessageReceived(context.Background(), "w1", nil)
	require.NoError(t, err)

	sess, ok, err := f.sessions.Get(context.Background(), "w1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "A Short Title", sess.Title)

	// The title update is published before the final reply (the event
	// ordering the bus consumers rely on).
	events := f.bus.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, eventbus.EventSessionTitleUpdate, events[0].Type)
	assert.Equal(t, "A Short Title", events[0].NewTitle)
	assert.Equal(t, eventbus.EventMessage, events[1].Type)

	f.postUserMessage(t, "w1", "second message")
	f.converser.script(endTurn("again"), nil)
	err = f.loop.OnMessageReceived(context.Background(), "w1", nil)
	require.NoError(t, err)

	events = f.bus.snapshot()
	require.Len(t, events, 3)
	for _, ev := range events[2:] {
		assert.NotEqual(t, eventbus.EventSessionTitleUpdate, ev.Type)
	}
}

func TestCancelToken_CallbackInvokedExactlyOnce(t *testing.T) {
	token := NewCancelToken()
	calls := 0
	token.OnCancel(func() { calls++ })
	token.Cancel()
	token.Cancel()
	assert.Equal(t, 1, calls)
	assert.True(t, token.IsCancelled())
}

func TestStripThinkingTags(t *testing.T) {
	assert.Equal(t, "visible", stripThinkingTags("<thinking>hidden</thinking>visible"))
	assert.Equal(t, "a b", stripThinkingTags("a <thinking>x</thinking>b"))
	assert.Equal(t, "before", stripThinkingTags("before<thinking>unterminated"))
	assert.Equal(t, "plain", stripThinkingTags("plain"))
}

func TestResume_NoopWhenLastItemIsAssistantResponse(t *testing.T) {
	f := newFixture(t, nil)
	f.postUserMessage(t, "w1", "hello")
	f.converser.script(endTurn("hi"), nil)
	require.NoError(t, f.loop.OnMessageReceived(context.Background(), "w1", nil))
	require.Equal(t, 1, f.converser.callCount())

	require.NoError(t, f.loop.Resume(context.Background(), "w1", nil))
	assert.Equal(t, 1, f.converser.callCount())
}

func TestResume_RunsTurnWhenLastItemIsUserMessage(t *testing.T) {
	f := newFixture(t, nil)
	f.postUserMessage(t, "w1", "hello")
	f.converser.script(endTurn("hi"), nil)

	require.NoError(t, f.loop.Resume(context.Background(), "w1", nil))
	assert.Equal(t, 1, f.converser.callCount())
}
