package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type used for every value this package stashes on
// a context.Context, so it can never collide with a key some other
// package defines as a plain string.
type ContextKey string

const (
	// TraceIDKey identifies one HTTP request or daemon-level operation.
	TraceIDKey ContextKey = "trace_id"
	// TurnIDKey identifies one Agent Turn Loop iteration within a worker.
	TurnIDKey ContextKey = "turn_id"
	// WorkerIDKey identifies the worker/session a turn belongs to.
	WorkerIDKey ContextKey = "worker_id"
	// SessionKeyKey is a caller-supplied session partition key, used
	// when a single workerID's history is sharded across more than one
	// logical session.
	SessionKeyKey ContextKey = "session_key"
	// RequestIDKey is an idempotency key for the inbound trigger that
	// started this turn.
	RequestIDKey ContextKey = "request_id"
)

// TurnContext bundles every identifier worth propagating down a call
// chain for one turn: the request that triggered it, the worker it
// belongs to, and (if this turn spawned its own sub-span) a turn id.
type TurnContext struct {
	TraceID    string
	TurnID     string
	WorkerID   string
	SessionKey string
	RequestID  string
}

// NewTraceID generates a new trace id.
func NewTraceID() string {
	return uuid.New().String()
}

// NewTurnID generates a new turn id.
func NewTurnID() string {
	return uuid.New().String()
}

// WithTraceID attaches traceID to ctx.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithTurnID attaches turnID to ctx.
func WithTurnID(ctx context.Context, turnID string) context.Context {
	return context.WithValue(ctx, TurnIDKey, turnID)
}

// WithWorkerID attaches workerID to ctx.
func WithWorkerID(ctx context.Context, workerID string) context.Context {
	return context.WithValue(ctx, WorkerIDKey, workerID)
}

// WithSessionKey attaches a session key to ctx.
func WithSessionKey(ctx context.Context, sessionKey string) context.Context {
	return context.WithValue(ctx, SessionKeyKey, sessionKey)
}

// WithRequestID attaches an idempotency key to ctx.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetTraceID reads the trace id off ctx, or "" if none was set.
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetTurnID reads the turn id off ctx, or "" if none was set.
func GetTurnID(ctx context.Context) string {
	if turnID, ok := ctx.Value(TurnIDKey).(string); ok {
		return turnID
	}
	return ""
}

// GetWorkerID reads the worker id off ctx, or "" if none was set.
func GetWorkerID(ctx context.Context) string {
	if workerID, ok := ctx.Value(WorkerIDKey).(string); ok {
		return workerID
	}
	return ""
}

// GetSessionKey reads the session key off ctx, or "" if none was set.
func GetSessionKey(ctx context.Context) string {
	if sessionKey, ok := ctx.Value(SessionKeyKey).(string); ok {
		return sessionKey
	}
	return ""
}

// GetRequestID reads the idempotency key off ctx, or "" if none was set.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// FromContext collects every tracing value ctx carries into one
// TurnContext, so a caller can thread them all together (e.g. across
// an MCP dispatch boundary) without naming each key individually.
func FromContext(ctx context.Context) *TurnContext {
	return &TurnContext{
		TraceID:    GetTraceID(ctx),
		TurnID:     GetTurnID(ctx),
		WorkerID:   GetWorkerID(ctx),
		SessionKey: GetSessionKey(ctx),
		RequestID:  GetRequestID(ctx),
	}
}

// NewContext re-attaches every non-empty field of tc onto ctx, the
// inverse of FromContext.
func NewContext(ctx context.Context, tc *TurnContext) context.Context {
	if tc.TraceID != "" {
		ctx = WithTraceID(ctx, tc.TraceID)
	}
	if tc.TurnID != "" {
		ctx = WithTurnID(ctx, tc.TurnID)
	}
	if tc.WorkerID != "" {
		ctx = WithWorkerID(ctx, tc.WorkerID)
	}
	if tc.SessionKey != "" {
		ctx = WithSessionKey(ctx, tc.SessionKey)
	}
	if tc.RequestID != "" {
		ctx = WithRequestID(ctx, tc.RequestID)
	}
	return ctx
}

// NewRequestContext starts a fresh trace id for an inbound request.
func NewRequestContext(ctx context.Context) context.Context {
	return WithTraceID(ctx, NewTraceID())
}

// NewTurnContext starts a fresh turn id for workerID, the context
// OnMessageReceived/Resume hand down into runTurn.
func NewTurnContext(ctx context.Context, workerID string) context.Context {
	ctx = WithTurnID(ctx, NewTurnID())
	ctx = WithWorkerID(ctx, workerID)
	return ctx
}
