package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// PropagateToSubWorker carries tracing context down to a sub-worker
// spawned off a parent turn. It keeps the trace ID but mints a fresh
// turn ID for the sub-worker's own loop.
func PropagateToSubWorker(ctx context.Context, subWorkerID string) context.Context {
	traceID := GetTraceID(ctx)
	if traceID == "" {
		traceID = NewTraceID()
	}

	newCtx := WithTraceID(ctx, traceID)
	newCtx = WithTurnID(newCtx, NewTurnID())
	newCtx = WithWorkerID(newCtx, subWorkerID)

	if sessionKey := GetSessionKey(ctx); sessionKey != "" {
		newCtx = WithSessionKey(newCtx, sessionKey)
	}

	return newCtx
}

// PropagateToLogger attaches whatever tracing context ctx carries onto
// logger.
func PropagateToLogger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	if tc.TraceID != "" {
		logger = logger.With().Str("trace_id", tc.TraceID).Logger()
	}
	if tc.TurnID != "" {
		logger = logger.With().Str("turn_id", tc.TurnID).Logger()
	}
	if tc.WorkerID != "" {
		logger = logger.With().Str("worker_id", tc.WorkerID).Logger()
	}
	if tc.SessionKey != "" {
		logger = logger.With().Str("session_key", tc.SessionKey).Logger()
	}

	return logger
}

// LoggerFromContext is PropagateToLogger under the name call sites that
// start from a bare context reach for.
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	return PropagateToLogger(ctx, baseLogger)
}

// MergeContext copies any tracing value source carries that target
// doesn't already have, without overwriting target's own values. Used
// when a resumed turn needs to reconcile a fresh request trace id with
// the session's stored worker/session keys.
func MergeContext(target, source context.Context) context.Context {
	tc := FromContext(source)

	if tc.TraceID != "" && GetTraceID(target) == "" {
		target = WithTraceID(target, tc.TraceID)
	}
	if tc.TurnID != "" && GetTurnID(target) == "" {
		target = WithTurnID(target, tc.TurnID)
	}
	if tc.WorkerID != "" && GetWorkerID(target) == "" {
		target = WithWorkerID(target, tc.WorkerID)
	}
	if tc.SessionKey != "" && GetSessionKey(target) == "" {
		target = WithSessionKey(target, tc.SessionKey)
	}

	return target
}

// CloneContext detaches ctx's tracing values from whatever cancellation
// or deadline ctx carries, onto a fresh context.Background(). Useful
// for background work that must outlive the request context but
// should still log with the same trace/turn ids.
func CloneContext(ctx context.Context) context.Context {
	tc := FromContext(ctx)
	return NewContext(context.Background(), tc)
}

// PropagationChain tracks a turn's lineage as it spawns sub-workers,
// each descendant context reachable from the one before it.
type PropagationChain struct {
	contexts []context.Context
}

// NewPropagationChain starts a chain rooted at rootCtx.
func NewPropagationChain(rootCtx context.Context) *PropagationChain {
	return &PropagationChain{
		contexts: []context.Context{rootCtx},
	}
}

// AddSubWorker appends a sub-worker context derived from the chain's
// current tail and returns it.
func (pc *PropagationChain) AddSubWorker(workerID string) context.Context {
	parent := pc.contexts[len(pc.contexts)-1]
	child := PropagateToSubWorker(parent, workerID)
	pc.contexts = append(pc.contexts, child)
	return child
}

// GetRoot returns the chain's root context.
func (pc *PropagationChain) GetRoot() context.Context {
	if len(pc.contexts) == 0 {
		return context.Background()
	}
	return pc.contexts[0]
}

// GetCurrent returns the chain's most recently added context.
func (pc *PropagationChain) GetCurrent() context.Context {
	if len(pc.contexts) == 0 {
		return context.Background()
	}
	return pc.contexts[len(pc.contexts)-1]
}

// Depth returns how many contexts the chain holds, including the root.
func (pc *PropagationChain) Depth() int {
	return len(pc.contexts)
}
