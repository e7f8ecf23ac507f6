package toolexecutor

import "context"

type execContextKey struct{}

// ContextWithExecContext attaches execCtx to ctx so a tool's Handler,
// which only receives (ctx, params), can still reach the WorkerID,
// working directory, and preferences Execute resolved for this call.
func ContextWithExecContext(ctx context.Context, execCtx *ExecutionContext) context.Context {
	if ctx == nil {
		return context.Background()
	}
	if execCtx == nil {
		return ctx
	}
	return context.WithValue(ctx, execContextKey{}, execCtx)
}

// ExecContextFromContext recovers the ExecutionContext a Handler was
// dispatched with, or nil if ctx carries none (e.g. a handler invoked
// directly in a test, bypassing Execute).
func ExecContextFromContext(ctx context.Context) *ExecutionContext {
	if ctx == nil {
		return nil
	}
	if v := ctx.Value(execContextKey{}); v != nil {
		if execCtx, ok := v.(*ExecutionContext); ok {
			return execCtx
		}
	}
	return nil
}

// WorkerIDFromContext is the common case of ExecContextFromContext
// callers that only want the worker id, with no nil-check boilerplate.
func WorkerIDFromContext(ctx context.Context) string {
	if execCtx := ExecContextFromContext(ctx); execCtx != nil {
		return execCtx.WorkerID
	}
	return ""
}
