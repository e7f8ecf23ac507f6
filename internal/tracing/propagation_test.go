package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func TestPropagateToSubWorker(t *testing.T) {
	parentCtx := context.Background()
	parentCtx = WithTraceID(parentCtx, "trace-123")
	parentCtx = WithTurnID(parentCtx, "turn-parent")
	parentCtx = WithWorkerID(parentCtx, "parent-worker")
	parentCtx = WithSessionKey(parentCtx, "session-abc")

	childCtx := PropagateToSubWorker(parentCtx, "child-worker")

	if GetTraceID(childCtx) != "trace-123" {
		t.Error("Trace ID not propagated")
	}

	if GetTurnID(childCtx) == "turn-parent" {
		t.Error("Turn ID should be different for sub-worker")
	}
	if GetTurnID(childCtx) == "" {
		t.Error("Turn ID not generated for sub-worker")
	}

	if GetWorkerID(childCtx) != "child-worker" {
		t.Error("Worker ID not updated")
	}

	if GetSessionKey(childCtx) != "session-abc" {
		t.Error("Session key not propagated")
	}
}

func TestPropagateToSubWorkerNoTraceID(t *testing.T) {
	parentCtx := context.Background()

	childCtx := PropagateToSubWorker(parentCtx, "child-worker")

	if GetTraceID(childCtx) == "" {
		t.Error("Trace ID not generated when missing")
	}

	if GetTurnID(childCtx) == "" {
		t.Error("Turn ID not generated")
	}

	if GetWorkerID(childCtx) != "child-worker" {
		t.Error("Worker ID not set")
	}
}

func TestPropagateToLogger(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-123")
	ctx = WithTurnID(ctx, "turn-456")
	ctx = WithWorkerID(ctx, "worker-789")
	ctx = WithSessionKey(ctx, "session-abc")

	var buf bytes.Buffer
	baseLogger := zerolog.New(&buf)

	logger := PropagateToLogger(ctx, baseLogger)

	logger.Info().Msg("test message")

	output := buf.String()

	if !contains(output, "trace-123") {
		t.Error("Trace ID not in log output")
	}
	if !contains(output, "turn-456") {
		t.Error("Turn ID not in log output")
	}
	if !contains(output, "worker-789") {
		t.Error("Worker ID not in log output")
	}
	if !contains(output, "session-abc") {
		t.Error("Session key not in log output")
	}
}

func TestLoggerFromContext(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-xyz")

	var buf bytes.Buffer
	baseLogger := zerolog.New(&buf)

	logger := LoggerFromContext(ctx, baseLogger)

	logger.Info().Msg("test")

	output := buf.String()
	if !contains(output, "trace-xyz") {
		t.Error("Trace ID not in log output")
	}
}

func TestMergeContext(t *testing.T) {
	sourceCtx := context.Background()
	sourceCtx = WithTraceID(sourceCtx, "trace-source")
	sourceCtx = WithTurnID(sourceCtx, "turn-source")

	targetCtx := context.Background()

	mergedCtx := MergeContext(targetCtx, sourceCtx)

	if GetTraceID(mergedCtx) != "trace-source" {
		t.Error("Trace ID not merged")
	}
	if GetTurnID(mergedCtx) != "turn-source" {
		t.Error("Turn ID not merged")
	}
}

func TestMergeContextNoOverwrite(t *testing.T) {
	sourceCtx := context.Background()
	sourceCtx = WithTraceID(sourceCtx, "trace-source")

	targetCtx := context.Background()
	targetCtx = WithTraceID(targetCtx, "trace-target")

	mergedCtx := MergeContext(targetCtx, sourceCtx)

	if GetTraceID(mergedCtx) != "trace-target" {
		t.Error("Trace ID should not be overwritten")
	}
}

func TestCloneContext(t *testing.T) {
	originalCtx := context.Background()
	originalCtx = WithTraceID(originalCtx, "trace-123")
	originalCtx = WithTurnID(originalCtx, "turn-456")
	originalCtx = WithWorkerID(originalCtx, "worker-789")

	clonedCtx := CloneContext(originalCtx)

	if GetTraceID(clonedCtx) != "trace-123" {
		t.Error("Trace ID not cloned")
	}
	if GetTurnID(clonedCtx) != "turn-456" {
		t.Error("Turn ID not cloned")
	}
	if GetWorkerID(clonedCtx) != "worker-789" {
		t.Error("Worker ID not cloned")
	}
}

func TestPropagationChain(t *testing.T) {
	rootCtx := context.Background()
	rootCtx = WithTraceID(rootCtx, "trace-root")

	chain := NewPropagationChain(rootCtx)

	if chain.Depth() != 1 {
		t.Errorf("Expected depth 1, got %d", chain.Depth())
	}

	ctx1 := chain.AddSubWorker("worker-1")
	if chain.Depth() != 2 {
		t.Errorf("Expected depth 2, got %d", chain.Depth())
	}

	if GetTraceID(ctx1) != "trace-root" {
		t.Error("Trace ID not propagated in chain")
	}
	if GetWorkerID(ctx1) != "worker-1" {
		t.Error("Worker ID not set correctly")
	}

	ctx2 := chain.AddSubWorker("worker-2")
	if chain.Depth() != 3 {
		t.Errorf("Expected depth 3, got %d", chain.Depth())
	}

	if GetTraceID(ctx2) != "trace-root" {
		t.Error("Trace ID not propagated through chain")
	}
	if GetWorkerID(ctx2) != "worker-2" {
		t.Error("Worker ID not set correctly")
	}

	if GetTurnID(ctx1) == GetTurnID(ctx2) {
		t.Error("Turn IDs should be different for each sub-worker")
	}

	if GetTraceID(chain.GetRoot()) != "trace-root" {
		t.Error("GetRoot returned wrong context")
	}

	if GetWorkerID(chain.GetCurrent()) != "worker-2" {
		t.Error("GetCurrent returned wrong context")
	}
}

func TestPropagationChainEmpty(t *testing.T) {
	chain := &PropagationChain{}

	if chain.Depth() != 0 {
		t.Errorf("Expected depth 0, got %d", chain.Depth())
	}

	root := chain.GetRoot()
	if root == nil {
		t.Error("GetRoot returned nil")
	}

	current := chain.GetCurrent()
	if current == nil {
		t.Error("GetCurrent returned nil")
	}
}

func contains(s, substr string) bool {
	return bytes.Contains([]byte(s), []byte(substr))
}
