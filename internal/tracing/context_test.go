package tracing

import (
	"context"
	"testing"
)

func TestNewTraceID(t *testing.T) {
	id1 := NewTraceID()
	id2 := NewTraceID()

	if id1 == "" {
		t.Error("NewTraceID returned empty string")
	}

	if id1 == id2 {
		t.Error("NewTraceID returned duplicate IDs")
	}
}

func TestNewTurnID(t *testing.T) {
	id1 := NewTurnID()
	id2 := NewTurnID()

	if id1 == "" {
		t.Error("NewTurnID returned empty string")
	}

	if id1 == id2 {
		t.Error("NewTurnID returned duplicate IDs")
	}
}

func TestWithTraceID(t *testing.T) {
	ctx := context.Background()
	traceID := "test-trace-id"

	ctx = WithTraceID(ctx, traceID)

	retrieved := GetTraceID(ctx)
	if retrieved != traceID {
		t.Errorf("Expected trace ID %s, got %s", traceID, retrieved)
	}
}

func TestWithTurnID(t *testing.T) {
	ctx := context.Background()
	turnID := "test-turn-id"

	ctx = WithTurnID(ctx, turnID)

	retrieved := GetTurnID(ctx)
	if retrieved != turnID {
		t.Errorf("Expected turn ID %s, got %s", turnID, retrieved)
	}
}

func TestWithWorkerID(t *testing.T) {
	ctx := context.Background()
	workerID := "test-worker"

	ctx = WithWorkerID(ctx, workerID)

	retrieved := GetWorkerID(ctx)
	if retrieved != workerID {
		t.Errorf("Expected worker ID %s, got %s", workerID, retrieved)
	}
}

func TestWithSessionKey(t *testing.T) {
	ctx := context.Background()
	sessionKey := "test-session"

	ctx = WithSessionKey(ctx, sessionKey)

	retrieved := GetSessionKey(ctx)
	if retrieved != sessionKey {
		t.Errorf("Expected session key %s, got %s", sessionKey, retrieved)
	}
}

func TestGetTraceIDEmpty(t *testing.T) {
	ctx := context.Background()

	traceID := GetTraceID(ctx)
	if traceID != "" {
		t.Errorf("Expected empty trace ID, got %s", traceID)
	}
}

func TestGetTurnIDEmpty(t *testing.T) {
	ctx := context.Background()

	turnID := GetTurnID(ctx)
	if turnID != "" {
		t.Errorf("Expected empty turn ID, got %s", turnID)
	}
}

func TestGetWorkerIDEmpty(t *testing.T) {
	ctx := context.Background()

	workerID := GetWorkerID(ctx)
	if workerID != "" {
		t.Errorf("Expected empty worker ID, got %s", workerID)
	}
}

func TestGetSessionKeyEmpty(t *testing.T) {
	ctx := context.Background()

	sessionKey := GetSessionKey(ctx)
	if sessionKey != "" {
		t.Errorf("Expected empty session key, got %s", sessionKey)
	}
}

func TestFromContext(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-123")
	ctx = WithTurnID(ctx, "turn-456")
	ctx = WithWorkerID(ctx, "worker-789")
	ctx = WithSessionKey(ctx, "session-abc")

	tc := FromContext(ctx)

	if tc.TraceID != "trace-123" {
		t.Errorf("Expected trace ID trace-123, got %s", tc.TraceID)
	}
	if tc.TurnID != "turn-456" {
		t.Errorf("Expected turn ID turn-456, got %s", tc.TurnID)
	}
	if tc.WorkerID != "worker-789" {
		t.Errorf("Expected worker ID worker-789, got %s", tc.WorkerID)
	}
	if tc.SessionKey != "session-abc" {
		t.Errorf("Expected session key session-abc, got %s", tc.SessionKey)
	}
}

func TestNewContext(t *testing.T) {
	ctx := context.Background()

	tc := &TurnContext{
		TraceID:    "trace-123",
		TurnID:     "turn-456",
		WorkerID:   "worker-789",
		SessionKey: "session-abc",
	}

	ctx = NewContext(ctx, tc)

	if GetTraceID(ctx) != "trace-123" {
		t.Error("Trace ID not set correctly")
	}
	if GetTurnID(ctx) != "turn-456" {
		t.Error("Turn ID not set correctly")
	}
	if GetWorkerID(ctx) != "worker-789" {
		t.Error("Worker ID not set correctly")
	}
	if GetSessionKey(ctx) != "session-abc" {
		t.Error("Session key not set correctly")
	}
}

func TestNewContextPartial(t *testing.T) {
	ctx := context.Background()

	tc := &TurnContext{
		TraceID: "trace-123",
		// Other fields empty
	}

	ctx = NewContext(ctx, tc)

	if GetTraceID(ctx) != "trace-123" {
		t.Error("Trace ID not set correctly")
	}
	if GetTurnID(ctx) != "" {
		t.Error("Turn ID should be empty")
	}
	if GetWorkerID(ctx) != "" {
		t.Error("Worker ID should be empty")
	}
	if GetSessionKey(ctx) != "" {
		t.Error("Session key should be empty")
	}
}

func TestNewRequestContext(t *testing.T) {
	ctx := context.Background()

	ctx = NewRequestContext(ctx)

	traceID := GetTraceID(ctx)
	if traceID == "" {
		t.Error("Trace ID not generated")
	}

	// Verify it's a valid UUID format
	if len(traceID) != 36 {
		t.Errorf("Expected UUID format (36 chars), got %d chars", len(traceID))
	}
}

func TestNewTurnContext(t *testing.T) {
	ctx := context.Background()
	workerID := "test-worker"

	ctx = NewTurnContext(ctx, workerID)

	turnID := GetTurnID(ctx)
	if turnID == "" {
		t.Error("Turn ID not generated")
	}

	retrievedWorkerID := GetWorkerID(ctx)
	if retrievedWorkerID != workerID {
		t.Errorf("Expected worker ID %s, got %s", workerID, retrievedWorkerID)
	}

	// Verify it's a valid UUID format
	if len(turnID) != 36 {
		t.Errorf("Expected UUID format (36 chars), got %d chars", len(turnID))
	}
}

func TestContextPropagation(t *testing.T) {
	// Create parent context with tracing
	parentCtx := context.Background()
	parentCtx = WithTraceID(parentCtx, "trace-parent")
	parentCtx = WithTurnID(parentCtx, "turn-parent")

	// Create child context (simulating a sub-worker)
	childCtx := context.Background()

	// Propagate trace ID but mint a new turn ID
	childCtx = WithTraceID(childCtx, GetTraceID(parentCtx))
	childCtx = WithTurnID(childCtx, NewTurnID())
	childCtx = WithWorkerID(childCtx, "child-worker")

	// Verify trace ID is propagated
	if GetTraceID(childCtx) != "trace-parent" {
		t.Error("Trace ID not propagated to child context")
	}

	// Verify turn ID is different
	if GetTurnID(childCtx) == "turn-parent" {
		t.Error("Turn ID should be different for child context")
	}

	// Verify worker ID is set
	if GetWorkerID(childCtx) != "child-worker" {
		t.Error("Worker ID not set correctly")
	}
}
