package turnloop

import (
	"errors"
	"testing"
)

func TestClassifyToolError(t *testing.T) {
	if err := classifyToolError("parameter validation failed: text is required"); !errors.Is(err, ErrInvalidToolInput) {
		t.Fatalf("expected ErrInvalidToolInput, got %v", err)
	}
	if err := classifyToolError("tool not found: bogus"); !errors.Is(err, ErrInvalidToolInput) {
		t.Fatalf("expected ErrInvalidToolInput, got %v", err)
	}
	if err := classifyToolError("boom"); !errors.Is(err, ErrToolHandlerError) {
		t.Fatalf("expected ErrToolHandlerError, got %v", err)
	}
}
