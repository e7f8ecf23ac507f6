package turnloop

import "errors"

// Sentinel errors for the turn-loop-facing failure modes that aren't
// already owned by pkg/llm.
var (
	// errCancelled signals a cooperative cancellation observed at a
	// suspension point; runTurn treats it as a clean exit rather than
	// a Fatal abort, and never surfaces it to the caller as an error.
	errCancelled = errors.New("turnloop: cancelled")

	// errMaxTokensEscalationExceeded fires after five consecutive
	// max-tokens escalations; past that point the turn aborts instead
	// of doubling the budget again.
	errMaxTokensEscalationExceeded = errors.New("turnloop: exceeded max-tokens retry escalation limit")

	// ErrInvalidToolInput means a toolUse block's input failed schema
	// validation; the loop records a textual error toolResult and
	// continues the turn rather than aborting.
	ErrInvalidToolInput = errors.New("turnloop: invalid tool input")

	// ErrToolHandlerError means a registered handler returned an error;
	// same recovery as ErrInvalidToolInput.
	ErrToolHandlerError = errors.New("turnloop: tool handler error")
)
