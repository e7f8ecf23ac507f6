package llm

import "errors"

// Sentinel errors for the provider-facing failure modes, tested
// against with errors.Is by the retry wrapper and the Agent Turn
// Loop.
var (
	// ErrThrottled means the provider rejected the call for rate
	// limiting; the caller should retry, optionally after rotating
	// accounts.
	ErrThrottled = errors.New("llm: provider throttled the request")

	// ErrMaxTokensExceeded means the model stopped because it hit the
	// requested max output tokens before finishing; the caller should
	// retry with a larger budget.
	ErrMaxTokensExceeded = errors.New("llm: response truncated at max tokens")

	// ErrProviderError covers any other provider-side failure that
	// isn't retryable in-place (malformed request, model not found,
	// internal provider error).
	ErrProviderError = errors.New("llm: provider request failed")

	// ErrEmptyResponse means the provider returned a response with no
	// content blocks at all, which the Agent Turn Loop treats as an
	// immediate finalize rather than a tool-dispatch iteration.
	ErrEmptyResponse = errors.New("llm: provider returned an empty response")
)
