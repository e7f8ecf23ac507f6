package turnloop

import "sync"

// CancelToken is the cooperative cancellation handle: set out-of-band
// (by whatever triggers resume/cancel) and
// polled by the loop at every suspension point and the top of every
// iteration. Cancelling never discards work already committed to the
// Message Store — only the in-flight LLM call or tool invocation is
// abandoned.
type CancelToken struct {
	mu        sync.Mutex
	cancelled bool
	fired     bool
	callbacks []func()
}

// NewCancelToken returns a token in the not-cancelled state.
func NewCancelToken() *CancelToken {
	return &CancelToken{}
}

// Cancel marks the token cancelled and invokes every registered
// callback exactly once, in registration order.
func (t *CancelToken) Cancel() {
	t.mu.Lock()
	t.cancelled = true
	var callbacks []func()
	if !t.fired {
		t.fired = true
		callbacks = t.callbacks
	}
	t.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
}

// IsCancelled reports the current state.
func (t *CancelToken) IsCancelled() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// OnCancel registers a callback to run when Cancel is first called. If
// the token is already cancelled, the callback runs immediately.
func (t *CancelToken) OnCancel(cb func()) {
	if t == nil || cb == nil {
		return
	}
	t.mu.Lock()
	if t.fired {
		t.mu.Unlock()
		cb()
		return
	}
	t.callbacks = append(t.callbacks, cb)
	t.mu.Unlock()
}

// checkCancelled returns errCancelled once the token has fired, nil
// otherwise, matching the pattern every suspension-point check below
// uses.
func checkCancelled(token *CancelToken) error {
	if token != nil && token.IsCancelled() {
		return errCancelled
	}
	return nil
}
