// Package contextwindow implements the Context Manager: it projects a
// session's stored items into the provider-neutral message list the
// LLM Client consumes, enforces a token-budget cap by removing a
// contiguous middle range when the log grows too large, and places
// the two-slot sliding cache-point markers that keep successive tool
// iterations cache-friendly.
package contextwindow
