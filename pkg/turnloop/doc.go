// Package turnloop implements the Agent Turn Loop: the
// state machine that turns one pending user message into zero or more
// LLM calls and tool dispatches, finalizing with an assistant reply
// and an updated session title.
//
// A Loop owns no state of its own between turns — everything it reads
// and writes lives in the Message Store, Session Store, Cost & Token
// Ledger, and Metadata Store, so a turn can resume cleanly after a
// process restart.
package turnloop
