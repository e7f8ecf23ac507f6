// Package sessionstore implements the Session Store: one
// record per worker tracking agent status, a short display title, cost,
// and visibility, queryable newest-first for session listing.
package sessionstore

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/harun/ranya-core/internal/kvstore"
	"github.com/harun/ranya-core/internal/observability"
	"github.com/harun/ranya-core/internal/tracing"
	"github.com/rs/zerolog"
)

// AgentStatus is the worker's current turn-loop state.
type AgentStatus string

const (
	StatusPending    AgentStatus = "pending"
	StatusWorking    AgentStatus = "working"
	StatusCancelling AgentStatus = "cancelling"
)

// partitionKey is the single partition every session lives under.
const partitionKey = "sessions"

// titleMaxChars is the display-character cap on a generated title.
const titleMaxChars = 15

// Session is one worker's session record.
type Session struct {
	WorkerID      string      `json:"workerId"`
	AgentStatus   AgentStatus `json:"agentStatus"`
	Title         string      `json:"title"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
	IsHidden      bool        `json:"isHidden"`
	Cost          float64     `json:"cost"`
	Initiator     string      `json:"initiator"`
	SlackUserID   string      `json:"slackUserId,omitempty"`
	CustomAgentID string      `json:"customAgentId,omitempty"`
	ModelOverride string      `json:"modelOverride,omitempty"`
}

// Store persists Session records in the "sessions" partition, ordered
// newest-first by the LSI1 zero-padded-timestamp index.
type Store struct {
	kv     kvstore.Store
	logger zerolog.Logger
}

// New builds a Session Store over kv.
func New(kv kvstore.Store, logger zerolog.Logger) *Store {
	return &Store{kv: kv, logger: logger}
}

// lsi1 zero-pads a unix-second timestamp to 15 digits so
// lexicographic order on the LSI1 field matches chronological order.
func lsi1(t time.Time) string {
	return fmt.Sprintf("%015d", t.Unix())
}

func sessionToRecord(s Session) kvstore.Item {
	return kvstore.Item{
		"pk":            partitionKey,
		"sk":            s.WorkerID,
		"lsi1":          lsi1(s.UpdatedAt),
		"agentStatus":   string(s.AgentStatus),
		"title":         s.Title,
		"createdAt":     s.CreatedAt,
		"updatedAt":     s.UpdatedAt,
		"isHidden":      s.IsHidden,
		"cost":          s.Cost,
		"initiator":     s.Initiator,
		"slackUserId":   s.SlackUserID,
		"customAgentId": s.CustomAgentID,
		"modelOverride": s.ModelOverride,
	}
}

func recordToSession(rec kvstore.Item) Session {
	s := Session{WorkerID: rec.SK()}
	s.AgentStatus = AgentStatus(stringField(rec, "agentStatus"))
	s.Title = stringField(rec, "title")
	s.CreatedAt = timeField(rec, "createdAt")
	s.UpdatedAt = timeField(rec, "updatedAt")
	s.IsHidden, _ = rec["isHidden"].(bool)
	s.Cost = floatField(rec, "cost")
	s.Initiator = stringField(rec, "initiator")
	s.SlackUserID = stringField(rec, "slackUserId")
	s.CustomAgentID = stringField(rec, "customAgentId")
	s.ModelOverride = stringField(rec, "modelOverride")
	return s
}

func stringField(rec kvstore.Item, key string) string {
	v, _ := rec[key].(string)
	return v
}

func floatField(rec kvstore.Item, key string) float64 {
	switch n := rec[key].(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func timeField(rec kvstore.Item, key string) time.Time {
	switch v := rec[key].(type) {
	case time.Time:
		return v
	case string:
		t, _ := time.Parse(time.RFC3339Nano, v)
		return t
	default:
		return time.Time{}
	}
}

// Create inserts a new session for workerID with StatusPending and no
// title, ready for the Agent Turn Loop to pick up.
func (s *Store) Create(ctx context.Context, workerID, initiator string) (Session, error) {
	now := time.Now()
	sess := Session{
		WorkerID:    workerID,
		AgentStatus: StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		Initiator:   initiator,
	}
	if err := s.kv.Put(ctx, sessionToRecord(sess)); err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// Get fetches one session, or ok=false if it does not exist.
func (s *Store) Get(ctx context.Context, workerID string) (Session, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "ranya.sessionstore", "sessionstore.get")
	defer span.End()
	start := time.Now()
	defer func() { observability.RecordSessionLoad(time.Since(start)) }()

	rec, ok, err := s.kv.Get(ctx, partitionKey, workerID)
	if err != nil {
		return Session{}, false, fmt.Errorf("get session: %w", err)
	}
	if !ok {
		return Session{}, false, nil
	}
	return recordToSession(rec), true, nil
}

// ListOptions controls session listing.
type ListOptions struct {
	// Limit caps the number of sessions returned; 0 pages through
	// everything, matching the KV store's own limit=0 convention.
	Limit int
	// After/Before optionally bound updatedAt (inclusive), for
	// time-range listing.
	After  time.Time
	Before time.Time
	// IncludeHidden includes sessions with IsHidden=true. Default
	// listing filters them out.
	IncludeHidden bool
}

// List returns sessions newest-updated-first, optionally bounded by a
// time range and capped at Limit (paging internally when Limit==0).
func (s *Store) List(ctx context.Context, opts ListOptions) ([]Session, error) {
	ctx, span := tracing.StartSpan(ctx, "ranya.sessionstore", "sessionstore.list")
	defer span.End()

	q := kvstore.QueryInput{
		PK:          partitionKey,
		Index:       "LSI1",
		ScanForward: false,
		Limit:       opts.Limit,
	}
	if !opts.After.IsZero() {
		q.RangeMin = lsi1(opts.After)
	}
	if !opts.Before.IsZero() {
		q.RangeMax = lsi1(opts.Before)
	}

	recs, err := s.kv.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	out := make([]Session, 0, len(recs))
	for _, rec := range recs {
		sess := recordToSession(rec)
		if sess.IsHidden && !opts.IncludeHidden {
			continue
		}
		out = append(out, sess)
	}

	if opts.Limit == 0 && opts.After.IsZero() && opts.Before.IsZero() {
		active := 0
		for _, sess := range out {
			if sess.AgentStatus != StatusCancelling {
				active++
			}
		}
		observability.SetActiveSessions(active)
	}

	return out, nil
}

// Update applies a partial field set to an existing session and bumps
// updatedAt (and therefore its LSI1 ordering) to now.
func (s *Store) Update(ctx context.Context, workerID string, partial kvstore.Item) error {
	ctx, span := tracing.StartSpan(ctx, "ranya.sessionstore", "sessionstore.update")
	defer span.End()
	start := time.Now()
	defer func() { observability.RecordSessionSave(time.Since(start)) }()

	if partial == nil {
		partial = kvstore.Item{}
	}
	now := time.Now()
	partial["updatedAt"] = now
	partial["lsi1"] = lsi1(now)
	if err := s.kv.Update(ctx, partitionKey, workerID, partial); err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

// UpdateStatus transitions agentStatus, e.g. pending -> working ->
// cancelling as the Agent Turn Loop progresses.
func (s *Store) UpdateStatus(ctx context.Context, workerID string, status AgentStatus) error {
	return s.Update(ctx, workerID, kvstore.Item{"agentStatus": string(status)})
}

// UpdateTitle sets the session's display title, truncated to
// titleMaxChars display characters.
func (s *Store) UpdateTitle(ctx context.Context, workerID, title string) error {
	return s.Update(ctx, workerID, kvstore.Item{"title": TruncateTitle(title)})
}

// UpdateVisibility sets isHidden.
func (s *Store) UpdateVisibility(ctx context.Context, workerID string, isHidden bool) error {
	return s.Update(ctx, workerID, kvstore.Item{"isHidden": isHidden})
}

// UpdateCost overwrites the session's rolled-up cost; the ledger
// writes this after every rollup.
func (s *Store) UpdateCost(ctx context.Context, workerID string, cost float64) error {
	return s.Update(ctx, workerID, kvstore.Item{"cost": cost})
}

// TruncateTitle clamps title to titleMaxChars runes, counting runes
// rather than bytes so multi-byte characters in a non-English
// conversation aren't split.
func TruncateTitle(title string) string {
	if utf8.RuneCountInString(title) <= titleMaxChars {
		return title
	}
	runes := []rune(title)
	return string(runes[:titleMaxChars])
}

// TitleGenerator produces a short session title from the first turn's
// text, implemented by pkg/llm's haiku-class title model call. Kept as
// an interface here so the Session Store doesn't import the LLM Client
// package.
type TitleGenerator interface {
	GenerateTitle(ctx context.Context, workerID, conversationText string) (string, error)
}

// GenerateTitleIfUnset fires title generation once per session, only
// while Session.Title is empty. The guard is "title unset," not
// "title generation attempted," so a session whose first attempt
// failed remains eligible on every later finalizing iteration.
// Failures are logged and swallowed: title
// generation is best-effort and never blocks the turn loop.
func (s *Store) GenerateTitleIfUnset(ctx context.Context, workerID, conversationText string, gen TitleGenerator) {
	sess, ok, err := s.Get(ctx, workerID)
	if err != nil || !ok || sess.Title != "" {
		return
	}
	title, err := gen.GenerateTitle(ctx, workerID, conversationText)
	if err != nil {
		s.logger.Warn().Err(err).Str("worker_id", workerID).Msg("title generation failed, will retry next turn")
		return
	}
	title = TruncateTitle(title)
	if err := s.UpdateTitle(ctx, workerID, title); err != nil {
		s.logger.Warn().Err(err).Str("worker_id", workerID).Msg("failed to persist generated title")
		return
	}
	s.logger.Debug().Str("worker_id", workerID).Str("title", title).Msg("session title generated")
}
