// Package ledger implements the Cost & Token Ledger:
// per-(worker, model) token counters and the price-table rollup that
// turns them into a session's billed cost.
package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/harun/ranya-core/internal/kvstore"
	"github.com/harun/ranya-core/internal/tracing"
	"github.com/harun/ranya-core/pkg/sessionstore"
	"github.com/rs/zerolog"
)

const partitionPrefix = "token-"

func partitionKey(workerID string) string { return partitionPrefix + workerID }

// Usage is one LLM response's token accounting, in the shape the LLM
// Client reports after every converse call.
type Usage struct {
	InputTokens           int
	OutputTokens          int
	CacheReadInputTokens  int
	CacheWriteInputTokens int
}

// ModelPricing is USD per million tokens for one model, the rate
// table the rollup multiplies counters against.
type ModelPricing struct {
	InputPerMTok      float64
	OutputPerMTok     float64
	CacheReadPerMTok  float64
	CacheWritePerMTok float64
}

// PriceTable maps a model id to its pricing. Unknown models price at
// zero rather than erroring, so a rollup never fails just because a
// new model id hasn't been added to the table yet.
type PriceTable map[string]ModelPricing

// DefaultPriceTable returns representative Claude-family pricing
// (USD / million tokens), keyed by model id.
func DefaultPriceTable() PriceTable {
	return PriceTable{
		"claude-opus-4":   {InputPerMTok: 15, OutputPerMTok: 75, CacheReadPerMTok: 1.5, CacheWritePerMTok: 18.75},
		"claude-sonnet-4": {InputPerMTok: 3, OutputPerMTok: 15, CacheReadPerMTok: 0.3, CacheWritePerMTok: 3.75},
		"claude-haiku-4":  {InputPerMTok: 0.8, OutputPerMTok: 4, CacheReadPerMTok: 0.08, CacheWritePerMTok: 1},
	}
}

func (p PriceTable) cost(modelID string, u Usage) float64 {
	rate, ok := p[modelID]
	if !ok {
		return 0
	}
	const perTok = 1.0 / 1_000_000
	return float64(u.InputTokens)*rate.InputPerMTok*perTok +
		float64(u.OutputTokens)*rate.OutputPerMTok*perTok +
		float64(u.CacheReadInputTokens)*rate.CacheReadPerMTok*perTok +
		float64(u.CacheWriteInputTokens)*rate.CacheWritePerMTok*perTok
}

// Ledger accumulates token counters per (workerId, modelId) and rolls
// them up into a session's billed cost.
type Ledger struct {
	kv       kvstore.Store
	sessions *sessionstore.Store
	prices   PriceTable
	logger   zerolog.Logger

	// mu serializes read-modify-write counter updates; the KV store
	// contract has no native atomic increment, and while a single
	// worker's Loop is single-threaded, the periodic
	// rollup sweep reads concurrently with
	// in-turn increments.
	mu sync.Mutex

	dirtyMu sync.Mutex
	dirty   map[string]bool
}

// New builds a Ledger over kv, rolling cost up into sessions.
func New(kv kvstore.Store, sessions *sessionstore.Store, prices PriceTable, logger zerolog.Logger) *Ledger {
	if prices == nil {
		prices = DefaultPriceTable()
	}
	return &Ledger{
		kv:       kv,
		sessions: sessions,
		prices:   prices,
		logger:   logger,
		dirty:    make(map[string]bool),
	}
}

func usageToRecord(workerID, modelID string, u Usage) kvstore.Item {
	return kvstore.Item{
		"pk":                    partitionKey(workerID),
		"sk":                    modelID,
		"inputTokens":           u.InputTokens,
		"outputTokens":          u.OutputTokens,
		"cacheReadInputTokens":  u.CacheReadInputTokens,
		"cacheWriteInputTokens": u.CacheWriteInputTokens,
	}
}

func recordToUsage(rec kvstore.Item) Usage {
	return Usage{
		InputTokens:           intField(rec, "inputTokens"),
		OutputTokens:          intField(rec, "outputTokens"),
		CacheReadInputTokens:  intField(rec, "cacheReadInputTokens"),
		CacheWriteInputTokens: intField(rec, "cacheWriteInputTokens"),
	}
}

func intField(rec kvstore.Item, key string) int {
	switch v := rec[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func addUsage(a, b Usage) Usage {
	return Usage{
		InputTokens:           a.InputTokens + b.InputTokens,
		OutputTokens:          a.OutputTokens + b.OutputTokens,
		CacheReadInputTokens:  a.CacheReadInputTokens + b.CacheReadInputTokens,
		CacheWriteInputTokens: a.CacheWriteInputTokens + b.CacheWriteInputTokens,
	}
}

// RecordUsage increments workerID's counters for modelID by delta and
// then runs the per-call rollup. Rollup failure is logged and
// swallowed — the primary effect,
// the counter increment, has already committed.
func (l *Ledger) RecordUsage(ctx context.Context, workerID, modelID string, delta Usage) error {
	ctx, span := tracing.StartSpan(ctx, "ranya.ledger", "ledger.record_usage")
	defer span.End()

	l.mu.Lock()
	rec, ok, err := l.kv.Get(ctx, partitionKey(workerID), modelID)
	if err != nil {
		l.mu.Unlock()
		return fmt.Errorf("read ledger counters: %w", err)
	}
	current := Usage{}
	if ok {
		current = recordToUsage(rec)
	}
	updated := addUsage(current, delta)
	putErr := l.kv.Put(ctx, usageToRecord(workerID, modelID, updated))
	l.mu.Unlock()
	if putErr != nil {
		return fmt.Errorf("write ledger counters: %w", putErr)
	}

	l.markDirty(workerID)

	if err := l.Rollup(ctx, workerID); err != nil {
		l.logger.Warn().Err(err).Str("worker_id", workerID).Msg("post-call cost rollup failed, will self-heal on next sweep")
	}
	return nil
}

// Totals returns the summed counters across every model billed for
// workerID.
func (l *Ledger) Totals(ctx context.Context, workerID string) (Usage, error) {
	recs, err := l.kv.Query(ctx, kvstore.QueryInput{PK: partitionKey(workerID)})
	if err != nil {
		return Usage{}, fmt.Errorf("query ledger counters: %w", err)
	}
	var total Usage
	for _, rec := range recs {
		total = addUsage(total, recordToUsage(rec))
	}
	return total, nil
}

// Rollup recomputes workerID's cost from its per-model counters and
// writes the result onto the session record. Cost is monotonically
// non-decreasing because counters only ever grow.
func (l *Ledger) Rollup(ctx context.Context, workerID string) error {
	ctx, span := tracing.StartSpan(ctx, "ranya.ledger", "ledger.rollup")
	defer span.End()

	recs, err := l.kv.Query(ctx, kvstore.QueryInput{PK: partitionKey(workerID)})
	if err != nil {
		return fmt.Errorf("query ledger counters: %w", err)
	}

	var cost float64
	for _, rec := range recs {
		modelID := rec.SK()
		cost += l.prices.cost(modelID, recordToUsage(rec))
	}

	if err := l.sessions.UpdateCost(ctx, workerID, cost); err != nil {
		return fmt.Errorf("write session cost: %w", err)
	}
	l.clearDirty(workerID)
	return nil
}

func (l *Ledger) markDirty(workerID string) {
	l.dirtyMu.Lock()
	l.dirty[workerID] = true
	l.dirtyMu.Unlock()
}

func (l *Ledger) clearDirty(workerID string) {
	l.dirtyMu.Lock()
	delete(l.dirty, workerID)
	l.dirtyMu.Unlock()
}

// DirtyWorkers returns a snapshot of worker ids whose ledger changed
// since their last successful rollup, consumed by the periodic
// Scheduler sweep.
func (l *Ledger) DirtyWorkers() []string {
	l.dirtyMu.Lock()
	defer l.dirtyMu.Unlock()
	out := make([]string, 0, len(l.dirty))
	for id := range l.dirty {
		out = append(out, id)
	}
	return out
}
