// Package message implements the Message Store: an
// append-only log of conversation items per worker, keyed so that a
// toolUse item and its toolResult either both exist or neither does
// and so that a plain list scan returns items in
// causal order (P2).
package message

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/harun/ranya-core/internal/kvstore"
	"github.com/harun/ranya-core/internal/tracing"
	"github.com/harun/ranya-core/pkg/convo"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Store persists conversation items for every worker under its own
// partition, keyed by workerId.
type Store struct {
	kv     kvstore.Store
	logger zerolog.Logger
}

// New builds a Message Store over kv.
func New(kv kvstore.Store, logger zerolog.Logger) *Store {
	return &Store{kv: kv, logger: logger}
}

// NewSortKey returns a strictly monotonic sort key: a nanosecond
// timestamp prefix (for causal ordering under a lexicographic scan)
// disambiguated by a short random suffix for items minted within the
// same tick.
func NewSortKey() string {
	suffix, err := gonanoid.Generate("0123456789abcdefghijklmnopqrstuvwxyz", 6)
	if err != nil {
		suffix = "000000"
	}
	return fmt.Sprintf("%020d-%s", time.Now().UnixNano(), suffix)
}

func itemToRecord(workerID string, item convo.Item) kvstore.Item {
	return kvstore.Item{
		"pk":             workerID,
		"sk":             item.SK,
		"role":           string(item.Role),
		"messageType":    string(item.MessageType),
		"content":        item.Content,
		"tokenCount":     item.TokenCount,
		"modelOverride":  item.ModelOverride,
		"thinkingBudget": item.ThinkingBudget,
		"createdAt":      item.CreatedAt,
	}
}

func recordToItem(workerID string, rec kvstore.Item) (convo.Item, error) {
	item := convo.Item{WorkerID: workerID, SK: rec.SK()}
	if v, ok := rec["role"].(string); ok {
		item.Role = convo.Role(v)
	}
	if v, ok := rec["messageType"].(string); ok {
		item.MessageType = convo.MessageType(v)
	}
	if v, ok := rec["modelOverride"].(string); ok {
		item.ModelOverride = v
	}
	if v, ok := rec["tokenCount"]; ok {
		item.TokenCount = toInt(v)
	}
	if v, ok := rec["thinkingBudget"]; ok {
		item.ThinkingBudget = toInt(v)
	}
	switch v := rec["createdAt"].(type) {
	case time.Time:
		item.CreatedAt = v
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			item.CreatedAt = t
		}
	}
	blocks, err := decodeBlocks(rec["content"])
	if err != nil {
		return convo.Item{}, fmt.Errorf("decode content blocks: %w", err)
	}
	item.Content = blocks
	return item, nil
}

// decodeBlocks normalizes the content field, which round-trips as
// []convo.Block when the store is the in-memory fake (no JSON
// marshaling in between) and as []interface{} of map[string]interface{}
// when it has passed through the sqlite store's JSON encoding.
func decodeBlocks(raw interface{}) ([]convo.Block, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []convo.Block:
		return v, nil
	case []interface{}:
		out := make([]convo.Block, 0, len(v))
		for _, elem := range v {
			b, err := decodeBlock(elem)
			if err != nil {
				return nil, err
			}
			out = append(out, b)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unexpected content encoding %T", raw)
	}
}

func decodeBlock(raw interface{}) (convo.Block, error) {
	if b, ok := raw.(convo.Block); ok {
		return b, nil
	}
	m, ok := raw.(map[string]interface{})
	if !ok {
		return convo.Block{}, fmt.Errorf("unexpected block encoding %T", raw)
	}
	b := convo.Block{Kind: convo.BlockKind(stringOf(m["kind"]))}
	b.Text = stringOf(m["text"])
	b.ToolUseID = stringOf(m["toolUseId"])
	b.ToolName = stringOf(m["toolName"])
	b.ReasoningText = stringOf(m["reasoningText"])
	b.ReasoningSignature = stringOf(m["reasoningSignature"])
	if status := stringOf(m["toolResultStatus"]); status != "" {
		b.ToolResultStatus = convo.ToolResultStatus(status)
	}
	if format := stringOf(m["imageFormat"]); format != "" {
		b.ImageFormat = convo.ImageFormat(format)
	}
	if ti, ok := m["toolInput"].(map[string]interface{}); ok {
		b.ToolInput = ti
	}
	if content, ok := m["toolResultContent"].([]interface{}); ok {
		nested, err := decodeBlocks(content)
		if err != nil {
			return convo.Block{}, err
		}
		b.ToolResultContent = nested
	}
	return b, nil
}

func stringOf(v interface{}) string {
	s, _ := v.(string)
	return s
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

// Append persists one item and returns the sort key it was stored
// under. If item.SK is empty, a fresh monotonic key is minted.
func (s *Store) Append(ctx context.Context, workerID string, item convo.Item) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "ranya.message", "message.append")
	defer span.End()

	if item.SK == "" {
		item.SK = NewSortKey()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	if err := s.kv.Put(ctx, itemToRecord(workerID, item)); err != nil {
		return "", fmt.Errorf("append message: %w", err)
	}
	s.logger.Debug().Str("worker_id", workerID).Str("sk", item.SK).
		Str("message_type", string(item.MessageType)).Msg("message appended")
	return item.SK, nil
}

// AppendPair persists a toolUse item and its toolResult item in one
// atomic transaction: a reader never observes a toolUse without its
// paired toolResult. outputTokens is recorded on
// the toolResult item (the cost of producing the tool's output never
// belongs to the toolUse side); thinkingBudget, when non-zero, is
// recorded on the toolUse item since the budget governs the
// reasoning that preceded the call.
func (s *Store) AppendPair(ctx context.Context, workerID string, toolUse, toolResult convo.Item, outputTokens, thinkingBudget int) ([2]string, error) {
	ctx, span := tracing.StartSpan(ctx, "ranya.message", "message.append_pair")
	defer span.End()

	if toolUse.SK == "" {
		toolUse.SK = NewSortKey()
	}
	if toolResult.SK == "" || toolResult.SK <= toolUse.SK {
		toolResult.SK = NewSortKey()
		for toolResult.SK <= toolUse.SK {
			toolResult.SK = NewSortKey()
		}
	}
	now := time.Now()
	if toolUse.CreatedAt.IsZero() {
		toolUse.CreatedAt = now
	}
	if toolResult.CreatedAt.IsZero() {
		toolResult.CreatedAt = now
	}
	toolResult.TokenCount = outputTokens
	if thinkingBudget != 0 {
		toolUse.ThinkingBudget = thinkingBudget
	}

	puts := []kvstore.Item{
		itemToRecord(workerID, toolUse),
		itemToRecord(workerID, toolResult),
	}
	if err := s.kv.TransactWrite(ctx, puts); err != nil {
		return [2]string{}, fmt.Errorf("append tool use/result pair: %w", err)
	}
	s.logger.Debug().Str("worker_id", workerID).
		Str("tool_use_sk", toolUse.SK).Str("tool_result_sk", toolResult.SK).
		Msg("tool use/result pair appended")
	return [2]string{toolUse.SK, toolResult.SK}, nil
}

// List returns every item for workerID in ascending sort-key (causal)
// order.
func (s *Store) List(ctx context.Context, workerID string) ([]convo.Item, error) {
	ctx, span := tracing.StartSpan(ctx, "ranya.message", "message.list")
	defer span.End()

	recs, err := s.kv.Query(ctx, kvstore.QueryInput{PK: workerID, ScanForward: true})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].SK() < recs[j].SK() })

	items := make([]convo.Item, 0, len(recs))
	for _, rec := range recs {
		item, err := recordToItem(workerID, rec)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// UpdateTokenCount sets the tokenCount field of one item in place. The
// Agent Turn Loop calls this after a converse response
// reports billed input tokens: the delta between the billed count and
// the sum of tokenCounts already recorded for the session is
// attributed to the last user-role item. Individual
// user items may end up negative when a later turn drops reasoning
// blocks that had been billed against them; the session-wide sum
// never goes negative because total billed tokens are
// monotonically non-decreasing.
func (s *Store) UpdateTokenCount(ctx context.Context, workerID, sk string, n int) error {
	ctx, span := tracing.StartSpan(ctx, "ranya.message", "message.update_token_count")
	defer span.End()

	if err := s.kv.Update(ctx, workerID, sk, kvstore.Item{"tokenCount": n}); err != nil {
		return fmt.Errorf("update token count: %w", err)
	}
	return nil
}

// AttributeInputTokens converts one provider-reported billed input
// token count into a per-item tokenCount update: it subtracts the sum
// of tokenCounts already stored for the session from billedInputTokens
// and writes the (possibly negative) remainder onto the last
// user-role item's tokenCount.
func (s *Store) AttributeInputTokens(ctx context.Context, workerID string, billedInputTokens int) error {
	items, err := s.List(ctx, workerID)
	if err != nil {
		return err
	}
	sum := 0
	lastUserIdx := -1
	for i, item := range items {
		sum += item.TokenCount
		if item.Role == convo.RoleUser {
			lastUserIdx = i
		}
	}
	if lastUserIdx == -1 {
		log.Warn().Str("worker_id", workerID).Msg("no user item to attribute input tokens to")
		return nil
	}
	delta := billedInputTokens - sum
	target := items[lastUserIdx]
	return s.UpdateTokenCount(ctx, workerID, target.SK, target.TokenCount+delta)
}
