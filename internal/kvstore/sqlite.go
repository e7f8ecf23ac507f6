package kvstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// SQLiteStore implements Store on top of a single sqlite table,
// mirroring the single-table, composite-key design of a managed KV
// store (PK, SK, one secondary index) without depending on one.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open creates or attaches to a sqlite-backed Store at path. path may
// be ":memory:" for tests.
func Open(path string, logger zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	const schema = `
		CREATE TABLE IF NOT EXISTS items (
			pk TEXT NOT NULL,
			sk TEXT NOT NULL,
			lsi1 TEXT,
			data TEXT NOT NULL,
			PRIMARY KEY (pk, sk)
		);
		CREATE INDEX IF NOT EXISTS idx_items_lsi1 ON items(pk, lsi1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close implements Store.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, pk, sk string) (Item, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT data FROM items WHERE pk = ? AND sk = ?`, pk, sk)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get item: %w", err)
	}
	item, err := decodeItem(raw)
	if err != nil {
		return nil, false, err
	}
	return item, true, nil
}

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, item Item) error {
	return s.putTx(ctx, s.db, item)
}

func (s *SQLiteStore) putTx(ctx context.Context, exec execer, item Item) error {
	pk, sk := item.PK(), item.SK()
	if pk == "" || sk == "" {
		return fmt.Errorf("put item: pk and sk are required")
	}
	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}
	lsi1 := stringField(item, "lsi1")
	_, err = exec.ExecContext(ctx, `
		INSERT INTO items (pk, sk, lsi1, data) VALUES (?, ?, ?, ?)
		ON CONFLICT (pk, sk) DO UPDATE SET lsi1 = excluded.lsi1, data = excluded.data
	`, pk, sk, nullable(lsi1), string(raw))
	if err != nil {
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// Update implements Store as an upsert-merge of partial onto the
// existing record.
func (s *SQLiteStore) Update(ctx context.Context, pk, sk string, partial Item) error {
	existing, ok, err := s.Get(ctx, pk, sk)
	if err != nil {
		return err
	}
	if !ok {
		existing = Item{}
	}
	for k, v := range partial {
		existing[k] = v
	}
	existing["pk"] = pk
	existing["sk"] = sk
	return s.Put(ctx, existing)
}

// TransactWrite implements Store: every put commits in one sqlite
// transaction, so a reader never observes a partial set — the
// toolUse/toolResult pair-atomicity guarantee depends on this.
func (s *SQLiteStore) TransactWrite(ctx context.Context, puts []Item) error {
	if len(puts) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	for _, item := range puts {
		if err := s.putTx(ctx, tx, item); err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Query implements Store, including the limit=0 paged-scan mode.
func (s *SQLiteStore) Query(ctx context.Context, q QueryInput) ([]Item, error) {
	orderCol := "sk"
	if q.Index == "LSI1" {
		orderCol = "lsi1"
	}
	dir := "ASC"
	if !q.ScanForward {
		dir = "DESC"
	}

	var b strings.Builder
	args := []interface{}{q.PK}
	b.WriteString(fmt.Sprintf("SELECT data FROM items WHERE pk = ?"))
	if q.RangeMin != "" {
		b.WriteString(fmt.Sprintf(" AND %s >= ?", orderCol))
		args = append(args, q.RangeMin)
	}
	if q.RangeMax != "" {
		b.WriteString(fmt.Sprintf(" AND %s <= ?", orderCol))
		args = append(args, q.RangeMax)
	}
	b.WriteString(fmt.Sprintf(" ORDER BY %s %s", orderCol, dir))

	const pageSize = 500
	limit := q.Limit
	paged := limit == 0

	var out []Item
	offset := 0
	for {
		fetch := limit
		if paged {
			fetch = pageSize
		}
		query := b.String() + fmt.Sprintf(" LIMIT %d OFFSET %d", fetch, offset)
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("query items: %w", err)
		}
		count := 0
		for rows.Next() {
			var raw string
			if err := rows.Scan(&raw); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan item: %w", err)
			}
			item, err := decodeItem(raw)
			if err != nil {
				rows.Close()
				return nil, err
			}
			out = append(out, item)
			count++
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
		if !paged || count < pageSize {
			break
		}
		offset += pageSize
	}
	return out, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func decodeItem(raw string) (Item, error) {
	var item Item
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		return nil, fmt.Errorf("decode item: %w", err)
	}
	return item, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
