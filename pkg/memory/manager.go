package memory

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/harun/ranya-core/internal/observability"
	"github.com/harun/ranya-core/internal/tracing"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

func init() {
	sqlite_vec.Auto()
}

// maxChunkRunes caps one indexed chunk; long sections are split at
// blank lines before this limit when possible.
const maxChunkRunes = 1200

// candidatePool is how many hits each search arm contributes before
// the weighted merge trims to RecallOptions.Limit.
const candidatePool = 120

// RecallHit is one matched chunk, scored by the weighted blend of its
// vector and keyword rank.
type RecallHit struct {
	ChunkID      string   `json:"chunk_id"`
	FilePath     string   `json:"file_path"`
	Content      string   `json:"content"`
	Score        float64  `json:"score"`
	VectorScore  *float64 `json:"vector_score,omitempty"`
	KeywordScore *float64 `json:"keyword_score,omitempty"`
}

// RecallOptions configures a Recall/RecallWithContext call.
type RecallOptions struct {
	Limit         int     `json:"limit"`
	VectorWeight  float64 `json:"vector_weight"`
	KeywordWeight float64 `json:"keyword_weight"`
	MinScore      float64 `json:"min_score"`
}

func (o *RecallOptions) withDefaults() RecallOptions {
	out := RecallOptions{Limit: 20, VectorWeight: 0.7, KeywordWeight: 0.3}
	if o == nil {
		return out
	}
	if o.Limit > 0 {
		out.Limit = o.Limit
	}
	if o.VectorWeight > 0 || o.KeywordWeight > 0 {
		out.VectorWeight = o.VectorWeight
		out.KeywordWeight = o.KeywordWeight
	}
	out.MinScore = o.MinScore
	return out
}

// IndexStatus reports the index's current size and sync state.
type IndexStatus struct {
	TotalFiles   int        `json:"total_files"`
	TotalChunks  int        `json:"total_chunks"`
	IsDirty      bool       `json:"is_dirty"`
	IsSyncing    bool       `json:"is_syncing"`
	LastSyncTime *time.Time `json:"last_sync_time,omitempty"`
}

// Config holds memory manager configuration.
type Config struct {
	WorkspacePath string
	DBPath        string
	Logger        zerolog.Logger
	Embedder      Embedder // optional; nil skips the vector half of Recall
}

// Manager owns the sqlite-backed note index for one workspace.
type Manager struct {
	db            *sql.DB
	workspacePath string
	logger        zerolog.Logger
	embedder      Embedder
	watcher       *noteWatcher

	mu           sync.RWMutex
	dirty        bool
	syncing      bool
	lastSyncTime *time.Time
}

// NewManager opens (or creates) the index database, prepares its
// schema, and starts a file watcher that marks the index dirty on any
// workspace change. The first Recall after construction triggers a
// full sync.
func NewManager(cfg Config) (*Manager, error) {
	observability.EnsureRegistered()

	if cfg.WorkspacePath == "" {
		return nil, errors.New("workspace path is required")
	}
	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_fts5=1&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open index database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	m := &Manager{
		db:            db,
		workspacePath: cfg.WorkspacePath,
		logger:        cfg.Logger,
		embedder:      cfg.Embedder,
		dirty:         true,
	}
	if err := m.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare index schema: %w", err)
	}

	watcher, err := newNoteWatcher(cfg.WorkspacePath, cfg.Logger, m.MarkDirty)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("watch workspace: %w", err)
	}
	m.watcher = watcher

	m.logger.Info().Str("workspace", cfg.WorkspacePath).Msg("memory index ready")
	return m, nil
}

func (m *Manager) initSchema() error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS notes (
			path TEXT PRIMARY KEY,
			content_hash TEXT NOT NULL,
			indexed_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS note_chunks (
			id TEXT PRIMARY KEY,
			note_path TEXT NOT NULL REFERENCES notes(path) ON DELETE CASCADE,
			ordinal INTEGER NOT NULL,
			body TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_note_chunks_path ON note_chunks(note_path);

		CREATE VIRTUAL TABLE IF NOT EXISTS note_chunks_fts USING fts5(
			chunk_id UNINDEXED,
			body,
			tokenize='porter unicode61'
		);
	`
	if _, err := m.db.Exec(ddl); err != nil {
		return err
	}

	if m.embedder != nil {
		vec := fmt.Sprintf(
			"CREATE VIRTUAL TABLE IF NOT EXISTS note_vectors USING vec0(chunk_id TEXT PRIMARY KEY, embedding float[%d] distance_metric=cosine)",
			m.embedder.Dimension(),
		)
		if _, err := m.db.Exec(vec); err != nil {
			return fmt.Errorf("create vector table: %w", err)
		}
	}
	return nil
}

// Recall runs RecallWithContext against a background context.
func (m *Manager) Recall(query string, opts *RecallOptions) ([]RecallHit, error) {
	return m.RecallWithContext(context.Background(), query, opts)
}

// RecallWithContext blends vector cosine-similarity and FTS5 BM25
// keyword ranking into one ordered hit list. A failure in either arm
// degrades to the other; only both failing is an error.
func (m *Manager) RecallWithContext(ctx context.Context, query string, opts *RecallOptions) ([]RecallHit, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartSpan(ctx, "ranya.memory", "memory.recall",
		attribute.String("query", query))
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, m.logger)

	start := time.Now()
	defer func() { observability.RecordMemorySearch(time.Since(start)) }()

	if strings.TrimSpace(query) == "" {
		return []RecallHit{}, nil
	}
	resolved := opts.withDefaults()

	m.mu.RLock()
	needsSync := m.dirty
	m.mu.RUnlock()
	if needsSync {
		if err := m.Sync(); err != nil {
			logger.Warn().Err(err).Msg("index sync failed before recall")
		}
	}

	keywordRanks, keywordErr := m.keywordSearch(ctx, query)
	var vectorRanks map[string]float64
	var vectorErr error
	if m.embedder != nil {
		vectorRanks, vectorErr = m.vectorSearch(ctx, query)
	}
	if keywordErr != nil {
		logger.Warn().Err(keywordErr).Msg("keyword search failed, degrading to vector only")
	}
	if vectorErr != nil {
		logger.Warn().Err(vectorErr).Msg("vector search failed, degrading to keyword only")
	}
	if keywordErr != nil && (m.embedder == nil || vectorErr != nil) {
		span.SetStatus(codes.Error, "recall failed")
		return nil, fmt.Errorf("recall: every search arm failed: %w", keywordErr)
	}

	hits, err := m.scoreAndFetch(ctx, vectorRanks, keywordRanks, resolved)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	logger.Debug().Str("query", query).Int("hits", len(hits)).Msg("recall completed")
	return hits, nil
}

// keywordSearch returns chunk id -> normalized BM25 score in (0, 1].
func (m *Manager) keywordSearch(ctx context.Context, query string) (map[string]float64, error) {
	rows, err := m.db.QueryContext(ctx,
		"SELECT chunk_id, bm25(note_chunks_fts) FROM note_chunks_fts WHERE note_chunks_fts MATCH ? ORDER BY bm25(note_chunks_fts) LIMIT ?",
		query, candidatePool)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	// bm25() reports better matches as more-negative values.
	raw := make(map[string]float64)
	best := 0.0
	for rows.Next() {
		var id string
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			return nil, err
		}
		raw[id] = -score
		if -score > best {
			best = -score
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if best > 0 {
		for id := range raw {
			raw[id] /= best
		}
	}
	return raw, nil
}

// vectorSearch returns chunk id -> cosine similarity mapped into [0, 1].
func (m *Manager) vectorSearch(ctx context.Context, query string) (map[string]float64, error) {
	embedding, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	encoded, err := json.Marshal(embedding)
	if err != nil {
		return nil, fmt.Errorf("encode query embedding: %w", err)
	}

	rows, err := m.db.QueryContext(ctx,
		"SELECT chunk_id, vec_distance_cosine(embedding, ?) FROM note_vectors ORDER BY 2 LIMIT ?",
		string(encoded), candidatePool)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var id string
		var distance float64
		if err := rows.Scan(&id, &distance); err != nil {
			return nil, err
		}
		// cosine distance 0..2 -> similarity 1..-1 -> clamp into 0..1
		similarity := (2 - distance) / 2
		if similarity < 0 {
			similarity = 0
		}
		out[id] = similarity
	}
	return out, rows.Err()
}

// scoreAndFetch blends the two rank maps, applies the score floor and
// limit, and loads the surviving chunks' bodies.
func (m *Manager) scoreAndFetch(ctx context.Context, vectorRanks, keywordRanks map[string]float64, opts RecallOptions) ([]RecallHit, error) {
	hits := make([]RecallHit, 0, len(vectorRanks)+len(keywordRanks))
	seen := make(map[string]bool)

	blend := func(chunkID string) RecallHit {
		hit := RecallHit{ChunkID: chunkID}
		if v, ok := vectorRanks[chunkID]; ok {
			hit.Score += v * opts.VectorWeight
			hit.VectorScore = &v
		}
		if k, ok := keywordRanks[chunkID]; ok {
			hit.Score += k * opts.KeywordWeight
			hit.KeywordScore = &k
		}
		return hit
	}
	for id := range vectorRanks {
		seen[id] = true
		hits = append(hits, blend(id))
	}
	for id := range keywordRanks {
		if !seen[id] {
			hits = append(hits, blend(id))
		}
	}

	filtered := hits[:0]
	for _, h := range hits {
		if h.Score >= opts.MinScore {
			filtered = append(filtered, h)
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Score > filtered[j].Score })
	if len(filtered) > opts.Limit {
		filtered = filtered[:opts.Limit]
	}

	for i := range filtered {
		err := m.db.QueryRowContext(ctx,
			"SELECT note_path, body FROM note_chunks WHERE id = ?", filtered[i].ChunkID,
		).Scan(&filtered[i].FilePath, &filtered[i].Content)
		if err != nil {
			m.logger.Warn().Err(err).Str("chunk_id", filtered[i].ChunkID).Msg("indexed chunk missing its body row")
		}
	}
	return filtered, nil
}

// Sync walks the workspace for markdown notes and brings the index up
// to date: unchanged notes (by content hash) are skipped, changed ones
// reindexed, and index entries for deleted notes pruned.
func (m *Manager) Sync() error {
	ctx, span := tracing.StartSpan(context.Background(), "ranya.memory", "memory.sync")
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, m.logger)

	m.mu.Lock()
	if m.syncing {
		m.mu.Unlock()
		return errors.New("sync already in progress")
	}
	m.syncing = true
	m.mu.Unlock()
	defer func() {
		now := time.Now()
		m.mu.Lock()
		m.syncing = false
		m.dirty = false
		m.lastSyncTime = &now
		m.mu.Unlock()
	}()

	start := time.Now()
	defer func() { observability.RecordMemoryWrite(time.Since(start)) }()

	notes, err := m.findNotes()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("scan workspace: %w", err)
	}

	indexed, skipped := 0, 0
	for _, relPath := range notes {
		changed, err := m.indexNote(ctx, relPath)
		if err != nil {
			logger.Warn().Err(err).Str("note", relPath).Msg("failed to index note")
			span.RecordError(err)
			continue
		}
		if changed {
			indexed++
		} else {
			skipped++
		}
	}
	pruned, err := m.pruneMissing(notes)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to prune deleted notes")
	}

	logger.Info().Int("indexed", indexed).Int("unchanged", skipped).Int("pruned", pruned).
		Dur("took", time.Since(start)).Msg("index sync completed")
	observability.SetMemoryEntries(m.Status().TotalChunks)
	return nil
}

func (m *Manager) findNotes() ([]string, error) {
	var notes []string
	err := filepath.WalkDir(m.workspacePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(d.Name()), ".md") {
			return nil
		}
		rel, err := filepath.Rel(m.workspacePath, path)
		if err != nil {
			return err
		}
		notes = append(notes, rel)
		return nil
	})
	return notes, err
}

// indexNote reindexes one note unless its content hash matches the
// stored one. Returns whether the index changed.
func (m *Manager) indexNote(ctx context.Context, relPath string) (bool, error) {
	raw, err := os.ReadFile(filepath.Join(m.workspacePath, relPath))
	if err != nil {
		return false, err
	}
	sum := sha256.Sum256(raw)
	hash := hex.EncodeToString(sum[:])

	var stored string
	err = m.db.QueryRowContext(ctx, "SELECT content_hash FROM notes WHERE path = ?", relPath).Scan(&stored)
	if err == nil && stored == hash {
		return false, nil
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if err := m.dropNoteTx(tx, relPath); err != nil {
		return false, err
	}
	if _, err := tx.Exec(
		"INSERT INTO notes (path, content_hash, indexed_at) VALUES (?, ?, ?)",
		relPath, hash, time.Now().Unix()); err != nil {
		return false, err
	}

	for ordinal, body := range chunkNote(string(raw)) {
		chunkID := fmt.Sprintf("%s#%d", relPath, ordinal)
		if _, err := tx.Exec(
			"INSERT INTO note_chunks (id, note_path, ordinal, body) VALUES (?, ?, ?, ?)",
			chunkID, relPath, ordinal, body); err != nil {
			return false, err
		}
		if _, err := tx.Exec(
			"INSERT INTO note_chunks_fts (chunk_id, body) VALUES (?, ?)",
			chunkID, body); err != nil {
			return false, err
		}
		if m.embedder != nil {
			embedding, err := m.embedder.Embed(ctx, body)
			if err != nil {
				m.logger.Warn().Err(err).Str("chunk_id", chunkID).Msg("embedding failed, chunk is keyword-only")
				continue
			}
			encoded, err := json.Marshal(embedding)
			if err != nil {
				return false, err
			}
			if _, err := tx.Exec(
				"INSERT OR REPLACE INTO note_vectors (chunk_id, embedding) VALUES (?, ?)",
				chunkID, string(encoded)); err != nil {
				return false, err
			}
		}
	}
	return true, tx.Commit()
}

// dropNoteTx removes one note and every derived row inside tx. The
// FTS and vector tables don't participate in foreign-key cascades, so
// they're cleared explicitly.
func (m *Manager) dropNoteTx(tx *sql.Tx, relPath string) error {
	prefix := relPath + "#%"
	if _, err := tx.Exec("DELETE FROM note_chunks_fts WHERE chunk_id LIKE ?", prefix); err != nil {
		return err
	}
	if m.embedder != nil {
		if _, err := tx.Exec("DELETE FROM note_vectors WHERE chunk_id LIKE ?", prefix); err != nil {
			return err
		}
	}
	if _, err := tx.Exec("DELETE FROM note_chunks WHERE note_path = ?", relPath); err != nil {
		return err
	}
	_, err := tx.Exec("DELETE FROM notes WHERE path = ?", relPath)
	return err
}

func (m *Manager) pruneMissing(onDisk []string) (int, error) {
	keep := make(map[string]bool, len(onDisk))
	for _, p := range onDisk {
		keep[p] = true
	}

	rows, err := m.db.Query("SELECT path FROM notes")
	if err != nil {
		return 0, err
	}
	var stale []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			rows.Close()
			return 0, err
		}
		if !keep[path] {
			stale = append(stale, path)
		}
	}
	rows.Close()

	for _, path := range stale {
		tx, err := m.db.Begin()
		if err != nil {
			return 0, err
		}
		if err := m.dropNoteTx(tx, path); err != nil {
			tx.Rollback()
			return 0, err
		}
		if err := tx.Commit(); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}

// chunkNote splits a markdown note on section headings, then hard-caps
// oversized sections at the nearest blank line under maxChunkRunes.
func chunkNote(content string) []string {
	var sections []string
	var current strings.Builder
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "#") && current.Len() > 0 {
			sections = append(sections, current.String())
			current.Reset()
		}
		current.WriteString(line)
		current.WriteString("\n")
	}
	if current.Len() > 0 {
		sections = append(sections, current.String())
	}

	var chunks []string
	for _, section := range sections {
		for _, piece := range splitOversized(section) {
			piece = strings.TrimSpace(piece)
			if piece != "" {
				chunks = append(chunks, piece)
			}
		}
	}
	return chunks
}

func splitOversized(section string) []string {
	if len([]rune(section)) <= maxChunkRunes {
		return []string{section}
	}
	var pieces []string
	var current strings.Builder
	for _, para := range strings.Split(section, "\n\n") {
		if current.Len() > 0 && len([]rune(current.String()))+len([]rune(para)) > maxChunkRunes {
			pieces = append(pieces, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	if current.Len() > 0 {
		pieces = append(pieces, current.String())
	}
	return pieces
}

// Status reports the index's current size and sync state.
func (m *Manager) Status() IndexStatus {
	m.mu.RLock()
	status := IndexStatus{
		IsDirty:      m.dirty,
		IsSyncing:    m.syncing,
		LastSyncTime: m.lastSyncTime,
	}
	m.mu.RUnlock()

	m.db.QueryRow("SELECT COUNT(*) FROM notes").Scan(&status.TotalFiles)
	m.db.QueryRow("SELECT COUNT(*) FROM note_chunks").Scan(&status.TotalChunks)
	return status
}

// MarkDirty flags the index so the next Recall re-syncs first.
func (m *Manager) MarkDirty() {
	m.mu.Lock()
	m.dirty = true
	m.mu.Unlock()
}

// Close stops the watcher and releases the database.
func (m *Manager) Close() error {
	if m.watcher != nil {
		m.watcher.Close()
	}
	return m.db.Close()
}
