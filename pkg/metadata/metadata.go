// Package metadata implements the Metadata record: small
// per-session scratch set by tools, keyed `PK="meta-"+workerId`. The
// Agent Turn Loop's only reader is the repository-knowledge system
// prompt section, which looks up the `repo` key's `repoDirectory`
// field after a `cloneRepository` tool call.
package metadata

import (
	"context"
	"fmt"

	"github.com/harun/ranya-core/internal/kvstore"
	"github.com/rs/zerolog"
)

func partitionKey(workerID string) string { return "meta-" + workerID }

// Store persists small per-session scratch items under their own
// "meta-"+workerId partition.
type Store struct {
	kv     kvstore.Store
	logger zerolog.Logger
}

// New builds a Metadata Store over kv.
func New(kv kvstore.Store, logger zerolog.Logger) *Store {
	return &Store{kv: kv, logger: logger}
}

// Get fetches one scratch item by key.
func (s *Store) Get(ctx context.Context, workerID, key string) (kvstore.Item, bool, error) {
	rec, ok, err := s.kv.Get(ctx, partitionKey(workerID), key)
	if err != nil {
		return nil, false, fmt.Errorf("get metadata: %w", err)
	}
	return rec, ok, nil
}

// Set writes or replaces a scratch item under key.
func (s *Store) Set(ctx context.Context, workerID, key string, fields kvstore.Item) error {
	item := kvstore.Item{"pk": partitionKey(workerID), "sk": key}
	for k, v := range fields {
		item[k] = v
	}
	if err := s.kv.Put(ctx, item); err != nil {
		return fmt.Errorf("set metadata: %w", err)
	}
	return nil
}

// Update applies a partial field set to an existing scratch item.
func (s *Store) Update(ctx context.Context, workerID, key string, partial kvstore.Item) error {
	if err := s.kv.Update(ctx, partitionKey(workerID), key, partial); err != nil {
		return fmt.Errorf("update metadata: %w", err)
	}
	return nil
}

// RepoDirectory returns the session's cloned repository path, set by
// the cloneRepository tool, or ok=false if no repo has been cloned.
func (s *Store) RepoDirectory(ctx context.Context, workerID string) (string, bool, error) {
	rec, ok, err := s.Get(ctx, workerID, "repo")
	if err != nil || !ok {
		return "", false, err
	}
	dir, _ := rec["repoDirectory"].(string)
	if dir == "" {
		return "", false, nil
	}
	return dir, true, nil
}

// SetRepoDirectory records the session's cloned repository path.
func (s *Store) SetRepoDirectory(ctx context.Context, workerID, dir string) error {
	return s.Set(ctx, workerID, "repo", kvstore.Item{"repoDirectory": dir})
}
