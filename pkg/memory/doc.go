// Package memory indexes the markdown notes a worker accumulates in
// its cloned repository (coretools.cloneRepository's checkout, plus
// anything writeMemoryNote drops in alongside it) and answers recall
// queries against that index for the Agent Turn Loop's system prompt.
//
// Invariants:
//   - A chunk's content hash always matches the file it came from;
//     Sync skips re-indexing a file whose hash is unchanged and prunes
//     chunks whose file disappeared.
//   - RecallWithContext degrades to keyword-only when no Embedder is
//     configured, or when the vector half of a search call fails.
//   - Sync and Recall both emit tracing spans and index metrics.
//
// Usage:
//
//	mgr, _ := memory.NewManager(memory.Config{WorkspacePath: repoDir, DBPath: dbPath})
//	defer mgr.Close()
//	_ = mgr.Sync()
//	hits, _ := mgr.Recall("how did we configure the webhook", nil)
package memory
