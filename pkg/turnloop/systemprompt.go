package turnloop

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/harun/ranya-core/internal/config"
	"github.com/harun/ranya-core/pkg/memory"
)

// repoKnowledgeFile is the fixed, repo-root-relative file the
// "## Repository Knowledge" section reads after a cloneRepository
// tool call has recorded a repoDirectory.
const repoKnowledgeFile = "AGENTS.md"

// relevantMemoryLimit caps how many memory search hits are folded into
// the system prompt, keeping the section a skim-able excerpt rather
// than a second context window.
const relevantMemoryLimit = 5

// buildSystemPrompt assembles the effective system prompt:
// the custom agent's prompt (or the loop's default), then an optional
// "## Common Prompt" section from process-wide preferences, then
// "## Repository Knowledge" when a repo has been cloned for this
// session, then "## Relevant Memory" when a memory manager is wired
// and the triggering message yields hits.
func (l *Loop) buildSystemPrompt(ctx context.Context, workerID string, agent *config.CustomAgentConfig, userQuery string) string {
	var sb strings.Builder

	base := l.defaultSystemPrompt
	if agent != nil && agent.SystemPrompt != "" {
		base = agent.SystemPrompt
	}
	sb.WriteString(base)

	if l.cfg != nil && l.cfg.Preferences.CommonPromptSuffix != "" {
		sb.WriteString("\n\n## Common Prompt\n")
		sb.WriteString(l.cfg.Preferences.CommonPromptSuffix)
	}

	if knowledge := l.repositoryKnowledge(ctx, workerID); knowledge != "" {
		sb.WriteString("\n\n## Repository Knowledge\n")
		sb.WriteString(knowledge)
	}

	if relevant := l.relevantMemory(ctx, userQuery); relevant != "" {
		sb.WriteString("\n\n## Relevant Memory\n")
		sb.WriteString(relevant)
	}

	return sb.String()
}

// repositoryKnowledge reads the fixed knowledge file out of the
// session's cloned repository, or returns "" when no repository has
// been cloned yet or the file doesn't exist — knowledge files are
// optional, not every repository carries one.
func (l *Loop) repositoryKnowledge(ctx context.Context, workerID string) string {
	if l.metadata == nil {
		return ""
	}
	dir, ok, err := l.metadata.RepoDirectory(ctx, workerID)
	if err != nil || !ok || dir == "" {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(dir, repoKnowledgeFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// relevantMemory renders the top memory search hits for query into a
// plain-text excerpt, or "" when no memory manager is wired or the
// query yields nothing.
func (l *Loop) relevantMemory(ctx context.Context, query string) string {
	if l.memory == nil || strings.TrimSpace(query) == "" {
		return ""
	}
	results, err := l.memory.RecallWithContext(ctx, query, &memory.RecallOptions{
		Limit:         relevantMemoryLimit,
		VectorWeight:  0.6,
		KeywordWeight: 0.4,
	})
	if err != nil || len(results) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, r := range results {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[%s]\n%s", r.FilePath, strings.TrimSpace(r.Content))
	}
	return sb.String()
}
