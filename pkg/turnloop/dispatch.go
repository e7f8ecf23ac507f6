package turnloop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/harun/ranya-core/internal/config"
	"github.com/harun/ranya-core/internal/eventbus"
	"github.com/harun/ranya-core/pkg/convo"
	"github.com/harun/ranya-core/pkg/llm"
	"github.com/harun/ranya-core/pkg/toolexecutor"
)

// toolPolicyFor builds a per-call ToolPolicy from the custom agent's
// category denylist, or returns nil when the agent declares none so
// invokeTool falls back to the unrestricted default (ToolExecutor.Execute
// skips the policy check entirely for a nil ToolPolicy).
func toolPolicyFor(agent *config.CustomAgentConfig) *toolexecutor.ToolPolicy {
	if agent == nil || len(agent.DeniedToolCategories) == 0 {
		return nil
	}
	deny := make([]toolexecutor.ToolCategory, 0, len(agent.DeniedToolCategories))
	for _, c := range agent.DeniedToolCategories {
		deny = append(deny, toolexecutor.ToolCategory(c))
	}
	return &toolexecutor.ToolPolicy{Allow: []string{"*"}, DenyCategories: deny}
}

// dispatchTools runs every toolUse block from one assistant response
// sequentially, in assistant-message order, checking cancellation
// before each, and builds the paired
// toolUse/toolResult items the caller persists atomically.
func (l *Loop) dispatchTools(ctx context.Context, workerID string, agent *config.CustomAgentConfig, result llm.Result, toolUses []convo.Block, tr *transcript, lastReport time.Time, token *CancelToken) (convo.Item, convo.Item, time.Time, error) {
	toolUseItem := convo.Item{
		Role:        convo.RoleAssistant,
		MessageType: convo.TypeToolUse,
		Content:     result.Response.Content,
	}

	resultBlocks := make([]convo.Block, 0, len(toolUses))
	for _, use := range toolUses {
		if err := checkCancelled(token); err != nil {
			return convo.Item{}, convo.Item{}, lastReport, err
		}

		content, status := l.invokeTool(ctx, workerID, agent, use)
		resultBlocks = append(resultBlocks, convo.ToolResultBlock(use.ToolUseID, content, status))

		switch use.ToolName {
		case "reportProgress":
			if message, ok := use.ToolInput["message"].(string); ok {
				tr.addProgress(message)
				// Force a visible echo when the session has been silent
				// past the echo window, so a renderer that batches
				// progress still surfaces something.
				if !lastReport.IsZero() && time.Since(lastReport) > progressEchoInterval {
					if err := l.bus.Publish(ctx, workerID, eventbus.Event{
						Type: eventbus.EventMessage,
						Role: string(convo.RoleAssistant),
						Text: message,
					}); err != nil {
						l.logger.Warn().Err(err).Str("worker_id", workerID).Msg("failed to publish forced progress echo")
					}
				}
			}
			lastReport = l.recordProgress(ctx, workerID)
		case "cloneRepository":
			// No local bookkeeping needed: the next iteration's
			// buildSystemPrompt call re-reads the Metadata Store, which
			// invokeTool's handler has already updated on success.
		}
	}

	toolResultItem := convo.Item{
		Role:        convo.RoleUser,
		MessageType: convo.TypeToolResult,
		Content:     resultBlocks,
	}
	return toolUseItem, toolResultItem, lastReport, nil
}

// invokeTool executes one tool call through the unified tool registry.
// MCP-fetched tools are registered into the same ToolExecutor as
// built-ins (pkg/toolexecutor's RegisterMCPServer merges them into one
// map), so there is no separate "try MCP, then try built-in" branch
// here — a single Execute call covers both.
func (l *Loop) invokeTool(ctx context.Context, workerID string, agent *config.CustomAgentConfig, use convo.Block) ([]convo.Block, convo.ToolResultStatus) {
	if l.toolExecutor == nil {
		return []convo.Block{convo.TextBlock(fmt.Sprintf("Error occurred when using tool %s: no tool executor configured", use.ToolName))}, convo.ToolResultError
	}

	execCtx := &toolexecutor.ExecutionContext{WorkerID: workerID, ToolUseID: use.ToolUseID, ToolPolicy: toolPolicyFor(agent)}
	res := l.toolExecutor.Execute(ctx, use.ToolName, use.ToolInput, execCtx)
	if !res.Success {
		err := classifyToolError(res.Error)
		l.logger.Warn().Err(err).Str("worker_id", workerID).Str("tool", use.ToolName).Msg("tool call did not succeed")
		return []convo.Block{convo.TextBlock(fmt.Sprintf("Error occurred when using tool %s: %s", use.ToolName, res.Error))}, convo.ToolResultError
	}
	return outputToBlocks(res.Output), convo.ToolResultSuccess
}

// classifyToolError maps ToolExecutor's free-text Error field onto the
// two turn-loop-facing taxonomy sentinels;
// both recover the same way (textual toolResult, turn continues), but
// distinguishing them lets a caller filter logs with errors.Is.
func classifyToolError(msg string) error {
	if strings.HasPrefix(msg, "parameter validation failed") || strings.HasPrefix(msg, "tool not found") {
		return fmt.Errorf("%w: %s", ErrInvalidToolInput, msg)
	}
	return fmt.Errorf("%w: %s", ErrToolHandlerError, msg)
}

// recordProgress stamps the session's last-report time, the basis of
// the forced-echo window above; this core never throttles or batches
// reportProgress
// calls on the way out, so every call already lands on the bus as soon
// as it happens, and the stamp is kept only for a downstream consumer
// that might decide to nudge the agent after a long silent stretch.
func (l *Loop) recordProgress(ctx context.Context, workerID string) time.Time {
	now := time.Now()
	if l.metadata != nil {
		_ = l.metadata.Set(ctx, workerID, "lastReport", map[string]interface{}{"at": now})
	}
	return now
}

// emitToolEvents publishes the toolUse/toolResult event pair for
// every tool call in one iteration, after the pair has already been
// persisted atomically.
func (l *Loop) emitToolEvents(ctx context.Context, workerID string, toolUseItem, toolResultItem convo.Item, thinkingBudget int) {
	resultByID := make(map[string]convo.Block, len(toolResultItem.Content))
	for _, b := range toolResultItem.Content {
		if b.Kind == convo.BlockToolResult {
			resultByID[b.ToolUseID] = b
		}
	}

	var reasoningText string
	for _, b := range toolUseItem.Content {
		if b.Kind == convo.BlockReasoning {
			reasoningText = b.ReasoningText
			break
		}
	}

	for _, use := range toolUseItem.Content {
		if use.Kind != convo.BlockToolUse {
			continue
		}
		inputJSON, _ := json.Marshal(use.ToolInput)
		if err := l.bus.Publish(ctx, workerID, eventbus.Event{
			Type:           eventbus.EventToolUse,
			ToolName:       use.ToolName,
			ToolUseID:      use.ToolUseID,
			Input:          string(inputJSON),
			ThinkingBudget: thinkingBudget,
			ReasoningText:  reasoningText,
		}); err != nil {
			l.logger.Warn().Err(err).Str("worker_id", workerID).Msg("failed to publish toolUse event")
		}

		result, ok := resultByID[use.ToolUseID]
		if !ok {
			continue
		}
		if err := l.bus.Publish(ctx, workerID, eventbus.Event{
			Type:      eventbus.EventToolResult,
			ToolName:  use.ToolName,
			ToolUseID: use.ToolUseID,
			Output:    toolResultText(result),
		}); err != nil {
			l.logger.Warn().Err(err).Str("worker_id", workerID).Msg("failed to publish toolResult event")
		}
	}
}

func toolResultText(b convo.Block) string {
	item := convo.Item{Content: b.ToolResultContent}
	if text := item.TextContent(); text != "" {
		return text
	}
	data, _ := json.Marshal(b.ToolResultContent)
	return string(data)
}
