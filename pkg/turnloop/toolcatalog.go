package turnloop

import (
	"fmt"
	"sort"

	"github.com/harun/ranya-core/internal/config"
	"github.com/harun/ranya-core/pkg/llm"
	"github.com/harun/ranya-core/pkg/toolexecutor"
)

// requiredToolNames is the fixed set every catalog carries regardless
// of what the custom agent declares.
var requiredToolNames = []string{"reportProgress", "todoInit", "todoUpdate", "sendImage"}

// buildToolCatalog unions the custom agent's declared built-in tool
// names with the required set and its MCP server's tool names. Tools
// the executor actually has a registered definition for are described
// with their real schema; MCP tool names with no adapter registered
// locally still get a permissive placeholder schema so the model
// can at least attempt the call — dispatch then fails the normal way,
// through ToolExecutor.Execute's "tool not found" path, which the loop
// converts into a textual tool-result error.
//
// Returns nil when the resulting catalog is empty, so callers can
// leave Request.Tools and Request.ToolChoice unset — some providers
// reject an empty, non-nil tool list.
func (l *Loop) buildToolCatalog(agent *config.CustomAgentConfig) []llm.ToolSpec {
	names := make(map[string]bool)
	for _, n := range requiredToolNames {
		names[n] = true
	}

	var mcpOnly []llm.ToolSpec
	seenMCP := make(map[string]bool)

	if agent != nil {
		for _, n := range agent.AllowedTools {
			names[n] = true
		}
		for _, server := range agent.MCPServers {
			for _, n := range server.ToolNames {
				names[n] = true
				if l.toolExecutor != nil && l.toolExecutor.GetTool(n) != nil {
					continue
				}
				if seenMCP[n] {
					continue
				}
				seenMCP[n] = true
				mcpOnly = append(mcpOnly, llm.ToolSpec{
					Name:        n,
					Description: fmt.Sprintf("Tool %q served by MCP server %q.", n, server.Name),
					InputSchema: map[string]interface{}{"type": "object"},
				})
			}
		}
	}

	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)

	specs := make([]llm.ToolSpec, 0, len(sorted)+len(mcpOnly))
	for _, n := range sorted {
		if spec, ok := l.toolSpecFor(n); ok {
			specs = append(specs, spec)
		}
	}
	specs = append(specs, mcpOnly...)

	if len(specs) == 0 {
		return nil
	}
	return specs
}

func (l *Loop) toolSpecFor(name string) (llm.ToolSpec, bool) {
	if l.toolExecutor == nil {
		return llm.ToolSpec{}, false
	}
	def := l.toolExecutor.GetTool(name)
	if def == nil {
		return llm.ToolSpec{}, false
	}
	return llm.ToolSpec{
		Name:        def.Name,
		Description: def.Description,
		InputSchema: parametersToSchema(def.Parameters),
	}, true
}

func parametersToSchema(params []toolexecutor.ToolParameter) map[string]interface{} {
	properties := make(map[string]interface{}, len(params))
	var required []string
	for _, p := range params {
		prop := map[string]interface{}{"type": p.Type, "description": p.Description}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]interface{}{"type": "object", "properties": properties}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
