package toolexecutor

import (
	"context"
	"fmt"
	"strings"
)

// uniqueName returns name, or serverID-prefixed variants until one
// doesn't collide with an already-registered tool.
func (te *ToolExecutor) uniqueName(serverID, name string) string {
	candidate := name
	for te.GetTool(candidate) != nil {
		candidate = fmt.Sprintf("%s_%s", serverID, candidate)
	}
	return candidate
}

// RegisterMCPServer folds an already-started adapter's tool catalog
// into the shared executor, so MCP-served and built-in tools dispatch
// through the same Execute path. Tool names are prefixed with the
// server id only on collision with an existing registration. Two
// synthetic tools per server expose its resource listing and reads.
// Called once per distinct server name at daemon startup.
func (te *ToolExecutor) RegisterMCPServer(ctx context.Context, serverID string, adapter *MCPServerAdapter) ([]string, error) {
	if strings.TrimSpace(serverID) == "" {
		return nil, fmt.Errorf("mcp server id is required")
	}
	if adapter == nil {
		return nil, fmt.Errorf("mcp adapter is required")
	}

	catalog, err := adapter.GetTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch mcp tool catalog: %w", err)
	}

	registered := make([]string, 0, len(catalog)+2)
	for _, def := range catalog {
		remoteName := def.Name
		if remoteName == "" {
			continue
		}
		def.Name = te.uniqueName(serverID, remoteName)
		def.Handler = func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return adapter.ExecuteTool(ctx, remoteName, params)
		}
		if err := te.RegisterTool(def); err != nil {
			return registered, fmt.Errorf("register mcp tool %s: %w", def.Name, err)
		}
		registered = append(registered, def.Name)
	}

	listName := te.uniqueName(serverID, fmt.Sprintf("mcp_%s_resources_list", serverID))
	if err := te.RegisterTool(ToolDefinition{
		Name:        listName,
		Description: fmt.Sprintf("List resources exposed by the %s MCP server.", serverID),
		Category:    CategoryRead,
		Handler: func(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
			return adapter.ListResources(ctx)
		},
	}); err != nil {
		return registered, fmt.Errorf("register mcp resource listing tool: %w", err)
	}
	registered = append(registered, listName)

	readName := te.uniqueName(serverID, fmt.Sprintf("mcp_%s_resource_read", serverID))
	if err := te.RegisterTool(ToolDefinition{
		Name:        readName,
		Description: fmt.Sprintf("Read one resource exposed by the %s MCP server.", serverID),
		Category:    CategoryRead,
		Parameters: []ToolParameter{
			{Name: "uri", Type: "string", Description: "Resource URI", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			uri, _ := params["uri"].(string)
			if strings.TrimSpace(uri) == "" {
				return nil, fmt.Errorf("uri parameter is required")
			}
			return adapter.ReadResource(ctx, uri)
		},
	}); err != nil {
		return registered, fmt.Errorf("register mcp resource read tool: %w", err)
	}
	registered = append(registered, readName)

	return registered, nil
}
