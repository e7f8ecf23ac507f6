package toolexecutor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/harun/ranya-core/internal/observability"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

// ToolPolicy defines which tools an agent can use, at both the
// per-name and per-category granularity. AllowCategories/DenyCategories
// let a custom agent definition block a whole risk class (e.g. "no
// shell tools") without enumerating every tool name in that class.
type ToolPolicy struct {
	Allow           []string       `json:"allow"` // List of allowed tools (* for all)
	Deny            []string       `json:"deny"`  // List of denied tools (overrides allow)
	AllowCategories []ToolCategory `json:"allowCategories,omitempty"`
	DenyCategories  []ToolCategory `json:"denyCategories,omitempty"`
}

// ToolParameter defines a parameter for a tool.
type ToolParameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
}

// ToolDefinition defines a tool's metadata and handler. Handler takes
// a raw params map rather than the toolexecutor's own schema type so
// MCP-fetched and built-in tools share a single registration path.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Category    ToolCategory    `json:"category,omitempty"`
	Parameters  []ToolParameter `json:"parameters"`
	Handler     ToolHandler     `json:"-"`
}

// ToolHandler is the function signature for tool execution.
type ToolHandler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// ExecutionContext provides runtime information for tool execution:
// the worker and toolUse identity of the call, the per-agent policy,
// and any preferences the handler contract exposes.
type ExecutionContext struct {
	SessionKey  string
	WorkingDir  string
	Timeout     time.Duration
	WorkerID    string
	ToolUseID   string
	Preferences map[string]interface{}
	ToolPolicy  *ToolPolicy
}

// ToolResult represents the result of a tool execution.
type ToolResult struct {
	Success   bool                   `json:"success"`
	Output    interface{}            `json:"output,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Truncated bool                   `json:"truncated,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// ToolExecutor manages and executes tools.
type ToolExecutor struct {
	tools    map[string]*ToolDefinition
	schemas  map[string]*gojsonschema.Schema
	registry *ToolRegistry
	matcher  *CategoryMatcher
	mu       sync.RWMutex
}

// New creates a new ToolExecutor.
func New() *ToolExecutor {
	registry := NewToolRegistry()
	te := &ToolExecutor{
		tools:    make(map[string]*ToolDefinition),
		schemas:  make(map[string]*gojsonschema.Schema),
		registry: registry,
		matcher:  NewCategoryMatcher(registry),
	}

	log.Info().Msg("Tool executor initialized")

	return te
}

// RegisterTool registers a new tool.
func (te *ToolExecutor) RegisterTool(def ToolDefinition) error {
	if err := te.validateToolDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema, err := te.generateJSONSchema(def)
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	te.mu.Lock()
	defer te.mu.Unlock()

	te.tools[def.Name] = &def
	te.schemas[def.Name] = schema
	if err := te.registry.Register(def.Name, def.Description, def.Category); err != nil {
		return fmt.Errorf("failed to register tool category: %w", err)
	}

	log.Info().Str("tool", def.Name).Msg("Tool registered")

	return nil
}

// UnregisterTool removes a tool.
func (te *ToolExecutor) UnregisterTool(name string) {
	te.mu.Lock()
	defer te.mu.Unlock()

	delete(te.tools, name)
	delete(te.schemas, name)
	te.registry.Unregister(name)

	log.Info().Str("tool", name).Msg("Tool unregistered")
}

// ListToolsByCategory returns the names of every registered tool in
// category, the set buildToolCatalog filters down to for a custom
// agent that specifies a category allowlist instead of enumerating
// tool names one at a time.
func (te *ToolExecutor) ListToolsByCategory(category ToolCategory) []string {
	te.mu.RLock()
	defer te.mu.RUnlock()

	metas := te.registry.FilterByCategory(category)
	names := make([]string, 0, len(metas))
	for _, m := range metas {
		names = append(names, m.Name)
	}
	return names
}

// GetTool returns a tool definition by name.
func (te *ToolExecutor) GetTool(name string) *ToolDefinition {
	te.mu.RLock()
	defer te.mu.RUnlock()

	return te.tools[name]
}

// ListTools returns all registered tool names.
func (te *ToolExecutor) ListTools() []string {
	te.mu.RLock()
	defer te.mu.RUnlock()

	tools := make([]string, 0, len(te.tools))
	for name := range te.tools {
		tools = append(tools, name)
	}

	return tools
}

// GetToolCount returns the number of registered tools.
func (te *ToolExecutor) GetToolCount() int {
	te.mu.RLock()
	defer te.mu.RUnlock()

	return len(te.tools)
}

// Execute executes a tool with the given parameters. The agent turn
// loop calls this after schema validation has already rejected
// malformed toolUse input; Execute
// still validates defensively since a custom-agent MCP tool's schema
// may not match the caller's expectations exactly.
func (te *ToolExecutor) Execute(ctx context.Context, toolName string, params map[string]interface{}, execCtx *ExecutionContext) (result ToolResult) {
	startTime := time.Now()
	var workerID string
	if execCtx != nil {
		workerID = execCtx.WorkerID
	}
	defer func() {
		observability.RecordToolExecution(toolName, time.Since(startTime), result.Success)
		status := "failure"
		if result.Success {
			status = "success"
		}
		observability.RecordToolAudit(ctx, toolName, workerID, status, result.Metadata)
	}()

	if execCtx != nil && execCtx.ToolPolicy != nil {
		if !te.isAllowedByPolicy(execCtx.ToolPolicy, toolName) {
			log.Warn().Str("tool", toolName).Str("worker_id", execCtx.WorkerID).Msg("Tool execution blocked by policy")
			observability.RecordSecurityAudit(ctx, "policy_violation:"+toolName, workerID, "denied", nil)
			return ToolResult{
				Success: false,
				Error:   fmt.Sprintf("tool '%s' is not allowed by agent policy", toolName),
				Metadata: map[string]interface{}{
					"policy_violation": true,
				},
			}
		}
	}

	te.mu.RLock()
	tool := te.tools[toolName]
	schema := te.schemas[toolName]
	te.mu.RUnlock()

	if tool == nil {
		log.Error().Str("tool", toolName).Msg("Tool not found")
		return ToolResult{
			Success: false,
			Error:   fmt.Sprintf("tool not found: %s", toolName),
		}
	}

	if err := te.validateParameters(schema, params); err != nil {
		log.Error().Str("tool", toolName).Err(err).Msg("Parameter validation failed")
		return ToolResult{
			Success: false,
			Error:   fmt.Sprintf("parameter validation failed: %v", err),
		}
	}

	log.Debug().Str("tool", toolName).Msg("Executing tool")

	timeout := 30 * time.Second
	if execCtx != nil && execCtx.Timeout > 0 {
		timeout = execCtx.Timeout
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if execCtx != nil {
		timeoutCtx = ContextWithExecContext(timeoutCtx, execCtx)
	}

	resultChan := make(chan interface{}, 1)
	errChan := make(chan error, 1)

	go func() {
		result, err := tool.Handler(timeoutCtx, params)
		if err != nil {
			errChan <- err
		} else {
			resultChan <- result
		}
	}()

	select {
	case result := <-resultChan:
		duration := time.Since(startTime)
		output, truncated := te.truncateOutput(result)

		log.Debug().Str("tool", toolName).Dur("duration", duration).Bool("truncated", truncated).Msg("Tool execution completed")

		return ToolResult{
			Success:   true,
			Output:    output,
			Truncated: truncated,
			Metadata: map[string]interface{}{
				"duration": duration.Milliseconds(),
			},
		}

	case err := <-errChan:
		duration := time.Since(startTime)

		log.Error().Str("tool", toolName).Dur("duration", duration).Err(err).Msg("Tool execution failed")

		return ToolResult{
			Success: false,
			Error:   err.Error(),
			Metadata: map[string]interface{}{
				"duration": duration.Milliseconds(),
			},
		}

	case <-timeoutCtx.Done():
		duration := time.Since(startTime)

		log.Error().Str("tool", toolName).Dur("duration", duration).Msg("Tool execution timeout")

		return ToolResult{
			Success: false,
			Error:   fmt.Sprintf("tool execution timeout after %v", timeout),
			Metadata: map[string]interface{}{
				"duration": duration.Milliseconds(),
			},
		}
	}
}

// isAllowedByPolicy combines the per-name and per-category rules on
// policy: a name-level Deny (or a category-level DenyCategories match)
// always wins; otherwise the call is allowed if the name is explicitly
// Allow-listed, or its category is in AllowCategories. A policy that
// sets neither Allow nor AllowCategories denies everything.
func (te *ToolExecutor) isAllowedByPolicy(policy *ToolPolicy, toolName string) bool {
	for _, denied := range policy.Deny {
		if denied == toolName || denied == "*" {
			return false
		}
	}
	if len(policy.DenyCategories) > 0 && te.matcher.MatchesAnyCategory(toolName, policy.DenyCategories) {
		return false
	}

	for _, allowed := range policy.Allow {
		if allowed == toolName || allowed == "*" {
			return true
		}
	}
	if len(policy.AllowCategories) > 0 {
		return te.matcher.MatchesAnyCategory(toolName, policy.AllowCategories)
	}

	return false
}

func (te *ToolExecutor) validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if param.Type == "" {
			return fmt.Errorf("parameter type cannot be empty for %s", param.Name)
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}

		validTypes := map[string]bool{
			"string": true, "number": true, "boolean": true,
			"object": true, "array": true, "integer": true,
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
	}

	return nil
}

func (te *ToolExecutor) generateJSONSchema(def ToolDefinition) (*gojsonschema.Schema, error) {
	schemaMap := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           make(map[string]interface{}),
	}

	properties := schemaMap["properties"].(map[string]interface{})
	required := []string{}

	for _, param := range def.Parameters {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}

		if param.Default != nil {
			paramSchema["default"] = param.Default
		}

		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	if len(required) > 0 {
		schemaMap["required"] = required
	}

	schemaLoader := gojsonschema.NewGoLoader(schemaMap)
	schema, err := gojsonschema.NewSchema(schemaLoader)
	if err != nil {
		return nil, err
	}

	return schema, nil
}

func (te *ToolExecutor) validateParameters(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	paramsLoader := gojsonschema.NewGoLoader(params)
	result, err := schema.Validate(paramsLoader)
	if err != nil {
		return err
	}

	if !result.Valid() {
		errors := []string{}
		for _, err := range result.Errors() {
			errors = append(errors, err.String())
		}
		return fmt.Errorf("validation errors: %v", errors)
	}

	return nil
}

// truncateOutput truncates output if it exceeds the size limit.
func (te *ToolExecutor) truncateOutput(output interface{}) (interface{}, bool) {
	const maxSize = 10 * 1024 // 10KB

	str := fmt.Sprintf("%v", output)

	if len(str) <= maxSize {
		return output, false
	}

	truncated := str[:maxSize] + "\n... [output truncated]"
	log.Warn().Int("original", len(str)).Int("truncated", maxSize).Msg("Output truncated")

	return truncated, true
}
