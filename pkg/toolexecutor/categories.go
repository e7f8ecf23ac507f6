package toolexecutor

import (
	"fmt"
	"strings"
)

// ToolCategory buckets a tool by risk class, the granularity a custom
// agent's denylist operates at when an operator wants to block a whole
// class of actions (e.g. "no shell") rather than enumerate tool names
// one at a time.
type ToolCategory string

const (
	CategoryRead    ToolCategory = "read"
	CategoryWrite   ToolCategory = "write"
	CategoryShell   ToolCategory = "shell"
	CategoryWeb     ToolCategory = "web"
	CategorySpec    ToolCategory = "spec"
	CategoryGeneral ToolCategory = "general"
)

// AllCategories lists every recognized category.
func AllCategories() []ToolCategory {
	return []ToolCategory{
		CategoryRead,
		CategoryWrite,
		CategoryShell,
		CategoryWeb,
		CategorySpec,
		CategoryGeneral,
	}
}

// IsValidCategory reports whether category names one of AllCategories,
// case-insensitively.
func IsValidCategory(category string) bool {
	cat := ToolCategory(strings.ToLower(category))
	for _, valid := range AllCategories() {
		if cat == valid {
			return true
		}
	}
	return false
}

// ToolRegistry tracks which category each registered tool belongs to.
// ToolExecutor keeps one internally, fed from RegisterTool/UnregisterTool,
// so category-based policy checks never have to walk the tool map
// under its own lock.
type ToolRegistry struct {
	tools      map[string]*ToolMetadata
	categories map[string]ToolCategory
}

// ToolMetadata is the slice of a ToolDefinition a category policy
// decision needs.
type ToolMetadata struct {
	Name        string
	Description string
	Category    ToolCategory
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools:      make(map[string]*ToolMetadata),
		categories: make(map[string]ToolCategory),
	}
}

// Register records name under category, defaulting to CategoryGeneral
// when the caller didn't specify one.
func (tr *ToolRegistry) Register(name string, description string, category ToolCategory) error {
	if name == "" {
		return fmt.Errorf("tool name is required")
	}

	if category == "" {
		category = CategoryGeneral
	}

	if !IsValidCategory(string(category)) {
		return fmt.Errorf("invalid category: %s", category)
	}

	tr.tools[name] = &ToolMetadata{
		Name:        name,
		Description: description,
		Category:    category,
	}
	tr.categories[name] = category

	return nil
}

// Unregister drops name from the registry. A no-op if name was never
// registered.
func (tr *ToolRegistry) Unregister(name string) {
	delete(tr.tools, name)
	delete(tr.categories, name)
}

// Get retrieves a tool's metadata by name.
func (tr *ToolRegistry) Get(name string) (*ToolMetadata, error) {
	tool, ok := tr.tools[name]
	if !ok {
		return nil, fmt.Errorf("tool not found: %s", name)
	}
	return tool, nil
}

// GetCategory returns the category a tool was registered under.
func (tr *ToolRegistry) GetCategory(toolName string) (ToolCategory, error) {
	category, ok := tr.categories[toolName]
	if !ok {
		return CategoryGeneral, fmt.Errorf("tool not found: %s", toolName)
	}
	return category, nil
}

// List returns every registered tool's metadata.
func (tr *ToolRegistry) List() []*ToolMetadata {
	tools := make([]*ToolMetadata, 0, len(tr.tools))
	for _, tool := range tr.tools {
		tools = append(tools, tool)
	}
	return tools
}

// FilterByCategory returns tools registered under category.
func (tr *ToolRegistry) FilterByCategory(category ToolCategory) []*ToolMetadata {
	filtered := []*ToolMetadata{}
	for _, tool := range tr.tools {
		if tool.Category == category {
			filtered = append(filtered, tool)
		}
	}
	return filtered
}

// FilterByCategories returns tools registered under any of categories.
func (tr *ToolRegistry) FilterByCategories(categories []ToolCategory) []*ToolMetadata {
	categorySet := make(map[ToolCategory]bool)
	for _, cat := range categories {
		categorySet[cat] = true
	}

	filtered := []*ToolMetadata{}
	for _, tool := range tr.tools {
		if categorySet[tool.Category] {
			filtered = append(filtered, tool)
		}
	}
	return filtered
}

// CategoryMatcher decides whether a tool call is allowed under a
// custom agent's category-level allow/deny lists. ToolExecutor.Execute
// consults it after the per-name ToolPolicy check passes.
type CategoryMatcher struct {
	registry *ToolRegistry
}

// NewCategoryMatcher builds a matcher backed by registry.
func NewCategoryMatcher(registry *ToolRegistry) *CategoryMatcher {
	return &CategoryMatcher{
		registry: registry,
	}
}

// MatchesCategory reports whether toolName was registered under category.
func (cm *CategoryMatcher) MatchesCategory(toolName string, category ToolCategory) bool {
	tool, err := cm.registry.Get(toolName)
	if err != nil {
		return false
	}
	return tool.Category == category
}

// MatchesAnyCategory reports whether toolName's category is in categories.
func (cm *CategoryMatcher) MatchesAnyCategory(toolName string, categories []ToolCategory) bool {
	tool, err := cm.registry.Get(toolName)
	if err != nil {
		return false
	}

	for _, cat := range categories {
		if tool.Category == cat {
			return true
		}
	}
	return false
}

// ApplyCategoryPolicy reports whether toolName is allowed given
// allowCategories/denyCategories, deny taking precedence. An empty
// allowCategories means "no category restriction" rather than "deny
// all" — the per-name ToolPolicy already covers the deny-everything
// case. A tool with no registered metadata (shouldn't happen once
// RegisterTool has run) is denied.
func (cm *CategoryMatcher) ApplyCategoryPolicy(toolName string, allowCategories []ToolCategory, denyCategories []ToolCategory) bool {
	tool, err := cm.registry.Get(toolName)
	if err != nil {
		return false
	}

	for _, denyCat := range denyCategories {
		if tool.Category == denyCat {
			return false
		}
	}

	if len(allowCategories) == 0 {
		return true
	}

	for _, allowCat := range allowCategories {
		if tool.Category == allowCat {
			return true
		}
	}

	return false
}
