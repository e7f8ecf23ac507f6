// Package toolexecutor registers and executes the structured tools an
// agent can call: built-ins and MCP-served tools share one registry,
// one schema-validation pass, and one policy gate.
//
// Tool names are unique within an executor; a colliding MCP tool is
// registered under a server-prefixed name instead. Input is validated
// against a JSON schema generated from the tool's declared parameters
// before its handler runs, and a per-call ToolPolicy can deny a tool
// by name or by category.
package toolexecutor
