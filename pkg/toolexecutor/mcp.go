package toolexecutor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// mcpProtocolVersion is the protocol revision sent in the initialize
// handshake.
const mcpProtocolVersion = "2024-11-05"

// mcpCallTimeout bounds any single JSON-RPC round trip to the child
// process.
const mcpCallTimeout = 10 * time.Second

type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	Params  interface{}     `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      *int            `json:"id,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("mcp server error %d: %s", e.Code, e.Message)
}

// MCPServerAdapter speaks the Model Context Protocol over stdio to a
// child process: newline-delimited JSON-RPC requests on stdin, replies
// matched back to callers by request id.
type MCPServerAdapter struct {
	serverID string
	command  string
	args     []string

	mu       sync.Mutex
	proc     *exec.Cmd
	stdin    io.WriteCloser
	nextID   int
	inFlight map[int]chan rpcMessage
}

// NewMCPServerAdapter builds an adapter; the child process isn't
// spawned until Start (or the first call, which starts it lazily).
func NewMCPServerAdapter(serverID, command string, args []string) *MCPServerAdapter {
	return &MCPServerAdapter{
		serverID: serverID,
		command:  command,
		args:     args,
		inFlight: make(map[int]chan rpcMessage),
	}
}

// Start spawns the child process and runs the initialize handshake.
// Calling it on an already-started adapter is a no-op.
func (a *MCPServerAdapter) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.proc != nil {
		a.mu.Unlock()
		return nil
	}

	cmd := exec.CommandContext(ctx, a.command, a.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		a.mu.Unlock()
		return fmt.Errorf("mcp %s: open stdin: %w", a.serverID, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		a.mu.Unlock()
		return fmt.Errorf("mcp %s: open stdout: %w", a.serverID, err)
	}
	if err := cmd.Start(); err != nil {
		a.mu.Unlock()
		return fmt.Errorf("mcp %s: spawn %q: %w", a.serverID, a.command, err)
	}
	a.proc = cmd
	a.stdin = stdin
	a.mu.Unlock()

	go a.readReplies(stdout)

	_, err = a.roundTrip(ctx, "initialize", map[string]interface{}{
		"protocolVersion": mcpProtocolVersion,
		"capabilities":    map[string]interface{}{},
		"clientInfo":      map[string]interface{}{"name": "ranyacore", "version": "0.1.0"},
	})
	if err != nil {
		return fmt.Errorf("mcp %s: initialize: %w", a.serverID, err)
	}
	return nil
}

// Stop kills the child process. In-flight calls fail when the reply
// stream closes.
func (a *MCPServerAdapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.proc == nil || a.proc.Process == nil {
		return nil
	}
	return a.proc.Process.Kill()
}

// readReplies routes every reply line from the child's stdout to the
// caller waiting on its id. On stream close, every waiter is released
// with a synthetic failure.
func (a *MCPServerAdapter) readReplies(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		var msg rpcMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			log.Warn().Err(err).Str("mcp_server", a.serverID).Msg("dropping unparseable reply line")
			continue
		}
		if msg.ID == nil {
			continue // notification; nothing is waiting on it
		}
		a.mu.Lock()
		waiter, ok := a.inFlight[*msg.ID]
		if ok {
			delete(a.inFlight, *msg.ID)
		}
		a.mu.Unlock()
		if ok {
			waiter <- msg
		}
	}

	a.mu.Lock()
	for id, waiter := range a.inFlight {
		delete(a.inFlight, id)
		waiter <- rpcMessage{Error: &rpcError{Code: -1, Message: "server closed its reply stream"}}
	}
	a.mu.Unlock()
}

// roundTrip sends one request and waits for its reply, starting the
// child first if needed.
func (a *MCPServerAdapter) roundTrip(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	a.mu.Lock()
	a.nextID++
	id := a.nextID
	waiter := make(chan rpcMessage, 1)
	a.inFlight[id] = waiter
	stdin := a.stdin
	a.mu.Unlock()

	if stdin == nil {
		return nil, fmt.Errorf("mcp %s: not started", a.serverID)
	}

	line, err := json.Marshal(rpcMessage{JSONRPC: "2.0", Method: method, Params: params, ID: &id})
	if err != nil {
		return nil, err
	}
	if _, err := stdin.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("mcp %s: write request: %w", a.serverID, err)
	}

	timer := time.NewTimer(mcpCallTimeout)
	defer timer.Stop()
	select {
	case reply := <-waiter:
		if reply.Error != nil {
			return nil, reply.Error
		}
		return reply.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("mcp %s: %s timed out after %s", a.serverID, method, mcpCallTimeout)
	}
}

// ensureStarted lazily spawns the child so an adapter registered
// without an explicit Start still works on first use.
func (a *MCPServerAdapter) ensureStarted(ctx context.Context) error {
	a.mu.Lock()
	started := a.proc != nil
	a.mu.Unlock()
	if started {
		return nil
	}
	return a.Start(ctx)
}

// ExecuteTool invokes one of the server's tools by name.
func (a *MCPServerAdapter) ExecuteTool(ctx context.Context, name string, params map[string]interface{}) (map[string]interface{}, error) {
	if err := a.ensureStarted(ctx); err != nil {
		return nil, err
	}
	raw, err := a.roundTrip(ctx, "tools/call", map[string]interface{}{
		"name":      name,
		"arguments": params,
	})
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("mcp %s: decode tools/call result: %w", a.serverID, err)
	}
	return out, nil
}

// GetTools fetches the server's tool catalog as ToolDefinitions ready
// for executor registration; handlers are attached by the caller.
func (a *MCPServerAdapter) GetTools(ctx context.Context) ([]ToolDefinition, error) {
	if err := a.ensureStarted(ctx); err != nil {
		return nil, err
	}
	raw, err := a.roundTrip(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}

	var catalog struct {
		Tools []struct {
			Name        string          `json:"name"`
			Description string          `json:"description"`
			InputSchema json.RawMessage `json:"inputSchema"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(raw, &catalog); err != nil {
		return nil, fmt.Errorf("mcp %s: decode tools/list result: %w", a.serverID, err)
	}

	defs := make([]ToolDefinition, 0, len(catalog.Tools))
	for _, t := range catalog.Tools {
		defs = append(defs, ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  schemaToParameters(t.InputSchema),
		})
	}
	return defs, nil
}

// ListResources fetches the server's resource listing.
func (a *MCPServerAdapter) ListResources(ctx context.Context) ([]map[string]interface{}, error) {
	if err := a.ensureStarted(ctx); err != nil {
		return nil, err
	}
	raw, err := a.roundTrip(ctx, "resources/list", nil)
	if err != nil {
		return nil, err
	}
	var listing struct {
		Resources []map[string]interface{} `json:"resources"`
	}
	if err := json.Unmarshal(raw, &listing); err != nil {
		return nil, fmt.Errorf("mcp %s: decode resources/list result: %w", a.serverID, err)
	}
	return listing.Resources, nil
}

// ReadResource reads one resource by URI.
func (a *MCPServerAdapter) ReadResource(ctx context.Context, uri string) (map[string]interface{}, error) {
	if err := a.ensureStarted(ctx); err != nil {
		return nil, err
	}
	raw, err := a.roundTrip(ctx, "resources/read", map[string]interface{}{"uri": uri})
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("mcp %s: decode resources/read result: %w", a.serverID, err)
	}
	return out, nil
}

// schemaToParameters flattens a JSON-schema object's top-level
// properties into the executor's parameter list.
func schemaToParameters(schema json.RawMessage) []ToolParameter {
	if len(schema) == 0 {
		return nil
	}
	var decoded struct {
		Properties map[string]struct {
			Type        string      `json:"type"`
			Description string      `json:"description"`
			Default     interface{} `json:"default"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(schema, &decoded); err != nil {
		return nil
	}

	required := make(map[string]bool, len(decoded.Required))
	for _, name := range decoded.Required {
		required[name] = true
	}

	params := make([]ToolParameter, 0, len(decoded.Properties))
	for name, prop := range decoded.Properties {
		params = append(params, ToolParameter{
			Name:        name,
			Type:        prop.Type,
			Description: prop.Description,
			Default:     prop.Default,
			Required:    required[name],
		})
	}
	return params
}
