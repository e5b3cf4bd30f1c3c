package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// version is set at build time via ldflags (mirrored from the main package).
var version = "dev"

// SetVersion sets the client version reported during the initialize handshake.
func SetVersion(v string) { version = v }

// ServerError is a JSON-RPC error envelope returned by a server. It fails the
// call that triggered it; the connection stays usable.
type ServerError struct {
	Data json.RawMessage
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error: %s", string(e.Data))
}

// Client owns one MCP server process and its stdio pipes. The transport is a
// single ordered pipe pair with no multiplexing, so calls are strictly
// sequential: send one request, then block for its response. The mutex keeps
// that invariant even if callers dispatch from multiple goroutines.
type Client struct {
	name string
	cmd  *exec.Cmd

	mu     sync.Mutex
	stdin  io.WriteCloser
	stdout *bufio.Reader
	nextID uint64
}

// Spawn launches the server process described by spec with stdin/stdout piped
// and stderr inherited, and returns a Client owning it. The handshake is not
// performed here; call Initialize next.
func Spawn(spec ServerSpec) (*Client, error) {
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = os.Environ()
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start MCP server %q: %w", spec.Name, err)
	}

	return &Client{
		name:   spec.Name,
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
	}, nil
}

// Name returns the server name from the spec this client was spawned from.
func (c *Client) Name() string { return c.name }

// Initialize performs the MCP initialize handshake. The response is only
// required to parse; its content is not validated further.
func (c *Client) Initialize(ctx context.Context) error {
	params := initializeParams{
		ProtocolVersion: protocolVersion,
		ClientInfo:      clientInfo{Name: "mcpchat", Version: version},
	}
	if _, err := c.call(ctx, "initialize", params); err != nil {
		return fmt.Errorf("initialize %s: %w", c.name, err)
	}
	return nil
}

// ListTools asks the server for its tools and normalizes each record: a
// missing description stays empty, a missing schema becomes a minimal open
// object schema.
func (c *Client) ListTools(ctx context.Context) ([]ToolDescription, error) {
	result, err := c.call(ctx, "tools/list", struct{}{})
	if err != nil {
		return nil, fmt.Errorf("tools/list %s: %w", c.name, err)
	}
	var parsed listToolsResult
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, fmt.Errorf("tools/list %s: invalid result: %w", c.name, err)
	}
	if parsed.Tools == nil {
		return nil, fmt.Errorf("tools/list %s: result has no tools field", c.name)
	}
	for i := range parsed.Tools {
		if len(parsed.Tools[i].InputSchema) == 0 {
			parsed.Tools[i].InputSchema = json.RawMessage(`{"type":"object"}`)
		}
	}
	return parsed.Tools, nil
}

// CallTool invokes a tool and returns the raw result field unmodified. The
// result is opaque at this layer; interpretation belongs to the caller.
func (c *Client) CallTool(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	result, err := c.call(ctx, "tools/call", callToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("tools/call %s/%s: %w", c.name, name, err)
	}
	return result, nil
}

// call sends one request line and blocks for the matching response line.
// Matching is positional: with one outstanding request per connection the
// next line is the response.
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	line, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	// One complete value, one newline, one write.
	if _, err := c.stdin.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	raw, err := c.stdout.ReadString('\n')
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("server %s closed stdout", c.name)
		}
		return nil, fmt.Errorf("read response: %w", err)
	}

	var resp rpcResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("invalid JSON-RPC line: %w", err)
	}
	if len(resp.Error) > 0 {
		return nil, &ServerError{Data: resp.Error}
	}
	return resp.Result, nil
}

// Close terminates the server process. Best-effort: the pipe is closed first
// so well-behaved servers exit on EOF, then the process is killed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.stdin.Close()
	if c.cmd == nil {
		return nil
	}
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	return c.cmd.Wait()
}
