package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeServer emulates an MCP server on in-memory pipes. The handler receives
// each decoded request and returns the raw response line to write; returning
// "" closes the server's output instead.
type fakeServer struct {
	mu       sync.Mutex
	requests []rpcRequest
}

func (s *fakeServer) seen() []rpcRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]rpcRequest(nil), s.requests...)
}

func newPipeClient(t *testing.T, handler func(req rpcRequest) string) (*Client, *fakeServer) {
	t.Helper()

	stdinR, stdinW := io.Pipe()   // client writes requests, server reads
	stdoutR, stdoutW := io.Pipe() // server writes responses, client reads

	srv := &fakeServer{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer stdoutW.Close()
		scanner := bufio.NewScanner(stdinR)
		for scanner.Scan() {
			var req rpcRequest
			if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
				return
			}
			srv.mu.Lock()
			srv.requests = append(srv.requests, req)
			srv.mu.Unlock()

			line := handler(req)
			if line == "" {
				return
			}
			if _, err := io.WriteString(stdoutW, line+"\n"); err != nil {
				return
			}
		}
	}()

	client := &Client{
		name:   "test",
		stdin:  stdinW,
		stdout: bufio.NewReader(stdoutR),
	}
	t.Cleanup(func() {
		_ = client.Close()
		_ = stdinR.Close()
		_ = stdoutR.Close()
		<-done
	})
	return client, srv
}

func resultLine(id uint64, result string) string {
	return fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":%s}`, id, result)
}

func TestInitialize(t *testing.T) {
	client, srv := newPipeClient(t, func(req rpcRequest) string {
		return resultLine(req.ID, `{"protocolVersion":"2024-11-05","serverInfo":{"name":"fake"}}`)
	})

	require.NoError(t, client.Initialize(context.Background()))

	reqs := srv.seen()
	require.Len(t, reqs, 1)
	assert.Equal(t, "initialize", reqs[0].Method)
	assert.Equal(t, uint64(1), reqs[0].ID)

	params, err := json.Marshal(reqs[0].Params)
	require.NoError(t, err)
	assert.Contains(t, string(params), protocolVersion)
	assert.Contains(t, string(params), "mcpchat")
}

func TestRequestIDsStrictlyIncrease(t *testing.T) {
	client, srv := newPipeClient(t, func(req rpcRequest) string {
		return resultLine(req.ID, `{"tools":[]}`)
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := client.ListTools(ctx)
		require.NoError(t, err)
	}

	reqs := srv.seen()
	require.Len(t, reqs, 3)
	for i, req := range reqs {
		assert.Equal(t, uint64(i+1), req.ID)
	}
}

func TestListTools_Normalization(t *testing.T) {
	// One response per line: the transport is line-delimited, so the canned
	// JSON must not contain newlines.
	client, _ := newPipeClient(t, func(req rpcRequest) string {
		return resultLine(req.ID, `{"tools":[{"name":"get_weather","description":"Weather lookup","inputSchema":{"type":"object","properties":{"city":{"type":"string"}}}},{"name":"bare_tool"}]}`)
	})

	tools, err := client.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 2)

	assert.Equal(t, "get_weather", tools[0].Name)
	assert.Equal(t, "Weather lookup", tools[0].Description)

	assert.Equal(t, "bare_tool", tools[1].Name)
	assert.Empty(t, tools[1].Description)
	assert.JSONEq(t, `{"type":"object"}`, string(tools[1].InputSchema))
}

func TestListTools_MissingToolsField(t *testing.T) {
	client, _ := newPipeClient(t, func(req rpcRequest) string {
		return resultLine(req.ID, `{}`)
	})

	_, err := client.ListTools(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no tools field")
}

func TestCallTool_RawResult(t *testing.T) {
	client, srv := newPipeClient(t, func(req rpcRequest) string {
		return resultLine(req.ID, `{"content":[{"type":"text","text":"42"}]}`)
	})

	result, err := client.CallTool(context.Background(), "get_answer", json.RawMessage(`{"q":"life"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"content":[{"type":"text","text":"42"}]}`, string(result))

	reqs := srv.seen()
	require.Len(t, reqs, 1)
	assert.Equal(t, "tools/call", reqs[0].Method)
	params, _ := json.Marshal(reqs[0].Params)
	assert.JSONEq(t, `{"name":"get_answer","arguments":{"q":"life"}}`, string(params))
}

func TestCallTool_ServerErrorKeepsConnectionUsable(t *testing.T) {
	calls := 0
	client, _ := newPipeClient(t, func(req rpcRequest) string {
		calls++
		if calls == 1 {
			return fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"error":{"code":-32602,"message":"bad args"}}`, req.ID)
		}
		return resultLine(req.ID, `{"ok":true}`)
	})
	ctx := context.Background()

	_, err := client.CallTool(ctx, "flaky", json.RawMessage(`{}`))
	require.Error(t, err)
	var serverErr *ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Contains(t, string(serverErr.Data), "bad args")

	// The error envelope failed the call, not the connection.
	result, err := client.CallTool(ctx, "flaky", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(result))
}

func TestCallTool_ClosedStdoutIsTransportError(t *testing.T) {
	client, _ := newPipeClient(t, func(req rpcRequest) string {
		return "" // close output without responding
	})

	_, err := client.CallTool(context.Background(), "gone", json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed stdout")
}

func TestCallTool_MalformedResponseLine(t *testing.T) {
	client, _ := newPipeClient(t, func(req rpcRequest) string {
		return "this is not json"
	})

	_, err := client.CallTool(context.Background(), "noisy", json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON-RPC")
	assert.False(t, errors.Is(err, io.EOF))
}
