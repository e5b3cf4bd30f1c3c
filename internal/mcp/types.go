// Package mcp speaks the Model Context Protocol to tool servers over their
// standard streams. It provides the per-server Client and the Host that
// aggregates every server's tools into one registry.
package mcp

import "encoding/json"

// protocolVersion is the MCP revision sent during the initialize handshake.
const protocolVersion = "2024-11-05"

// ServerSpec describes how to launch one MCP server process.
type ServerSpec struct {
	Name    string            `toml:"name" json:"name"`
	Command string            `toml:"command" json:"command"`
	Args    []string          `toml:"args" json:"args,omitempty"`
	Env     map[string]string `toml:"env" json:"env,omitempty"`
	Dir     string            `toml:"dir" json:"dir,omitempty"`
}

// ToolDescription is a tool advertised by a server via tools/list.
type ToolDescription struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// rpcRequest is one JSON-RPC 2.0 request line.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// rpcResponse is one JSON-RPC 2.0 response line. Result and Error are kept
// raw; this layer never interprets tool results.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

type initializeParams struct {
	ProtocolVersion string     `json:"protocolVersion"`
	ClientInfo      clientInfo `json:"clientInfo"`
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type callToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type listToolsResult struct {
	Tools []ToolDescription `json:"tools"`
}
