package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
)

// ErrToolUnknown is returned by Host.CallTool for names absent from the registry.
var ErrToolUnknown = errors.New("tool unknown")

// RegisteredTool ties a tool description to the server that advertised it.
type RegisteredTool struct {
	Server string
	Desc   ToolDescription
}

// Host owns the set of server connections and the merged tool registry. Both
// are populated once by StartHost and read-only afterwards, so dispatch needs
// no locking of its own.
type Host struct {
	clients map[string]*Client
	tools   map[string]RegisteredTool
}

// StartHost spawns every server in specs and builds the registry. Startup is
// best-effort: a server that fails to spawn, or fails its handshake, is logged
// and dropped without aborting the others. Tool names are assumed globally
// unique; on a collision the later spec wins. A host with zero servers and
// zero tools is a valid result.
func StartHost(ctx context.Context, specs []ServerSpec) *Host {
	h := &Host{
		clients: make(map[string]*Client),
		tools:   make(map[string]RegisteredTool),
	}

	for _, spec := range specs {
		client, err := Spawn(spec)
		if err != nil {
			slog.Warn("mcp server spawn failed", "server", spec.Name, "error", err)
			continue
		}
		if err := client.Initialize(ctx); err != nil {
			slog.Warn("mcp initialize failed", "server", spec.Name, "error", err)
			_ = client.Close()
			continue
		}
		h.clients[spec.Name] = client

		list, err := client.ListTools(ctx)
		if err != nil {
			slog.Warn("mcp tools/list failed", "server", spec.Name, "error", err)
			continue
		}
		for _, desc := range list {
			h.tools[desc.Name] = RegisteredTool{Server: spec.Name, Desc: desc}
		}
	}

	return h
}

// CallTool routes an invocation to the server owning name.
func (h *Host) CallTool(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	reg, ok := h.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrToolUnknown, name)
	}
	client, ok := h.clients[reg.Server]
	if !ok {
		return nil, fmt.Errorf("server connection missing for %q", reg.Server)
	}
	return client.CallTool(ctx, name, args)
}

// Tools returns a name-sorted snapshot of the registry.
func (h *Host) Tools() []RegisteredTool {
	out := make([]RegisteredTool, 0, len(h.tools))
	for _, reg := range h.tools {
		out = append(out, reg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Desc.Name < out[j].Desc.Name })
	return out
}

// Lookup returns the registered tool for name, if any.
func (h *Host) Lookup(name string) (RegisteredTool, bool) {
	reg, ok := h.tools[name]
	return reg, ok
}

// Close terminates every server process. Individual failures are swallowed;
// tearing down the host never fails the caller.
func (h *Host) Close() {
	for name, client := range h.clients {
		if err := client.Close(); err != nil {
			slog.Debug("mcp server close", "server", name, "error", err)
		}
	}
}
