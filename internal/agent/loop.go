// Package agent drives the multi-turn loop between the completion API and
// the MCP tool host: send conversation + tool manifest, dispatch whatever
// tool calls come back, feed the results in, repeat until a plain reply.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/toolbridge/mcpchat/internal/llm"
	"github.com/toolbridge/mcpchat/internal/mcp"
)

const maxToolRounds = 8 // max model→tool→model cycles per Run

// ToolUse records a single tool invocation during the loop.
type ToolUse struct {
	Name    string // tool name, e.g. "get_weather"
	Summary string // first 80 chars of the result, for display
}

// Provider is the completion API surface the loop needs.
type Provider interface {
	ChatWithTools(ctx context.Context, messages []llm.Message, tools []llm.ToolDef) (llm.Message, string, error)
}

// ToolHost is the dispatch surface the loop needs. Implemented by *mcp.Host.
type ToolHost interface {
	Tools() []mcp.RegisteredTool
	Lookup(name string) (mcp.RegisteredTool, bool)
	CallTool(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error)
}

// Run drives one user turn to completion. It returns the conversation with
// every turn the exchange produced appended: the assistant's tool-call
// messages, the tool results, and finally the plain reply, which is the last
// message. Tool failures never abort the loop; they become tool-result
// content the model sees on the next round. On error the caller should
// discard its just-appended user turn and keep its prior conversation.
func Run(ctx context.Context, provider Provider, host ToolHost, messages []llm.Message) ([]llm.Message, []ToolUse, error) {
	manifest := buildManifest(host.Tools())

	// Work on a copy so a failed turn leaves the caller's slice untouched.
	msgs := make([]llm.Message, len(messages))
	copy(msgs, messages)

	var used []ToolUse
	schemas := make(map[string]*jsonschema.Schema)

	for round := 0; round < maxToolRounds; round++ {
		reply, finishReason, err := provider.ChatWithTools(ctx, msgs, manifest)
		if err != nil {
			return nil, used, err
		}

		// A final answer. Append it and stop.
		if finishReason != "tool_calls" || len(reply.ToolCalls) == 0 {
			return append(msgs, reply), used, nil
		}

		// A synthesized id must land in the assistant turn too, or the tool
		// turn's correlation id would reference no call on the next round.
		for i := range reply.ToolCalls {
			if reply.ToolCalls[i].ID == "" {
				reply.ToolCalls[i].ID = uuid.NewString()
			}
		}

		// Append the assistant's "call these tools" message verbatim, raw
		// requests included, then execute each call in listed order.
		msgs = append(msgs, reply)
		slog.Debug("tool round", "round", round+1, "calls", len(reply.ToolCalls))
		for _, call := range reply.ToolCalls {
			result := dispatch(ctx, host, schemas, call)
			used = append(used, ToolUse{Name: call.Function.Name, Summary: truncate80(result)})
			msgs = append(msgs, llm.Message{
				Role:       "tool",
				ToolCallID: call.ID,
				Content:    result,
			})
		}
	}

	return nil, used, fmt.Errorf("tool loop exceeded %d rounds", maxToolRounds)
}

// buildManifest converts the registry snapshot into the wire-format tool list.
func buildManifest(tools []mcp.RegisteredTool) []llm.ToolDef {
	if len(tools) == 0 {
		return nil
	}
	defs := make([]llm.ToolDef, len(tools))
	for i, reg := range tools {
		defs[i] = llm.ToolDef{
			Type: "function",
			Function: llm.FunctionDef{
				Name:        reg.Desc.Name,
				Description: reg.Desc.Description,
				Parameters:  reg.Desc.InputSchema,
			},
		}
	}
	return defs
}

// dispatch executes one tool call and renders its outcome as tool-result
// content. Every failure path returns a synthetic error payload instead of
// an error: the model, not the caller, handles bad invocations.
func dispatch(ctx context.Context, host ToolHost, schemas map[string]*jsonschema.Schema, call llm.ToolCall) string {
	name := call.Function.Name
	args := parseArgs(call.Function.Arguments)

	if err := validateArgs(host, schemas, name, args); err != nil {
		slog.Debug("tool arguments rejected", "tool", name, "error", err)
		return errorPayload(err)
	}

	result, err := host.CallTool(ctx, name, args)
	if err != nil {
		slog.Debug("tool call failed", "tool", name, "error", err)
		return errorPayload(err)
	}
	return string(result)
}

// parseArgs interprets the model's argument text. Text that is not valid JSON
// is passed through as a single field rather than failing the turn.
func parseArgs(text string) json.RawMessage {
	if strings.TrimSpace(text) == "" {
		return json.RawMessage(`{}`)
	}
	if json.Valid([]byte(text)) {
		return json.RawMessage(text)
	}
	wrapped, _ := json.Marshal(map[string]string{"_raw": text})
	return wrapped
}

// validateArgs checks args against the tool's discovered input schema. A
// schema that fails to compile is skipped; the provider stays authoritative
// for its own contract.
func validateArgs(host ToolHost, schemas map[string]*jsonschema.Schema, name string, args json.RawMessage) error {
	sch, cached := schemas[name]
	if !cached {
		reg, ok := host.Lookup(name)
		if !ok {
			return nil // unknown tool: let CallTool produce the error
		}
		sch = compileSchema(reg.Desc.InputSchema)
		schemas[name] = sch
	}
	if sch == nil {
		return nil
	}

	value, err := jsonschema.UnmarshalJSON(bytes.NewReader(args))
	if err != nil {
		return fmt.Errorf("arguments for %q: %w", name, err)
	}
	if err := sch.Validate(value); err != nil {
		return fmt.Errorf("arguments for %q: %w", name, err)
	}
	return nil
}

// compileSchema compiles a discovered input schema, or nil if it does not compile.
func compileSchema(raw json.RawMessage) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("tool.json", doc); err != nil {
		return nil
	}
	sch, err := c.Compile("tool.json")
	if err != nil {
		return nil
	}
	return sch
}

func errorPayload(err error) string {
	payload, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(payload)
}

func truncate80(s string) string {
	// Strip newlines for single-line summary.
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > 80 {
		return s[:80] + "…"
	}
	return s
}
