package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to any OpenAI-compatible chat completions API.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	client      *http.Client
}

// New creates a completion client for the given endpoint and model.
func New(baseURL, apiKey, model string, maxTokens int, temperature float64) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		client:      &http.Client{Timeout: 60 * time.Second},
	}
}

// ChatWithTools sends messages plus the tool manifest and returns the first
// choice's message and finish reason. finish_reason is "tool_calls" when the
// model wants tools invoked, "stop" when it has a final reply.
func (c *Client) ChatWithTools(ctx context.Context, messages []Message, tools []ToolDef) (Message, string, error) {
	reqBody := chatRequest{
		Model:       c.model,
		Messages:    messages,
		Tools:       tools,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}

	resp, err := c.post(ctx, reqBody)
	if err != nil {
		return Message{}, "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Message{}, "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != 200 {
		return Message{}, "", fmt.Errorf("LLM returned %d: %s", resp.StatusCode, truncateStr(string(respBody), 200))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return Message{}, "", fmt.Errorf("parse response: %w", err)
	}
	if chatResp.Error != nil {
		return Message{}, "", fmt.Errorf("LLM error: %s", chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return Message{}, "", fmt.Errorf("LLM returned empty choices")
	}

	choice := chatResp.Choices[0]
	return choice.Message, choice.FinishReason, nil
}

// ChatStream sends messages with streaming enabled, calls emit for each
// content fragment as it arrives, and returns the accumulated reply.
func (c *Client) ChatStream(ctx context.Context, messages []Message, emit func(string)) (string, error) {
	reqBody := chatRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Stream:      true,
	}

	resp, err := c.post(ctx, reqBody)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("LLM returned %d: %s", resp.StatusCode, truncateStr(string(respBody), 200))
	}

	return decodeStream(resp.Body, emit)
}

func (c *Client) post(ctx context.Context, reqBody chatRequest) (*http.Response, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	url := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func truncateStr(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
