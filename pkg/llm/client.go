// Package llm implements the OpenAI-compatible chat-completions client
// the ReAct loop drives (spec §4.2, §6 "LLM protocol"). The concrete
// provider endpoint is an external collaborator (spec §1); this package
// owns only the wire contract and the retry/health-check behavior around
// it, grounded on original_source/gtd_coach/agent/core.py's
// _create_lm_studio_client / _check_lm_studio_health and the teacher's
// pkg/httpclient retry client.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/gtdcoach/agent/pkg/httpclient"
)

// Role mirrors state.Role but stays independent of the state package so
// this client has no domain dependency.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is one function-call the model requested.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Message is one chat-completions turn.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolSchema describes one callable tool for function-calling, per §6
// "tool descriptor format".
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request is one chat-completions call.
type Request struct {
	Messages    []Message    `json:"messages"`
	Temperature float64      `json:"temperature"`
	MaxTokens   int          `json:"max_tokens"`
	Tools       []ToolSchema `json:"tools,omitempty"`
	Stream      bool         `json:"stream"`
}

// Usage reports token accounting for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the assembled (post-stream) result of one call.
type Response struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        Usage
}

// StreamChunk is one incremental piece of a streamed response.
type StreamChunk struct {
	DeltaContent string
	ToolCalls    []ToolCall
	Done         bool
	Final        *Response
}

// Config tunes the client's endpoint and retry behavior.
type Config struct {
	BaseURL string
	Model   string
	APIKey  string
	Timeout time.Duration // per-request timeout, default 30s (§5)
}

// Client talks to an OpenAI-compatible chat-completions endpoint.
type Client struct {
	cfg  Config
	http *httpclient.Client
	base *http.Client
}

// New builds a Client. The endpoint's content field MUST be a plain
// string (not a structured array) per §6, which this client guarantees
// by construction: Message.Content is typed string, never []any.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
			httpclient.WithMaxRetries(3),
			httpclient.WithBaseDelay(2*time.Second),
			httpclient.WithMaxDelay(10*time.Second),
			// LM Studio's server mimics the OpenAI API, including its
			// x-ratelimit-* headers when fronted by a proxy.
			httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
			httpclient.WithRetryStrategy(httpclient.DefaultStrategy),
		),
		base: &http.Client{Timeout: cfg.Timeout},
	}
}

// HealthCheck verifies the endpoint is reachable. Failure here is fatal
// per §4.2 ("Health-check failure at client creation → fatal").
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(c.cfg.BaseURL, "/")+"/models", nil)
	if err != nil {
		return fmt.Errorf("llm: build health check request: %w", err)
	}
	c.authenticate(req)
	resp, err := c.base.Do(req)
	if err != nil {
		return fmt.Errorf("llm: health check unreachable at %s: %w", c.cfg.BaseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("llm: health check returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) authenticate(req *http.Request) {
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
}

type wireRequest struct {
	Model       string       `json:"model"`
	Messages    []Message    `json:"messages"`
	Temperature float64      `json:"temperature"`
	MaxTokens   int          `json:"max_tokens"`
	Tools       []wireTool   `json:"tools,omitempty"`
	Stream      bool         `json:"stream"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

func toWire(model string, req Request) wireRequest {
	tools := make([]wireTool, 0, len(req.Tools))
	for _, t := range req.Tools {
		tools = append(tools, wireTool{Type: "function", Function: wireFunction{Name: t.Name, Description: t.Description, Parameters: t.Parameters}})
	}
	return wireRequest{Model: model, Messages: req.Messages, Temperature: req.Temperature, MaxTokens: req.MaxTokens, Tools: tools, Stream: req.Stream}
}

// ChatCompletion issues a non-streaming request with exponential-backoff
// retry on connection/timeout failures (3 attempts, 2-10s bounds per §4.2).
func (c *Client) ChatCompletion(ctx context.Context, req Request) (Response, error) {
	req.Stream = false
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Second
	bo.MaxInterval = 10 * time.Second

	return backoff.Retry(ctx, func() (Response, error) {
		return c.doOnce(ctx, req)
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(3))
}

func (c *Client) doOnce(ctx context.Context, req Request) (Response, error) {
	payload, err := json.Marshal(toWire(c.cfg.Model, req))
	if err != nil {
		return Response{}, backoff.Permanent(fmt.Errorf("llm: marshal request: %w", err))
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Response{}, backoff.Permanent(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authenticate(httpReq)

	resp, err := c.http.Do(httpReq)
	if resp == nil {
		return Response{}, err // connection/timeout failure: retryable
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return Response{}, readErr
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return Response{}, backoff.Permanent(fmt.Errorf("llm: status %d: %s", resp.StatusCode, string(body)))
	}
	if resp.StatusCode >= 500 {
		return Response{}, fmt.Errorf("llm: status %d: %s", resp.StatusCode, string(body))
	}

	var wire wireResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return Response{}, backoff.Permanent(fmt.Errorf("llm: decode response: %w", err))
	}
	return wire.toResponse(), nil
}

type wireResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

func (w wireResponse) toResponse() Response {
	if len(w.Choices) == 0 {
		return Response{Usage: w.Usage}
	}
	choice := w.Choices[0]
	calls := make([]ToolCall, 0, len(choice.Message.ToolCalls))
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		calls = append(calls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}
	return Response{Content: choice.Message.Content, ToolCalls: calls, FinishReason: choice.FinishReason, Usage: w.Usage}
}

// Stream issues a streaming request, yielding deltas over an SSE body
// (the "data: {...}" / "data: [DONE]" convention common to OpenAI-
// compatible servers, including the local inference server this system
// targets).
func (c *Client) Stream(ctx context.Context, req Request, yield func(StreamChunk) bool) error {
	req.Stream = true
	payload, err := json.Marshal(toWire(c.cfg.Model, req))
	if err != nil {
		return fmt.Errorf("llm: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	c.authenticate(httpReq)

	resp, err := c.base.Do(httpReq)
	if err != nil {
		return fmt.Errorf("llm: stream request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("llm: stream status %d: %s", resp.StatusCode, string(body))
	}

	var content strings.Builder
	var toolCalls []ToolCall
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}
		var chunk wireStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		content.WriteString(delta)
		if !yield(StreamChunk{DeltaContent: delta}) {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("llm: stream read: %w", err)
	}
	final := Response{Content: content.String(), ToolCalls: toolCalls}
	yield(StreamChunk{Done: true, Final: &final})
	return nil
}

type wireStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}
