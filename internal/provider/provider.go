// ABOUTME: Capability provider client executing tasks against an LLM HTTP API
// ABOUTME: OpenAI-compatible chat completions with usage and duration capture

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Result is the structured outcome of one task execution.
type Result struct {
	OutputText      string
	Model           string
	InputTokens     int64
	OutputTokens    int64
	CostUSD         float64
	DurationSeconds float64
}

// Error is a provider-side failure: the API answered with a non-2xx
// status or an unusable body.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider: status %d: %s", e.StatusCode, e.Message)
	}
	return "provider: " + e.Message
}

// Options configures the provider client.
type Options struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration

	// USD per million tokens; zero disables cost estimation.
	InputCostPerMTok  float64
	OutputCostPerMTok float64
}

// Client executes task descriptions against an OpenAI-compatible
// chat completions endpoint. Stateless and safe for concurrent use.
type Client struct {
	opts Options
	http *http.Client
}

// NewClient creates a provider client.
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Client{
		opts: opts,
		http: &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

// Execute runs one task description against the provider. The context
// map is flattened into the prompt as sorted key/value lines. Honors
// ctx cancellation and the client timeout, whichever fires first.
func (c *Client) Execute(ctx context.Context, description string, contextMap map[string]string) (*Result, error) {
	reqBody := chatRequest{
		Model: c.opts.Model,
		Messages: []chatMessage{
			{
				Role:    "system",
				Content: "You are a task execution agent. Complete the task described by the user and reply with the result.",
			},
			{
				Role:    "user",
				Content: buildPrompt(description, contextMap),
			},
		},
	}

	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("encoding provider request: %w", err)
	}

	url := strings.TrimRight(c.opts.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("building provider request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &Error{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(excerpt))}
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &Error{Message: fmt.Sprintf("decoding response: %v", err)}
	}
	if len(parsed.Choices) == 0 {
		return nil, &Error{Message: "response contained no choices"}
	}

	model := parsed.Model
	if model == "" {
		model = c.opts.Model
	}

	result := &Result{
		OutputText:      parsed.Choices[0].Message.Content,
		Model:           model,
		InputTokens:     parsed.Usage.PromptTokens,
		OutputTokens:    parsed.Usage.CompletionTokens,
		DurationSeconds: time.Since(start).Seconds(),
	}
	result.CostUSD = c.estimateCost(result.InputTokens, result.OutputTokens)
	return result, nil
}

func (c *Client) estimateCost(inputTokens, outputTokens int64) float64 {
	const mtok = 1_000_000
	return float64(inputTokens)/mtok*c.opts.InputCostPerMTok +
		float64(outputTokens)/mtok*c.opts.OutputCostPerMTok
}

// buildPrompt flattens the context map into the prompt, sorted by key
// so identical inputs produce identical prompts.
func buildPrompt(description string, contextMap map[string]string) string {
	if len(contextMap) == 0 {
		return description
	}

	keys := make([]string, 0, len(contextMap))
	for k := range contextMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(description)
	b.WriteString("\n\nContext:\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, contextMap[k])
	}
	return b.String()
}
