// Package llm is a generic OpenAI-compatible chat-completions client used by
// both logical model roles named in §6: the dreamer and the coder, each
// independently configured (own base URL, model id, temperature, token
// limit, and API key).
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Message is one chat-completions turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage mirrors the OpenAI-compatible usage block.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the parsed result of a chat-completions call: the first
// choice's content, its finish reason, and token usage.
type Response struct {
	Content      string
	FinishReason string
	Usage        Usage
	Model        string
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatChoice struct {
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type chatResponse struct {
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   Usage        `json:"usage"`
	Error   *apiError    `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Client is a minimal OpenAI-compatible chat-completions HTTP client
// (grounded on itsneelabh-gomind's BaseClient-style provider client, stripped
// of its distributed-tracing scaffolding): one apiKey, one baseURL, and one
// *http.Client with a generous per-call timeout for reasoning-grade models.
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
	logger      *slog.Logger
}

// Config carries the per-role settings a Client needs.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// NewClient constructs a Client for one logical role (dreamer or coder). A
// zero Timeout defaults to 180s, matching the reasoning-model grace period
// the teacher's grounding source uses.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 180 * time.Second
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &Client{
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logger,
	}
}

// Complete sends a single system+user chat-completions request and returns
// the first choice's content, finish reason, and usage.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (*Response, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("llm: API key not configured for model %s", c.model)
	}

	var messages []Message
	if systemPrompt != "" {
		messages = append(messages, Message{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, Message{Role: "user", Content: userPrompt})

	reqBody := chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("llm: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("llm: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm: request to %s failed: %w", c.model, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("llm: read response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("llm: parse response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := string(body)
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return nil, fmt.Errorf("llm: %s returned status %d: %s", c.model, resp.StatusCode, msg)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("llm: %s returned no choices", c.model)
	}

	if c.logger != nil {
		c.logger.Debug("llm call complete",
			"model", c.model,
			"duration", time.Since(start),
			"prompt_tokens", parsed.Usage.PromptTokens,
			"completion_tokens", parsed.Usage.CompletionTokens,
		)
	}

	choice := parsed.Choices[0]
	return &Response{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage:        parsed.Usage,
		Model:        parsed.Model,
	}, nil
}

// Model reports the configured model id, used for journal/cost-ledger
// attribution.
func (c *Client) Model() string { return c.model }
