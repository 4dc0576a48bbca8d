// Package llm implements ports.ReasoningClient against OpenAI-compatible
// chat-completions endpoints (OpenAI, LM Studio, Ollama, vLLM).
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/conduit/pkg/ports"
)

// DefaultBaseURL is used when no endpoint is configured.
const DefaultBaseURL = "http://localhost:1234/v1"

// maxErrorBody caps how much of a failed response is quoted in the error.
const maxErrorBody = 512

// DefaultSystemPrompt frames every agent call.
const DefaultSystemPrompt = "You are a careful machine learning engineer. Answer with a single JSON object and nothing else."

// Config configures the client.
type Config struct {
	// BaseURL lists one or more endpoints separated by commas, semicolons or
	// spaces. They are tried in order until one answers.
	BaseURL string
	Model   string
	APIKey  string
	// Timeout bounds one HTTP exchange. Defaults to 120s.
	Timeout     time.Duration
	Temperature float32
	// JSONMode asks the server for a JSON object response format.
	JSONMode bool
	System   string
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string    `json:"model"`
	Messages       []message `json:"messages"`
	Temperature    float32   `json:"temperature,omitempty"`
	ResponseFormat any       `json:"response_format,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message      message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
}

// Client is an OpenAI-compatible chat client.
type Client struct {
	baseURLs    []string
	model       string
	apiKey      string
	system      string
	temperature float32
	jsonMode    bool
	http        *http.Client
}

var _ ports.ReasoningClient = (*Client)(nil)

// New creates a client.
func New(cfg Config) *Client {
	baseURLs := splitBaseURLs(cfg.BaseURL)
	if len(baseURLs) == 0 {
		baseURLs = []string{normalizeBaseURL(DefaultBaseURL)}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	system := cfg.System
	if system == "" {
		system = DefaultSystemPrompt
	}
	return &Client{
		baseURLs:    baseURLs,
		model:       cfg.Model,
		apiKey:      cfg.APIKey,
		system:      system,
		temperature: cfg.Temperature,
		jsonMode:    cfg.JSONMode,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				ForceAttemptHTTP2:     true,
				MaxIdleConns:          100,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
	}
}

// BaseURLs returns the normalized endpoints in the order they are tried.
func (c *Client) BaseURLs() []string {
	return append([]string(nil), c.baseURLs...)
}

// InvokeModel sends the prompt as a single user message and returns the reply text.
func (c *Client) InvokeModel(ctx context.Context, prompt string) (string, error) {
	if c == nil {
		return "", fmt.Errorf("llm client is nil")
	}
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("llm call requires a prompt")
	}
	req := chatRequest{
		Model: c.model,
		Messages: []message{
			{Role: "system", Content: c.system},
			{Role: "user", Content: prompt},
		},
		Temperature: c.temperature,
	}
	if c.jsonMode {
		req.ResponseFormat = map[string]string{"type": "json_object"}
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	failures := make([]string, 0, len(c.baseURLs))
	for _, baseURL := range c.baseURLs {
		text, err := c.chatAtEndpoint(ctx, baseURL+"/chat/completions", payload)
		if err == nil {
			return text, nil
		}
		if ctx.Err() != nil {
			return "", fmt.Errorf("llm request to %s: %w", baseURL, ctx.Err())
		}
		failures = append(failures, fmt.Sprintf("%s (%v)", baseURL, err))
	}
	return "", fmt.Errorf("llm request failed across endpoints: %s", strings.Join(failures, " | "))
}

func normalizeBaseURL(baseURL string) string {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return trimmed
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	trimmed = strings.TrimRight(trimmed, "/")
	if strings.HasSuffix(trimmed, "/v1") {
		return trimmed
	}
	return trimmed + "/v1"
}

func splitBaseURLs(raw string) []string {
	tokens := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n' || r == '\r' || r == '\t' || r == ' '
	})
	out := make([]string, 0, len(tokens))
	seen := map[string]struct{}{}
	for _, token := range tokens {
		normalized := normalizeBaseURL(token)
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out
}

func (c *Client) chatAtEndpoint(ctx context.Context, endpoint string, payload []byte) (string, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		request.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(request)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if msg := strings.TrimSpace(string(body)); msg != "" {
			return "", fmt.Errorf("status %s: %s", resp.Status, msg)
		}
		return "", fmt.Errorf("status %s", resp.Status)
	}

	var decoded chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("response missing choices")
	}
	content := decoded.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("response empty")
	}
	return content, nil
}
