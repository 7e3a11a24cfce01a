// Package openrouter talks to the OpenRouter chat-completions and model
// listing endpoints and wraps them in a retrying gateway.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	ctxpkg "github.com/stupiduntilnot/freepsy/internal/context"
)

const (
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	maxResponseBytes = 10 << 20
)

var (
	// ErrMalformedResponse is returned when a 200 body lacks the expected fields.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrRateLimited is wrapped by StatusError values for HTTP 429.
	ErrRateLimited = errors.New("rate limited")
)

// StatusError is a non-200 answer from OpenRouter.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("openrouter non-success status=%d body=%s", e.Status, e.Body)
}

// Is makes errors.Is(err, ErrRateLimited) true for HTTP 429.
func (e *StatusError) Is(target error) bool {
	return target == ErrRateLimited && e.Status == http.StatusTooManyRequests
}

// Pricing holds per-token prices as decimal strings.
type Pricing struct {
	Prompt     string `json:"prompt"`
	Completion string `json:"completion"`
}

// Architecture describes the model's input/output modality, e.g. "text->text".
type Architecture struct {
	Modality string `json:"modality"`
}

// ModelInfo is one entry of the model listing.
type ModelInfo struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Pricing      *Pricing      `json:"pricing"`
	Architecture *Architecture `json:"architecture"`
}

// ChatRequest is the body of a chat completion call.
type ChatRequest struct {
	Model            string           `json:"model"`
	Messages         []ctxpkg.Message `json:"messages"`
	IncludeReasoning bool             `json:"include_reasoning"`
	MaxTokens        int              `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message *struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type modelsResponse struct {
	Data []ModelInfo `json:"data"`
}

// Client is a minimal OpenRouter client. Deadlines come from the caller's
// context.
type Client struct {
	apiKey     string
	baseURL    string
	siteURL    string
	siteName   string
	httpClient *http.Client
}

// NewClient creates an OpenRouter client. An empty baseURL selects
// DefaultBaseURL.
func NewClient(apiKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

// WithSite sets the attribution headers OpenRouter shows in its dashboard.
func (c *Client) WithSite(url, name string) *Client {
	c.siteURL = url
	c.siteName = name
	return c
}

// ChatCompletion sends one completion request and returns the raw content of
// the first choice. A null content yields "" with no error.
func (c *Client) ChatCompletion(ctx context.Context, reqBody ChatRequest) (string, error) {
	body, err := c.post(ctx, "/chat/completions", reqBody)
	if err != nil {
		return "", err
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("%w: %s", ErrMalformedResponse, truncate(string(body), 400))
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message == nil || parsed.Choices[0].Message.Content == nil {
		return "", fmt.Errorf("%w: no choices[0].message.content in %s", ErrMalformedResponse, truncate(string(body), 400))
	}
	raw := parsed.Choices[0].Message.Content
	if string(raw) == "null" {
		return "", nil
	}
	var content string
	if err := json.Unmarshal(raw, &content); err != nil {
		return "", fmt.Errorf("%w: content is not a string", ErrMalformedResponse)
	}
	return content, nil
}

// Ping checks that model accepts a system+user pair by requesting a single
// token. Any 200 answer counts as success.
func (c *Client) Ping(ctx context.Context, model string) error {
	_, err := c.post(ctx, "/chat/completions", ChatRequest{
		Model: model,
		Messages: []ctxpkg.Message{
			{Role: ctxpkg.RoleSystem, Content: "Reply with OK."},
			{Role: ctxpkg.RoleUser, Content: "ping"},
		},
		MaxTokens: 1,
	})
	return err
}

// ListModels fetches every model OpenRouter offers.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create models request: %w", err)
	}
	c.setHeaders(req)
	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	var parsed modelsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return parsed.Data, nil
}

func (c *Client) post(ctx context.Context, path string, reqBody any) ([]byte, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal openrouter request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create openrouter request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setHeaders(req)
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openrouter request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed reading openrouter response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Status: resp.StatusCode, Body: truncate(string(body), 400)}
	}
	return body, nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.siteURL != "" {
		req.Header.Set("HTTP-Referer", c.siteURL)
	}
	if c.siteName != "" {
		req.Header.Set("X-Title", c.siteName)
	}
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
