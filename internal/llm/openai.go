// Package llm wraps an OpenAI-compatible chat completions endpoint for the
// conversational model and the intent classifier.
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

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options tunes a single completion call.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
	// JSONObject forces the strict JSON response format, used by the
	// classifier.
	JSONObject bool
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionsRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatChoice struct {
	Index        int     `json:"index"`
	FinishReason string  `json:"finish_reason"`
	Message      Message `json:"message"`
}

type chatCompletionsResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
}

// Client calls the chat API over HTTP.
type Client struct {
	HTTPClient *http.Client
	APIKey     string
	BaseURL    string
}

// NewClient creates a chat client.
func NewClient(apiKey, baseURL string) *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: 20 * time.Second},
		APIKey:     apiKey,
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
	}
}

// Complete runs one chat completion and returns the assistant text.
func (c *Client) Complete(ctx context.Context, messages []Message, opts Options) (string, error) {
	if c.APIKey == "" {
		return "", fmt.Errorf("llm api key missing")
	}

	reqPayload := chatCompletionsRequest{
		Model:       opts.Model,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	if opts.JSONObject {
		reqPayload.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	reqBody, _ := json.Marshal(reqPayload)
	endpoint := c.BaseURL + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("llm error: status=%d body=%s", resp.StatusCode, string(b))
	}

	var cr chatCompletionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", err
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("llm: empty choices")
	}
	return strings.TrimSpace(cr.Choices[0].Message.Content), nil
}
