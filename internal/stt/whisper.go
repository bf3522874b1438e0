// Package stt transcribes caller utterances through an OpenAI-compatible
// audio transcription endpoint.
package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// Client calls the transcription API over HTTP.
type Client struct {
	HTTPClient *http.Client
	APIKey     string
	BaseURL    string
	Model      string
	Language   string
}

type verboseResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
}

// NewClient creates a transcription client.
func NewClient(apiKey, baseURL, model, language string) *Client {
	if model == "" {
		model = "whisper-1"
	}
	return &Client{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		APIKey:     apiKey,
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		Model:      model,
		Language:   language,
	}
}

// Transcribe uploads a 16 kHz mono WAV and returns its text. Temperature is
// pinned to 0 and the verbose response format is requested so a confident
// empty result can be told apart from a transport failure.
func (c *Client) Transcribe(ctx context.Context, wav []byte) (string, error) {
	if c.APIKey == "" {
		return "", fmt.Errorf("stt api key missing")
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(wav); err != nil {
		return "", err
	}
	_ = writer.WriteField("model", c.Model)
	_ = writer.WriteField("temperature", "0")
	_ = writer.WriteField("response_format", "verbose_json")
	if c.Language != "" {
		_ = writer.WriteField("language", c.Language)
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	endpoint := c.BaseURL + "/v1/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("stt error: status=%d body=%s", resp.StatusCode, string(b))
	}

	var vr verboseResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return "", err
	}
	return strings.TrimSpace(vr.Text), nil
}
