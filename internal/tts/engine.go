// Package tts synthesizes agent speech. Two engines are supported, named for
// vendor compatibility: "openai" (fixed voice identifiers) and "google"
// (language-coded voices). Both return MP3-family audio which is re-encoded
// to 8 kHz mono mu-law by an external transcoder.
package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Engine names.
const (
	EngineOpenAI = "openai"
	EngineGoogle = "google"
)

// Synthesizer produces mu-law audio from text.
type Synthesizer struct {
	httpClient *http.Client
	transcoder *Transcoder

	openAIAPIKey  string
	openAIBaseURL string
	googleAPIKey  string
}

// NewSynthesizer creates a synthesizer.
func NewSynthesizer(openAIAPIKey, openAIBaseURL, googleAPIKey string, transcoder *Transcoder) *Synthesizer {
	return &Synthesizer{
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		transcoder:    transcoder,
		openAIAPIKey:  openAIAPIKey,
		openAIBaseURL: strings.TrimSuffix(openAIBaseURL, "/"),
		googleAPIKey:  googleAPIKey,
	}
}

// SynthesizeULaw renders text with the requested engine/voice/speed and
// returns raw 8 kHz mono mu-law bytes.
func (s *Synthesizer) SynthesizeULaw(ctx context.Context, engine, voice string, speed float64, text string) ([]byte, error) {
	var mp3 []byte
	var err error
	switch engine {
	case EngineGoogle:
		mp3, err = s.googleSynthesize(ctx, voice, speed, text)
	case EngineOpenAI, "":
		mp3, err = s.openAISynthesize(ctx, voice, speed, text)
	default:
		return nil, fmt.Errorf("unknown tts engine %q", engine)
	}
	if err != nil {
		return nil, err
	}
	return s.transcoder.MP3ToULaw(ctx, mp3)
}

type openAISpeechRequest struct {
	Model string  `json:"model"`
	Input string  `json:"input"`
	Voice string  `json:"voice"`
	Speed float64 `json:"speed,omitempty"`
}

func (s *Synthesizer) openAISynthesize(ctx context.Context, voice string, speed float64, text string) ([]byte, error) {
	if s.openAIAPIKey == "" {
		return nil, fmt.Errorf("openai tts api key missing")
	}

	reqBody, _ := json.Marshal(openAISpeechRequest{
		Model: "tts-1",
		Input: text,
		Voice: voice,
		Speed: speed,
	})
	endpoint := s.openAIBaseURL + "/v1/audio/speech"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.openAIAPIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("openai tts error: status=%d body=%s", resp.StatusCode, string(b))
	}
	return io.ReadAll(resp.Body)
}

type googleSynthesizeRequest struct {
	Input struct {
		Text string `json:"text"`
	} `json:"input"`
	Voice struct {
		LanguageCode string `json:"languageCode"`
		Name         string `json:"name"`
	} `json:"voice"`
	AudioConfig struct {
		AudioEncoding string  `json:"audioEncoding"`
		SpeakingRate  float64 `json:"speakingRate,omitempty"`
	} `json:"audioConfig"`
}

type googleSynthesizeResponse struct {
	AudioContent string `json:"audioContent"`
}

func (s *Synthesizer) googleSynthesize(ctx context.Context, voice string, speed float64, text string) ([]byte, error) {
	if s.googleAPIKey == "" {
		return nil, fmt.Errorf("google tts api key missing")
	}

	var payload googleSynthesizeRequest
	payload.Input.Text = text
	payload.Voice.LanguageCode = languageCodeOf(voice)
	payload.Voice.Name = voice
	payload.AudioConfig.AudioEncoding = "MP3"
	payload.AudioConfig.SpeakingRate = speed

	reqBody, _ := json.Marshal(payload)
	endpoint := "https://texttospeech.googleapis.com/v1/text:synthesize?key=" + s.googleAPIKey
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("google tts error: status=%d body=%s", resp.StatusCode, string(b))
	}

	var gr googleSynthesizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(gr.AudioContent)
}

// languageCodeOf derives the language code from a language-coded voice name,
// e.g. "en-US-Neural2-C" -> "en-US".
func languageCodeOf(voice string) string {
	parts := strings.SplitN(voice, "-", 3)
	if len(parts) >= 2 {
		return parts[0] + "-" + parts[1]
	}
	return "en-US"
}
