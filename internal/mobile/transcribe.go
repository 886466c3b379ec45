package mobile

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

	apperrors "github.com/aegishub/aegishub-go/internal/errors"
)

// Transcriber turns an audio clip into text. Tests substitute a fake.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

const transcribeTimeout = 8 * time.Second

// GeminiTranscriber transcribes voice reports through the Gemini API.
type GeminiTranscriber struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewGeminiTranscriber builds the live transcriber.
func NewGeminiTranscriber(apiKey, model, baseURL string) *GeminiTranscriber {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	model = strings.TrimPrefix(model, "gemini:")
	return &GeminiTranscriber{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client:  &http.Client{Timeout: transcribeTimeout},
	}
}

// Transcribe implements Transcriber.
func (t *GeminiTranscriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if t.apiKey == "" {
		return "", apperrors.Upstream("transcribe", "", fmt.Errorf("no api key configured"), 0)
	}
	if len(audio) == 0 {
		return "", apperrors.Validation("transcribe", "", fmt.Errorf("empty audio payload"))
	}
	if mimeType == "" {
		mimeType = "audio/ogg"
	}

	body := map[string]any{
		"contents": []map[string]any{{
			"role": "user",
			"parts": []map[string]any{
				{"text": "Transcribe this emergency voice report verbatim. Reply with the transcript only."},
				{"inline_data": map[string]string{
					"mime_type": mimeType,
					"data":      base64.StdEncoding.EncodeToString(audio),
				}},
			},
		}},
		"generationConfig": map[string]any{"temperature": 0},
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal transcription request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", t.baseURL, t.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("build transcription request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", apperrors.UpstreamTimeout("transcribe", "", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read transcription response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", apperrors.Upstream("transcribe", "",
			fmt.Errorf("gemini returned status %d", resp.StatusCode), resp.StatusCode)
	}

	var parsed struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return "", fmt.Errorf("decode transcription response: %w", err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("transcription returned no candidates")
	}
	return strings.TrimSpace(parsed.Candidates[0].Content.Parts[0].Text), nil
}
