package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/scribeworks/scribe-core/internal/config"
	"github.com/scribeworks/scribe-core/internal/transcode"
)

// WhisperClient posts audio to an OpenAI-compatible transcription
// endpoint. One complete utterance per request, no streaming.
type WhisperClient struct {
	endpoint string
	apiKey   string
	model    string
	language string
	prompt   string
	client   *http.Client
}

func NewWhisperClient(cfg config.TranscriberConfig) *WhisperClient {
	model := cfg.Model
	if model == "" {
		model = "whisper-1"
	}
	return &WhisperClient{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		model:    model,
		language: cfg.Language,
		prompt:   cfg.Prompt,
		client:   http.DefaultClient,
	}
}

type whisperResponse struct {
	Text string `json:"text"`
}

type whisperError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *WhisperClient) Transcribe(ctx context.Context, audio []byte, mime string) (Result, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)

	part, err := form.CreateFormFile("file", "audio"+transcode.ExtensionForMIME(mime))
	if err != nil {
		return Result{}, fmt.Errorf("build transcription request: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return Result{}, fmt.Errorf("build transcription request: %w", err)
	}
	fields := map[string]string{
		"model":           c.model,
		"response_format": "json",
	}
	if c.language != "" {
		fields["language"] = c.language
	}
	if c.prompt != "" {
		fields["prompt"] = c.prompt
	}
	for key, value := range fields {
		if err := form.WriteField(key, value); err != nil {
			return Result{}, fmt.Errorf("build transcription request: %w", err)
		}
	}
	if err := form.Close(); err != nil {
		return Result{}, fmt.Errorf("build transcription request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return Result{}, fmt.Errorf("build transcription request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("read transcription response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var apiErr whisperError
		if json.Unmarshal(payload, &apiErr) == nil && apiErr.Error.Message != "" {
			return Result{}, fmt.Errorf("transcription API: %s", apiErr.Error.Message)
		}
		return Result{}, fmt.Errorf("transcription API returned status %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var decoded whisperResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return Result{}, fmt.Errorf("decode transcription response: %w", err)
	}
	return Result{Text: decoded.Text}, nil
}
