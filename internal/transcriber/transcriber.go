// Package transcriber turns normalized audio into text through a
// provider chosen by configuration.
package transcriber

import (
	"context"
	"fmt"

	"github.com/scribeworks/scribe-core/internal/config"
)

// Result captures one final transcription outcome. Confidence is 0
// when the provider does not report one.
type Result struct {
	Text       string
	Confidence float64
}

// Transcriber abstracts speech-to-text backends.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mime string) (Result, error)
}

// New selects a provider implementation by its configured identifier.
func New(cfg config.TranscriberConfig) (Transcriber, error) {
	switch cfg.Provider {
	case "mock":
		return NewMock(), nil
	case "whisper":
		return NewWhisperClient(cfg), nil
	case "exec":
		return NewExecTranscriber(cfg)
	default:
		return nil, fmt.Errorf("unknown transcriber provider %q", cfg.Provider)
	}
}
