package transcriber

import (
	"context"
	"fmt"
)

type mockTranscriber struct{}

func NewMock() Transcriber {
	return &mockTranscriber{}
}

func (m *mockTranscriber) Transcribe(_ context.Context, audio []byte, mime string) (Result, error) {
	return Result{
		Text:       fmt.Sprintf("[transcript %s length=%d]", mime, len(audio)),
		Confidence: 0,
	}, nil
}
