package protocol

import "time"

// CaptureState announces recording lifecycle transitions on the bus.
type CaptureState struct {
	SessionID string    `json:"session_id"`
	State     string    `json:"state"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Transcript is the final transcription result broadcast on the bus
// and persisted in the transcript store.
type Transcript struct {
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence,omitempty"`
	MIME       string    `json:"mime,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

const (
	SubjectCaptureState    = "capture.state"
	SubjectTranscriptFinal = "transcript.final"
)
