package session

import "github.com/scribeworks/scribe-core/internal/transcriber"

// EventType tags entries in the adapter's event stream.
type EventType string

const (
	EventStarted EventType = "started"
	EventResult  EventType = "result"
	EventError   EventType = "error"
	EventEnded   EventType = "ended"
)

// Event is the tagged union delivered to the adapter's single
// subscriber. Result is set for EventResult, Err for EventError.
type Event struct {
	Type      EventType
	SessionID string
	Result    *transcriber.Result
	Err       *Error
}

// Handler receives every event of one adapter, in emission order. It is
// fixed at construction; there is exactly one subscriber per adapter.
type Handler func(Event)
