// Package controller exposes the recording lifecycle to the daemon: a
// state snapshot, idempotent initialization and the disable policy.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/scribeworks/scribe-core/internal/capture"
	"github.com/scribeworks/scribe-core/internal/session"
	"github.com/scribeworks/scribe-core/internal/transcode"
	"github.com/scribeworks/scribe-core/internal/transcriber"
)

// Engine is the slice of the transcode engine the controller manages.
type Engine interface {
	session.Transcoder
	Load(ctx context.Context) error
	Loaded() bool
	LoadErr() error
}

// EventSink receives every session event after the controller has
// updated its snapshot. The daemon uses it for publishing and storage.
type EventSink func(session.Event)

// State is a point-in-time snapshot of the controller. Err holds the
// most recent failure and is cleared when a new recording starts.
type State struct {
	Transcript  string
	Recording   bool
	Processing  bool
	Stopping    bool
	Initialized bool
	Err         *session.Error
}

// Config carries the controller's collaborators.
type Config struct {
	Disabled    bool
	Engine      Engine
	Transcriber transcriber.Transcriber
	NewRecorder capture.Factory
	Params      transcode.Params
	Logger      *slog.Logger
	Sink        EventSink
}

type Controller struct {
	engine Engine
	sink   EventSink
	logger *slog.Logger

	mu       sync.Mutex
	adapter  *session.Adapter
	state    State
	disabled bool
}

func New(cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		engine:   cfg.Engine,
		sink:     cfg.Sink,
		logger:   logger.With(slog.String("component", "controller")),
		disabled: cfg.Disabled,
	}
	c.adapter = session.NewAdapter(session.AdapterConfig{
		NewRecorder: cfg.NewRecorder,
		Engine:      cfg.Engine,
		Transcriber: cfg.Transcriber,
		Params:      cfg.Params,
		Logger:      logger,
	}, c.onEvent)
	return c
}

// Init loads the transcription engine and marks the controller ready.
// Calling it again is safe: a finished load is reused and a failed one
// keeps its error until the engine is reloaded.
func (c *Controller) Init(ctx context.Context) error {
	if err := c.engine.Load(ctx); err != nil {
		werr := &session.Error{Code: session.ErrorCodeTranscode, Message: err.Error()}
		c.mu.Lock()
		c.state.Err = werr
		c.mu.Unlock()
		return werr
	}
	c.mu.Lock()
	c.state.Initialized = true
	c.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Disabled reports whether recording is administratively switched off.
func (c *Controller) Disabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disabled
}

// StartRecording begins a new session. Preconditions are checked in a
// fixed order so the caller always sees the most fundamental failure.
func (c *Controller) StartRecording(ctx context.Context) error {
	if err := c.startPrecondition(); err != nil {
		c.mu.Lock()
		c.state.Err = err
		c.mu.Unlock()
		return err
	}
	return c.adapter.Start(ctx)
}

func (c *Controller) startPrecondition() *session.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.disabled:
		return &session.Error{Code: session.ErrorCodeState, Message: "recording is disabled"}
	case c.engine.LoadErr() != nil:
		return &session.Error{
			Code:    session.ErrorCodeTranscode,
			Message: fmt.Sprintf("transcription engine failed to load: %s", c.engine.LoadErr()),
		}
	case !c.engine.Loaded():
		return &session.Error{Code: session.ErrorCodeState, Message: "transcription engine is not loaded"}
	case !c.state.Initialized:
		return &session.Error{Code: session.ErrorCodeState, Message: "controller is not initialized"}
	case c.state.Recording || c.state.Stopping:
		return &session.Error{Code: session.ErrorCodeState, Message: "recording already in progress"}
	}
	return nil
}

// StopRecording ends the active session and waits for its transcript.
// Without an active session it is a no-op.
func (c *Controller) StopRecording(ctx context.Context) error {
	c.mu.Lock()
	if !c.state.Recording || c.state.Stopping {
		c.mu.Unlock()
		return nil
	}
	c.state.Stopping = true
	c.state.Processing = true
	c.mu.Unlock()

	return c.adapter.Stop(ctx)
}

// PauseRecording suspends capture; a no-op outside an active session.
func (c *Controller) PauseRecording() {
	c.adapter.Pause()
}

// ResumeRecording resumes a paused capture.
func (c *Controller) ResumeRecording() {
	c.adapter.Resume()
}

// AbortRecording discards the active session without a transcript.
func (c *Controller) AbortRecording() {
	c.adapter.Abort()
}

// SetDisabled switches recording off or on. Disabling clears the
// initialized state, so re-enabling requires another Init. A stop in
// flight still finishes and delivers its transcript; a session still
// recording is aborted so the device is released immediately.
func (c *Controller) SetDisabled(disabled bool) {
	c.mu.Lock()
	c.disabled = disabled
	var abort bool
	if disabled {
		c.state.Initialized = false
		abort = c.state.Recording && !c.state.Stopping
	}
	c.mu.Unlock()

	if abort {
		c.logger.Info("recording disabled while active, aborting session")
		c.adapter.Abort()
	}
}

// Close releases the capture device if a session is still active. A
// disabled controller already released it when the flag flipped.
func (c *Controller) Close() {
	c.mu.Lock()
	disabled := c.disabled
	c.mu.Unlock()
	if disabled {
		return
	}
	c.adapter.Abort()
}

func (c *Controller) onEvent(ev session.Event) {
	c.mu.Lock()
	switch ev.Type {
	case session.EventStarted:
		c.state.Recording = true
		c.state.Stopping = false
		c.state.Processing = false
		c.state.Err = nil
	case session.EventResult:
		c.state.Transcript = ev.Result.Text
	case session.EventError:
		c.state.Err = ev.Err
	case session.EventEnded:
		c.state.Recording = false
		c.state.Stopping = false
		c.state.Processing = false
	}
	c.mu.Unlock()

	if c.sink != nil {
		c.sink(ev)
	}
}
