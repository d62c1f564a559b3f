// Package session binds one capture session to one transcription
// outcome. The adapter owns the recorder for the duration of a session
// and reports progress through a single event stream.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/scribeworks/scribe-core/internal/capture"
	"github.com/scribeworks/scribe-core/internal/transcode"
	"github.com/scribeworks/scribe-core/internal/transcriber"
)

// State models the adapter lifecycle.
type State string

const (
	StateIdle      State = "idle"
	StateStarting  State = "starting"
	StateRecording State = "recording"
	StateStopping  State = "stopping"
)

// Transcoder is the slice of the transcode engine the adapter depends on.
type Transcoder interface {
	Convert(ctx context.Context, data []byte, srcMIME string, params transcode.Params) ([]byte, string, error)
}

// AdapterConfig carries the collaborators of one adapter. It is
// immutable for the adapter's lifetime; changing it means creating a
// new adapter.
type AdapterConfig struct {
	NewRecorder capture.Factory
	Engine      Transcoder
	Transcriber transcriber.Transcriber
	Params      transcode.Params
	Logger      *slog.Logger
}

// Adapter drives idle → starting → recording → stopping → idle, with
// every failure reported exactly once through the event stream.
type Adapter struct {
	cfg     AdapterConfig
	handler Handler
	logger  *slog.Logger

	mu         sync.Mutex
	state      State
	rec        capture.Recorder
	sessionID  string
	generation uint64
}

func NewAdapter(cfg AdapterConfig, handler Handler) *Adapter {
	if handler == nil {
		handler = func(Event) {}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		cfg:     cfg,
		handler: handler,
		logger:  logger.With(slog.String("component", "session")),
		state:   StateIdle,
	}
}

func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Start acquires the capture device and begins a new session. Starting
// while a session exists fails fast without touching it.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.state != StateIdle {
		a.mu.Unlock()
		return newError(ErrorCodeState, "recording already in progress")
	}
	a.state = StateStarting
	a.mu.Unlock()

	rec, err := a.cfg.NewRecorder()
	if err != nil {
		return a.failStart(err)
	}
	if err := rec.Start(ctx); err != nil {
		return a.failStart(err)
	}

	a.mu.Lock()
	a.rec = rec
	a.sessionID = uuid.NewString()
	sid := a.sessionID
	a.state = StateRecording
	a.mu.Unlock()

	a.logger.Info("capture started", slog.String("session_id", sid), slog.String("mime", rec.MIME()))
	a.emit(Event{Type: EventStarted, SessionID: sid})
	return nil
}

func (a *Adapter) failStart(err error) error {
	a.mu.Lock()
	a.state = StateIdle
	a.mu.Unlock()

	code := ErrorCodeDevice
	if errors.Is(err, capture.ErrFormatUnsupported) {
		code = ErrorCodeFormat
	}
	wrapped := wrapError(code, err)
	a.emit(Event{Type: EventError, Err: wrapped})
	return wrapped
}

// Stop ends the session, runs the processing pipeline on the final
// blob and emits Result or Error, always followed by Ended.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	if a.state != StateRecording {
		a.mu.Unlock()
		return newError(ErrorCodeState, "no active recording to stop")
	}
	a.state = StateStopping
	rec := a.rec
	sid := a.sessionID
	gen := a.generation
	a.mu.Unlock()

	blob, err := rec.Stop(ctx)
	if err != nil {
		return a.finish(gen, sid, nil, wrapError(ErrorCodeDevice, err))
	}
	result, aerr := a.process(ctx, blob)
	return a.finish(gen, sid, result, aerr)
}

// process applies the normalization policy: an empty blob is a
// degenerate success, a blob already in the target format skips the
// engine, anything else is transcoded first.
func (a *Adapter) process(ctx context.Context, blob capture.Blob) (*transcriber.Result, *Error) {
	if len(blob.Data) == 0 {
		return &transcriber.Result{Text: "", Confidence: 1}, nil
	}

	data, mime := blob.Data, blob.MIME
	if !mimeEqual(mime, a.cfg.Params.MIME()) {
		converted, outMIME, err := a.cfg.Engine.Convert(ctx, data, mime, a.cfg.Params)
		if err != nil {
			return nil, wrapError(ErrorCodeTranscode, err)
		}
		data, mime = converted, outMIME
	}

	result, err := a.cfg.Transcriber.Transcribe(ctx, data, mime)
	if err != nil {
		return nil, wrapError(ErrorCodeTranscription, err)
	}
	return &result, nil
}

func (a *Adapter) finish(gen uint64, sid string, result *transcriber.Result, aerr *Error) error {
	a.mu.Lock()
	if a.generation != gen {
		// Aborted while processing; the device is already released and
		// no further updates may be reported for this session.
		a.mu.Unlock()
		return nil
	}
	a.state = StateIdle
	a.rec = nil
	a.sessionID = ""
	a.mu.Unlock()

	if aerr != nil {
		a.logger.Warn("session failed", slog.String("session_id", sid), slog.String("error", aerr.Message))
		a.emit(Event{Type: EventError, SessionID: sid, Err: aerr})
	} else {
		a.emit(Event{Type: EventResult, SessionID: sid, Result: result})
	}
	a.emit(Event{Type: EventEnded, SessionID: sid})

	if aerr != nil {
		return aerr
	}
	return nil
}

// Abort unconditionally releases the device and ends the session
// without a result. An in-flight pipeline's outcome is suppressed.
func (a *Adapter) Abort() {
	a.mu.Lock()
	rec := a.rec
	sid := a.sessionID
	active := a.state != StateIdle || rec != nil
	a.generation++
	a.state = StateIdle
	a.rec = nil
	a.sessionID = ""
	a.mu.Unlock()

	if rec != nil {
		rec.Abort()
	}
	if active {
		a.emit(Event{Type: EventEnded, SessionID: sid})
	}
}

// Pause suspends chunk delivery; a no-op unless recording.
func (a *Adapter) Pause() {
	a.mu.Lock()
	rec := a.rec
	recording := a.state == StateRecording
	a.mu.Unlock()
	if recording && rec != nil {
		rec.Pause()
	}
}

// Resume resumes a paused capture; a no-op otherwise.
func (a *Adapter) Resume() {
	a.mu.Lock()
	rec := a.rec
	a.mu.Unlock()
	if rec != nil {
		rec.Resume()
	}
}

func (a *Adapter) emit(ev Event) {
	a.handler(ev)
}

func mimeEqual(a, b string) bool {
	normalize := func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "")
	}
	return normalize(a) == normalize(b)
}
