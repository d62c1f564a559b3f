package runtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/scribeworks/scribe-core/internal/capture"
	"github.com/scribeworks/scribe-core/internal/config"
	"github.com/scribeworks/scribe-core/internal/controller"
	"github.com/scribeworks/scribe-core/internal/protocol"
	"github.com/scribeworks/scribe-core/internal/store"
	"github.com/scribeworks/scribe-core/internal/transcode"
	"github.com/scribeworks/scribe-core/internal/transcriber"
)

type apiEngine struct {
	loaded  bool
	loadErr error
}

func (e *apiEngine) Load(context.Context) error {
	if e.loadErr != nil {
		return e.loadErr
	}
	e.loaded = true
	return nil
}

func (e *apiEngine) Loaded() bool   { return e.loaded }
func (e *apiEngine) LoadErr() error { return e.loadErr }

func (e *apiEngine) Convert(_ context.Context, data []byte, _ string, _ transcode.Params) ([]byte, string, error) {
	return data, "audio/wav", nil
}

type apiRecorder struct {
	blob capture.Blob
}

func (r *apiRecorder) Start(context.Context) error { return nil }
func (r *apiRecorder) Stop(context.Context) (capture.Blob, error) {
	return r.blob, nil
}
func (r *apiRecorder) Pause()               {}
func (r *apiRecorder) Resume()              {}
func (r *apiRecorder) Abort()               {}
func (r *apiRecorder) State() capture.State { return capture.StateInactive }
func (r *apiRecorder) MIME() string         { return r.blob.MIME }

type apiTranscriber struct {
	text string
}

func (t *apiTranscriber) Transcribe(context.Context, []byte, string) (transcriber.Result, error) {
	return transcriber.Result{Text: t.text, Confidence: 0.95}, nil
}

func newTestAPI(t *testing.T) (*api, *store.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))

	s, err := store.Open(context.Background(), config.StoreConfig{
		Path:          filepath.Join(t.TempDir(), "transcripts.db"),
		RetentionMode: "persistent",
	}, logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	ctrl := controller.New(controller.Config{
		Engine:      &apiEngine{},
		Transcriber: &apiTranscriber{text: "hello world"},
		NewRecorder: func() (capture.Recorder, error) {
			return &apiRecorder{blob: capture.Blob{Data: []byte("audio"), MIME: "audio/wav"}}, nil
		},
		Logger: logger,
	})
	if err := ctrl.Init(context.Background()); err != nil {
		t.Fatalf("init controller: %v", err)
	}

	return &api{ctrl: ctrl, transcripts: s, logger: logger}, s
}

func serve(a *api) *httptest.Server {
	mux := http.NewServeMux()
	a.register(mux)
	return httptest.NewServer(mux)
}

func getJSON(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestRecordStartStopCycle(t *testing.T) {
	a, _ := newTestAPI(t)
	srv := serve(a)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/record/start", "application/json", nil)
	if err != nil {
		t.Fatalf("start request: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var started stateResponse
	getJSON(t, resp, &started)
	if !started.Recording {
		t.Fatalf("expected recording state, got %+v", started)
	}

	resp, err = http.Post(srv.URL+"/v1/record/stop", "application/json", nil)
	if err != nil {
		t.Fatalf("stop request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var stopped stateResponse
	getJSON(t, resp, &stopped)
	if stopped.Recording || stopped.Transcript != "hello world" {
		t.Fatalf("unexpected state after stop: %+v", stopped)
	}
}

func TestRecordStartConflict(t *testing.T) {
	a, _ := newTestAPI(t)
	srv := serve(a)
	defer srv.Close()

	if _, err := http.Post(srv.URL+"/v1/record/start", "application/json", nil); err != nil {
		t.Fatalf("first start: %v", err)
	}
	resp, err := http.Post(srv.URL+"/v1/record/start", "application/json", nil)
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	var body errorResponse
	getJSON(t, resp, &body)
	if body.Code != "state" {
		t.Fatalf("unexpected error body: %+v", body)
	}
}

func TestStateEndpoint(t *testing.T) {
	a, _ := newTestAPI(t)
	srv := serve(a)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/state")
	if err != nil {
		t.Fatalf("state request: %v", err)
	}
	var state stateResponse
	getJSON(t, resp, &state)
	if !state.Initialized || state.Recording || state.Disabled {
		t.Fatalf("unexpected initial state: %+v", state)
	}
}

func TestEnabledToggle(t *testing.T) {
	a, _ := newTestAPI(t)
	srv := serve(a)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/record/enabled", "application/json",
		strings.NewReader(`{"disabled": true}`))
	if err != nil {
		t.Fatalf("disable request: %v", err)
	}
	var state stateResponse
	getJSON(t, resp, &state)
	if !state.Disabled || state.Initialized {
		t.Fatalf("expected disabled uninitialized state, got %+v", state)
	}

	resp, err = http.Post(srv.URL+"/v1/record/start", "application/json", nil)
	if err != nil {
		t.Fatalf("start request: %v", err)
	}
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 while disabled, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, err = http.Post(srv.URL+"/v1/record/enabled", "application/json",
		strings.NewReader(`{"disabled": false}`))
	if err != nil {
		t.Fatalf("enable request: %v", err)
	}
	var enabled stateResponse
	getJSON(t, resp, &enabled)
	if enabled.Disabled || !enabled.Initialized {
		t.Fatalf("expected re-initialized state, got %+v", enabled)
	}

	resp, err = http.Post(srv.URL+"/v1/record/start", "application/json", nil)
	if err != nil {
		t.Fatalf("start after enable: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202 after re-enable, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestTranscriptsEndpoint(t *testing.T) {
	a, s := newTestAPI(t)
	srv := serve(a)
	defer srv.Close()

	err := s.Append(context.Background(), protocol.Transcript{
		SessionID:  "session-1",
		Text:       "stored transcript",
		Confidence: 0.8,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	resp, err := http.Get(srv.URL + "/v1/transcripts?limit=5")
	if err != nil {
		t.Fatalf("transcripts request: %v", err)
	}
	var out []transcriptResponse
	getJSON(t, resp, &out)
	if len(out) != 1 || out[0].Text != "stored transcript" {
		t.Fatalf("unexpected transcripts: %+v", out)
	}

	resp, err = http.Get(srv.URL + "/v1/transcripts?limit=bogus")
	if err != nil {
		t.Fatalf("bad limit request: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}
