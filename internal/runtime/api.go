package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/scribeworks/scribe-core/internal/controller"
	"github.com/scribeworks/scribe-core/internal/session"
	"github.com/scribeworks/scribe-core/internal/store"
)

// api is the HTTP control surface for the recording lifecycle.
type api struct {
	ctrl        *controller.Controller
	transcripts *store.Store
	logger      *slog.Logger
	// stopTimeout bounds the stop-and-transcribe pipeline. Zero means
	// the request context alone applies.
	stopTimeout time.Duration
}

func (a *api) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/record/start", a.handleStart)
	mux.HandleFunc("POST /v1/record/stop", a.handleStop)
	mux.HandleFunc("POST /v1/record/pause", a.handlePause)
	mux.HandleFunc("POST /v1/record/resume", a.handleResume)
	mux.HandleFunc("POST /v1/record/abort", a.handleAbort)
	mux.HandleFunc("POST /v1/record/enabled", a.handleEnabled)
	mux.HandleFunc("GET /v1/state", a.handleState)
	mux.HandleFunc("GET /v1/transcripts", a.handleTranscripts)
}

type stateResponse struct {
	Transcript  string `json:"transcript"`
	Recording   bool   `json:"recording"`
	Processing  bool   `json:"processing"`
	Stopping    bool   `json:"stopping"`
	Initialized bool   `json:"initialized"`
	Disabled    bool   `json:"disabled"`
	Error       *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *api) snapshot() stateResponse {
	snap := a.ctrl.Snapshot()
	resp := stateResponse{
		Transcript:  snap.Transcript,
		Recording:   snap.Recording,
		Processing:  snap.Processing,
		Stopping:    snap.Stopping,
		Initialized: snap.Initialized,
		Disabled:    a.ctrl.Disabled(),
	}
	if snap.Err != nil {
		resp.Error = &struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}{Code: string(snap.Err.Code), Message: snap.Err.Message}
	}
	return resp
}

func (a *api) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := a.ctrl.StartRecording(r.Context()); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusAccepted, a.snapshot())
}

func (a *api) handleStop(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if a.stopTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.stopTimeout)
		defer cancel()
	}
	if err := a.ctrl.StopRecording(ctx); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, a.snapshot())
}

func (a *api) handlePause(w http.ResponseWriter, _ *http.Request) {
	a.ctrl.PauseRecording()
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleResume(w http.ResponseWriter, _ *http.Request) {
	a.ctrl.ResumeRecording()
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleAbort(w http.ResponseWriter, _ *http.Request) {
	a.ctrl.AbortRecording()
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleEnabled(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Disabled bool `json:"disabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.writeJSON(w, http.StatusBadRequest, errorResponse{Code: "request", Message: "invalid JSON body"})
		return
	}
	a.ctrl.SetDisabled(body.Disabled)
	if !body.Disabled {
		// Disabling tears initialization down; walk the init path again
		// so the next start does not fail on a stale engine state.
		if err := a.ctrl.Init(r.Context()); err != nil {
			a.writeError(w, err)
			return
		}
	}
	a.writeJSON(w, http.StatusOK, a.snapshot())
}

func (a *api) handleState(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, a.snapshot())
}

type transcriptResponse struct {
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence,omitempty"`
	MIME       string    `json:"mime,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (a *api) handleTranscripts(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			a.writeJSON(w, http.StatusBadRequest, errorResponse{Code: "request", Message: "limit must be a positive integer"})
			return
		}
		limit = parsed
	}
	records, err := a.transcripts.List(r.Context(), limit)
	if err != nil {
		a.logger.Error("failed to list transcripts", slog.String("error", err.Error()))
		a.writeJSON(w, http.StatusInternalServerError, errorResponse{Code: "store", Message: "failed to list transcripts"})
		return
	}
	out := make([]transcriptResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, transcriptResponse{
			SessionID:  rec.SessionID,
			Text:       rec.Text,
			Confidence: rec.Confidence,
			MIME:       rec.MIME,
			CreatedAt:  rec.CreatedAt,
		})
	}
	a.writeJSON(w, http.StatusOK, out)
}

func (a *api) writeError(w http.ResponseWriter, err error) {
	var serr *session.Error
	if !errors.As(err, &serr) {
		a.writeJSON(w, http.StatusInternalServerError, errorResponse{Code: "internal", Message: err.Error()})
		return
	}
	status := http.StatusInternalServerError
	switch serr.Code {
	case session.ErrorCodeState:
		status = http.StatusConflict
	case session.ErrorCodeDevice:
		status = http.StatusServiceUnavailable
	case session.ErrorCodeFormat:
		status = http.StatusUnprocessableEntity
	}
	a.writeJSON(w, status, errorResponse{Code: string(serr.Code), Message: serr.Message})
}

func (a *api) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}
