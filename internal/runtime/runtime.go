// Package runtime assembles the scribed daemon: telemetry, the message
// bus, the transcript store, the recording controller and the HTTP
// control surface.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scribeworks/scribe-core/internal/bus"
	"github.com/scribeworks/scribe-core/internal/capture"
	"github.com/scribeworks/scribe-core/internal/config"
	"github.com/scribeworks/scribe-core/internal/controller"
	"github.com/scribeworks/scribe-core/internal/natsserver"
	"github.com/scribeworks/scribe-core/internal/protocol"
	"github.com/scribeworks/scribe-core/internal/session"
	"github.com/scribeworks/scribe-core/internal/store"
	"github.com/scribeworks/scribe-core/internal/transcode"
	"github.com/scribeworks/scribe-core/internal/transcriber"
)

type Runtime struct {
	cfg    config.Config
	logger *slog.Logger

	httpServer  *http.Server
	tel         *telemetry
	embedded    *natsserver.EmbeddedServer
	busClient   *bus.Client
	transcripts *store.Store
	ctrl        *controller.Controller
	params      transcode.Params

	mu           sync.Mutex
	sessionStart time.Time

	ready atomic.Bool
	wg    sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings the daemon up and blocks until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tel, err := initTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tel = tel

	if r.cfg.Bus.Enabled {
		embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("failed to start embedded bus: %w", err)
		}
		r.embedded = embedded

		client, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
		if err != nil {
			r.embedded.Shutdown()
			return fmt.Errorf("failed to connect to bus: %w", err)
		}
		r.busClient = client
	}

	transcripts, err := store.Open(ctx, r.cfg.Store, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open transcript store: %w", err)
	}
	r.transcripts = transcripts

	if err := r.buildController(); err != nil {
		return err
	}
	if err := r.ctrl.Init(ctx); err != nil {
		// The daemon stays up; the load error resurfaces on the next
		// recording attempt and clears after an engine reload.
		r.logger.Warn("transcription engine load failed", slog.String("error", err.Error()))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if r.tel.metricsHandler != nil {
		mux.Handle("/metrics", r.tel.metricsHandler)
	}
	api := &api{
		ctrl:        r.ctrl,
		transcripts: r.transcripts,
		logger:      r.logger,
		stopTimeout: time.Duration(r.cfg.Transcriber.TimeoutMS) * time.Millisecond,
	}
	api.register(mux)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	return r.shutdown()
}

func (r *Runtime) buildController() error {
	engine, err := transcode.NewEngine(r.cfg.Transcode.Command)
	if err != nil {
		return fmt.Errorf("failed to create transcode engine: %w", err)
	}
	stt, err := transcriber.New(r.cfg.Transcriber)
	if err != nil {
		return fmt.Errorf("failed to create transcriber: %w", err)
	}
	source := capture.NewFFmpegSource(capture.Config{
		Command:     r.cfg.Capture.Command,
		InputFormat: r.cfg.Capture.InputFormat,
		InputDevice: r.cfg.Capture.InputDevice,
		Container:   r.cfg.Capture.Container,
		SampleRate:  r.cfg.Capture.SampleRate,
		Channels:    r.cfg.Capture.Channels,
		ChunkSize:   r.cfg.Capture.ChunkSize,
	})
	r.params = transcode.Params{
		SampleRate:   r.cfg.Transcode.SampleRate,
		Channels:     r.cfg.Transcode.Channels,
		Codec:        r.cfg.Transcode.Codec,
		BitRate:      r.cfg.Transcode.BitRate,
		Normalize:    r.cfg.Transcode.Normalize,
		NormalizeDB:  r.cfg.Transcode.NormalizeDB,
		Denoise:      r.cfg.Transcode.Denoise,
		TrimStart:    time.Duration(r.cfg.Transcode.TrimStartMS) * time.Millisecond,
		TrimDuration: time.Duration(r.cfg.Transcode.TrimDurationMS) * time.Millisecond,
		VADLevel:     r.cfg.Transcode.VADLevel,
	}
	r.ctrl = controller.New(controller.Config{
		Disabled:    r.cfg.Controller.Disabled,
		Engine:      engine,
		Transcriber: stt,
		NewRecorder: source.Factory(),
		Params:      r.params,
		Logger:      r.logger,
		Sink:        r.handleSessionEvent,
	})
	return nil
}

// handleSessionEvent fans each session event out to the bus, the
// transcript store and the meters. It runs synchronously on the
// session's goroutine, so everything here must stay quick.
func (r *Runtime) handleSessionEvent(ev session.Event) {
	ctx := context.Background()
	now := time.Now()

	switch ev.Type {
	case session.EventStarted:
		r.mu.Lock()
		r.sessionStart = now
		r.mu.Unlock()
		r.tel.sessionsTotal.Add(ctx, 1)
		r.publish(protocol.SubjectCaptureState, protocol.CaptureState{
			SessionID: ev.SessionID,
			State:     "recording",
			Timestamp: now,
		})
	case session.EventResult:
		t := protocol.Transcript{
			SessionID:  ev.SessionID,
			Text:       ev.Result.Text,
			Confidence: ev.Result.Confidence,
			MIME:       r.params.MIME(),
			Timestamp:  now,
		}
		if err := r.transcripts.Append(ctx, t); err != nil {
			r.logger.Warn("failed to store transcript", slog.String("error", err.Error()))
		}
		r.publish(protocol.SubjectTranscriptFinal, t)
	case session.EventError:
		r.tel.sessionErrors.Add(ctx, 1)
		r.publish(protocol.SubjectCaptureState, protocol.CaptureState{
			SessionID: ev.SessionID,
			State:     "error",
			Error:     ev.Err.Message,
			Timestamp: now,
		})
	case session.EventEnded:
		r.mu.Lock()
		started := r.sessionStart
		r.sessionStart = time.Time{}
		r.mu.Unlock()
		if !started.IsZero() {
			r.tel.sessionDuration.Record(ctx, now.Sub(started).Seconds())
		}
		r.publish(protocol.SubjectCaptureState, protocol.CaptureState{
			SessionID: ev.SessionID,
			State:     "idle",
			Timestamp: now,
		})
	}
}

func (r *Runtime) publish(subject string, v any) {
	if r.busClient == nil {
		return
	}
	if err := r.busClient.PublishJSON(subject, v); err != nil {
		r.logger.Warn("bus publish failed",
			slog.String("subject", subject),
			slog.String("error", err.Error()))
	}
}

func (r *Runtime) shutdown() error {
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if r.httpServer != nil {
		if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	if r.ctrl != nil {
		r.ctrl.Close()
	}

	if r.transcripts != nil {
		if r.cfg.Store.RetentionMode == "session" {
			if err := r.transcripts.Clear(shutdownCtx); err != nil {
				r.logger.Warn("failed to clear session transcripts", slog.String("error", err.Error()))
			}
		}
		if err := r.transcripts.Close(); err != nil {
			r.logger.Warn("transcript store close error", slog.String("error", err.Error()))
		}
	}

	r.busClient.Close()
	r.embedded.Shutdown()

	if r.tel != nil {
		if err := r.tel.shutdown(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
	return nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
