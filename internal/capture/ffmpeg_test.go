package capture

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-ffmpeg")
	script := "#!/bin/sh\n" + body
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

const encoderTable = `Encoders:
 A....D aac              AAC (Advanced Audio Coding)
 A....D libopus          libopus Opus
 A....D pcm_s16le        PCM signed 16-bit little-endian
`

func encoderScript(t *testing.T, rest string) string {
	t.Helper()
	return writeScript(t, `case "$*" in
  *-encoders*) cat <<'EOF'
`+encoderTable+`EOF
    exit 0;;
esac
`+rest)
}

func TestNegotiatePrefersOpusWebM(t *testing.T) {
	cmd := encoderScript(t, "exit 0\n")
	src := NewFFmpegSource(Config{Command: cmd})
	rec, err := src.NewRecorder()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.MIME() != "audio/webm;codecs=opus" {
		t.Fatalf("expected webm/opus, got %q", rec.MIME())
	}
}

func TestNegotiateContainerOverride(t *testing.T) {
	cmd := encoderScript(t, "exit 0\n")
	src := NewFFmpegSource(Config{Command: cmd, Container: "wav"})
	rec, err := src.NewRecorder()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.MIME() != "audio/wav" {
		t.Fatalf("expected wav, got %q", rec.MIME())
	}
}

func TestNegotiateUnknownContainer(t *testing.T) {
	cmd := encoderScript(t, "exit 0\n")
	src := NewFFmpegSource(Config{Command: cmd, Container: "flac"})
	if _, err := src.NewRecorder(); !errors.Is(err, ErrFormatUnsupported) {
		t.Fatalf("expected ErrFormatUnsupported, got %v", err)
	}
}

func TestNegotiateFallsBackToPCM(t *testing.T) {
	cmd := writeScript(t, `case "$*" in
  *-encoders*) cat <<'EOF'
Encoders:
 A....D pcm_s16le        PCM signed 16-bit little-endian
EOF
    exit 0;;
esac
exit 0
`)
	src := NewFFmpegSource(Config{Command: cmd})
	rec, err := src.NewRecorder()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.MIME() != "audio/wav" {
		t.Fatalf("expected wav fallback, got %q", rec.MIME())
	}
}

func TestNegotiateRawCarriesStreamGeometry(t *testing.T) {
	cmd := encoderScript(t, "exit 0\n")
	src := NewFFmpegSource(Config{Command: cmd, Container: "raw", SampleRate: 8000, Channels: 2})
	rec, err := src.NewRecorder()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.MIME() != "audio/l16;rate=8000;channels=2" {
		t.Fatalf("expected annotated raw mime, got %q", rec.MIME())
	}
}

func TestStartDeviceFailure(t *testing.T) {
	cmd := encoderScript(t, "echo 'Device or resource busy' >&2\nexit 1\n")
	src := NewFFmpegSource(Config{Command: cmd})
	rec, err := src.NewRecorder()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := rec.Start(context.Background()); !errors.Is(err, ErrDeviceAccess) {
		t.Fatalf("expected ErrDeviceAccess, got %v", err)
	}
	if rec.State() != StateInactive {
		t.Fatalf("expected inactive after failed start, got %q", rec.State())
	}
}

func TestStartStopDeliversAggregatedBlob(t *testing.T) {
	cmd := encoderScript(t, "printf 'chunk-1chunk-2'\nexec sleep 5\n")
	src := NewFFmpegSource(Config{Command: cmd})
	rec, err := src.NewRecorder()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if rec.State() != StateRecording {
		t.Fatalf("expected recording state, got %q", rec.State())
	}

	blob, err := rec.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !bytes.Equal(blob.Data, []byte("chunk-1chunk-2")) {
		t.Fatalf("unexpected blob data: %q", blob.Data)
	}
	if blob.MIME != "audio/webm;codecs=opus" {
		t.Fatalf("unexpected blob mime: %q", blob.MIME)
	}
	if rec.State() != StateInactive {
		t.Fatalf("expected inactive after stop, got %q", rec.State())
	}
}

func TestAbortDiscardsData(t *testing.T) {
	cmd := encoderScript(t, "printf 'never-seen'\nexec sleep 5\n")
	src := NewFFmpegSource(Config{Command: cmd})
	rec, err := src.NewRecorder()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	rec.Abort()
	if rec.State() != StateInactive {
		t.Fatalf("expected inactive after abort, got %q", rec.State())
	}
	blob, err := rec.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop after abort: %v", err)
	}
	if len(blob.Data) != 0 {
		t.Fatalf("expected discarded data, got %d bytes", len(blob.Data))
	}
}

func TestPauseOutsideRecordingIsNoOp(t *testing.T) {
	cmd := encoderScript(t, "exit 0\n")
	src := NewFFmpegSource(Config{Command: cmd})
	rec, err := src.NewRecorder()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec.Pause()
	rec.Resume()
	if rec.State() != StateInactive {
		t.Fatalf("expected inactive, got %q", rec.State())
	}
}
