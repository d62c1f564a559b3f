package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

const startProbeWindow = 250 * time.Millisecond

// FFmpegSource negotiates an output format against the local ffmpeg
// binary and creates microphone recorders backed by it.
type FFmpegSource struct {
	cfg Config

	probeOnce sync.Once
	encoders  map[string]bool
	probeErr  error
}

func NewFFmpegSource(cfg Config) *FFmpegSource {
	if cfg.Command == "" {
		cfg.Command = "ffmpeg"
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.ChunkSize < 256 {
		cfg.ChunkSize = 4096
	}
	return &FFmpegSource{cfg: cfg}
}

// Factory adapts the source to the per-session Recorder factory contract.
func (s *FFmpegSource) Factory() Factory {
	return func() (Recorder, error) { return s.NewRecorder() }
}

// NewRecorder negotiates the output format and returns an idle recorder.
// The device itself is only acquired by Start.
func (s *FFmpegSource) NewRecorder() (Recorder, error) {
	f, err := s.negotiate()
	if err != nil {
		return nil, err
	}
	return &ffmpegRecorder{cfg: s.cfg, format: f, state: StateInactive}, nil
}

func (s *FFmpegSource) negotiate() (format, error) {
	s.probeOnce.Do(func() {
		s.encoders, s.probeErr = probeEncoders(s.cfg.Command)
	})
	if s.probeErr != nil {
		return format{}, fmt.Errorf("%w: %v", ErrFormatUnsupported, s.probeErr)
	}

	if s.cfg.Container != "" {
		f, ok := formatByContainer(s.cfg.Container)
		if !ok || !s.encoders[f.encoder] {
			return format{}, fmt.Errorf("%w: container %q", ErrFormatUnsupported, s.cfg.Container)
		}
		return s.annotate(f), nil
	}

	for _, f := range preferredFormats {
		if s.encoders[f.encoder] {
			return s.annotate(f), nil
		}
	}
	return format{}, ErrFormatUnsupported
}

// annotate stamps headerless output with the stream geometry, since a
// raw blob carries no self-describing header for downstream demuxing.
func (s *FFmpegSource) annotate(f format) format {
	if f.container == "raw" {
		f.mime = fmt.Sprintf("%s;rate=%d;channels=%d", f.mime, s.cfg.SampleRate, s.cfg.Channels)
	}
	return f
}

func probeEncoders(command string) (map[string]bool, error) {
	out, err := exec.Command(command, "-hide_banner", "-encoders").Output()
	if err != nil {
		return nil, fmt.Errorf("probe %s encoders: %w", command, err)
	}
	encoders := make(map[string]bool)
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		// Encoder rows are flagged with a leading capability column like "A....D".
		if strings.HasPrefix(fields[0], "A") || strings.HasPrefix(fields[0], "V") {
			encoders[fields[1]] = true
		}
	}
	return encoders, nil
}

type ffmpegRecorder struct {
	cfg    Config
	format format

	mu      sync.Mutex
	state   State
	cmd     *exec.Cmd
	proc    *os.Process
	stderr  *bytes.Buffer
	waitErr chan error

	readerDone chan struct{}
	chunks     [][]byte

	stopOnce sync.Once
	stopErr  error
	stopBlob Blob
}

func (r *ffmpegRecorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *ffmpegRecorder) MIME() string {
	return r.format.mime
}

func (r *ffmpegRecorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateInactive || r.cmd != nil {
		return fmt.Errorf("%w: recorder already started", ErrDeviceAccess)
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", r.cfg.InputFormat,
		"-i", r.cfg.InputDevice,
		"-ac", strconv.Itoa(r.cfg.Channels),
		"-ar", strconv.Itoa(r.cfg.SampleRate),
		"-c:a", r.format.encoder,
		"-f", r.format.muxer,
		"-",
	}

	// The process is deliberately not bound to ctx: the capture session
	// outlives the call that started it and is released by Stop/Abort.
	cmd := exec.Command(r.cfg.Command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: stdout pipe: %v", ErrDeviceAccess, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceAccess, err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	// A capture process that dies within the probe window never had the
	// device; surface that as an access failure with ffmpeg's own message.
	select {
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-waitErr
		return ctx.Err()
	case err := <-waitErr:
		detail := strings.TrimSpace(stderr.String())
		if err != nil {
			return fmt.Errorf("%w: %v: %s", ErrDeviceAccess, err, detail)
		}
		return fmt.Errorf("%w: capture process exited early: %s", ErrDeviceAccess, detail)
	case <-time.After(startProbeWindow):
	}

	r.cmd = cmd
	r.proc = cmd.Process
	r.stderr = &stderr
	r.waitErr = waitErr
	r.readerDone = make(chan struct{})
	r.state = StateRecording

	go r.readChunks(stdout)
	return nil
}

func (r *ffmpegRecorder) readChunks(stdout io.ReadCloser) {
	defer close(r.readerDone)
	buf := make([]byte, r.cfg.ChunkSize)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			r.mu.Lock()
			r.chunks = append(r.chunks, chunk)
			r.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

func (r *ffmpegRecorder) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRecording || r.proc == nil {
		return
	}
	if err := r.proc.Signal(syscall.SIGSTOP); err == nil {
		r.state = StatePaused
	}
}

func (r *ffmpegRecorder) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StatePaused || r.proc == nil {
		return
	}
	if err := r.proc.Signal(syscall.SIGCONT); err == nil {
		r.state = StateRecording
	}
}

// Stop interrupts the encoder, drains the last chunks to EOF and returns
// the aggregated blob. The final chunk is guaranteed to be appended
// before Stop returns.
func (r *ffmpegRecorder) Stop(ctx context.Context) (Blob, error) {
	r.stopOnce.Do(func() { r.stopErr = r.shutdown(ctx, false) })
	return r.stopBlob, r.stopErr
}

func (r *ffmpegRecorder) Abort() {
	r.stopOnce.Do(func() { r.stopErr = r.shutdown(context.Background(), true) })
}

func (r *ffmpegRecorder) shutdown(ctx context.Context, discard bool) error {
	r.mu.Lock()
	proc := r.proc
	paused := r.state == StatePaused
	readerDone := r.readerDone
	r.state = StateInactive
	r.mu.Unlock()

	if proc == nil {
		r.stopBlob = Blob{MIME: r.format.mime}
		return nil
	}

	if discard {
		_ = proc.Kill()
	} else {
		if paused {
			_ = proc.Signal(syscall.SIGCONT)
		}
		_ = proc.Signal(os.Interrupt)
	}

	select {
	case <-readerDone:
	case <-time.After(1200 * time.Millisecond):
		_ = proc.Kill()
		<-readerDone
	case <-ctx.Done():
		_ = proc.Kill()
		<-readerDone
	}
	err, ok := <-r.waitErr
	if !ok {
		err = nil
	}

	r.mu.Lock()
	chunks := r.chunks
	r.chunks = nil
	r.mu.Unlock()

	if discard {
		r.stopBlob = Blob{MIME: r.format.mime}
		return nil
	}

	var data []byte
	for _, c := range chunks {
		data = append(data, c...)
	}
	r.stopBlob = Blob{Data: data, MIME: r.format.mime}

	if err = normalizeExitErr(err); err != nil {
		detail := strings.TrimSpace(r.stderr.String())
		if detail != "" {
			return fmt.Errorf("capture stop: %w: %s", err, detail)
		}
		return fmt.Errorf("capture stop: %w", err)
	}
	return nil
}

// normalizeExitErr drops the non-zero exit status ffmpeg reports when
// interrupted mid-stream; only abnormal termination is an error.
func normalizeExitErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}
