// Package transcode wraps the local ffmpeg binary as an opaque audio
// normalization engine. The engine is probed lazily and shared by every
// adapter a controller creates.
package transcode

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"
)

// Engine invokes the transcoder binary. Load must succeed before
// Convert is usable; concurrent Load calls share a single probe.
type Engine struct {
	cmd []string

	mu      sync.Mutex
	loadCh  chan struct{}
	loaded  bool
	loadErr error
	version string
}

func NewEngine(command string) (*Engine, error) {
	if command == "" {
		command = "ffmpeg"
	}
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse transcode command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("transcode command is empty")
	}
	return &Engine{cmd: args}, nil
}

// Load probes the binary once. A second concurrent call waits for the
// in-flight probe instead of starting its own; a failed probe stays
// failed until Reload.
func (e *Engine) Load(ctx context.Context) error {
	e.mu.Lock()
	if e.loaded || e.loadErr != nil {
		err := e.loadErr
		e.mu.Unlock()
		return err
	}
	if e.loadCh != nil {
		ch := e.loadCh
		e.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
		return e.LoadErr()
	}
	ch := make(chan struct{})
	e.loadCh = ch
	e.mu.Unlock()

	version, err := e.probe(ctx)

	e.mu.Lock()
	e.loaded = err == nil
	e.loadErr = err
	e.version = version
	e.loadCh = nil
	e.mu.Unlock()
	close(ch)
	return err
}

// Reload clears any previous probe outcome and loads again.
func (e *Engine) Reload(ctx context.Context) error {
	e.mu.Lock()
	if e.loadCh != nil {
		ch := e.loadCh
		e.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
		e.mu.Lock()
	}
	e.loaded = false
	e.loadErr = nil
	e.version = ""
	e.mu.Unlock()
	return e.Load(ctx)
}

func (e *Engine) Loaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loaded
}

func (e *Engine) LoadErr() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadErr
}

// Version reports the probed banner line, empty before Load.
func (e *Engine) Version() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.version
}

func (e *Engine) probe(ctx context.Context) (string, error) {
	args := append(append([]string{}, e.cmd[1:]...), "-version")
	out, err := exec.CommandContext(ctx, e.cmd[0], args...).Output()
	if err != nil {
		return "", fmt.Errorf("transcode engine load: %w", err)
	}
	banner := strings.TrimSpace(string(out))
	if i := strings.IndexByte(banner, '\n'); i >= 0 {
		banner = banner[:i]
	}
	return banner, nil
}

// Convert normalizes data from srcMIME into the format described by
// params and returns the bytes with their resulting MIME type.
func (e *Engine) Convert(ctx context.Context, data []byte, srcMIME string, params Params) ([]byte, string, error) {
	e.mu.Lock()
	ready := e.loaded
	e.mu.Unlock()
	if !ready {
		return nil, "", fmt.Errorf("transcode engine not loaded")
	}

	dir, err := os.MkdirTemp("", "scribe_transcode_")
	if err != nil {
		return nil, "", fmt.Errorf("transcode temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	inPath := filepath.Join(dir, "in"+ExtensionForMIME(srcMIME))
	outPath := filepath.Join(dir, "out"+ExtensionForMIME(params.MIME()))
	if err := os.WriteFile(inPath, data, 0o600); err != nil {
		return nil, "", fmt.Errorf("transcode write input: %w", err)
	}

	cmdArgs := append(append([]string{}, e.cmd[1:]...), buildArgs(params, srcMIME, inPath, outPath)...)
	cmd := exec.CommandContext(ctx, e.cmd[0], cmdArgs...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return nil, "", fmt.Errorf("transcode failed: %w: %s", err, detail)
		}
		return nil, "", fmt.Errorf("transcode failed: %w", err)
	}

	out, err := os.ReadFile(outPath)
	if err != nil {
		return nil, "", fmt.Errorf("transcode read output: %w", err)
	}
	return out, params.MIME(), nil
}
