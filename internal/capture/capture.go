package capture

import (
	"context"
	"errors"
)

// State models the capture device lifecycle.
type State string

const (
	StateInactive  State = "inactive"
	StateRecording State = "recording"
	StatePaused    State = "paused"
)

var (
	// ErrDeviceAccess indicates the microphone could not be acquired.
	ErrDeviceAccess = errors.New("capture device unavailable")
	// ErrFormatUnsupported indicates no acceptable output format was negotiated.
	ErrFormatUnsupported = errors.New("no supported capture format")
)

// Blob is the aggregated output of one capture session.
type Blob struct {
	Data []byte
	MIME string
}

// Config describes how the microphone should be captured.
type Config struct {
	Command     string
	InputFormat string
	InputDevice string
	// Container overrides format negotiation when set (webm|ogg|wav|raw).
	Container  string
	SampleRate int
	Channels   int
	ChunkSize  int
}

// Recorder is one start-to-stop capture session. Chunks accumulate in
// arrival order; Stop returns their concatenation tagged with the
// negotiated MIME type. The device is released on Stop and Abort
// regardless of error paths.
type Recorder interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) (Blob, error)
	Pause()
	Resume()
	Abort()
	State() State
	MIME() string
}

// Factory creates a fresh Recorder per capture session.
type Factory func() (Recorder, error)

// format pairs a container with the ffmpeg encoder/muxer that produces it.
type format struct {
	container string
	encoder   string
	muxer     string
	mime      string
}

// Descending preference; raw s16le is the portable last resort when
// the local ffmpeg build carries no opus or wav muxer.
var preferredFormats = []format{
	{container: "webm", encoder: "libopus", muxer: "webm", mime: "audio/webm;codecs=opus"},
	{container: "ogg", encoder: "libopus", muxer: "ogg", mime: "audio/ogg;codecs=opus"},
	{container: "wav", encoder: "pcm_s16le", muxer: "wav", mime: "audio/wav"},
	{container: "raw", encoder: "pcm_s16le", muxer: "s16le", mime: "audio/l16"},
}

func formatByContainer(container string) (format, bool) {
	for _, f := range preferredFormats {
		if f.container == container {
			return f, true
		}
	}
	return format{}, false
}
