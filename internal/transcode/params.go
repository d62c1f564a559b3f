package transcode

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Params describes the normalized output the engine must produce.
// Zero values fall back to the 16 kHz mono PCM WAV baseline.
type Params struct {
	SampleRate int
	Channels   int
	// Codec is pcm_s16le (WAV), libopus (WebM, bitrate-constrained) or
	// s16le (headerless PCM).
	Codec   string
	BitRate string

	Normalize   bool
	NormalizeDB float64
	Denoise     bool

	TrimStart    time.Duration
	TrimDuration time.Duration

	// VADLevel 0 disables voice-activity trimming; 1-3 cut silence with
	// increasing aggressiveness.
	VADLevel int
}

func (p Params) withDefaults() Params {
	if p.SampleRate <= 0 {
		p.SampleRate = 16000
	}
	if p.Channels <= 0 {
		p.Channels = 1
	}
	if p.Codec == "" {
		p.Codec = "pcm_s16le"
	}
	if p.Codec == "libopus" && p.BitRate == "" {
		p.BitRate = "24k"
	}
	return p
}

// MIME reports the content type the engine tags its output with.
func (p Params) MIME() string {
	switch p.withDefaults().Codec {
	case "libopus":
		return "audio/webm;codecs=opus"
	case "s16le":
		return "audio/l16"
	default:
		return "audio/wav"
	}
}

func (p Params) muxer() string {
	switch p.withDefaults().Codec {
	case "libopus":
		return "webm"
	case "s16le":
		return "s16le"
	default:
		return "wav"
	}
}

// vadThresholds maps aggressiveness levels to silenceremove stop
// thresholds in dBFS.
var vadThresholds = map[int]string{
	1: "-50dB",
	2: "-40dB",
	3: "-30dB",
}

// buildArgs assembles the ffmpeg invocation for one conversion. Pure so
// the parameter plumbing stays unit-testable without a binary.
func buildArgs(p Params, srcMIME, inPath, outPath string) []string {
	p = p.withDefaults()

	args := []string{"-nostdin", "-hide_banner", "-loglevel", "error", "-y"}
	args = append(args, rawInputArgs(p, srcMIME)...)
	if p.TrimStart > 0 {
		args = append(args, "-ss", formatSeconds(p.TrimStart))
	}
	if p.TrimDuration > 0 {
		args = append(args, "-t", formatSeconds(p.TrimDuration))
	}
	args = append(args, "-i", inPath)

	var filters []string
	if p.Denoise {
		filters = append(filters, "afftdn")
	}
	if threshold, ok := vadThresholds[p.VADLevel]; ok {
		filters = append(filters,
			fmt.Sprintf("silenceremove=start_periods=1:start_threshold=%s:stop_periods=-1:stop_threshold=%s", threshold, threshold))
	}
	if p.Normalize {
		filters = append(filters, fmt.Sprintf("loudnorm=I=%g", p.NormalizeDB))
	}
	if len(filters) > 0 {
		args = append(args, "-af", strings.Join(filters, ","))
	}

	args = append(args,
		"-ac", strconv.Itoa(p.Channels),
		"-ar", strconv.Itoa(p.SampleRate),
		"-c:a", p.Codec,
	)
	if p.Codec == "libopus" {
		args = append(args, "-b:a", p.BitRate)
	}
	args = append(args, "-f", p.muxer(), outPath)
	return args
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

// rawInputArgs tells ffmpeg how to read headerless PCM, which cannot be
// sniffed from the file. Rate and channel hints ride on the capture
// MIME type (audio/l16;rate=...;channels=...); absent hints fall back
// to the output parameters.
func rawInputArgs(p Params, srcMIME string) []string {
	base, attrs := splitMIME(srcMIME)
	if base != "audio/l16" {
		return nil
	}
	rate := p.SampleRate
	if v, ok := attrs["rate"]; ok {
		rate = v
	}
	channels := p.Channels
	if v, ok := attrs["channels"]; ok {
		channels = v
	}
	return []string{"-f", "s16le", "-ar", strconv.Itoa(rate), "-ac", strconv.Itoa(channels)}
}

// splitMIME separates a content type into its base and any integer
// parameters, normalized to lowercase.
func splitMIME(mime string) (string, map[string]int) {
	parts := strings.Split(mime, ";")
	base := strings.ToLower(strings.TrimSpace(parts[0]))
	attrs := make(map[string]int, len(parts)-1)
	for _, part := range parts[1:] {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && n > 0 {
			attrs[strings.ToLower(strings.TrimSpace(key))] = n
		}
	}
	return base, attrs
}

// ExtensionForMIME maps a capture MIME type to the temp file extension
// ffmpeg uses to sniff the input container.
func ExtensionForMIME(mime string) string {
	base := mime
	if i := strings.IndexByte(base, ';'); i >= 0 {
		base = base[:i]
	}
	switch strings.TrimSpace(base) {
	case "audio/webm", "video/webm":
		return ".webm"
	case "audio/ogg":
		return ".ogg"
	case "audio/mp4":
		return ".m4a"
	case "audio/wav", "audio/wave", "audio/x-wav":
		return ".wav"
	case "audio/l16":
		return ".raw"
	default:
		return ".bin"
	}
}
