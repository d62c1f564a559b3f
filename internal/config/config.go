package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type CaptureConfig struct {
	Command     string `yaml:"command"`
	InputFormat string `yaml:"input_format"`
	InputDevice string `yaml:"input_device"`
	Container   string `yaml:"container"`
	SampleRate  int    `yaml:"sample_rate"`
	Channels    int    `yaml:"channels"`
	ChunkSize   int    `yaml:"chunk_size"`
}

type TranscodeConfig struct {
	Command        string  `yaml:"command"`
	SampleRate     int     `yaml:"sample_rate"`
	Channels       int     `yaml:"channels"`
	Codec          string  `yaml:"codec"`
	BitRate        string  `yaml:"bit_rate"`
	Normalize      bool    `yaml:"normalize"`
	NormalizeDB    float64 `yaml:"normalize_db"`
	Denoise        bool    `yaml:"denoise"`
	TrimStartMS    int     `yaml:"trim_start_ms"`
	TrimDurationMS int     `yaml:"trim_duration_ms"`
	VADLevel       int     `yaml:"vad_level"`
}

type TranscriberConfig struct {
	Provider  string `yaml:"provider"`
	Endpoint  string `yaml:"endpoint"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	Language  string `yaml:"language"`
	Prompt    string `yaml:"prompt"`
	Command   string `yaml:"command"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type ControllerConfig struct {
	Disabled bool `yaml:"disabled"`
}

type StoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type Config struct {
	RuntimeName string            `yaml:"runtime_name"`
	Environment string            `yaml:"environment"`
	HTTP        HTTPConfig        `yaml:"http"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Bus         BusConfig         `yaml:"bus"`
	Capture     CaptureConfig     `yaml:"capture"`
	Transcode   TranscodeConfig   `yaml:"transcode"`
	Transcriber TranscriberConfig `yaml:"transcriber"`
	Controller  ControllerConfig  `yaml:"controller"`
	Store       StoreConfig       `yaml:"store"`
}

func Default() Config {
	return Config{
		RuntimeName: "scribe-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Capture: CaptureConfig{
			Command:     "ffmpeg",
			InputFormat: "pulse",
			InputDevice: "default",
			SampleRate:  16000,
			Channels:    1,
			ChunkSize:   4096,
		},
		Transcode: TranscodeConfig{
			Command:     "ffmpeg",
			SampleRate:  16000,
			Channels:    1,
			Codec:       "pcm_s16le",
			NormalizeDB: -16,
		},
		Transcriber: TranscriberConfig{
			Provider:  "mock",
			Endpoint:  "https://api.openai.com/v1/audio/transcriptions",
			Model:     "whisper-1",
			TimeoutMS: 60000,
		},
		Store: StoreConfig{
			Path:          "./data/scribe-transcripts.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "SCRIBE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "SCRIBE_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "SCRIBE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "SCRIBE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "SCRIBE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "SCRIBE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "SCRIBE_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Enabled, "SCRIBE_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "SCRIBE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "SCRIBE_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "SCRIBE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "SCRIBE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "SCRIBE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "SCRIBE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "SCRIBE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "SCRIBE_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Capture.Command, "SCRIBE_CAPTURE_COMMAND")
	overrideString(&cfg.Capture.InputFormat, "SCRIBE_CAPTURE_INPUT_FORMAT")
	overrideString(&cfg.Capture.InputDevice, "SCRIBE_CAPTURE_INPUT_DEVICE")
	overrideString(&cfg.Capture.Container, "SCRIBE_CAPTURE_CONTAINER")
	overrideInt(&cfg.Capture.SampleRate, "SCRIBE_CAPTURE_SAMPLE_RATE")
	overrideInt(&cfg.Capture.Channels, "SCRIBE_CAPTURE_CHANNELS")
	overrideInt(&cfg.Capture.ChunkSize, "SCRIBE_CAPTURE_CHUNK_SIZE")
	overrideString(&cfg.Transcode.Command, "SCRIBE_TRANSCODE_COMMAND")
	overrideInt(&cfg.Transcode.SampleRate, "SCRIBE_TRANSCODE_SAMPLE_RATE")
	overrideInt(&cfg.Transcode.Channels, "SCRIBE_TRANSCODE_CHANNELS")
	overrideString(&cfg.Transcode.Codec, "SCRIBE_TRANSCODE_CODEC")
	overrideString(&cfg.Transcode.BitRate, "SCRIBE_TRANSCODE_BIT_RATE")
	overrideBool(&cfg.Transcode.Normalize, "SCRIBE_TRANSCODE_NORMALIZE")
	overrideFloat(&cfg.Transcode.NormalizeDB, "SCRIBE_TRANSCODE_NORMALIZE_DB")
	overrideBool(&cfg.Transcode.Denoise, "SCRIBE_TRANSCODE_DENOISE")
	overrideInt(&cfg.Transcode.TrimStartMS, "SCRIBE_TRANSCODE_TRIM_START_MS")
	overrideInt(&cfg.Transcode.TrimDurationMS, "SCRIBE_TRANSCODE_TRIM_DURATION_MS")
	overrideInt(&cfg.Transcode.VADLevel, "SCRIBE_TRANSCODE_VAD_LEVEL")
	overrideString(&cfg.Transcriber.Provider, "SCRIBE_TRANSCRIBER_PROVIDER")
	overrideString(&cfg.Transcriber.Endpoint, "SCRIBE_TRANSCRIBER_ENDPOINT")
	overrideString(&cfg.Transcriber.APIKey, "SCRIBE_TRANSCRIBER_API_KEY")
	overrideString(&cfg.Transcriber.Model, "SCRIBE_TRANSCRIBER_MODEL")
	overrideString(&cfg.Transcriber.Language, "SCRIBE_TRANSCRIBER_LANGUAGE")
	overrideString(&cfg.Transcriber.Prompt, "SCRIBE_TRANSCRIBER_PROMPT")
	overrideString(&cfg.Transcriber.Command, "SCRIBE_TRANSCRIBER_COMMAND")
	overrideInt(&cfg.Transcriber.TimeoutMS, "SCRIBE_TRANSCRIBER_TIMEOUT_MS")
	overrideBool(&cfg.Controller.Disabled, "SCRIBE_CONTROLLER_DISABLED")
	overrideString(&cfg.Store.Path, "SCRIBE_STORE_PATH")
	overrideString(&cfg.Store.RetentionMode, "SCRIBE_STORE_RETENTION_MODE")
	overrideInt(&cfg.Store.RetentionDays, "SCRIBE_STORE_RETENTION_DAYS")
	overrideInt(&cfg.Store.MaxSessions, "SCRIBE_STORE_MAX_SESSIONS")
	overrideBool(&cfg.Store.VacuumOnStart, "SCRIBE_STORE_VACUUM_ON_START")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Capture.Command == "" {
		return errors.New("capture.command must not be empty")
	}
	if cfg.Capture.SampleRate <= 0 {
		return errors.New("capture.sample_rate must be positive")
	}
	if cfg.Capture.Channels <= 0 {
		return errors.New("capture.channels must be positive")
	}
	if cfg.Transcode.Command == "" {
		return errors.New("transcode.command must not be empty")
	}
	if cfg.Transcode.SampleRate <= 0 {
		return errors.New("transcode.sample_rate must be positive")
	}
	if cfg.Transcode.Channels <= 0 {
		return errors.New("transcode.channels must be positive")
	}
	switch cfg.Transcode.Codec {
	case "", "pcm_s16le", "libopus", "s16le":
	default:
		return errors.New("transcode.codec must be one of pcm_s16le|libopus|s16le")
	}
	if cfg.Transcode.VADLevel < 0 || cfg.Transcode.VADLevel > 3 {
		return errors.New("transcode.vad_level must be between 0 and 3")
	}
	switch cfg.Transcriber.Provider {
	case "mock", "whisper", "exec":
	default:
		return errors.New("transcriber.provider must be one of mock|whisper|exec")
	}
	if cfg.Transcriber.Provider == "whisper" && cfg.Transcriber.Endpoint == "" {
		return errors.New("transcriber.endpoint must be set when provider=whisper")
	}
	if cfg.Transcriber.Provider == "exec" && cfg.Transcriber.Command == "" {
		return errors.New("transcriber.command must be set when provider=exec")
	}
	if cfg.Transcriber.TimeoutMS < 0 {
		return errors.New("transcriber.timeout_ms must be >= 0")
	}
	if cfg.Store.Path == "" {
		return errors.New("store.path must not be empty")
	}
	switch cfg.Store.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.Store.RetentionDays < 0 {
		return errors.New("store.retention_days must be >= 0")
	}
	return nil
}
