// Package config provides the configuration schema, loader, upstream registry
// and file watcher for the voxbridge server.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/voxbridge/pkg/provider/realtime"
)

// LogLevel controls log verbosity for the voxbridge server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l onto a [slog.Level]. Unknown levels map to Info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// UpstreamOpenAIRealtime is the name of the OpenAI Realtime upstream.
const UpstreamOpenAIRealtime = "openai-realtime"

// Config is the root configuration structure for voxbridge.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Upstream    UpstreamConfig    `yaml:"upstream"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Avatar      AvatarConfig      `yaml:"avatar"`
	Bridge      BridgeConfig      `yaml:"bridge"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// ShutdownTimeout bounds graceful shutdown, including draining sessions.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// AllowedOrigins are host patterns accepted for cross-origin websocket
	// upgrades. Empty allows same-origin clients only.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// UpstreamConfig describes the realtime endpoint every session is bridged to
// and the session defaults sent to it.
type UpstreamConfig struct {
	// Name selects the upstream implementation from the [Registry].
	Name string `yaml:"name"`

	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// Modalities is [text] or [text, audio]. A client may override it per
	// session with ?mode=.
	Modalities []string `yaml:"modalities"`

	Voice              string              `yaml:"voice"`
	Instructions       string              `yaml:"instructions"`
	InputAudioFormat   string              `yaml:"input_audio_format"`
	OutputAudioFormat  string              `yaml:"output_audio_format"`
	TranscriptionModel string              `yaml:"transcription_model"`
	TurnDetection      TurnDetectionConfig `yaml:"turn_detection"`

	// ConnectTimeout bounds dial plus session configuration.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// PollInterval bounds each upstream read in the bridge loop.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// TurnDetectionConfig configures upstream speech segmentation. Type "none"
// disables it, in which case clients commit turns with stop_recording.
type TurnDetectionConfig struct {
	Type              string  `yaml:"type"`
	Threshold         float64 `yaml:"threshold"`
	PrefixPaddingMs   int     `yaml:"prefix_padding_ms"`
	SilenceDurationMs int     `yaml:"silence_duration_ms"`
}

// SessionOptions converts the upstream defaults into the options sent with
// every session.update.
func (u UpstreamConfig) SessionOptions() realtime.SessionOptions {
	mods := make([]realtime.Modality, 0, len(u.Modalities))
	for _, m := range u.Modalities {
		mods = append(mods, realtime.Modality(m))
	}
	return realtime.SessionOptions{
		Modalities:         mods,
		Voice:              u.Voice,
		Instructions:       u.Instructions,
		InputAudioFormat:   u.InputAudioFormat,
		OutputAudioFormat:  u.OutputAudioFormat,
		TranscriptionModel: u.TranscriptionModel,
		TurnDetection: realtime.TurnDetection{
			Type:              u.TurnDetection.Type,
			Threshold:         u.TurnDetection.Threshold,
			PrefixPaddingMs:   u.TurnDetection.PrefixPaddingMs,
			SilenceDurationMs: u.TurnDetection.SilenceDurationMs,
		},
	}
}

// PersistenceConfig configures where completed turns are stored. When
// PostgresDSN is empty turns are kept in process memory only.
type PersistenceConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`

	// WriteTimeout bounds a single CreateMessage call.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// AvatarConfig configures the optional avatar text hand-off. It is disabled
// when APIKey is empty.
type AvatarConfig struct {
	APIKey   string        `yaml:"api_key"`
	BaseURL  string        `yaml:"base_url"`
	TaskType string        `yaml:"task_type"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Enabled reports whether avatar hand-off is configured.
func (a AvatarConfig) Enabled() bool { return a.APIKey != "" }

// BridgeConfig tunes the per-session event router and shutdown.
type BridgeConfig struct {
	// SinkQueueSize is the per-sink event buffer. A full queue drops events
	// for that sink only.
	SinkQueueSize int `yaml:"sink_queue_size"`

	// SinkTimeout bounds a single sink call.
	SinkTimeout time.Duration `yaml:"sink_timeout"`

	// DrainTimeout bounds how long a closing session waits for its sinks.
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}
