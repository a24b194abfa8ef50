package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNoUpstream is returned by [Validate] when no upstream API key is
// configured, neither in the file nor in the environment.
var ErrNoUpstream = errors.New("config: upstream.api_key is required")

// Environment variables that override secrets from the config file when set.
const (
	EnvUpstreamAPIKey = "VOXBRIDGE_UPSTREAM_API_KEY"
	EnvPostgresDSN    = "VOXBRIDGE_POSTGRES_DSN"
	EnvAvatarAPIKey   = "VOXBRIDGE_AVATAR_API_KEY"
)

// validTurnDetection lists the accepted upstream.turn_detection.type values.
var validTurnDetection = []string{"server_vad", "semantic_vad", "none"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, overlays secrets from the
// environment, fills in defaults and validates the result. An empty document
// yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides secrets in cfg with the corresponding environment
// variables, when those are set and non-empty.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv(EnvUpstreamAPIKey); v != "" {
		cfg.Upstream.APIKey = v
	}
	if v := os.Getenv(EnvPostgresDSN); v != "" {
		cfg.Persistence.PostgresDSN = v
	}
	if v := os.Getenv(EnvAvatarAPIKey); v != "" {
		cfg.Avatar.APIKey = v
	}
}

// ApplyDefaults fills every zero-valued field of cfg that has a default.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.ListenAddr == "" {
		s.ListenAddr = ":8080"
	}
	if s.LogLevel == "" {
		s.LogLevel = LogInfo
	}
	if s.ShutdownTimeout <= 0 {
		s.ShutdownTimeout = 15 * time.Second
	}

	u := &cfg.Upstream
	if u.Name == "" {
		u.Name = UpstreamOpenAIRealtime
	}
	if u.Model == "" {
		u.Model = "gpt-4o-realtime-preview"
	}
	if len(u.Modalities) == 0 {
		u.Modalities = []string{"text"}
	}
	if u.Voice == "" {
		u.Voice = "alloy"
	}
	if u.InputAudioFormat == "" {
		u.InputAudioFormat = "pcm16"
	}
	if u.OutputAudioFormat == "" {
		u.OutputAudioFormat = "pcm16"
	}
	if u.TranscriptionModel == "" {
		u.TranscriptionModel = "whisper-1"
	}
	td := &u.TurnDetection
	if td.Type == "" {
		td.Type = "server_vad"
	}
	if td.Type != "none" {
		if td.Threshold == 0 {
			td.Threshold = 0.5
		}
		if td.PrefixPaddingMs == 0 {
			td.PrefixPaddingMs = 300
		}
		if td.SilenceDurationMs == 0 {
			td.SilenceDurationMs = 500
		}
	}
	if u.ConnectTimeout <= 0 {
		u.ConnectTimeout = 10 * time.Second
	}
	if u.PollInterval <= 0 {
		u.PollInterval = 250 * time.Millisecond
	}

	if cfg.Persistence.WriteTimeout <= 0 {
		cfg.Persistence.WriteTimeout = 5 * time.Second
	}

	a := &cfg.Avatar
	if a.BaseURL == "" {
		a.BaseURL = "https://api.heygen.com"
	}
	if a.TaskType == "" {
		a.TaskType = "repeat"
	}
	if a.Timeout <= 0 {
		a.Timeout = 10 * time.Second
	}

	b := &cfg.Bridge
	if b.SinkQueueSize <= 0 {
		b.SinkQueueSize = 64
	}
	if b.SinkTimeout <= 0 {
		b.SinkTimeout = 5 * time.Second
	}
	if b.DrainTimeout <= 0 {
		b.DrainTimeout = 3 * time.Second
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout must not be negative"))
	}

	// Upstream
	u := cfg.Upstream
	if u.APIKey == "" {
		errs = append(errs, ErrNoUpstream)
	}
	if u.BaseURL != "" {
		if p, err := url.Parse(u.BaseURL); err != nil || (p.Scheme != "ws" && p.Scheme != "wss") {
			errs = append(errs, fmt.Errorf("upstream.base_url %q must be a ws:// or wss:// URL", u.BaseURL))
		}
	}
	seen := make(map[string]bool, len(u.Modalities))
	for i, m := range u.Modalities {
		if m != "text" && m != "audio" {
			errs = append(errs, fmt.Errorf("upstream.modalities[%d] %q is invalid; valid values: text, audio", i, m))
		}
		if seen[m] {
			errs = append(errs, fmt.Errorf("upstream.modalities[%d] %q is a duplicate", i, m))
		}
		seen[m] = true
	}
	if len(u.Modalities) > 0 && !seen["text"] {
		errs = append(errs, fmt.Errorf("upstream.modalities must include text"))
	}
	if td := u.TurnDetection; td.Type != "" && !slices.Contains(validTurnDetection, td.Type) {
		errs = append(errs, fmt.Errorf("upstream.turn_detection.type %q is invalid; valid values: server_vad, semantic_vad, none", td.Type))
	} else if td.Threshold < 0 || td.Threshold > 1 {
		errs = append(errs, fmt.Errorf("upstream.turn_detection.threshold %.2f is out of range [0, 1]", td.Threshold))
	}

	// Avatar
	if cfg.Avatar.Enabled() {
		if p, err := url.Parse(cfg.Avatar.BaseURL); err != nil || (p.Scheme != "http" && p.Scheme != "https") {
			errs = append(errs, fmt.Errorf("avatar.base_url %q must be an http:// or https:// URL", cfg.Avatar.BaseURL))
		}
	}

	return errors.Join(errs...)
}
