package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voxgate/pkg/provider/vad"
)

// ValidProviderNames lists known backend names per kind. Used by [Validate]
// to warn about unrecognised names.
var ValidProviderNames = map[string][]string{
	"inference": {"openai", "http", "mock"},
	"vad":       {"webrtc", "energy"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
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

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It expects
// defaults to have been applied and returns a joined error listing every
// failure found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if cfg.Server.HeartbeatInterval < 0 {
		errs = append(errs, fmt.Errorf("server.heartbeat_interval %s must not be negative", cfg.Server.HeartbeatInterval))
	}
	if cfg.Server.OutboundQueue < 1 {
		errs = append(errs, fmt.Errorf("server.outbound_queue %d must be at least 1", cfg.Server.OutboundQueue))
	}

	// Voices
	if !slices.Contains(cfg.Voices.Available, cfg.Voices.Default) {
		errs = append(errs, fmt.Errorf("voices.default %q is not listed in voices.available", cfg.Voices.Default))
	}

	// Session
	if cfg.Session.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("session.timeout %s must be positive", cfg.Session.Timeout))
	}
	if cfg.Session.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("session.sweep_interval %s must be positive", cfg.Session.SweepInterval))
	}

	// Segmenter and VAD
	seg := cfg.Segmenter
	if seg.InputSampleRate <= 0 {
		errs = append(errs, fmt.Errorf("segmenter.input_sample_rate %d must be positive", seg.InputSampleRate))
	}
	if seg.SpeechRatio < 0 || seg.SpeechRatio >= 1 {
		errs = append(errs, fmt.Errorf("segmenter.speech_ratio %.2f is out of range [0, 1)", seg.SpeechRatio))
	}
	if seg.BufferFlushFrames < 1 {
		errs = append(errs, fmt.Errorf("segmenter.buffer_flush_frames %d must be at least 1", seg.BufferFlushFrames))
	}
	if seg.SilenceFlushFrames < 1 {
		errs = append(errs, fmt.Errorf("segmenter.silence_flush_frames %d must be at least 1", seg.SilenceFlushFrames))
	}
	if n := vad.WindowSamples(cfg.VAD.ClassifyRate, int(seg.FrameDuration/time.Millisecond)); vad.ValidateWindow(n, cfg.VAD.ClassifyRate) != nil {
		errs = append(errs, fmt.Errorf("segmenter.frame_duration %s at vad.classify_rate %d is not a valid VAD window (10ms, 20ms or 30ms at 8/16/32/48 kHz)",
			seg.FrameDuration, cfg.VAD.ClassifyRate))
	}
	if cfg.VAD.EnergyThreshold < 0 || cfg.VAD.EnergyThreshold > 1 {
		errs = append(errs, fmt.Errorf("vad.energy_threshold %.3f is out of range [0, 1]", cfg.VAD.EnergyThreshold))
	}
	if m := cfg.VAD.WebRTCMode(); m < 0 || m > 3 {
		errs = append(errs, fmt.Errorf("vad.mode %d is out of range [0, 3]", m))
	}
	validateProviderName("vad", cfg.VAD.Name)

	// Inference
	validateProviderName("inference", cfg.Inference.Primary.Name)
	for i, fb := range cfg.Inference.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("inference.fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("inference", fb.Name)
	}
	if cfg.Inference.Timeout < 0 {
		errs = append(errs, fmt.Errorf("inference.timeout %s must not be negative", cfg.Inference.Timeout))
	}
	if cfg.Inference.CircuitBreaker.MaxFailures < 1 {
		errs = append(errs, fmt.Errorf("inference.circuit_breaker.max_failures %d must be at least 1", cfg.Inference.CircuitBreaker.MaxFailures))
	}
	if cfg.Inference.Primary.Name == "http" && cfg.Inference.Primary.BaseURL == "" {
		errs = append(errs, errors.New("inference.primary.base_url is required for the http backend"))
	}

	// Codec
	if cfg.Codec.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("codec.sample_rate %d must be positive", cfg.Codec.SampleRate))
	}

	// Archive
	if cfg.Archive.PostgresDSN == "" {
		slog.Debug("archive.postgres_dsn is empty; ended conversations will not be archived")
	}
	if cfg.Archive.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("archive.queue_size %d must be at least 1", cfg.Archive.QueueSize))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
