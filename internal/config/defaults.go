package config

import (
	"time"

	"github.com/MrWong99/voxgate/internal/segmenter"
	"github.com/MrWong99/voxgate/internal/session"
	"github.com/MrWong99/voxgate/pkg/provider/vad/energy"
	"github.com/MrWong99/voxgate/pkg/types"
)

// Default values applied by [ApplyDefaults].
const (
	DefaultListenAddr        = ":8000"
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultOutboundQueue     = 16
	DefaultWriteTimeout      = 10 * time.Second
	DefaultVAD               = "webrtc"
	DefaultVADMode           = 3
	DefaultInference         = "openai"
	DefaultModel             = "Qwen/Qwen2.5-Omni-7B"
	DefaultArchiveQueue      = 64
	DefaultServiceName       = "voxgate"

	DefaultCircuitMaxFailures  = 5
	DefaultCircuitResetTimeout = 30 * time.Second
	DefaultCircuitHalfOpenMax  = 1

	// DefaultSystemPrompt is the instruction Qwen2.5-Omni expects before it
	// will produce speech output.
	DefaultSystemPrompt = "You are Qwen, a virtual human developed by the Qwen Team, Alibaba Group, " +
		"capable of perceiving auditory and visual inputs, as well as generating text and speech."
)

// ApplyDefaults fills zero-valued fields of cfg.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.ListenAddr == "" {
		s.ListenAddr = DefaultListenAddr
	}
	if s.LogLevel == "" {
		s.LogLevel = LogInfo
	}
	if s.LogFormat == "" {
		s.LogFormat = LogFormatText
	}
	if len(s.CORSOrigins) == 0 {
		s.CORSOrigins = []string{"*"}
	}
	if s.HeartbeatInterval == 0 {
		s.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if s.OutboundQueue == 0 {
		s.OutboundQueue = DefaultOutboundQueue
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = DefaultWriteTimeout
	}

	if len(cfg.Voices.Available) == 0 {
		for _, v := range types.DefaultVoices.Available {
			cfg.Voices.Available = append(cfg.Voices.Available, string(v))
		}
	}
	if cfg.Voices.Default == "" {
		cfg.Voices.Default = string(types.DefaultVoices.Default)
	}

	if cfg.Session.Timeout == 0 {
		cfg.Session.Timeout = session.DefaultTimeout
	}
	if cfg.Session.SweepInterval == 0 {
		cfg.Session.SweepInterval = session.DefaultSweepInterval
	}

	seg := &cfg.Segmenter
	if seg.InputSampleRate == 0 {
		seg.InputSampleRate = segmenter.DefaultSampleRate
	}
	if seg.FrameDuration == 0 {
		seg.FrameDuration = segmenter.DefaultWindow
	}
	if seg.SpeechRatio == 0 {
		seg.SpeechRatio = segmenter.DefaultSpeechRatio
	}
	if seg.BufferFlushFrames == 0 {
		seg.BufferFlushFrames = segmenter.DefaultBufferFlushFrames
	}
	if seg.SilenceFlushFrames == 0 {
		seg.SilenceFlushFrames = segmenter.DefaultSilenceFlushFrames
	}

	if cfg.VAD.Name == "" {
		cfg.VAD.Name = DefaultVAD
	}
	if cfg.VAD.EnergyThreshold == 0 {
		cfg.VAD.EnergyThreshold = energy.DefaultThreshold
	}
	if cfg.VAD.ClassifyRate == 0 {
		cfg.VAD.ClassifyRate = segmenter.DefaultClassifyRate
	}

	inf := &cfg.Inference
	if inf.Primary.Name == "" {
		inf.Primary.Name = DefaultInference
	}
	if inf.Primary.Model == "" && inf.Primary.Name == DefaultInference {
		inf.Primary.Model = DefaultModel
	}
	if inf.SystemPrompt == "" {
		inf.SystemPrompt = DefaultSystemPrompt
	}
	cb := &inf.CircuitBreaker
	if cb.MaxFailures == 0 {
		cb.MaxFailures = DefaultCircuitMaxFailures
	}
	if cb.ResetTimeout == 0 {
		cb.ResetTimeout = DefaultCircuitResetTimeout
	}
	if cb.HalfOpenMax == 0 {
		cb.HalfOpenMax = DefaultCircuitHalfOpenMax
	}

	if cfg.Codec.SampleRate == 0 {
		cfg.Codec.SampleRate = seg.InputSampleRate
	}

	if cfg.Archive.QueueSize == 0 {
		cfg.Archive.QueueSize = DefaultArchiveQueue
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}
