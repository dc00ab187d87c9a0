package config

import "time"

// ConfigDiff describes what changed between two configs. Only fields that
// can be applied without a restart are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	SessionTimeoutChanged bool
	NewSessionTimeout     time.Duration

	SystemPromptChanged bool
	NewSystemPrompt     string

	// RestartRequired lists sections that changed but only take effect after
	// a restart.
	RestartRequired []string
}

// Changed reports whether any hot-reloadable field changed.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.SessionTimeoutChanged || d.SystemPromptChanged
}

// Diff compares old and new configs.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Session.Timeout != new.Session.Timeout {
		d.SessionTimeoutChanged = true
		d.NewSessionTimeout = new.Session.Timeout
	}
	if old.Inference.SystemPrompt != new.Inference.SystemPrompt {
		d.SystemPromptChanged = true
		d.NewSystemPrompt = new.Inference.SystemPrompt
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !sameEntry(old.Inference.Primary, new.Inference.Primary) || len(old.Inference.Fallbacks) != len(new.Inference.Fallbacks) {
		d.RestartRequired = append(d.RestartRequired, "inference")
	}
	if old.Segmenter != new.Segmenter || !sameVAD(old.VAD, new.VAD) {
		d.RestartRequired = append(d.RestartRequired, "segmenter")
	}
	if old.Archive != new.Archive {
		d.RestartRequired = append(d.RestartRequired, "archive")
	}
	return d
}

func sameVAD(a, b VADConfig) bool {
	return a.Name == b.Name && a.EnergyThreshold == b.EnergyThreshold &&
		a.ClassifyRate == b.ClassifyRate && a.WebRTCMode() == b.WebRTCMode()
}

func sameEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.Model == b.Model && a.BaseURL == b.BaseURL && a.APIKey == b.APIKey
}
