package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked individually;
// everything else is reported through RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VADChanged covers the capture thresholds and timings.
	VADChanged bool

	// BargeInChanged covers barge_in_enabled, threshold and delay.
	BargeInChanged bool

	// NotificationsChanged covers cooldown, capture timeout and idle
	// threshold.
	NotificationsChanged bool

	// RestartRequired names changed sections that only take effect after a
	// restart.
	RestartRequired []string
}

// Empty reports whether d carries no change at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.VADChanged && !d.BargeInChanged &&
		!d.NotificationsChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	ov, nv := old.VAD, new.VAD
	if ov.EnergyThreshold != nv.EnergyThreshold ||
		ov.SilenceDuration != nv.SilenceDuration ||
		ov.MinSpeechDuration != nv.MinSpeechDuration ||
		ov.MaxListenTime != nv.MaxListenTime ||
		ov.MicGain != nv.MicGain {
		d.VADChanged = true
	}
	if ov.BargeInEnabled != nv.BargeInEnabled ||
		ov.BargeInThreshold != nv.BargeInThreshold ||
		ov.BargeInDelay != nv.BargeInDelay {
		d.BargeInChanged = true
	}

	on, nn := old.Notifications, new.Notifications
	if on.Cooldown != nn.Cooldown ||
		on.CommandCaptureTimeout != nn.CommandCaptureTimeout ||
		on.IdleThreshold != nn.IdleThreshold {
		d.NotificationsChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		!slices.Equal(old.Server.DashboardOrigins, new.Server.DashboardOrigins) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if !slices.Equal(old.Wake.Keywords, new.Wake.Keywords) ||
		old.Wake.Language != new.Wake.Language ||
		old.Wake.EnergyThreshold != new.Wake.EnergyThreshold {
		d.RestartRequired = append(d.RestartRequired, "wake")
	}
	if old.Playback != new.Playback {
		d.RestartRequired = append(d.RestartRequired, "playback")
	}
	if on.SchedulerInterval != nn.SchedulerInterval {
		d.RestartRequired = append(d.RestartRequired, "notifications.scheduler_interval")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}

	return d
}

func providersEqual(a, b ProvidersConfig) bool {
	return entryEqual(a.STT, b.STT) && entryEqual(a.TTS, b.TTS) &&
		entryEqual(a.TTSFallback, b.TTSFallback) && entryEqual(a.LLM, b.LLM)
}

func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) == 0 && len(b.Options) == 0 {
		return true
	}
	return reflect.DeepEqual(a.Options, b.Options)
}
