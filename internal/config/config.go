// Package config provides the configuration schema, loader, environment
// overrides, live reload and provider registry for valet.
package config

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity.
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

// Level maps l to the slog level. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
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

// Duration is a time.Duration that also accepts a bare number of seconds,
// e.g. "1.2" or 1.2, in YAML and environment variables.
type Duration time.Duration

// D returns d as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// String implements fmt.Stringer.
func (d Duration) String() string { return time.Duration(d).String() }

// Decode implements envconfig.Decoder.
func (d *Duration) Decode(value string) error {
	v, err := parseDuration(value)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	v, err := parseDuration(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*d = v
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

func parseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return Duration(secs * float64(time.Second)), nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return Duration(v), nil
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig    `yaml:"server"`
	Audio         AudioConfig     `yaml:"audio"`
	VAD           VADConfig       `yaml:"vad"`
	Wake          WakeConfig      `yaml:"wake"`
	Playback      PlaybackConfig  `yaml:"playback"`
	Notifications NotifyConfig    `yaml:"notifications"`
	Providers     ProvidersConfig `yaml:"providers"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the webhook, dashboard and metrics
	// server.
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// DashboardOrigins lists extra origins allowed to open the dashboard
	// websocket, e.g. "localhost:*".
	DashboardOrigins []string `yaml:"dashboard_origins"`
}

// AudioConfig selects the capture format.
type AudioConfig struct {
	SampleRate  int `yaml:"sample_rate"`
	FrameLength int `yaml:"frame_length"`

	// Acknowledgement is spoken after a wake word.
	Acknowledgement string `yaml:"acknowledgement"`
}

// VADConfig holds the energy voice-activity and barge-in settings.
type VADConfig struct {
	EnergyThreshold   float64  `yaml:"energy_threshold"`
	SilenceDuration   Duration `yaml:"silence_duration"`
	MinSpeechDuration Duration `yaml:"min_speech_duration"`
	MaxListenTime     Duration `yaml:"max_listen_time"`
	MicGain           float64  `yaml:"mic_gain"`

	BargeInEnabled   bool     `yaml:"barge_in_enabled"`
	BargeInThreshold float64  `yaml:"barge_in_threshold"`
	BargeInDelay     Duration `yaml:"barge_in_delay"`
}

// WakeConfig configures wake-word detection.
type WakeConfig struct {
	Keywords []string `yaml:"keywords"`

	// Language is the transcription language hint for wake windows and
	// commands.
	Language string `yaml:"language"`

	// EnergyThreshold gates which frames are transcribed while listening
	// for the wake word.
	EnergyThreshold float64 `yaml:"energy_threshold"`
}

// PlaybackConfig tunes the playback controller.
type PlaybackConfig struct {
	SettleDelay  Duration `yaml:"settle_delay"`
	PollInterval Duration `yaml:"poll_interval"`
}

// NotifyConfig tunes the notification arbiter and scheduler.
type NotifyConfig struct {
	Cooldown              Duration `yaml:"cooldown"`
	CommandCaptureTimeout Duration `yaml:"command_capture_timeout"`
	IdleThreshold         Duration `yaml:"idle_threshold"`
	SchedulerInterval     Duration `yaml:"scheduler_interval"`
}

// ProvidersConfig declares which provider implementation to use for each
// stage. Each field selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`
	TTS ProviderEntry `yaml:"tts"`

	// TTSFallback is tried when the primary synthesizer fails.
	TTSFallback ProviderEntry `yaml:"tts_fallback"`

	LLM ProviderEntry `yaml:"llm"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "whisper", "piper").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model, or a model file for local providers.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`
}

// StringOption returns Options[key] as a string, or def.
func (p ProviderEntry) StringOption(key, def string) string {
	if v, ok := p.Options[key]; ok {
		return fmt.Sprint(v)
	}
	return def
}

// IntOption returns Options[key] as an int, or def when absent or not a
// number.
func (p ProviderEntry) IntOption(key string, def int) int {
	switch v := p.Options[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Default returns a Config with every default applied. Config files are
// decoded on top of it, so a setting written as 0 stays 0.
func Default() *Config {
	cfg := &Config{
		VAD:           VADConfig{BargeInDelay: Duration(time.Second)},
		Playback:      PlaybackConfig{SettleDelay: Duration(800 * time.Millisecond)},
		Notifications: NotifyConfig{Cooldown: Duration(10 * time.Second)},
	}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills the zero fields of cfg whose zero value is not a usable
// setting. vad.barge_in_delay, playback.settle_delay and
// notifications.cooldown accept 0 and are only seeded by [Default].
func ApplyDefaults(cfg *Config) {
	setString(&cfg.Server.ListenAddr, "127.0.0.1:5001")
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	setInt(&cfg.Audio.SampleRate, 16000)
	setInt(&cfg.Audio.FrameLength, 512)
	setString(&cfg.Audio.Acknowledgement, "Yes?")

	setFloat(&cfg.VAD.EnergyThreshold, 500)
	setDuration(&cfg.VAD.SilenceDuration, 1200*time.Millisecond)
	setDuration(&cfg.VAD.MinSpeechDuration, 500*time.Millisecond)
	setDuration(&cfg.VAD.MaxListenTime, 30*time.Second)
	setFloat(&cfg.VAD.MicGain, 1.25)
	setFloat(&cfg.VAD.BargeInThreshold, 1500)

	if len(cfg.Wake.Keywords) == 0 {
		cfg.Wake.Keywords = []string{"hey valet"}
	}
	setString(&cfg.Wake.Language, "en")
	setFloat(&cfg.Wake.EnergyThreshold, 500)

	setDuration(&cfg.Playback.PollInterval, 50*time.Millisecond)

	setDuration(&cfg.Notifications.CommandCaptureTimeout, 15*time.Second)
	setDuration(&cfg.Notifications.IdleThreshold, 60*time.Second)
	setDuration(&cfg.Notifications.SchedulerInterval, 30*time.Second)

	setString(&cfg.Providers.STT.Name, "whisper")
	setString(&cfg.Providers.TTS.Name, "piper")
}

func setString(p *string, v string) {
	if *p == "" {
		*p = v
	}
}

func setInt(p *int, v int) {
	if *p == 0 {
		*p = v
	}
}

func setFloat(p *float64, v float64) {
	if *p == 0 {
		*p = v
	}
}

func setDuration(p *Duration, v time.Duration) {
	if *p == 0 {
		*p = Duration(v)
	}
}
