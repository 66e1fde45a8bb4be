package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"whisper", "whisper-native", "openai", "deepgram"},
	"tts": {"piper", "coqui", "openai", "elevenlabs"},
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// validSampleRates are the capture rates the audio backends support.
var validSampleRates = []int{8000, 16000, 22050, 24000, 44100, 48000}

// Load reads the YAML configuration file at path, applies defaults and
// environment overrides, and validates the result. An empty path yields the
// defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()
		if cfg, err = decode(f); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}
	if err := finish(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// finish applies defaults and environment overrides, then validates.
func finish(cfg *Config) error {
	ApplyDefaults(cfg)
	if err := ApplyEnv(cfg); err != nil {
		return err
	}
	return Validate(cfg)
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. The environment is not consulted.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. Numeric
// settings outside their sane range are clamped with a warning; settings that
// cannot be repaired are returned as a joined error.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}

	// Audio
	if !slices.Contains(validSampleRates, cfg.Audio.SampleRate) {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is invalid; valid values: %v", cfg.Audio.SampleRate, validSampleRates))
	}
	clampInt("audio.frame_length", &cfg.Audio.FrameLength, 64, 4096)

	// VAD
	clampFloat("vad.energy_threshold", &cfg.VAD.EnergyThreshold, 50, 10000)
	clampDuration("vad.silence_duration", &cfg.VAD.SilenceDuration, 300*time.Millisecond, 5*time.Second)
	clampDuration("vad.min_speech_duration", &cfg.VAD.MinSpeechDuration, 100*time.Millisecond, 3*time.Second)
	clampDuration("vad.max_listen_time", &cfg.VAD.MaxListenTime, time.Second, 2*time.Minute)
	clampFloat("vad.mic_gain", &cfg.VAD.MicGain, 0.1, 5)
	clampFloat("vad.barge_in_threshold", &cfg.VAD.BargeInThreshold, 100, 20000)
	clampDuration("vad.barge_in_delay", &cfg.VAD.BargeInDelay, 0, 5*time.Second)

	// Wake
	for i, kw := range cfg.Wake.Keywords {
		if strings.TrimSpace(kw) == "" {
			errs = append(errs, fmt.Errorf("wake.keywords[%d] is empty", i))
		}
	}
	clampFloat("wake.energy_threshold", &cfg.Wake.EnergyThreshold, 50, 10000)

	// Playback
	clampDuration("playback.settle_delay", &cfg.Playback.SettleDelay, 0, 5*time.Second)
	clampDuration("playback.poll_interval", &cfg.Playback.PollInterval, 10*time.Millisecond, 500*time.Millisecond)

	// Notifications
	clampDuration("notifications.cooldown", &cfg.Notifications.Cooldown, 0, 10*time.Minute)
	clampDuration("notifications.command_capture_timeout", &cfg.Notifications.CommandCaptureTimeout, time.Second, 2*time.Minute)
	clampDuration("notifications.idle_threshold", &cfg.Notifications.IdleThreshold, 10*time.Second, time.Hour)
	clampDuration("notifications.scheduler_interval", &cfg.Notifications.SchedulerInterval, time.Second, 10*time.Minute)

	// Providers
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts.name is required"))
	}
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("tts", cfg.Providers.TTSFallback.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; only built-in voice commands will be answered")
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
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

func clampFloat(name string, v *float64, lo, hi float64) {
	if c := min(max(*v, lo), hi); c != *v {
		slog.Warn("config: value out of range; clamped", "field", name, "value", *v, "clamped", c)
		*v = c
	}
}

func clampInt(name string, v *int, lo, hi int) {
	if c := min(max(*v, lo), hi); c != *v {
		slog.Warn("config: value out of range; clamped", "field", name, "value", *v, "clamped", c)
		*v = c
	}
}

func clampDuration(name string, v *Duration, lo, hi time.Duration) {
	if c := Duration(min(max(v.D(), lo), hi)); c != *v {
		slog.Warn("config: value out of range; clamped", "field", name, "value", *v, "clamped", c)
		*v = c
	}
}
