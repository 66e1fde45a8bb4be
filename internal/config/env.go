package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// envOverrides lists every setting that can be overridden from the
// environment. Process only touches variables that are set, so the struct is
// seeded from the file config and copied back afterwards.
type envOverrides struct {
	ListenAddr string   `envconfig:"LISTEN_ADDR"`
	LogLevel   LogLevel `envconfig:"LOG_LEVEL"`

	EnergyThreshold   float64  `envconfig:"VAD_ENERGY_THRESHOLD"`
	SilenceDuration   Duration `envconfig:"VAD_SILENCE_DURATION"`
	MinSpeechDuration Duration `envconfig:"VAD_MIN_SPEECH_DURATION"`
	MaxListenTime     Duration `envconfig:"MAX_LISTEN_TIME"`
	MicGain           float64  `envconfig:"MIC_GAIN"`
	BargeInEnabled    bool     `envconfig:"VAD_BARGE_IN_ENABLED"`
	BargeInThreshold  float64  `envconfig:"VAD_BARGE_IN_THRESHOLD"`
	BargeInDelay      Duration `envconfig:"VAD_BARGE_IN_DELAY"`

	Cooldown              Duration `envconfig:"NOTIFICATION_COOLDOWN"`
	CommandCaptureTimeout Duration `envconfig:"COMMAND_CAPTURE_TIMEOUT"`

	STTProvider string `envconfig:"STT_PROVIDER"`
	STTBaseURL  string `envconfig:"STT_BASE_URL"`
	STTAPIKey   string `envconfig:"STT_API_KEY"`
	TTSProvider string `envconfig:"TTS_PROVIDER"`
	TTSModel    string `envconfig:"TTS_MODEL"`
	TTSAPIKey   string `envconfig:"TTS_API_KEY"`
	LLMProvider string `envconfig:"LLM_PROVIDER"`
	LLMModel    string `envconfig:"LLM_MODEL"`
	LLMAPIKey   string `envconfig:"LLM_API_KEY"`
}

// LoadDotEnv loads KEY=value pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load %q: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides cfg with the environment variables that are set.
func ApplyEnv(cfg *Config) error {
	ov := envOverrides{
		ListenAddr:            cfg.Server.ListenAddr,
		LogLevel:              cfg.Server.LogLevel,
		EnergyThreshold:       cfg.VAD.EnergyThreshold,
		SilenceDuration:       cfg.VAD.SilenceDuration,
		MinSpeechDuration:     cfg.VAD.MinSpeechDuration,
		MaxListenTime:         cfg.VAD.MaxListenTime,
		MicGain:               cfg.VAD.MicGain,
		BargeInEnabled:        cfg.VAD.BargeInEnabled,
		BargeInThreshold:      cfg.VAD.BargeInThreshold,
		BargeInDelay:          cfg.VAD.BargeInDelay,
		Cooldown:              cfg.Notifications.Cooldown,
		CommandCaptureTimeout: cfg.Notifications.CommandCaptureTimeout,
		STTProvider:           cfg.Providers.STT.Name,
		STTBaseURL:            cfg.Providers.STT.BaseURL,
		STTAPIKey:             cfg.Providers.STT.APIKey,
		TTSProvider:           cfg.Providers.TTS.Name,
		TTSModel:              cfg.Providers.TTS.Model,
		TTSAPIKey:             cfg.Providers.TTS.APIKey,
		LLMProvider:           cfg.Providers.LLM.Name,
		LLMModel:              cfg.Providers.LLM.Model,
		LLMAPIKey:             cfg.Providers.LLM.APIKey,
	}
	if err := envconfig.Process("", &ov); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}

	cfg.Server.ListenAddr = ov.ListenAddr
	cfg.Server.LogLevel = ov.LogLevel
	cfg.VAD.EnergyThreshold = ov.EnergyThreshold
	cfg.VAD.SilenceDuration = ov.SilenceDuration
	cfg.VAD.MinSpeechDuration = ov.MinSpeechDuration
	cfg.VAD.MaxListenTime = ov.MaxListenTime
	cfg.VAD.MicGain = ov.MicGain
	cfg.VAD.BargeInEnabled = ov.BargeInEnabled
	cfg.VAD.BargeInThreshold = ov.BargeInThreshold
	cfg.VAD.BargeInDelay = ov.BargeInDelay
	cfg.Notifications.Cooldown = ov.Cooldown
	cfg.Notifications.CommandCaptureTimeout = ov.CommandCaptureTimeout
	cfg.Providers.STT.Name = ov.STTProvider
	cfg.Providers.STT.BaseURL = ov.STTBaseURL
	cfg.Providers.STT.APIKey = ov.STTAPIKey
	cfg.Providers.TTS.Name = ov.TTSProvider
	cfg.Providers.TTS.Model = ov.TTSModel
	cfg.Providers.TTS.APIKey = ov.TTSAPIKey
	cfg.Providers.LLM.Name = ov.LLMProvider
	cfg.Providers.LLM.Model = ov.LLMModel
	cfg.Providers.LLM.APIKey = ov.LLMAPIKey
	return nil
}
