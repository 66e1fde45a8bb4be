package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/valet/internal/config"
)

// These tests modify the process environment and therefore do not run in
// parallel.

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "valet.yaml")
	writeFile(t, path, "vad:\n  energy_threshold: 700\n  mic_gain: 2\n")

	t.Setenv("VAD_ENERGY_THRESHOLD", "900")
	t.Setenv("VAD_SILENCE_DURATION", "2.5")
	t.Setenv("VAD_BARGE_IN_ENABLED", "True")
	t.Setenv("NOTIFICATION_COOLDOWN", "30s")
	t.Setenv("LLM_MODEL", "gpt-4o-mini")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.VAD.EnergyThreshold != 900 {
		t.Errorf("energy_threshold = %v, want 900 from env", cfg.VAD.EnergyThreshold)
	}
	if cfg.VAD.MicGain != 2 {
		t.Errorf("mic_gain = %v, want 2 from file", cfg.VAD.MicGain)
	}
	if got := cfg.VAD.SilenceDuration.D(); got != 2500*time.Millisecond {
		t.Errorf("silence_duration = %v, want 2.5s", got)
	}
	if !cfg.VAD.BargeInEnabled {
		t.Error("barge_in_enabled not taken from env")
	}
	if got := cfg.Notifications.Cooldown.D(); got != 30*time.Second {
		t.Errorf("cooldown = %v, want 30s", got)
	}
	if cfg.Providers.LLM.Model != "gpt-4o-mini" {
		t.Errorf("llm model = %q", cfg.Providers.LLM.Model)
	}
}

func TestLoad_EnvClampedToo(t *testing.T) {
	t.Setenv("MIC_GAIN", "99")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.VAD.MicGain != 5 {
		t.Errorf("mic_gain = %v, want clamped 5", cfg.VAD.MicGain)
	}
}

func TestLoad_BadEnv(t *testing.T) {
	t.Setenv("VAD_ENERGY_THRESHOLD", "loud")

	if _, err := config.Load(""); err == nil {
		t.Fatal("expected error for non-numeric VAD_ENERGY_THRESHOLD")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	writeFile(t, envFile, "VALET_TEST_DOTENV=from-file\nVALET_TEST_KEEP=from-file\n")

	t.Setenv("VALET_TEST_KEEP", "from-env")
	// Registers cleanup for the variable the file introduces.
	t.Setenv("VALET_TEST_DOTENV", "")
	os.Unsetenv("VALET_TEST_DOTENV")

	if err := config.LoadDotEnv(envFile, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("VALET_TEST_DOTENV"); got != "from-file" {
		t.Errorf("VALET_TEST_DOTENV = %q", got)
	}
	if got := os.Getenv("VALET_TEST_KEEP"); got != "from-env" {
		t.Errorf("VALET_TEST_KEEP = %q, existing variables must win", got)
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	cfg, err := config.Load(filepath.Join("..", "..", "configs", "example.yaml"))
	if err != nil {
		t.Fatalf("Load(example.yaml): %v", err)
	}
	if cfg.Providers.STT.Name == "" || cfg.Providers.TTS.Name == "" {
		t.Errorf("example config lacks providers: %+v", cfg.Providers)
	}
	if got := cfg.Playback.SettleDelay.D(); got != 800*time.Millisecond {
		t.Errorf("settle_delay = %v, want 800ms", got)
	}
}
