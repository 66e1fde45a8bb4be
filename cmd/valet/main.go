// Command valet is the main entry point for the valet voice assistant.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/valet/internal/app"
	"github.com/MrWong99/valet/internal/config"
	"github.com/MrWong99/valet/internal/observe"
	"github.com/MrWong99/valet/internal/resilience"
	"github.com/MrWong99/valet/pkg/audio/portaudio"
	"github.com/MrWong99/valet/pkg/audio/speaker"
	"github.com/MrWong99/valet/pkg/provider/llm"
	"github.com/MrWong99/valet/pkg/provider/llm/anyllm"
	"github.com/MrWong99/valet/pkg/provider/stt"
	"github.com/MrWong99/valet/pkg/provider/stt/deepgram"
	sttopenai "github.com/MrWong99/valet/pkg/provider/stt/openai"
	"github.com/MrWong99/valet/pkg/provider/stt/whisper"
	"github.com/MrWong99/valet/pkg/provider/tts"
	"github.com/MrWong99/valet/pkg/provider/tts/coqui"
	"github.com/MrWong99/valet/pkg/provider/tts/elevenlabs"
	ttsopenai "github.com/MrWong99/valet/pkg/provider/tts/openai"
	"github.com/MrWong99/valet/pkg/provider/tts/piper"
	"github.com/MrWong99/valet/pkg/provider/wakeword/phonetic"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envPath := flag.String("env", ".env", "path to an optional dotenv file")
	watch := flag.Bool("watch", true, "reload hot settings when the config file changes")
	flag.Parse()

	if err := config.LoadDotEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "valet: %v\n", err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "valet: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "valet: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("valet starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "valet",
		ServiceVersion: version,
		Keywords:       cfg.Wake.Keywords,
		SampleRate:     cfg.Audio.SampleRate,
		FrameLength:    cfg.Audio.FrameLength,
		STTProvider:    cfg.Providers.STT.Name,
		TTSProvider:    cfg.Providers.TTS.Name,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg.Wake.Keywords)

	providers, closers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Audio hardware ────────────────────────────────────────────────────────
	if err := portaudio.Init(); err != nil {
		slog.Error("failed to initialise audio input", "err", err)
		return 1
	}
	closers = append(closers, portaudio.Terminate)
	providers.Mic = portaudio.Opener(
		portaudio.WithSampleRate(cfg.Audio.SampleRate),
		portaudio.WithFrameLength(cfg.Audio.FrameLength),
	)
	providers.Speaker = speaker.New()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	opts := []app.Option{app.WithLogLevel(&level)}
	for _, c := range closers {
		opts = append(opts, app.WithCloser(c))
	}
	opts = append(opts, app.WithCloser(func() error {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdownTelemetry(tctx)
	}))

	application, err := app.New(ctx, cfg, providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config reload ─────────────────────────────────────────────────────────
	if *watch {
		w, err := config.NewWatcher(*configPath, application.ApplyConfig)
		if err != nil {
			slog.Warn("config reload disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	slog.Info("valet ready, press Ctrl+C to shut down")

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// builtinProviders maps provider category names to the implementations that
// ship with valet. Used for startup logging.
var builtinProviders = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"whisper", "whisper-native", "openai", "deepgram"},
	"tts": {"piper", "coqui", "openai", "elevenlabs"},
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry, keywords []string) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	for _, providerName := range builtinProviders["llm"] {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Completer, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.StringOption("language", ""); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = entry.StringOption("model_path", "")
		}
		var opts []whisper.NativeOption
		if lang := entry.StringOption("language", ""); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []sttopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, sttopenai.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, sttopenai.WithModel(entry.Model))
		}
		if lang := entry.StringOption("language", ""); lang != "" {
			opts = append(opts, sttopenai.WithLanguage(lang))
		}
		return sttopenai.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		opts := []deepgram.Option{deepgram.WithKeywords(keywords...)}
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := entry.StringOption("language", ""); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("piper", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []piper.Option
		if bin := entry.StringOption("binary", ""); bin != "" {
			opts = append(opts, piper.WithBinary(bin))
		}
		if rate := entry.IntOption("sample_rate", 0); rate > 0 {
			opts = append(opts, piper.WithSampleRate(rate))
		}
		if id := entry.IntOption("speaker", -1); id >= 0 {
			opts = append(opts, piper.WithSpeaker(id))
		}
		return piper.New(entry.Model, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []coqui.Option
		if lang := entry.StringOption("language", ""); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := entry.StringOption("api_mode", ""); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if id := entry.StringOption("speaker", ""); id != "" {
			opts = append(opts, coqui.WithSpeaker(id))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []ttsopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, ttsopenai.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, ttsopenai.WithModel(entry.Model))
		}
		if voice := entry.StringOption("voice", ""); voice != "" {
			opts = append(opts, ttsopenai.WithVoice(voice))
		}
		return ttsopenai.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := entry.StringOption("output_format", ""); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithEndpoint(entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, entry.StringOption("voice_id", ""), opts...)
	})

	// Debug log of all registered providers.
	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates all providers named in cfg using the registry.
// Speech providers are wrapped in circuit-breaking fallback groups. The
// returned closers release native resources and run during shutdown.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, []func() error, error) {
	ps := &app.Providers{}
	var closers []func() error
	track := func(v any) {
		if c, ok := v.(interface{ Close() error }); ok {
			closers = append(closers, c.Close)
		}
	}
	fb := resilience.FallbackConfig{}

	// STT is required.
	rawSTT, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	track(rawSTT)
	ps.STT = resilience.NewTranscriber(rawSTT, cfg.Providers.STT.Name, fb)
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)

	// TTS is required; the fallback is optional.
	rawTTS, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, nil, fmt.Errorf("create tts provider %q: %w", cfg.Providers.TTS.Name, err)
	}
	track(rawTTS)
	synth := resilience.NewSynthesizer(rawTTS, cfg.Providers.TTS.Name, fb)
	slog.Info("provider created", "kind", "tts", "name", cfg.Providers.TTS.Name)
	if name := cfg.Providers.TTSFallback.Name; name != "" {
		p, err := reg.CreateTTS(cfg.Providers.TTSFallback)
		if err != nil {
			return nil, nil, fmt.Errorf("create tts fallback %q: %w", name, err)
		}
		track(p)
		synth.AddFallback(name, p)
		slog.Info("provider created", "kind", "tts_fallback", "name", name)
	}
	ps.TTS = synth

	// LLM is optional; without it only mode commands are understood.
	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Providers.LLM)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("unknown llm provider, continuing without one", "name", name)
		} else if err != nil {
			return nil, nil, fmt.Errorf("create llm provider %q: %w", name, err)
		} else {
			ps.LLM = resilience.NewCompleter(p, name, fb)
			slog.Info("provider created", "kind", "llm", "name", name)
		}
	}

	// The wake-word classifier transcribes short loud windows and matches
	// them phonetically against the keywords.
	clf, err := phonetic.New(ps.STT, cfg.Wake.Keywords,
		phonetic.WithEnergyThreshold(cfg.Wake.EnergyThreshold),
		phonetic.WithLanguage(cfg.Wake.Language),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create wake-word classifier: %w", err)
	}
	ps.Wake = clf

	return ps, closers, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          valet: startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("TTS fallback", cfg.Providers.TTSFallback.Name, cfg.Providers.TTSFallback.Model)
	fmt.Printf("║  Wake words      : %-19d ║\n", len(cfg.Wake.Keywords))
	fmt.Printf("║  Sample rate     : %-19d ║\n", cfg.Audio.SampleRate)
	if cfg.VAD.BargeInEnabled {
		fmt.Printf("║  Barge-in        : %-19s ║\n", "enabled")
	} else {
		fmt.Printf("║  Barge-in        : %-19s ║\n", "(disabled)")
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}
