// Package app wires all valet subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the voice loop next to the HTTP server and the
// notification scheduler, and Shutdown tears everything down in order.
//
// For testing, pass mock providers and inject collaborators via functional
// options (WithState, WithHandler, etc.).
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/valet/internal/command"
	"github.com/MrWong99/valet/internal/config"
	"github.com/MrWong99/valet/internal/dashboard"
	"github.com/MrWong99/valet/internal/health"
	"github.com/MrWong99/valet/internal/notify"
	"github.com/MrWong99/valet/internal/observe"
	"github.com/MrWong99/valet/internal/resilience"
	"github.com/MrWong99/valet/internal/scheduler"
	"github.com/MrWong99/valet/internal/state"
	"github.com/MrWong99/valet/internal/transcript/phonetic"
	"github.com/MrWong99/valet/internal/voice/bargein"
	"github.com/MrWong99/valet/internal/voice/capture"
	"github.com/MrWong99/valet/internal/voice/playback"
	"github.com/MrWong99/valet/internal/voice/wake"
	"github.com/MrWong99/valet/pkg/audio"
	"github.com/MrWong99/valet/pkg/provider/llm"
	"github.com/MrWong99/valet/pkg/provider/stt"
	"github.com/MrWong99/valet/pkg/provider/tts"
	"github.com/MrWong99/valet/pkg/provider/wakeword"
)

const (
	readHeaderTimeout = 10 * time.Second
	serverStopTimeout = 5 * time.Second
)

// Providers holds one value per provider slot. LLM may be nil, in which case
// only the built-in mode commands are understood. Populated by main.go via
// the config registry.
type Providers struct {
	STT     stt.Transcriber
	TTS     tts.Synthesizer
	LLM     llm.Completer
	Wake    wakeword.Classifier
	Mic     audio.Opener
	Speaker audio.Player
}

// readiness is implemented by providers that can report whether they are
// able to serve, e.g. the resilience fallback wrappers.
type readiness interface {
	Ready(ctx context.Context) error
}

// App owns all subsystem lifetimes and orchestrates the voice pipeline.
type App struct {
	providers *Providers
	metrics   *observe.Metrics
	level     *slog.LevelVar

	mu  sync.Mutex
	cfg *config.Config

	// Subsystems, initialised in New.
	state     *state.State
	device    *audio.Device
	wake      *wake.Monitor
	capturer  *capture.Capturer
	bargeIn   *bargein.Monitor
	speaker   *playback.Controller
	arbiter   *notify.Arbiter
	scheduler *scheduler.Scheduler
	hub       *dashboard.Hub
	health    *health.Handler
	handler   command.Handler
	loop      *Loop
	mux       *http.ServeMux

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithState injects the shared state instead of creating a fresh one.
func WithState(st *state.State) Option {
	return func(a *App) { a.state = st }
}

// WithHandler replaces the default command chain.
func WithHandler(h command.Handler) Option {
	return func(a *App) { a.handler = h }
}

// WithMetrics overrides the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets config reloads adjust the level of the default logger.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithCloser registers fn to run during Shutdown, after the subsystems
// created by New.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.STT == nil || providers.TTS == nil ||
		providers.Wake == nil || providers.Mic == nil || providers.Speaker == nil {
		return nil, errors.New("app: stt, tts, wake, mic and speaker providers are required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	// Closers from options run last.
	extra := a.closers
	a.closers = nil
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.state == nil {
		a.state = state.New()
	}

	// ── 1. Microphone ────────────────────────────────────────────────────
	a.device = audio.NewDevice(providers.Mic)

	// ── 2. Playback and barge-in ─────────────────────────────────────────
	a.bargeIn = bargein.New(a.device, a.state, bargeInConfig(cfg), bargein.WithMetrics(a.metrics))
	a.speaker = playback.New(providers.TTS, providers.Speaker, a.state,
		playback.WithBargeIn(a.bargeIn),
		playback.WithConfig(playback.Config{
			SettleDelay:  cfg.Playback.SettleDelay.D(),
			PollInterval: cfg.Playback.PollInterval.D(),
		}),
		playback.WithMetrics(a.metrics),
	)
	a.closers = append(a.closers, func() error {
		a.bargeIn.Deactivate()
		return nil
	})

	// ── 3. Notifications ─────────────────────────────────────────────────
	a.arbiter = notify.New(a.state, a.speaker,
		notify.WithConfig(notifyConfig(cfg)),
		notify.WithMetrics(a.metrics),
	)
	a.scheduler = scheduler.New(a.arbiter, a.state, a.speaker,
		scheduler.WithInterval(cfg.Notifications.SchedulerInterval.D()),
	)
	a.closers = append(a.closers, func() error {
		a.arbiter.Wait()
		return nil
	}, a.device.Close)

	// ── 4. Wake word and capture ─────────────────────────────────────────
	a.wake = wake.New(a.device, providers.Wake, a.state,
		wake.WithRefresher(a.arbiter),
		wake.WithMetrics(a.metrics),
	)
	a.capturer = capture.New(a.device, a.state, captureConfig(cfg), capture.WithMetrics(a.metrics))

	// ── 5. Command handling ──────────────────────────────────────────────
	if a.handler == nil {
		chain := command.Chain{command.NewModeHandler(a.state)}
		if providers.LLM != nil {
			chain = append(chain, command.NewLLMHandler(providers.LLM))
		}
		a.handler = chain
	}

	// ── 6. Voice loop ────────────────────────────────────────────────────
	a.loop = NewLoop(LoopDeps{
		State:       a.state,
		Device:      a.device,
		Wake:        a.wake,
		Capturer:    a.capturer,
		Speaker:     a.speaker,
		Arbiter:     a.arbiter,
		Transcriber: providers.STT,
		Handler:     a.handler,
		Matcher:     phonetic.New(),
		Metrics:     a.metrics,
	}, LoopConfig{
		Keywords:   cfg.Wake.Keywords,
		Language:   cfg.Wake.Language,
		AckText:    cfg.Audio.Acknowledgement,
		StartRetry: resilience.DefaultRetryConfig(),
	})
	a.loop.PrepareAck(ctx, providers.TTS)

	// ── 7. HTTP surface ──────────────────────────────────────────────────
	a.initHTTP(cfg)

	a.closers = append(a.closers, extra...)
	return a, nil
}

// initHTTP builds the mux serving webhooks, dashboard, metrics and health.
func (a *App) initHTTP(cfg *config.Config) {
	a.hub = dashboard.New(a.state, dashboard.WithOriginPatterns(cfg.Server.DashboardOrigins...))

	checks := []health.Checker{
		health.Func("microphone", a.microphoneReady),
	}
	if r, ok := a.providers.STT.(readiness); ok {
		checks = append(checks, health.Func("stt", r.Ready))
	}
	if r, ok := a.providers.TTS.(readiness); ok {
		checks = append(checks, health.Func("tts", r.Ready))
	}
	a.health = health.New(checks, health.WithStatus(func() any { return a.state.Snapshot() }))

	a.mux = http.NewServeMux()
	notify.NewWebhooks(a.arbiter, a.state, notify.WithReminders(a.scheduler)).Register(a.mux)
	a.health.Register(a.mux)
	a.mux.Handle("GET /ws", a.hub)
	a.mux.Handle("GET /metrics", promhttp.Handler())
}

// microphoneReady reports whether capture can proceed. A closed microphone
// is expected while gaming or when listening is off.
func (a *App) microphoneReady(ctx context.Context) error {
	if a.state.Gaming() || !a.state.Listening() || a.device.Opened() {
		return nil
	}
	l, err := a.device.Acquire(ctx)
	if err != nil {
		return err
	}
	audio.ReleaseQuietly(l, "health")
	return nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// State returns the shared assistant state.
func (a *App) State() *state.State { return a.state }

// Arbiter returns the notification arbiter.
func (a *App) Arbiter() *notify.Arbiter { return a.arbiter }

// Scheduler returns the reminder scheduler.
func (a *App) Scheduler() *scheduler.Scheduler { return a.scheduler }

// Handler returns the HTTP handler with metrics middleware applied.
func (a *App) Handler() http.Handler {
	return observe.Middleware(a.metrics)(a.mux)
}

// Config returns the configuration currently in effect.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the voice loop, the notification scheduler, the dashboard hub
// and (when a listen address is configured) the HTTP server. It blocks until
// ctx is cancelled or one of them fails and returns the first error.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if addr := a.Config().Server.ListenAddr; addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("app: listen %s: %w", addr, err)
		}
		srv := &http.Server{
			Handler:           a.Handler(),
			ReadHeaderTimeout: readHeaderTimeout,
		}
		g.Go(func() error {
			slog.Info("app: http server listening", "addr", ln.Addr().String())
			if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), serverStopTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	g.Go(func() error { return a.scheduler.Run(ctx) })
	g.Go(func() error { return a.hub.Run(ctx) })
	g.Go(func() error { return a.loop.Run(ctx) })

	slog.Info("app running", "keywords", a.Config().Wake.Keywords)
	return g.Wait()
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable parts of next. It is meant as the
// [config.Watcher] change callback.
func (a *App) ApplyConfig(old, next *config.Config) {
	d := config.Diff(old, next)
	if d.Empty() {
		return
	}
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Level())
		slog.Info("app: log level changed", "level", d.NewLogLevel)
	}
	if d.VADChanged {
		a.capturer.SetConfig(captureConfig(next))
		slog.Info("app: vad settings reloaded")
	}
	if d.BargeInChanged {
		a.bargeIn.SetConfig(bargeInConfig(next))
		slog.Info("app: barge-in settings reloaded", "enabled", next.VAD.BargeInEnabled)
	}
	if d.NotificationsChanged {
		a.arbiter.SetConfig(notifyConfig(next))
		slog.Info("app: notification settings reloaded")
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("app: config changes need a restart", "sections", d.RestartRequired)
	}

	a.mu.Lock()
	a.cfg = next
	a.mu.Unlock()
}

func captureConfig(cfg *config.Config) capture.Config {
	return capture.Config{
		EnergyThreshold:   cfg.VAD.EnergyThreshold,
		SilenceDuration:   cfg.VAD.SilenceDuration.D(),
		MinSpeechDuration: cfg.VAD.MinSpeechDuration.D(),
		MaxListenTime:     cfg.VAD.MaxListenTime.D(),
		MicGain:           cfg.VAD.MicGain,
	}
}

func bargeInConfig(cfg *config.Config) bargein.Config {
	return bargein.Config{
		Enabled:   cfg.VAD.BargeInEnabled,
		Threshold: cfg.VAD.BargeInThreshold,
		Delay:     cfg.VAD.BargeInDelay.D(),
	}
}

func notifyConfig(cfg *config.Config) notify.Config {
	return notify.Config{
		Cooldown:       cfg.Notifications.Cooldown.D(),
		CaptureTimeout: cfg.Notifications.CommandCaptureTimeout.D(),
		IdleThreshold:  cfg.Notifications.IdleThreshold.D(),
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases all resources. It is safe to call multiple times; only the
// first call has any effect. It respects the deadline in ctx.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		slog.Info("shutting down...")

		done := make(chan error, 1)
		go func() {
			var errs []error
			for _, fn := range a.closers {
				if err := fn(); err != nil {
					errs = append(errs, err)
				}
			}
			done <- errors.Join(errs...)
		}()

		select {
		case err = <-done:
		case <-ctx.Done():
			err = fmt.Errorf("app: shutdown: %w", ctx.Err())
		}
	})
	return err
}
