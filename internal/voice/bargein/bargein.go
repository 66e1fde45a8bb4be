// Package bargein lets the user talk over the assistant.
//
// While a playback session is live the [Monitor] listens to the microphone
// and requests an interrupt as soon as a frame is louder than the barge-in
// threshold. The monitor waits out a warm-up delay before it touches the
// device so that the start of the assistant's own speech is not mistaken for
// the user.
package bargein

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/valet/internal/observe"
	"github.com/MrWong99/valet/internal/state"
	"github.com/MrWong99/valet/pkg/audio"
)

const (
	warmupPoll     = 100 * time.Millisecond
	idlePause      = 50 * time.Millisecond
	errorPause     = 50 * time.Millisecond
	interruptPause = 100 * time.Millisecond
	joinTimeout    = time.Second
)

// Config controls barge-in detection.
type Config struct {
	Enabled   bool
	Threshold float64
	Delay     time.Duration
}

// DefaultConfig returns barge-in disabled with the stock threshold and delay.
func DefaultConfig() Config {
	return Config{Threshold: 1500, Delay: time.Second}
}

// Option configures a [Monitor].
type Option func(*Monitor)

// WithMetrics overrides the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(mon *Monitor) { mon.metrics = m }
}

// Monitor runs at most one barge-in goroutine at a time.
type Monitor struct {
	dev     *audio.Device
	st      *state.State
	cfg     atomic.Pointer[Config]
	metrics *observe.Metrics

	// active is set by Activate and cleared only by the exiting goroutine.
	active atomic.Bool

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// New creates a Monitor.
func New(dev *audio.Device, st *state.State, cfg Config, opts ...Option) *Monitor {
	m := &Monitor{dev: dev, st: st}
	m.cfg.Store(&cfg)
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m
}

// SetConfig replaces the settings. It takes effect on the next activation.
func (m *Monitor) SetConfig(cfg Config) { m.cfg.Store(&cfg) }

// Config returns the current settings.
func (m *Monitor) Config() Config { return *m.cfg.Load() }

// Active reports whether a monitor goroutine is running.
func (m *Monitor) Active() bool { return m.active.Load() }

// Activate starts monitoring for the current playback. It is a no-op when
// barge-in is disabled, in conversation mode, or while a previous monitor is
// still running. It reports whether a new monitor was started.
func (m *Monitor) Activate() bool {
	cfg := m.Config()
	if !cfg.Enabled || m.st.Conversation() {
		return false
	}
	if !m.active.CompareAndSwap(false, true) {
		return false
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	m.mu.Lock()
	m.stop, m.done = stop, done
	m.mu.Unlock()

	go m.run(cfg, stop, done)
	return true
}

// Deactivate stops the running monitor and waits up to one second for it to
// exit. A monitor that does not exit in time keeps the active flag set, which
// blocks the next activation until it does.
func (m *Monitor) Deactivate() {
	m.mu.Lock()
	stop, done := m.stop, m.done
	m.stop, m.done = nil, nil
	m.mu.Unlock()
	if stop == nil {
		return
	}

	close(stop)
	t := time.NewTimer(joinTimeout)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
		slog.Warn("bargein: monitor did not stop in time")
	}
}

func (m *Monitor) run(cfg Config, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer m.active.Store(false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	if !m.warmup(ctx, cfg.Delay) {
		return
	}

	lease, err := m.dev.Acquire(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("bargein: acquire device", "err", err)
		}
		return
	}
	defer audio.ReleaseQuietly(lease, "bargein")
	slog.Debug("bargein: monitoring", "threshold", cfg.Threshold)

	for ctx.Err() == nil {
		if !m.st.Speaking() {
			pause(ctx, idlePause)
			continue
		}
		frame, err := lease.Read()
		if err != nil {
			if errors.Is(err, audio.ErrDeviceClosed) || errors.Is(err, audio.ErrAlreadyReleased) {
				return
			}
			m.metrics.RecordFrameError(ctx, "bargein")
			slog.Debug("bargein: frame read failed", "err", err)
			pause(ctx, errorPause)
			continue
		}
		if energy := frame.Energy(); energy > cfg.Threshold {
			slog.Info("bargein: user speech detected", "energy", energy)
			m.metrics.RecordBargeIn(ctx)
			m.st.RequestInterrupt()
			pause(ctx, interruptPause)
		}
	}
}

// warmup waits for delay while playback is still live. It reports false when
// playback ended or the monitor was stopped first.
func (m *Monitor) warmup(ctx context.Context, delay time.Duration) bool {
	deadline := time.NewTimer(delay)
	defer deadline.Stop()
	poll := time.NewTicker(warmupPoll)
	defer poll.Stop()

	for {
		changed := m.st.Changed()
		if !m.st.Speaking() {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return m.st.Speaking()
		case <-poll.C:
		case <-changed:
		}
	}
}

func pause(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
