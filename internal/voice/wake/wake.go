// Package wake runs keyword spotting over the shared microphone.
//
// A [Monitor] holds the device between wake words. It keeps reading frames
// and feeding the classifier until a keyword is detected, but hands the
// device over whenever another consumer (usually the barge-in monitor during
// a notification) is queued for it, and re-acquires it afterwards.
package wake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/valet/internal/observe"
	"github.com/MrWong99/valet/internal/state"
	"github.com/MrWong99/valet/pkg/audio"
	"github.com/MrWong99/valet/pkg/provider/wakeword"
)

var (
	// ErrPaused is returned by Next when gaming mode is on or listening is
	// off. The caller should release the device and wait for a mode change.
	ErrPaused = errors.New("wake: paused")

	// ErrStopped is returned by Next when the monitor holds no device lease.
	ErrStopped = errors.New("wake: not started")
)

const (
	errorPause = 10 * time.Millisecond
	mutedPause = 100 * time.Millisecond
)

// Event is one detected wake word.
type Event struct {
	KeywordIndex int
	Keyword      string
	At           time.Time
}

// Refresher is called once per iteration so that a stale command capture
// lock expires while the monitor waits.
type Refresher interface {
	Refresh(now time.Time) bool
}

// Option configures a [Monitor].
type Option func(*Monitor)

// WithRefresher sets the capture lock refreshed on every iteration.
func WithRefresher(r Refresher) Option {
	return func(m *Monitor) { m.refresher = r }
}

// WithMetrics overrides the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(mt *observe.Metrics) Option {
	return func(m *Monitor) { m.metrics = mt }
}

// Monitor spots wake words. Start, Next and Stop are called from the main
// loop goroutine.
type Monitor struct {
	dev       *audio.Device
	clf       wakeword.Classifier
	st        *state.State
	refresher Refresher
	metrics   *observe.Metrics

	mu    sync.Mutex
	lease *audio.Lease
}

// New creates a Monitor.
func New(dev *audio.Device, clf wakeword.Classifier, st *state.State, opts ...Option) *Monitor {
	m := &Monitor{dev: dev, clf: clf, st: st}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m
}

// Start acquires the device. It is a no-op when the monitor already holds it.
// Open failures are returned to the caller.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lease != nil {
		return nil
	}
	lease, err := m.dev.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("wake: start: %w", err)
	}
	m.lease = lease
	m.clf.Reset()
	slog.Debug("wake: monitoring", "keywords", m.clf.Keywords())
	return nil
}

// Running reports whether the monitor holds the device.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lease != nil
}

// Stop releases the device. Stop is idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	lease := m.lease
	m.lease = nil
	m.mu.Unlock()
	audio.ReleaseQuietly(lease, "wake")
}

// Next blocks until a wake word is heard. It returns [ErrPaused] when the
// runtime modes stop listening and ctx.Err() when ctx is done. Frame read and
// classification errors are logged and skipped.
func (m *Monitor) Next(ctx context.Context) (Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}
		if m.refresher != nil {
			m.refresher.Refresh(time.Now())
		}
		if m.st.Gaming() || !m.st.Listening() {
			return Event{}, ErrPaused
		}
		if m.st.Muted() {
			pause(ctx, mutedPause)
			continue
		}

		lease, err := m.current(ctx)
		if err != nil {
			return Event{}, err
		}

		frame, err := lease.Read()
		if err != nil {
			if errors.Is(err, audio.ErrDeviceClosed) {
				m.reacquire(ctx)
				continue
			}
			m.metrics.RecordFrameError(ctx, "wake")
			slog.Warn("wake: frame read failed", "err", err)
			pause(ctx, errorPause)
			continue
		}

		idx, err := m.clf.Process(ctx, frame)
		if err != nil {
			m.metrics.RecordFrameError(ctx, "wake")
			slog.Warn("wake: classify failed", "err", err)
			pause(ctx, errorPause)
			continue
		}
		if idx < 0 {
			continue
		}

		ev := Event{KeywordIndex: idx, At: time.Now()}
		if kws := m.clf.Keywords(); idx < len(kws) {
			ev.Keyword = kws[idx]
		}
		if m.st.Speaking() {
			m.st.RequestInterrupt()
		}
		m.metrics.RecordWake(ctx, ev.Keyword)
		slog.Info("wake: keyword detected", "keyword", ev.Keyword)
		return ev, nil
	}
}

// current returns the lease to read from, yielding the device first when
// another consumer is queued for it.
func (m *Monitor) current(ctx context.Context) (*audio.Lease, error) {
	m.mu.Lock()
	lease := m.lease
	m.mu.Unlock()
	if lease == nil {
		return nil, ErrStopped
	}
	if !m.dev.Contended() {
		return lease, nil
	}
	slog.Debug("wake: yielding device")
	if !m.reacquire(ctx) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrStopped
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lease == nil {
		return nil, ErrStopped
	}
	return m.lease, nil
}

// reacquire releases the current lease and queues for a new one behind any
// waiter. It reports false when ctx ended first, leaving the monitor stopped.
func (m *Monitor) reacquire(ctx context.Context) bool {
	m.mu.Lock()
	old := m.lease
	m.lease = nil
	m.mu.Unlock()
	audio.ReleaseQuietly(old, "wake")

	lease, err := m.dev.Acquire(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("wake: reacquire device", "err", err)
		}
		return false
	}
	m.mu.Lock()
	m.lease = lease
	m.mu.Unlock()
	m.clf.Reset()
	return true
}

func pause(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
