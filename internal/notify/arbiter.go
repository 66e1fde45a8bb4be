package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/valet/internal/observe"
	"github.com/MrWong99/valet/internal/state"
	"github.com/MrWong99/valet/internal/transcript"
	"github.com/MrWong99/valet/internal/voice/playback"
)

// ErrEmptyMessage is returned by [Arbiter.Submit] for items without text.
var ErrEmptyMessage = errors.New("notify: empty message")

// Speaker speaks text and reports how playback ended. It is satisfied by
// *playback.Controller.
type Speaker interface {
	Speak(ctx context.Context, text string) playback.Result
}

// Outcome reports what [Arbiter.Submit] did with an item.
type Outcome string

const (
	OutcomeSpoken   Outcome = "spoken"
	OutcomeQueued   Outcome = "queued"
	OutcomeDeferred Outcome = "deferred"
	OutcomeUrgent   Outcome = "urgent"
)

// Config holds the arbitration timings.
type Config struct {
	// Cooldown is the minimum time between two immediate High announcements.
	Cooldown time.Duration

	// CaptureTimeout releases a capture lock that was never ended.
	CaptureTimeout time.Duration

	// IdleThreshold is how long the user must be idle before an unannounced
	// High item is mentioned proactively.
	IdleThreshold time.Duration
}

// DefaultConfig returns the default arbitration timings.
func DefaultConfig() Config {
	return Config{
		Cooldown:       10 * time.Second,
		CaptureTimeout: 15 * time.Second,
		IdleThreshold:  60 * time.Second,
	}
}

// Option configures an [Arbiter].
type Option func(*Arbiter)

// WithConfig replaces [DefaultConfig].
func WithConfig(cfg Config) Option {
	return func(a *Arbiter) { a.cfg = cfg }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Arbiter) { a.now = now }
}

// WithMetrics records notification outcomes and queue depth.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Arbiter) { a.metrics = m }
}

// Arbiter owns the notification queue and the command capture lock.
type Arbiter struct {
	st      *state.State
	speaker Speaker
	queue   *Queue
	keys    *ShortKeys
	now     func() time.Time
	metrics *observe.Metrics

	mu       sync.Mutex
	cfg      Config
	lastHigh time.Time
	urgent   []Item

	inflight sync.WaitGroup
}

// New creates an Arbiter.
func New(st *state.State, speaker Speaker, opts ...Option) *Arbiter {
	a := &Arbiter{
		st:      st,
		speaker: speaker,
		queue:   NewQueue(),
		keys:    NewShortKeys(),
		now:     time.Now,
		cfg:     DefaultConfig(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	return a
}

// SetConfig applies new timings to subsequent decisions.
func (a *Arbiter) SetConfig(cfg Config) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg = cfg
}

func (a *Arbiter) config() Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// Queue returns the underlying queue.
func (a *Arbiter) Queue() *Queue { return a.queue }

// Submit routes one notification. High items that are spoken immediately
// play in the background; [Arbiter.Wait] blocks until they finish.
func (a *Arbiter) Submit(ctx context.Context, item Item) (Outcome, error) {
	if item.Message == "" {
		return "", ErrEmptyMessage
	}
	now := a.now()
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Timestamp.IsZero() {
		item.Timestamp = now
	}
	if item.ShortKey == "" {
		item.ShortKey = a.keys.Next(keyKind(item), now)
	}
	a.Refresh(now)

	log := slog.With("id", item.ID, "source", item.Source, "priority", item.Priority.String())
	var out Outcome
	switch item.Priority {
	case Urgent:
		a.mu.Lock()
		a.urgent = append(a.urgent, item)
		a.mu.Unlock()
		a.st.SetUrgent()
		if a.st.Speaking() {
			a.st.RequestInterrupt()
		}
		log.Warn("notify: urgent notification", "message", item.Message)
		out = OutcomeUrgent

	case High:
		switch {
		case a.st.NotificationHold() || a.st.AwaitingCommand():
			a.push(ctx, item)
			log.Info("notify: high notification deferred during command capture")
			out = OutcomeDeferred
		case a.st.Gaming():
			a.push(ctx, item)
			out = OutcomeQueued
		case a.takeCooldown(now):
			a.inflight.Add(1)
			go func() {
				defer a.inflight.Done()
				a.say(context.WithoutCancel(ctx), item.Message)
			}()
			out = OutcomeSpoken
		default:
			a.push(ctx, item)
			log.Debug("notify: high notification queued for cooldown")
			out = OutcomeQueued
		}

	default:
		a.push(ctx, item)
		out = OutcomeQueued
	}
	a.metrics.RecordNotification(ctx, item.Priority.String(), string(out))
	return out, nil
}

// takeCooldown reports whether the High cooldown has elapsed at now and, if
// so, starts a new cooldown window.
func (a *Arbiter) takeCooldown(now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.lastHigh.IsZero() && now.Sub(a.lastHigh) < a.cfg.Cooldown {
		return false
	}
	a.lastHigh = now
	return true
}

func (a *Arbiter) push(ctx context.Context, item Item) {
	a.queue.Push(item)
	a.metrics.QueueDepth.Add(ctx, 1)
}

// Wait blocks until every background announcement started by Submit has
// finished.
func (a *Arbiter) Wait() { a.inflight.Wait() }

// TakeUrgent removes the oldest pending urgent item. The shared urgent flag
// is cleared once none remain.
func (a *Arbiter) TakeUrgent() (Item, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.urgent) == 0 {
		a.st.TakeUrgent()
		return Item{}, false
	}
	item := a.urgent[0]
	a.urgent = a.urgent[1:]
	if len(a.urgent) == 0 {
		a.st.TakeUrgent()
	}
	return item, true
}

// ── Command capture lock ───────────────────────────────────────────────────

// BeginCapture engages the capture lock. Call it the moment a wake word fires.
func (a *Arbiter) BeginCapture() {
	a.st.BeginCapture(a.now())
	slog.Debug("notify: command capture lock enabled")
}

// EndCapture releases the capture lock.
func (a *Arbiter) EndCapture() {
	if a.st.EndCapture() {
		slog.Debug("notify: command capture lock released")
	}
}

// Refresh releases the capture lock when it has been held longer than the
// capture timeout. It reports whether it did so.
func (a *Arbiter) Refresh(now time.Time) bool {
	if !a.st.AwaitingCommand() && !a.st.NotificationHold() {
		return false
	}
	started := a.st.CaptureStartedAt()
	if started.IsZero() || now.Sub(started) <= a.config().CaptureTimeout {
		return false
	}
	slog.Warn("notify: command capture lock timed out; releasing", "held", now.Sub(started).Round(time.Millisecond))
	return a.st.EndCapture()
}

// ── Scheduled work ─────────────────────────────────────────────────────────

// Tick speaks at most one queued item, and only when no command is being
// captured, gaming mode is off and nothing else is playing. It reports
// whether an item was spoken.
func (a *Arbiter) Tick(ctx context.Context) bool {
	a.Refresh(a.now())
	if a.st.NotificationHold() || a.st.AwaitingCommand() || a.st.Gaming() || a.st.Speaking() {
		return false
	}
	item, ok := a.queue.Pop()
	if !ok {
		return false
	}
	a.metrics.QueueDepth.Add(ctx, -1)
	slog.Info("notify: speaking queued notification", "id", item.ID, "priority", item.Priority.String())
	a.say(ctx, item.Message)
	a.metrics.RecordNotification(ctx, item.Priority.String(), "drained")
	return true
}

// EscalateIdle mentions the oldest unannounced High item once the user has
// been idle for longer than the idle threshold. Like [Arbiter.Tick] it stays
// quiet while a command is being captured. The item stays queued; the idle
// timer restarts so the prompt is not repeated every tick.
func (a *Arbiter) EscalateIdle(ctx context.Context) bool {
	now := a.now()
	a.Refresh(now)
	if a.st.NotificationHold() || a.st.AwaitingCommand() || a.st.Speaking() || a.st.Gaming() {
		return false
	}
	if a.st.IdleFor(now) <= a.config().IdleThreshold {
		return false
	}
	item, ok := a.queue.Announce(High)
	if !ok {
		return false
	}
	a.st.Touch(now)
	prompt := IdlePrompt(item)
	slog.Info("notify: idle alert", "id", item.ID, "prompt", prompt)
	a.say(ctx, prompt)
	a.metrics.RecordNotification(ctx, item.Priority.String(), "announced")
	return true
}

// IdlePrompt is the sentence spoken by [Arbiter.EscalateIdle].
func IdlePrompt(item Item) string {
	sender := item.Metadata["sender"]
	if sender == "" {
		sender = item.Source
	}
	if sender == "" {
		sender = "an unknown source"
	}
	key := item.ShortKey
	if key == "" {
		key = "a notification"
	}
	return fmt.Sprintf("Sir, you have a priority email [%s] from %s. Shall I display it?",
		key, transcript.SenderName(sender))
}

func (a *Arbiter) say(ctx context.Context, text string) {
	res := a.speaker.Speak(ctx, text)
	if res.Status == playback.Failed {
		slog.Warn("notify: announcement failed", "err", res.Err)
	}
}

func keyKind(item Item) string {
	if item.Metadata["sender"] != "" {
		return "e"
	}
	return "n"
}
