// Package scheduler runs the periodic background work of the assistant:
// firing reminders, idle escalation and draining one queued notification.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/MrWong99/valet/internal/notify"
	"github.com/MrWong99/valet/internal/state"
)

// DefaultInterval is how often the scheduler runs.
const DefaultInterval = 30 * time.Second

// dueWindow fires reminders that fall due before the next run.
const dueWindow = time.Minute

// ErrEmptyDescription is returned by [Scheduler.Add] for a blank reminder.
var ErrEmptyDescription = errors.New("scheduler: empty reminder description")

// Reminder is a one-shot spoken reminder.
type Reminder struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	At          time.Time `json:"at"`
	Fired       bool      `json:"fired"`
}

// Option configures a [Scheduler].
type Option func(*Scheduler)

// WithInterval overrides [DefaultInterval].
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler owns the reminders and drives the notification arbiter.
type Scheduler struct {
	arb      *notify.Arbiter
	st       *state.State
	speaker  notify.Speaker
	interval time.Duration
	now      func() time.Time
	cron     *cron.Cron

	mu        sync.Mutex
	reminders []Reminder
}

// New creates a Scheduler.
func New(arb *notify.Arbiter, st *state.State, speaker notify.Speaker, opts ...Option) *Scheduler {
	s := &Scheduler{
		arb:      arb,
		st:       st,
		speaker:  speaker,
		interval: DefaultInterval,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	logger := cronLogger{slog.Default()}
	s.cron = cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	return s
}

var _ notify.Reminders = (*Scheduler)(nil)

// Add schedules a reminder and returns its ID.
func (s *Scheduler) Add(description string, at time.Time) (string, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return "", ErrEmptyDescription
	}
	if at.IsZero() {
		return "", fmt.Errorf("scheduler: reminder %q has no time", description)
	}
	r := Reminder{ID: uuid.NewString(), Description: description, At: at}
	s.mu.Lock()
	s.reminders = append(s.reminders, r)
	s.mu.Unlock()
	slog.Info("scheduler: reminder added", "id", r.ID, "at", at)
	return r.ID, nil
}

// Reminders returns the pending reminders ordered by time.
func (s *Scheduler) Reminders() []Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Reminder, 0, len(s.reminders))
	for _, r := range s.reminders {
		if !r.Fired {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b Reminder) int { return a.At.Compare(b.At) })
	return out
}

// Run executes [Scheduler.RunOnce] every interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	id, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), func() { s.RunOnce(ctx) })
	if err != nil {
		return fmt.Errorf("scheduler: schedule: %w", err)
	}
	s.cron.Start()
	slog.Info("scheduler: started", "interval", s.interval)

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.cron.Remove(id)
	return nil
}

// RunOnce performs one scheduler pass: due reminders first, then idle
// escalation, then at most one queued notification. A pass that spoke an
// idle prompt leaves the queue for the next pass.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.fireDue(ctx)
	if s.arb.EscalateIdle(ctx) {
		return
	}
	s.arb.Tick(ctx)
}

func (s *Scheduler) fireDue(ctx context.Context) {
	now := s.now()
	var due []Reminder
	s.mu.Lock()
	for i := range s.reminders {
		r := &s.reminders[i]
		if r.Fired || r.At.Sub(now) >= dueWindow {
			continue
		}
		r.Fired = true
		due = append(due, *r)
	}
	s.reminders = slices.DeleteFunc(s.reminders, func(r Reminder) bool { return r.Fired })
	s.mu.Unlock()

	for _, r := range due {
		msg := "Sir, reminder: " + r.Description
		slog.Info("scheduler: reminder fired", "id", r.ID, "message", msg)
		if s.st.Gaming() || s.st.NotificationHold() {
			if _, err := s.arb.Submit(ctx, notify.Item{
				Source:   "Reminder",
				Message:  msg,
				Priority: notify.Routine,
			}); err != nil {
				slog.Warn("scheduler: queue reminder", "err", err)
			}
			continue
		}
		s.speaker.Speak(ctx, msg)
	}
}

// cronLogger adapts slog to [cron.Logger].
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("scheduler: cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("scheduler: cron: "+msg, append(keysAndValues, "err", err)...)
}
