// Package state holds the shared runtime flags of the voice core.
//
// Every flag has exactly one designated writer; other components only read it
// or, where noted, clear it. Flags are atomics so readers never block, and
// every mutation that changes a value is broadcast through [State.Changed] so
// loops can wait on a channel instead of sleeping.
//
// Writers:
//
//   - listening, gaming, muted, conversation: the mode controller (app and
//     dashboard toggles).
//   - speaking: the playback controller.
//   - interruptRequested: set by the barge-in monitor, the wake-word loop and
//     urgent notifications; cleared only by the playback controller.
//   - awaitingCommand, notificationHold, captureStartedAt: the command
//     capture lock.
//   - urgent: the notification arbiter; cleared by the main loop.
//   - lastInteraction: the main loop.
package state

import (
	"sync"
	"sync/atomic"
	"time"
)

// Mode is the coarse activity reported to observers.
type Mode string

const (
	ModeIdle      Mode = "idle"
	ModeListening Mode = "listening"
	ModeSpeaking  Mode = "speaking"
)

// Snapshot is a point-in-time copy of every flag.
type Snapshot struct {
	Mode               Mode      `json:"mode"`
	Listening          bool      `json:"listening"`
	Gaming             bool      `json:"gamingMode"`
	Muted              bool      `json:"muted"`
	Conversation       bool      `json:"conversationalMode"`
	Speaking           bool      `json:"speaking"`
	InterruptRequested bool      `json:"interruptRequested"`
	AwaitingCommand    bool      `json:"awaitingCommand"`
	NotificationHold   bool      `json:"notificationHold"`
	CaptureStartedAt   time.Time `json:"captureStartedAt,omitzero"`
	Urgent             bool      `json:"urgent"`
}

// State is the shared runtime state. The zero value is not usable; create
// one with [New].
type State struct {
	listening    atomic.Bool
	gaming       atomic.Bool
	muted        atomic.Bool
	conversation atomic.Bool

	speaking           atomic.Bool
	interruptRequested atomic.Bool
	interrupts         chan struct{}

	awaitingCommand  atomic.Bool
	notificationHold atomic.Bool
	captureStartedAt atomic.Int64

	urgent          atomic.Bool
	lastInteraction atomic.Int64

	mu      sync.Mutex
	changed chan struct{}
}

// New returns a State with listening enabled and every other flag cleared.
func New() *State {
	s := &State{
		interrupts: make(chan struct{}, 1),
		changed:    make(chan struct{}),
	}
	s.listening.Store(true)
	s.lastInteraction.Store(time.Now().UnixNano())
	return s
}

// Changed returns a channel that is closed on the next flag change.
func (s *State) Changed() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

func (s *State) notify() {
	s.mu.Lock()
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()
}

func (s *State) store(b *atomic.Bool, v bool) {
	if b.Swap(v) != v {
		s.notify()
	}
}

// ── Modes ──────────────────────────────────────────────────────────────────

// Listening reports whether the voice loops should run at all.
func (s *State) Listening() bool { return s.listening.Load() }

// SetListening starts or stops the voice loops.
func (s *State) SetListening(v bool) { s.store(&s.listening, v) }

// Gaming reports whether gaming mode (microphone off) is on.
func (s *State) Gaming() bool { return s.gaming.Load() }

// SetGaming toggles gaming mode. Enabling it also disables conversation mode.
func (s *State) SetGaming(v bool) {
	if v {
		s.store(&s.conversation, false)
	}
	s.store(&s.gaming, v)
}

// Muted reports whether the microphone is muted.
func (s *State) Muted() bool { return s.muted.Load() }

// SetMuted mutes or unmutes the microphone.
func (s *State) SetMuted(v bool) { s.store(&s.muted, v) }

// Conversation reports whether conversation mode (open mic, no wake word) is on.
func (s *State) Conversation() bool { return s.conversation.Load() }

// SetConversation toggles conversation mode. Enabling it is refused while
// gaming mode is on; the return value reports whether the request took effect.
func (s *State) SetConversation(v bool) bool {
	if v && s.gaming.Load() {
		return false
	}
	s.store(&s.conversation, v)
	return true
}

// ── Speaking and interruption ──────────────────────────────────────────────

// Speaking reports whether a playback session is live.
func (s *State) Speaking() bool { return s.speaking.Load() }

// BeginSpeaking marks a playback session as live and clears any stale
// interrupt request.
func (s *State) BeginSpeaking() {
	s.clearInterrupt()
	s.store(&s.speaking, true)
}

// EndSpeaking clears both the speaking flag and any interrupt request.
func (s *State) EndSpeaking() {
	s.store(&s.speaking, false)
	s.clearInterrupt()
}

// RequestInterrupt asks the live playback session to stop.
func (s *State) RequestInterrupt() {
	if !s.interruptRequested.Swap(true) {
		select {
		case s.interrupts <- struct{}{}:
		default:
		}
		s.notify()
	}
}

// InterruptRequested reports whether an interrupt is pending.
func (s *State) InterruptRequested() bool { return s.interruptRequested.Load() }

// Interrupts delivers a value whenever an interrupt is requested. The flag
// remains the source of truth; the channel only wakes waiters early.
func (s *State) Interrupts() <-chan struct{} { return s.interrupts }

func (s *State) clearInterrupt() {
	s.store(&s.interruptRequested, false)
	select {
	case <-s.interrupts:
	default:
	}
}

// ── Command capture ────────────────────────────────────────────────────────

// BeginCapture engages the command capture lock at now.
func (s *State) BeginCapture(now time.Time) {
	s.captureStartedAt.Store(now.UnixNano())
	s.awaitingCommand.Store(true)
	s.store(&s.notificationHold, true)
}

// EndCapture releases the command capture lock. It reports whether the lock
// was engaged.
func (s *State) EndCapture() bool {
	was := s.awaitingCommand.Swap(false)
	was = s.notificationHold.Swap(false) || was
	s.captureStartedAt.Store(0)
	if was {
		s.notify()
	}
	return was
}

// AwaitingCommand reports whether a wake word was heard and the command is
// still being captured or processed.
func (s *State) AwaitingCommand() bool { return s.awaitingCommand.Load() }

// NotificationHold reports whether notifications are held back.
func (s *State) NotificationHold() bool { return s.notificationHold.Load() }

// CaptureStartedAt returns when the capture lock was engaged, or the zero
// time when it is released.
func (s *State) CaptureStartedAt() time.Time {
	n := s.captureStartedAt.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// ── Urgent notifications ───────────────────────────────────────────────────

// SetUrgent raises the urgent flag for the main loop.
func (s *State) SetUrgent() { s.store(&s.urgent, true) }

// TakeUrgent clears the urgent flag and reports whether it was set.
func (s *State) TakeUrgent() bool {
	if s.urgent.Swap(false) {
		s.notify()
		return true
	}
	return false
}

// Urgent reports whether an urgent notification is pending.
func (s *State) Urgent() bool { return s.urgent.Load() }

// ── Interaction clock ──────────────────────────────────────────────────────

// Touch records a user interaction at now.
func (s *State) Touch(now time.Time) { s.lastInteraction.Store(now.UnixNano()) }

// IdleFor returns how long ago the last interaction happened.
func (s *State) IdleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, s.lastInteraction.Load()))
}

// ── Observation ────────────────────────────────────────────────────────────

// Mode returns the coarse activity for dashboards.
func (s *State) Mode() Mode {
	switch {
	case s.speaking.Load():
		return ModeSpeaking
	case s.awaitingCommand.Load():
		return ModeListening
	default:
		return ModeIdle
	}
}

// Snapshot copies every flag.
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		Mode:               s.Mode(),
		Listening:          s.Listening(),
		Gaming:             s.Gaming(),
		Muted:              s.Muted(),
		Conversation:       s.Conversation(),
		Speaking:           s.Speaking(),
		InterruptRequested: s.InterruptRequested(),
		AwaitingCommand:    s.AwaitingCommand(),
		NotificationHold:   s.NotificationHold(),
		CaptureStartedAt:   s.CaptureStartedAt(),
		Urgent:             s.Urgent(),
	}
}

// WaitChange blocks until the next flag change, until done is closed, or until
// timeout elapses. It reports whether a change was observed.
func (s *State) WaitChange(done <-chan struct{}, timeout time.Duration) bool {
	ch := s.Changed()
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ch:
		return true
	case <-done:
		return false
	case <-t.C:
		return false
	}
}
