// Package resilience keeps the speech providers usable when a backend
// misbehaves.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open) that
// stops hammering a synthesizer or transcriber that keeps failing.
// [FallbackGroup] chains a primary provider with fallbacks, each behind its
// own breaker, and the typed wrappers ([Synthesizer], [Transcriber],
// [Completer]) expose a group as the ordinary provider interface. [Retry]
// covers startup work such as opening the microphone.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/valet/pkg/provider/stt"
	"github.com/MrWong99/valet/pkg/provider/tts"
)

// ErrCircuitOpen is returned while a backend is benched.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until ResetTimeout has
	// passed since the last failure.
	StateOpen

	// StateHalfOpen lets up to HalfOpenMax trial calls through. One failure
	// re-opens the breaker, HalfOpenMax successes close it.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Verdict is what one call result means for the health of a backend.
type Verdict int

const (
	// Healthy resets the failure streak.
	Healthy Verdict = iota
	// Unhealthy counts toward opening the breaker.
	Unhealthy
	// Neutral leaves the counters alone. The call said nothing about the
	// backend, so trying another backend is pointless as well.
	Neutral
)

// ClassifySpeechError is the default [Verdict] function for STT and TTS
// backends.
//
// A barge-in or shutdown cancels synthesis and transcription midway, and an
// empty utterance or reply never reaches the backend; all of them are
// Neutral. A deadline is Unhealthy: a synthesizer that cannot produce a
// reply within the request timeout leaves the user waiting.
func ClassifySpeechError(err error) Verdict {
	switch {
	case err == nil:
		return Healthy
	case errors.Is(err, context.Canceled),
		errors.Is(err, stt.ErrNoAudio),
		errors.Is(err, tts.ErrEmptyText):
		return Neutral
	default:
		return Unhealthy
	}
}

// CircuitBreakerConfig holds the tuning of a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels log lines and readiness errors, e.g. "piper".
	Name string

	// MaxFailures is the Unhealthy streak that opens the breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long an open breaker benches the backend.
	// Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of trial calls allowed after the bench time
	// and the number of successes needed to close again. Default: 3.
	HalfOpenMax int

	// Classify maps a call result to a [Verdict]. Default:
	// [ClassifySpeechError].
	Classify func(error) Verdict

	// Now overrides the clock. Default: time.Now.
	Now func() time.Time
}

// CircuitBreaker benches a speech backend after repeated failures so that
// callers fall through to the next backend without waiting on a dead one.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int
	classify     func(error) Verdict
	now          func() time.Time

	mu              sync.Mutex
	state           State
	consecutiveFail int
	lastFailure     time.Time
	trialCalls      int
	trialOK         int
}

// NewCircuitBreaker returns a closed breaker. Zero fields of cfg take their
// defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if cfg.Classify == nil {
		cfg.Classify = ClassifySpeechError
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		classify:     cfg.Classify,
		now:          cfg.Now,
		state:        StateClosed,
	}
}

// Name returns the label given at construction.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Neutral reports whether err says nothing about the backend.
func (cb *CircuitBreaker) Neutral(err error) bool {
	return err != nil && cb.classify(err) == Neutral
}

// Ready returns nil unless the breaker is open. The health endpoint reports
// it for each speech backend.
func (cb *CircuitBreaker) Ready() error {
	if cb.State() == StateOpen {
		return fmt.Errorf("resilience: %s: %w", cb.name, ErrCircuitOpen)
	}
	return nil
}

// Execute runs fn unless the backend is benched, in which case it returns
// [ErrCircuitOpen] without calling fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastFailure) < cb.resetTimeout {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.trialCalls = 0
		cb.trialOK = 0
		slog.Info("resilience: breaker half-open", "name", cb.name)
	case StateHalfOpen:
		if cb.trialCalls >= cb.halfOpenMax {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
	}
	trial := cb.state == StateHalfOpen
	if trial {
		cb.trialCalls++
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.classify(err) {
	case Neutral:
		if trial {
			cb.trialCalls--
		}
	case Unhealthy:
		cb.recordFailure(trial, err)
	default:
		cb.recordSuccess(trial)
	}
	return err
}

// recordFailure must be called with cb.mu held.
func (cb *CircuitBreaker) recordFailure(trial bool, err error) {
	cb.lastFailure = cb.now()

	if trial {
		cb.state = StateOpen
		cb.consecutiveFail = cb.maxFailures
		slog.Warn("resilience: breaker re-opened", "name", cb.name, "err", err)
		return
	}
	cb.consecutiveFail++
	if cb.consecutiveFail >= cb.maxFailures {
		cb.state = StateOpen
		slog.Warn("resilience: breaker opened",
			"name", cb.name,
			"consecutive_failures", cb.consecutiveFail,
			"err", err)
	}
}

// recordSuccess must be called with cb.mu held.
func (cb *CircuitBreaker) recordSuccess(trial bool) {
	if trial {
		cb.trialOK++
		if cb.trialOK >= cb.halfOpenMax {
			cb.state = StateClosed
			cb.consecutiveFail = 0
			cb.trialCalls = 0
			cb.trialOK = 0
			slog.Info("resilience: breaker closed", "name", cb.name)
		}
		return
	}
	cb.consecutiveFail = 0
}

// State returns the current state. An open breaker whose bench time is over
// reports [StateHalfOpen]; the switch itself happens on the next Execute.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.lastFailure) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.consecutiveFail = 0
	cb.trialCalls = 0
	cb.trialOK = 0
	slog.Info("resilience: breaker reset", "name", cb.name)
}
