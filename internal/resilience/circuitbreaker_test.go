package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/valet/pkg/provider/stt"
	"github.com/MrWong99/valet/pkg/provider/tts"
)

var errTest = errors.New("test error")

// manualClock is a settable clock for breaker timing.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func fail() error    { return errTest }
func succeed() error { return nil }

// trip opens cb with n failures.
func trip(cb *CircuitBreaker, n int) {
	for range n {
		_ = cb.Execute(fail)
	}
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "piper"})
	if cb.maxFailures != 5 || cb.resetTimeout != 30*time.Second || cb.halfOpenMax != 3 {
		t.Errorf("defaults = %d/%v/%d, want 5/30s/3", cb.maxFailures, cb.resetTimeout, cb.halfOpenMax)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
	if cb.Name() != "piper" {
		t.Errorf("Name = %q", cb.Name())
	}
	if err := cb.Ready(); err != nil {
		t.Errorf("Ready = %v, want nil", err)
	}
}

func TestCircuitBreaker_Transitions(t *testing.T) {
	t.Parallel()

	clk := newManualClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "piper",
		MaxFailures:  2,
		ResetTimeout: 30 * time.Second,
		HalfOpenMax:  2,
		Now:          clk.Now,
	})

	// Two failures then a success keep it closed.
	_ = cb.Execute(fail)
	_ = cb.Execute(succeed)
	_ = cb.Execute(fail)
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed (success resets the streak)", cb.State())
	}

	_ = cb.Execute(fail)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}
	if err := cb.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if err := cb.Ready(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Ready = %v, want ErrCircuitOpen", err)
	}

	clk.Advance(29 * time.Second)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open before the reset timeout", cb.State())
	}
	clk.Advance(time.Second)
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open", cb.State())
	}

	// A failed trial call re-opens immediately.
	if err := cb.Execute(fail); !errors.Is(err, errTest) {
		t.Fatalf("trial err = %v", err)
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open after a failed trial call", cb.State())
	}

	clk.Advance(30 * time.Second)
	for i := range 2 {
		if err := cb.Execute(succeed); err != nil {
			t.Fatalf("trial %d: %v", i, err)
		}
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after successful trial calls", cb.State())
	}
}

func TestCircuitBreaker_CancellationIsNeutral(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "whisper", MaxFailures: 2})
	for range 5 {
		err := cb.Execute(func() error { return context.Canceled })
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, cancellations must not trip the breaker", cb.State())
	}
}

func TestClassifySpeechError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want Verdict
	}{
		{"nil", nil, Healthy},
		{"barge-in", fmt.Errorf("coqui: synthesize: %w", context.Canceled), Neutral},
		{"no audio", fmt.Errorf("whisper: %w", stt.ErrNoAudio), Neutral},
		{"empty reply", tts.ErrEmptyText, Neutral},
		{"deadline", fmt.Errorf("deepgram: dial: %w", context.DeadlineExceeded), Unhealthy},
		{"backend", errors.New("piper: exit status 1"), Unhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifySpeechError(tt.err); got != tt.want {
				t.Errorf("ClassifySpeechError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestCircuitBreaker_BadInputIsNeutral(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "whisper", MaxFailures: 2})
	for range 3 {
		_ = cb.Execute(func() error { return stt.ErrNoAudio })
		_ = cb.Execute(func() error { return tts.ErrEmptyText })
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, empty input must not trip the breaker", cb.State())
	}
	if !cb.Neutral(stt.ErrNoAudio) || cb.Neutral(errTest) || cb.Neutral(nil) {
		t.Error("Neutral does not follow the classifier")
	}
}

func TestCircuitBreaker_SlowBackendTrips(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "coqui", MaxFailures: 2, ResetTimeout: time.Hour})
	for range 2 {
		_ = cb.Execute(func() error { return context.DeadlineExceeded })
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open after two timeouts", cb.State())
	}
}

func TestCircuitBreaker_NeutralTrialCallFreesSlot(t *testing.T) {
	t.Parallel()

	clk := newManualClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "piper", MaxFailures: 1, HalfOpenMax: 1, Now: clk.Now})
	trip(cb, 1)
	clk.Advance(30 * time.Second)

	if err := cb.Execute(func() error { return context.Canceled }); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if err := cb.Execute(succeed); err != nil {
		t.Fatalf("trial after cancelled trial: %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_CustomClassify(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:        "openai",
		MaxFailures: 1,
		Classify: func(err error) Verdict {
			if errors.Is(err, errTest) {
				return Neutral
			}
			return ClassifySpeechError(err)
		},
	})
	trip(cb, 3)
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "piper", MaxFailures: 2, ResetTimeout: time.Hour})
	trip(cb, 2)
	if cb.State() != StateOpen {
		t.Fatal("expected open")
	}
	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after reset", cb.State())
	}
	if err := cb.Execute(succeed); err != nil {
		t.Fatalf("unexpected error after reset: %v", err)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
