// Package playback serializes everything the assistant says.
//
// A [Controller] owns the single speaking slot of the process. Each call to
// [Controller.Submit] creates a [Task] that waits for the slot, synthesizes
// the text, plays the clip and reports a terminal [Result]. While a task holds
// the slot it marks the shared state as speaking, arms the barge-in monitor
// and watches for interrupt requests. On every exit path (including a panic
// in a backend) the flags are reset and barge-in is disarmed before the slot
// is handed to the next task.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/valet/internal/observe"
	"github.com/MrWong99/valet/internal/state"
	"github.com/MrWong99/valet/internal/transcript"
	"github.com/MrWong99/valet/pkg/audio"
	"github.com/MrWong99/valet/pkg/provider/tts"
)

// ErrEmptyClip is reported when the synthesizer returned no audio.
var ErrEmptyClip = errors.New("playback: synthesizer returned an empty clip")

// Status is the terminal state of a [Task].
type Status int

const (
	// Completed means the clip played to the end.
	Completed Status = iota

	// Interrupted means playback was stopped by an interrupt request or by
	// cancellation.
	Interrupted

	// Failed means synthesis or playback returned an error.
	Failed
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case Completed:
		return "completed"
	case Interrupted:
		return "interrupted"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Result is the outcome of one task.
type Result struct {
	Status Status

	// Err is set for Failed results and for tasks cancelled through their
	// context.
	Err error

	// Duration is how long the task held the speaking slot.
	Duration time.Duration
}

// BargeIn is armed for the duration of every playback.
type BargeIn interface {
	Activate() bool
	Deactivate()
}

type noBargeIn struct{}

func (noBargeIn) Activate() bool { return false }
func (noBargeIn) Deactivate()    {}

// Config holds playback timing.
type Config struct {
	// SettleDelay is waited after a clip finished uninterrupted so that the
	// speaker tail is not picked up by the microphone.
	SettleDelay time.Duration

	// PollInterval bounds how late an interrupt flag is noticed when its
	// signal was missed.
	PollInterval time.Duration
}

// DefaultConfig returns an 800 ms settle delay and a 50 ms poll interval.
func DefaultConfig() Config {
	return Config{
		SettleDelay:  800 * time.Millisecond,
		PollInterval: 50 * time.Millisecond,
	}
}

// Option configures a [Controller].
type Option func(*Controller)

// WithBargeIn sets the monitor armed during playback.
func WithBargeIn(b BargeIn) Option {
	return func(c *Controller) { c.bargeIn = b }
}

// WithConfig overrides [DefaultConfig].
func WithConfig(cfg Config) Option {
	return func(c *Controller) { c.cfg = cfg }
}

// WithMetrics overrides the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// Controller runs at most one playback at a time.
type Controller struct {
	synth   tts.Synthesizer
	player  audio.Player
	st      *state.State
	bargeIn BargeIn
	cfg     Config
	metrics *observe.Metrics

	// lock holds one token while the speaking slot is free.
	lock chan struct{}
}

// New creates a Controller.
func New(synth tts.Synthesizer, player audio.Player, st *state.State, opts ...Option) *Controller {
	c := &Controller{
		synth:   synth,
		player:  player,
		st:      st,
		bargeIn: noBargeIn{},
		cfg:     DefaultConfig(),
		lock:    make(chan struct{}, 1),
	}
	c.lock <- struct{}{}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	if c.cfg.PollInterval <= 0 {
		c.cfg.PollInterval = DefaultConfig().PollInterval
	}
	return c
}

// Speak submits text and waits for the result.
func (c *Controller) Speak(ctx context.Context, text string) Result {
	return c.Submit(ctx, text).Wait()
}

// SpeakClip plays a pre-rendered clip under the same rules as Speak.
func (c *Controller) SpeakClip(ctx context.Context, clip audio.Clip) Result {
	t := c.newTask(ctx)
	go t.run(func(ctx context.Context) (audio.Clip, error) { return clip, nil }, "clip")
	return t.Wait()
}

// Submit starts a task for text and returns immediately.
func (c *Controller) Submit(ctx context.Context, text string) *Task {
	t := c.newTask(ctx)
	text = transcript.SanitizeForSpeech(text)
	go t.run(func(ctx context.Context) (audio.Clip, error) {
		if text == "" {
			return audio.Clip{}, tts.ErrEmptyText
		}
		start := time.Now()
		clip, err := c.synth.Synthesize(ctx, text)
		c.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
		return clip, err
	}, text)
	return t
}

func (c *Controller) newTask(ctx context.Context) *Task {
	ctx, cancel := context.WithCancel(ctx)
	return &Task{
		id:     uuid.NewString(),
		c:      c,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Task is one queued or running playback.
type Task struct {
	id     string
	c      *Controller
	ctx    context.Context
	cancel context.CancelFunc

	started     atomic.Int64
	expected    atomic.Int64
	interrupted atomic.Bool

	once   sync.Once
	done   chan struct{}
	result Result
}

// ID returns the unique task identifier.
func (t *Task) ID() string { return t.id }

// Cancel stops the task. Cancelling a task that has not reached the speaker
// yet makes it give up its turn. Cancel is idempotent.
func (t *Task) Cancel() { t.cancel() }

// Done is closed once the result is available.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the task finished and returns its result.
func (t *Task) Wait() Result {
	<-t.done
	return t.result
}

// Started returns when the task took the speaking slot, or the zero time.
func (t *Task) Started() time.Time {
	n := t.started.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Expected returns the length of the clip being played.
func (t *Task) Expected() time.Duration { return time.Duration(t.expected.Load()) }

// Interrupted reports whether the playback was cut short.
func (t *Task) Interrupted() bool { return t.interrupted.Load() }

func (t *Task) finish(r Result) {
	t.once.Do(func() {
		t.result = r
		close(t.done)
		t.cancel()
	})
}

func (t *Task) run(render func(context.Context) (audio.Clip, error), label string) {
	c := t.c
	select {
	case <-c.lock:
	case <-t.ctx.Done():
		t.interrupted.Store(true)
		t.finish(Result{Status: Interrupted, Err: t.ctx.Err()})
		return
	}

	ctx, span := observe.StartPlayback(t.ctx, t.id)
	start := time.Now()
	t.started.Store(start.UnixNano())

	var res Result
	defer func() { c.lock <- struct{}{} }()
	defer func() {
		c.bargeIn.Deactivate()
		c.st.EndSpeaking()
		res.Duration = time.Since(start)
		c.metrics.RecordPlayback(ctx, res.Status.String(), res.Duration)
		span.SetAttributes(observe.AttrPlaybackStatus.String(res.Status.String()))
		if res.Status == Failed {
			observe.Fail(span, res.Err)
		}
		span.End()
		t.finish(res)
	}()
	defer func() {
		if p := recover(); p != nil {
			slog.Error("playback: panic", "task", t.id, "panic", p)
			res = Result{Status: Failed, Err: fmt.Errorf("playback: panic: %v", p)}
		}
	}()

	c.st.BeginSpeaking()
	c.bargeIn.Activate()

	res = t.play(ctx, render)
	switch res.Status {
	case Failed:
		observe.Logger(ctx).Warn("playback: failed", "task", t.id, "text", label, "err", res.Err)
	case Interrupted:
		t.interrupted.Store(true)
		observe.Logger(ctx).Info("playback: interrupted", "task", t.id)
	case Completed:
		c.bargeIn.Deactivate()
		pause(t.ctx, c.cfg.SettleDelay)
	}
}

func (t *Task) play(ctx context.Context, render func(context.Context) (audio.Clip, error)) Result {
	c := t.c
	clip, err := render(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return Result{Status: Interrupted, Err: ctx.Err()}
		}
		return Result{Status: Failed, Err: fmt.Errorf("playback: synthesize: %w", err)}
	}
	if c.st.InterruptRequested() {
		return Result{Status: Interrupted}
	}
	if clip.Empty() {
		return Result{Status: Failed, Err: ErrEmptyClip}
	}
	t.expected.Store(int64(clip.Duration()))

	pb, err := c.player.Play(ctx, clip)
	if err != nil {
		return Result{Status: Failed, Err: fmt.Errorf("playback: play: %w", err)}
	}

	poll := time.NewTicker(c.cfg.PollInterval)
	defer poll.Stop()
	for {
		select {
		case <-pb.Done():
			switch err := pb.Err(); {
			case ctx.Err() != nil:
				return Result{Status: Interrupted, Err: ctx.Err()}
			case err != nil:
				return Result{Status: Failed, Err: fmt.Errorf("playback: play: %w", err)}
			default:
				return Result{Status: Completed}
			}
		case <-c.st.Interrupts():
			pb.Stop()
			return Result{Status: Interrupted}
		case <-poll.C:
			if c.st.InterruptRequested() {
				pb.Stop()
				return Result{Status: Interrupted}
			}
		case <-ctx.Done():
			pb.Stop()
			return Result{Status: Interrupted, Err: ctx.Err()}
		}
	}
}

func pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
