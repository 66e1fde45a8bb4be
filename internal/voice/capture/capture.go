// Package capture records one user utterance from the shared microphone.
//
// A [Capturer] leases the [audio.Device], feeds frames through a [Segmenter]
// and returns the buffered speech once the trailing silence budget is spent.
// The capture loop re-checks the runtime flags on every frame so that a mode
// change (gaming, mute, stop listening) or a playback that started in the
// meantime ends the session immediately.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/MrWong99/valet/internal/observe"
	"github.com/MrWong99/valet/internal/state"
	"github.com/MrWong99/valet/pkg/audio"
)

var (
	// ErrAborted is returned when a runtime flag ended the session early.
	ErrAborted = errors.New("capture: aborted")

	// ErrNoUtterance is returned when the listening budget ran out without
	// enough speech.
	ErrNoUtterance = errors.New("capture: no utterance")
)

const (
	defaultMaxReadErrors = 50
	readErrorPause       = 10 * time.Millisecond
)

// Config holds the time-domain VAD settings. Frame counts are derived from
// the device format at the start of each session.
type Config struct {
	EnergyThreshold   float64
	SilenceDuration   time.Duration
	MinSpeechDuration time.Duration
	MaxListenTime     time.Duration

	// MicGain is applied to the emitted samples before auto-gain.
	MicGain float64
}

// DefaultConfig returns the stock VAD settings.
func DefaultConfig() Config {
	return Config{
		EnergyThreshold:   500,
		SilenceDuration:   1200 * time.Millisecond,
		MinSpeechDuration: 500 * time.Millisecond,
		MaxListenTime:     30 * time.Second,
		MicGain:           1.25,
	}
}

// Params converts c into frame counts for f.
func (c Config) Params(f audio.Format) Params {
	return Params{
		EnergyThreshold: c.EnergyThreshold,
		SilenceFrames:   max(f.FramesFor(c.SilenceDuration), 1),
		MinSpeechFrames: max(f.FramesFor(c.MinSpeechDuration), 1),
		MaxFrames:       f.FramesFor(c.MaxListenTime),
	}
}

// Utterance is a finished capture. The caller owns it.
type Utterance struct {
	// Frames are the raw frames from speech onset to the end of the trailing
	// silence, in capture order.
	Frames []audio.AudioFrame

	// Samples is the concatenation of Frames after gain was applied.
	Samples    []int16
	SampleRate int

	SpeechFrames  int
	SilenceFrames int
	TotalFrames   int

	// Gain is the combined mic and auto-gain factor applied to Samples.
	Gain float64
}

// Duration returns the length of the captured audio.
func (u *Utterance) Duration() time.Duration {
	if u == nil || u.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(u.Samples)) * time.Second / time.Duration(u.SampleRate)
}

// Options alter a single capture session.
type Options struct {
	// Continuous marks an open-mic session in conversation mode. It aborts as
	// soon as conversation mode is turned off.
	Continuous bool

	// OnSpeech is called once per session, from the capture goroutine, when
	// the first loud frame arrives. Open-mic sessions use it to engage the
	// command capture lock.
	OnSpeech func()
}

// Option configures a [Capturer].
type Option func(*Capturer)

// WithMetrics overrides the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Capturer) { c.metrics = m }
}

// WithMaxReadErrors sets how many consecutive frame read failures end a
// session with an error.
func WithMaxReadErrors(n int) Option {
	return func(c *Capturer) {
		if n > 0 {
			c.maxReadErrors = n
		}
	}
}

// Capturer runs capture sessions against a shared device. Sessions are
// sequential; Capture is not meant to be called concurrently.
type Capturer struct {
	dev *audio.Device
	st  *state.State
	cfg atomic.Pointer[Config]

	metrics       *observe.Metrics
	maxReadErrors int
}

// New creates a Capturer.
func New(dev *audio.Device, st *state.State, cfg Config, opts ...Option) *Capturer {
	c := &Capturer{
		dev:           dev,
		st:            st,
		maxReadErrors: defaultMaxReadErrors,
	}
	c.cfg.Store(&cfg)
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// SetConfig replaces the VAD settings. It takes effect on the next session.
func (c *Capturer) SetConfig(cfg Config) { c.cfg.Store(&cfg) }

// Config returns the current VAD settings.
func (c *Capturer) Config() Config { return *c.cfg.Load() }

// Capture leases the device and records a single utterance. It returns
// [ErrAborted] when a runtime flag ends the session, [ErrNoUtterance] when
// the listening budget runs out, or ctx.Err() on cancellation.
func (c *Capturer) Capture(ctx context.Context, opts Options) (u *Utterance, err error) {
	if err := c.aborted(opts); err != nil {
		return nil, err
	}
	ctx, span := observe.StartCapture(ctx, opts.Continuous)
	defer func() {
		switch {
		case u != nil:
			observe.EndCapture(span, "complete", u.SpeechFrames, u.TotalFrames)
		case errors.Is(err, ErrAborted):
			observe.EndCapture(span, "aborted", 0, 0)
		case errors.Is(err, ErrNoUtterance):
			observe.EndCapture(span, "timeout", 0, 0)
		default:
			observe.Fail(span, err)
			observe.EndCapture(span, "error", 0, 0)
		}
	}()

	lease, err := c.dev.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture: acquire device: %w", err)
	}
	defer audio.ReleaseQuietly(lease, "capture")

	cfg := c.Config()
	seg := NewSegmenter(cfg.Params(lease.Format()))
	log := observe.Logger(ctx)

	readErrors := 0
	heard := false
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := c.aborted(opts); err != nil {
			c.metrics.RecordUtterance(ctx, "aborted", 0)
			return nil, err
		}

		frame, err := lease.Read()
		if err != nil {
			if errors.Is(err, audio.ErrDeviceClosed) {
				return nil, fmt.Errorf("capture: read frame: %w", err)
			}
			readErrors++
			c.metrics.RecordFrameError(ctx, "capture")
			if readErrors >= c.maxReadErrors {
				return nil, fmt.Errorf("capture: %d consecutive read failures: %w", readErrors, err)
			}
			log.Warn("capture: frame read failed", "err", err)
			sleep(ctx, readErrorPause)
			continue
		}
		readErrors = 0

		outcome := seg.Push(frame)
		if !heard && (seg.State() != Idle || outcome == Complete) {
			heard = true
			if opts.OnSpeech != nil {
				opts.OnSpeech()
			}
		}
		switch outcome {
		case Complete:
			u = c.finish(seg, lease.Format().SampleRate, cfg.MicGain)
			c.metrics.RecordUtterance(ctx, "complete", u.Duration())
			log.Debug("capture: utterance complete",
				"speech_frames", u.SpeechFrames,
				"silence_frames", u.SilenceFrames,
				"duration", u.Duration(),
				"gain", u.Gain,
			)
			return u, nil
		case Reset:
			c.metrics.RecordUtterance(ctx, "reset", 0)
			log.Debug("capture: discarded short noise burst")
		case Exhausted:
			c.metrics.RecordUtterance(ctx, "timeout", 0)
			return nil, ErrNoUtterance
		}
	}
}

func (c *Capturer) aborted(opts Options) error {
	switch {
	case !c.st.Listening(), c.st.Gaming(), c.st.Muted(), c.st.Speaking():
		return ErrAborted
	case opts.Continuous && !c.st.Conversation():
		return ErrAborted
	}
	return nil
}

func (c *Capturer) finish(seg *Segmenter, sampleRate int, micGain float64) *Utterance {
	frames := seg.Frames()
	n := 0
	for _, f := range frames {
		n += len(f.Samples)
	}
	samples := make([]int16, 0, n)
	for _, f := range frames {
		samples = append(samples, f.Samples...)
	}

	gain := 1.0
	if micGain > 0 && micGain != 1 {
		audio.ApplyGain(samples, micGain)
		gain = micGain
	}
	gain *= audio.AutoGain(samples)

	return &Utterance{
		Frames:        frames,
		Samples:       samples,
		SampleRate:    sampleRate,
		SpeechFrames:  seg.SpeechFrames(),
		SilenceFrames: seg.SilenceFrames(),
		TotalFrames:   seg.TotalFrames(),
		Gain:          gain,
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
