// Package speaker implements [audio.Player] on top of the
// github.com/faiface/beep speaker.
//
// The beep speaker is a process-wide singleton: it is initialised once at a
// fixed output rate and every clip is resampled to that rate. Force-stopping a
// playback clears the speaker, which is safe because the playback controller
// never runs two playbacks at once.
package speaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/faiface/beep"
	beepspeaker "github.com/faiface/beep/speaker"

	"github.com/MrWong99/valet/pkg/audio"
	"github.com/MrWong99/valet/pkg/audio/wav"
)

const (
	defaultSampleRate = 22050

	// resampleQuality is the beep resampler quality (1-64); 4 is beep's
	// recommended default.
	resampleQuality = 4
)

// Compile-time assertion that Player satisfies audio.Player.
var _ audio.Player = (*Player)(nil)

// Option is a functional option for [New].
type Option func(*Player)

// WithSampleRate sets the speaker output rate. Defaults to 22050 Hz.
func WithSampleRate(rate int) Option {
	return func(p *Player) { p.rate = beep.SampleRate(rate) }
}

// WithBuffer sets the speaker buffer duration. Defaults to 100 ms. Smaller
// buffers make force-stops quicker at the cost of underrun risk.
func WithBuffer(d time.Duration) Option {
	return func(p *Player) { p.buffer = d }
}

// Player plays clips through the default output device.
type Player struct {
	rate   beep.SampleRate
	buffer time.Duration

	initOnce sync.Once
	initErr  error
}

// New creates a Player. The speaker is initialised lazily on first Play.
func New(opts ...Option) *Player {
	p := &Player{
		rate:   defaultSampleRate,
		buffer: 100 * time.Millisecond,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Player) init() error {
	p.initOnce.Do(func() {
		if err := beepspeaker.Init(p.rate, p.rate.N(p.buffer)); err != nil {
			p.initErr = fmt.Errorf("speaker: init: %w", err)
		}
	})
	return p.initErr
}

// Play implements audio.Player.
func (p *Player) Play(ctx context.Context, clip audio.Clip) (audio.Playback, error) {
	if clip.Empty() {
		return nil, errors.New("speaker: empty clip")
	}
	if clip.SampleRate <= 0 {
		return nil, fmt.Errorf("speaker: invalid sample rate %d", clip.SampleRate)
	}
	if err := p.init(); err != nil {
		return nil, err
	}

	pb := &playback{done: make(chan struct{})}
	var src beep.Streamer = wav.Streamer(clip)
	if beep.SampleRate(clip.SampleRate) != p.rate {
		src = beep.Resample(resampleQuality, beep.SampleRate(clip.SampleRate), p.rate, src)
	}
	beepspeaker.Play(beep.Seq(src, beep.Callback(pb.finish)))

	go func() {
		select {
		case <-ctx.Done():
			pb.Stop()
		case <-pb.done:
		}
	}()
	return pb, nil
}

// playback is one clip queued on the beep speaker.
type playback struct {
	once sync.Once
	done chan struct{}
}

func (pb *playback) finish() {
	pb.once.Do(func() { close(pb.done) })
}

func (pb *playback) Done() <-chan struct{} { return pb.done }

// Err always returns nil; the beep speaker reports no per-stream errors.
func (pb *playback) Err() error { return nil }

func (pb *playback) Stop() {
	select {
	case <-pb.done:
		return
	default:
	}
	beepspeaker.Clear()
	pb.finish()
}
