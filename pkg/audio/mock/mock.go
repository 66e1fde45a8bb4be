// Package mock provides in-memory implementations of [audio.FrameSource] and
// [audio.Player] for use in unit tests.
//
// All mocks are safe for concurrent use. They record calls so that tests can
// assert on counts, and they expose exported fields that control behaviour.
//
// Typical usage:
//
//	src := mock.NewSource(audio.Format{SampleRate: 16000, FrameLength: 320})
//	src.Push(mock.Constant(800, 320), 30)
//	src.Push(mock.Constant(100, 320), 60)
//	dev := audio.NewDevice(src.Opener())
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/valet/pkg/audio"
)

// ErrExhausted is returned by [Source.Read] when no scripted frames remain
// and no Fill frame is configured.
var ErrExhausted = errors.New("mock: source exhausted")

// Constant returns n samples of value v. A constant signal has RMS energy |v|.
func Constant(v int16, n int) []int16 {
	s := make([]int16, n)
	for i := range s {
		s[i] = v
	}
	return s
}

// ─── Source ───────────────────────────────────────────────────────────────────

// Compile-time assertion that Source satisfies audio.FrameSource.
var _ audio.FrameSource = (*Source)(nil)

// Source is a scripted [audio.FrameSource]. Frames pushed with [Source.Push]
// are returned in order; once exhausted, Fill (if set) is returned forever.
type Source struct {
	mu sync.Mutex

	format audio.Format
	script [][]int16
	errs   []error

	// Fill is returned after the script runs out. When nil, Read returns
	// ErrExhausted.
	Fill []int16

	// FrameDelay makes each Read sleep, imitating hardware pacing.
	FrameDelay time.Duration

	// OpenErr is returned by the Opener instead of the source.
	OpenErr error

	// CallCountRead records how many times Read was called.
	CallCountRead int

	// CallCountOpen records how many times the Opener was called.
	CallCountOpen int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// activeReaders tracks concurrent Read calls.
	activeReaders int

	// MaxConcurrentReads is the highest number of overlapping Read calls seen.
	MaxConcurrentReads int

	closed bool
}

// NewSource returns an empty scripted source with the given format.
func NewSource(format audio.Format) *Source {
	return &Source{format: format}
}

// Push appends count copies of samples to the script.
func (s *Source) Push(samples []int16, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for range count {
		s.script = append(s.script, samples)
		s.errs = append(s.errs, nil)
	}
}

// PushErr appends a failing read to the script.
func (s *Source) PushErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append(s.script, nil)
	s.errs = append(s.errs, err)
}

// SetFill replaces the frame returned once the script is exhausted.
func (s *Source) SetFill(samples []int16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Fill = samples
}

// Remaining returns the number of scripted frames not yet read.
func (s *Source) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.script)
}

// Opener returns an [audio.Opener] yielding this source.
func (s *Source) Opener() audio.Opener {
	return func() (audio.FrameSource, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.CallCountOpen++
		if s.OpenErr != nil {
			return nil, s.OpenErr
		}
		s.closed = false
		return s, nil
	}
}

// Read implements audio.FrameSource.
func (s *Source) Read() (audio.AudioFrame, error) {
	s.mu.Lock()
	s.CallCountRead++
	s.activeReaders++
	if s.activeReaders > s.MaxConcurrentReads {
		s.MaxConcurrentReads = s.activeReaders
	}
	delay := s.FrameDelay
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeReaders--

	var samples []int16
	var err error
	switch {
	case len(s.script) > 0:
		samples, err = s.script[0], s.errs[0]
		s.script, s.errs = s.script[1:], s.errs[1:]
	case s.Fill != nil:
		samples = s.Fill
	default:
		err = ErrExhausted
	}
	if err != nil {
		return audio.AudioFrame{}, err
	}
	out := make([]int16, len(samples))
	copy(out, samples)
	return audio.AudioFrame{Samples: out, SampleRate: s.format.SampleRate}, nil
}

// Format implements audio.FrameSource.
func (s *Source) Format() audio.Format { return s.format }

// Close implements audio.FrameSource.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	s.closed = true
	return nil
}

// Reads returns CallCountRead under the lock, for use while readers run.
func (s *Source) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountRead
}

// Opens returns CallCountOpen under the lock.
func (s *Source) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountOpen
}

// Closed reports whether Close has been called since the last open.
func (s *Source) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ─── Player ───────────────────────────────────────────────────────────────────

// Compile-time assertion that Player satisfies audio.Player.
var _ audio.Player = (*Player)(nil)

// Player is a mock [audio.Player] whose playbacks last a fixed wall-clock
// duration (or the clip duration when Duration is zero).
type Player struct {
	mu sync.Mutex

	// Duration overrides how long every playback runs.
	Duration time.Duration

	// PlayErr is returned by Play instead of starting a playback.
	PlayErr error

	// FailAfter, when non-nil, completes the playback with this error.
	FailAfter error

	// Played records every clip passed to Play.
	Played []audio.Clip

	// CallCountStop records how many playbacks were force-stopped.
	CallCountStop int

	active    int
	maxActive int
	overlaps  int
}

// Play implements audio.Player.
func (p *Player) Play(ctx context.Context, clip audio.Clip) (audio.Playback, error) {
	p.mu.Lock()
	if p.PlayErr != nil {
		err := p.PlayErr
		p.mu.Unlock()
		return nil, err
	}
	p.Played = append(p.Played, clip)
	p.active++
	if p.active > 1 {
		p.overlaps++
	}
	if p.active > p.maxActive {
		p.maxActive = p.active
	}
	d := p.Duration
	if d == 0 {
		d = clip.Duration()
	}
	failErr := p.FailAfter
	p.mu.Unlock()

	pb := &Playback{done: make(chan struct{}), stop: make(chan struct{}), player: p}
	go func() {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
			pb.finish(failErr)
		case <-pb.stop:
			pb.finish(nil)
		case <-ctx.Done():
			pb.finish(ctx.Err())
		}
	}()
	return pb, nil
}

// MaxActive returns the largest number of simultaneous playbacks observed.
func (p *Player) MaxActive() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxActive
}

// Overlaps returns how many playbacks started while another was running.
func (p *Player) Overlaps() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.overlaps
}

// PlayedCount returns the number of clips played so far.
func (p *Player) PlayedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Played)
}

// Stops returns the number of force-stopped playbacks.
func (p *Player) Stops() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CallCountStop
}

// Playback is the mock [audio.Playback].
type Playback struct {
	player *Player

	stopOnce   sync.Once
	finishOnce sync.Once
	stop       chan struct{}
	done       chan struct{}

	mu  sync.Mutex
	err error
}

func (pb *Playback) finish(err error) {
	pb.finishOnce.Do(func() {
		pb.mu.Lock()
		pb.err = err
		pb.mu.Unlock()

		pb.player.mu.Lock()
		pb.player.active--
		pb.player.mu.Unlock()
		close(pb.done)
	})
}

// Done implements audio.Playback.
func (pb *Playback) Done() <-chan struct{} { return pb.done }

// Err implements audio.Playback.
func (pb *Playback) Err() error {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	return pb.err
}

// Stop implements audio.Playback.
func (pb *Playback) Stop() {
	pb.stopOnce.Do(func() {
		pb.player.mu.Lock()
		pb.player.CallCountStop++
		pb.player.mu.Unlock()
		close(pb.stop)
	})
	<-pb.done
}
