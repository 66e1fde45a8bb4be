// Package portaudio provides a microphone [audio.FrameSource] backed by
// PortAudio (github.com/gordonklaus/portaudio).
//
// PortAudio must be initialised once per process; [Init] and [Terminate]
// wrap the library lifecycle and are reference counted so that reopening the
// device (e.g. after gaming mode) is safe.
package portaudio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/valet/pkg/audio"
)

const (
	defaultSampleRate  = 16000
	defaultFrameLength = 512
)

var (
	initMu   sync.Mutex
	initRefs int
)

// Init initialises the PortAudio library. Every successful Init must be
// paired with a Terminate.
func Init() error {
	initMu.Lock()
	defer initMu.Unlock()
	if initRefs == 0 {
		if err := pa.Initialize(); err != nil {
			return fmt.Errorf("portaudio: initialize: %w", err)
		}
	}
	initRefs++
	return nil
}

// Terminate releases the PortAudio library once the last user is gone.
func Terminate() error {
	initMu.Lock()
	defer initMu.Unlock()
	if initRefs == 0 {
		return nil
	}
	initRefs--
	if initRefs == 0 {
		if err := pa.Terminate(); err != nil {
			return fmt.Errorf("portaudio: terminate: %w", err)
		}
	}
	return nil
}

// Option is a functional option for [Open].
type Option func(*Source)

// WithSampleRate sets the capture sample rate in Hz. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(s *Source) { s.format.SampleRate = rate }
}

// WithFrameLength sets the number of samples per frame. Defaults to 512.
func WithFrameLength(n int) Option {
	return func(s *Source) { s.format.FrameLength = n }
}

// Compile-time assertion that Source satisfies audio.FrameSource.
var _ audio.FrameSource = (*Source)(nil)

// Source is an open default-input stream.
type Source struct {
	format audio.Format
	buf    []int16
	stream *pa.Stream

	read int64

	closeOnce sync.Once
	closeErr  error
}

// Open initialises PortAudio, opens the default input device as a mono 16-bit
// stream and starts it.
func Open(opts ...Option) (*Source, error) {
	s := &Source{
		format: audio.Format{SampleRate: defaultSampleRate, FrameLength: defaultFrameLength},
	}
	for _, o := range opts {
		o(s)
	}
	if s.format.SampleRate <= 0 || s.format.FrameLength <= 0 {
		return nil, errors.New("portaudio: sample rate and frame length must be positive")
	}

	if err := Init(); err != nil {
		return nil, err
	}
	s.buf = make([]int16, s.format.FrameLength)
	stream, err := pa.OpenDefaultStream(1, 0, float64(s.format.SampleRate), len(s.buf), s.buf)
	if err != nil {
		_ = Terminate()
		return nil, fmt.Errorf("portaudio: open default stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = Terminate()
		return nil, fmt.Errorf("portaudio: start stream: %w", err)
	}
	s.stream = stream
	return s, nil
}

// Opener returns an [audio.Opener] that calls [Open] with opts.
func Opener(opts ...Option) audio.Opener {
	return func() (audio.FrameSource, error) {
		s, err := Open(opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Read implements audio.FrameSource. It blocks until PortAudio fills one
// frame.
func (s *Source) Read() (audio.AudioFrame, error) {
	if err := s.stream.Read(); err != nil {
		return audio.AudioFrame{}, fmt.Errorf("portaudio: read: %w", err)
	}
	samples := make([]int16, len(s.buf))
	copy(samples, s.buf)

	ts := time.Duration(s.read) * time.Second / time.Duration(s.format.SampleRate)
	s.read += int64(len(samples))
	return audio.AudioFrame{
		Samples:    samples,
		SampleRate: s.format.SampleRate,
		Timestamp:  ts,
	}, nil
}

// Format implements audio.FrameSource.
func (s *Source) Format() audio.Format { return s.format }

// Close implements audio.FrameSource.
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if err := s.stream.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("portaudio: stop stream: %w", err))
		}
		if err := s.stream.Close(); err != nil {
			errs = append(errs, fmt.Errorf("portaudio: close stream: %w", err))
		}
		if err := Terminate(); err != nil {
			errs = append(errs, err)
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
