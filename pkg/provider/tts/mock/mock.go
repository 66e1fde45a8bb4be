// Package mock provides a test double for the tts.Synthesizer interface.
//
// Example:
//
//	s := &mock.Synthesizer{Clip: audio.Clip{Samples: make([]int16, 1600), SampleRate: 16000}}
//	clip, _ := s.Synthesize(ctx, "Yes?")
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/valet/pkg/audio"
	"github.com/MrWong99/valet/pkg/provider/tts"
)

// Ensure Synthesizer implements tts.Synthesizer at compile time.
var _ tts.Synthesizer = (*Synthesizer)(nil)

// Synthesizer is a mock implementation of tts.Synthesizer.
type Synthesizer struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Clip is returned by Synthesize. When empty, a clip of ClipLength at
	// 16 kHz is generated.
	Clip audio.Clip

	// ClipLength sets the length of generated clips. Defaults to 100 ms.
	ClipLength time.Duration

	// Err, if non-nil, is returned instead of a clip.
	Err error

	// Panic, if non-nil, is raised inside Synthesize.
	Panic any

	// Delay makes Synthesize block for this long or until ctx is done.
	Delay time.Duration

	// --- Call records ---

	// Calls records the text of every call in order.
	Calls []string
}

// Synthesize records the call and returns the configured response.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (audio.Clip, error) {
	s.mu.Lock()
	s.Calls = append(s.Calls, text)
	clip, err, p, delay, length := s.Clip, s.Err, s.Panic, s.Delay, s.ClipLength
	s.mu.Unlock()

	if p != nil {
		panic(p)
	}
	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return audio.Clip{}, ctx.Err()
		}
	}
	if err != nil {
		return audio.Clip{}, err
	}
	if clip.Empty() {
		if length == 0 {
			length = 100 * time.Millisecond
		}
		clip = audio.Tone(440, length, 16000, 1000)
	}
	return clip, nil
}

// Texts returns a copy of the recorded call texts.
func (s *Synthesizer) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.Calls))
	copy(out, s.Calls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (s *Synthesizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = nil
}
