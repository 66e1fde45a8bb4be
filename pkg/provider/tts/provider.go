// Package tts defines the Synthesizer interface for text-to-speech backends.
//
// A synthesizer turns one complete reply into one playable [audio.Clip]. The
// voice core speaks short, already-final sentences (acknowledgements,
// notifications, command replies), so synthesis is a single blocking call
// rather than a stream.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"

	"github.com/MrWong99/valet/pkg/audio"
)

// ErrEmptyText is returned when there is nothing to synthesize.
var ErrEmptyText = errors.New("tts: empty text")

// Synthesizer is the abstraction over any TTS backend.
type Synthesizer interface {
	// Synthesize renders text as mono PCM. It returns an error if the backend
	// fails or ctx is cancelled before the clip is ready.
	Synthesize(ctx context.Context, text string) (audio.Clip, error)
}

// Func adapts an ordinary function to the [Synthesizer] interface.
type Func func(ctx context.Context, text string) (audio.Clip, error)

// Synthesize calls f(ctx, text).
func (f Func) Synthesize(ctx context.Context, text string) (audio.Clip, error) {
	return f(ctx, text)
}
