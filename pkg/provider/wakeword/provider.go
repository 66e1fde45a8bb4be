// Package wakeword defines the Classifier interface for keyword spotting.
//
// A classifier consumes the microphone one frame at a time and reports when
// one of its keywords was spoken. The wake-word monitor owns the classifier
// and calls it from a single goroutine, so implementations may keep
// per-stream state without locking.
package wakeword

import (
	"context"

	"github.com/MrWong99/valet/pkg/audio"
)

// NoKeyword is returned by [Classifier.Process] when the frame completed no
// detection.
const NoKeyword = -1

// Classifier spots keywords in a frame stream.
type Classifier interface {
	// Process consumes one frame. It returns the index into Keywords of the
	// detected keyword, or NoKeyword. Errors are per-frame; the caller may
	// keep feeding frames after one.
	Process(ctx context.Context, frame audio.AudioFrame) (int, error)

	// Keywords returns the phrases this classifier listens for.
	Keywords() []string

	// Reset discards buffered audio, e.g. after the stream was handed to
	// another consumer.
	Reset()
}
