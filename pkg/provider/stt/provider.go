// Package stt defines the Transcriber interface for speech-to-text backends.
//
// The voice core transcribes one finished utterance at a time: the capture
// loop hands over the buffered samples and waits for the text. Backends that
// only offer streaming APIs are therefore not a fit; every implementation
// here is a single request per utterance.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"strings"
)

// ErrNoAudio is returned when a request carries no samples.
var ErrNoAudio = errors.New("stt: no audio")

// Request is one utterance to transcribe.
type Request struct {
	// Samples holds signed 16-bit mono PCM.
	Samples []int16

	// SampleRate in Hz.
	SampleRate int

	// Language is the BCP-47 language hint (e.g. "en"). Empty lets the
	// backend use its default.
	Language string

	// Deterministic asks the backend for greedy decoding (temperature 0).
	// Used for the retry after an empty transcript.
	Deterministic bool
}

// Transcriber is the abstraction over any STT backend.
type Transcriber interface {
	// Transcribe returns the text spoken in req. An empty string without an
	// error means nothing intelligible was said.
	Transcribe(ctx context.Context, req Request) (string, error)
}

// Func adapts an ordinary function to the [Transcriber] interface.
type Func func(ctx context.Context, req Request) (string, error)

// Transcribe calls f(ctx, req).
func (f Func) Transcribe(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Clean trims whitespace and drops the placeholder tokens whisper emits for
// silence, such as "[BLANK_AUDIO]" or "(silence)".
func Clean(text string) string {
	text = strings.TrimSpace(text)
	for _, marker := range []string{"[BLANK_AUDIO]", "[SILENCE]", "(silence)", "[Music]", "(music)"} {
		text = strings.ReplaceAll(text, marker, "")
	}
	return strings.Join(strings.Fields(text), " ")
}
