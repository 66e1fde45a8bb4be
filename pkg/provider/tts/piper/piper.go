// Package piper provides a [tts.Synthesizer] that runs the piper command-line
// synthesizer as a subprocess.
//
// Each call starts piper with --output-raw, writes the text to its stdin and
// reads 16-bit mono PCM from its stdout. The output sample rate is a property
// of the voice model (22050 Hz for most "medium" voices) and must be
// configured to match.
package piper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/MrWong99/valet/pkg/audio"
	"github.com/MrWong99/valet/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Synthesizer = (*Synthesizer)(nil)

const (
	defaultBinary     = "piper"
	defaultSampleRate = 22050
)

// Option is a functional option for configuring a piper Synthesizer.
type Option func(*Synthesizer)

// WithBinary sets the piper executable. Defaults to "piper" on PATH.
func WithBinary(path string) Option {
	return func(s *Synthesizer) { s.binary = path }
}

// WithSampleRate sets the sample rate of the voice model.
func WithSampleRate(rate int) Option {
	return func(s *Synthesizer) {
		if rate > 0 {
			s.sampleRate = rate
		}
	}
}

// WithSpeaker selects a speaker of a multi-speaker model.
func WithSpeaker(id int) Option {
	return func(s *Synthesizer) { s.speaker = &id }
}

// WithLengthScale slows down (>1) or speeds up (<1) speech.
func WithLengthScale(scale float64) Option {
	return func(s *Synthesizer) { s.lengthScale = scale }
}

// Synthesizer implements [tts.Synthesizer] by invoking piper. It is safe for
// concurrent use; every call runs its own process.
type Synthesizer struct {
	binary      string
	model       string
	sampleRate  int
	speaker     *int
	lengthScale float64
}

// New creates a Synthesizer for the given .onnx voice model.
func New(model string, opts ...Option) (*Synthesizer, error) {
	if model == "" {
		return nil, errors.New("piper: model path must not be empty")
	}
	s := &Synthesizer{
		binary:     defaultBinary,
		model:      model,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Synthesizer) args() []string {
	args := []string{"--model", s.model, "--output-raw", "--quiet"}
	if s.speaker != nil {
		args = append(args, "--speaker", strconv.Itoa(*s.speaker))
	}
	if s.lengthScale > 0 {
		args = append(args, "--length_scale", strconv.FormatFloat(s.lengthScale, 'f', -1, 64))
	}
	return args
}

// Synthesize implements [tts.Synthesizer].
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (audio.Clip, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return audio.Clip{}, tts.ErrEmptyText
	}

	cmd := exec.CommandContext(ctx, s.binary, s.args()...)
	cmd.Stdin = strings.NewReader(text + "\n")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return audio.Clip{}, ctx.Err()
		}
		return audio.Clip{}, fmt.Errorf("piper: run: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return audio.Clip{}, errors.New("piper: no audio produced")
	}
	return audio.Clip{Samples: audio.BytesToSamples(stdout.Bytes()), SampleRate: s.sampleRate}, nil
}
