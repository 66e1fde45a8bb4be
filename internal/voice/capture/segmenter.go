package capture

import (
	"github.com/MrWong99/valet/pkg/audio"
)

// VoiceState is the position of the [Segmenter] within an utterance.
type VoiceState int

const (
	// Idle means no speech has been heard since the last reset.
	Idle VoiceState = iota

	// SpeechActive means the most recent frame was above the energy threshold.
	SpeechActive

	// TrailingSilence means speech was heard and is now followed by quiet
	// frames that have not yet exhausted the silence budget.
	TrailingSilence
)

// String returns the state name.
func (s VoiceState) String() string {
	switch s {
	case Idle:
		return "idle"
	case SpeechActive:
		return "speech_active"
	case TrailingSilence:
		return "trailing_silence"
	default:
		return "unknown"
	}
}

// Outcome is what a single [Segmenter.Push] decided.
type Outcome int

const (
	// Continue means keep feeding frames.
	Continue Outcome = iota

	// Complete means the buffered frames form an utterance.
	Complete

	// Reset means a blip was discarded and the segmenter is Idle again.
	Reset

	// Exhausted means the frame budget ran out without a usable utterance.
	Exhausted
)

// String returns the outcome name as used in metrics.
func (o Outcome) String() string {
	switch o {
	case Continue:
		return "continue"
	case Complete:
		return "complete"
	case Reset:
		return "reset"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Params are the frame-domain thresholds of a [Segmenter].
type Params struct {
	// EnergyThreshold is the RMS level a frame must exceed to count as speech.
	EnergyThreshold float64

	// SilenceFrames is the number of consecutive quiet frames that ends an
	// utterance.
	SilenceFrames int

	// MinSpeechFrames is the number of loud frames an utterance needs to be
	// kept. Shorter bursts are discarded as blips.
	MinSpeechFrames int

	// MaxFrames bounds the whole session, idle frames included.
	MaxFrames int
}

// Segmenter is the energy-based voice activity state machine. It is pure: it
// never touches a device and is driven one frame at a time with [Segmenter.Push].
// A Segmenter is not safe for concurrent use.
type Segmenter struct {
	p Params

	state   VoiceState
	frames  []audio.AudioFrame
	speech  int
	silence int
	total   int
}

// NewSegmenter returns an Idle segmenter.
func NewSegmenter(p Params) *Segmenter {
	return &Segmenter{p: p}
}

// State returns the current voice activity state.
func (s *Segmenter) State() VoiceState { return s.state }

// SpeechFrames returns the loud frames in the current buffer.
func (s *Segmenter) SpeechFrames() int { return s.speech }

// SilenceFrames returns the current run of trailing quiet frames.
func (s *Segmenter) SilenceFrames() int { return s.silence }

// TotalFrames returns every frame pushed since creation.
func (s *Segmenter) TotalFrames() int { return s.total }

// Buffered returns the number of frames held for the current utterance.
func (s *Segmenter) Buffered() int { return len(s.frames) }

// Push feeds one frame and reports the resulting outcome. After Complete the
// buffered frames are available through [Segmenter.Frames]; after Reset or
// Exhausted the buffer is empty.
func (s *Segmenter) Push(f audio.AudioFrame) Outcome {
	s.total++
	loud := f.Energy() > s.p.EnergyThreshold

	out := Continue
	switch s.state {
	case Idle:
		if loud {
			s.state = SpeechActive
			s.frames = []audio.AudioFrame{f}
			s.speech = 1
			s.silence = 0
		}
	case SpeechActive:
		s.frames = append(s.frames, f)
		if loud {
			s.speech++
		} else {
			s.state = TrailingSilence
			s.silence = 1
		}
	case TrailingSilence:
		s.frames = append(s.frames, f)
		if loud {
			s.state = SpeechActive
			s.speech++
			s.silence = 0
			break
		}
		s.silence++
		if s.silence >= s.p.SilenceFrames {
			if s.speech >= s.p.MinSpeechFrames {
				out = Complete
			} else {
				s.discard()
				out = Reset
			}
		}
	}

	if out == Continue && s.p.MaxFrames > 0 && s.total >= s.p.MaxFrames {
		if s.state != Idle && s.speech >= s.p.MinSpeechFrames {
			return Complete
		}
		s.discard()
		return Exhausted
	}
	return out
}

// Frames returns the buffered utterance frames in capture order.
func (s *Segmenter) Frames() []audio.AudioFrame { return s.frames }

func (s *Segmenter) discard() {
	s.state = Idle
	s.frames = nil
	s.speech = 0
	s.silence = 0
}
