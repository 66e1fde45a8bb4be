package audio

import "time"

// AudioFrame is a single fixed-length block of 16-bit mono PCM delivered by a
// [FrameSource]. Frames are the atomic unit the voice loops operate on: the
// wake-word classifier, the utterance segmenter and the barge-in monitor all
// consume one frame per iteration.
//
// A frame is immutable once produced. Sources allocate a fresh Samples slice
// per frame so consumers may retain it without copying.
type AudioFrame struct {
	// Samples holds signed 16-bit PCM samples, mono.
	Samples []int16

	// SampleRate in Hz (16000 for every built-in source).
	SampleRate int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Len returns the frame length in samples.
func (f AudioFrame) Len() int { return len(f.Samples) }

// Duration returns the wall-clock span covered by the frame.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// Energy returns the RMS energy of the frame. See [RMS].
func (f AudioFrame) Energy() float64 { return RMS(f.Samples) }

// Format describes the fixed shape of the frames a source produces.
type Format struct {
	// SampleRate in Hz.
	SampleRate int

	// FrameLength is the number of samples per frame.
	FrameLength int
}

// FramesPerSecond returns SampleRate / FrameLength, or 0 for a zero format.
func (f Format) FramesPerSecond() float64 {
	if f.FrameLength <= 0 {
		return 0
	}
	return float64(f.SampleRate) / float64(f.FrameLength)
}

// FramesFor converts a duration into a whole number of frames at this format.
// Partial frames are dropped. The division is done in integers so exact
// multiples such as 1.2s at 50 fps never lose a frame to float error.
func (f Format) FramesFor(d time.Duration) int {
	if f.FrameLength <= 0 || f.SampleRate <= 0 || d <= 0 {
		return 0
	}
	return int(int64(d) * int64(f.SampleRate) / (int64(f.FrameLength) * int64(time.Second)))
}

// Clip is a finished block of mono PCM ready for playback, typically the
// output of a speech synthesizer.
type Clip struct {
	// Samples holds signed 16-bit PCM samples, mono.
	Samples []int16

	// SampleRate in Hz.
	SampleRate int
}

// Duration returns the playback length of the clip.
func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate)
}

// Empty reports whether the clip has nothing to play.
func (c Clip) Empty() bool { return len(c.Samples) == 0 }
