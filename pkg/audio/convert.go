package audio

import (
	"encoding/binary"
	"math"
	"time"
)

const (
	// QuietPeak is the peak amplitude below which [AutoGain] boosts a capture.
	QuietPeak = 10000

	// MaxAutoGain caps the factor applied by [AutoGain].
	MaxAutoGain = 4.0
)

// RMS returns the root-mean-square energy of samples in 16-bit PCM units.
// Empty input and degenerate results (NaN, negative) yield 0.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	meanSquare := sum / float64(len(samples))
	if meanSquare < 0 || math.IsNaN(meanSquare) {
		return 0
	}
	return math.Sqrt(meanSquare)
}

// Peak returns the largest absolute sample value. It is computed in int32 so
// that -32768 reports 32768 instead of overflowing.
func Peak(samples []int16) int32 {
	var peak int32
	for _, s := range samples {
		v := int32(s)
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	return peak
}

// ApplyGain multiplies every sample by gain in place, clipping to the int16
// range. A gain of 1 or less than or equal to 0 leaves the input untouched.
// Clipping never changes the sign of a sample.
func ApplyGain(samples []int16, gain float64) {
	if gain == 1 || gain <= 0 {
		return
	}
	for i, s := range samples {
		samples[i] = clip16(float64(s) * gain)
	}
}

// AutoGain boosts a quiet capture in place. When the peak amplitude is above
// zero but below [QuietPeak] the samples are scaled by min(MaxAutoGain,
// QuietPeak/peak). It returns the applied factor (1 when nothing changed).
func AutoGain(samples []int16) float64 {
	peak := Peak(samples)
	if peak <= 0 || peak >= QuietPeak {
		return 1
	}
	gain := math.Min(MaxAutoGain, float64(QuietPeak)/float64(peak))
	ApplyGain(samples, gain)
	return gain
}

func clip16(v float64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(v)
	}
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. If srcRate == dstRate, the input is returned unchanged.
func ResampleMono16(samples []int16, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 {
		return samples
	}
	if srcRate == dstRate || len(samples) < 2 {
		return samples
	}
	dstSamples := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]int16, dstSamples)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := samples[srcIdx]
		s1 := s0
		if srcIdx+1 < len(samples) {
			s1 = samples[srcIdx+1]
		}
		out[i] = int16(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out
}

// SamplesToBytes encodes samples as little-endian 16-bit PCM.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// BytesToSamples decodes little-endian 16-bit PCM. A trailing odd byte is
// ignored.
func BytesToSamples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}

// ToFloat32 converts samples to float32 normalised to [-1.0, 1.0).
func ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Tone generates a sine tone clip. It backs the acknowledgement beep when no
// synthesized acknowledgement is available.
func Tone(freqHz float64, d time.Duration, sampleRate int, amplitude int16) Clip {
	n := int(d.Seconds() * float64(sampleRate))
	samples := make([]int16, n)
	for i := range samples {
		t := float64(i) / float64(sampleRate)
		samples[i] = int16(float64(amplitude) * math.Sin(2*math.Pi*freqHz*t))
	}
	return Clip{Samples: samples, SampleRate: sampleRate}
}
