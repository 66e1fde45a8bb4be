// Package wav converts between WAV containers and [audio.Clip] values.
//
// Decoding goes through github.com/faiface/beep/wav so that every PCM width
// and channel layout beep understands is accepted; stereo input is averaged
// down to mono. Encoding writes the fixed 16-bit mono layout that
// speech-to-text servers expect.
package wav

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/faiface/beep"
	beepwav "github.com/faiface/beep/wav"

	"github.com/MrWong99/valet/pkg/audio"
)

// bitsPerSample is fixed at 16 for encoded output.
const bitsPerSample = 16

// Decode reads a complete WAV stream into a mono clip.
func Decode(r io.Reader) (audio.Clip, error) {
	s, format, err := beepwav.Decode(r)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("wav: decode: %w", err)
	}
	defer s.Close()

	scale := sampleScale(format.Precision)
	mono := format.NumChannels == 1
	samples := make([]int16, 0, max(s.Len(), 0))
	buf := make([][2]float64, 1024)
	for {
		n, ok := s.Stream(buf)
		for _, frame := range buf[:n] {
			v := frame[0]
			if !mono {
				v = (frame[0] + frame[1]) / 2
			}
			samples = append(samples, floatToSample(v*scale))
		}
		if !ok {
			break
		}
	}
	if err := s.Err(); err != nil {
		return audio.Clip{}, fmt.Errorf("wav: stream: %w", err)
	}
	return audio.Clip{Samples: samples, SampleRate: int(format.SampleRate)}, nil
}

// DecodeBytes is a convenience wrapper around [Decode].
func DecodeBytes(b []byte) (audio.Clip, error) {
	return Decode(bytes.NewReader(b))
}

// Encode wraps 16-bit mono PCM samples in a WAV container.
func Encode(samples []int16, sampleRate int) []byte {
	const channels = 1
	pcm := audio.SamplesToBytes(samples)
	dataSize := uint32(len(pcm))
	byteRate := uint32(sampleRate * channels * bitsPerSample / 8)
	blockAlign := uint16(channels * bitsPerSample / 8)

	var b bytes.Buffer
	b.Grow(44 + len(pcm))
	b.WriteString("RIFF")
	_ = binary.Write(&b, binary.LittleEndian, 36+dataSize)
	b.WriteString("WAVE")
	b.WriteString("fmt ")
	_ = binary.Write(&b, binary.LittleEndian, uint32(16))
	_ = binary.Write(&b, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(&b, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&b, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&b, binary.LittleEndian, byteRate)
	_ = binary.Write(&b, binary.LittleEndian, blockAlign)
	_ = binary.Write(&b, binary.LittleEndian, uint16(bitsPerSample))
	b.WriteString("data")
	_ = binary.Write(&b, binary.LittleEndian, dataSize)
	b.Write(pcm)
	return b.Bytes()
}

// Streamer adapts a clip to a beep streamer producing identical left and
// right channels.
func Streamer(c audio.Clip) beep.Streamer {
	pos := 0
	return beep.StreamerFunc(func(out [][2]float64) (int, bool) {
		if pos >= len(c.Samples) {
			return 0, false
		}
		n := 0
		for n < len(out) && pos < len(c.Samples) {
			v := float64(c.Samples[pos]) / 32768.0
			out[n][0], out[n][1] = v, v
			n++
			pos++
		}
		return n, true
	})
}

// sampleScale maps beep's decoded floats back to 16-bit sample units. The
// beep wav decoder divides 16-bit PCM by 1<<16-1, so those values only span
// [-0.5, 0.5]; 8-bit PCM is spread over the full [-1, 1] range.
func sampleScale(precision int) float64 {
	if precision == 2 {
		return 1<<16 - 1
	}
	return math.MaxInt16
}

func floatToSample(v float64) int16 {
	v = math.Round(v)
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(v)
	}
}
