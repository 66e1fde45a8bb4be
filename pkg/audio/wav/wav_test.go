package wav_test

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/MrWong99/valet/pkg/audio"
	"github.com/MrWong99/valet/pkg/audio/wav"
)

func TestEncode_Header(t *testing.T) {
	b := wav.Encode([]int16{1, 2, 3}, 16000)
	if len(b) != 44+6 {
		t.Fatalf("length = %d, want 50", len(b))
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" || string(b[36:40]) != "data" {
		t.Fatalf("bad chunk ids: %q %q %q", b[0:4], b[8:12], b[36:40])
	}
	if got := binary.LittleEndian.Uint32(b[24:28]); got != 16000 {
		t.Errorf("sample rate = %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint16(b[22:24]); got != 1 {
		t.Errorf("channels = %d, want 1", got)
	}
	if got := binary.LittleEndian.Uint32(b[40:44]); got != 6 {
		t.Errorf("data size = %d, want 6", got)
	}
}

func TestEncodeDecode(t *testing.T) {
	in := []int16{0, 1000, -1000, math.MaxInt16, math.MinInt16, 42}
	clip, err := wav.DecodeBytes(wav.Encode(in, 22050))
	if err != nil {
		t.Fatalf("DecodeBytes: %v", err)
	}
	if clip.SampleRate != 22050 {
		t.Errorf("SampleRate = %d, want 22050", clip.SampleRate)
	}
	if len(clip.Samples) != len(in) {
		t.Fatalf("decoded %d samples, want %d", len(clip.Samples), len(in))
	}
	for i := range in {
		if d := int(clip.Samples[i]) - int(in[i]); d > 1 || d < -1 {
			t.Errorf("sample %d = %d, want %d", i, clip.Samples[i], in[i])
		}
	}
}

// stereoWAV builds a 16-bit stereo WAV from interleaved left/right pairs.
func stereoWAV(pairs [][2]int16, sampleRate int) []byte {
	var pcm bytes.Buffer
	for _, p := range pairs {
		_ = binary.Write(&pcm, binary.LittleEndian, p[0])
		_ = binary.Write(&pcm, binary.LittleEndian, p[1])
	}
	var b bytes.Buffer
	b.WriteString("RIFF")
	_ = binary.Write(&b, binary.LittleEndian, uint32(36+pcm.Len()))
	b.WriteString("WAVEfmt ")
	_ = binary.Write(&b, binary.LittleEndian, uint32(16))
	_ = binary.Write(&b, binary.LittleEndian, uint16(1))
	_ = binary.Write(&b, binary.LittleEndian, uint16(2))
	_ = binary.Write(&b, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&b, binary.LittleEndian, uint32(sampleRate*4))
	_ = binary.Write(&b, binary.LittleEndian, uint16(4))
	_ = binary.Write(&b, binary.LittleEndian, uint16(16))
	b.WriteString("data")
	_ = binary.Write(&b, binary.LittleEndian, uint32(pcm.Len()))
	b.Write(pcm.Bytes())
	return b.Bytes()
}

func TestDecode_StereoKeepsFullScale(t *testing.T) {
	clip, err := wav.DecodeBytes(stereoWAV([][2]int16{
		{1000, 3000},
		{math.MaxInt16, math.MaxInt16},
		{-20000, -20000},
	}, 24000))
	if err != nil {
		t.Fatalf("DecodeBytes: %v", err)
	}
	want := []int16{2000, math.MaxInt16, -20000}
	if len(clip.Samples) != len(want) {
		t.Fatalf("decoded %d samples, want %d", len(clip.Samples), len(want))
	}
	for i := range want {
		if d := int(clip.Samples[i]) - int(want[i]); d > 1 || d < -1 {
			t.Errorf("sample %d = %d, want %d", i, clip.Samples[i], want[i])
		}
	}
}

func TestDecode_Garbage(t *testing.T) {
	if _, err := wav.DecodeBytes([]byte("definitely not a wav file at all, no sir")); err == nil {
		t.Error("expected error for non-WAV input")
	}
}

func TestStreamer(t *testing.T) {
	s := wav.Streamer(audio.Clip{Samples: []int16{16384, -16384, 0}, SampleRate: 16000})
	buf := make([][2]float64, 2)

	n, ok := s.Stream(buf)
	if n != 2 || !ok {
		t.Fatalf("first Stream = (%d, %v), want (2, true)", n, ok)
	}
	if buf[0][0] != 0.5 || buf[0][1] != 0.5 || buf[1][0] != -0.5 {
		t.Errorf("unexpected samples %v", buf)
	}
	n, ok = s.Stream(buf)
	if n != 1 || !ok {
		t.Fatalf("second Stream = (%d, %v), want (1, true)", n, ok)
	}
	if n, ok = s.Stream(buf); n != 0 || ok {
		t.Errorf("drained Stream = (%d, %v), want (0, false)", n, ok)
	}
}
