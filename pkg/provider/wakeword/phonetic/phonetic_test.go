package phonetic_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/valet/pkg/audio"
	audiomock "github.com/MrWong99/valet/pkg/audio/mock"
	sttmock "github.com/MrWong99/valet/pkg/provider/stt/mock"
	"github.com/MrWong99/valet/pkg/provider/wakeword"
	"github.com/MrWong99/valet/pkg/provider/wakeword/phonetic"
)

// 512 samples at 16 kHz = 32 ms per frame.
func frame(v int16) audio.AudioFrame {
	return audio.AudioFrame{Samples: audiomock.Constant(v, 512), SampleRate: 16000}
}

// feed pushes loud frames followed by quiet frames and returns every non-miss
// result together with the last error.
func feed(t *testing.T, c *phonetic.Classifier, loud, quiet int) (hits []int, lastErr error) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < loud+quiet; i++ {
		v := int16(100)
		if i < loud {
			v = 2000
		}
		idx, err := c.Process(ctx, frame(v))
		if err != nil {
			lastErr = err
		}
		if idx != wakeword.NoKeyword {
			hits = append(hits, idx)
		}
	}
	return hits, lastErr
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := phonetic.New(nil, []string{"jarvis"}); err == nil {
		t.Error("expected error for nil transcriber")
	}
	if _, err := phonetic.New(&sttmock.Transcriber{}, []string{" ", ""}); err == nil {
		t.Error("expected error without keywords")
	}
}

func TestProcess_DetectsKeyword(t *testing.T) {
	t.Parallel()

	tr := &sttmock.Transcriber{Text: "Hey Jarvas."}
	c, err := phonetic.New(tr, []string{"computer", "hey jarvis"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// 20 loud frames (640 ms) then 12 quiet frames (384 ms > 300 ms).
	hits, err := feed(t, c, 20, 12)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(hits) != 1 || hits[0] != 1 {
		t.Fatalf("hits = %v, want [1]", hits)
	}
	if tr.CallCount() != 1 {
		t.Errorf("transcriptions = %d, want 1", tr.CallCount())
	}
	req := tr.Requests()[0]
	if req.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", req.SampleRate)
	}
	// The window closes on the frame that completes 300 ms of quiet.
	if want := (20 + 10) * 512; len(req.Samples) != want {
		t.Errorf("window = %d samples, want %d", len(req.Samples), want)
	}
	if c.LastTranscript() != "Hey Jarvas." {
		t.Errorf("LastTranscript = %q", c.LastTranscript())
	}
}

func TestProcess_QuietNeverTranscribes(t *testing.T) {
	t.Parallel()

	tr := &sttmock.Transcriber{Text: "jarvis"}
	c, _ := phonetic.New(tr, []string{"jarvis"})
	if hits, _ := feed(t, c, 0, 200); len(hits) != 0 {
		t.Errorf("hits = %v, want none", hits)
	}
	if tr.CallCount() != 0 {
		t.Errorf("transcriptions = %d, want 0", tr.CallCount())
	}
}

func TestProcess_ShortBlipDropped(t *testing.T) {
	t.Parallel()

	tr := &sttmock.Transcriber{Text: "jarvis"}
	c, _ := phonetic.New(tr, []string{"jarvis"})
	// 2 loud frames = 64 ms < 150 ms minimum.
	if hits, _ := feed(t, c, 2, 20); len(hits) != 0 {
		t.Errorf("hits = %v, want none", hits)
	}
	if tr.CallCount() != 0 {
		t.Errorf("transcriptions = %d, want 0", tr.CallCount())
	}
}

func TestProcess_MaxWindowForcesFlush(t *testing.T) {
	t.Parallel()

	tr := &sttmock.Transcriber{Text: "blah blah"}
	c, _ := phonetic.New(tr, []string{"jarvis"})
	// 2 s / 32 ms = 62.5, so the 63rd loud frame closes the window.
	feed(t, c, 70, 0)
	if tr.CallCount() != 1 {
		t.Errorf("transcriptions = %d, want 1", tr.CallCount())
	}
}

func TestProcess_TranscriberError(t *testing.T) {
	t.Parallel()

	boom := errors.New("offline")
	tr := &sttmock.Transcriber{Err: boom}
	c, _ := phonetic.New(tr, []string{"jarvis"})
	hits, err := feed(t, c, 10, 10)
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
	if len(hits) != 0 {
		t.Errorf("hits = %v, want none", hits)
	}

	// The next window works again.
	tr.Err = nil
	tr.Text = "jarvis"
	if hits, _ := feed(t, c, 10, 10); len(hits) != 1 {
		t.Errorf("hits after recovery = %v, want one", hits)
	}
}
