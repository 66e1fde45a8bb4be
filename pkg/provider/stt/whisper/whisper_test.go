package whisper_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/valet/pkg/audio"
	"github.com/MrWong99/valet/pkg/audio/wav"
	"github.com/MrWong99/valet/pkg/provider/stt"
	"github.com/MrWong99/valet/pkg/provider/stt/whisper"
)

// captured is what the fake server saw in the last request.
type captured struct {
	language    string
	temperature string
	model       string
	sampleRate  int
	samples     int
}

// newMockServer creates a test server that responds to POST /inference with a
// JSON body containing responseText.
func newMockServer(t *testing.T, responseText string, seen *captured, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if calls != nil {
			calls.Add(1)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		clip, err := wav.Decode(f)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if seen != nil {
			*seen = captured{
				language:    r.FormValue("language"),
				temperature: r.FormValue("temperature"),
				model:       r.FormValue("model"),
				sampleRate:  clip.SampleRate,
				samples:     len(clip.Samples),
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": responseText})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	t.Parallel()

	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestTranscribe_PostsWAV(t *testing.T) {
	t.Parallel()

	var seen captured
	srv := newMockServer(t, " turn off the lights\n", &seen, nil)
	c, err := whisper.New(srv.URL, whisper.WithModel("base.en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	samples := audio.Tone(220, 500*time.Millisecond, 16000, 8000).Samples
	got, err := c.Transcribe(context.Background(), stt.Request{Samples: samples, SampleRate: 16000})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got != "turn off the lights" {
		t.Errorf("text = %q, want %q", got, "turn off the lights")
	}
	if seen.language != "en" {
		t.Errorf("language = %q, want default en", seen.language)
	}
	if seen.model != "base.en" {
		t.Errorf("model = %q, want base.en", seen.model)
	}
	if seen.sampleRate != 16000 || seen.samples != 8000 {
		t.Errorf("wav = %d samples at %d Hz, want 8000 at 16000", seen.samples, seen.sampleRate)
	}
	if seen.temperature != "" {
		t.Errorf("temperature = %q, want unset for a normal request", seen.temperature)
	}
}

func TestTranscribe_DeterministicAndLanguage(t *testing.T) {
	t.Parallel()

	var seen captured
	srv := newMockServer(t, "hallo", &seen, nil)
	c, _ := whisper.New(srv.URL)

	_, err := c.Transcribe(context.Background(), stt.Request{
		Samples:       make([]int16, 1600),
		SampleRate:    16000,
		Language:      "de",
		Deterministic: true,
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if seen.language != "de" {
		t.Errorf("language = %q, want de", seen.language)
	}
	if seen.temperature != "0.0" {
		t.Errorf("temperature = %q, want 0.0", seen.temperature)
	}
}

func TestTranscribe_BlankAudioMarker(t *testing.T) {
	t.Parallel()

	srv := newMockServer(t, "[BLANK_AUDIO]", nil, nil)
	c, _ := whisper.New(srv.URL)
	got, err := c.Transcribe(context.Background(), stt.Request{Samples: make([]int16, 160), SampleRate: 16000})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got != "" {
		t.Errorf("text = %q, want empty", got)
	}
}

func TestTranscribe_NoAudio(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := newMockServer(t, "x", nil, &calls)
	c, _ := whisper.New(srv.URL)
	if _, err := c.Transcribe(context.Background(), stt.Request{SampleRate: 16000}); !errors.Is(err, stt.ErrNoAudio) {
		t.Errorf("err = %v, want ErrNoAudio", err)
	}
	if calls.Load() != 0 {
		t.Error("server called without audio")
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	c, _ := whisper.New(srv.URL)
	if _, err := c.Transcribe(context.Background(), stt.Request{Samples: make([]int16, 160), SampleRate: 16000}); err == nil {
		t.Error("expected error for HTTP 500")
	}
}
