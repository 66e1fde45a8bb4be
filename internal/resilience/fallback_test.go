package resilience

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/valet/pkg/provider/llm"
	llmmock "github.com/MrWong99/valet/pkg/provider/llm/mock"
	"github.com/MrWong99/valet/pkg/provider/stt"
	sttmock "github.com/MrWong99/valet/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/valet/pkg/provider/tts/mock"
)

func TestFallbackGroup_Order(t *testing.T) {
	t.Parallel()

	fg := NewFallbackGroup("piper", "piper", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fg.AddFallback("openai", "openai")

	if got := fg.Names(); !slices.Equal(got, []string{"piper", "openai"}) {
		t.Fatalf("Names = %v", got)
	}

	var tried []string
	err := fg.Execute(func(v string) error {
		tried = append(tried, v)
		if v == "piper" {
			return errTest
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(tried, []string{"piper", "openai"}) {
		t.Fatalf("tried = %v", tried)
	}
}

func TestFallbackGroup_AllFail(t *testing.T) {
	t.Parallel()

	fg := NewFallbackGroup(10, "ten", FallbackConfig{})
	fg.AddFallback("twenty", 20)

	_, err := ExecuteWithResult(fg, func(int) (string, error) { return "", errTest })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errTest) {
		t.Fatalf("err = %v, want the last provider error wrapped", err)
	}
}

func TestFallbackGroup_SkipsOpenAndReportsReady(t *testing.T) {
	t.Parallel()

	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})
	fg.AddFallback("secondary", "secondary")

	for range 2 {
		_ = fg.Execute(func(v string) error {
			if v == "primary" {
				return errTest
			}
			return nil
		})
	}

	var called string
	if err := fg.Execute(func(v string) error { called = v; return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called != "secondary" {
		t.Fatalf("called = %q, want secondary (primary circuit open)", called)
	}
	if err := fg.Ready(); err != nil {
		t.Fatalf("Ready = %v, want nil while secondary is closed", err)
	}

	for range 2 {
		_ = fg.Execute(fail2)
	}
	if err := fg.Ready(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Ready = %v, want ErrCircuitOpen once every breaker is open", err)
	}
}

func fail2(string) error { return errTest }

func TestFallbackGroup_CancelStopsChain(t *testing.T) {
	t.Parallel()

	fg := NewFallbackGroup("a", "a", FallbackConfig{})
	fg.AddFallback("b", "b")

	var tried []string
	err := fg.Execute(func(v string) error {
		tried = append(tried, v)
		return context.Canceled
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(tried) != 1 {
		t.Fatalf("tried = %v, want only the first entry", tried)
	}
}

// ── typed wrappers ───────────────────────────────────────────────────────────

func TestSynthesizer_Failover(t *testing.T) {
	t.Parallel()

	primary := &ttsmock.Synthesizer{Err: errors.New("piper: exit status 1")}
	secondary := &ttsmock.Synthesizer{}

	s := NewSynthesizer(primary, "piper", FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour}})
	s.AddFallback("openai", secondary)

	clip, err := s.Synthesize(context.Background(), "Yes?")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if clip.Empty() {
		t.Fatal("got empty clip")
	}
	if _, err := s.Synthesize(context.Background(), "Sir, reminder: tea"); err != nil {
		t.Fatalf("second Synthesize: %v", err)
	}
	if got := len(primary.Texts()); got != 1 {
		t.Errorf("primary calls = %d, want 1 (breaker open after first failure)", got)
	}
	if got := secondary.Texts(); !slices.Equal(got, []string{"Yes?", "Sir, reminder: tea"}) {
		t.Errorf("secondary texts = %v", got)
	}
	if err := s.Ready(context.Background()); err != nil {
		t.Errorf("Ready = %v", err)
	}
}

func TestSynthesizer_CancelledContext(t *testing.T) {
	t.Parallel()

	primary := &ttsmock.Synthesizer{}
	s := NewSynthesizer(primary, "piper", FallbackConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Synthesize(ctx, "hello"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(primary.Texts()) != 0 {
		t.Error("backend called with a cancelled context")
	}
}

func TestTranscriber_EmptyIsSuccess(t *testing.T) {
	t.Parallel()

	primary := &sttmock.Transcriber{Text: ""}
	secondary := &sttmock.Transcriber{Text: "should not be used"}
	tr := NewTranscriber(primary, "whisper", FallbackConfig{})
	tr.AddFallback("openai", secondary)

	text, err := tr.Transcribe(context.Background(), stt.Request{Samples: make([]int16, 160), SampleRate: 16000})
	if err != nil || text != "" {
		t.Fatalf("Transcribe = %q, %v; want empty success", text, err)
	}
	if secondary.CallCount() != 0 {
		t.Error("fallback used for an empty transcript")
	}
}

func TestTranscriber_Failover(t *testing.T) {
	t.Parallel()

	primary := &sttmock.Transcriber{Err: errors.New("connection refused")}
	secondary := &sttmock.Transcriber{Text: "lights off"}
	tr := NewTranscriber(primary, "whisper", FallbackConfig{})
	tr.AddFallback("openai", secondary)

	text, err := tr.Transcribe(context.Background(), stt.Request{Samples: make([]int16, 160), SampleRate: 16000})
	if err != nil || text != "lights off" {
		t.Fatalf("Transcribe = %q, %v", text, err)
	}
}

func TestCompleter_Failover(t *testing.T) {
	t.Parallel()

	primary := &llmmock.Completer{Err: errors.New("503")}
	secondary := &llmmock.Completer{Reply: "Certainly, sir."}
	c := NewCompleter(primary, "ollama", FallbackConfig{})
	c.AddFallback("openai", secondary)

	reply, err := c.Complete(context.Background(), llm.Request{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hello"}}})
	if err != nil || reply != "Certainly, sir." {
		t.Fatalf("Complete = %q, %v", reply, err)
	}
	if got := len(primary.Requests()); got != 1 {
		t.Errorf("primary requests = %d, want 1", got)
	}
}

func TestTranscriber_NoAudioSkipsFallbacks(t *testing.T) {
	t.Parallel()

	primary := &sttmock.Transcriber{Err: stt.ErrNoAudio}
	secondary := &sttmock.Transcriber{Text: "should not be used"}
	tr := NewTranscriber(primary, "whisper", FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1}})
	tr.AddFallback("deepgram", secondary)

	for range 3 {
		if _, err := tr.Transcribe(context.Background(), stt.Request{}); !errors.Is(err, stt.ErrNoAudio) {
			t.Fatalf("err = %v, want ErrNoAudio", err)
		}
	}
	if len(secondary.Calls) != 0 {
		t.Errorf("fallback called %d times for an empty utterance", len(secondary.Calls))
	}
	if len(primary.Calls) != 3 {
		t.Errorf("primary calls = %d, want 3 (breaker must stay closed)", len(primary.Calls))
	}
}
