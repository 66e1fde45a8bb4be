package playback

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/valet/internal/observe"
	"github.com/MrWong99/valet/internal/state"
	"github.com/MrWong99/valet/pkg/audio"
	audiomock "github.com/MrWong99/valet/pkg/audio/mock"
	ttsmock "github.com/MrWong99/valet/pkg/provider/tts/mock"
)

// fakeBargeIn counts activations and checks that the speaking flag is set
// while it is armed.
type fakeBargeIn struct {
	st          *state.State
	activations atomic.Int32
	armed       atomic.Int32
	misordered  atomic.Bool
}

func (f *fakeBargeIn) Activate() bool {
	f.activations.Add(1)
	f.armed.Add(1)
	if !f.st.Speaking() {
		f.misordered.Store(true)
	}
	return true
}

func (f *fakeBargeIn) Deactivate() {
	if f.armed.Load() > 0 {
		f.armed.Add(-1)
	}
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

type fixture struct {
	st      *state.State
	synth   *ttsmock.Synthesizer
	player  *audiomock.Player
	bargeIn *fakeBargeIn
	ctrl    *Controller
}

func newFixture(t *testing.T, playFor time.Duration) *fixture {
	t.Helper()
	st := state.New()
	f := &fixture{
		st:     st,
		synth:  &ttsmock.Synthesizer{},
		player: &audiomock.Player{Duration: playFor},
		bargeIn: &fakeBargeIn{
			st: st,
		},
	}
	f.ctrl = New(f.synth, f.player, st,
		WithBargeIn(f.bargeIn),
		WithConfig(Config{SettleDelay: 10 * time.Millisecond, PollInterval: 5 * time.Millisecond}),
		WithMetrics(testMetrics(t)),
	)
	return f
}

// assertReset checks that no flag survived the task.
func (f *fixture) assertReset(t *testing.T) {
	t.Helper()
	if f.st.Speaking() {
		t.Error("speaking still set after task")
	}
	if f.st.InterruptRequested() {
		t.Error("interrupt still requested after task")
	}
	if got := f.bargeIn.armed.Load(); got != 0 {
		t.Errorf("barge-in still armed %d time(s)", got)
	}
	if f.bargeIn.misordered.Load() {
		t.Error("barge-in armed before speaking was set")
	}
}

func TestSpeak_Completes(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 20*time.Millisecond)
	res := f.ctrl.Speak(context.Background(), "Good **morning**, sir.")
	if res.Status != Completed {
		t.Fatalf("Status = %v (err %v), want completed", res.Status, res.Err)
	}
	if res.Duration < 20*time.Millisecond {
		t.Errorf("Duration = %v, want at least the clip length", res.Duration)
	}
	if got := f.synth.Texts(); len(got) != 1 || got[0] != "Good morning, sir." {
		t.Errorf("synthesized %q, want sanitized text", got)
	}
	if f.bargeIn.activations.Load() != 1 {
		t.Errorf("activations = %d, want 1", f.bargeIn.activations.Load())
	}
	f.assertReset(t)
}

func TestSpeak_ConcurrentCallsNeverOverlap(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 15*time.Millisecond)
	var wg sync.WaitGroup
	results := make([]Result, 6)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = f.ctrl.Speak(context.Background(), "hello")
		}()
	}
	wg.Wait()

	for i, r := range results {
		if r.Status != Completed {
			t.Errorf("result %d = %v, want completed", i, r.Status)
		}
	}
	if got := f.player.Overlaps(); got != 0 {
		t.Errorf("overlapping playbacks = %d, want 0", got)
	}
	if got := f.player.MaxActive(); got != 1 {
		t.Errorf("max active = %d, want 1", got)
	}
	f.assertReset(t)
}

func TestSpeak_SynthesisFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 0)
	boom := errors.New("backend down")
	f.synth.Err = boom

	res := f.ctrl.Speak(context.Background(), "hello")
	if res.Status != Failed || !errors.Is(res.Err, boom) {
		t.Errorf("result = %v / %v, want failed wrapping %v", res.Status, res.Err, boom)
	}
	if f.player.PlayedCount() != 0 {
		t.Error("player started despite synthesis failure")
	}
	f.assertReset(t)
}

func TestSpeak_SynthesisPanic(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 0)
	f.synth.Panic = "segfault in voice model"

	res := f.ctrl.Speak(context.Background(), "hello")
	if res.Status != Failed || res.Err == nil {
		t.Errorf("result = %v / %v, want failed with error", res.Status, res.Err)
	}
	f.assertReset(t)

	// The slot must be free again.
	f.synth.Panic = nil
	if res := f.ctrl.Speak(context.Background(), "again"); res.Status != Completed {
		t.Errorf("follow-up status = %v, want completed", res.Status)
	}
}

func TestSpeak_PlayErrors(t *testing.T) {
	t.Parallel()

	t.Run("start", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, 0)
		f.player.PlayErr = errors.New("no output device")
		if res := f.ctrl.Speak(context.Background(), "hello"); res.Status != Failed {
			t.Errorf("Status = %v, want failed", res.Status)
		}
		f.assertReset(t)
	})

	t.Run("mid playback", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, 10*time.Millisecond)
		f.player.FailAfter = errors.New("underrun")
		if res := f.ctrl.Speak(context.Background(), "hello"); res.Status != Failed {
			t.Errorf("Status = %v, want failed", res.Status)
		}
		f.assertReset(t)
	})
}

func TestSpeak_EmptyText(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 0)
	if res := f.ctrl.Speak(context.Background(), "  ** "); res.Status != Failed {
		t.Errorf("Status = %v, want failed", res.Status)
	}
	if len(f.synth.Texts()) != 0 {
		t.Error("synthesizer called for empty text")
	}
	f.assertReset(t)
}

func TestSpeak_Interrupt(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 5*time.Second)
	task := f.ctrl.Submit(context.Background(), "a very long story")

	deadline := time.After(2 * time.Second)
	for f.player.PlayedCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("playback never started")
		case <-time.After(2 * time.Millisecond):
		}
	}
	f.st.RequestInterrupt()

	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatal("task did not stop after interrupt")
	}
	res := task.Wait()
	if res.Status != Interrupted {
		t.Errorf("Status = %v, want interrupted", res.Status)
	}
	if !task.Interrupted() {
		t.Error("Interrupted() = false")
	}
	if f.player.Stops() != 1 {
		t.Errorf("stops = %d, want 1", f.player.Stops())
	}
	f.assertReset(t)
}

func TestSpeak_InterruptDuringSynthesisSkipsPlayback(t *testing.T) {
	t.Parallel()

	f := newFixture(t, time.Second)
	f.synth.Delay = 50 * time.Millisecond
	task := f.ctrl.Submit(context.Background(), "hello")

	time.Sleep(20 * time.Millisecond)
	f.st.RequestInterrupt()
	if res := task.Wait(); res.Status != Interrupted {
		t.Errorf("Status = %v, want interrupted", res.Status)
	}
	if f.player.PlayedCount() != 0 {
		t.Error("clip played after interrupt")
	}
	f.assertReset(t)
}

func TestTask_Cancel(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 5*time.Second)
	task := f.ctrl.Submit(context.Background(), "hello")
	for f.player.PlayedCount() == 0 {
		time.Sleep(2 * time.Millisecond)
	}
	task.Cancel()
	task.Cancel()

	res := task.Wait()
	if res.Status != Interrupted || !errors.Is(res.Err, context.Canceled) {
		t.Errorf("result = %v / %v, want interrupted with context.Canceled", res.Status, res.Err)
	}
	f.assertReset(t)
}

func TestTask_CancelWhileWaitingForSlot(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 200*time.Millisecond)
	first := f.ctrl.Submit(context.Background(), "first")
	for f.player.PlayedCount() == 0 {
		time.Sleep(2 * time.Millisecond)
	}

	second := f.ctrl.Submit(context.Background(), "second")
	second.Cancel()
	if res := second.Wait(); res.Status != Interrupted {
		t.Errorf("second = %v, want interrupted", res.Status)
	}
	if res := first.Wait(); res.Status != Completed {
		t.Errorf("first = %v, want completed", res.Status)
	}
	if got := f.synth.Texts(); len(got) != 1 {
		t.Errorf("synthesized %q, want only the first text", got)
	}
	if second.ID() == first.ID() {
		t.Error("tasks share an ID")
	}
}

func TestSpeak_SettleOnlyAfterCompletion(t *testing.T) {
	t.Parallel()

	st := state.New()
	player := &audiomock.Player{Duration: 10 * time.Millisecond}
	ctrl := New(&ttsmock.Synthesizer{}, player, st,
		WithConfig(Config{SettleDelay: 150 * time.Millisecond, PollInterval: 5 * time.Millisecond}),
		WithMetrics(testMetrics(t)),
	)

	res := ctrl.Speak(context.Background(), "hello")
	if res.Duration < 150*time.Millisecond {
		t.Errorf("completed Duration = %v, want settle delay included", res.Duration)
	}

	player.Duration = 5 * time.Second
	task := ctrl.Submit(context.Background(), "again")
	for player.PlayedCount() < 2 {
		time.Sleep(2 * time.Millisecond)
	}
	st.RequestInterrupt()
	res = task.Wait()
	if res.Status != Interrupted {
		t.Fatalf("Status = %v, want interrupted", res.Status)
	}
	if res.Duration >= 150*time.Millisecond {
		t.Errorf("interrupted Duration = %v, want no settle delay", res.Duration)
	}
}

func TestSpeakClip(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 0)
	clip := audio.Tone(880, 30*time.Millisecond, 16000, 3000)
	if res := f.ctrl.SpeakClip(context.Background(), clip); res.Status != Completed {
		t.Errorf("Status = %v, want completed", res.Status)
	}
	if len(f.synth.Texts()) != 0 {
		t.Error("SpeakClip called the synthesizer")
	}
	if res := f.ctrl.SpeakClip(context.Background(), audio.Clip{}); res.Status != Failed {
		t.Errorf("empty clip status = %v, want failed", res.Status)
	}
	f.assertReset(t)
}

func TestStatus_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		s    Status
		want string
	}{
		{Completed, "completed"},
		{Interrupted, "interrupted"},
		{Failed, "failed"},
		{Status(9), "Status(9)"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
