package phonetic_test

import (
	"testing"

	"github.com/MrWong99/valet/internal/transcript"
	"github.com/MrWong99/valet/internal/transcript/phonetic"
)

func TestMatcher_ExactPhrase(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	hit, ok := m.Find("Hey Jarvis, what time is it?", []string{"computer", "hey jarvis"})
	if !ok {
		t.Fatal("Find: ok=false, want true")
	}
	if hit.Index != 1 || hit.Keyword != "hey jarvis" {
		t.Errorf("hit = %+v, want keyword index 1", hit)
	}
	if hit.Start != 0 || hit.End != 2 {
		t.Errorf("range = [%d, %d), want [0, 2)", hit.Start, hit.End)
	}
	if hit.Score != 1 {
		t.Errorf("score = %f, want 1", hit.Score)
	}
}

func TestMatcher_MisheardKeyword(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	// "jarvas" shares the Double Metaphone code of "jarvis".
	hit, ok := m.Find("okay jarvas lights off", []string{"jarvis"})
	if !ok {
		t.Fatal("Find: ok=false for a near-homophone")
	}
	if hit.Start != 1 || hit.End != 2 {
		t.Errorf("range = [%d, %d), want [1, 2)", hit.Start, hit.End)
	}
	if hit.Score < 0.7 || hit.Score >= 1 {
		t.Errorf("score = %f, want in [0.7, 1)", hit.Score)
	}
}

func TestMatcher_FillerWordAloneDoesNotMatch(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	if hit, ok := m.Find("hey there how are you", []string{"hey jarvis"}); ok {
		t.Errorf("Find matched %+v, want no match", hit)
	}
}

func TestMatcher_NoMatch(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	if _, ok := m.Find("what is the weather", []string{"jarvis"}); ok {
		t.Error("Find matched unrelated text")
	}
	if _, ok := m.Find("", []string{"jarvis"}); ok {
		t.Error("Find matched empty text")
	}
	if _, ok := m.Find("jarvis", nil); ok {
		t.Error("Find matched without keywords")
	}
}

func TestMatcher_EarliestWins(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	hit, ok := m.Find("computer hey jarvis", []string{"hey jarvis", "computer"})
	if !ok {
		t.Fatal("Find: ok=false")
	}
	if hit.Keyword != "computer" || hit.Start != 0 {
		t.Errorf("hit = %+v, want computer at 0", hit)
	}
}

func TestMatcher_StripWakePhrase(t *testing.T) {
	t.Parallel()

	got := transcript.StripWakePhrase("Hey Jarvis, dim the lights.", []string{"hey jarvis"}, phonetic.New())
	if got != "dim the lights." {
		t.Errorf("StripWakePhrase = %q, want %q", got, "dim the lights.")
	}
}
