// Package phonetic implements the [transcript.KeywordMatcher] interface using
// Double Metaphone phonetic encoding combined with Jaro-Winkler string
// similarity.
//
// Find slides a window the size of each keyword over the words of the
// transcript. A window matches when every word in it either shares a Double
// Metaphone code with the aligned keyword word or is close to it by
// Jaro-Winkler alone (fuzzy threshold, default 0.85), and the mean
// Jaro-Winkler score of the window reaches the phonetic threshold (default
// 0.70). This accepts the usual speech-to-text slips ("hey jarvas" for "hey
// jarvis") while rejecting windows that merely share a filler word ("hey
// there").
package phonetic

import (
	"github.com/antzucaro/matchr"

	"github.com/MrWong99/valet/internal/transcript"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Compile-time interface assertion.
var _ transcript.KeywordMatcher = (*Matcher)(nil)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum mean Jaro-Winkler score a window
// needs. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the Jaro-Winkler score at which a word without any
// phonetic overlap is still accepted. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher is a phonetic keyword matcher. It is read-only after construction
// and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a new [Matcher] configured with the supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Find implements [transcript.KeywordMatcher]. Among all matching windows the
// earliest one wins; ties at the same position go to the higher score.
func (m *Matcher) Find(text string, keywords []string) (transcript.Hit, bool) {
	words := transcript.Normalize(text)
	if len(words) == 0 || len(keywords) == 0 {
		return transcript.Hit{}, false
	}

	var best transcript.Hit
	found := false
	for i, kw := range keywords {
		kwWords := nonEmpty(transcript.Normalize(kw))
		if len(kwWords) == 0 {
			continue
		}
		for start := 0; start+len(kwWords) <= len(words); start++ {
			if found && start > best.Start {
				break
			}
			score, ok := m.window(words[start:start+len(kwWords)], kwWords)
			if !ok {
				continue
			}
			if !found || start < best.Start || score > best.Score {
				best = transcript.Hit{Index: i, Keyword: kw, Start: start, End: start + len(kwWords), Score: score}
				found = true
			}
			break
		}
	}
	return best, found
}

// window scores one aligned window against a keyword.
func (m *Matcher) window(words, kwWords []string) (float64, bool) {
	var sum float64
	for j, kw := range kwWords {
		w := words[j]
		if w == "" {
			return 0, false
		}
		jw := matchr.JaroWinkler(w, kw, false)
		if jw < m.fuzzyThreshold && !codesOverlap(codesFor(w), codesFor(kw)) {
			return 0, false
		}
		sum += jw
	}
	score := sum / float64(len(kwWords))
	return score, score >= m.phoneticThreshold
}

// codesFor returns the Double Metaphone codes of a word. Empty codes
// (produced when the word is too short or contains no consonants) are
// excluded.
func codesFor(word string) map[string]struct{} {
	codes := make(map[string]struct{}, 2)
	p, s := matchr.DoubleMetaphone(word)
	if p != "" {
		codes[p] = struct{}{}
	}
	if s != "" {
		codes[s] = struct{}{}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

func nonEmpty(words []string) []string {
	out := words[:0]
	for _, w := range words {
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}
