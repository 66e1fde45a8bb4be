package transcript

import "testing"

func TestSanitizeForSpeech(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{in: "It is 21° outside", want: "It is 21 degrees outside"},
		{in: "**Meeting** at _noon_ with `bob`", want: "Meeting at noon with bob"},
		{in: "mail jane@example.com", want: "mail jane at example.com"},
		{in: "[link](x) | {y} ~z~ #tag", want: "link(x) y z tag"},
		{in: "  spaced \n\t out  ", want: "spaced out"},
		{in: "Salt & pepper", want: "Salt and pepper"},
		{in: "", want: ""},
	}
	for _, tc := range tests {
		if got := SanitizeForSpeech(tc.in); got != tc.want {
			t.Errorf("SanitizeForSpeech(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSenderName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{in: "Jane Doe <jane@example.com>", want: "Jane Doe"},
		{in: `"Bob Smith" <bob@example.com>`, want: "Bob Smith"},
		{in: "alerts@bank.example", want: "alerts at bank.example"},
		{in: "<noreply@example.com>", want: "noreply at example.com"},
		{in: "Plain Name", want: "Plain Name"},
	}
	for _, tc := range tests {
		if got := SenderName(tc.in); got != tc.want {
			t.Errorf("SenderName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

// prefixMatcher is a KeywordMatcher that matches keywords word for word.
type prefixMatcher struct{}

func (prefixMatcher) Find(text string, keywords []string) (Hit, bool) {
	words := Normalize(text)
	for i, kw := range keywords {
		kwWords := Normalize(kw)
		for start := 0; start+len(kwWords) <= len(words); start++ {
			match := true
			for j := range kwWords {
				if words[start+j] != kwWords[j] {
					match = false
					break
				}
			}
			if match {
				return Hit{Index: i, Keyword: kw, Start: start, End: start + len(kwWords), Score: 1}, true
			}
		}
	}
	return Hit{}, false
}

func TestStripWakePhrase(t *testing.T) {
	t.Parallel()

	keywords := []string{"hey valet"}
	tests := []struct {
		in, want string
	}{
		{in: "Hey Valet, what's the time?", want: "what's the time?"},
		{in: "hey valet", want: ""},
		{in: "what's the time, hey valet", want: "what's the time, hey valet"},
		{in: "  turn off the lights ", want: "turn off the lights"},
	}
	for _, tc := range tests {
		if got := StripWakePhrase(tc.in, keywords, prefixMatcher{}); got != tc.want {
			t.Errorf("StripWakePhrase(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
	if got := StripWakePhrase(" x ", keywords, nil); got != "x" {
		t.Errorf("nil matcher: got %q", got)
	}
}
