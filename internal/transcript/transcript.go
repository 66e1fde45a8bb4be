// Package transcript holds the text helpers that sit between the speech
// providers and the rest of the assistant.
//
// Transcripts coming back from speech-to-text are matched against the wake
// phrases so that an echoed "hey valet" at the start of a command is dropped
// before the command handler sees it. Replies going out to text-to-speech are
// sanitized so that markup and symbols are not read aloud.
package transcript

// Hit is one keyword found inside a transcript.
type Hit struct {
	// Index is the position of the keyword in the list passed to Find.
	Index int

	// Keyword is the matched keyword as configured.
	Keyword string

	// Start and End delimit the matched words of the transcript as a
	// half-open range of word indices.
	Start, End int

	// Score is the similarity in [0.0, 1.0] where 1.0 is an exact match.
	Score float64
}

// KeywordMatcher locates spoken keywords in free text based on pronunciation
// similarity. It is fast enough to run on every short wake-word window: no
// network calls, no model inference.
//
// Implementations must be safe for concurrent use.
type KeywordMatcher interface {
	// Find returns the earliest, best-scoring occurrence of any keyword in
	// text. ok is false when nothing is similar enough.
	Find(text string, keywords []string) (hit Hit, ok bool)
}
