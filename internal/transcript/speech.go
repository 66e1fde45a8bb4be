package transcript

import (
	"regexp"
	"strings"
)

var (
	speechReplacer = strings.NewReplacer(
		"°", " degrees ",
		"@", " at ",
		"&", " and ",
	)
	speechStrip = strings.NewReplacer(
		"<", "", ">", "", "*", "", "#", "", "_", "", "~", "",
		"|", "", "[", "", "]", "", "{", "", "}", "", "`", "",
	)
	angleAddress = regexp.MustCompile(`\s*<[^>]*@[^>]*>`)
)

// SanitizeForSpeech removes characters a speech synthesizer would read out
// literally (markdown, brackets, pipes) and spells out a few symbols.
// Whitespace runs are collapsed.
func SanitizeForSpeech(text string) string {
	text = speechReplacer.Replace(text)
	text = speechStrip.Replace(text)
	return strings.Join(strings.Fields(text), " ")
}

// SenderName turns an email sender header into something speakable.
// "Jane Doe <jane@example.com>" becomes "Jane Doe"; a bare address has its
// "@" spelled out.
func SenderName(from string) string {
	from = strings.TrimSpace(from)
	if name := strings.TrimSpace(angleAddress.ReplaceAllString(from, "")); name != "" && name != from {
		return strings.Trim(name, `"' `)
	}
	from = strings.Trim(from, "<>")
	return strings.Join(strings.Fields(strings.ReplaceAll(from, "@", " at ")), " ")
}

// StripWakePhrase removes a wake phrase echoed at the very start of a
// transcript, e.g. "Hey Valet, what's the time" → "what's the time". Text
// without a leading wake phrase is returned trimmed but otherwise unchanged.
func StripWakePhrase(text string, keywords []string, m KeywordMatcher) string {
	text = strings.TrimSpace(text)
	if m == nil || len(keywords) == 0 || text == "" {
		return text
	}
	hit, ok := m.Find(text, keywords)
	if !ok || hit.Start != 0 {
		return text
	}
	words := strings.Fields(text)
	if hit.End >= len(words) {
		return ""
	}
	rest := strings.Join(words[hit.End:], " ")
	return strings.TrimLeft(rest, ",.!?;: ")
}

// Normalize lowercases text and strips punctuation so that transcripts can be
// compared word by word.
func Normalize(text string) []string {
	words := strings.Fields(strings.ToLower(text))
	out := make([]string, 0, len(words))
	for _, w := range words {
		out = append(out, strings.TrimFunc(w, isPunct))
	}
	return out
}

func isPunct(r rune) bool {
	return strings.ContainsRune(`.,!?;:'"()-`, r)
}
