// Package phonetic spots wake words by transcribing short bursts of speech
// and matching them phonetically against the keyword list.
//
// Frames are energy-gated: a window opens at the first loud frame, collects
// audio until a short trailing silence (or the window cap) and is then sent
// to an [stt.Transcriber]. The transcript is checked with a
// [transcript.KeywordMatcher], which tolerates the usual recognition slips.
// Quiet input never reaches the transcriber.
package phonetic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/valet/internal/transcript"
	tphonetic "github.com/MrWong99/valet/internal/transcript/phonetic"
	"github.com/MrWong99/valet/pkg/audio"
	"github.com/MrWong99/valet/pkg/provider/stt"
	"github.com/MrWong99/valet/pkg/provider/wakeword"
)

const (
	defaultEnergyThreshold = 500
	defaultTrailingSilence = 300 * time.Millisecond
	defaultMaxWindow       = 2 * time.Second
	defaultMinSpeech       = 150 * time.Millisecond
)

// Compile-time interface assertion.
var _ wakeword.Classifier = (*Classifier)(nil)

// Option is a functional option for configuring a [Classifier].
type Option func(*Classifier)

// WithEnergyThreshold sets the RMS energy a frame must exceed to open or
// extend a window. Default: 500.
func WithEnergyThreshold(e float64) Option {
	return func(c *Classifier) { c.threshold = e }
}

// WithTrailingSilence sets how much quiet closes a window. Default: 300 ms.
func WithTrailingSilence(d time.Duration) Option {
	return func(c *Classifier) { c.trailing = d }
}

// WithMaxWindow caps the audio sent per transcription. Default: 2 s.
func WithMaxWindow(d time.Duration) Option {
	return func(c *Classifier) { c.maxWindow = d }
}

// WithMinSpeech sets the minimum loud audio a window needs before it is
// transcribed. Shorter windows (clicks, coughs) are dropped. Default: 150 ms.
func WithMinSpeech(d time.Duration) Option {
	return func(c *Classifier) { c.minSpeech = d }
}

// WithMatcher replaces the keyword matcher. Defaults to the Double Metaphone
// matcher from internal/transcript/phonetic.
func WithMatcher(m transcript.KeywordMatcher) Option {
	return func(c *Classifier) { c.matcher = m }
}

// WithLanguage sets the language hint passed to the transcriber.
func WithLanguage(lang string) Option {
	return func(c *Classifier) { c.language = lang }
}

// Classifier implements wakeword.Classifier. It is driven by one goroutine.
type Classifier struct {
	keywords []string
	tr       stt.Transcriber
	matcher  transcript.KeywordMatcher
	language string

	threshold float64
	trailing  time.Duration
	maxWindow time.Duration
	minSpeech time.Duration

	// window state
	buf     []int16
	rate    int
	loud    time.Duration
	quiet   time.Duration
	total   time.Duration
	opened  bool
	lastHit string
}

// New creates a Classifier listening for keywords.
func New(tr stt.Transcriber, keywords []string, opts ...Option) (*Classifier, error) {
	if tr == nil {
		return nil, errors.New("phonetic: transcriber must not be nil")
	}
	var kws []string
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" {
			kws = append(kws, k)
		}
	}
	if len(kws) == 0 {
		return nil, errors.New("phonetic: at least one keyword is required")
	}
	c := &Classifier{
		keywords:  kws,
		tr:        tr,
		threshold: defaultEnergyThreshold,
		trailing:  defaultTrailingSilence,
		maxWindow: defaultMaxWindow,
		minSpeech: defaultMinSpeech,
	}
	for _, o := range opts {
		o(c)
	}
	if c.matcher == nil {
		c.matcher = tphonetic.New()
	}
	return c, nil
}

// Keywords implements wakeword.Classifier.
func (c *Classifier) Keywords() []string { return c.keywords }

// LastTranscript returns the text of the most recent window that matched.
func (c *Classifier) LastTranscript() string { return c.lastHit }

// Reset implements wakeword.Classifier.
func (c *Classifier) Reset() {
	c.buf = c.buf[:0]
	c.loud, c.quiet, c.total = 0, 0, 0
	c.opened = false
}

// Process implements wakeword.Classifier. The transcription runs inline, so
// the call that closes a window blocks for one transcriber round trip.
func (c *Classifier) Process(ctx context.Context, frame audio.AudioFrame) (int, error) {
	d := frame.Duration()
	loud := frame.Energy() > c.threshold

	if !c.opened {
		if !loud {
			return wakeword.NoKeyword, nil
		}
		c.opened = true
		c.rate = frame.SampleRate
	}

	c.buf = append(c.buf, frame.Samples...)
	c.total += d
	if loud {
		c.loud += d
		c.quiet = 0
	} else {
		c.quiet += d
	}

	if c.quiet < c.trailing && c.total < c.maxWindow {
		return wakeword.NoKeyword, nil
	}
	return c.flush(ctx)
}

func (c *Classifier) flush(ctx context.Context) (int, error) {
	defer c.Reset()
	if c.loud < c.minSpeech {
		return wakeword.NoKeyword, nil
	}
	samples := make([]int16, len(c.buf))
	copy(samples, c.buf)

	text, err := c.tr.Transcribe(ctx, stt.Request{Samples: samples, SampleRate: c.rate, Language: c.language})
	if err != nil {
		return wakeword.NoKeyword, fmt.Errorf("phonetic: transcribe window: %w", err)
	}
	hit, ok := c.matcher.Find(text, c.keywords)
	if !ok {
		return wakeword.NoKeyword, nil
	}
	c.lastHit = text
	return hit.Index, nil
}
