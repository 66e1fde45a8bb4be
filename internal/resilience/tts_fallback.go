package resilience

import (
	"context"

	"github.com/MrWong99/valet/pkg/audio"
	"github.com/MrWong99/valet/pkg/provider/tts"
)

// Synthesizer implements [tts.Synthesizer] with failover across several
// backends, e.g. a local piper voice backed by a cloud voice.
type Synthesizer struct {
	group *FallbackGroup[tts.Synthesizer]
}

var _ tts.Synthesizer = (*Synthesizer)(nil)

// NewSynthesizer creates a [Synthesizer] with primary as the preferred backend.
func NewSynthesizer(primary tts.Synthesizer, primaryName string, cfg FallbackConfig) *Synthesizer {
	return &Synthesizer{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional synthesizer.
func (s *Synthesizer) AddFallback(name string, fallback tts.Synthesizer) {
	s.group.AddFallback(name, fallback)
}

// Synthesize renders text with the first healthy backend. A cancelled ctx
// stops the failover chain.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (audio.Clip, error) {
	return ExecuteWithResult(s.group, func(p tts.Synthesizer) (audio.Clip, error) {
		if err := ctx.Err(); err != nil {
			return audio.Clip{}, err
		}
		return p.Synthesize(ctx, text)
	})
}

// Ready reports whether any backend can take calls.
func (s *Synthesizer) Ready(context.Context) error { return s.group.Ready() }
