package resilience

import (
	"context"

	"github.com/MrWong99/valet/pkg/provider/stt"
)

// Transcriber implements [stt.Transcriber] with failover across several
// backends.
type Transcriber struct {
	group *FallbackGroup[stt.Transcriber]
}

var _ stt.Transcriber = (*Transcriber)(nil)

// NewTranscriber creates a [Transcriber] with primary as the preferred backend.
func NewTranscriber(primary stt.Transcriber, primaryName string, cfg FallbackConfig) *Transcriber {
	return &Transcriber{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional transcriber.
func (t *Transcriber) AddFallback(name string, fallback stt.Transcriber) {
	t.group.AddFallback(name, fallback)
}

// Transcribe sends req to the first healthy backend. An empty transcript is a
// success, not a reason to fail over.
func (t *Transcriber) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	return ExecuteWithResult(t.group, func(p stt.Transcriber) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return p.Transcribe(ctx, req)
	})
}

// Ready reports whether any backend can take calls.
func (t *Transcriber) Ready(context.Context) error { return t.group.Ready() }
