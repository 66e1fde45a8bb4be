package resilience

import (
	"context"

	"github.com/MrWong99/valet/pkg/provider/llm"
)

// Completer implements [llm.Completer] behind a circuit breaker so a dead
// model endpoint fails fast instead of stalling every command.
type Completer struct {
	group *FallbackGroup[llm.Completer]
}

var _ llm.Completer = (*Completer)(nil)

// NewCompleter creates a [Completer] with primary as the preferred backend.
func NewCompleter(primary llm.Completer, primaryName string, cfg FallbackConfig) *Completer {
	return &Completer{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional completer.
func (c *Completer) AddFallback(name string, fallback llm.Completer) {
	c.group.AddFallback(name, fallback)
}

// Complete asks the first healthy backend for a reply.
func (c *Completer) Complete(ctx context.Context, req llm.Request) (string, error) {
	return ExecuteWithResult(c.group, func(p llm.Completer) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return p.Complete(ctx, req)
	})
}
