// Package command turns a transcribed user command into a spoken reply.
//
// The main loop calls a single [Handler]. [Chain] tries several handlers in
// order so that cheap local handlers (mode switches) run before the language
// model fallback.
package command

import (
	"context"
	"errors"
)

// ErrNotHandled is returned by a handler that does not recognise the text.
// [Chain] moves on to the next handler.
var ErrNotHandled = errors.New("command: not handled")

// Handler answers one command. An empty reply means nothing should be said.
type Handler interface {
	Handle(ctx context.Context, text string) (string, error)
}

// HandlerFunc adapts an ordinary function to the [Handler] interface.
type HandlerFunc func(ctx context.Context, text string) (string, error)

// Handle calls f(ctx, text).
func (f HandlerFunc) Handle(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}

// Chain tries each handler in order and returns the first answer that is
// not [ErrNotHandled].
type Chain []Handler

// Handle implements Handler.
func (c Chain) Handle(ctx context.Context, text string) (string, error) {
	for _, h := range c {
		reply, err := h.Handle(ctx, text)
		if errors.Is(err, ErrNotHandled) {
			continue
		}
		return reply, err
	}
	return "", ErrNotHandled
}
