// Package mock provides a test double for the llm.Completer interface.
//
// Example:
//
//	c := &mock.Completer{Reply: "It is sunny, sir."}
//	text, err := c.Complete(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/valet/pkg/provider/llm"
)

// Ensure Completer implements llm.Completer at compile time.
var _ llm.Completer = (*Completer)(nil)

// Completer is a mock implementation of llm.Completer.
type Completer struct {
	mu sync.Mutex

	// Reply is returned by Complete.
	Reply string

	// Err, if non-nil, is returned instead of Reply.
	Err error

	// Calls records every request in order.
	Calls []llm.Request
}

// Complete records the call and returns Reply, Err.
func (c *Completer) Complete(_ context.Context, req llm.Request) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = append(c.Calls, req)
	return c.Reply, c.Err
}

// Requests returns a copy of the recorded requests. Thread-safe.
func (c *Completer) Requests() []llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]llm.Request, len(c.Calls))
	copy(out, c.Calls)
	return out
}
