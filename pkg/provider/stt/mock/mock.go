// Package mock provides a test double for the stt.Transcriber interface.
//
// Responses are consumed in order; once exhausted, Text is returned for every
// further call.
//
// Example:
//
//	tr := &mock.Transcriber{Responses: []mock.Response{{Text: ""}, {Text: "lights off"}}}
//	text, _ := tr.Transcribe(ctx, stt.Request{Samples: pcm, SampleRate: 16000})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/valet/pkg/provider/stt"
)

// Ensure Transcriber implements stt.Transcriber at compile time.
var _ stt.Transcriber = (*Transcriber)(nil)

// Response is one scripted reply.
type Response struct {
	Text string
	Err  error
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Responses are returned in order, one per call.
	Responses []Response

	// Text is returned once Responses is exhausted.
	Text string

	// Err, if non-nil, is returned once Responses is exhausted.
	Err error

	// --- Call records ---

	// Calls records every request in order.
	Calls []stt.Request
}

// Transcribe records the call and returns the next scripted response.
func (t *Transcriber) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Calls = append(t.Calls, req)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(t.Responses) > 0 {
		r := t.Responses[0]
		t.Responses = t.Responses[1:]
		return r.Text, r.Err
	}
	return t.Text, t.Err
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (t *Transcriber) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Calls)
}

// Requests returns a copy of the recorded requests. Thread-safe.
func (t *Transcriber) Requests() []stt.Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]stt.Request, len(t.Calls))
	copy(out, t.Calls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (t *Transcriber) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Calls = nil
}
