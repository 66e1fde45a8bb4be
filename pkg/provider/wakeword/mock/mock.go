// Package mock provides a scripted wakeword.Classifier for tests.
//
// Example:
//
//	clf := &mock.Classifier{Words: []string{"jarvis"}, Script: []int{-1, -1, 0}}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/valet/pkg/audio"
	"github.com/MrWong99/valet/pkg/provider/wakeword"
)

// Ensure Classifier implements wakeword.Classifier at compile time.
var _ wakeword.Classifier = (*Classifier)(nil)

// Classifier is a mock implementation of wakeword.Classifier.
type Classifier struct {
	mu sync.Mutex

	// Words is returned by Keywords.
	Words []string

	// Script holds one result per Process call. Once exhausted every call
	// returns NoKeyword.
	Script []int

	// Errs holds one error per Process call, aligned with Script.
	Errs []error

	// DetectAbove, when positive, reports keyword 0 for any frame louder
	// than this energy. It is consulted after Script runs out.
	DetectAbove float64

	// --- Call records ---

	// CallCountProcess is the number of Process calls.
	CallCountProcess int

	// CallCountReset is the number of Reset calls.
	CallCountReset int
}

// Process returns the next scripted result.
func (c *Classifier) Process(ctx context.Context, frame audio.AudioFrame) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.CallCountProcess
	c.CallCountProcess++

	var err error
	if i < len(c.Errs) {
		err = c.Errs[i]
	}
	if i < len(c.Script) {
		return c.Script[i], err
	}
	if err != nil {
		return wakeword.NoKeyword, err
	}
	if c.DetectAbove > 0 && frame.Energy() > c.DetectAbove {
		return 0, nil
	}
	return wakeword.NoKeyword, nil
}

// Keywords returns Words.
func (c *Classifier) Keywords() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Words
}

// Reset records the call.
func (c *Classifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountReset++
}

// Processed returns CallCountProcess. Thread-safe.
func (c *Classifier) Processed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CallCountProcess
}

// Resets returns CallCountReset. Thread-safe.
func (c *Classifier) Resets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CallCountReset
}
