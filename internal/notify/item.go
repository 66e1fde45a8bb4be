// Package notify arbitrates when asynchronous notifications may be spoken.
//
// Producers push [Item] values into an [Arbiter]. Urgent items interrupt the
// user, High items are spoken at once unless a command is being captured or
// the cooldown since the last High announcement has not elapsed, and Routine
// items always wait in the [Queue] until a scheduler tick drains them one at
// a time.
package notify

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Priority orders notifications. Higher values pop first.
type Priority int

const (
	Routine Priority = iota
	High
	Urgent
)

// String returns the lower-case priority name.
func (p Priority) String() string {
	switch p {
	case Routine:
		return "routine"
	case High:
		return "high"
	case Urgent:
		return "urgent"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority parses a priority name case-insensitively. An empty string
// is Routine.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "routine", "normal", "low":
		return Routine, nil
	case "high":
		return High, nil
	case "urgent":
		return Urgent, nil
	default:
		return Routine, fmt.Errorf("notify: unknown priority %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Priority) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Item is one notification.
type Item struct {
	ID        string            `json:"id"`
	Source    string            `json:"source"`
	Message   string            `json:"message"`
	Priority  Priority          `json:"priority"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`

	// ShortKey is a date-based handle the user can refer to by voice,
	// e.g. "20261019-e2".
	ShortKey string `json:"shortKey"`

	// Announced is set once an idle prompt has mentioned the item.
	Announced bool `json:"announced"`
}

// ShortKeys generates date-based short keys. Counters restart every day.
type ShortKeys struct {
	mu       sync.Mutex
	day      string
	counters map[string]int
}

// NewShortKeys creates a ShortKeys generator.
func NewShortKeys() *ShortKeys {
	return &ShortKeys{counters: make(map[string]int)}
}

// Next returns the next key of the given kind at now, e.g. "20261019-e3".
func (k *ShortKeys) Next(kind string, now time.Time) string {
	k.mu.Lock()
	defer k.mu.Unlock()
	day := now.Format("20060102")
	if day != k.day {
		k.day = day
		clear(k.counters)
	}
	k.counters[kind]++
	return fmt.Sprintf("%s-%s%d", day, kind, k.counters[kind])
}
