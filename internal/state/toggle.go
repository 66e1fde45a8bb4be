package state

import (
	"errors"
	"fmt"
)

// ErrUnknownMode is returned for a mode name that [State.Toggle] and
// [State.SetMode] do not know.
var ErrUnknownMode = errors.New("state: unknown mode")

// ErrRefused is returned when conversation mode is requested during gaming
// mode.
var ErrRefused = errors.New("state: conversation mode refused during gaming mode")

// Toggle flips the named mode: "gaming", "conversation", "mute" or
// "listening".
func (s *State) Toggle(name string) error {
	switch name {
	case "gaming":
		return s.SetMode(name, !s.Gaming())
	case "conversation":
		return s.SetMode(name, !s.Conversation())
	case "mute", "muted":
		return s.SetMode(name, !s.Muted())
	case "listening":
		return s.SetMode(name, !s.Listening())
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMode, name)
	}
}

// SetMode sets the named mode to v.
func (s *State) SetMode(name string, v bool) error {
	switch name {
	case "gaming":
		s.SetGaming(v)
	case "conversation":
		if !s.SetConversation(v) {
			return ErrRefused
		}
	case "mute", "muted":
		s.SetMuted(v)
	case "listening":
		s.SetListening(v)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMode, name)
	}
	return nil
}
