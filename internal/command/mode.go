package command

import (
	"context"
	"strings"

	"github.com/MrWong99/valet/internal/state"
	"github.com/MrWong99/valet/internal/transcript"
)

// ModeHandler switches runtime modes by voice: "gaming mode on",
// "start conversation mode", "stop listening" and similar.
type ModeHandler struct {
	st *state.State
}

// NewModeHandler creates a ModeHandler.
func NewModeHandler(st *state.State) *ModeHandler {
	return &ModeHandler{st: st}
}

// Handle implements Handler.
func (h *ModeHandler) Handle(_ context.Context, text string) (string, error) {
	words := transcript.Normalize(text)
	has := func(w string) bool {
		for _, x := range words {
			if x == w {
				return true
			}
		}
		return false
	}
	off := has("off") || has("stop") || has("disable") || has("end") || has("exit")

	switch {
	case has("gaming"):
		h.st.SetGaming(!off)
		if off {
			return "Gaming mode off. I am listening again, sir.", nil
		}
		return "Gaming mode on. I will keep quiet, sir.", nil
	case has("conversation") || has("conversational"):
		if off {
			h.st.SetConversation(false)
			return "Conversation mode off.", nil
		}
		if !h.st.SetConversation(true) {
			return "Conversation mode is not available during gaming mode, sir.", nil
		}
		return "Conversation mode on. Go ahead, sir.", nil
	case strings.Contains(strings.Join(words, " "), "stop listening"):
		h.st.SetListening(false)
		return "Very well, sir.", nil
	default:
		return "", ErrNotHandled
	}
}
