package command

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/MrWong99/valet/pkg/provider/llm"
)

// DefaultSystemPrompt keeps replies short enough to be spoken.
const DefaultSystemPrompt = "You are a voice assistant with the manner of a discreet English butler. " +
	"Address the user as sir. Answer in at most two short sentences of plain text, " +
	"without lists, markdown or emoji, because your reply is read aloud."

const defaultHistoryTurns = 6

// LLMOption configures an [LLMHandler].
type LLMOption func(*LLMHandler)

// WithSystemPrompt replaces [DefaultSystemPrompt].
func WithSystemPrompt(p string) LLMOption {
	return func(h *LLMHandler) { h.prompt = p }
}

// WithHistory sets how many previous exchanges are sent along. Zero
// disables history.
func WithHistory(turns int) LLMOption {
	return func(h *LLMHandler) {
		if turns >= 0 {
			h.turns = turns
		}
	}
}

// WithMaxTokens caps the reply length.
func WithMaxTokens(n int) LLMOption {
	return func(h *LLMHandler) { h.maxTokens = n }
}

// LLMHandler answers any command with a language model. It keeps a short
// rolling history so that follow-up questions work in conversation mode.
type LLMHandler struct {
	c         llm.Completer
	prompt    string
	turns     int
	maxTokens int

	mu      sync.Mutex
	history []llm.Message
}

// NewLLMHandler creates an LLMHandler.
func NewLLMHandler(c llm.Completer, opts ...LLMOption) *LLMHandler {
	h := &LLMHandler{c: c, prompt: DefaultSystemPrompt, turns: defaultHistoryTurns, maxTokens: 200}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Handle implements Handler.
func (h *LLMHandler) Handle(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrNotHandled
	}

	h.mu.Lock()
	msgs := make([]llm.Message, 0, len(h.history)+1)
	msgs = append(msgs, h.history...)
	h.mu.Unlock()
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: text})

	reply, err := h.c.Complete(ctx, llm.Request{
		SystemPrompt: h.prompt,
		Messages:     msgs,
		MaxTokens:    h.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("command: llm: %w", err)
	}
	h.remember(text, reply)
	return reply, nil
}

// Forget clears the conversation history.
func (h *LLMHandler) Forget() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.history = nil
}

func (h *LLMHandler) remember(text, reply string) {
	if h.turns == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.history = append(h.history,
		llm.Message{Role: llm.RoleUser, Content: text},
		llm.Message{Role: llm.RoleAssistant, Content: reply},
	)
	if over := len(h.history) - 2*h.turns; over > 0 {
		h.history = append([]llm.Message(nil), h.history[over:]...)
	}
}
