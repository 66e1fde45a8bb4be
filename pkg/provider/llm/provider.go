// Package llm defines the Completer interface for Large Language Model
// backends.
//
// The voice core only needs one thing from a language model: a short spoken
// reply to a transcribed command that no dedicated handler claimed. A
// completer therefore takes a system prompt plus a message history and
// returns plain text.
//
// Implementations must be safe for concurrent use.
package llm

import "context"

// Roles used in [Message.Role].
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    string
	Content string
}

// Request carries everything the model needs to produce a reply.
type Request struct {
	// SystemPrompt is injected before Messages as a system-role message.
	SystemPrompt string

	// Messages is the ordered conversation history; the last one is
	// typically the user's command.
	Messages []Message

	// Temperature controls randomness. Zero uses the provider default.
	Temperature float64

	// MaxTokens caps the reply length. Zero uses the provider default.
	MaxTokens int
}

// Completer is the abstraction over any LLM backend.
type Completer interface {
	// Complete returns the model's reply text.
	Complete(ctx context.Context, req Request) (string, error)
}
