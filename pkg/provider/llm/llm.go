// Package llm defines the chat-completion provider contract used by the
// dialog pipeline. A Chatter holds the full dialog context on every request;
// streaming replies are regrouped into whole sentences by SentenceStream so
// speech synthesis can start before the model finishes.
package llm

import "context"

// Dialog roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of the dialog context.
type Message struct {
	Role    string
	Content string
}

// Chatter is the abstraction over a chat-completion backend.
type Chatter interface {
	// Chat sends the dialog context and returns the complete reply text.
	Chat(ctx context.Context, messages []Message) (string, error)

	// ChatStream sends the dialog context and returns a stream of whole
	// sentences as the model produces them. The caller must Close the
	// stream when done, including after an early break.
	ChatStream(ctx context.Context, messages []Message) (*SentenceStream, error)

	// Close releases any held resources. Safe to call more than once.
	Close() error
}
