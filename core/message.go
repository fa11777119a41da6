package core

import "time"

// Role identifies the author of a conversation message.
type Role string

const (
	// RoleUser marks a message authored by the end user.
	RoleUser Role = "user"
	// RoleAssistant marks a message authored by the engine on behalf of the assistant.
	RoleAssistant Role = "assistant"
	// RoleSystem marks a pre-seeded instruction message.
	RoleSystem Role = "system"
)

// Message is a single ordered entry in a session's conversation history.
type Message struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// NewUserMessage creates a user-authored message stamped with the current time.
func NewUserMessage(text string) Message {
	return Message{Role: RoleUser, Text: text, Timestamp: time.Now().UTC()}
}

// NewAssistantMessage creates an assistant-authored message stamped with the current time.
func NewAssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Text: text, Timestamp: time.Now().UTC()}
}

// SinceLastUser returns the messages following the final user turn. Routing
// decisions are derived from this slice so stale artifacts from earlier turns
// do not bleed into classification. A history without any user turn (e.g. a
// pre-seeded system-only session) falls back to the full history.
func SinceLastUser(history []Message) []Message {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == RoleUser {
			return history[i+1:]
		}
	}
	return history
}

// Tail returns at most n trailing messages from history.
func Tail(history []Message, n int) []Message {
	if n <= 0 || len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
