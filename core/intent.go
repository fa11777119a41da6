package core

// Reserved intent tags claimed by the dispatch graph's system nodes. A
// capability may not register under any of these.
const (
	// TagGreeting routes pure greetings past the capability chain.
	TagGreeting = "greeting"
	// TagClarification marks the ask-back node for ambiguous input.
	TagClarification = "clarification"
	// TagError marks the terminal recovery node.
	TagError = "error"
)

// IsReservedTag reports whether tag collides with a system node name.
func IsReservedTag(tag string) bool {
	switch tag {
	case TagGreeting, TagClarification, TagError:
		return true
	}
	return false
}

// Intent is a structured classification of one user input. Type is either a
// registered capability intent tag or TagGreeting. Intents are produced fresh
// on every pass and never persisted.
type Intent struct {
	Type  string            `json:"type"`
	Slots map[string]string `json:"slots,omitempty"`
}

// IsGreeting reports whether this intent is the reserved greeting intent.
func (i Intent) IsGreeting() bool { return i.Type == TagGreeting }
