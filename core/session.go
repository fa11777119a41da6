package core

import (
	"context"
	"time"
)

// Scope identifies the tenant owning a set of sessions. Every SessionStore
// operation is scoped; a session id from another scope resolves as not found.
type Scope struct {
	UserID string `json:"user_id"`
	TeamID string `json:"team_id"`
}

// Session is a persisted conversational container: an ordered message history
// plus bookkeeping for listing, renaming, pinning and eviction.
type Session struct {
	ID       string    `json:"id"`
	UserID   string    `json:"user_id"`
	TeamID   string    `json:"team_id"`
	Name     string    `json:"name,omitempty"`
	Messages []Message `json:"messages"`
	Created  time.Time `json:"created"`
	Updated  time.Time `json:"updated"`
	Pinned   bool      `json:"pinned"`
}

// Clone returns a deep copy safe for independent mutation.
func (s *Session) Clone() *Session {
	clone := *s
	clone.Messages = make([]Message, len(s.Messages))
	copy(clone.Messages, s.Messages)
	return &clone
}

// SessionConfig bounds per-session history and per-user session counts.
type SessionConfig struct {
	// WindowSize is the sliding-window cap on retained messages per session.
	// Append drops the oldest messages first once the window is full.
	WindowSize int
	// MaxSessions caps the number of sessions per user within a scope.
	MaxSessions int
}

// DefaultSessionConfig matches the documented defaults: a 50-message sliding
// window and 50 sessions per user.
var DefaultSessionConfig = SessionConfig{WindowSize: 50, MaxSessions: 50}

// SessionStore persists sessions across passes. Implementations must be safe
// for concurrent use and must serialize Append per session id so racing
// passes merge rather than overwrite each other's turns.
type SessionStore interface {
	// Load returns the ordered message history for a session, or an empty
	// slice when the session does not exist. Load never fails on absence.
	Load(ctx context.Context, scope Scope, sessionID string) ([]Message, error)

	// Append adds messages to a session, creating it on first use, and trims
	// the history to the sliding window (oldest dropped first). When creation
	// would exceed the per-user cap, the least-recently-updated non-pinned
	// session is evicted; if every session is pinned a LimitExceededError is
	// returned.
	Append(ctx context.Context, scope Scope, sessionID string, messages ...Message) error

	// Create explicitly allocates a named session. At the per-user cap it
	// fails with a LimitExceededError naming the eviction candidate rather
	// than evicting silently.
	Create(ctx context.Context, scope Scope, name string) (*Session, error)

	// List returns the scope's sessions ordered most-recently-updated first.
	List(ctx context.Context, scope Scope) ([]*Session, error)

	// Delete removes a session. Unknown ids return ErrSessionNotFound.
	Delete(ctx context.Context, scope Scope, sessionID string) error

	// Rename changes a session's display name.
	Rename(ctx context.Context, scope Scope, sessionID, name string) error

	// Pin marks or unmarks a session as exempt from LRU eviction.
	Pin(ctx context.Context, scope Scope, sessionID string, pinned bool) error
}

// SubSessionID derives the deterministic session id under which a capability
// keeps its private conversational context, isolated from but addressable
// through the parent session.
func SubSessionID(parent, capability string) string {
	return parent + "-" + capability
}
