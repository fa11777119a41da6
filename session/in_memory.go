package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/intentmesh/core"
	"github.com/hupe1980/intentmesh/logging"
)

// sessionKey scopes a session id to its tenant. Sessions of other tenants are
// invisible by construction.
type sessionKey struct {
	scope core.Scope
	id    string
}

// Options configures an InMemoryStore.
type Options struct {
	Config core.SessionConfig
	Logger logging.Logger
}

// InMemoryStore is a volatile core.SessionStore keeping sessions in a process
// local map. The store lock serializes every read-modify-write, which is a
// strictly stronger guarantee than the required per-session append
// serialization. Returned sessions are cloned to prevent external mutation of
// internal state.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[sessionKey]*core.Session
	config   core.SessionConfig
	logger   logging.Logger
}

// NewInMemoryStore constructs an empty in-memory session store.
func NewInMemoryStore(optFns ...func(o *Options)) *InMemoryStore {
	opts := Options{
		Config: core.DefaultSessionConfig,
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &InMemoryStore{
		sessions: make(map[sessionKey]*core.Session),
		config:   opts.Config,
		logger:   opts.Logger,
	}
}

// Load returns the ordered message history, or an empty slice when the
// session does not exist in this scope.
func (s *InMemoryStore) Load(_ context.Context, scope core.Scope, sessionID string) ([]core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionKey{scope: scope, id: sessionID}]
	if !ok {
		return []core.Message{}, nil
	}
	out := make([]core.Message, len(sess.Messages))
	copy(out, sess.Messages)
	return out, nil
}

// Append adds messages to a session, creating it on first use, and trims the
// history to the sliding window dropping the oldest messages first.
func (s *InMemoryStore) Append(_ context.Context, scope core.Scope, sessionID string, messages ...core.Message) error {
	if len(messages) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := sessionKey{scope: scope, id: sessionID}
	sess, ok := s.sessions[key]
	if !ok {
		var err error
		if sess, err = s.createLocked(scope, sessionID, ""); err != nil {
			return err
		}
	}

	sess.Messages = append(sess.Messages, messages...)
	if over := len(sess.Messages) - s.config.WindowSize; over > 0 {
		sess.Messages = sess.Messages[over:]
	}
	sess.Updated = time.Now().UTC()

	return nil
}

// Create explicitly allocates a named session. At the per-user cap it fails
// with a LimitExceededError naming the eviction candidate instead of evicting
// silently.
func (s *InMemoryStore) Create(_ context.Context, scope core.Scope, name string) (*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.countLocked(scope) >= s.config.MaxSessions {
		candidate := s.evictionCandidateLocked(scope)
		id := ""
		if candidate != nil {
			id = candidate.ID
		}
		return nil, &core.LimitExceededError{UserID: scope.UserID, Limit: s.config.MaxSessions, EvictionCandidate: id}
	}

	sess, err := s.createLocked(scope, uuid.NewString(), name)
	if err != nil {
		return nil, err
	}
	return sess.Clone(), nil
}

// List returns the scope's sessions ordered most-recently-updated first.
func (s *InMemoryStore) List(_ context.Context, scope core.Scope) ([]*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*core.Session
	for key, sess := range s.sessions {
		if key.scope == scope {
			out = append(out, sess.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Updated.After(out[j].Updated) })
	return out, nil
}

// Delete removes a session.
func (s *InMemoryStore) Delete(_ context.Context, scope core.Scope, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sessionKey{scope: scope, id: sessionID}
	if _, ok := s.sessions[key]; !ok {
		return core.ErrSessionNotFound
	}
	delete(s.sessions, key)
	return nil
}

// Rename changes a session's display name.
func (s *InMemoryStore) Rename(_ context.Context, scope core.Scope, sessionID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionKey{scope: scope, id: sessionID}]
	if !ok {
		return core.ErrSessionNotFound
	}
	sess.Name = name
	sess.Updated = time.Now().UTC()
	return nil
}

// Pin marks or unmarks a session as exempt from LRU eviction.
func (s *InMemoryStore) Pin(_ context.Context, scope core.Scope, sessionID string, pinned bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionKey{scope: scope, id: sessionID}]
	if !ok {
		return core.ErrSessionNotFound
	}
	sess.Pinned = pinned
	return nil
}

// createLocked allocates and stores a new session, evicting the
// least-recently-updated non-pinned session when the user is at cap. Caller
// must hold the write lock.
func (s *InMemoryStore) createLocked(scope core.Scope, sessionID, name string) (*core.Session, error) {
	if s.countLocked(scope) >= s.config.MaxSessions {
		candidate := s.evictionCandidateLocked(scope)
		if candidate == nil {
			return nil, &core.LimitExceededError{UserID: scope.UserID, Limit: s.config.MaxSessions}
		}
		delete(s.sessions, sessionKey{scope: scope, id: candidate.ID})
		s.logger.Info("evicted least-recently-updated session",
			"user_id", scope.UserID, "session_id", candidate.ID)
	}

	now := time.Now().UTC()
	sess := &core.Session{
		ID:      sessionID,
		UserID:  scope.UserID,
		TeamID:  scope.TeamID,
		Name:    name,
		Created: now,
		Updated: now,
	}
	s.sessions[sessionKey{scope: scope, id: sessionID}] = sess
	return sess, nil
}

func (s *InMemoryStore) countLocked(scope core.Scope) int {
	n := 0
	for key := range s.sessions {
		if key.scope == scope {
			n++
		}
	}
	return n
}

// evictionCandidateLocked returns the least-recently-updated non-pinned
// session in scope, or nil when every session is pinned.
func (s *InMemoryStore) evictionCandidateLocked(scope core.Scope) *core.Session {
	var oldest *core.Session
	for key, sess := range s.sessions {
		if key.scope != scope || sess.Pinned {
			continue
		}
		if oldest == nil || sess.Updated.Before(oldest.Updated) {
			oldest = sess
		}
	}
	return oldest
}
