// Package redis provides a core.SessionStore backed by Redis. Each session is
// stored as a JSON value keyed by tenant scope and session id; a per-user
// sorted set indexes sessions by update time for listing, caps and LRU
// eviction. Every session write goes through optimistic WATCH/MULTI retry so
// racing writers merge instead of overwriting each other's state.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"

	"github.com/hupe1980/intentmesh/core"
	"github.com/hupe1980/intentmesh/logging"
)

// maxUpdateRetries bounds the optimistic retry loop on contended sessions.
const maxUpdateRetries = 20

// Options configures the Redis store.
type Options struct {
	Config core.SessionConfig
	Logger logging.Logger
	// Prefix namespaces all keys written by this store.
	Prefix string
	// TTL expires session keys; zero keeps them until deleted or evicted.
	TTL time.Duration
}

// Store implements core.SessionStore on Redis.
type Store struct {
	client *backend.Client
	config core.SessionConfig
	logger logging.Logger
	prefix string
	ttl    time.Duration
}

// New creates a Redis store connecting to the given address.
func New(address, password string, db int, optFns ...func(o *Options)) *Store {
	client := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(client, optFns...)
}

// NewFromClient creates a Redis store from an existing client.
func NewFromClient(client *backend.Client, optFns ...func(o *Options)) *Store {
	opts := Options{
		Config: core.DefaultSessionConfig,
		Logger: logging.NoOpLogger{},
		Prefix: "intentmesh:session:",
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Store{
		client: client,
		config: opts.Config,
		logger: opts.Logger,
		prefix: opts.Prefix,
		ttl:    opts.TTL,
	}
}

func (s *Store) key(scope core.Scope, sessionID string) string {
	return fmt.Sprintf("%s%s:%s:%s", s.prefix, scope.TeamID, scope.UserID, sessionID)
}

func (s *Store) indexKey(scope core.Scope) string {
	return fmt.Sprintf("%sidx:%s:%s", s.prefix, scope.TeamID, scope.UserID)
}

func (s *Store) pinKey(scope core.Scope) string {
	return fmt.Sprintf("%spin:%s:%s", s.prefix, scope.TeamID, scope.UserID)
}

// Load returns the ordered message history, or an empty slice when the
// session does not exist in this scope.
func (s *Store) Load(ctx context.Context, scope core.Scope, sessionID string) ([]core.Message, error) {
	sess, err := s.get(ctx, scope, sessionID)
	if err == core.ErrSessionNotFound {
		return []core.Message{}, nil
	}
	if err != nil {
		return nil, err
	}
	return sess.Messages, nil
}

// Append adds messages to a session, creating it on first use, and trims the
// history to the sliding window.
func (s *Store) Append(ctx context.Context, scope core.Scope, sessionID string, messages ...core.Message) error {
	if len(messages) == 0 {
		return nil
	}

	return s.mutate(ctx, scope, sessionID, true, func(sess *core.Session) {
		sess.Messages = append(sess.Messages, messages...)
		if over := len(sess.Messages) - s.config.WindowSize; over > 0 {
			sess.Messages = sess.Messages[over:]
		}
		sess.Updated = time.Now().UTC()
	})
}

// mutate runs a read-modify-write of one session guarded by a WATCH on its
// key, retried on conflict, so concurrent writers merge instead of
// overwriting each other's state. With create set, an absent session is
// allocated (evicting at the cap); otherwise absence is ErrSessionNotFound.
func (s *Store) mutate(ctx context.Context, scope core.Scope, sessionID string, create bool, fn func(sess *core.Session)) error {
	key := s.key(scope, sessionID)
	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		err := s.client.Watch(ctx, func(tx *backend.Tx) error {
			sess, err := s.getTx(ctx, tx, scope, sessionID)
			if err == core.ErrSessionNotFound && create {
				if sess, err = s.allocate(ctx, scope, sessionID, ""); err != nil {
					return err
				}
			} else if err != nil {
				return err
			}

			fn(sess)

			return s.save(ctx, tx, scope, sess)
		}, key)

		if errors.Is(err, backend.TxFailedErr) {
			continue // contended write, retry against fresh state
		}
		return err
	}
	return fmt.Errorf("update session %s: retries exhausted", sessionID)
}

// Create explicitly allocates a named session. At the per-user cap it fails
// with a LimitExceededError naming the eviction candidate.
func (s *Store) Create(ctx context.Context, scope core.Scope, name string) (*core.Session, error) {
	count, err := s.client.ZCard(ctx, s.indexKey(scope)).Result()
	if err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}
	if int(count) >= s.config.MaxSessions {
		candidate, err := s.evictionCandidate(ctx, scope)
		if err != nil {
			return nil, err
		}
		return nil, &core.LimitExceededError{UserID: scope.UserID, Limit: s.config.MaxSessions, EvictionCandidate: candidate}
	}

	sess, err := s.allocate(ctx, scope, uuid.NewString(), name)
	if err != nil {
		return nil, err
	}
	if err := s.save(ctx, s.client, scope, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// List returns the scope's sessions ordered most-recently-updated first.
func (s *Store) List(ctx context.Context, scope core.Scope) ([]*core.Session, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(scope), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	out := make([]*core.Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.get(ctx, scope, id)
		if err == core.ErrSessionNotFound {
			continue // index entry outlived the key (e.g. TTL expiry)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

// Delete removes a session and its index entries.
func (s *Store) Delete(ctx context.Context, scope core.Scope, sessionID string) error {
	deleted, err := s.client.Del(ctx, s.key(scope, sessionID)).Result()
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if deleted == 0 {
		return core.ErrSessionNotFound
	}
	pipe := s.client.Pipeline()
	pipe.ZRem(ctx, s.indexKey(scope), sessionID)
	pipe.SRem(ctx, s.pinKey(scope), sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete session index: %w", err)
	}
	return nil
}

// Rename changes a session's display name.
func (s *Store) Rename(ctx context.Context, scope core.Scope, sessionID, name string) error {
	return s.mutate(ctx, scope, sessionID, false, func(sess *core.Session) {
		sess.Name = name
		sess.Updated = time.Now().UTC()
	})
}

// Pin marks or unmarks a session as exempt from LRU eviction.
func (s *Store) Pin(ctx context.Context, scope core.Scope, sessionID string, pinned bool) error {
	return s.mutate(ctx, scope, sessionID, false, func(sess *core.Session) {
		sess.Pinned = pinned
	})
}

// allocate prepares a new session, evicting the least-recently-updated
// non-pinned session when the user is at cap.
func (s *Store) allocate(ctx context.Context, scope core.Scope, sessionID, name string) (*core.Session, error) {
	count, err := s.client.ZCard(ctx, s.indexKey(scope)).Result()
	if err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}
	if int(count) >= s.config.MaxSessions {
		candidate, err := s.evictionCandidate(ctx, scope)
		if err != nil {
			return nil, err
		}
		if candidate == "" {
			return nil, &core.LimitExceededError{UserID: scope.UserID, Limit: s.config.MaxSessions}
		}
		if err := s.Delete(ctx, scope, candidate); err != nil && err != core.ErrSessionNotFound {
			return nil, err
		}
		s.logger.Info("evicted least-recently-updated session",
			"user_id", scope.UserID, "session_id", candidate)
	}

	now := time.Now().UTC()
	return &core.Session{
		ID:      sessionID,
		UserID:  scope.UserID,
		TeamID:  scope.TeamID,
		Name:    name,
		Created: now,
		Updated: now,
	}, nil
}

// evictionCandidate returns the oldest non-pinned session id in scope, or ""
// when every session is pinned.
func (s *Store) evictionCandidate(ctx context.Context, scope core.Scope) (string, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(scope), 0, -1).Result()
	if err != nil {
		return "", fmt.Errorf("scan eviction candidates: %w", err)
	}
	for _, id := range ids {
		pinned, err := s.client.SIsMember(ctx, s.pinKey(scope), id).Result()
		if err != nil {
			return "", fmt.Errorf("check pin: %w", err)
		}
		if !pinned {
			return id, nil
		}
	}
	return "", nil
}

func (s *Store) get(ctx context.Context, scope core.Scope, sessionID string) (*core.Session, error) {
	val, err := s.client.Get(ctx, s.key(scope, sessionID)).Result()
	if err == backend.Nil {
		return nil, core.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	var sess core.Session
	if err := json.Unmarshal([]byte(val), &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}

func (s *Store) getTx(ctx context.Context, tx *backend.Tx, scope core.Scope, sessionID string) (*core.Session, error) {
	val, err := tx.Get(ctx, s.key(scope, sessionID)).Result()
	if err == backend.Nil {
		return nil, core.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	var sess core.Session
	if err := json.Unmarshal([]byte(val), &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}

// save writes the session JSON and refreshes the update-time index and the
// pin set in one pipeline. cmd is either the client or a transaction.
func (s *Store) save(ctx context.Context, cmd backend.Cmdable, scope core.Scope, sess *core.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	pipe := cmd.TxPipeline()
	pipe.Set(ctx, s.key(scope, sess.ID), data, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(scope), backend.Z{
		Score:  float64(sess.Updated.UnixNano()),
		Member: sess.ID,
	})
	if sess.Pinned {
		pipe.SAdd(ctx, s.pinKey(scope), sess.ID)
	} else {
		pipe.SRem(ctx, s.pinKey(scope), sess.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}
