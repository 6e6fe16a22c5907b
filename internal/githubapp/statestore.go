package githubapp

import (
	"context"
	"fmt"

	"github.com/sakif/hive/internal/kv"
	"github.com/sakif/hive/internal/repository"
)

// StateStore holds at most one pending install state per session.
// Set once when the flow starts, then taken once by the callback.
type StateStore interface {
	Put(ctx context.Context, sessionID, state string) error
	// Take clears the pending state if it equals state and reports whether
	// it did. Concurrent callers presenting the same state see true once.
	// A mismatch leaves the pending state in place.
	Take(ctx context.Context, sessionID, state string) (bool, error)
}

// SessionStateStore keeps the state on the session row itself.
type SessionStateStore struct {
	sessions repository.SessionRepository
}

func NewSessionStateStore(sessions repository.SessionRepository) *SessionStateStore {
	return &SessionStateStore{sessions: sessions}
}

func (s *SessionStateStore) Put(ctx context.Context, sessionID, state string) error {
	return s.sessions.SetGitHubState(ctx, sessionID, state)
}

func (s *SessionStateStore) Take(ctx context.Context, sessionID, state string) (bool, error) {
	return s.sessions.TakeGitHubState(ctx, sessionID, state)
}

// KVStateStore keeps the state under github_state:<sessionID> with a TTL,
// so abandoned flows expire on their own.
type KVStateStore struct {
	store kv.Store
}

func NewKVStateStore(store kv.Store) *KVStateStore {
	return &KVStateStore{store: store}
}

func stateKey(sessionID string) string {
	return "github_state:" + sessionID
}

func (s *KVStateStore) Put(ctx context.Context, sessionID, state string) error {
	if err := s.store.Set(ctx, stateKey(sessionID), []byte(state), StateTTL); err != nil {
		return fmt.Errorf("githubapp: storing state: %w", err)
	}
	return nil
}

func (s *KVStateStore) Take(ctx context.Context, sessionID, state string) (bool, error) {
	if state == "" {
		return false, nil
	}
	ok, err := s.store.CompareAndDelete(ctx, stateKey(sessionID), []byte(state))
	if err != nil {
		return false, fmt.Errorf("githubapp: taking state: %w", err)
	}
	return ok, nil
}

var (
	_ StateStore = (*SessionStateStore)(nil)
	_ StateStore = (*KVStateStore)(nil)
)
