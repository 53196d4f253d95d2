// Package state implements the session's authoritative state store: snapshot
// reads, whole-record replacement, and serialized mutation, with every write
// persisted through the embedded database.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AshishKumar4/vibesdk-ashish/pkg/models"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/store"
)

// ChangeHook observes committed state transitions. Hooks run synchronously
// under the store's write path, after persistence.
type ChangeHook func(old, new models.SessionState)

// Store holds the single authoritative session record. All writes go through
// it; snapshots returned by Get never reflect later writes.
type Store struct {
	mu    sync.Mutex
	cur   models.SessionState
	db    *store.DB
	log   *slog.Logger
	hooks []ChangeHook
}

// New creates a store seeded with initial. The record is not persisted until
// the first write; call Set to persist the seed.
func New(db *store.DB, initial models.SessionState, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{cur: initial, db: db, log: log}
}

// Load rehydrates a store from the persisted record. Returns false when no
// record exists.
func Load(ctx context.Context, db *store.DB, sessionID string, log *slog.Logger) (*Store, bool, error) {
	raw, err := db.LoadSessionState(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}
	if raw == nil {
		return nil, false, nil
	}
	var st models.SessionState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, false, fmt.Errorf("failed to decode persisted session state: %w", err)
	}
	return New(db, st, log), true, nil
}

// OnChange registers a hook invoked after every committed write.
func (s *Store) OnChange(h ChangeHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, h)
}

// Get returns an immutable snapshot of the current record.
func (s *Store) Get() models.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur.Clone()
}

// Set replaces the whole record.
func (s *Store) Set(ctx context.Context, next models.SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commit(ctx, next)
}

// Update applies fn to a working copy and commits the result. This is the
// field-update and batch-update path: fn may touch any number of fields.
func (s *Store) Update(ctx context.Context, fn func(*models.SessionState)) models.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.cur.Clone()
	fn(&next)
	s.commit(ctx, next)
	return next.Clone()
}

// commit persists next and swaps it in. Caller holds s.mu.
// Persistence failures are logged, not raised: the in-memory record stays
// authoritative and is re-persisted on the next write.
func (s *Store) commit(ctx context.Context, next models.SessionState) {
	old := s.cur
	raw, err := json.Marshal(next)
	if err != nil {
		s.log.Error("Failed to encode session state", "session_id", next.SessionID, "error", err)
	} else if s.db != nil {
		if err := s.db.SaveSessionState(ctx, next.SessionID, raw); err != nil {
			s.log.Warn("Failed to persist session state", "session_id", next.SessionID, "error", err)
		}
	}
	s.cur = next
	for _, h := range s.hooks {
		h(old.Clone(), next.Clone())
	}
}
