package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/AshishKumar4/vibesdk-ashish/pkg/models"
)

// Conversation table names. Each row is {session id → JSON message array}.
const (
	tableFull    = "full_conversations"
	tableCompact = "compact_conversations"
)

// ConversationStore persists the two parallel message logs for a session:
// the full append-only audit log and the compacted working memory.
// Persistence is best-effort: failures are logged and swallowed; the
// conversation is reconstructable from the in-memory compact log.
type ConversationStore struct {
	db        *DB
	sessionID string
	log       *slog.Logger
}

// NewConversationStore creates a conversation store bound to one session.
func NewConversationStore(db *DB, sessionID string, log *slog.Logger) *ConversationStore {
	if log == nil {
		log = slog.Default()
	}
	return &ConversationStore{db: db, sessionID: sessionID, log: log}
}

// GetState returns both logs, deduplicated by conversation id. A missing
// backing row is seeded from the supplied in-memory compact log; each row is
// seeded independently, so losing one never clobbers the other.
func (s *ConversationStore) GetState(ctx context.Context, seed []models.ConversationMessage) models.ConversationState {
	running := s.load(ctx, tableCompact)
	full := s.load(ctx, tableFull)
	if len(seed) > 0 {
		if running == nil {
			running = dedup(seed)
			s.save(ctx, tableCompact, running)
		}
		if full == nil {
			full = dedup(seed)
			s.save(ctx, tableFull, full)
		}
	}
	return models.ConversationState{
		Running: dedup(running),
		Full:    dedup(full),
	}
}

// SetState replaces both logs wholesale.
func (s *ConversationStore) SetState(ctx context.Context, state models.ConversationState) {
	s.save(ctx, tableCompact, dedup(state.Running))
	s.save(ctx, tableFull, dedup(state.Full))
}

// AddMessage upserts by conversation id into both logs. Adding a duplicate
// updates in place, so the operation is idempotent per conversation id.
func (s *ConversationStore) AddMessage(ctx context.Context, msg models.ConversationMessage) {
	s.upsert(ctx, tableCompact, msg)
	s.upsert(ctx, tableFull, msg)
}

// ReplaceCompact replaces only the compact log. Used by conversation
// compaction; the full log is never rewritten.
func (s *ConversationStore) ReplaceCompact(ctx context.Context, msgs []models.ConversationMessage) {
	s.save(ctx, tableCompact, dedup(msgs))
}

// ClearCompact empties the compact log and leaves the full log untouched.
func (s *ConversationStore) ClearCompact(ctx context.Context) {
	s.save(ctx, tableCompact, []models.ConversationMessage{})
}

func (s *ConversationStore) upsert(ctx context.Context, table string, msg models.ConversationMessage) {
	msgs := s.load(ctx, table)
	replaced := false
	for i, m := range msgs {
		if m.ConversationID == msg.ConversationID {
			msgs[i] = msg
			replaced = true
			break
		}
	}
	if !replaced {
		msgs = append(msgs, msg)
	}
	s.save(ctx, table, msgs)
}

// load returns the message list for this session, or nil when the row is
// missing or unreadable.
func (s *ConversationStore) load(ctx context.Context, table string) []models.ConversationMessage {
	var raw string
	err := s.db.sql.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT messages FROM %s WHERE id = $1`, table), s.sessionID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		s.log.Warn("Failed to load conversation row", "table", table, "error", err)
		return nil
	}
	var msgs []models.ConversationMessage
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		s.log.Warn("Failed to decode conversation row", "table", table, "error", err)
		return nil
	}
	return msgs
}

func (s *ConversationStore) save(ctx context.Context, table string, msgs []models.ConversationMessage) {
	if msgs == nil {
		msgs = []models.ConversationMessage{}
	}
	raw, err := json.Marshal(msgs)
	if err != nil {
		s.log.Warn("Failed to encode conversation", "table", table, "error", err)
		return
	}
	_, err = s.db.sql.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, messages) VALUES ($1, $2)
			ON CONFLICT(id) DO UPDATE SET messages = excluded.messages`, table),
		s.sessionID, string(raw))
	if err != nil {
		s.log.Warn("Failed to persist conversation", "table", table, "error", err)
	}
}

// dedup keeps the last occurrence per conversation id, preserving first-seen
// order.
func dedup(msgs []models.ConversationMessage) []models.ConversationMessage {
	if msgs == nil {
		return []models.ConversationMessage{}
	}
	index := make(map[string]int, len(msgs))
	out := make([]models.ConversationMessage, 0, len(msgs))
	for _, m := range msgs {
		if i, ok := index[m.ConversationID]; ok {
			out[i] = m
			continue
		}
		index[m.ConversationID] = len(out)
		out = append(out, m)
	}
	return out
}
