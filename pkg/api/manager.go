// Package api exposes the HTTP surface: session creation with a streamed
// NDJSON response, the per-session WebSocket channel, and the export
// endpoints. Everything else flows through WebSocket control frames.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/AshishKumar4/vibesdk-ashish/pkg/agent"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/deploy"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/inference"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/sandbox"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/store"
)

// SessionDeps are the shared services injected into every session.
type SessionDeps struct {
	Sandbox     sandbox.Client
	LLM         inference.Client
	Search      agent.Searcher
	Credentials deploy.CredentialsProvider
	Model       string
	Log         *slog.Logger
}

// SessionManager owns the live sessions and their per-session databases.
// Sessions are created on demand and rehydrated from disk after a restart.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*agent.Session

	dataDir string
	deps    SessionDeps
	log     *slog.Logger
}

// NewSessionManager creates a manager storing session databases under dataDir.
func NewSessionManager(dataDir string, deps SessionDeps) (*SessionManager, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	return &SessionManager{
		sessions: make(map[string]*agent.Session),
		dataDir:  dataDir,
		deps:     deps,
		log:      log,
	}, nil
}

func (m *SessionManager) dbPath(sessionID string) string {
	return filepath.Join(m.dataDir, sessionID+".db")
}

func (m *SessionManager) agentDeps(db *store.DB) agent.Deps {
	return agent.Deps{
		DB:          db,
		Sandbox:     m.deps.Sandbox,
		LLM:         m.deps.LLM,
		Search:      m.deps.Search,
		Credentials: m.deps.Credentials,
		Model:       m.deps.Model,
		Log:         m.log,
	}
}

// Create initializes a new session with its own database file.
func (m *SessionManager) Create(ctx context.Context, args agent.InitArgs) (*agent.Session, error) {
	args.SessionID = uuid.New().String()
	db, err := store.Open(m.dbPath(args.SessionID))
	if err != nil {
		return nil, err
	}
	s, err := agent.Initialize(ctx, args, m.agentDeps(db))
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
	return s, nil
}

// Get returns a live session, rehydrating it from disk when the process has
// restarted since the session was created.
func (m *SessionManager) Get(ctx context.Context, sessionID string) (*agent.Session, error) {
	m.mu.Lock()
	if s, ok := m.sessions[sessionID]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	if _, err := os.Stat(m.dbPath(sessionID)); err != nil {
		return nil, fmt.Errorf("unknown session %s", sessionID)
	}
	db, err := store.Open(m.dbPath(sessionID))
	if err != nil {
		return nil, err
	}
	s, err := agent.Rehydrate(ctx, sessionID, m.agentDeps(db))
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	m.mu.Lock()
	// Another request may have rehydrated concurrently; keep the first.
	if existing, ok := m.sessions[sessionID]; ok {
		m.mu.Unlock()
		_ = s.Close()
		return existing, nil
	}
	m.sessions[sessionID] = s
	m.mu.Unlock()
	return s, nil
}

// Close shuts down one session and forgets it. The database file stays on
// disk for later rehydration.
func (m *SessionManager) Close(sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown session %s", sessionID)
	}
	return s.Close()
}

// CloseAll shuts down every live session.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*agent.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*agent.Session)
	m.mu.Unlock()

	for _, s := range sessions {
		if err := s.Close(); err != nil {
			m.log.Warn("Error closing session", "session_id", s.ID(), "error", err)
		}
	}
}

// Count returns the number of live sessions.
func (m *SessionManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
