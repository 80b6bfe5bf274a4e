package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/directory/payment-service/internal/domain"
	"github.com/directory/payment-service/internal/store"
	"github.com/google/uuid"
)

var (
	ErrSessionNotFound  = errors.New("checkout session not found")
	ErrSessionForbidden = errors.New("checkout session belongs to another user")
)

// SessionManager owns one Controller per checkout session. Selecting a package
// always starts a fresh session, which is the only way attempt state resets.
type SessionManager struct {
	deps      ControllerDeps
	cfg       ControllerConfig
	snapshots store.SnapshotStore
	logger    *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Controller
}

func NewSessionManager(deps ControllerDeps, cfg ControllerConfig, snapshots store.SnapshotStore, logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	deps.Logger = logger
	return &SessionManager{
		deps:      deps,
		cfg:       cfg,
		snapshots: snapshots,
		logger:    logger,
		sessions:  make(map[string]*Controller),
	}
}

// Start validates the package pricing and opens a new session for it.
func (m *SessionManager) Start(pkg domain.Package, user domain.User) (*Controller, error) {
	if _, err := ComputeAmounts(pkg); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	ctrl := NewController(id, pkg, user, m.deps, m.cfg)

	m.mu.Lock()
	m.sessions[id] = ctrl
	count := len(m.sessions)
	m.mu.Unlock()

	m.logger.Info("checkout session started", "session_id", id, "package_id", pkg.ID, "user_id", user.ID, "active_sessions", count)
	return ctrl, nil
}

// Get returns the session's controller.
func (m *SessionManager) Get(id string) (*Controller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ctrl, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return ctrl, nil
}

// GetForUser returns the session only when it belongs to userID.
func (m *SessionManager) GetForUser(id, userID string) (*Controller, error) {
	ctrl, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if ctrl.User().ID != userID {
		return nil, ErrSessionForbidden
	}
	return ctrl, nil
}

// Count returns the number of open sessions.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// SweepIdle closes sessions with no activity for maxIdle. Sessions with a
// submission in flight are kept. Snapshots are left to the store's own expiry so
// the return callback page can still read them.
func (m *SessionManager) SweepIdle(ctx context.Context, maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	m.mu.Lock()
	swept := 0
	for id, ctrl := range m.sessions {
		// The busy and idle checks and the retirement happen under one controller lock.
		if !ctrl.retireIfIdle(cutoff) {
			continue
		}
		delete(m.sessions, id)
		swept++
	}
	m.mu.Unlock()

	if swept > 0 {
		m.logger.Info("swept idle checkout sessions", "count", swept)
	}
	return swept
}

// Snapshot reads one snapshot value for a session.
func (m *SessionManager) Snapshot(ctx context.Context, sessionID, key string) ([]byte, error) {
	if m.snapshots == nil {
		return nil, store.ErrSnapshotNotFound
	}
	return m.snapshots.Get(ctx, sessionID, key)
}

// CloseAll stops every session's countdown during shutdown.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ctrl := range m.sessions {
		ctrl.Close()
		delete(m.sessions, id)
	}
}
