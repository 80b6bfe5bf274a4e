/**
 * @description
 * Session-scoped snapshot storage. The checkout core writes small JSON documents
 * (payment details, last error, manual request) keyed by session id and snapshot
 * key; the return callback page reads them back.
 *
 * Three backends exist: Redis for multi-instance deployments, BoltDB for a single
 * node with persistence, and an in-memory map for tests and local runs.
 */
package store

import (
	"context"
	"errors"
	"sync"
)

// ErrSnapshotNotFound is returned when no value exists for a session key.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotStore persists session-scoped snapshot values.
type SnapshotStore interface {
	Put(ctx context.Context, sessionID, key string, value []byte) error
	Get(ctx context.Context, sessionID, key string) ([]byte, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// MemorySnapshotStore keeps snapshots in process memory.
type MemorySnapshotStore struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{data: make(map[string]map[string][]byte)}
}

func (s *MemorySnapshotStore) Put(_ context.Context, sessionID, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.data[sessionID]
	if !ok {
		session = make(map[string][]byte)
		s.data[sessionID] = session
	}
	session[key] = append([]byte(nil), value...)
	return nil
}

func (s *MemorySnapshotStore) Get(_ context.Context, sessionID, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.data[sessionID][key]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	return append([]byte(nil), value...), nil
}

func (s *MemorySnapshotStore) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, sessionID)
	return nil
}
