package memory

import (
	"context"
	"sync"
	"time"

	"lms-attempt-service/internal/domain"
)

// SnapshotStore is an in-memory implementation of app.SnapshotStore,
// suitable for single-instance deployments and tests.
type SnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string]domain.Snapshot
}

func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{snapshots: make(map[string]domain.Snapshot)}
}

func (s *SnapshotStore) Get(_ context.Context, key string) (domain.Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[key]
	return snap, ok, nil
}

func (s *SnapshotStore) Put(_ context.Context, key string, payload []byte, savedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[key] = domain.Snapshot{
		Payload:   append([]byte(nil), payload...),
		LastSaved: savedAt,
	}
	return nil
}
