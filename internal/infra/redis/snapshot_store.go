package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"lms-attempt-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

// SnapshotStore keeps draft/attempt snapshots in Redis so sessions
// survive process restarts and can be recovered from any instance.
// Entries expire after the TTL; the store is a durability aid, not the
// source of truth once upstream holds a newer copy.
type SnapshotStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSnapshotStore(client *redis.Client, ttl time.Duration) *SnapshotStore {
	return &SnapshotStore{client: client, ttl: ttl}
}

func (s *SnapshotStore) Get(ctx context.Context, key string) (domain.Snapshot, bool, error) {
	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Snapshot{}, false, nil
	}
	if err != nil {
		return domain.Snapshot{}, false, err
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		// Malformed stored content counts as no cache, never a failure.
		return domain.Snapshot{}, false, nil
	}
	return snap, true, nil
}

func (s *SnapshotStore) Put(ctx context.Context, key string, payload []byte, savedAt time.Time) error {
	raw, err := json.Marshal(domain.Snapshot{Payload: payload, LastSaved: savedAt})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(key), raw, s.ttl).Err()
}

func (s *SnapshotStore) key(key string) string {
	return "attempt:snapshot:" + key
}
