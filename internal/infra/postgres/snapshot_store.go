package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lms-attempt-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// SnapshotStore persists draft/attempt snapshots in Postgres. Unlike
// the Redis store there is no TTL; snapshots are durable until
// overwritten.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

func (s *SnapshotStore) Get(ctx context.Context, key string) (domain.Snapshot, bool, error) {
	var snap domain.Snapshot
	err := s.pool.QueryRow(ctx,
		`SELECT payload, last_saved FROM snapshots WHERE key=$1`, key,
	).Scan(&snap.Payload, &snap.LastSaved)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Snapshot{}, false, nil
	}
	if err != nil {
		return domain.Snapshot{}, false, fmt.Errorf("load snapshot: %w", err)
	}
	return snap, true, nil
}

func (s *SnapshotStore) Put(ctx context.Context, key string, payload []byte, savedAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO snapshots (key, payload, last_saved) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET payload=EXCLUDED.payload, last_saved=EXCLUDED.last_saved`,
		key, payload, savedAt,
	)
	if err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	return nil
}
