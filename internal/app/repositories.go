package app

import (
	"context"
	"fmt"
	"time"

	"lms-attempt-service/internal/domain"
)

// SnapshotStore abstracts how draft/attempt snapshots are persisted
// (in-memory, Redis, Postgres). One entry per key; every write carries
// a fresh timestamp so reconciliation stays correct.
type SnapshotStore interface {
	Get(ctx context.Context, key string) (domain.Snapshot, bool, error)
	Put(ctx context.Context, key string, payload []byte, savedAt time.Time) error
}

// QuizRepository loads quiz content (through a cache layer).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// AttemptKey names a user's cached quiz-attempt snapshot.
func AttemptKey(userID, quizID string) string {
	return fmt.Sprintf("%s:quiz_%s_attempt", userID, quizID)
}

// DraftKey names a user's cached assignment-submission snapshot.
func DraftKey(userID, assignmentID string) string {
	return fmt.Sprintf("%s:assignment_%s_submission", userID, assignmentID)
}
