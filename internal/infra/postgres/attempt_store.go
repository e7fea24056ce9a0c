package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"mathfluency-service/internal/domain"
)

// AttemptStore persists answer attempts to Postgres.
type AttemptStore struct {
	pool *pgxpool.Pool
}

func NewAttemptStore(pool *pgxpool.Pool) *AttemptStore {
	return &AttemptStore{pool: pool}
}

func (s *AttemptStore) Record(ctx context.Context, attempt domain.Attempt) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO quiz_attempts (user_id, quiz_id, question_id, answer, correct, timed_out, time_taken_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		attempt.UserID, attempt.QuizID, attempt.QuestionID, attempt.Answer,
		attempt.Correct, attempt.TimedOut, attempt.TimeTaken.Milliseconds(), attempt.CreatedAt)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}
