package memory

import (
	"context"
	"sync"

	"mathfluency-service/internal/domain"
)

// AttemptStore keeps answer attempts in memory. Used when no database is
// configured and in tests.
type AttemptStore struct {
	mu       sync.Mutex
	attempts []domain.Attempt
}

func NewAttemptStore() *AttemptStore {
	return &AttemptStore{}
}

func (s *AttemptStore) Record(_ context.Context, attempt domain.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, attempt)
	return nil
}

// Attempts returns a copy of everything recorded so far.
func (s *AttemptStore) Attempts() []domain.Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Attempt, len(s.attempts))
	copy(out, s.attempts)
	return out
}
