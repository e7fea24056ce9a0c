package problem

import (
	"context"
	"sync"

	"mathfluency-service/internal/domain"
)

// FixedSource serves a finite scripted list of problems and then reports
// exhaustion. Used for custom problem sets and for deterministic tests.
type FixedSource struct {
	mu       sync.Mutex
	problems []domain.Problem
	next     int
}

func NewFixedSource(problems []domain.Problem) *FixedSource {
	return &FixedSource{problems: problems}
}

func (s *FixedSource) Next(_ context.Context, _ string, _ int) (domain.Problem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.problems) {
		return domain.Problem{}, domain.ErrProblemsExhausted
	}
	p := s.problems[s.next]
	s.next++
	return p, nil
}
