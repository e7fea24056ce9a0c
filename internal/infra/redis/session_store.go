package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"mathfluency-service/internal/domain"
)

// SessionStore marks live quiz sessions and persists final leaderboards in
// Redis. Sessions themselves stay in process memory (the broadcast path is
// in-process); Redis gives operators visibility and keeps results readable
// after a session is evicted.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

// MarkLive sets a liveness key for a newly created session.
func (s *SessionStore) MarkLive(ctx context.Context, quizID string) error {
	return s.client.Set(ctx, s.sessionKey(quizID), "1", s.ttl).Err()
}

// Evict removes the liveness key for an evicted session.
func (s *SessionStore) Evict(ctx context.Context, quizID string) error {
	return s.client.Del(ctx, s.sessionKey(quizID)).Err()
}

// SaveLeaderboard stores the final scoreboard as JSON with TTL.
func (s *SessionStore) SaveLeaderboard(ctx context.Context, lb domain.Leaderboard) error {
	data, err := json.Marshal(lb)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.leaderboardKey(lb.QuizID), data, s.ttl).Err()
}

// LoadLeaderboard reads a persisted final scoreboard.
func (s *SessionStore) LoadLeaderboard(ctx context.Context, quizID string) (domain.Leaderboard, error) {
	data, err := s.client.Get(ctx, s.leaderboardKey(quizID)).Bytes()
	if err != nil {
		return domain.Leaderboard{}, err
	}
	var lb domain.Leaderboard
	if err := json.Unmarshal(data, &lb); err != nil {
		return domain.Leaderboard{}, err
	}
	return lb, nil
}

func (s *SessionStore) sessionKey(quizID string) string {
	return "quiz:session:" + quizID
}

func (s *SessionStore) leaderboardKey(quizID string) string {
	return "quiz:leaderboard:" + quizID
}
