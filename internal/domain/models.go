package domain

import "time"

// Status is the lifecycle state of a quiz session.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusFinished Status = "finished"
)

// Role distinguishes the controlling teacher connection from students.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// Problem is a single arithmetic question served to a round.
type Problem struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Answer    int    `json:"-"`
	Operation string `json:"operation"`
	Level     int    `json:"level"`
}

// Participant represents one connection's session-scoped identity and score state.
type Participant struct {
	ConnID      string
	UserID      string
	DisplayName string
	Role        Role
	Score       int
	Streak      int
	Answered    bool // answered the current round
	LastUpdated time.Time
}

// LeaderboardEntry is a snapshot-friendly view of a participant.
type LeaderboardEntry struct {
	UserID      string `json:"id"`
	DisplayName string `json:"name"`
	Score       int    `json:"score"`
}

// Leaderboard captures the ordered scoreboard for a quiz session.
type Leaderboard struct {
	QuizID    string             `json:"quizId"`
	Entries   []LeaderboardEntry `json:"leaderboard"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// Attempt is the persisted record of one answer submission.
type Attempt struct {
	UserID     string
	QuizID     string
	QuestionID string
	Answer     int
	Correct    bool
	TimedOut   bool
	TimeTaken  time.Duration
	CreatedAt  time.Time
}
