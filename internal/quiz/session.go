package quiz

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"mathfluency-service/internal/domain"
)

// Broadcaster fans session events out to connected clients. Delivery is
// best-effort per connection; a slow client must never block the caller.
type Broadcaster interface {
	Broadcast(quizID, event string, payload any)
	Send(connID, event string, payload any)
}

// ProblemSource supplies the next problem for an operation/level pair.
type ProblemSource interface {
	Next(ctx context.Context, operation string, level int) (domain.Problem, error)
}

// AttemptStore persists answer attempts. Failures are logged, never surfaced
// to scoring.
type AttemptStore interface {
	Record(ctx context.Context, attempt domain.Attempt) error
}

// ResultStore persists the final leaderboard when a quiz finishes.
type ResultStore interface {
	SaveLeaderboard(ctx context.Context, lb domain.Leaderboard) error
}

// Server -> client event names.
const (
	EventStatusChanged = "quiz_status_changed"
	EventNewProblem    = "new_problem"
	EventAnswerFeed    = "answer_feedback"
	EventScoreUpdated  = "score_updated"
	EventParticipants  = "participants_update"
	EventLeaderboard   = "leaderboard_update"
	EventQuizEnded     = "quiz_ended"
)

// Options are a session's creation parameters. Operation and Level are
// immutable for the session's lifetime.
type Options struct {
	Operation            string
	Level                int
	QuestionWindow       time.Duration
	AdvanceOnAllAnswered bool
	AllowCoTeachers      bool
}

// Deps are the collaborators a session needs. Attempts, Results and Logger
// may be nil.
type Deps struct {
	Problems ProblemSource
	Attempts AttemptStore
	Results  ResultStore
	Gateway  Broadcaster
	Logger   *zap.Logger
	Clock    func() time.Time
}

// StatusChangedPayload announces a lifecycle transition. Results is only set
// when the quiz finishes.
type StatusChangedPayload struct {
	QuizID  string              `json:"quiz_id"`
	Status  domain.Status       `json:"status"`
	Results *domain.Leaderboard `json:"results,omitempty"`
}

// NewProblemPayload carries the problem for a new round.
type NewProblemPayload struct {
	QuizID     string  `json:"quiz_id"`
	QuestionID string  `json:"question_id"`
	Problem    string  `json:"problem"`
	TimeLimit  float64 `json:"timeLimit"` // seconds remaining in the answer window
}

// AnswerFeedbackPayload is the private reply to a submission.
type AnswerFeedbackPayload struct {
	QuizID  string `json:"quiz_id"`
	Correct bool   `json:"correct"`
	Points  int    `json:"points"`
	Streak  int    `json:"streak"`
}

// ScoreUpdatedPayload is the private running total for the submitter.
type ScoreUpdatedPayload struct {
	QuizID string `json:"quiz_id"`
	Score  int    `json:"score"`
}

// RosterEntry is one connected participant in a participants_update.
type RosterEntry struct {
	Username string `json:"username"`
	Score    int    `json:"score"`
}

// ParticipantsPayload is the connected-roster broadcast.
type ParticipantsPayload struct {
	QuizID       string        `json:"quiz_id"`
	Participants []RosterEntry `json:"participants"`
}

// QuizEndedPayload carries a student's final score.
type QuizEndedPayload struct {
	QuizID string `json:"quiz_id"`
	Score  int    `json:"score"`
}

// scoreRecord survives a student's disconnect so a rejoin with the same user
// id resumes score and streak, and the final leaderboard keeps everyone who
// ever played.
type scoreRecord struct {
	userID        string
	displayName   string
	score         int
	streak        int
	answeredRound int // roundSeq the user last answered, 0 if never
	lastUpdated   time.Time
}

// Session is the state machine for one live quiz. All mutations are
// serialized behind mu; timer callbacks and the all-answered path both funnel
// through it, and a stale roundSeq makes the loser a no-op.
type Session struct {
	id   string
	opts Options
	deps Deps

	mu           sync.Mutex
	status       domain.Status
	roundSeq     int
	current      *domain.Problem
	deadline     time.Time
	remaining    time.Duration // answer window left, captured at pause
	timer        *time.Timer
	teacherConn  string
	participants map[string]*domain.Participant
	records      map[string]*scoreRecord
}

func NewSession(id string, opts Options, deps Deps) *Session {
	if opts.QuestionWindow <= 0 {
		opts.QuestionWindow = 30 * time.Second
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Session{
		id:           id,
		opts:         opts,
		deps:         deps,
		status:       domain.StatusWaiting,
		participants: make(map[string]*domain.Participant),
		records:      make(map[string]*scoreRecord),
	}
}

// ID returns the quiz identifier.
func (s *Session) ID() string { return s.id }

// Status returns the current lifecycle state.
func (s *Session) Status() domain.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Empty reports whether no connections remain.
func (s *Session) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.participants) == 0
}

// Leaderboard returns the current scoreboard snapshot.
func (s *Session) Leaderboard() domain.Leaderboard {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaderboardLocked()
}

// Join admits a connection as teacher or student. The first teacher becomes
// authoritative; later teacher claims are rejected unless co-teachers are
// allowed, in which case they join as read-only observers. A student rejoining
// with a known user id resumes their prior score and streak.
func (s *Session) Join(connID, userID, displayName string, role domain.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if role == domain.RoleTeacher {
		if s.teacherConn != "" && s.teacherConn != connID && !s.opts.AllowCoTeachers {
			return domain.ErrTeacherPresent
		}
		if s.teacherConn == "" {
			s.teacherConn = connID
		}
	}

	now := s.deps.Clock()
	p := &domain.Participant{
		ConnID:      connID,
		UserID:      userID,
		DisplayName: displayName,
		Role:        role,
		LastUpdated: now,
	}
	if role == domain.RoleStudent {
		rec, ok := s.records[userID]
		if !ok {
			rec = &scoreRecord{userID: userID, lastUpdated: now}
			s.records[userID] = rec
		}
		rec.displayName = displayName
		p.Score = rec.score
		p.Streak = rec.streak
		p.Answered = rec.answeredRound == s.roundSeq && s.roundSeq > 0
	}
	s.participants[connID] = p

	s.broadcastRosterLocked()
	s.sendSnapshotLocked(connID)
	return nil
}

// sendSnapshotLocked catches a joiner up: current status, and when a round is
// live or frozen, the problem with the window it has left, plus the scoreboard.
func (s *Session) sendSnapshotLocked(connID string) {
	s.deps.Gateway.Send(connID, EventStatusChanged, StatusChangedPayload{QuizID: s.id, Status: s.status})
	switch s.status {
	case domain.StatusActive:
		s.deps.Gateway.Send(connID, EventNewProblem, NewProblemPayload{
			QuizID:     s.id,
			QuestionID: s.current.ID,
			Problem:    s.current.Text,
			TimeLimit:  s.deadline.Sub(s.deps.Clock()).Seconds(),
		})
	case domain.StatusPaused:
		s.deps.Gateway.Send(connID, EventNewProblem, NewProblemPayload{
			QuizID:     s.id,
			QuestionID: s.current.ID,
			Problem:    s.current.Text,
			TimeLimit:  s.remaining.Seconds(),
		})
	}
	s.deps.Gateway.Send(connID, EventLeaderboard, s.leaderboardLocked())
}

// Leave removes a connection from the roster. A departing teacher does not
// end or pause the quiz; the session runs headless until a teacher rejoins.
func (s *Session) Leave(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[connID]
	if !ok {
		return
	}
	delete(s.participants, connID)
	if s.teacherConn == connID {
		s.teacherConn = ""
	}
	s.broadcastRosterLocked()

	// A laggard leaving can complete the round for everyone else.
	if p.Role == domain.RoleStudent && s.status == domain.StatusActive &&
		s.opts.AdvanceOnAllAnswered && s.allStudentsAnsweredLocked() {
		s.advanceLocked(context.Background())
	}
}

// Start begins round 1: Waiting -> Active.
func (s *Session) Start(ctx context.Context, connID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.authorizeLocked(connID); err != nil {
		return err
	}
	if s.status != domain.StatusWaiting {
		return domain.ErrInvalidTransition
	}
	s.status = domain.StatusActive
	s.deps.Gateway.Broadcast(s.id, EventStatusChanged, StatusChangedPayload{QuizID: s.id, Status: s.status})
	s.advanceLocked(ctx)
	return nil
}

// Pause freezes the remaining answer window: Active -> Paused.
func (s *Session) Pause(connID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.authorizeLocked(connID); err != nil {
		return err
	}
	if s.status != domain.StatusActive {
		return domain.ErrInvalidTransition
	}
	s.remaining = s.deadline.Sub(s.deps.Clock())
	if s.remaining < 0 {
		s.remaining = 0
	}
	s.stopTimerLocked()
	s.status = domain.StatusPaused
	s.deps.Gateway.Broadcast(s.id, EventStatusChanged, StatusChangedPayload{QuizID: s.id, Status: s.status})
	return nil
}

// Resume re-arms the deadline with the window captured at pause: Paused ->
// Active. The same round continues; no new problem is issued.
func (s *Session) Resume(connID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.authorizeLocked(connID); err != nil {
		return err
	}
	if s.status != domain.StatusPaused {
		return domain.ErrInvalidTransition
	}
	s.status = domain.StatusActive
	s.deadline = s.deps.Clock().Add(s.remaining)
	s.armTimerLocked(s.remaining)
	s.deps.Gateway.Broadcast(s.id, EventStatusChanged, StatusChangedPayload{QuizID: s.id, Status: s.status})
	return nil
}

// End finishes the quiz: Active/Paused -> Finished.
func (s *Session) End(connID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.authorizeLocked(connID); err != nil {
		return err
	}
	if s.status != domain.StatusActive && s.status != domain.StatusPaused {
		return domain.ErrInvalidTransition
	}
	s.finishLocked()
	return nil
}

// Restart resets a finished quiz in place: Finished -> Waiting. The roster is
// retained; every score, streak and the round counter reset.
func (s *Session) Restart(connID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.authorizeLocked(connID); err != nil {
		return err
	}
	if s.status != domain.StatusFinished {
		return domain.ErrInvalidTransition
	}
	s.status = domain.StatusWaiting
	s.roundSeq = 0
	s.current = nil
	s.deadline = time.Time{}
	s.remaining = 0
	s.records = make(map[string]*scoreRecord)
	now := s.deps.Clock()
	for _, p := range s.participants {
		p.Score, p.Streak, p.Answered = 0, 0, false
		if p.Role == domain.RoleStudent {
			s.records[p.UserID] = &scoreRecord{userID: p.UserID, displayName: p.DisplayName, lastUpdated: now}
		}
	}
	s.deps.Gateway.Broadcast(s.id, EventStatusChanged, StatusChangedPayload{QuizID: s.id, Status: s.status})
	s.broadcastRosterLocked()
	return nil
}

// SubmitAnswer scores one submission per student per round. Stale and
// duplicate submissions are rejected without touching the scoreboard.
func (s *Session) SubmitAnswer(ctx context.Context, connID, questionID string, answer int, timeTaken time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != domain.StatusActive {
		return domain.ErrQuizNotActive
	}
	p, ok := s.participants[connID]
	if !ok || p.Role != domain.RoleStudent {
		return domain.ErrParticipantNotFound
	}
	if questionID != s.current.ID {
		return domain.ErrStaleSubmission
	}
	if p.Answered {
		return domain.ErrDuplicateSubmission
	}

	now := s.deps.Clock()
	elapsed := s.opts.QuestionWindow - s.deadline.Sub(now)
	if elapsed < 0 {
		elapsed = 0
	}

	correct := answer == s.current.Answer
	points := 0
	if correct {
		p.Streak++
		points = Points(elapsed, s.opts.QuestionWindow, p.Streak)
		p.Score += points
	} else {
		p.Streak = 0
	}
	p.Answered = true
	p.LastUpdated = now
	s.updateRecordLocked(p)

	s.recordAttempt(domain.Attempt{
		UserID:     p.UserID,
		QuizID:     s.id,
		QuestionID: questionID,
		Answer:     answer,
		Correct:    correct,
		TimeTaken:  timeTaken,
		CreatedAt:  now,
	})

	s.deps.Gateway.Send(connID, EventAnswerFeed, AnswerFeedbackPayload{QuizID: s.id, Correct: correct, Points: points, Streak: p.Streak})
	s.deps.Gateway.Send(connID, EventScoreUpdated, ScoreUpdatedPayload{QuizID: s.id, Score: p.Score})
	s.deps.Gateway.Broadcast(s.id, EventLeaderboard, s.leaderboardLocked())

	if s.opts.AdvanceOnAllAnswered && s.allStudentsAnsweredLocked() {
		s.advanceLocked(ctx)
	}
	return nil
}

// expireRound is the deadline callback for a given round. If the round has
// already advanced (or the quiz paused/ended), the stale sequence number makes
// this a no-op. Every student who never answered takes an implicit incorrect.
func (s *Session) expireRound(seq int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != domain.StatusActive || seq != s.roundSeq {
		return
	}
	now := s.deps.Clock()
	for _, p := range s.participants {
		if p.Role != domain.RoleStudent || p.Answered {
			continue
		}
		p.Streak = 0
		p.Answered = true
		s.updateRecordLocked(p)
		s.recordAttempt(domain.Attempt{
			UserID:     p.UserID,
			QuizID:     s.id,
			QuestionID: s.current.ID,
			Correct:    false,
			TimedOut:   true,
			TimeTaken:  s.opts.QuestionWindow,
			CreatedAt:  now,
		})
	}
	s.advanceLocked(context.Background())
}

// advanceLocked issues the next round: bump roundSeq, fetch a problem, reset
// per-round flags, re-arm the deadline and broadcast. Problem source
// exhaustion finishes the quiz instead.
func (s *Session) advanceLocked(ctx context.Context) {
	next, err := s.deps.Problems.Next(ctx, s.opts.Operation, s.opts.Level)
	if err != nil {
		if !errors.Is(err, domain.ErrProblemsExhausted) {
			s.deps.Logger.Error("problem source failed, finishing quiz",
				zap.String("quiz_id", s.id), zap.Error(err))
		}
		s.finishLocked()
		return
	}

	s.roundSeq++
	s.current = &next
	s.deadline = s.deps.Clock().Add(s.opts.QuestionWindow)
	for _, p := range s.participants {
		p.Answered = false
	}
	s.armTimerLocked(s.opts.QuestionWindow)

	s.deps.Gateway.Broadcast(s.id, EventNewProblem, NewProblemPayload{
		QuizID:     s.id,
		QuestionID: next.ID,
		Problem:    next.Text,
		TimeLimit:  s.opts.QuestionWindow.Seconds(),
	})
}

func (s *Session) finishLocked() {
	s.stopTimerLocked()
	s.current = nil
	s.deadline = time.Time{}
	s.remaining = 0
	s.status = domain.StatusFinished

	lb := s.leaderboardLocked()
	if s.deps.Results != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.deps.Results.SaveLeaderboard(ctx, lb); err != nil {
				s.deps.Logger.Warn("persist final leaderboard failed",
					zap.String("quiz_id", s.id), zap.Error(err))
			}
		}()
	}

	for _, p := range s.participants {
		if p.Role == domain.RoleStudent {
			s.deps.Gateway.Send(p.ConnID, EventQuizEnded, QuizEndedPayload{QuizID: s.id, Score: p.Score})
		}
	}
	s.deps.Gateway.Broadcast(s.id, EventStatusChanged, StatusChangedPayload{QuizID: s.id, Status: s.status, Results: &lb})
}

func (s *Session) authorizeLocked(connID string) error {
	p, ok := s.participants[connID]
	if !ok {
		return domain.ErrParticipantNotFound
	}
	if p.Role != domain.RoleTeacher || connID != s.teacherConn {
		return domain.ErrUnauthorized
	}
	return nil
}

func (s *Session) allStudentsAnsweredLocked() bool {
	students := 0
	for _, p := range s.participants {
		if p.Role != domain.RoleStudent {
			continue
		}
		students++
		if !p.Answered {
			return false
		}
	}
	return students > 0
}

func (s *Session) updateRecordLocked(p *domain.Participant) {
	rec, ok := s.records[p.UserID]
	if !ok {
		rec = &scoreRecord{userID: p.UserID}
		s.records[p.UserID] = rec
	}
	rec.displayName = p.DisplayName
	rec.score = p.Score
	rec.streak = p.Streak
	rec.lastUpdated = p.LastUpdated
	if p.Answered {
		rec.answeredRound = s.roundSeq
	}
}

func (s *Session) broadcastRosterLocked() {
	roster := make([]RosterEntry, 0, len(s.participants))
	for _, p := range s.participants {
		if p.Role != domain.RoleStudent {
			continue
		}
		roster = append(roster, RosterEntry{Username: p.DisplayName, Score: p.Score})
	}
	sort.Slice(roster, func(i, j int) bool {
		if roster[i].Score != roster[j].Score {
			return roster[i].Score > roster[j].Score
		}
		return roster[i].Username < roster[j].Username
	})
	s.deps.Gateway.Broadcast(s.id, EventParticipants, ParticipantsPayload{QuizID: s.id, Participants: roster})
}

// leaderboardLocked ranks everyone who has played this quiz, including
// students who have since disconnected. Ties break by who reached the score
// first, then by name.
func (s *Session) leaderboardLocked() domain.Leaderboard {
	entries := make([]domain.LeaderboardEntry, 0, len(s.records))
	for _, rec := range s.records {
		entries = append(entries, domain.LeaderboardEntry{
			UserID:      rec.userID,
			DisplayName: rec.displayName,
			Score:       rec.score,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		ri := s.records[entries[i].UserID]
		rj := s.records[entries[j].UserID]
		if !ri.lastUpdated.Equal(rj.lastUpdated) {
			return ri.lastUpdated.Before(rj.lastUpdated)
		}
		return entries[i].DisplayName < entries[j].DisplayName
	})
	return domain.Leaderboard{QuizID: s.id, Entries: entries, UpdatedAt: s.deps.Clock()}
}

func (s *Session) recordAttempt(attempt domain.Attempt) {
	if s.deps.Attempts == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.deps.Attempts.Record(ctx, attempt); err != nil {
			s.deps.Logger.Warn("record attempt failed",
				zap.String("quiz_id", attempt.QuizID),
				zap.String("user_id", attempt.UserID),
				zap.Error(err))
		}
	}()
}

func (s *Session) armTimerLocked(d time.Duration) {
	s.stopTimerLocked()
	seq := s.roundSeq
	s.timer = time.AfterFunc(d, func() { s.expireRound(seq) })
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
