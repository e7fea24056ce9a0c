package quiz

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"mathfluency-service/internal/domain"
)

// LivenessStore marks which quiz sessions exist on this instance (in Redis in
// production) so operators and future instances can see them. Best-effort.
type LivenessStore interface {
	MarkLive(ctx context.Context, quizID string) error
	Evict(ctx context.Context, quizID string) error
}

// Registry owns the process-wide quiz id -> session mapping. Sessions are
// created lazily on first join and evicted once finished and empty for a
// grace period, giving disconnected clients a window to reconnect and read
// the results.
type Registry struct {
	deps     Deps
	defaults Options
	grace    time.Duration
	liveness LivenessStore

	mu       sync.Mutex
	sessions map[string]*Session
	evicting map[string]*time.Timer
}

func NewRegistry(defaults Options, grace time.Duration, deps Deps, liveness LivenessStore) *Registry {
	if grace <= 0 {
		grace = 2 * time.Minute
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Registry{
		deps:     deps,
		defaults: defaults,
		grace:    grace,
		liveness: liveness,
		sessions: make(map[string]*Session),
		evicting: make(map[string]*time.Timer),
	}
}

// GetOrCreate returns the session for quizID, creating it with opts on first
// use. Zero-valued operation/level/window fall back to the registry defaults;
// the behavioral toggles always come from the defaults. Creation parameters
// are immutable after that.
func (r *Registry) GetOrCreate(ctx context.Context, quizID string, opts Options) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.evicting[quizID]; ok {
		t.Stop()
		delete(r.evicting, quizID)
	}
	if session, ok := r.sessions[quizID]; ok {
		return session
	}

	if opts.Operation == "" {
		opts.Operation = r.defaults.Operation
	}
	if opts.Level == 0 {
		opts.Level = r.defaults.Level
	}
	if opts.QuestionWindow <= 0 {
		opts.QuestionWindow = r.defaults.QuestionWindow
	}
	// Per-quiz options only cover operation, level and window; the behavioral
	// toggles always come from the service defaults.
	opts.AdvanceOnAllAnswered = r.defaults.AdvanceOnAllAnswered
	opts.AllowCoTeachers = r.defaults.AllowCoTeachers

	session := NewSession(quizID, opts, r.deps)
	r.sessions[quizID] = session
	if r.liveness != nil {
		if err := r.liveness.MarkLive(ctx, quizID); err != nil {
			r.deps.Logger.Warn("mark session live failed", zap.String("quiz_id", quizID), zap.Error(err))
		}
	}
	r.deps.Logger.Info("quiz session created",
		zap.String("quiz_id", quizID),
		zap.String("operation", opts.Operation),
		zap.Int("level", opts.Level))
	return session
}

// Get looks up an existing session.
func (r *Registry) Get(quizID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[quizID]
	return session, ok
}

// Release is called after a connection leaves. A finished session with nobody
// connected is scheduled for eviction; any reconnect before the grace period
// elapses cancels it.
func (r *Registry) Release(quizID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[quizID]
	if !ok {
		return
	}
	if session.Status() != domain.StatusFinished || !session.Empty() {
		return
	}
	if _, pending := r.evicting[quizID]; pending {
		return
	}
	r.evicting[quizID] = time.AfterFunc(r.grace, func() { r.evict(quizID) })
}

func (r *Registry) evict(quizID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.evicting, quizID)
	session, ok := r.sessions[quizID]
	if !ok {
		return
	}
	// A reconnect may have raced the timer.
	if !session.Empty() {
		return
	}
	delete(r.sessions, quizID)
	if r.liveness != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.liveness.Evict(ctx, quizID); err != nil {
			r.deps.Logger.Warn("evict liveness key failed", zap.String("quiz_id", quizID), zap.Error(err))
		}
	}
	r.deps.Logger.Info("quiz session evicted", zap.String("quiz_id", quizID))
}
