package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"mathfluency-service/internal/domain"
	"mathfluency-service/internal/quiz"
)

// ResultsReader loads a persisted final leaderboard for quizzes that have
// already been evicted from the registry. May be nil.
type ResultsReader interface {
	LoadLeaderboard(ctx context.Context, quizID string) (domain.Leaderboard, error)
}

// WSHandler upgrades HTTP requests to websockets and routes quiz protocol
// messages to sessions.
type WSHandler struct {
	registry *quiz.Registry
	hub      *Hub
	results  ResultsReader
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(registry *quiz.Registry, hub *Hub, results ResultsReader, logger *zap.Logger) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHandler{
		registry: registry,
		hub:      hub,
		results:  results,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// inboundMessage is the client -> server envelope.
type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type joinPayload struct {
	QuizID    string `json:"quiz_id"`
	IsTeacher bool   `json:"is_teacher"`
	Operation string `json:"operation,omitempty"`
	Level     int    `json:"level,omitempty"`
}

type controlPayload struct {
	QuizID string `json:"quiz_id"`
}

type submitPayload struct {
	QuizID     string  `json:"quiz_id"`
	QuestionID string  `json:"question_id"`
	Answer     int     `json:"answer"`
	TimeTaken  float64 `json:"time_taken"` // seconds
}

type errorPayload struct {
	Message string `json:"message"`
}

// Client -> server message types.
const (
	msgJoinQuiz     = "join_quiz"
	msgStartQuiz    = "start_quiz"
	msgPauseQuiz    = "pause_quiz"
	msgResumeQuiz   = "resume_quiz"
	msgEndQuiz      = "end_quiz"
	msgRestartQuiz  = "restart_quiz"
	msgSubmitAnswer = "submit_answer"
)

// ServeWS handles the /ws endpoint. Identity comes from the authenticated
// request (query params here; a real deployment derives them from the
// session cookie upstream).
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	displayName := r.URL.Query().Get("name")
	if userID == "" || displayName == "" {
		http.Error(w, "missing userId or name", http.StatusBadRequest)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	c := &conn{
		id:     uuid.NewString(),
		userID: userID,
		name:   displayName,
		ws:     ws,
		send:   make(chan outbound, sendBuffer),
	}
	h.hub.register(c)
	defer h.drop(c)

	for {
		var inbound inboundMessage
		if err := ws.ReadJSON(&inbound); err != nil {
			return
		}
		h.dispatch(r, c, inbound)
	}
}

func (h *WSHandler) dispatch(r *http.Request, c *conn, inbound inboundMessage) {
	switch inbound.Type {
	case msgJoinQuiz:
		var p joinPayload
		if err := json.Unmarshal(inbound.Payload, &p); err != nil || p.QuizID == "" {
			h.sendError(c, "invalid join_quiz payload")
			return
		}
		h.handleJoin(r, c, p)

	case msgStartQuiz, msgPauseQuiz, msgResumeQuiz, msgEndQuiz, msgRestartQuiz:
		var p controlPayload
		if err := json.Unmarshal(inbound.Payload, &p); err != nil || p.QuizID == "" {
			h.sendError(c, "invalid control payload")
			return
		}
		session, ok := h.registry.Get(p.QuizID)
		if !ok {
			h.sendError(c, domain.ErrSessionNotFound.Error())
			return
		}
		var err error
		switch inbound.Type {
		case msgStartQuiz:
			err = session.Start(r.Context(), c.id)
		case msgPauseQuiz:
			err = session.Pause(c.id)
		case msgResumeQuiz:
			err = session.Resume(c.id)
		case msgEndQuiz:
			err = session.End(c.id)
		case msgRestartQuiz:
			err = session.Restart(c.id)
		}
		if err != nil {
			h.sendError(c, err.Error())
		}

	case msgSubmitAnswer:
		var p submitPayload
		if err := json.Unmarshal(inbound.Payload, &p); err != nil || p.QuizID == "" {
			h.sendError(c, "invalid submit_answer payload")
			return
		}
		session, ok := h.registry.Get(p.QuizID)
		if !ok {
			h.sendError(c, domain.ErrSessionNotFound.Error())
			return
		}
		timeTaken := time.Duration(p.TimeTaken * float64(time.Second))
		if err := session.SubmitAnswer(r.Context(), c.id, p.QuestionID, p.Answer, timeTaken); err != nil {
			h.sendError(c, err.Error())
		}

	default:
		h.sendError(c, "unsupported message type")
	}
}

func (h *WSHandler) handleJoin(r *http.Request, c *conn, p joinPayload) {
	role := domain.RoleStudent
	if p.IsTeacher {
		role = domain.RoleTeacher
	}

	if prev := c.boundQuiz(); prev != "" && prev != p.QuizID {
		if session, ok := h.registry.Get(prev); ok {
			session.Leave(c.id)
			h.registry.Release(prev)
		}
		h.hub.leaveRoom(c)
	}

	session := h.registry.GetOrCreate(r.Context(), p.QuizID, quiz.Options{
		Operation: p.Operation,
		Level:     p.Level,
	})
	h.hub.joinRoom(c, p.QuizID)
	if err := session.Join(c.id, c.userID, c.name, role); err != nil {
		h.hub.leaveRoom(c)
		h.registry.Release(p.QuizID)
		h.sendError(c, err.Error())
		return
	}
	h.logger.Debug("participant joined quiz",
		zap.String("quiz_id", p.QuizID),
		zap.String("user_id", c.userID),
		zap.String("role", string(role)))
}

// drop runs the leave path when a connection goes away for any reason.
func (h *WSHandler) drop(c *conn) {
	if quizID := c.boundQuiz(); quizID != "" {
		if session, ok := h.registry.Get(quizID); ok {
			session.Leave(c.id)
		}
		defer h.registry.Release(quizID)
	}
	h.hub.unregister(c)
}

func (h *WSHandler) sendError(c *conn, message string) {
	h.hub.Send(c.id, "error", errorPayload{Message: message})
}

// Leaderboard serves GET /quiz/{quizID}/leaderboard from the live session,
// falling back to the persisted snapshot once the session is gone.
func (h *WSHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	quizID := chi.URLParam(r, "quizID")
	if session, ok := h.registry.Get(quizID); ok {
		writeJSON(w, http.StatusOK, session.Leaderboard())
		return
	}
	if h.results != nil {
		if lb, err := h.results.LoadLeaderboard(r.Context(), quizID); err == nil {
			writeJSON(w, http.StatusOK, lb)
			return
		}
	}
	http.Error(w, "quiz not found", http.StatusNotFound)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
