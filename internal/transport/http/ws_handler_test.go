package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"mathfluency-service/internal/domain"
	"mathfluency-service/internal/problem"
	"mathfluency-service/internal/quiz"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	hub := NewHub(nil)
	deps := quiz.Deps{
		Problems: problem.NewFixedSource([]domain.Problem{
			{ID: "q1", Text: "3 + 4", Answer: 7},
			{ID: "q2", Text: "5 + 2", Answer: 7},
			{ID: "q3", Text: "6 + 1", Answer: 7},
		}),
		Gateway: hub,
	}
	defaults := quiz.Options{
		Operation:            problem.OpAddition,
		Level:                1,
		QuestionWindow:       30 * time.Second,
		AdvanceOnAllAnswered: true,
	}
	registry := quiz.NewRegistry(defaults, time.Minute, deps, nil)
	handler := NewWSHandler(registry, hub, nil, nil)

	router := chi.NewRouter()
	router.Get("/ws", handler.ServeWS)
	router.Get("/quiz/{quizID}/leaderboard", handler.Leaderboard)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func dial(t *testing.T, server *httptest.Server, userID, name string) *websocket.Conn {
	t.Helper()
	u := "ws" + server.URL[len("http"):] + "/ws?userId=" + userID + "&name=" + name
	ws, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", userID, err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func sendMsg(t *testing.T, ws *websocket.Conn, msgType string, payload any) {
	t.Helper()
	if err := ws.WriteJSON(map[string]any{"type": msgType, "payload": payload}); err != nil {
		t.Fatalf("write %s: %v", msgType, err)
	}
}

// readUntil drains messages until one of the wanted type arrives.
func readUntil(t *testing.T, ws *websocket.Conn, want string) map[string]any {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg struct {
			Type    string         `json:"type"`
			Payload map[string]any `json:"payload"`
		}
		if err := ws.ReadJSON(&msg); err != nil {
			t.Fatalf("reading for %s: %v", want, err)
		}
		if msg.Type == want {
			return msg.Payload
		}
	}
}

func TestQuizFlowOverWebSocket(t *testing.T) {
	server := newTestServer(t)

	teacher := dial(t, server, "t1", "Teacher")
	sendMsg(t, teacher, "join_quiz", map[string]any{"quiz_id": "quiz-1", "is_teacher": true})
	readUntil(t, teacher, "quiz_status_changed")

	student := dial(t, server, "u1", "Alice")
	sendMsg(t, student, "join_quiz", map[string]any{"quiz_id": "quiz-1", "is_teacher": false})
	readUntil(t, student, "quiz_status_changed")

	sendMsg(t, teacher, "start_quiz", map[string]any{"quiz_id": "quiz-1"})

	np := readUntil(t, student, "new_problem")
	if np["question_id"] != "q1" || np["problem"] != "3 + 4" {
		t.Fatalf("unexpected first problem: %+v", np)
	}

	sendMsg(t, student, "submit_answer", map[string]any{
		"quiz_id": "quiz-1", "question_id": "q1", "answer": 7, "time_taken": 2.5,
	})

	fb := readUntil(t, student, "answer_feedback")
	if fb["correct"] != true {
		t.Fatalf("expected correct feedback, got %+v", fb)
	}
	score := readUntil(t, student, "score_updated")
	if score["score"].(float64) <= 0 {
		t.Fatalf("expected positive score, got %+v", score)
	}

	// sole student answered, so the round advances
	np2 := readUntil(t, student, "new_problem")
	if np2["question_id"] != "q2" {
		t.Fatalf("expected q2, got %+v", np2)
	}

	sendMsg(t, teacher, "end_quiz", map[string]any{"quiz_id": "quiz-1"})
	ended := readUntil(t, student, "quiz_ended")
	if ended["score"].(float64) <= 0 {
		t.Fatalf("expected final score, got %+v", ended)
	}
	status := readUntil(t, student, "quiz_status_changed")
	if status["status"] != "finished" {
		t.Fatalf("expected finished, got %+v", status)
	}

	// the REST leaderboard reads from the live session
	resp, err := http.Get(server.URL + "/quiz/quiz-1/leaderboard")
	if err != nil {
		t.Fatalf("get leaderboard: %v", err)
	}
	defer resp.Body.Close()
	var lb domain.Leaderboard
	if err := json.NewDecoder(resp.Body).Decode(&lb); err != nil {
		t.Fatalf("decode leaderboard: %v", err)
	}
	if len(lb.Entries) != 1 || lb.Entries[0].DisplayName != "Alice" || lb.Entries[0].Score <= 0 {
		t.Fatalf("unexpected leaderboard: %+v", lb.Entries)
	}
}

func TestStudentCannotControlQuiz(t *testing.T) {
	server := newTestServer(t)

	teacher := dial(t, server, "t1", "Teacher")
	sendMsg(t, teacher, "join_quiz", map[string]any{"quiz_id": "quiz-2", "is_teacher": true})
	readUntil(t, teacher, "quiz_status_changed")

	student := dial(t, server, "u1", "Alice")
	sendMsg(t, student, "join_quiz", map[string]any{"quiz_id": "quiz-2", "is_teacher": false})
	readUntil(t, student, "quiz_status_changed")

	sendMsg(t, student, "start_quiz", map[string]any{"quiz_id": "quiz-2"})
	errMsg := readUntil(t, student, "error")
	if errMsg["message"] == "" {
		t.Fatalf("expected an error reply")
	}
}

func TestJoinRequiresIdentity(t *testing.T) {
	server := newTestServer(t)
	u := "ws" + server.URL[len("http"):] + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatalf("expected dial to fail without identity")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %+v", resp)
	}
}
