package http

import (
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// outbound is the server -> client message envelope.
type outbound struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

const sendBuffer = 32

// conn is one client connection with its dedicated writer goroutine. All
// writes go through send so the websocket never sees concurrent writers.
type conn struct {
	id     string
	userID string
	name   string
	ws     *websocket.Conn

	mu     sync.Mutex
	quizID string
	closed bool

	send      chan outbound
	closeOnce sync.Once
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
		_ = c.ws.Close()
	})
}

// trySend queues a message unless the connection is closed or its buffer is
// full. Returns false when the message was dropped.
func (c *conn) trySend(msg outbound) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *conn) bindQuiz(quizID string) {
	c.mu.Lock()
	c.quizID = quizID
	c.mu.Unlock()
}

func (c *conn) boundQuiz() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quizID
}

// Hub tracks connections and their quiz rooms and implements the session
// broadcast gateway. Sends are fire-and-forget: a full buffer drops the
// message for that connection rather than stalling the sender.
type Hub struct {
	logger *zap.Logger

	mu    sync.RWMutex
	conns map[string]*conn
	rooms map[string]map[string]*conn
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger: logger,
		conns:  make(map[string]*conn),
		rooms:  make(map[string]map[string]*conn),
	}
}

func (h *Hub) register(c *conn) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
	go h.writer(c)
}

func (h *Hub) joinRoom(c *conn, quizID string) {
	h.mu.Lock()
	if h.rooms[quizID] == nil {
		h.rooms[quizID] = make(map[string]*conn)
	}
	h.rooms[quizID][c.id] = c
	h.mu.Unlock()
	c.bindQuiz(quizID)
}

func (h *Hub) leaveRoom(c *conn) {
	quizID := c.boundQuiz()
	if quizID == "" {
		return
	}
	h.mu.Lock()
	if room, ok := h.rooms[quizID]; ok {
		delete(room, c.id)
		if len(room) == 0 {
			delete(h.rooms, quizID)
		}
	}
	h.mu.Unlock()
	c.bindQuiz("")
}

func (h *Hub) unregister(c *conn) {
	h.leaveRoom(c)
	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()
	c.close()
}

// Broadcast delivers an event to every connection in a quiz room.
func (h *Hub) Broadcast(quizID, event string, payload any) {
	h.mu.RLock()
	room := h.rooms[quizID]
	targets := make([]*conn, 0, len(room))
	for _, c := range room {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	msg := outbound{Type: event, Payload: payload}
	for _, c := range targets {
		h.deliver(c, msg)
	}
}

// Send delivers an event to a single connection.
func (h *Hub) Send(connID, event string, payload any) {
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	h.deliver(c, outbound{Type: event, Payload: payload})
}

// deliver queues a message for a connection. A full buffer means the client
// stopped draining; closing the socket makes its read loop run the leave path.
func (h *Hub) deliver(c *conn, msg outbound) {
	if !c.trySend(msg) {
		h.logger.Warn("send buffer full, closing connection",
			zap.String("conn_id", c.id), zap.String("event", msg.Type))
		c.close()
	}
}

func (h *Hub) writer(c *conn) {
	for msg := range c.send {
		if err := c.ws.WriteJSON(msg); err != nil {
			h.logger.Debug("ws write failed", zap.String("conn_id", c.id), zap.Error(err))
			_ = c.ws.Close()
			return
		}
	}
}
