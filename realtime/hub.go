// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/danielhkuo/choosing-sucks/metrics"
)

// Event types sent to session rooms
const (
	EventParticipantJoined = "participant_joined"
	EventSessionStarted    = "session_started"
	EventCandidatesAdded   = "candidates_added"
	EventSwipeProgress     = "swipe_progress"
	EventMatch             = "match"
	EventNoMatch           = "no_match"
	EventTiebreakStarted   = "tiebreak_started"
	EventRPSMove           = "rps_move"
	EventRPSReveal         = "rps_reveal"
	EventRPSFinished       = "rps_finished"
	EventDecided           = "decided"
	EventSessionExpired    = "session_expired"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 32
)

// ErrHubClosed is returned by Serve once the hub has shut down
var ErrHubClosed = errors.New("realtime hub closed")

// Event is the envelope every client receives
type Event struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id"`
	Payload   interface{} `json:"payload,omitempty"`
	SentAt    time.Time   `json:"sent_at"`
}

// Broadcaster publishes events to everyone watching a session
type Broadcaster interface {
	Broadcast(sessionID, eventType string, payload interface{})
}

type client struct {
	room string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub fans events out to websocket clients grouped by session
type Hub struct {
	mu       sync.RWMutex
	rooms    map[string]map[*client]struct{}
	closed   bool
	upgrader websocket.Upgrader
}

func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Any origin; the room is keyed by an unguessable join code
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Serve upgrades the request and streams the session's events until the
// client goes away. It blocks for the lifetime of the connection.
// ErrHubClosed means nothing was written to w.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, sessionID string) error {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		return ErrHubClosed
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return errors.Wrap(err, "websocket upgrade")
	}

	c := &client{room: sessionID, conn: conn, send: make(chan []byte, sendBuffer)}
	if !h.register(c) {
		// Closed while upgrading
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return nil
	}

	go h.writePump(c)
	h.readPump(c)
	return nil
}

// Broadcast sends an event to every client in the session's room. Clients
// whose queue is full are disconnected.
func (h *Hub) Broadcast(sessionID, eventType string, payload interface{}) {
	data, err := json.Marshal(Event{
		Type:      eventType,
		SessionID: sessionID,
		Payload:   payload,
		SentAt:    time.Now().UTC(),
	})
	if err != nil {
		log.WithError(err).WithField("type", eventType).Error("failed to encode event")
		return
	}

	var slow []*client
	h.mu.RLock()
	for c := range h.rooms[sessionID] {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		log.WithField("session_id", sessionID).Warn("dropping slow websocket client")
		h.unregister(c)
	}
}

// ClientCount reports how many clients watch a session
func (h *Hub) ClientCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}

// Close disconnects every client and refuses new ones
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	rooms := h.rooms
	h.rooms = make(map[string]map[*client]struct{})
	h.mu.Unlock()

	for _, room := range rooms {
		for c := range room {
			c.close()
			metrics.ClientDisconnected()
		}
	}
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}

	room, ok := h.rooms[c.room]
	if !ok {
		room = make(map[*client]struct{})
		h.rooms[c.room] = room
	}
	room[c] = struct{}{}
	metrics.ClientConnected()
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[c.room]
	if !ok {
		return
	}
	if _, ok := room[c]; !ok {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, c.room)
	}
	c.close()
	metrics.ClientDisconnected()
}

// readPump discards client messages and tracks pongs
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).WithField("session_id", c.room).Debug("websocket closed")
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
