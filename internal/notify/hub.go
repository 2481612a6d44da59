// Package notify pushes toasts to the browsers of a session over websockets.
package notify

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/podcast-service/internal/core"
	"github.com/gorilla/websocket"
)

const (
	subscriberBuffer = 16
	writeTimeout     = 10 * time.Second
	pongTimeout      = 60 * time.Second
	pingInterval     = pongTimeout * 9 / 10
)

type subscriber struct {
	sessionID string
	send      chan core.Toast
}

// Hub fans toasts out to every websocket subscribed to a session.
// It implements core.Notifier.
type Hub struct {
	upgrader websocket.Upgrader
	log      *logger.Logger

	mu          sync.RWMutex
	subscribers map[string]map[*subscriber]struct{}
}

// NewHub creates a hub. checkOrigin may be nil to accept same-origin requests only.
func NewHub(checkOrigin func(r *http.Request) bool, log *logger.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		log:         log,
		mu:          sync.RWMutex{},
		subscribers: make(map[string]map[*subscriber]struct{}),
	}
}

// Notify queues toast for every subscriber of sessionID. A subscriber whose
// buffer is full misses the toast.
func (h *Hub) Notify(sessionID string, toast core.Toast) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subscribers[sessionID] {
		select {
		case sub.send <- toast:
		default:
			h.log.Warn("Dropped notification %q for slow subscriber of session %s", toast.Title, sessionID)
		}
	}
}

// SubscriberCount returns the number of open websockets of a session.
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.subscribers[sessionID])
}

// ServeWS upgrades the request and streams the session's toasts as JSON text
// frames until the client goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, sessionID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("Websocket upgrade failed for session %s: %v", sessionID, err)

		return
	}

	sub := &subscriber{
		sessionID: sessionID,
		send:      make(chan core.Toast, subscriberBuffer),
	}

	h.register(sub)

	done := make(chan struct{})

	go h.readPump(conn, done)

	h.writePump(conn, sub, done)
	h.unregister(sub)

	closeErr := conn.Close()
	if closeErr != nil {
		h.log.Warn("Failed to close websocket for session %s: %v", sessionID, closeErr)
	}
}

// readPump discards client frames and signals done when the peer disconnects.
func (h *Hub) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Warn("Websocket closed unexpectedly: %v", err)
			}

			return
		}
	}
}

func (h *Hub) writePump(conn *websocket.Conn, sub *subscriber, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case toast := <-sub.send:
			payload, err := json.Marshal(toast)
			if err != nil {
				h.log.Error("Failed to marshal notification: %v", err)

				continue
			}

			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))

			err = conn.WriteMessage(websocket.TextMessage, payload)
			if err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))

			err := conn.WriteMessage(websocket.PingMessage, nil)
			if err != nil {
				return
			}
		}
	}
}

func (h *Hub) register(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subscribers[sub.sessionID] == nil {
		h.subscribers[sub.sessionID] = make(map[*subscriber]struct{})
	}

	h.subscribers[sub.sessionID][sub] = struct{}{}
}

func (h *Hub) unregister(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.subscribers[sub.sessionID], sub)

	if len(h.subscribers[sub.sessionID]) == 0 {
		delete(h.subscribers, sub.sessionID)
	}
}
