// Package realtime fans decision notifications out to websocket subscribers of
// a championship.
package realtime

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 16
)

type Message struct {
	Type           string `json:"type"`
	ChampionshipID string `json:"championship_id,omitempty"`
	Payload        any    `json:"payload,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan Message
}

type Hub struct {
	upgrader websocket.Upgrader
	log      *slog.Logger

	mu      sync.Mutex
	clients map[string]map[*client]struct{}
}

// NewHub builds a hub whose upgrader accepts the given browser origins. With
// no origins only same-host pages may connect; "*" accepts every origin.
// Requests without an Origin header (the CLI) are always accepted.
func NewHub(logger *slog.Logger, allowedOrigins []string) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		log:     logger,
		clients: make(map[string]map[*client]struct{}),
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		// nil makes gorilla fall back to its same-host check
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.ToLower(strings.TrimRight(origin, "/"))]
		return ok
	}
}

// Subscribers returns how many connections watch the championship.
func (h *Hub) Subscribers(championshipID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[championshipID])
}

// Broadcast queues msg for every subscriber of the championship. A subscriber
// whose buffer is full is dropped.
func (h *Hub) Broadcast(championshipID string, msg Message) {
	msg.ChampionshipID = championshipID
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients[championshipID] {
		select {
		case c.send <- msg:
		default:
			h.log.Warn("monitor subscriber too slow, dropping", "championship_id", championshipID)
			h.removeLocked(championshipID, c)
		}
	}
}

// ServeWS upgrades the request and registers the connection until the peer
// goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, championshipID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	c := &client{conn: conn, send: make(chan Message, sendBufferSize)}
	c.send <- Message{Type: "system", ChampionshipID: championshipID, Payload: "connected"}

	h.mu.Lock()
	if h.clients[championshipID] == nil {
		h.clients[championshipID] = make(map[*client]struct{})
	}
	h.clients[championshipID][c] = struct{}{}
	h.mu.Unlock()
	h.log.Info("monitor subscribed", "championship_id", championshipID)

	go h.writePump(championshipID, c)
	h.readPump(championshipID, c)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, set := range h.clients {
		for c := range set {
			h.removeLocked(id, c)
		}
	}
}

func (h *Hub) remove(championshipID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(championshipID, c)
}

func (h *Hub) removeLocked(championshipID string, c *client) {
	set := h.clients[championshipID]
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, championshipID)
	}
	close(c.send)
}

// Incoming frames are ignored; reading drives pong handling and close detection.
func (h *Hub) readPump(championshipID string, c *client) {
	defer func() {
		h.remove(championshipID, c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(championshipID string, c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				h.log.Warn("monitor write failed", "championship_id", championshipID, "err", err)
				h.remove(championshipID, c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(championshipID, c)
				return
			}
		}
	}
}
