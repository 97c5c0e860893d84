package wshub

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Apsharan/Compteur/internal/domain"
	"github.com/Apsharan/Compteur/internal/ports"
)

// sendBuffer bounds the per-session outbound queue. A session that falls
// this far behind is treated as a slow consumer and disconnected.
const sendBuffer = 64

type session struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub owns the set of connected viewer sessions and fans events out to all
// of them. Each session has a single write pump, so successive broadcasts
// are delivered FIFO per connection. Registration happens on HTTP upgrade,
// unregistration on read error or slow-consumer disconnect.
type Hub struct {
	obs      ports.Observability
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[*session]struct{}
}

func New(obs ports.Observability) *Hub {
	return &Hub{
		obs: obs,
		upgrader: websocket.Upgrader{
			// The dashboard is served from a different origin than the relay.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		sessions: make(map[*session]struct{}),
	}
}

// ServeHTTP upgrades the request to a WebSocket and blocks until the viewer
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.obs.LogWarn("websocket upgrade failed", err, ports.Field{Key: "remote", Value: r.RemoteAddr})
		return
	}

	s := &session{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	h.register(s)

	go h.writePump(s)
	h.readPump(s)
}

// Broadcast delivers e to every open session. Marshalling happens once; a
// session whose buffer is full is dropped rather than blocking the rest.
// Broadcasting to zero sessions is a no-op.
func (h *Hub) Broadcast(e domain.Event) {
	msg, err := json.Marshal(e)
	if err != nil {
		h.obs.LogError("marshal broadcast event", err, ports.Field{Key: "type", Value: e.Type})
		return
	}

	// Sends happen under the read lock so unregister (which closes the
	// send channel under the write lock) cannot interleave with them. The
	// enqueue is non-blocking, so the lock is held only briefly.
	var slow []*session
	h.mu.RLock()
	for s := range h.sessions {
		select {
		case s.send <- msg:
		default:
			slow = append(slow, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range slow {
		h.obs.LogWarn("dropping slow viewer session", nil, ports.Field{Key: "session", Value: s.id})
		h.obs.IncCounter("relay_sessions_dropped_total", 1)
		h.unregister(s)
	}

	h.obs.IncCounter("relay_broadcasts_total", 1)
}

// Sessions reports the number of currently registered viewer sessions.
func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Shutdown disconnects every session.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	snapshot := make([]*session, 0, len(h.sessions))
	for s := range h.sessions {
		snapshot = append(snapshot, s)
	}
	h.mu.RUnlock()

	for _, s := range snapshot {
		h.unregister(s)
	}
}

func (h *Hub) register(s *session) {
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	n := len(h.sessions)
	h.mu.Unlock()

	h.obs.SetGauge("relay_viewer_sessions", float64(n))
	h.obs.LogInfo("viewer connected", ports.Field{Key: "session", Value: s.id})
}

// unregister is idempotent: read-pump exit and slow-consumer drops can race.
func (h *Hub) unregister(s *session) {
	h.mu.Lock()
	_, ok := h.sessions[s]
	if ok {
		delete(h.sessions, s)
		close(s.send)
	}
	n := len(h.sessions)
	h.mu.Unlock()

	if !ok {
		return
	}
	s.conn.Close()

	h.obs.SetGauge("relay_viewer_sessions", float64(n))
	h.obs.LogInfo("viewer disconnected", ports.Field{Key: "session", Value: s.id})
}

// readPump discards inbound frames; viewers talk to the relay over HTTP.
// Its only job is detecting disconnects.
func (h *Hub) readPump(s *session) {
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			break
		}
	}
	h.unregister(s)
}

func (h *Hub) writePump(s *session) {
	for msg := range s.send {
		if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.unregister(s)
			return
		}
	}
}

var _ ports.Broadcaster = (*Hub)(nil)
