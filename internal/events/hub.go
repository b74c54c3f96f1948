package events

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 32
	readLimit  = 512
)

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
	game uuid.UUID // uuid.Nil subscribes to every game
}

// Hub broadcasts events to websocket subscribers. Subscribers that fall
// behind are disconnected rather than slowing the broadcaster down.
type Hub struct {
	upgrader websocket.Upgrader
	log      zerolog.Logger

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

var _ Notifier = (*Hub)(nil)

type HubOption func(*Hub)

func WithHubLogger(l zerolog.Logger) HubOption {
	return func(h *Hub) { h.log = l }
}

// WithAllowedOrigins restricts websocket upgrades to the given origins. With
// no origins every origin is accepted.
func WithAllowedOrigins(origins ...string) HubOption {
	return func(h *Hub) {
		if len(origins) == 0 {
			return
		}
		allowed := make(map[string]bool, len(origins))
		for _, o := range origins {
			allowed[o] = true
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			return allowed[r.Header.Get("Origin")]
		}
	}
}

func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 5 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  2048,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
		log:  zerolog.Nop(),
		subs: make(map[*subscriber]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *Hub) Notify(e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		h.log.Error().Err(err).Str("event", string(e.Type)).Msg("marshal event")
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		if s.game != uuid.Nil && s.game != e.Game {
			continue
		}
		select {
		case s.send <- payload:
		default:
			h.log.Warn().Str("remote", s.conn.RemoteAddr().String()).Msg("subscriber too slow, dropping")
			h.removeLocked(s)
		}
	}
}

// Subscribers reports the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// ServeHTTP upgrades the request and streams events until the client goes
// away. The optional "game" query parameter narrows the stream to one game.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var filter uuid.UUID
	if g := r.URL.Query().Get("game"); g != "" {
		id, err := uuid.Parse(g)
		if err != nil {
			http.Error(w, "invalid game id", http.StatusBadRequest)
			return
		}
		filter = id
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	s := &subscriber{conn: conn, send: make(chan []byte, sendBuffer), game: filter}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	h.log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("subscriber connected")

	go h.writePump(s)
	h.readPump(s)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		h.removeLocked(s)
	}
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(s)
}

func (h *Hub) removeLocked(s *subscriber) {
	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	close(s.send)
}

// readPump only services control frames; clients are not expected to send
// anything.
func (h *Hub) readPump(s *subscriber) {
	defer func() {
		h.remove(s)
		s.conn.Close()
	}()
	s.conn.SetReadLimit(readLimit)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Debug().Err(err).Msg("subscriber read")
			}
			return
		}
	}
}

func (h *Hub) writePump(s *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(s)
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(s)
				return
			}
		}
	}
}
