package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"quantcore/internal/eventbus"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 25 * time.Second
)

// hub upgrades incoming WebSocket requests and bridges one eventbus topic
// subscription per connection to the socket's write loop. Grounded on the
// teacher's register/unregister/broadcast channel trio, collapsed here
// since eventbus.Bus already owns the topic-keyed subscriber sets — the
// hub's only job is translating one Sink into one websocket connection.
type hub struct {
	bus            *eventbus.Bus
	allowedOrigins []string
	logger         *slog.Logger
	upgrader       websocket.Upgrader
}

func newHub(bus *eventbus.Bus, allowedOrigins []string, logger *slog.Logger) *hub {
	h := &hub{
		bus:            bus,
		allowedOrigins: allowedOrigins,
		logger:         logger.With("component", "api.ws"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.isOriginAllowed,
	}
	return h
}

func (h *hub) isOriginAllowed(r *http.Request) bool {
	if len(h.allowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// serveWS upgrades the connection and streams events for ?topic=... until
// the client disconnects or the subscriber is dropped as slow.
func (h *hub) serveWS(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		http.Error(w, "missing topic query parameter", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sink, unsubscribe := h.bus.Subscribe(topic)
	defer unsubscribe()

	// Drain (and discard) client frames so the read side doesn't stall the
	// connection. No read deadline is set, so a silent client is never timed
	// out; the connection ends when a write fails or the subscription is
	// dropped.
	go h.readPump(conn)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sink:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *hub) readPump(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
