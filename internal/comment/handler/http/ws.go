package http

import (
	stdhttp "net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/MyNameIsWhaaat/teamboard/internal/comment/service"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// Watch upgrades to a websocket and pushes the thread view, filtered by the
// q and category query parameters, after every change. Bursts of changes
// collapse into a single message carrying the latest view.
func (h *Handler) Watch(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	f, ok := parseFilter(w, r)
	if !ok {
		return
	}
	svc := serviceFrom(r)
	actor := identityFrom(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	h.metrics.WebsocketConnected()
	defer h.metrics.WebsocketDisconnected()

	changed := make(chan struct{}, 1)
	cancel := svc.Watch(func(service.State) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer cancel()

	done := make(chan struct{})
	go readPump(conn, done)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-changed:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(newView(svc.ViewFor(actor, f))); err != nil {
				h.log.Debug("Websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains client frames so pongs and close frames are processed.
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
