package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"trailguard/pkg/dispatch"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard is served from other origins in deployment.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSHandler streams raised alerts to connected operator dashboards.
type WSHandler struct {
	dispatcher *dispatch.Dispatcher
}

// NewWSHandler creates the handler.
func NewWSHandler(d *dispatch.Dispatcher) *WSHandler {
	return &WSHandler{dispatcher: d}
}

func (h *WSHandler) HandleAlerts(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch, cancel := h.dispatcher.Subscribe()
	defer cancel()

	// Reader goroutine only surfaces disconnects.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case alert := <-ch:
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(alert); err != nil {
				slog.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}
