package handlers

import (
	"net/http"

	"github.com/gorilla/websocket"

	"codecollab/internal/notify"
	ws "codecollab/internal/websocket"
	"codecollab/pkg/logger"
)

type WebSocketHandlers struct {
	hub      *ws.Hub
	notifier *notify.Notifier
	upgrader websocket.Upgrader
}

func NewWebSocketHandlers(hub *ws.Hub, notifier *notify.Notifier, allowedOrigin string) *WebSocketHandlers {
	return &WebSocketHandlers{
		hub:      hub,
		notifier: notifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if allowedOrigin == "*" {
					return true
				}
				origin := r.Header.Get("Origin")
				return origin == "" || origin == allowedOrigin
			},
		},
	}
}

// HandleWebSocket opens the realtime connection. Identity comes from
// query parameters and is trusted; create/join payloads refine it later.
func (h *WebSocketHandlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	userName := r.URL.Query().Get("user_name")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Upgrade error: %v", err)
		return
	}

	client := ws.NewClient(h.hub, conn, userID, userName)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}

// HandleNotifications opens the companion notification connection, keyed
// by user id rather than session id.
func (h *WebSocketHandlers) HandleNotifications(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "missing user_id", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Upgrade error: %v", err)
		return
	}

	h.notifier.Serve(conn, userID)
}
