package notify

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"codecollab/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Notification is the envelope on the companion connection. Delivery is
// fire-and-forget; reconnect and backoff are the client's concern.
type Notification struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// Notifier fans user-facing notifications out over a parallel WebSocket
// keyed by user id rather than session id.
type Notifier struct {
	mu    sync.RWMutex
	conns map[string]map[*conn]bool
}

type conn struct {
	ws   *websocket.Conn
	send chan []byte
}

func New() *Notifier {
	return &Notifier{conns: make(map[string]map[*conn]bool)}
}

// Serve registers the connection for userID and pumps it until it drops.
func (n *Notifier) Serve(ws *websocket.Conn, userID string) {
	c := &conn{ws: ws, send: make(chan []byte, 64)}

	n.mu.Lock()
	if n.conns[userID] == nil {
		n.conns[userID] = make(map[*conn]bool)
	}
	n.conns[userID][c] = true
	n.mu.Unlock()

	go c.writePump()
	go n.readPump(c, userID)
}

// Push delivers a notification to every open connection of the user.
// Users without a connection simply miss it.
func (n *Notifier) Push(userID, notifType string, payload interface{}) {
	data, err := json.Marshal(Notification{
		Type:      notifType,
		Payload:   payload,
		Timestamp: time.Now(),
	})
	if err != nil {
		logger.Error("Error encoding notification %s: %v", notifType, err)
		return
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	for c := range n.conns[userID] {
		select {
		case c.send <- data:
		default:
			// Slow consumer; this is fire-and-forget.
		}
	}
}

func (n *Notifier) remove(c *conn, userID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if set, ok := n.conns[userID]; ok {
		if set[c] {
			delete(set, c)
			close(c.send)
		}
		if len(set) == 0 {
			delete(n.conns, userID)
		}
	}
}

// readPump discards inbound frames; the channel is server-to-client only.
// It exists to service pings and detect the close.
func (n *Notifier) readPump(c *conn, userID string) {
	defer func() {
		n.remove(c, userID)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(512)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
