package websocket

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"codecollab/internal/models"
	"codecollab/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second

	// Voice notes arrive base64-encoded inside chat events.
	maxMessageSize = 4 << 20

	sendBufferSize = 256
)

// Client is one realtime connection. userID and sessionID form the
// connection context: set when the connection creates or joins a session,
// cleared on leave, and read by disconnect handling so it never has to
// search room membership.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	userID    string
	userName  string
	sessionID string
}

func NewClient(hub *Hub, conn *websocket.Conn, userID, userName string) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		userID:   userID,
		userName: userName,
	}
}

func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.shutdown:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Error("WebSocket error: %v", err)
			}
			break
		}

		var env models.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			logger.Debug("Dropping malformed frame from %s: %v", c.userID, err)
			c.enqueue(&inboundEvent{client: c, malformed: true})
			continue
		}

		c.enqueue(&inboundEvent{client: c, event: env.Event, data: env.Data})
	}
}

// enqueue hands an event to the hub loop. Only the loop may touch the
// send channel, so even the malformed-frame error goes through it.
func (c *Client) enqueue(ev *inboundEvent) {
	select {
	case c.hub.inbound <- ev:
	case <-c.hub.shutdown:
	}
}

func (c *Client) WritePump() {
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
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Error("Write error: %v", err)
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

func mustEnvelope(event string, data interface{}) []byte {
	frame, err := models.NewEnvelope(event, data)
	if err != nil {
		logger.Error("Error encoding %s envelope: %v", event, err)
		return nil
	}
	return frame
}
