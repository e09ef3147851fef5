package websocket

import (
	"context"
	"encoding/json"

	"codecollab/internal/models"
)

// handleChatMessage persists the message and fans it out to the whole
// room including the sender: every client renders from the broadcast, so
// ordering is consistent across senders.
func (h *Hub) handleChatMessage(c *Client, data json.RawMessage) {
	var p models.ChatMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.sendError(c, "invalid chat-message payload")
		return
	}

	sessionID := c.sessionFor(p.SessionID)
	userID := c.userFor(p.UserID)

	msg, err := h.service.PostChatMessage(context.Background(), sessionID, userID, p.Message, p.Type, p.AudioURL, p.AudioDuration)
	if err != nil {
		h.sendServiceError(c, err)
		return
	}

	h.emitRoom(sessionID, models.EventChatMessage, msg, nil)
}
