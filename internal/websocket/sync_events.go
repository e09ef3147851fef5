package websocket

import (
	"context"
	"encoding/json"

	"codecollab/internal/models"
	"codecollab/pkg/logger"
)

// The sync bridge is store-and-forward: CRDT updates and awareness bytes
// are relayed verbatim, never parsed or merged. Merging happens on each
// client; the server only keeps an update log for cold-start sync.

func (h *Hub) handleYjsUpdate(c *Client, data json.RawMessage) {
	var p models.YjsUpdatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.sendError(c, "invalid yjs-update payload")
		return
	}
	if len(p.Update) == 0 {
		return
	}

	p.SessionID = c.sessionFor(p.SessionID)
	p.UserID = c.userFor(p.UserID)

	// Persistence is best-effort: a store outage degrades cold-start sync
	// but must not stall the live relay.
	if err := h.service.AppendDocUpdate(context.Background(), p.SessionID, p.Update); err != nil {
		logger.Error("Error persisting doc update for %s: %v", p.SessionID, err)
	}

	h.emitRoom(p.SessionID, models.EventYjsUpdate, p, c)
}

// handleYjsSyncRequest answers only the requester. An empty update list
// is explicit: it tells the client to seed the document from the
// session's code snapshot.
func (h *Hub) handleYjsSyncRequest(c *Client, data json.RawMessage) {
	var p models.YjsSyncRequestPayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.sendError(c, "invalid yjs-sync-request payload")
		return
	}

	sessionID := c.sessionFor(p.SessionID)
	updates, err := h.service.DocUpdates(context.Background(), sessionID)
	if err != nil {
		logger.Error("Error loading doc updates for %s: %v", sessionID, err)
		updates = nil
	}
	if updates == nil {
		updates = [][]byte{}
	}

	h.emitClient(c, models.EventYjsSyncResponse, models.YjsSyncResponsePayload{
		SessionID: sessionID,
		Updates:   updates,
	})
}

func (h *Hub) handleYjsAwareness(c *Client, data json.RawMessage) {
	var p models.YjsAwarenessPayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.sendError(c, "invalid yjs-awareness payload")
		return
	}

	p.SessionID = c.sessionFor(p.SessionID)
	p.UserID = c.userFor(p.UserID)
	h.emitRoom(p.SessionID, models.EventYjsAwareness, p, c)
}
