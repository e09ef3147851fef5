package websocket

import (
	"encoding/json"
	"errors"

	"codecollab/internal/models"
	"codecollab/internal/services"
	"codecollab/pkg/logger"
)

type inboundEvent struct {
	client    *Client
	event     string
	data      json.RawMessage
	malformed bool
}

type eventHandler func(*Client, json.RawMessage)

// buildRoutes is the closed catalogue of inbound events. Anything not in
// this table is answered with an error event to the sender only.
func (h *Hub) buildRoutes() map[string]eventHandler {
	return map[string]eventHandler{
		models.EventCreateSession:    h.handleCreateSession,
		models.EventJoinSession:      h.handleJoinSession,
		models.EventLeaveSession:     h.handleLeaveSession,
		models.EventEndSession:       h.handleEndSession,
		models.EventUpdateCode:       h.handleUpdateCode,
		models.EventUpdateLanguage:   h.handleUpdateLanguage,
		models.EventUpdateCursor:     h.handleUpdateCursor,
		models.EventUpdateSelection:  h.handleUpdateSelection,
		models.EventChatMessage:      h.handleChatMessage,
		models.EventChangePermission: h.handleChangePermission,

		models.EventYjsUpdate:      h.handleYjsUpdate,
		models.EventYjsSyncRequest: h.handleYjsSyncRequest,
		models.EventYjsAwareness:   h.handleYjsAwareness,

		models.EventWebRTCOffer:        h.handleWebRTCOffer,
		models.EventWebRTCAnswer:       h.handleWebRTCAnswer,
		models.EventWebRTCIceCandidate: h.handleWebRTCIceCandidate,
		models.EventWebRTCEndCall:      h.handleWebRTCEndCall,
	}
}

// dispatch runs one event to completion. Handler failures reach only the
// triggering connection; they never take down the loop or its siblings.
func (h *Hub) dispatch(ev *inboundEvent) {
	if ev.malformed {
		h.sendError(ev.client, "malformed frame")
		return
	}

	handler, ok := h.routes[ev.event]
	if !ok {
		h.sendError(ev.client, "unknown event: "+ev.event)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic handling %s: %v", ev.event, r)
			h.sendError(ev.client, "internal error")
		}
	}()

	handler(ev.client, ev.data)
}

func (h *Hub) sendError(c *Client, message string) {
	h.emitClient(c, models.EventError, models.ErrorPayload{Message: message})
}

// sendServiceError maps registry errors onto the error event. Known
// sentinels carry user-presentable messages; anything else (store or
// backend trouble) is logged and reported generically.
func (h *Hub) sendServiceError(c *Client, err error) {
	switch {
	case errors.Is(err, services.ErrSessionNotFound),
		errors.Is(err, services.ErrUserNotFound),
		errors.Is(err, services.ErrSessionFull),
		errors.Is(err, services.ErrPermissionDenied),
		errors.Is(err, services.ErrInvalidSessionName),
		errors.Is(err, services.ErrInvalidPermission):
		h.sendError(c, err.Error())
	default:
		logger.Error("Handler error for user %s: %v", c.userID, err)
		h.sendError(c, "internal error")
	}
}

// sessionFor resolves the authoritative session id for an event: the
// connection context wins over whatever the payload claims.
func (c *Client) sessionFor(payloadID string) string {
	if c.sessionID != "" {
		return c.sessionID
	}
	return payloadID
}

// userFor resolves the authoritative acting user id the same way.
func (c *Client) userFor(payloadID string) string {
	if c.userID != "" {
		return c.userID
	}
	return payloadID
}
