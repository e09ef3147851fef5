package websocket

import (
	"encoding/json"

	"codecollab/internal/models"
)

// Signaling is pure forwarding: SDP and ICE payloads are relayed without
// inspection, and the server does not check that offers and answers pair
// up. The only server-side state is the per-room in-call set.

func (h *Hub) handleWebRTCOffer(c *Client, data json.RawMessage) {
	var p models.WebRTCSignalPayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.sendError(c, "invalid webrtc-offer payload")
		return
	}

	p.SessionID = c.sessionFor(p.SessionID)
	p.FromUserID = c.userFor(p.FromUserID)

	h.markInCall(p.SessionID, p.FromUserID)

	if p.ToUserID != "" {
		h.emitUser(p.SessionID, p.ToUserID, models.EventWebRTCOffer, p)
	} else {
		// Mesh-call bootstrap: every other room member gets the offer.
		h.emitRoom(p.SessionID, models.EventWebRTCOffer, p, c)
	}

	h.emitRoom(p.SessionID, models.EventWebRTCCallState, models.CallStatePayload{
		UserID:   p.FromUserID,
		IsInCall: true,
	}, nil)
}

func (h *Hub) handleWebRTCAnswer(c *Client, data json.RawMessage) {
	var p models.WebRTCSignalPayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.sendError(c, "invalid webrtc-answer payload")
		return
	}
	if p.ToUserID == "" {
		h.sendError(c, "webrtc-answer requires toUserId")
		return
	}

	p.SessionID = c.sessionFor(p.SessionID)
	p.FromUserID = c.userFor(p.FromUserID)
	h.emitUser(p.SessionID, p.ToUserID, models.EventWebRTCAnswer, p)
}

func (h *Hub) handleWebRTCIceCandidate(c *Client, data json.RawMessage) {
	var p models.WebRTCSignalPayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.sendError(c, "invalid webrtc-ice-candidate payload")
		return
	}
	if p.ToUserID == "" {
		h.sendError(c, "webrtc-ice-candidate requires toUserId")
		return
	}

	p.SessionID = c.sessionFor(p.SessionID)
	p.FromUserID = c.userFor(p.FromUserID)
	h.emitUser(p.SessionID, p.ToUserID, models.EventWebRTCIceCandidate, p)
}

// handleWebRTCEndCall is idempotent: ending an already-ended call does
// nothing.
func (h *Hub) handleWebRTCEndCall(c *Client, data json.RawMessage) {
	var p models.EndCallPayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.sendError(c, "invalid webrtc-end-call payload")
		return
	}

	sessionID := c.sessionFor(p.SessionID)
	userID := c.userFor(p.UserID)

	if !h.clearInCall(sessionID, userID) {
		return
	}

	h.emitRoom(sessionID, models.EventWebRTCCallEnded, models.CallEndedPayload{UserID: userID}, nil)
	h.emitRoom(sessionID, models.EventWebRTCCallState, models.CallStatePayload{UserID: userID, IsInCall: false}, nil)
}
