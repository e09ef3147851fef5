package websocket

import (
	"context"
	"encoding/json"

	"codecollab/internal/models"
	"codecollab/internal/services"
)

func (h *Hub) handleCreateSession(c *Client, data json.RawMessage) {
	var p models.CreateSessionPayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.sendError(c, "invalid create-session payload")
		return
	}

	ownerID := p.UserID
	if ownerID == "" {
		ownerID = p.OwnerID
	}
	if ownerID == "" {
		h.sendError(c, "userId is required")
		return
	}

	session, err := h.service.CreateSession(context.Background(), services.CreateSessionParams{
		Name:      p.Name,
		Code:      p.Code,
		Language:  p.Language,
		IsPublic:  p.IsPublic,
		MaxUsers:  p.MaxUsers,
		OwnerID:   ownerID,
		OwnerName: p.UserName,
	})
	if err != nil {
		h.sendServiceError(c, err)
		return
	}

	h.attachToRoom(c, session.ID, ownerID, p.UserName)
	h.emitClient(c, models.EventSessionCreated, session)
}

func (h *Hub) handleJoinSession(c *Client, data json.RawMessage) {
	var p models.JoinSessionPayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.sendError(c, "invalid join-session payload")
		return
	}
	if p.UserID == "" {
		h.sendError(c, "userId is required")
		return
	}

	session, user, messages, err := h.service.JoinSession(context.Background(), p.SessionID, p.UserID, p.UserName, p.Permission)
	if err != nil {
		h.sendServiceError(c, err)
		return
	}

	h.attachToRoom(c, session.ID, user.ID, user.Name)

	h.emitClient(c, models.EventSessionJoined, models.SessionJoinedPayload{
		Session:  session,
		User:     user,
		Messages: messages,
	})
	h.emitRoom(session.ID, models.EventUserJoined, user, c)

	if h.notifier != nil && user.ID != session.OwnerID {
		h.notifier.Push(session.OwnerID, "session-user-joined", map[string]string{
			"sessionId":   session.ID,
			"sessionName": session.Name,
			"userId":      user.ID,
			"userName":    user.Name,
		})
	}
}

func (h *Hub) handleLeaveSession(c *Client, data json.RawMessage) {
	var p models.LeaveSessionPayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.sendError(c, "invalid leave-session payload")
		return
	}

	if c.sessionID != "" {
		// detachFromRoom marks the user inactive and broadcasts user-left
		// once their last connection is gone.
		h.detachFromRoom(c, true)
		return
	}

	// The connection never attached here (e.g. a stale leave after a
	// reconnect): update the registry directly.
	if p.SessionID == "" || p.UserID == "" {
		return
	}
	if _, err := h.service.LeaveSession(context.Background(), p.SessionID, p.UserID); err != nil {
		h.sendServiceError(c, err)
		return
	}
	h.emitRoom(p.SessionID, models.EventUserLeft, models.UserLeftPayload{UserID: p.UserID}, c)
}

func (h *Hub) handleEndSession(c *Client, data json.RawMessage) {
	var p models.EndSessionPayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.sendError(c, "invalid end-session payload")
		return
	}

	sessionID := c.sessionFor(p.SessionID)
	session, err := h.service.EndSession(context.Background(), sessionID, c.userFor(p.UserID))
	if err != nil {
		h.sendServiceError(c, err)
		return
	}

	h.emitRoom(session.ID, models.EventSessionEnded, models.SessionEndedPayload{SessionID: session.ID}, nil)
	h.closeRoom(session.ID)
}

func (h *Hub) handleUpdateCode(c *Client, data json.RawMessage) {
	var p models.UpdateCodePayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.sendError(c, "invalid update-code payload")
		return
	}

	sessionID := c.sessionFor(p.SessionID)
	userID := c.userFor(p.UserID)

	if _, err := h.service.UpdateCode(context.Background(), sessionID, userID, p.Code); err != nil {
		h.sendServiceError(c, err)
		return
	}

	h.emitRoom(sessionID, models.EventCodeUpdated, models.CodeUpdatedPayload{Code: p.Code, UserID: userID}, c)
}

func (h *Hub) handleUpdateLanguage(c *Client, data json.RawMessage) {
	var p models.UpdateLanguagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.sendError(c, "invalid update-language payload")
		return
	}

	sessionID := c.sessionFor(p.SessionID)
	userID := c.userFor(p.UserID)

	if _, err := h.service.UpdateLanguage(context.Background(), sessionID, userID, p.Language); err != nil {
		h.sendServiceError(c, err)
		return
	}

	h.emitRoom(sessionID, models.EventLanguageUpdated, models.LanguageUpdatedPayload{Language: p.Language, UserID: userID}, c)
}

// Cursor and selection updates are pure relay: never persisted, never
// debounced server-side, forwarded to the rest of the room as they come.
func (h *Hub) handleUpdateCursor(c *Client, data json.RawMessage) {
	var p models.CursorPosition
	if err := json.Unmarshal(data, &p); err != nil {
		h.sendError(c, "invalid update-cursor payload")
		return
	}

	p.SessionID = c.sessionFor(p.SessionID)
	p.UserID = c.userFor(p.UserID)
	h.emitRoom(p.SessionID, models.EventCursorUpdated, p, c)
}

func (h *Hub) handleUpdateSelection(c *Client, data json.RawMessage) {
	var p models.SelectionUpdate
	if err := json.Unmarshal(data, &p); err != nil {
		h.sendError(c, "invalid update-selection payload")
		return
	}

	// A nil Selection is meaningful: it clears the user's selection.
	p.SessionID = c.sessionFor(p.SessionID)
	p.UserID = c.userFor(p.UserID)
	h.emitRoom(p.SessionID, models.EventSelectionUpdated, p, c)
}

func (h *Hub) handleChangePermission(c *Client, data json.RawMessage) {
	var p models.ChangePermissionPayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.sendError(c, "invalid change-permission payload")
		return
	}

	sessionID := c.sessionFor(p.SessionID)
	if _, err := h.service.ChangePermission(context.Background(), sessionID, c.userID, p.UserID, p.Permission); err != nil {
		h.sendServiceError(c, err)
		return
	}

	// Delivered to the whole room including the acting admin.
	h.emitRoom(sessionID, models.EventPermissionChanged, models.PermissionChangedPayload{
		UserID:     p.UserID,
		Permission: p.Permission,
	}, nil)
}
