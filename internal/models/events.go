package models

import "encoding/json"

// Client -> server events.
const (
	EventCreateSession    = "create-session"
	EventJoinSession      = "join-session"
	EventLeaveSession     = "leave-session"
	EventEndSession       = "end-session"
	EventUpdateCode       = "update-code"
	EventUpdateLanguage   = "update-language"
	EventUpdateCursor     = "update-cursor"
	EventUpdateSelection  = "update-selection"
	EventChatMessage      = "chat-message"
	EventChangePermission = "change-permission"

	EventYjsUpdate      = "yjs-update"
	EventYjsSyncRequest = "yjs-sync-request"
	EventYjsAwareness   = "yjs-awareness"

	EventWebRTCOffer        = "webrtc-offer"
	EventWebRTCAnswer       = "webrtc-answer"
	EventWebRTCIceCandidate = "webrtc-ice-candidate"
	EventWebRTCEndCall      = "webrtc-end-call"
)

// Server -> client events.
const (
	EventSessionCreated    = "session-created"
	EventSessionJoined     = "session-joined"
	EventSessionEnded      = "session-ended"
	EventUserJoined        = "user-joined"
	EventUserLeft          = "user-left"
	EventCodeUpdated       = "code-updated"
	EventLanguageUpdated   = "language-updated"
	EventCursorUpdated     = "cursor-updated"
	EventSelectionUpdated  = "selection-updated"
	EventPermissionChanged = "permission-changed"
	EventYjsSyncResponse   = "yjs-sync-response"
	EventWebRTCCallEnded   = "webrtc-call-ended"
	EventWebRTCCallState   = "webrtc-call-state"
	EventError             = "error"
)

// Envelope is the wire frame for every event on the realtime connection.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func NewEnvelope(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

type CreateSessionPayload struct {
	Name     string `json:"name"`
	Code     string `json:"code,omitempty"`
	Language string `json:"language,omitempty"`
	IsPublic bool   `json:"isPublic,omitempty"`
	MaxUsers int    `json:"maxUsers,omitempty"`
	OwnerID  string `json:"ownerId,omitempty"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

type JoinSessionPayload struct {
	SessionID  string     `json:"sessionId"`
	UserID     string     `json:"userId"`
	UserName   string     `json:"userName"`
	Permission Permission `json:"permission,omitempty"`
}

type SessionJoinedPayload struct {
	Session  *Session       `json:"session"`
	User     *User          `json:"user"`
	Messages []*ChatMessage `json:"messages"`
}

type LeaveSessionPayload struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

type EndSessionPayload struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

type SessionEndedPayload struct {
	SessionID string `json:"sessionId"`
}

type UserLeftPayload struct {
	UserID string `json:"userId"`
}

type UpdateCodePayload struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	Code      string `json:"code"`
}

type CodeUpdatedPayload struct {
	Code   string `json:"code"`
	UserID string `json:"userId"`
}

type UpdateLanguagePayload struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	Language  string `json:"language"`
}

type LanguageUpdatedPayload struct {
	Language string `json:"language"`
	UserID   string `json:"userId"`
}

type ChatMessagePayload struct {
	SessionID     string      `json:"sessionId"`
	UserID        string      `json:"userId"`
	Message       string      `json:"message"`
	Type          MessageType `json:"type,omitempty"`
	AudioURL      string      `json:"audioUrl,omitempty"`
	AudioDuration float64     `json:"audioDuration,omitempty"`
}

type ChangePermissionPayload struct {
	SessionID  string     `json:"sessionId"`
	UserID     string     `json:"userId"`
	Permission Permission `json:"permission"`
}

type PermissionChangedPayload struct {
	UserID     string     `json:"userId"`
	Permission Permission `json:"permission"`
}

// YjsUpdatePayload carries an opaque CRDT update. The server stores and
// relays it without interpreting the bytes.
type YjsUpdatePayload struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId,omitempty"`
	Update    []byte `json:"update"`
}

type YjsSyncRequestPayload struct {
	SessionID string `json:"sessionId"`
}

// YjsSyncResponsePayload returns the stored update log in arrival order.
// An empty Updates slice tells the requester to seed the document from
// the session's code snapshot.
type YjsSyncResponsePayload struct {
	SessionID string   `json:"sessionId"`
	Updates   [][]byte `json:"updates"`
}

type YjsAwarenessPayload struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId,omitempty"`
	Awareness []byte `json:"awareness"`
}

// WebRTCSignalPayload covers offer, answer and ICE relay. Exactly one of
// Offer, Answer or Candidate is set depending on the event; the server
// never inspects the SDP/ICE contents.
type WebRTCSignalPayload struct {
	SessionID  string          `json:"sessionId"`
	FromUserID string          `json:"fromUserId"`
	ToUserID   string          `json:"toUserId,omitempty"`
	Offer      json.RawMessage `json:"offer,omitempty"`
	Answer     json.RawMessage `json:"answer,omitempty"`
	Candidate  json.RawMessage `json:"candidate,omitempty"`
}

type EndCallPayload struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

type CallEndedPayload struct {
	UserID string `json:"userId"`
}

type CallStatePayload struct {
	UserID   string `json:"userId"`
	IsInCall bool   `json:"isInCall"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
