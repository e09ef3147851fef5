package websocket

import (
	"context"
	"sync"

	"codecollab/internal/backplane"
	"codecollab/internal/models"
	"codecollab/internal/notify"
	"codecollab/internal/services"
	"codecollab/pkg/logger"
)

// Hub owns every realtime connection and the room index. All inbound
// events, registrations and remote backplane frames funnel through one
// Run loop, so handlers and registry mutations are serialized per
// process: a session is never mutated by two in-flight handlers at once.
type Hub struct {
	service   *services.SessionService
	backplane backplane.Backplane // nil in single-process mode
	notifier  *notify.Notifier    // nil when notifications are disabled

	clients map[*Client]bool
	rooms   map[string]map[*Client]bool
	inCall  map[string]map[string]bool // sessionID -> userIDs currently in call

	register   chan *Client
	unregister chan *Client
	inbound    chan *inboundEvent
	remote     chan *backplane.Message
	shutdown   chan struct{}
	stopOnce   sync.Once

	routes map[string]eventHandler
}

func NewHub(service *services.SessionService, bp backplane.Backplane, notifier *notify.Notifier) *Hub {
	h := &Hub{
		service:    service,
		backplane:  bp,
		notifier:   notifier,
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
		inCall:     make(map[string]map[string]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan *inboundEvent, sendBufferSize),
		remote:     make(chan *backplane.Message, sendBufferSize),
		shutdown:   make(chan struct{}),
	}
	h.routes = h.buildRoutes()
	return h
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.shutdown:
			for client := range h.clients {
				close(client.send)
			}
			h.clients = make(map[*Client]bool)
			h.rooms = make(map[string]map[*Client]bool)
			return

		case client := <-h.register:
			h.clients[client] = true

		case client := <-h.unregister:
			h.handleDisconnect(client)

		case ev := <-h.inbound:
			h.dispatch(ev)

		case msg := <-h.remote:
			h.deliverRemote(msg)
		}
	}
}

// Register hands a new connection to the loop. Registrations racing a
// shutdown are discarded; their pumps exit with the rest.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.shutdown:
	}
}

func (h *Hub) Shutdown() {
	h.stopOnce.Do(func() { close(h.shutdown) })
}

// HandleRemote enqueues a frame published by a sibling process. Called
// from the backplane subscriber goroutine.
func (h *Hub) HandleRemote(msg *backplane.Message) {
	select {
	case h.remote <- msg:
	default:
		logger.Error("Remote frame buffer full, dropping frame for session %s", msg.SessionID)
	}
}

// handleDisconnect covers both explicit closes and ping timeouts: the
// user is marked inactive and the room notified, exactly as if they had
// sent leave-session. History and permission records are untouched.
func (h *Hub) handleDisconnect(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	h.detachFromRoom(c, true)
	close(c.send)
}

// attachToRoom binds the connection context and adds the connection to
// the room. A connection already attached elsewhere leaves there first.
func (h *Hub) attachToRoom(c *Client, sessionID, userID, userName string) {
	if c.sessionID != "" && c.sessionID != sessionID {
		h.detachFromRoom(c, true)
	}

	c.userID = userID
	if userName != "" {
		c.userName = userName
	}
	c.sessionID = sessionID

	room := h.rooms[sessionID]
	if room == nil {
		room = make(map[*Client]bool)
		h.rooms[sessionID] = room
	}
	room[c] = true
}

// detachFromRoom removes the connection from its room and clears the
// connection context. When markLeave is set and this was the user's last
// connection in the room, the registry marks them inactive and the room
// is notified; any active call membership is torn down either way.
func (h *Hub) detachFromRoom(c *Client, markLeave bool) {
	sessionID := c.sessionID
	if sessionID == "" {
		return
	}
	c.sessionID = ""

	if room, ok := h.rooms[sessionID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, sessionID)
		}
	}

	if h.userInRoom(sessionID, c.userID) {
		// Another connection (tab) of the same user remains.
		return
	}

	if h.clearInCall(sessionID, c.userID) {
		h.emitRoom(sessionID, models.EventWebRTCCallEnded, models.CallEndedPayload{UserID: c.userID}, nil)
		h.emitRoom(sessionID, models.EventWebRTCCallState, models.CallStatePayload{UserID: c.userID, IsInCall: false}, nil)
	}

	if markLeave {
		if _, err := h.service.LeaveSession(context.Background(), sessionID, c.userID); err != nil {
			logger.Error("Error marking %s inactive in %s: %v", c.userID, sessionID, err)
		}
		h.emitRoom(sessionID, models.EventUserLeft, models.UserLeftPayload{UserID: c.userID}, nil)
	}
}

// closeRoom detaches every connection after an owner ended the session.
func (h *Hub) closeRoom(sessionID string) {
	room := h.rooms[sessionID]
	for c := range room {
		c.sessionID = ""
	}
	delete(h.rooms, sessionID)
	delete(h.inCall, sessionID)
}

func (h *Hub) userInRoom(sessionID, userID string) bool {
	for c := range h.rooms[sessionID] {
		if c.userID == userID {
			return true
		}
	}
	return false
}

// markInCall adds the user to the room's in-call set, reporting whether
// the set changed.
func (h *Hub) markInCall(sessionID, userID string) bool {
	set := h.inCall[sessionID]
	if set == nil {
		set = make(map[string]bool)
		h.inCall[sessionID] = set
	}
	if set[userID] {
		return false
	}
	set[userID] = true
	return true
}

// clearInCall is idempotent: clearing a user who is not in a call is a
// no-op and reports false.
func (h *Hub) clearInCall(sessionID, userID string) bool {
	set, ok := h.inCall[sessionID]
	if !ok || !set[userID] {
		return false
	}
	delete(set, userID)
	if len(set) == 0 {
		delete(h.inCall, sessionID)
	}
	return true
}

// sendFrame queues a frame for one connection. A full buffer means the
// client stopped draining; it is dropped to protect the loop. Frames for
// a client already dropped are discarded: its send channel is closed,
// and events it enqueued before the drop may still be in flight.
func (h *Hub) sendFrame(c *Client, frame []byte) {
	if frame == nil {
		return
	}
	if !h.clients[c] {
		return
	}
	select {
	case c.send <- frame:
	default:
		logger.Error("Send buffer full for user %s, dropping connection", c.userID)
		h.dropClient(c)
	}
}

func (h *Hub) dropClient(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	h.detachFromRoom(c, true)
	close(c.send)
}

func (h *Hub) emitClient(c *Client, event string, data interface{}) {
	h.sendFrame(c, mustEnvelope(event, data))
}

// emitRoom broadcasts to every connection in the room except exclude, and
// mirrors the frame to sibling processes. Pass a nil exclude to include
// the sender (chat-message, permission-changed, call-state).
func (h *Hub) emitRoom(sessionID, event string, data interface{}, exclude *Client) {
	frame := mustEnvelope(event, data)
	if frame == nil {
		return
	}

	for c := range h.rooms[sessionID] {
		if c == exclude {
			continue
		}
		h.sendFrame(c, frame)
	}

	excludeUserID := ""
	if exclude != nil {
		excludeUserID = exclude.userID
	}
	h.publish(&backplane.Message{SessionID: sessionID, ExcludeUserID: excludeUserID, Frame: frame})
}

// emitUser delivers to every connection of one user within the room.
func (h *Hub) emitUser(sessionID, userID, event string, data interface{}) {
	frame := mustEnvelope(event, data)
	if frame == nil {
		return
	}

	for c := range h.rooms[sessionID] {
		if c.userID == userID {
			h.sendFrame(c, frame)
		}
	}

	h.publish(&backplane.Message{SessionID: sessionID, TargetUserID: userID, Frame: frame})
}

func (h *Hub) publish(msg *backplane.Message) {
	if h.backplane == nil {
		return
	}
	if err := h.backplane.Publish(context.Background(), msg); err != nil {
		// Soft failure: local delivery already happened.
		logger.Error("Error publishing to backplane: %v", err)
	}
}

func (h *Hub) deliverRemote(msg *backplane.Message) {
	for c := range h.rooms[msg.SessionID] {
		if msg.TargetUserID != "" && c.userID != msg.TargetUserID {
			continue
		}
		if msg.ExcludeUserID != "" && c.userID == msg.ExcludeUserID {
			continue
		}
		h.sendFrame(c, msg.Frame)
	}
}
