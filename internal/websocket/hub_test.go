package websocket_test

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codecollab/internal/handlers"
	"codecollab/internal/models"
	"codecollab/internal/notify"
	"codecollab/internal/services"
	"codecollab/internal/store"
	ws "codecollab/internal/websocket"
)

type testEnv struct {
	srv   *httptest.Server
	store *store.MemoryStore
	hub   *ws.Hub
}

func newRealtimeServer(t *testing.T) *testEnv {
	st := store.NewMemoryStore(time.Hour)
	svc := services.NewSessionService(st, 100, 500, services.EmptySessionRetain)
	notifier := notify.New()

	hub := ws.NewHub(svc, nil, notifier)
	go hub.Run()

	h := handlers.NewWebSocketHandlers(hub, notifier, "*")
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))

	t.Cleanup(func() {
		srv.Close()
		hub.Shutdown()
		st.Close()
	})
	return &testEnv{srv: srv, store: st, hub: hub}
}

func dialWS(t *testing.T, env *testEnv, userID, userName string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/?user_id=" + userID + "&user_name=" + userName
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err, "dial failed for %s", userID)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, event string, payload interface{}) {
	frame, err := models.NewEnvelope(event, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

// readEvent reads the next frame and requires it to be the wanted event,
// decoding its data into out when out is non-nil.
func readEvent(t *testing.T, conn *websocket.Conn, want string, out interface{}) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err, "expected a %s event", want)

	var env models.Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	require.Equal(t, want, env.Event)
	if out != nil {
		require.NoError(t, json.Unmarshal(env.Data, out))
	}
}

// readRawEvent is readEvent for assertions on the wire bytes themselves.
func readRawEvent(t *testing.T, conn *websocket.Conn, want string) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err, "expected a %s event", want)

	var env models.Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	require.Equal(t, want, env.Event)
	return env.Data
}

// expectSilence asserts that no frame arrives. The read deadline poisons
// the connection, so this must be the last read on it.
func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	require.Error(t, err, "expected no event")
	netErr, ok := err.(net.Error)
	require.True(t, ok && netErr.Timeout(), "expected a read timeout, got: %v", err)
}

func createSession(t *testing.T, conn *websocket.Conn, name, userID, userName string, maxUsers int) *models.Session {
	sendEvent(t, conn, models.EventCreateSession, models.CreateSessionPayload{
		Name:     name,
		UserID:   userID,
		UserName: userName,
		MaxUsers: maxUsers,
	})
	var session models.Session
	readEvent(t, conn, models.EventSessionCreated, &session)
	return &session
}

func joinSession(t *testing.T, conn *websocket.Conn, sessionID, userID, userName string) *models.SessionJoinedPayload {
	sendEvent(t, conn, models.EventJoinSession, models.JoinSessionPayload{
		SessionID: sessionID,
		UserID:    userID,
		UserName:  userName,
	})
	var joined models.SessionJoinedPayload
	readEvent(t, conn, models.EventSessionJoined, &joined)
	return &joined
}

func TestCreateJoinAndCodeBroadcast(t *testing.T) {
	env := newRealtimeServer(t)

	alice := dialWS(t, env, "alice", "Alice")
	session := createSession(t, alice, "Demo", "alice", "Alice", 2)
	require.NotEmpty(t, session.ID)
	require.Len(t, session.Users, 1)
	assert.Equal(t, models.PermissionAdmin, session.Users[0].Permission)
	assert.NotEmpty(t, session.Users[0].Color)

	bob := dialWS(t, env, "bob", "Bob")
	joined := joinSession(t, bob, session.ID, "bob", "Bob")
	assert.Equal(t, models.PermissionEdit, joined.User.Permission)
	assert.Len(t, joined.Session.Users, 2)
	assert.Empty(t, joined.Messages)

	var joinedUser models.User
	readEvent(t, alice, models.EventUserJoined, &joinedUser)
	assert.Equal(t, "bob", joinedUser.ID)

	sendEvent(t, bob, models.EventUpdateCode, models.UpdateCodePayload{Code: "x = 1"})

	var code models.CodeUpdatedPayload
	readEvent(t, alice, models.EventCodeUpdated, &code)
	assert.Equal(t, "x = 1", code.Code)
	assert.Equal(t, "bob", code.UserID)

	// The sender never receives their own code-updated echo.
	expectSilence(t, bob)
}

func TestJoinFullSession(t *testing.T) {
	env := newRealtimeServer(t)

	alice := dialWS(t, env, "alice", "Alice")
	session := createSession(t, alice, "Tiny Room", "alice", "Alice", 2)

	bob := dialWS(t, env, "bob", "Bob")
	joinSession(t, bob, session.ID, "bob", "Bob")

	carol := dialWS(t, env, "carol", "Carol")
	sendEvent(t, carol, models.EventJoinSession, models.JoinSessionPayload{
		SessionID: session.ID,
		UserID:    "carol",
		UserName:  "Carol",
	})

	var errPayload models.ErrorPayload
	readEvent(t, carol, models.EventError, &errPayload)
	assert.Contains(t, errPayload.Message, "full")
}

func TestPermissionDowngradeBlocksEdits(t *testing.T) {
	env := newRealtimeServer(t)

	alice := dialWS(t, env, "alice", "Alice")
	session := createSession(t, alice, "Review", "alice", "Alice", 0)

	bob := dialWS(t, env, "bob", "Bob")
	joinSession(t, bob, session.ID, "bob", "Bob")
	readEvent(t, alice, models.EventUserJoined, nil)

	sendEvent(t, alice, models.EventChangePermission, models.ChangePermissionPayload{
		UserID:     "bob",
		Permission: models.PermissionView,
	})

	// permission-changed reaches the whole room, acting admin included.
	var changed models.PermissionChangedPayload
	readEvent(t, alice, models.EventPermissionChanged, &changed)
	assert.Equal(t, "bob", changed.UserID)
	assert.Equal(t, models.PermissionView, changed.Permission)
	readEvent(t, bob, models.EventPermissionChanged, nil)

	sendEvent(t, bob, models.EventUpdateCode, models.UpdateCodePayload{Code: "rm -rf"})

	var errPayload models.ErrorPayload
	readEvent(t, bob, models.EventError, &errPayload)
	assert.Contains(t, errPayload.Message, "permission denied")

	stored, err := env.store.GetSession(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Code, "the rejected edit must not reach the snapshot")

	expectSilence(t, alice)
}

func TestChatIncludesSenderAndVoiceRules(t *testing.T) {
	env := newRealtimeServer(t)

	alice := dialWS(t, env, "alice", "Alice")
	session := createSession(t, alice, "Standup", "alice", "Alice", 0)

	bob := dialWS(t, env, "bob", "Bob")
	joinSession(t, bob, session.ID, "bob", "Bob")
	readEvent(t, alice, models.EventUserJoined, nil)

	sendEvent(t, bob, models.EventChatMessage, models.ChatMessagePayload{Message: "hello"})

	var fromBob, fromAlice models.ChatMessage
	readEvent(t, bob, models.EventChatMessage, &fromBob)
	readEvent(t, alice, models.EventChatMessage, &fromAlice)
	assert.Equal(t, "hello", fromBob.Message)
	assert.Equal(t, fromBob.ID, fromAlice.ID, "both sides see the same persisted message")
	assert.Equal(t, "Bob", fromAlice.UserName)
	assert.NotEmpty(t, fromBob.ID)

	// Voice message with a payload: the data URL is relayed verbatim.
	audioURL := models.VoiceDataURL("audio/webm", []byte{0x1a, 0x45, 0xdf})
	sendEvent(t, bob, models.EventChatMessage, models.ChatMessagePayload{
		Type:          models.MessageTypeVoice,
		AudioURL:      audioURL,
		AudioDuration: 2.5,
	})
	var voice models.ChatMessage
	readEvent(t, bob, models.EventChatMessage, &voice)
	assert.Equal(t, audioURL, voice.AudioURL)
	assert.Equal(t, 2.5, voice.AudioDuration)
	readEvent(t, alice, models.EventChatMessage, nil)

	// Voice message without a payload: audioUrl is absent from the frame.
	sendEvent(t, bob, models.EventChatMessage, models.ChatMessagePayload{Type: models.MessageTypeVoice})
	raw := readRawEvent(t, bob, models.EventChatMessage)
	assert.NotContains(t, string(raw), "audioUrl")
	readEvent(t, alice, models.EventChatMessage, nil)
}

func TestSignalingTargeting(t *testing.T) {
	env := newRealtimeServer(t)

	alice := dialWS(t, env, "alice", "Alice")
	session := createSession(t, alice, "Call", "alice", "Alice", 0)

	bob := dialWS(t, env, "bob", "Bob")
	joinSession(t, bob, session.ID, "bob", "Bob")
	readEvent(t, alice, models.EventUserJoined, nil)

	carol := dialWS(t, env, "carol", "Carol")
	joinSession(t, carol, session.ID, "carol", "Carol")
	readEvent(t, alice, models.EventUserJoined, nil)
	readEvent(t, bob, models.EventUserJoined, nil)

	// An untargeted offer bootstraps a mesh call: everyone else gets it.
	sendEvent(t, bob, models.EventWebRTCOffer, models.WebRTCSignalPayload{
		Offer: json.RawMessage(`{"type":"offer","sdp":"v=0"}`),
	})

	var offer models.WebRTCSignalPayload
	readEvent(t, alice, models.EventWebRTCOffer, &offer)
	assert.Equal(t, "bob", offer.FromUserID)
	assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(offer.Offer))
	readEvent(t, carol, models.EventWebRTCOffer, nil)

	// call-state goes to the whole room, caller included.
	var state models.CallStatePayload
	readEvent(t, bob, models.EventWebRTCCallState, &state)
	assert.Equal(t, "bob", state.UserID)
	assert.True(t, state.IsInCall)
	readEvent(t, alice, models.EventWebRTCCallState, nil)
	readEvent(t, carol, models.EventWebRTCCallState, nil)

	// Answers and candidates reach only the addressed peer.
	sendEvent(t, alice, models.EventWebRTCAnswer, models.WebRTCSignalPayload{
		ToUserID: "bob",
		Answer:   json.RawMessage(`{"type":"answer","sdp":"v=0"}`),
	})
	var answer models.WebRTCSignalPayload
	readEvent(t, bob, models.EventWebRTCAnswer, &answer)
	assert.Equal(t, "alice", answer.FromUserID)

	sendEvent(t, alice, models.EventWebRTCIceCandidate, models.WebRTCSignalPayload{
		ToUserID:  "bob",
		Candidate: json.RawMessage(`{"candidate":"candidate:0"}`),
	})
	readEvent(t, bob, models.EventWebRTCIceCandidate, nil)

	// Hanging up tears down the in-call flag for the whole room.
	sendEvent(t, bob, models.EventWebRTCEndCall, models.EndCallPayload{})
	var ended models.CallEndedPayload
	readEvent(t, bob, models.EventWebRTCCallEnded, &ended)
	assert.Equal(t, "bob", ended.UserID)
	readEvent(t, bob, models.EventWebRTCCallState, &state)
	assert.False(t, state.IsInCall)

	readEvent(t, alice, models.EventWebRTCCallEnded, nil)
	readEvent(t, alice, models.EventWebRTCCallState, nil)
	readEvent(t, carol, models.EventWebRTCCallEnded, nil)
	readEvent(t, carol, models.EventWebRTCCallState, nil)

	// Carol was never addressed directly.
	expectSilence(t, carol)
}

func TestAnswerRequiresTarget(t *testing.T) {
	env := newRealtimeServer(t)

	alice := dialWS(t, env, "alice", "Alice")
	createSession(t, alice, "Call", "alice", "Alice", 0)

	sendEvent(t, alice, models.EventWebRTCAnswer, models.WebRTCSignalPayload{
		Answer: json.RawMessage(`{"type":"answer"}`),
	})

	var errPayload models.ErrorPayload
	readEvent(t, alice, models.EventError, &errPayload)
	assert.Contains(t, errPayload.Message, "toUserId")
}

func TestDisconnectAndReconnectReplay(t *testing.T) {
	env := newRealtimeServer(t)

	alice := dialWS(t, env, "alice", "Alice")
	session := createSession(t, alice, "Durable", "alice", "Alice", 0)

	bob := dialWS(t, env, "bob", "Bob")
	joinSession(t, bob, session.ID, "bob", "Bob")
	readEvent(t, alice, models.EventUserJoined, nil)

	sendEvent(t, bob, models.EventChatMessage, models.ChatMessagePayload{Message: "first"})
	sendEvent(t, bob, models.EventChatMessage, models.ChatMessagePayload{Message: "second"})
	readEvent(t, bob, models.EventChatMessage, nil)
	readEvent(t, bob, models.EventChatMessage, nil)
	readEvent(t, alice, models.EventChatMessage, nil)
	readEvent(t, alice, models.EventChatMessage, nil)

	// An abrupt close counts as a leave: the room hears user-left and the
	// registry marks the user inactive without dropping the record.
	bob.Close()
	var left models.UserLeftPayload
	readEvent(t, alice, models.EventUserLeft, &left)
	assert.Equal(t, "bob", left.UserID)

	bob2 := dialWS(t, env, "bob", "Bob")
	joined := joinSession(t, bob2, session.ID, "bob", "Bob")
	assert.True(t, joined.User.IsActive, "rejoin reactivates the record")
	assert.Len(t, joined.Session.Users, 2, "no duplicate record after reconnect")
	require.Len(t, joined.Messages, 2, "chat history replays on rejoin")
	assert.Equal(t, "first", joined.Messages[0].Message)
	assert.Equal(t, "second", joined.Messages[1].Message)

	readEvent(t, alice, models.EventUserJoined, nil)
}

func TestYjsSyncRoundTrip(t *testing.T) {
	env := newRealtimeServer(t)

	alice := dialWS(t, env, "alice", "Alice")
	session := createSession(t, alice, "Doc", "alice", "Alice", 0)

	sendEvent(t, alice, models.EventYjsUpdate, models.YjsUpdatePayload{Update: []byte{1, 2, 3}})
	sendEvent(t, alice, models.EventYjsUpdate, models.YjsUpdatePayload{Update: []byte{4, 5}})

	// Round-trip through the writer's own sync to be sure both updates
	// have been appended before anyone else asks for them.
	sendEvent(t, alice, models.EventYjsSyncRequest, models.YjsSyncRequestPayload{})
	var warm models.YjsSyncResponsePayload
	readEvent(t, alice, models.EventYjsSyncResponse, &warm)
	require.Len(t, warm.Updates, 2)

	bob := dialWS(t, env, "bob", "Bob")
	joinSession(t, bob, session.ID, "bob", "Bob")
	readEvent(t, alice, models.EventUserJoined, nil)

	// A cold-started client replays the full update log, oldest first.
	sendEvent(t, bob, models.EventYjsSyncRequest, models.YjsSyncRequestPayload{})
	var sync models.YjsSyncResponsePayload
	readEvent(t, bob, models.EventYjsSyncResponse, &sync)
	require.Len(t, sync.Updates, 2)
	assert.Equal(t, []byte{1, 2, 3}, sync.Updates[0])
	assert.Equal(t, []byte{4, 5}, sync.Updates[1])

	// Empty updates are dropped, not relayed.
	sendEvent(t, alice, models.EventYjsUpdate, models.YjsUpdatePayload{})

	sendEvent(t, alice, models.EventYjsUpdate, models.YjsUpdatePayload{Update: []byte{6}})
	var live models.YjsUpdatePayload
	readEvent(t, bob, models.EventYjsUpdate, &live)
	assert.Equal(t, []byte{6}, live.Update)
	assert.Equal(t, "alice", live.UserID)

	expectSilence(t, alice)
}

func TestAwarenessRelay(t *testing.T) {
	env := newRealtimeServer(t)

	alice := dialWS(t, env, "alice", "Alice")
	session := createSession(t, alice, "Doc", "alice", "Alice", 0)

	bob := dialWS(t, env, "bob", "Bob")
	joinSession(t, bob, session.ID, "bob", "Bob")
	readEvent(t, alice, models.EventUserJoined, nil)

	sendEvent(t, bob, models.EventYjsAwareness, models.YjsAwarenessPayload{Awareness: []byte{9, 9}})

	var awareness models.YjsAwarenessPayload
	readEvent(t, alice, models.EventYjsAwareness, &awareness)
	assert.Equal(t, []byte{9, 9}, awareness.Awareness)
	assert.Equal(t, "bob", awareness.UserID)

	// Awareness is presence, not document state: nothing is stored.
	updates, err := env.store.GetDocUpdates(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Empty(t, updates)
}

func TestCursorRelayUsesConnectionIdentity(t *testing.T) {
	env := newRealtimeServer(t)

	alice := dialWS(t, env, "alice", "Alice")
	session := createSession(t, alice, "Doc", "alice", "Alice", 0)

	bob := dialWS(t, env, "bob", "Bob")
	joinSession(t, bob, session.ID, "bob", "Bob")
	readEvent(t, alice, models.EventUserJoined, nil)

	// A spoofed userId in the payload is overwritten by the connection's.
	sendEvent(t, bob, models.EventUpdateCursor, models.CursorPosition{UserID: "alice", Line: 3, Column: 7})

	var cursor models.CursorPosition
	readEvent(t, alice, models.EventCursorUpdated, &cursor)
	assert.Equal(t, "bob", cursor.UserID)
	assert.Equal(t, 3, cursor.Line)
	assert.Equal(t, 7, cursor.Column)
}

func TestEndSessionOwnerGateAndRoomClose(t *testing.T) {
	env := newRealtimeServer(t)

	alice := dialWS(t, env, "alice", "Alice")
	session := createSession(t, alice, "Ephemeral", "alice", "Alice", 0)

	bob := dialWS(t, env, "bob", "Bob")
	joinSession(t, bob, session.ID, "bob", "Bob")
	readEvent(t, alice, models.EventUserJoined, nil)

	sendEvent(t, bob, models.EventEndSession, models.EndSessionPayload{})
	var errPayload models.ErrorPayload
	readEvent(t, bob, models.EventError, &errPayload)
	assert.Contains(t, errPayload.Message, "permission denied")

	sendEvent(t, alice, models.EventEndSession, models.EndSessionPayload{})
	var ended models.SessionEndedPayload
	readEvent(t, alice, models.EventSessionEnded, &ended)
	assert.Equal(t, session.ID, ended.SessionID)
	readEvent(t, bob, models.EventSessionEnded, nil)

	_, err := env.store.GetSession(context.Background(), session.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSlowClientDropSurvivesPendingEvents(t *testing.T) {
	env := newRealtimeServer(t)

	alice := dialWS(t, env, "alice", "Alice")
	session := createSession(t, alice, "Flood", "alice", "Alice", 0)

	bob := dialWS(t, env, "bob", "Bob")
	joinSession(t, bob, session.ID, "bob", "Bob")
	readEvent(t, alice, models.EventUserJoined, nil)

	// Bob stops reading. Large code updates exclude the sender, so only
	// his send buffer fills until the hub drops him and the room hears
	// user-left.
	filler := strings.Repeat("x", 120*1024)
	for i := 0; i < 350; i++ {
		sendEvent(t, alice, models.EventUpdateCode, models.UpdateCodePayload{Code: filler})
	}

	var left models.UserLeftPayload
	readEvent(t, alice, models.EventUserLeft, &left)
	assert.Equal(t, "bob", left.UserID)

	// Frames from the dropped connection can still be in flight; replies
	// to it (here: session-not-found errors) must be discarded, never
	// sent down the closed channel.
	for i := 0; i < 3; i++ {
		frame, err := models.NewEnvelope(models.EventUpdateCode, models.UpdateCodePayload{Code: "tail"})
		require.NoError(t, err)
		// The server may already have torn the connection down.
		_ = bob.WriteMessage(websocket.TextMessage, frame)
	}

	// The hub must still be serving the rest of the room.
	sendEvent(t, alice, models.EventChatMessage, models.ChatMessagePayload{Message: "still here"})
	var msg models.ChatMessage
	readEvent(t, alice, models.EventChatMessage, &msg)
	assert.Equal(t, "still here", msg.Message)
}

func TestShutdownClosesClientConnections(t *testing.T) {
	env := newRealtimeServer(t)

	alice := dialWS(t, env, "alice", "Alice")
	createSession(t, alice, "Ephemeral", "alice", "Alice", 0)
	bob := dialWS(t, env, "bob", "Bob")

	before := runtime.NumGoroutine()
	env.hub.Shutdown()

	for _, conn := range []*websocket.Conn{alice, bob} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				netErr, ok := err.(net.Error)
				require.False(t, ok && netErr.Timeout(), "connection should be closed, not silent")
				break
			}
		}
	}

	// All four pump goroutines must wind down; none may stay parked on
	// the hub's channels after the loop has returned.
	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before-4
	}, 2*time.Second, 50*time.Millisecond)
}

func TestUnknownAndMalformedEvents(t *testing.T) {
	env := newRealtimeServer(t)

	alice := dialWS(t, env, "alice", "Alice")

	sendEvent(t, alice, "teleport", nil)
	var errPayload models.ErrorPayload
	readEvent(t, alice, models.EventError, &errPayload)
	assert.Contains(t, errPayload.Message, "unknown event")

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("not json")))
	readEvent(t, alice, models.EventError, &errPayload)
	assert.Equal(t, "malformed frame", errPayload.Message)
}
