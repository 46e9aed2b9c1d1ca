package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"eyecare-realtime/internal/auth"
	"eyecare-realtime/internal/models"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "hub-secret"

type fakeAccess struct {
	mu            sync.Mutex
	conversations map[string][]string
	consultations map[string]*models.ConsultationAccess
	err           error
}

func (f *fakeAccess) IsConversationParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return false, f.err
	}
	for _, u := range f.conversations[conversationID] {
		if u == userID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeAccess) ConsultationAccess(ctx context.Context, roomID, userID string) (*models.ConsultationAccess, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	if a, ok := f.consultations[roomID+"/"+userID]; ok {
		return a, nil
	}
	return &models.ConsultationAccess{RoomID: roomID, Reason: "no booking found for this consultation"}, nil
}

type testEnv struct {
	hub      *Hub
	access   *fakeAccess
	registry *MemoryRegistry
	server   *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	access := &fakeAccess{
		conversations: map[string][]string{"c1": {"patient-1", "optom-1"}},
		consultations: map[string]*models.ConsultationAccess{
			"room-1/patient-1": {RoomID: "room-1", Allowed: true},
			"room-1/optom-1":   {RoomID: "room-1", Allowed: true},
			"room-1/intruder":  {RoomID: "room-1", Allowed: true},
		},
	}
	registry := NewMemoryRegistry()
	hub := NewHub(nil, access, registry)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	validator := auth.NewHMACValidator(testSecret, "")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWS(hub, validator, w, r)
	}))

	t.Cleanup(func() {
		server.Close()
		cancel()
	})

	return &testEnv{hub: hub, access: access, registry: registry, server: server}
}

func tokenFor(t *testing.T, userID, role string) string {
	t.Helper()
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: role,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func (e *testEnv) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "?token=" + tokenFor(t, userID, models.RolePatient)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	event := readEvent(t, conn)
	require.Equal(t, models.EventConnectionSuccess, event.Type)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) models.Event {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var event models.Event
	require.NoError(t, json.Unmarshal(raw, &event))
	return event
}

func expectNoEvent(t *testing.T, conn *websocket.Conn) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, raw, err := conn.ReadMessage()
	assert.Error(t, err, "unexpected event %s", string(raw))
}

func emit(t *testing.T, conn *websocket.Conn, eventType string, data interface{}) {
	t.Helper()

	event, err := models.NewEvent(eventType, "", data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(event))
}

func TestServeWSRejectsBadTokens(t *testing.T) {
	env := newTestEnv(t)
	base := "ws" + strings.TrimPrefix(env.server.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(base, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(base+"?token=garbage", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestConnectionSuccess(t *testing.T) {
	env := newTestEnv(t)

	url := "ws" + strings.TrimPrefix(env.server.URL, "http")
	header := http.Header{"Authorization": {"Bearer " + tokenFor(t, "patient-1", models.RolePatient)}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer conn.Close()

	event := readEvent(t, conn)
	assert.Equal(t, models.EventConnectionSuccess, event.Type)

	var info models.ConnectionInfo
	require.NoError(t, event.Decode(&info))
	assert.Equal(t, "patient-1", info.UserID)
	assert.Equal(t, models.RolePatient, info.Role)
	assert.NotEmpty(t, info.ClientID)
}

func TestUserRoomReceivesPushes(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "patient-1")

	event, err := models.NewEvent(models.EventUnreadCount, models.UserRoom("patient-1"), models.UnreadCount{Count: 3})
	require.NoError(t, err)
	require.NoError(t, env.hub.Broker().PublishEvent(context.Background(), event))

	got := readEvent(t, conn)
	assert.Equal(t, models.EventUnreadCount, got.Type)
}

func TestJoinConversation(t *testing.T) {
	env := newTestEnv(t)
	patient := env.dial(t, "patient-1")
	intruder := env.dial(t, "intruder")

	emit(t, patient, models.EventJoinConversation, models.ConversationRef{ConversationID: "c1"})
	assert.Equal(t, models.EventConversationJoined, readEvent(t, patient).Type)

	emit(t, intruder, models.EventJoinConversation, models.ConversationRef{ConversationID: "c1"})
	assert.Equal(t, models.EventError, readEvent(t, intruder).Type)

	msg, err := models.NewEvent(models.EventNewMessage, models.ConversationRoom("c1"), models.Message{ID: "m1", ConversationID: "c1", SenderID: "optom-1", Content: "hello"})
	require.NoError(t, err)
	require.NoError(t, env.hub.Broker().PublishEvent(context.Background(), msg))

	got := readEvent(t, patient)
	assert.Equal(t, models.EventNewMessage, got.Type)
	expectNoEvent(t, intruder)
}

func TestJoinConversationLookupFailure(t *testing.T) {
	env := newTestEnv(t)
	env.access.err = errors.New("db down")
	conn := env.dial(t, "patient-1")

	emit(t, conn, models.EventJoinConversation, models.ConversationRef{ConversationID: "c1"})
	assert.Equal(t, models.EventError, readEvent(t, conn).Type)
}

func TestConsultationSignaling(t *testing.T) {
	env := newTestEnv(t)
	patient := env.dial(t, "patient-1")
	optom := env.dial(t, "optom-1")

	// The first participant waits.
	emit(t, patient, models.EventConsultJoin, models.ConsultJoin{RoomID: "room-1", PeerID: "peer-patient"})
	assert.Equal(t, models.EventConsultJoined, readEvent(t, patient).Type)
	assert.Equal(t, models.EventConsultWaiting, readEvent(t, patient).Type)

	// The second participant learns the first one's peer id.
	emit(t, optom, models.EventConsultJoin, models.ConsultJoin{RoomID: "room-1", PeerID: "peer-optom"})
	joined := readEvent(t, optom)
	require.Equal(t, models.EventConsultJoined, joined.Type)
	var j models.ConsultJoined
	require.NoError(t, joined.Decode(&j))
	assert.Equal(t, 2, j.Participants)

	ready := readEvent(t, optom)
	require.Equal(t, models.EventConsultPeerReady, ready.Type)
	var remote models.ConsultPeer
	require.NoError(t, ready.Decode(&remote))
	assert.Equal(t, "peer-patient", remote.PeerID)

	peerJoined := readEvent(t, patient)
	require.Equal(t, models.EventConsultPeerJoined, peerJoined.Type)
	require.NoError(t, peerJoined.Decode(&remote))
	assert.Equal(t, "peer-optom", remote.PeerID)

	// Signals reach the other side only.
	emit(t, optom, models.EventConsultPeerOffer, models.ConsultSignal{RoomID: "room-1", Payload: map[string]string{"sdp": "offer"}})
	offer := readEvent(t, patient)
	assert.Equal(t, models.EventConsultPeerOffer, offer.Type)
	expectNoEvent(t, optom)

	// Dropping the socket tells the remaining participant.
	require.NoError(t, optom.Close())
	left := readEvent(t, patient)
	assert.Equal(t, models.EventConsultPeerLeft, left.Type)

	assert.Eventually(t, func() bool {
		return len(env.registry.Participants("room-1")) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestConsultationRejoinFromSecondSocket(t *testing.T) {
	env := newTestEnv(t)
	oldSocket := env.dial(t, "patient-1")
	optom := env.dial(t, "optom-1")

	emit(t, oldSocket, models.EventConsultJoin, models.ConsultJoin{RoomID: "room-1", PeerID: "peer-patient"})
	readEvent(t, oldSocket)
	readEvent(t, oldSocket)
	emit(t, optom, models.EventConsultJoin, models.ConsultJoin{RoomID: "room-1", PeerID: "peer-optom"})
	readEvent(t, optom)
	readEvent(t, optom)
	require.Equal(t, models.EventConsultPeerJoined, readEvent(t, oldSocket).Type)

	newSocket := env.dial(t, "patient-1")
	emit(t, newSocket, models.EventConsultJoin, models.ConsultJoin{RoomID: "room-1", PeerID: "peer-patient-2"})
	assert.Equal(t, models.EventConsultJoined, readEvent(t, newSocket).Type)
	assert.Equal(t, models.EventConsultPeerReady, readEvent(t, newSocket).Type)

	superseded := readEvent(t, oldSocket)
	require.Equal(t, models.EventConsultError, superseded.Type)

	var remote models.ConsultPeer
	peerJoined := readEvent(t, optom)
	require.Equal(t, models.EventConsultPeerJoined, peerJoined.Type)
	require.NoError(t, peerJoined.Decode(&remote))
	assert.Equal(t, "peer-patient-2", remote.PeerID)

	// The old socket can no longer signal into the room.
	emit(t, oldSocket, models.EventConsultICE, models.ConsultSignal{RoomID: "room-1", Payload: "candidate"})
	assert.Equal(t, models.EventConsultError, readEvent(t, oldSocket).Type)

	// Signals reach the new socket only.
	emit(t, optom, models.EventConsultPeerOffer, models.ConsultSignal{RoomID: "room-1", Payload: "offer"})
	assert.Equal(t, models.EventConsultPeerOffer, readEvent(t, newSocket).Type)
	expectNoEvent(t, oldSocket)

	// Closing it neither announces a departure nor unregisters the new socket.
	require.NoError(t, oldSocket.Close())
	expectNoEvent(t, optom)
	assert.Len(t, env.registry.Participants("room-1"), 2)
	assert.ElementsMatch(t, []string{"patient-1", "optom-1"}, env.hub.RoomUsers(models.ConsultRoom("room-1")))
}

func TestConsultationAccessDenied(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "stranger")

	emit(t, conn, models.EventConsultJoin, models.ConsultJoin{RoomID: "room-1", PeerID: "peer-x"})
	event := readEvent(t, conn)
	require.Equal(t, models.EventConsultError, event.Type)

	var data models.ErrorData
	require.NoError(t, event.Decode(&data))
	assert.Equal(t, "room-1", data.RoomID)
	assert.Empty(t, env.registry.Participants("room-1"))
}

func TestConsultationRoomFull(t *testing.T) {
	env := newTestEnv(t)
	patient := env.dial(t, "patient-1")
	optom := env.dial(t, "optom-1")
	third := env.dial(t, "intruder")

	emit(t, patient, models.EventConsultJoin, models.ConsultJoin{RoomID: "room-1", PeerID: "p1"})
	readEvent(t, patient)
	readEvent(t, patient)

	emit(t, optom, models.EventConsultJoin, models.ConsultJoin{RoomID: "room-1", PeerID: "p2"})
	readEvent(t, optom)
	readEvent(t, optom)

	emit(t, third, models.EventConsultJoin, models.ConsultJoin{RoomID: "room-1", PeerID: "p3"})
	assert.Equal(t, models.EventConsultError, readEvent(t, third).Type)
}

func TestSignalOutsideRoomRejected(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "patient-1")

	emit(t, conn, models.EventConsultICE, models.ConsultSignal{RoomID: "room-1", Payload: "candidate"})
	assert.Equal(t, models.EventConsultError, readEvent(t, conn).Type)
}

func TestBroadcastExcludesSenderAndEvictsSlowClients(t *testing.T) {
	hub := NewHub(nil, &fakeAccess{}, NewMemoryRegistry())

	fast := newClient(hub, nil, "fast", "u1", "", "")
	sender := newClient(hub, nil, "sender", "u2", "", "")
	slow := newClient(hub, nil, "slow", "u3", "", "")
	slow.send = make(chan []byte)

	for _, c := range []*Client{fast, sender, slow} {
		hub.Join(c, "consult:r")
	}

	hub.broadcastToRoom(&models.BroadcastMessage{Room: "consult:r", Exclude: "sender", Payload: []byte("x")})

	assert.Len(t, fast.send, 1)
	assert.Len(t, sender.send, 0)
	assert.True(t, slow.closed)
	assert.ElementsMatch(t, []string{"u1", "u2"}, hub.RoomUsers("consult:r"))

	// Unregistering an evicted client must not close its channel twice.
	assert.NotPanics(t, func() { hub.unregisterClient(slow) })
}
