package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/stampcard/loyalty-api/internal/middleware"
	"github.com/stampcard/loyalty-api/internal/pkg/jwt"
)

func localConn(h *Hub, userID uuid.UUID) *Connection {
	conn := &Connection{UserID: userID, Send: make(chan []byte, 4)}
	h.mu.Lock()
	if h.connections[userID] == nil {
		h.connections[userID] = make(map[*Connection]bool)
	}
	h.connections[userID][conn] = true
	h.mu.Unlock()
	return conn
}

func TestSendToUserJSONDeliversToEveryConnection(t *testing.T) {
	h := NewHub(nil)
	userID := uuid.New()
	phone := localConn(h, userID)
	tablet := localConn(h, userID)
	other := localConn(h, uuid.New())

	require.NoError(t, h.SendToUserJSON(userID, map[string]string{"type": "ping"}))

	for _, c := range []*Connection{phone, tablet} {
		select {
		case msg := <-c.Send:
			require.JSONEq(t, `{"type":"ping"}`, string(msg))
		default:
			t.Fatal("expected message")
		}
	}
	require.Empty(t, other.Send)
}

func TestSendToUserJSONPublishesAcrossInstances(t *testing.T) {
	h := NewHubWithInstanceID(nil, "instance-a")
	var published []byte
	h.publishFn = func(_ context.Context, channel string, payload []byte) error {
		require.Equal(t, userEventsChannel, channel)
		published = payload
		return nil
	}

	userID := uuid.New()
	require.NoError(t, h.SendToUserJSON(userID, map[string]int{"n": 1}))

	var msg userEventMessage
	require.NoError(t, json.Unmarshal(published, &msg))
	require.Equal(t, userID.String(), msg.UserID)
	require.Equal(t, "instance-a", msg.SenderInstanceID)
	require.JSONEq(t, `{"n":1}`, string(msg.Payload))
}

func TestHandleUserEventPayloadSkipsOwnInstance(t *testing.T) {
	h := NewHubWithInstanceID(nil, "instance-a")
	userID := uuid.New()
	conn := localConn(h, userID)

	own, _ := json.Marshal(userEventMessage{UserID: userID.String(), Payload: json.RawMessage(`{"a":1}`), SenderInstanceID: "instance-a"})
	h.handleUserEventPayload(string(own))
	require.Empty(t, conn.Send)

	remote, _ := json.Marshal(userEventMessage{UserID: userID.String(), Payload: json.RawMessage(`{"a":2}`), SenderInstanceID: "instance-b"})
	h.handleUserEventPayload(string(remote))
	require.Len(t, conn.Send, 1)
	require.JSONEq(t, `{"a":2}`, string(<-conn.Send))

	h.handleUserEventPayload("not json")
	require.Empty(t, conn.Send)
}

func TestFullBufferDropsInsteadOfBlocking(t *testing.T) {
	h := NewHub(nil)
	userID := uuid.New()
	conn := &Connection{UserID: userID, Send: make(chan []byte)}
	h.connections[userID] = map[*Connection]bool{conn: true}

	done := make(chan struct{})
	go func() {
		_ = h.SendToUserJSON(userID, "x")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("send blocked on full buffer")
	}
}

func TestWebSocketEndToEnd(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	defer hub.Shutdown()

	jwtSvc := jwt.NewService("realtime-secret", time.Hour)
	handler := NewHandler(hub, nil)
	srv := httptest.NewServer(QueryToken(middleware.Auth(jwtSvc)(http.HandlerFunc(handler.WebSocket))))
	defer srv.Close()

	userID := uuid.New()
	token, err := jwtSvc.GenerateAccessToken(userID, jwt.RoleConsumer, uuid.Nil)
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ConnectionCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.SendToUserJSON(userID, map[string]string{"type": "scan:session"}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"scan:session"}`, string(msg))
}

func TestWebSocketRequiresToken(t *testing.T) {
	hub := NewHub(nil)
	jwtSvc := jwt.NewService("realtime-secret", time.Hour)
	srv := httptest.NewServer(QueryToken(middleware.Auth(jwtSvc)(http.HandlerFunc(NewHandler(hub, nil).WebSocket))))
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
