package signal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Chatter/internal/app"
	"github.com/dkeye/Chatter/internal/auth"
	"github.com/dkeye/Chatter/internal/config"
	"github.com/dkeye/Chatter/internal/metrics"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func testToken(t *testing.T, uid string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": uid,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	s, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func newTestServer(t *testing.T) (*httptest.Server, *SignalWSController) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Mode:         "release",
		ReadLimit:    32768,
		PingPeriod:   30 * time.Second,
		WriteTimeout: 5 * time.Second,
		SendBuffer:   64,
		Secret:       testSecret,
	}
	verifier, err := auth.NewJWTVerifier(cfg.Secret)
	require.NoError(t, err)

	m := metrics.New(prometheus.NewRegistry())
	presence := app.NewPresenceTable(m)
	rooms := app.NewRoomRegistry()
	conns := app.NewConnRegistry()
	calls := app.NewCallRelay(presence, conns, m)
	router := app.NewEventRouter(presence, rooms, conns, calls, nil, m)
	ctl := NewSignalWSController(router, presence, rooms, conns, verifier, m, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	r := gin.New()
	r.GET("/api/ws", func(c *gin.Context) {
		ctl.HandleSignal(ctx, c)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv, ctl
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := strings.Replace(srv.URL, "http", "ws", 1) + "/api/ws?token=" + token
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readEvent(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var v map[string]any
	require.NoError(t, ws.ReadJSON(&v))
	return v
}

func sendEvent(t *testing.T, ws *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(v))
}

func TestHandshakeRejectsBadCredential(t *testing.T) {
	srv, _ := newTestServer(t)

	url := strings.Replace(srv.URL, "http", "ws", 1) + "/api/ws?token=garbage"
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	if ws != nil {
		_ = ws.Close()
	}
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestConnectDeliversPresenceSnapshot(t *testing.T) {
	srv, _ := newTestServer(t)

	a := dial(t, srv, testToken(t, "A"))
	snap := readEvent(t, a)
	assert.Equal(t, "presence-snapshot", snap["type"])
	users, ok := snap["users"].([]any)
	require.True(t, ok)
	assert.Len(t, users, 1)
}

func TestMessageFlowBetweenTwoClients(t *testing.T) {
	srv, _ := newTestServer(t)

	a := dial(t, srv, testToken(t, "A"))
	readEvent(t, a) // presence-snapshot

	b := dial(t, srv, testToken(t, "B"))
	readEvent(t, b) // presence-snapshot

	on := readEvent(t, a)
	assert.Equal(t, "user-online", on["type"])
	assert.Equal(t, "B", on["userId"])

	sendEvent(t, a, map[string]any{"type": "join-conversation", "conversationId": "g1"})
	assert.Equal(t, "conversation-joined", readEvent(t, a)["type"])
	sendEvent(t, b, map[string]any{"type": "join-conversation", "conversationId": "g1"})
	assert.Equal(t, "conversation-joined", readEvent(t, b)["type"])

	sendEvent(t, a, map[string]any{
		"type":           "send-message",
		"conversationId": "g1",
		"message":        map[string]any{"text": "hi"},
	})

	msg := readEvent(t, b)
	assert.Equal(t, "new-message", msg["type"])
	assert.Equal(t, "A", msg["senderId"])
	assert.Equal(t, "g1", msg["conversationId"])
	body, ok := msg["message"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "hi", body["text"])

	// Typing indicator follows the message on B's stream: FIFO per sender.
	sendEvent(t, a, map[string]any{"type": "typing-start", "conversationId": "g1"})
	typing := readEvent(t, b)
	assert.Equal(t, "typing-start", typing["type"])
	assert.Equal(t, "A", typing["userId"])
}

func TestMalformedEventKeepsConnectionOpen(t *testing.T) {
	srv, _ := newTestServer(t)

	a := dial(t, srv, testToken(t, "A"))
	readEvent(t, a)

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("{not json")))
	errEv := readEvent(t, a)
	assert.Equal(t, "error", errEv["type"])
	assert.Equal(t, "bad_payload", errEv["error"])

	// Still alive: a well-formed event round-trips.
	sendEvent(t, a, map[string]any{"type": "join-conversation", "conversationId": "g1"})
	assert.Equal(t, "conversation-joined", readEvent(t, a)["type"])
}

func TestDisconnectAnnouncesOffline(t *testing.T) {
	srv, _ := newTestServer(t)

	a := dial(t, srv, testToken(t, "A"))
	readEvent(t, a)
	b := dial(t, srv, testToken(t, "B"))
	readEvent(t, b)
	readEvent(t, a) // user-online B

	require.NoError(t, b.Close())

	off := readEvent(t, a)
	assert.Equal(t, "user-offline", off["type"])
	assert.Equal(t, "B", off["userId"])
	assert.NotEmpty(t, off["lastSeen"])
}

func TestKickClosesSession(t *testing.T) {
	srv, ctl := newTestServer(t)

	a := dial(t, srv, testToken(t, "A"))
	readEvent(t, a)
	b := dial(t, srv, testToken(t, "B"))
	readEvent(t, b)
	readEvent(t, a) // user-online B

	var kicked bool
	for _, cs := range ctl.Conns.Snapshot() {
		if cs.User().ID == "B" {
			kicked = ctl.Kick(cs.ID())
		}
	}
	require.True(t, kicked)

	off := readEvent(t, a)
	assert.Equal(t, "user-offline", off["type"])
	assert.Equal(t, "B", off["userId"])

	// B's transport is gone.
	require.NoError(t, b.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := b.ReadMessage()
	assert.Error(t, err)
}

func TestCallSignalBetweenClients(t *testing.T) {
	srv, _ := newTestServer(t)

	a := dial(t, srv, testToken(t, "A"))
	readEvent(t, a)
	b := dial(t, srv, testToken(t, "B"))
	readEvent(t, b)
	readEvent(t, a) // user-online B

	sendEvent(t, a, map[string]any{
		"type":         "call-user",
		"targetUserId": "B",
		"signalData":   map[string]any{"sdp": "v=0"},
		"callType":     "video",
	})

	call := readEvent(t, b)
	assert.Equal(t, "incoming-call", call["type"])
	assert.Equal(t, "A", call["from"])
	assert.Equal(t, "video", call["callType"])
}
