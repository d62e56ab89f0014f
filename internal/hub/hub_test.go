package hub

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gestore/gateway/internal/infrastructure/logging"
	"github.com/gestore/gateway/internal/shared/id"
)

func newTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := New(logging.NewDevelopment())
	router := gin.New()
	router.GET("/updates/stream", h.HandleConnection)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return h, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/updates/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg map[string]any
	require.NoError(t, sonic.Unmarshal(data, &msg))
	return msg
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, h.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBroadcastReachesAllWindows(t *testing.T) {
	h, srv := newTestHub(t)

	conn1 := dial(t, srv)
	conn2 := dial(t, srv)
	readMessage(t, conn1) // welcome
	readMessage(t, conn2)
	waitForClients(t, h, 2)

	h.Broadcast(gin.H{"type": "controllerchange", "generation": "v2"})

	for _, conn := range []*websocket.Conn{conn1, conn2} {
		msg := readMessage(t, conn)
		assert.Equal(t, "controllerchange", msg["type"])
		assert.Equal(t, "v2", msg["generation"])
	}
}

func TestFocusAny(t *testing.T) {
	h, srv := newTestHub(t)

	assert.False(t, h.FocusAny(), "no windows connected")

	conn := dial(t, srv)
	readMessage(t, conn) // welcome
	waitForClients(t, h, 1)

	assert.True(t, h.FocusAny())
	msg := readMessage(t, conn)
	assert.Equal(t, "focus", msg["type"])
}

func TestRequestOpenSteersNextWindow(t *testing.T) {
	h, srv := newTestHub(t)

	h.RequestOpen()

	conn := dial(t, srv)
	welcome := readMessage(t, conn)
	assert.Equal(t, "system", welcome["type"])

	open := readMessage(t, conn)
	assert.Equal(t, "open", open["type"])
	assert.Equal(t, "/", open["path"])

	// The flag is one-shot: a second window gets no open message.
	conn2 := dial(t, srv)
	readMessage(t, conn2)
	waitForClients(t, h, 2)
	h.Broadcast(gin.H{"type": "ping"})
	msg := readMessage(t, conn2)
	assert.Equal(t, "ping", msg["type"])
}

func TestInboundMessagesReachHandler(t *testing.T) {
	h, srv := newTestHub(t)

	var mu sync.Mutex
	var received []string
	h.SetMessageHandler(func(window id.WindowID, data []byte) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, string(data))
	})

	conn := dial(t, srv)
	readMessage(t, conn) // welcome

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"SKIP_WAITING"}`)))

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("handler never received the message")
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.JSONEq(t, `{"type":"SKIP_WAITING"}`, received[0])
}

func TestClientCountTracksDisconnect(t *testing.T) {
	h, srv := newTestHub(t)

	conn := dial(t, srv)
	readMessage(t, conn)
	waitForClients(t, h, 1)

	require.NoError(t, conn.Close())
	waitForClients(t, h, 0)
}
