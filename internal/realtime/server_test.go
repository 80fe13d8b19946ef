package realtime

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupServer(t *testing.T, opts HubOptions) (*Hub, string) {
	gin.SetMode(gin.TestMode)
	hub := NewHub(opts, nil)
	srv := NewServer(hub, ServerOptions{SendBufferSize: 8, PingInterval: 5 * time.Second}, nil)

	r := gin.New()
	r.GET("/ws/orders", srv.ServeWS)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)

	return hub, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/orders"
}

func dial(t *testing.T, url string) *websocket.Conn {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data string) {
	require.NoError(t, conn.WriteJSON(Frame{Event: event, Data: json.RawMessage(data)}))
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame Frame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestServer_JoinBroadcastLeave(t *testing.T) {
	hub, url := setupServer(t, HubOptions{})
	tab1 := dial(t, url)
	tab2 := dial(t, url)

	send(t, tab1, EventJoin, `{"orderId": 7}`)
	send(t, tab2, EventJoin, `{"orderId": "7"}`)
	require.Eventually(t, func() bool { return hub.RoomSize(7) == 2 }, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 2, hub.Broadcast(StatusEvent{OrderID: 7, Status: "DELIVERED"}))

	for _, conn := range []*websocket.Conn{tab1, tab2} {
		frame := readFrame(t, conn)
		assert.Equal(t, EventStatus, frame.Event)
		var ev StatusEvent
		require.NoError(t, json.Unmarshal(frame.Data, &ev))
		assert.Equal(t, int64(7), ev.OrderID)
		assert.Equal(t, "DELIVERED", ev.Status)
	}

	send(t, tab1, EventLeave, `{"orderId": 7}`)
	require.Eventually(t, func() bool { return hub.RoomSize(7) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestServer_RejectsBadFrames(t *testing.T) {
	_, url := setupServer(t, HubOptions{})
	conn := dial(t, url)

	testCases := []struct {
		name string
		raw  string
		code string
	}{
		{name: "Not JSON", raw: `hello`, code: CodeBadFrame},
		{name: "Unknown event", raw: `{"event":"order:subscribe","data":{"orderId":1}}`, code: CodeUnknownEvent},
		{name: "Bad order id", raw: `{"event":"order:join","data":{"orderId":"abc"}}`, code: CodeBadOrderID},
		{name: "Missing order id", raw: `{"event":"order:join","data":{}}`, code: CodeBadOrderID},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(tc.raw)))
			frame := readFrame(t, conn)
			assert.Equal(t, EventError, frame.Event)

			var payload ErrorPayload
			require.NoError(t, json.Unmarshal(frame.Data, &payload))
			assert.Equal(t, tc.code, payload.Code)
		})
	}
}

func TestServer_RoomFull(t *testing.T) {
	hub, url := setupServer(t, HubOptions{MaxRoomMembers: 1})
	first := dial(t, url)
	second := dial(t, url)

	send(t, first, EventJoin, `{"orderId": 42}`)
	require.Eventually(t, func() bool { return hub.RoomSize(42) == 1 }, 2*time.Second, 10*time.Millisecond)

	send(t, second, EventJoin, `{"orderId": 42}`)
	frame := readFrame(t, second)
	assert.Equal(t, EventError, frame.Event)

	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(frame.Data, &payload))
	assert.Equal(t, CodeRoomFull, payload.Code)
	assert.Equal(t, int64(42), payload.OrderID)
	assert.Equal(t, 1, hub.RoomSize(42))
}

func TestServer_DisconnectEvictsClient(t *testing.T) {
	hub, url := setupServer(t, HubOptions{})
	conn := dial(t, url)

	send(t, conn, EventJoin, `{"orderId": 5}`)
	send(t, conn, EventJoin, `{"orderId": 6}`)
	require.Eventually(t, func() bool { return hub.RoomCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.RoomCount() == 0 && hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
