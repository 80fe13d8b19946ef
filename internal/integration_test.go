package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pharmacy-order-status/config"
	"pharmacy-order-status/internal/api"
	"pharmacy-order-status/internal/broker"
	"pharmacy-order-status/internal/db"
	"pharmacy-order-status/internal/model"
	"pharmacy-order-status/internal/mw"
	"pharmacy-order-status/internal/orders"
	"pharmacy-order-status/internal/realtime"
	"pharmacy-order-status/internal/store"
)

// TestOrderStatusLifecycle drives an order from PENDING to DELIVERED through the
// admin endpoint and checks the database and a live subscriber at each step.
func TestOrderStatusLifecycle(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// --- Test Setup ---

	cfg := &config.Config{}
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = "file:order_lifecycle?mode=memory&cache=shared"
	cfg.Realtime.MaxRoomMembers = 2
	cfg.ApplyDefaults()

	log := zap.NewNop()
	gormDB, err := db.Init(&cfg.Database, log)
	require.NoError(t, err)
	sqlDB, _ := gormDB.DB()
	defer sqlDB.Close()

	require.NoError(t, gormDB.Create(&model.Order{ID: 42, CustomerID: 9, Status: model.StatusPending, TotalCents: 1250}).Error)
	require.NoError(t, gormDB.Create(&model.Order{ID: 43, CustomerID: 9, Status: model.StatusPending, TotalCents: 800}).Error)

	appStore := store.NewGormStore(gormDB)
	hub := realtime.NewHub(realtime.HubOptions{MaxRoomMembers: cfg.Realtime.MaxRoomMembers}, log)
	wsServer := realtime.NewServer(hub, realtime.ServerOptions{PingInterval: cfg.Realtime.PingInterval}, log)

	responseCache := mw.NewResponseCache(cfg.Server.CacheTTL)
	svc := orders.NewService(appStore, log, orders.WithCache(responseCache))

	relay, err := broker.New(cfg.Broker, log)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go relay.Run(ctx, svc.Deliver(hub))
	svc.AttachRelay(relay)

	router := api.NewRouter(api.NewHandler(svc, appStore, hub, nil, log), wsServer, api.RouterOptions{
		Cache:  responseCache,
		WSPath: cfg.Realtime.Path,
	}, log)
	server := httptest.NewServer(router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + cfg.Realtime.Path

	publish := func(t *testing.T, orderID int64, status string) int {
		body := fmt.Sprintf(`{"orderId":%d,"status":%q}`, orderID, status)
		resp, err := http.Post(server.URL+"/api/admin/orders/status", "application/json", bytes.NewBufferString(body))
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}
	persisted := func(t *testing.T, orderID int64) model.OrderStatus {
		order, err := appStore.GetOrder(context.Background(), orderID)
		require.NoError(t, err)
		return order.Status
	}
	subscribe := func(t *testing.T, orderID int64) *websocket.Conn {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.NoError(t, err)
		require.NoError(t, conn.WriteJSON(map[string]any{"event": realtime.EventJoin, "data": map[string]any{"orderId": orderID}}))
		return conn
	}
	nextEvent := func(t *testing.T, conn *websocket.Conn) (realtime.Frame, realtime.StatusEvent) {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var frame realtime.Frame
		require.NoError(t, conn.ReadJSON(&frame))
		var ev realtime.StatusEvent
		if frame.Event == realtime.EventStatus {
			require.NoError(t, json.Unmarshal(frame.Data, &ev))
		}
		return frame, ev
	}

	// Relay.Run registers asynchronously.
	require.Eventually(t, func() bool {
		return relay.Publish(context.Background(), realtime.StatusEvent{OrderID: 1000}) == nil
	}, 2*time.Second, 5*time.Millisecond)

	t.Run("Publish without subscribers still persists", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, publish(t, 43, "CONFIRMED"))
		assert.Equal(t, model.StatusConfirmed, persisted(t, 43))
		assert.Equal(t, 0, hub.RoomCount())
	})

	var tab1, tab2 *websocket.Conn
	defer func() {
		for _, conn := range []*websocket.Conn{tab1, tab2} {
			if conn != nil {
				conn.Close()
			}
		}
	}()
	t.Run("Two subscribers receive CONFIRMED", func(t *testing.T) {
		tab1 = subscribe(t, 42)
		tab2 = subscribe(t, 42)
		require.Eventually(t, func() bool { return hub.RoomSize(42) == 2 }, 2*time.Second, 5*time.Millisecond)

		assert.Equal(t, http.StatusOK, publish(t, 42, "CONFIRMED"))
		assert.Equal(t, model.StatusConfirmed, persisted(t, 42))

		for _, conn := range []*websocket.Conn{tab1, tab2} {
			frame, ev := nextEvent(t, conn)
			assert.Equal(t, realtime.EventStatus, frame.Event)
			assert.Equal(t, int64(42), ev.OrderID)
			assert.Equal(t, "CONFIRMED", ev.Status)
		}
	})

	t.Run("Third subscriber is refused by the room cap", func(t *testing.T) {
		tab3 := subscribe(t, 42)
		defer tab3.Close()
		frame, _ := nextEvent(t, tab3)
		assert.Equal(t, realtime.EventError, frame.Event)
		assert.Contains(t, string(frame.Data), realtime.CodeRoomFull)
		assert.Equal(t, 2, hub.RoomSize(42))
	})

	t.Run("Unknown status is rejected and not broadcast", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, publish(t, 42, "BOGUS"))
		assert.Equal(t, model.StatusConfirmed, persisted(t, 42))

		// The next frame tab1 sees is the following valid update, not BOGUS.
		assert.Equal(t, http.StatusOK, publish(t, 42, "PACKED"))
		_, ev := nextEvent(t, tab1)
		assert.Equal(t, "PACKED", ev.Status)
		_, ev = nextEvent(t, tab2)
		assert.Equal(t, "PACKED", ev.Status)
	})

	t.Run("Left subscriber stops receiving", func(t *testing.T) {
		require.NoError(t, tab2.WriteJSON(map[string]any{"event": realtime.EventLeave, "data": map[string]any{"orderId": 42}}))
		require.Eventually(t, func() bool { return hub.RoomSize(42) == 1 }, 2*time.Second, 5*time.Millisecond)

		assert.Equal(t, http.StatusOK, publish(t, 42, "OUT_FOR_DELIVERY"))
		_, ev := nextEvent(t, tab1)
		assert.Equal(t, "OUT_FOR_DELIVERY", ev.Status)

		require.NoError(t, tab2.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
		_, _, err := tab2.ReadMessage()
		assert.Error(t, err, "tab2 left the room and should get nothing")
	})

	t.Run("Disconnect evicts and the timeline is complete", func(t *testing.T) {
		tab1.Close()
		require.Eventually(t, func() bool { return hub.RoomSize(42) == 0 }, 2*time.Second, 5*time.Millisecond)

		assert.Equal(t, http.StatusOK, publish(t, 42, "DELIVERED"))
		assert.Equal(t, model.StatusDelivered, persisted(t, 42))

		events, err := appStore.ListStatusEvents(context.Background(), 42, 0)
		require.NoError(t, err)
		got := make([]model.OrderStatus, len(events))
		for i, e := range events {
			got[i] = e.Status
		}
		assert.Equal(t, []model.OrderStatus{
			model.StatusDelivered, model.StatusOutForDelivery, model.StatusPacked, model.StatusConfirmed,
		}, got)
	})
}

// fanoutBus stands in for a shared broker: every published event reaches every instance.
type fanoutBus struct {
	deliver []func(realtime.StatusEvent)
}

func (b *fanoutBus) Publish(_ context.Context, ev realtime.StatusEvent) error {
	for _, d := range b.deliver {
		d(ev)
	}
	return nil
}

type instance struct {
	server *httptest.Server
}

func newInstance(t *testing.T, appStore store.Store, bus *fanoutBus, log *zap.Logger) instance {
	responseCache := mw.NewResponseCache(time.Minute)
	svc := orders.NewService(appStore, log, orders.WithCache(responseCache))
	svc.AttachRelay(bus)

	hub := realtime.NewHub(realtime.HubOptions{}, log)
	bus.deliver = append(bus.deliver, svc.Deliver(hub))

	router := api.NewRouter(api.NewHandler(svc, appStore, hub, nil, log), realtime.NewServer(hub, realtime.ServerOptions{}, log),
		api.RouterOptions{Cache: responseCache, WSPath: "/ws/orders"}, log)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return instance{server: server}
}

// TestCachedOrderRefreshedAcrossInstances checks that an instance which did not
// handle the publish stops serving its cached copy of the order.
func TestCachedOrderRefreshedAcrossInstances(t *testing.T) {
	gin.SetMode(gin.TestMode)

	log := zap.NewNop()
	gormDB, err := db.Init(&config.DatabaseConfig{Driver: "sqlite", DSN: "file:order_instances?mode=memory&cache=shared"}, log)
	require.NoError(t, err)
	sqlDB, _ := gormDB.DB()
	defer sqlDB.Close()
	require.NoError(t, gormDB.Create(&model.Order{ID: 42, CustomerID: 9, Status: model.StatusPending, TotalCents: 1250}).Error)

	appStore := store.NewGormStore(gormDB)
	bus := &fanoutBus{}
	a := newInstance(t, appStore, bus, log)
	b := newInstance(t, appStore, bus, log)

	getOrder := func(t *testing.T, inst instance) (string, string) {
		resp, err := http.Get(inst.server.URL + "/api/orders/42")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Order model.Order `json:"order"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		return string(body.Order.Status), resp.Header.Get("X-Cache")
	}

	status, _ := getOrder(t, b)
	require.Equal(t, "PENDING", status)
	status, hit := getOrder(t, b)
	require.Equal(t, "PENDING", status)
	require.Equal(t, "HIT", hit)

	resp, err := http.Post(a.server.URL+"/api/admin/orders/status", "application/json",
		bytes.NewBufferString(`{"orderId":42,"status":"DELIVERED"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	status, hit = getOrder(t, b)
	assert.Equal(t, "DELIVERED", status)
	assert.Empty(t, hit)

	status, _ = getOrder(t, a)
	assert.Equal(t, "DELIVERED", status)
}
