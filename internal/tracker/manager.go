package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"pharmacy-order-status/internal/realtime"
)

const writeWait = 10 * time.Second

// ErrManagerClosed is returned once Close has been called.
var ErrManagerClosed = errors.New("connection manager is closed")

// Handler receives every frame the server pushes on the order channel.
type Handler func(realtime.Frame)

// Conn is one open connection to the order channel.
type Conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *Conn) send(event string, payload any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.sendLocked(event, payload)
}

// sendLocked writes one frame; the caller holds writeMu.
func (c *Conn) sendLocked(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(realtime.Frame{Event: event, Data: data})
	if err != nil {
		return err
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, msg)
}

// Close drops the connection. The manager notices and reconnects unless it is closed too.
func (c *Conn) Close() error {
	return c.ws.Close()
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithPath overrides the channel path, /ws/orders by default.
func WithPath(path string) ManagerOption {
	return func(m *Manager) { m.path = path }
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) ManagerOption {
	return func(m *Manager) { m.dialer = d }
}

// WithBackOff sets the reconnect policy. A fresh policy is built for every outage.
func WithBackOff(newBackOff func() backoff.BackOff) ManagerOption {
	return func(m *Manager) { m.newBackOff = newBackOff }
}

// WithManagerLogger sets the logger.
func WithManagerLogger(log *zap.Logger) ManagerOption {
	return func(m *Manager) { m.log = log }
}

// Manager owns the single connection a process keeps to the order channel.
// Trackers share it; rooms are reference counted and rejoined after a reconnect.
type Manager struct {
	baseURL    string
	path       string
	dialer     *websocket.Dialer
	newBackOff func() backoff.BackOff
	log        *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	conn     *Conn
	dialing  chan struct{}
	dialErr  error
	closed   bool
	rooms    map[int64]int
	handlers map[uint64]Handler
	hooks    map[uint64]func()
	nextID   uint64
}

// NewManager creates a manager for the server at baseURL (http, https, ws or wss).
// Nothing is dialled until Connection is first called.
func NewManager(baseURL string, opts ...ManagerOption) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		baseURL: baseURL,
		path:    "/ws/orders",
		dialer:  websocket.DefaultDialer,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 30 * time.Second
			return b
		},
		log:      zap.NewNop(),
		ctx:      ctx,
		cancel:   cancel,
		rooms:    make(map[int64]int),
		handlers: make(map[uint64]Handler),
		hooks:    make(map[uint64]func()),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) channelURL() (string, error) {
	u, err := url.Parse(m.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", m.baseURL, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + m.path
	return u.String(), nil
}

// Connection returns the open connection, dialling one if there is none.
// Concurrent callers share a single dial.
func (m *Manager) Connection(ctx context.Context) (*Conn, error) {
	m.mu.Lock()
	for {
		if m.closed {
			m.mu.Unlock()
			return nil, ErrManagerClosed
		}
		if m.conn != nil {
			conn := m.conn
			m.mu.Unlock()
			return conn, nil
		}
		if m.dialing == nil {
			break
		}

		wait := m.dialing
		m.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		m.mu.Lock()
		if m.conn == nil && m.dialErr != nil {
			err := m.dialErr
			m.mu.Unlock()
			return nil, err
		}
	}

	wait := make(chan struct{})
	m.dialing = wait
	m.mu.Unlock()

	conn, err := m.dial(ctx)

	m.mu.Lock()
	m.dialing = nil
	m.dialErr = err
	close(wait)
	if err == nil && m.closed {
		conn.Close()
		conn, err = nil, ErrManagerClosed
	}
	var rooms []int64
	if err == nil {
		m.conn = conn
		for id := range m.rooms {
			rooms = append(rooms, id)
		}
		// Join and Leave see m.conn from here on. Their frames must queue
		// behind the rejoins, so the write lock is taken before m.mu is released.
		conn.writeMu.Lock()
	}
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}

	for _, id := range rooms {
		if err := conn.sendLocked(realtime.EventJoin, joinPayload(id)); err != nil {
			m.log.Warn("failed to rejoin room", zap.Int64("order_id", id), zap.Error(err))
		}
	}
	conn.writeMu.Unlock()
	go m.readLoop(conn)
	return conn, nil
}

func (m *Manager) dial(ctx context.Context) (*Conn, error) {
	target, err := m.channelURL()
	if err != nil {
		return nil, err
	}
	ws, resp, err := m.dialer.DialContext(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", target, err)
	}
	m.log.Debug("connected to order channel", zap.String("url", target))
	return &Conn{ws: ws}, nil
}

func (m *Manager) readLoop(conn *Conn) {
	for {
		_, raw, err := conn.ws.ReadMessage()
		if err != nil {
			m.log.Debug("order channel read failed", zap.Error(err))
			break
		}

		var frame realtime.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			m.log.Debug("ignoring malformed frame", zap.Error(err))
			continue
		}
		m.dispatch(frame)
	}

	conn.Close()

	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	closed := m.closed
	m.mu.Unlock()

	if !closed {
		m.reconnect()
	}
}

func (m *Manager) reconnect() {
	_, err := backoff.Retry(m.ctx, func() (*Conn, error) {
		conn, err := m.Connection(m.ctx)
		if errors.Is(err, ErrManagerClosed) {
			return nil, backoff.Permanent(err)
		}
		return conn, err
	},
		backoff.WithBackOff(m.newBackOff()),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			m.log.Info("order channel unavailable, retrying", zap.Duration("in", next), zap.Error(err))
		}),
	)
	if err != nil {
		return
	}

	m.log.Info("reconnected to order channel")
	m.mu.Lock()
	hooks := make([]func(), 0, len(m.hooks))
	for _, h := range m.hooks {
		hooks = append(hooks, h)
	}
	m.mu.Unlock()

	for _, h := range hooks {
		h()
	}
}

func (m *Manager) dispatch(frame realtime.Frame) {
	m.mu.Lock()
	handlers := make([]Handler, 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	for _, h := range handlers {
		h(frame)
	}
}

func joinPayload(orderID int64) map[string]int64 {
	return map[string]int64{"orderId": orderID}
}

// Join asks the server to add this connection to the order's room. There is no
// acknowledgement. The room is remembered and rejoined after every reconnect.
func (m *Manager) Join(orderID int64) {
	m.mu.Lock()
	m.rooms[orderID]++
	first := m.rooms[orderID] == 1
	conn := m.conn
	m.mu.Unlock()

	if first && conn != nil {
		if err := conn.send(realtime.EventJoin, joinPayload(orderID)); err != nil {
			m.log.Warn("failed to join room", zap.Int64("order_id", orderID), zap.Error(err))
		}
	}
}

// Leave releases one Join. The server is told once the last holder leaves.
func (m *Manager) Leave(orderID int64) {
	m.mu.Lock()
	n, ok := m.rooms[orderID]
	if !ok {
		m.mu.Unlock()
		return
	}
	last := n <= 1
	if last {
		delete(m.rooms, orderID)
	} else {
		m.rooms[orderID] = n - 1
	}
	conn := m.conn
	m.mu.Unlock()

	if last && conn != nil {
		if err := conn.send(realtime.EventLeave, joinPayload(orderID)); err != nil {
			m.log.Warn("failed to leave room", zap.Int64("order_id", orderID), zap.Error(err))
		}
	}
}

// Rooms returns the order ids currently joined.
func (m *Manager) Rooms() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.rooms))
	for id := range m.rooms {
		ids = append(ids, id)
	}
	return ids
}

// Subscribe registers h for every incoming frame and returns a function that removes it.
func (m *Manager) Subscribe(h Handler) (cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.handlers[id] = h
	return func() {
		m.mu.Lock()
		delete(m.handlers, id)
		m.mu.Unlock()
	}
}

// OnReconnect registers f to run after every successful reconnect, once rooms are rejoined.
func (m *Manager) OnReconnect(f func()) (cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.hooks[id] = f
	return func() {
		m.mu.Lock()
		delete(m.hooks, id)
		m.mu.Unlock()
	}
}

// Close tears the connection down and stops reconnecting.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	m.cancel()
	if conn != nil {
		conn.writeMu.Lock()
		_ = conn.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		conn.writeMu.Unlock()
		return conn.Close()
	}
	return nil
}
