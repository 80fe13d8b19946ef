package realtime

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"pharmacy-order-status/internal/parse"
)

const (
	writeWait    = 10 * time.Second
	maxFrameSize = 4096
)

// Client is one websocket connection. Outbound frames go through a
// bounded buffer drained by the write pump.
type Client struct {
	ID string

	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, bufferSize int) *Client {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Client{
		ID:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, bufferSize),
		done: make(chan struct{}),
	}
}

// Close stops the pumps and closes the socket. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// IsClosed reports whether Close has been called.
func (c *Client) IsClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// enqueue never blocks; it reports false when the client is closed or its buffer is full.
func (c *Client) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) sendError(code, message string, orderID int64) {
	msg, err := encodeFrame(EventError, ErrorPayload{Code: code, Message: message, OrderID: orderID})
	if err != nil {
		return
	}
	c.enqueue(msg)
}

// readPump handles join and leave requests until the connection drops,
// then evicts the client from every room.
func (c *Client) readPump(hub *Hub, pongWait time.Duration, log *zap.Logger) {
	defer hub.Remove(c)

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Info("websocket closed unexpectedly", zap.String("client", c.ID), zap.Error(err))
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.sendError(CodeBadFrame, "frame is not valid JSON", 0)
			continue
		}
		c.handleFrame(hub, frame, log)
	}
}

func (c *Client) handleFrame(hub *Hub, frame Frame, log *zap.Logger) {
	switch frame.Event {
	case EventJoin, EventLeave:
	default:
		c.sendError(CodeUnknownEvent, "unsupported event "+frame.Event, 0)
		return
	}

	var payload RoomPayload
	if err := json.Unmarshal(frame.Data, &payload); err != nil {
		c.sendError(CodeBadFrame, "payload must be an object with orderId", 0)
		return
	}
	orderID, err := parse.OrderID(payload.OrderID)
	if err != nil {
		c.sendError(CodeBadOrderID, err.Error(), 0)
		return
	}

	if frame.Event == EventLeave {
		hub.Leave(c, orderID)
		return
	}

	switch err := hub.Join(c, orderID); {
	case err == nil:
	case errors.Is(err, ErrRoomFull):
		c.sendError(CodeRoomFull, err.Error(), orderID)
	case errors.Is(err, ErrTooManyRooms):
		c.sendError(CodeTooManyRooms, err.Error(), orderID)
	default:
		log.Debug("join refused", zap.String("client", c.ID), zap.Int64("order_id", orderID), zap.Error(err))
	}
}

// writePump drains the send buffer and keeps the connection alive with pings.
func (c *Client) writePump(pingInterval time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Debug("websocket write failed", zap.String("client", c.ID), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
