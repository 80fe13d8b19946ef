package realtime

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"pharmacy-order-status/internal/parse"
)

var (
	ErrRoomFull     = errors.New("room is full")
	ErrTooManyRooms = errors.New("client joined too many rooms")
	ErrClientClosed = errors.New("client is closed")
)

// HubOptions caps room membership. Zero means unlimited.
type HubOptions struct {
	MaxRoomMembers    int
	MaxRoomsPerClient int
}

// Hub is the in-memory room registry: room name → connected clients.
// Rooms are created on first join and dropped when the last member leaves.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*Client]struct{}
	clients map[*Client]map[string]struct{}
	opts    HubOptions
	log     *zap.Logger
}

// NewHub creates an empty registry.
func NewHub(opts HubOptions, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		rooms:   make(map[string]map[*Client]struct{}),
		clients: make(map[*Client]map[string]struct{}),
		opts:    opts,
		log:     log,
	}
}

// Join puts the client in the order's room. Joining a room twice is a no-op.
func (h *Hub) Join(cl *Client, orderID int64) error {
	room := parse.RoomName(orderID)

	h.mu.Lock()
	defer h.mu.Unlock()

	if cl.IsClosed() {
		return ErrClientClosed
	}

	members, ok := h.rooms[room]
	if ok {
		if _, already := members[cl]; already {
			return nil
		}
	}
	if h.opts.MaxRoomMembers > 0 && len(members) >= h.opts.MaxRoomMembers {
		return ErrRoomFull
	}
	joined := h.clients[cl]
	if h.opts.MaxRoomsPerClient > 0 && len(joined) >= h.opts.MaxRoomsPerClient {
		return ErrTooManyRooms
	}

	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[cl] = struct{}{}

	if joined == nil {
		joined = make(map[string]struct{})
		h.clients[cl] = joined
	}
	joined[room] = struct{}{}

	h.log.Debug("client joined room", zap.String("client", cl.ID), zap.String("room", room), zap.Int("members", len(members)))
	return nil
}

// Leave takes the client out of the order's room.
func (h *Hub) Leave(cl *Client, orderID int64) {
	room := parse.RoomName(orderID)

	h.mu.Lock()
	defer h.mu.Unlock()

	h.leaveLocked(cl, room)
}

func (h *Hub) leaveLocked(cl *Client, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, cl)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	if joined, ok := h.clients[cl]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(h.clients, cl)
		}
	}
}

// Remove drops the client from every room and closes it.
func (h *Hub) Remove(cl *Client) {
	h.mu.Lock()
	for room := range h.clients[cl] {
		h.leaveLocked(cl, room)
	}
	delete(h.clients, cl)
	h.mu.Unlock()

	cl.Close()
}

// Broadcast queues the event for every member of the order's room and
// returns how many clients it was queued for. Slow clients are skipped.
func (h *Hub) Broadcast(ev StatusEvent) int {
	msg, err := encodeFrame(EventStatus, ev)
	if err != nil {
		h.log.Error("failed to encode status event", zap.Int64("order_id", ev.OrderID), zap.Error(err))
		return 0
	}

	room := parse.RoomName(ev.OrderID)

	h.mu.RLock()
	members := make([]*Client, 0, len(h.rooms[room]))
	for cl := range h.rooms[room] {
		members = append(members, cl)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, cl := range members {
		if cl.enqueue(msg) {
			delivered++
			continue
		}
		if cl.IsClosed() {
			h.log.Debug("client gone, skipping status event",
				zap.String("client", cl.ID), zap.String("room", room))
			continue
		}
		h.log.Warn("client buffer full, dropping status event",
			zap.String("client", cl.ID), zap.String("room", room))
	}
	return delivered
}

// RoomSize returns the number of clients in the order's room.
func (h *Hub) RoomSize(orderID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[parse.RoomName(orderID)])
}

// RoomCount returns the number of live rooms.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// ClientCount returns the number of clients in at least one room.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
