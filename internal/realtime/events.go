package realtime

import (
	"encoding/json"
	"time"

	"pharmacy-order-status/internal/model"
)

// Event names carried in Frame.Event.
const (
	EventJoin   = "order:join"
	EventLeave  = "order:leave"
	EventStatus = "order:status"
	EventError  = "order:error"
)

// Error codes carried in ErrorPayload.Code.
const (
	CodeBadFrame     = "bad_frame"
	CodeBadOrderID   = "bad_order_id"
	CodeRoomFull     = "room_full"
	CodeTooManyRooms = "too_many_rooms"
	CodeUnknownEvent = "unknown_event"
)

// Frame is the envelope of every message on the order channel, in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// RoomPayload is the body of join and leave requests.
type RoomPayload struct {
	OrderID json.RawMessage `json:"orderId"`
}

// StatusEvent is broadcast to an order's room when its status changes.
// Status stays a plain string on the wire; receivers validate it.
type StatusEvent struct {
	OrderID   int64     `json:"orderId"`
	Status    string    `json:"status"`
	ChangedAt time.Time `json:"changedAt"`
}

// ErrorPayload tells a client why a request was refused.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	OrderID int64  `json:"orderId,omitempty"`
}

// NewStatusEvent builds the broadcast for a persisted status change.
func NewStatusEvent(orderID int64, status model.OrderStatus, at time.Time) StatusEvent {
	return StatusEvent{OrderID: orderID, Status: status.String(), ChangedAt: at}
}

func encodeFrame(event string, data any) ([]byte, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: body})
}
