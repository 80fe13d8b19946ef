package parse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const roomPrefix = "order:"

// RoomName returns the room key subscribers of an order join.
func RoomName(orderID int64) string {
	return roomPrefix + strconv.FormatInt(orderID, 10)
}

// ParseRoomName extracts the order id from a room key built by RoomName.
func ParseRoomName(name string) (int64, error) {
	rest, ok := strings.CutPrefix(name, roomPrefix)
	if !ok {
		return 0, fmt.Errorf("room %q is not an order room", name)
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("room %q has no valid order id", name)
	}
	return id, nil
}

// OrderID decodes an order id sent either as a JSON number or a numeric string.
func OrderID(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, fmt.Errorf("order id is missing")
	}

	var s string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("order id: %w", err)
		}
	} else {
		s = string(raw)
	}

	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("order id %s is not an integer", raw)
	}
	if id <= 0 {
		return 0, fmt.Errorf("order id %d must be positive", id)
	}
	return id, nil
}
