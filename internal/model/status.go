package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownStatus is returned when a value is outside the closed status set.
var ErrUnknownStatus = errors.New("unknown order status")

// OrderStatus is the closed set of states an order moves through.
type OrderStatus string

const (
	StatusPending        OrderStatus = "PENDING"
	StatusConfirmed      OrderStatus = "CONFIRMED"
	StatusPacked         OrderStatus = "PACKED"
	StatusOutForDelivery OrderStatus = "OUT_FOR_DELIVERY"
	StatusDelivered      OrderStatus = "DELIVERED"
)

var allStatuses = []OrderStatus{
	StatusPending,
	StatusConfirmed,
	StatusPacked,
	StatusOutForDelivery,
	StatusDelivered,
}

var statusLabels = map[OrderStatus]string{
	StatusPending:        "Pending",
	StatusConfirmed:      "Confirmed",
	StatusPacked:         "Packed",
	StatusOutForDelivery: "Out for delivery",
	StatusDelivered:      "Delivered",
}

// AllStatuses returns the statuses in lifecycle order.
func AllStatuses() []OrderStatus {
	out := make([]OrderStatus, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseOrderStatus normalises s and checks it against the known set.
func ParseOrderStatus(s string) (OrderStatus, error) {
	st := OrderStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
	return st, nil
}

// Valid reports whether st is one of the known statuses.
func (st OrderStatus) Valid() bool {
	_, ok := statusLabels[st]
	return ok
}

func (st OrderStatus) String() string {
	return string(st)
}

// Label is the customer-facing wording of the status.
func (st OrderStatus) Label() string {
	if l, ok := statusLabels[st]; ok {
		return l
	}
	return "Unknown"
}
