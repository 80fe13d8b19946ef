package store

import "errors"

// ErrOrderNotFound is returned when no order row matches the given id.
var ErrOrderNotFound = errors.New("order not found")

// DefaultTimelineLimit caps ListStatusEvents when the caller passes no limit.
const DefaultTimelineLimit = 50

// subscriptionJoinTable is the many2many table between push subscriptions and orders.
const subscriptionJoinTable = "subscription_order_mapping"
