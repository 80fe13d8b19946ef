package model

import "time"

// Order is the storefront order row. Only Status is written by this service.
type Order struct {
	ID               int64       `gorm:"primaryKey" json:"id"`
	CustomerID       int64       `gorm:"index;not null" json:"customerId"`
	Status           OrderStatus `gorm:"type:varchar(32);not null;default:PENDING" json:"status"`
	PaymentStatus    string      `gorm:"size:32;not null;default:UNPAID" json:"paymentStatus"`
	SubtotalCents    int64       `gorm:"not null" json:"subtotalCents"`
	DeliveryFeeCents int64       `gorm:"not null" json:"deliveryFeeCents"`
	TotalCents       int64       `gorm:"not null" json:"totalCents"`
	CreatedAt        time.Time   `json:"createdAt"`
	UpdatedAt        time.Time   `json:"updatedAt"`
}

// OrderStatusEvent is one entry of an order's status timeline.
type OrderStatusEvent struct {
	ID        int64       `gorm:"primaryKey" json:"id"`
	OrderID   int64       `gorm:"index;not null" json:"orderId"`
	Status    OrderStatus `gorm:"type:varchar(32);not null" json:"status"`
	Source    string      `gorm:"size:64;not null" json:"source"`
	ChangedAt time.Time   `gorm:"index;not null" json:"changedAt"`
}
