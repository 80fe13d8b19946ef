package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pharmacy-order-status/internal/model"
)

// Store defines the interface for all database operations.
type Store interface {
	DB() *gorm.DB
	GetOrder(ctx context.Context, id int64) (model.Order, error)
	UpdateOrderStatus(ctx context.Context, id int64, status model.OrderStatus, source string, at time.Time) (model.Order, error)
	ListStatusEvents(ctx context.Context, orderID int64, limit int) ([]model.OrderStatusEvent, error)

	SubscriptionsForOrder(ctx context.Context, orderID int64) ([]model.PushSubscription, error)
	AddSubscription(ctx context.Context, orderID int64, sub model.PushSubscription) error
	RemoveSubscription(ctx context.Context, orderID int64, endpoint string) error
	HasSubscription(ctx context.Context, orderID int64, endpoint string) (bool, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// GetOrder loads a single order by id.
func (s *gormStore) GetOrder(ctx context.Context, id int64) (model.Order, error) {
	var order model.Order
	if err := s.db.WithContext(ctx).First(&order, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Order{}, ErrOrderNotFound
		}
		return model.Order{}, fmt.Errorf("failed to load order %d: %w", id, err)
	}
	return order, nil
}

// UpdateOrderStatus overwrites the status column and appends a timeline row in one transaction.
// No transition check is made; whatever status arrives last wins.
func (s *gormStore) UpdateOrderStatus(ctx context.Context, id int64, status model.OrderStatus, source string, at time.Time) (model.Order, error) {
	var order model.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Order{}).
			Where("id = ?", id).
			Updates(map[string]any{"status": string(status), "updated_at": at})
		if res.Error != nil {
			return fmt.Errorf("failed to update status of order %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrOrderNotFound
		}

		event := model.OrderStatusEvent{
			OrderID:   id,
			Status:    status,
			Source:    source,
			ChangedAt: at,
		}
		if err := tx.Create(&event).Error; err != nil {
			return fmt.Errorf("failed to record status event for order %d: %w", id, err)
		}

		if err := tx.First(&order, id).Error; err != nil {
			return fmt.Errorf("failed to reload order %d: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return model.Order{}, err
	}
	return order, nil
}

// ListStatusEvents returns the most recent status changes of an order, newest first.
func (s *gormStore) ListStatusEvents(ctx context.Context, orderID int64, limit int) ([]model.OrderStatusEvent, error) {
	if limit <= 0 {
		limit = DefaultTimelineLimit
	}

	var events []model.OrderStatusEvent
	err := s.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("changed_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list status events for order %d: %w", orderID, err)
	}
	return events, nil
}

// SubscriptionsForOrder returns the push subscriptions attached to an order.
func (s *gormStore) SubscriptionsForOrder(ctx context.Context, orderID int64) ([]model.PushSubscription, error) {
	var subscriptions []model.PushSubscription
	err := s.db.WithContext(ctx).
		Joins("JOIN "+subscriptionJoinTable+" som ON som.push_subscription_endpoint = push_subscriptions.endpoint").
		Where("som.order_id = ?", orderID).
		Find(&subscriptions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch subscriptions for order %d: %w", orderID, err)
	}
	return subscriptions, nil
}

// AddSubscription upserts the subscription keys and attaches it to the order.
func (s *gormStore) AddSubscription(ctx context.Context, orderID int64, sub model.PushSubscription) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order model.Order
		if err := tx.Select("id").First(&order, orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrOrderNotFound
			}
			return err
		}

		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "endpoint"}},
			DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth"}),
		}).Omit("Orders").Create(&sub).Error; err != nil {
			return err
		}

		return tx.Exec("INSERT INTO "+subscriptionJoinTable+" (push_subscription_endpoint, order_id) VALUES (?, ?) ON CONFLICT DO NOTHING",
			sub.Endpoint, order.ID).Error
	})
}

// RemoveSubscription detaches a subscription from one order, keeping it for others.
func (s *gormStore) RemoveSubscription(ctx context.Context, orderID int64, endpoint string) error {
	return s.db.WithContext(ctx).
		Exec("DELETE FROM "+subscriptionJoinTable+" WHERE push_subscription_endpoint = ? AND order_id = ?", endpoint, orderID).
		Error
}

// HasSubscription reports whether the endpoint is attached to the order.
func (s *gormStore) HasSubscription(ctx context.Context, orderID int64, endpoint string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Table(subscriptionJoinTable).
		Where("push_subscription_endpoint = ? AND order_id = ?", endpoint, orderID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// DeleteSubscription removes a subscription everywhere, e.g. after the push service reports it gone.
func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM "+subscriptionJoinTable+" WHERE push_subscription_endpoint = ?", endpoint).Error; err != nil {
			return err
		}
		return tx.Delete(&model.PushSubscription{Endpoint: endpoint}).Error
	})
}
