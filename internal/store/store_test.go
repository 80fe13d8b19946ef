package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"pharmacy-order-status/internal/model"
)

// A helper function to create a mock database connection.
func newTestDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

// newSQLiteDB opens an isolated in-memory SQLite database with the schema migrated.
func newSQLiteDB(t *testing.T) *gorm.DB {
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	testDB, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)

	err = testDB.AutoMigrate(&model.Order{}, &model.OrderStatusEvent{}, &model.PushSubscription{})
	require.NoError(t, err)

	sqlDB, _ := testDB.DB()
	t.Cleanup(func() { sqlDB.Close() })
	return testDB
}

func TestGormStore_UpdateOrderStatus(t *testing.T) {
	now := time.Now().UTC()

	testCases := []struct {
		name             string
		mockExpectations func(mock sqlmock.Sqlmock)
		expectedErr      error
		expectAnyErr     bool
	}{
		{
			name: "Existing order is updated and event recorded",
			mockExpectations: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta(`UPDATE "orders" SET`)).
					WithArgs("CONFIRMED", Any{}, 42).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "order_status_events"`)).
					WithArgs(42, "CONFIRMED", "admin", Any{}).
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "orders" WHERE "orders"."id" = $1`)).
					WithArgs(42, 1).
					WillReturnRows(sqlmock.NewRows([]string{"id", "customer_id", "status", "payment_status", "total_cents", "updated_at"}).
						AddRow(42, 9, "CONFIRMED", "PAID", 1299, now))
				mock.ExpectCommit()
			},
		},
		{
			name: "Missing order rolls back",
			mockExpectations: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta(`UPDATE "orders" SET`)).
					WithArgs("CONFIRMED", Any{}, 42).
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectRollback()
			},
			expectedErr: ErrOrderNotFound,
		},
		{
			name: "Write failure rolls back",
			mockExpectations: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta(`UPDATE "orders" SET`)).
					WillReturnError(errors.New("connection reset"))
				mock.ExpectRollback()
			},
			expectAnyErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gormDB, mock := newTestDB(t)
			store := NewGormStore(gormDB)

			tc.mockExpectations(mock)

			order, err := store.UpdateOrderStatus(context.Background(), 42, model.StatusConfirmed, "admin", now)

			switch {
			case tc.expectedErr != nil:
				assert.ErrorIs(t, err, tc.expectedErr)
			case tc.expectAnyErr:
				assert.Error(t, err)
				assert.NotErrorIs(t, err, ErrOrderNotFound)
			default:
				require.NoError(t, err)
				assert.Equal(t, int64(42), order.ID)
				assert.Equal(t, model.StatusConfirmed, order.Status)
			}

			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestGormStore_GetOrder(t *testing.T) {
	testDB := newSQLiteDB(t)
	store := NewGormStore(testDB)

	require.NoError(t, testDB.Create(&model.Order{ID: 7, CustomerID: 1, Status: model.StatusPacked, TotalCents: 500}).Error)

	order, err := store.GetOrder(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPacked, order.Status)

	_, err = store.GetOrder(context.Background(), 8)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestGormStore_StatusTimeline(t *testing.T) {
	testDB := newSQLiteDB(t)
	store := NewGormStore(testDB)
	ctx := context.Background()

	require.NoError(t, testDB.Create(&model.Order{ID: 42, CustomerID: 1, Status: model.StatusPending}).Error)

	start := time.Now().UTC().Add(-time.Hour)
	sequence := []model.OrderStatus{model.StatusConfirmed, model.StatusPacked, model.StatusConfirmed}
	for i, st := range sequence {
		order, err := store.UpdateOrderStatus(ctx, 42, st, "admin", start.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, st, order.Status)
	}

	// going backwards is accepted, last write wins
	order, err := store.GetOrder(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, order.Status)

	events, err := store.ListStatusEvents(ctx, 42, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, model.StatusConfirmed, events[0].Status)
	assert.Equal(t, model.StatusPacked, events[1].Status)

	limited, err := store.ListStatusEvents(ctx, 42, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	_, err = store.UpdateOrderStatus(ctx, 404, model.StatusPacked, "admin", time.Now())
	assert.ErrorIs(t, err, ErrOrderNotFound)

	var count int64
	testDB.Model(&model.OrderStatusEvent{}).Where("order_id = ?", 404).Count(&count)
	assert.Zero(t, count, "a failed update must not leave a timeline row")
}

func TestGormStore_Subscriptions(t *testing.T) {
	testDB := newSQLiteDB(t)
	store := NewGormStore(testDB)
	ctx := context.Background()

	require.NoError(t, testDB.Create(&[]model.Order{{ID: 1, CustomerID: 1}, {ID: 2, CustomerID: 1}}).Error)

	sub := model.PushSubscription{Endpoint: "https://push.example.com/a", P256DH: "key", Auth: "auth"}
	require.NoError(t, store.AddSubscription(ctx, 1, sub))
	require.NoError(t, store.AddSubscription(ctx, 2, sub))
	// attaching twice is a no-op
	require.NoError(t, store.AddSubscription(ctx, 1, sub))

	assert.ErrorIs(t, store.AddSubscription(ctx, 99, sub), ErrOrderNotFound)

	subs, err := store.SubscriptionsForOrder(ctx, 1)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "key", subs[0].P256DH)

	ok, err := store.HasSubscription(ctx, 2, sub.Endpoint)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.RemoveSubscription(ctx, 2, sub.Endpoint))
	ok, err = store.HasSubscription(ctx, 2, sub.Endpoint)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.DeleteSubscription(ctx, sub.Endpoint))
	subs, err = store.SubscriptionsForOrder(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

// Any is a helper for sqlmock to match any argument.
type Any struct{}

// Match satisfies the sqlmock.Argument interface
func (a Any) Match(v driver.Value) bool {
	return true
}
