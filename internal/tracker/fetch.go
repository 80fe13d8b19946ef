package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"pharmacy-order-status/internal/model"
)

// ErrOrderNotFound is returned when the server has no such order.
var ErrOrderNotFound = errors.New("order not found")

// HTTPFetcher reads order status from the REST API.
type HTTPFetcher struct {
	baseURL string
	client  *http.Client
}

// NewHTTPFetcher creates a fetcher for the server at baseURL. A nil client means http.DefaultClient.
func NewHTTPFetcher(baseURL string, client *http.Client) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Snapshot is the persisted status of an order and the time it was set.
type Snapshot struct {
	Status    model.OrderStatus
	UpdatedAt time.Time
}

type orderResponse struct {
	Order struct {
		ID        int64     `json:"id"`
		Status    string    `json:"status"`
		UpdatedAt time.Time `json:"updatedAt"`
	} `json:"order"`
}

// FetchStatus returns the persisted status of the order.
func (f *HTTPFetcher) FetchStatus(ctx context.Context, orderID int64) (Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/api/orders/%d", f.baseURL, orderID), nil)
	if err != nil {
		return Snapshot{}, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to fetch order %d: %w", orderID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Snapshot{}, ErrOrderNotFound
	case resp.StatusCode != http.StatusOK:
		return Snapshot{}, fmt.Errorf("failed to fetch order %d: unexpected status %d", orderID, resp.StatusCode)
	}

	var body orderResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode order %d: %w", orderID, err)
	}
	status, err := model.ParseOrderStatus(body.Order.Status)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Status: status, UpdatedAt: body.Order.UpdatedAt}, nil
}
