package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"pharmacy-order-status/internal/model"
	"pharmacy-order-status/internal/orders"
	"pharmacy-order-status/internal/parse"
	"pharmacy-order-status/internal/store"
)

type publishStatusRequest struct {
	OrderID json.RawMessage `json:"orderId"`
	Status  string          `json:"status"`
}

func allowedStatuses() string {
	names := make([]string, 0, len(model.AllStatuses()))
	for _, st := range model.AllStatuses() {
		names = append(names, st.String())
	}
	return strings.Join(names, ", ")
}

// PublishStatus persists an admin's status change and broadcasts it to the order's subscribers.
func (h *Handler) PublishStatus(c *gin.Context) {
	var req publishStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request")
		return
	}

	orderID, err := parse.OrderID(req.OrderID)
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid order id")
		return
	}

	order, err := h.orders.UpdateStatus(c.Request.Context(), orderID, req.Status, "admin")
	switch {
	case err == nil:
	case errors.Is(err, orders.ErrInvalidStatus):
		fail(c, http.StatusBadRequest, fmt.Sprintf("invalid status %q, expected one of %s", req.Status, allowedStatuses()))
		return
	case errors.Is(err, store.ErrOrderNotFound):
		fail(c, http.StatusNotFound, "order not found")
		return
	default:
		h.log.Error("failed to update order status", zap.Int64("order_id", orderID), zap.Error(err))
		fail(c, http.StatusInternalServerError, "failed to update order status")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Order status updated",
		"order":   order,
	})
}

// GetOrder returns the persisted order, used for first render and for reconciliation.
func (h *Handler) GetOrder(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		h.orderError(c, orderID, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "order": order})
}

// GetTimeline returns the order's status history, newest first.
func (h *Handler) GetTimeline(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	limit := store.DefaultTimelineLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			fail(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	events, err := h.orders.Timeline(c.Request.Context(), orderID, limit)
	if err != nil {
		h.orderError(c, orderID, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "orderId": orderID, "events": events})
}

func (h *Handler) orderError(c *gin.Context, orderID int64, err error) {
	if errors.Is(err, store.ErrOrderNotFound) {
		fail(c, http.StatusNotFound, "order not found")
		return
	}
	h.log.Error("failed to load order", zap.Int64("order_id", orderID), zap.Error(err))
	fail(c, http.StatusInternalServerError, "failed to load order")
}
