package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"pharmacy-order-status/internal/model"
	"pharmacy-order-status/internal/store"
)

type putSubscriptionRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
	P256DH   string `json:"p256dh" binding:"required"`
	Auth     string `json:"auth" binding:"required"`
}

// PutSubscription attaches a browser push subscription to the order, creating or refreshing its keys.
func (h *Handler) PutSubscription(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	var req putSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request")
		return
	}

	err := h.store.AddSubscription(c.Request.Context(), orderID, model.PushSubscription{
		Endpoint: req.Endpoint,
		P256DH:   req.P256DH,
		Auth:     req.Auth,
	})
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			fail(c, http.StatusNotFound, "order not found")
			return
		}
		h.log.Error("failed to save push subscription", zap.Int64("order_id", orderID), zap.Error(err))
		fail(c, http.StatusInternalServerError, "failed to save subscription")
		return
	}

	c.Status(http.StatusCreated)
}

type deleteSubscriptionRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

// DeleteSubscription detaches the subscription from the order.
func (h *Handler) DeleteSubscription(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	var req deleteSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request")
		return
	}

	if err := h.store.RemoveSubscription(c.Request.Context(), orderID, req.Endpoint); err != nil {
		h.log.Error("failed to remove push subscription", zap.Int64("order_id", orderID), zap.Error(err))
		fail(c, http.StatusInternalServerError, "failed to remove subscription")
		return
	}

	c.Status(http.StatusNoContent)
}

// rawQueryParam reads a query value without URL decoding; push endpoints are compared byte for byte.
func rawQueryParam(rawQuery, key string) (string, bool) {
	for _, kv := range strings.Split(rawQuery, "&") {
		if strings.HasPrefix(kv, key+"=") {
			return kv[len(key)+1:], true
		}
	}
	return "", false
}

// GetSubscription reports whether the endpoint is subscribed to the order.
func (h *Handler) GetSubscription(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	raw, ok := rawQueryParam(c.Request.URL.RawQuery, "endpoint")
	if !ok || raw == "" {
		fail(c, http.StatusBadRequest, "endpoint is required")
		return
	}

	subscribed, err := h.store.HasSubscription(c.Request.Context(), orderID, raw)
	if err != nil {
		h.log.Error("failed to look up push subscription", zap.Int64("order_id", orderID), zap.Error(err))
		fail(c, http.StatusInternalServerError, "failed to look up subscription")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "subscribed": subscribed})
}
