package api

import (
	"net/http"
	"strconv"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"pharmacy-order-status/internal/orders"
	"pharmacy-order-status/internal/realtime"
	"pharmacy-order-status/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	orders  *orders.Service
	store   store.Store
	hub     *realtime.Hub
	webpush *webpush.Options
	log     *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(svc *orders.Service, s store.Store, hub *realtime.Hub, webpushOptions *webpush.Options, log *zap.Logger) *Handler {
	return &Handler{
		orders:  svc,
		store:   s,
		hub:     hub,
		webpush: webpushOptions,
		log:     log,
	}
}

func fail(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, gin.H{"success": false, "message": message})
}

func orderIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		fail(c, http.StatusBadRequest, "invalid order id")
		return 0, false
	}
	return id, true
}
