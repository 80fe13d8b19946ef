package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"pharmacy-order-status/internal/mw"
	"pharmacy-order-status/internal/realtime"
)

// RouterOptions tunes the middleware in front of the API.
type RouterOptions struct {
	RateLimitPerSec float64
	RateLimitBurst  int
	// Cache is optional; when nil GET responses are not cached.
	Cache  *mw.ResponseCache
	WSPath string
}

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler, ws *realtime.Server, opts RouterOptions, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(mw.GinLogger(log), mw.Recovery(log))

	if opts.WSPath == "" {
		opts.WSPath = "/ws/orders"
	}

	var caching gin.HandlerFunc = func(c *gin.Context) { c.Next() }
	if opts.Cache != nil {
		caching = mw.Cache(opts.Cache)
	}

	r.GET("/healthz", h.Health)
	if ws != nil {
		r.GET(opts.WSPath, ws.ServeWS)
	}

	api := r.Group("/api")
	if opts.RateLimitPerSec > 0 {
		api.Use(mw.RateLimiter(mw.NewIPRateLimiter(rate.Limit(opts.RateLimitPerSec), opts.RateLimitBurst)))
	}
	{
		api.POST("/admin/orders/status", h.PublishStatus)

		api.GET("/orders/:id", caching, h.GetOrder)
		api.GET("/orders/:id/timeline", caching, h.GetTimeline)

		api.GET("/orders/:id/push-subscription", h.GetSubscription)
		api.PUT("/orders/:id/push-subscription", h.PutSubscription)
		api.DELETE("/orders/:id/push-subscription", h.DeleteSubscription)

		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)
	}

	return r
}
