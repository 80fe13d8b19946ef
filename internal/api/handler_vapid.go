package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetVAPIDPublicKey returns the VAPID public key to the client.
func (h *Handler) GetVAPIDPublicKey(c *gin.Context) {
	if h.webpush == nil || h.webpush.VAPIDPublicKey == "" {
		fail(c, http.StatusServiceUnavailable, "vapid keys are not configured")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "public_key": h.webpush.VAPIDPublicKey})
}

// Health reports liveness and the number of open rooms.
func (h *Handler) Health(c *gin.Context) {
	rooms := 0
	if h.hub != nil {
		rooms = h.hub.RoomCount()
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "rooms": rooms})
}
