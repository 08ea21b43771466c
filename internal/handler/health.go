package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type realtimeStatus interface {
	Listening() bool
	Subscribers() int
}

type HealthHandler struct {
	feed realtimeStatus
}

func NewHealthHandler(feed realtimeStatus) *HealthHandler {
	return &HealthHandler{feed: feed}
}

// Check stays 200 while realtime is down: chats keep working in degraded mode.
func (h *HealthHandler) Check(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"service":     "gig-marketplace-messaging",
		"realtime":    h.feed.Listening(),
		"subscribers": h.feed.Subscribers(),
	})
}
