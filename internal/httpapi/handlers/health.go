package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/roomtalk/internal/common"
)

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"message": "pong"})
}

// Health checks the dependencies the API path needs: the database and redis.
// The AI provider is deliberately excluded here; its outage degrades replies
// but not the API.
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	sqlDB, err := h.DB.DB()
	if err != nil || sqlDB.PingContext(ctx) != nil {
		common.Fail(c, http.StatusServiceUnavailable, 50301, "database unavailable")
		return
	}
	if err := h.Views.Client().Ping(ctx).Err(); err != nil {
		common.Fail(c, http.StatusServiceUnavailable, 50302, "redis unavailable")
		return
	}

	common.OK(c, gin.H{"status": "ok"})
}

// HealthAI probes the generation provider end to end with a fixed prompt.
func (h *Handler) HealthAI(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	if err := h.Gateway.Probe(ctx); err != nil {
		common.Fail(c, http.StatusServiceUnavailable, 50303, "ai provider unavailable")
		return
	}
	common.OK(c, gin.H{"status": "ok"})
}
