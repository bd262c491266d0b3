package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/suPer8Hu/roomtalk/internal/ai"
	"github.com/suPer8Hu/roomtalk/internal/cache"
	"github.com/suPer8Hu/roomtalk/internal/chat"
	"github.com/suPer8Hu/roomtalk/internal/config"
	"github.com/suPer8Hu/roomtalk/internal/httpapi/middleware"
	"github.com/suPer8Hu/roomtalk/internal/jobs"
	"github.com/suPer8Hu/roomtalk/internal/queue"
	"github.com/suPer8Hu/roomtalk/internal/usage"
)

// Handler holds every collaborator the API endpoints need. main wires the
// concrete instances; handlers never construct their own.
type Handler struct {
	DB      *gorm.DB
	Cfg     config.Config
	Rooms   *chat.Repo
	Jobs    *jobs.Service
	Ledger  *usage.Ledger
	Views   *cache.Store
	Caches  *cache.Manager
	Gateway *ai.Gateway
	Queue   *queue.Admin
	Log     zerolog.Logger
}

func userIDFromContext(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}
