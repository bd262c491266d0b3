// Package httpapi assembles the gin router for the API server.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/suPer8Hu/roomtalk/internal/common"
	"github.com/suPer8Hu/roomtalk/internal/httpapi/handlers"
	"github.com/suPer8Hu/roomtalk/internal/httpapi/middleware"
)

func NewRouter(h *handlers.Handler, reg *prometheus.Registry) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.Recovery(h.Log))
	r.Use(middleware.RequestID())
	r.Use(middleware.Metrics(reg))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", h.Ping)
	r.GET("/healthz", h.Health)
	r.GET("/healthz/ai", h.HealthAI)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	r.POST("/users", h.CreateUser)
	r.GET("/users/:id", h.GetUserByID)
	r.POST("/login", h.Login)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(h.Cfg.JWTSecret))
	authGroup.GET("/me", h.Me)

	// chatrooms and the async reply pipeline (JWT required)
	authGroup.POST("/chatrooms", h.CreateChatroom)
	authGroup.GET("/chatrooms", h.ListChatrooms)
	authGroup.GET("/chatrooms/:chatroom_id/messages", h.ListChatMessages)
	authGroup.POST("/chatrooms/:chatroom_id/messages", h.SendChatMessage)
	authGroup.GET("/jobs/:job_id", h.GetReplyJob)

	// operator surface
	admin := authGroup.Group("/admin")
	admin.POST("/jobs/test", h.SubmitTestJob)
	admin.GET("/queue/stats", h.QueueStats)
	admin.POST("/queue/pause", h.PauseQueue)
	admin.POST("/queue/resume", h.ResumeQueue)
	admin.POST("/queue/clean", h.CleanQueue)

	return r
}
