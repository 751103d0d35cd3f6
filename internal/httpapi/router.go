package httpapi

import (
	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/playmate/internal/httpapi/handlers"
	"github.com/suPer8Hu/playmate/internal/httpapi/middleware"
	"github.com/suPer8Hu/playmate/internal/logger"
)

func NewRouter(h *handlers.Handler, webhookSecret string, log *logger.Logger) *gin.Engine {
	if log == nil {
		log = logger.Nop()
	}
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(log))
	r.Use(middleware.AccessLog(log))

	r.NoRoute(h.NoRoute)
	r.NoMethod(h.NoMethod)

	r.GET("/ping", h.Ping)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(webhookSecret))
	authGroup.POST("/webhook/inbound", h.Inbound)
	authGroup.GET("/sessions/:session_id/messages", h.ListMessages)
	return r
}
