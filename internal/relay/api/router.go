package api

import (
	"github.com/gin-gonic/gin"

	"github.com/finsight/finsight/internal/common/logger"
	"github.com/finsight/finsight/internal/relay"
)

// SetupRoutes configures the progress relay API routes
func SetupRoutes(router *gin.RouterGroup, svc *relay.Service, upstream *relay.Upstream, log *logger.Logger) *Handler {
	handler := NewHandler(svc, upstream, log)

	progress := router.Group("/progress")
	{
		progress.GET("", handler.ListSessions)
		progress.GET("/:sessionId", handler.StreamProgress)
		progress.POST("/:sessionId", handler.PublishProgress)
		progress.GET("/:sessionId/ws", handler.StreamProgressWS)
		progress.GET("/:sessionId/logs", handler.ListLogs)
		progress.DELETE("/:sessionId/logs", handler.ClearLogs)
	}

	return handler
}
