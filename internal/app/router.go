package app

import (
	"github.com/gin-gonic/gin"

	"github.com/hiddenhill/papervid-backend/internal/server"
)

func wireRouter(cfg Config, handlerset Handlers, mw Middleware) *gin.Engine {
	return server.NewRouter(server.RouterConfig{
		VideosHandler:    handlerset.Videos,
		SSEHandler:       handlerset.SSE,
		AccessMiddleware: mw.Access,
		AllowOrigins:     cfg.AllowOrigins,
	})
}
