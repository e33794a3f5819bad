package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/hiddenhill/papervid-backend/internal/handlers"
	"github.com/hiddenhill/papervid-backend/internal/middleware"
)

type RouterConfig struct {
	VideosHandler    *handlers.VideosHandler
	SSEHandler       *handlers.SSEHandler
	AccessMiddleware *middleware.AccessMiddleware
	AllowOrigins     []string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	// Cors
	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{
			"http://localhost:80",
			"http://localhost:3000",
			"http://localhost:5173",
		}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With", "X-Access-Code"},
		AllowCredentials: true,
	}))

	// ===============
	// || Public    ||
	// ===============
	router.GET("/healthcheck", handlers.HealthCheck)
	router.GET("/video/:paper_id", cfg.VideosHandler.ServeVideo)
	router.GET("/sse/stream", cfg.SSEHandler.SSEStream)

	// ===============
	// || Protected ||
	// ===============
	router.POST("/upload", cfg.AccessMiddleware.RequireAccess(), cfg.VideosHandler.Upload)
	api := router.Group("/api")
	api.Use(cfg.AccessMiddleware.RequireAccess())
	{
		api.POST("/generate", cfg.VideosHandler.Generate)
		api.POST("/upload", cfg.VideosHandler.Upload)
		api.GET("/status/:paper_id", cfg.VideosHandler.GetStatus)
		api.GET("/result/:paper_id", cfg.VideosHandler.GetResult)
		api.GET("/jobs/:id", cfg.VideosHandler.GetJobByTaskID)
	}

	return router
}
