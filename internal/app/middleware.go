package app

import (
	"github.com/hiddenhill/papervid-backend/internal/logger"
	"github.com/hiddenhill/papervid-backend/internal/middleware"
)

type Middleware struct {
	Access *middleware.AccessMiddleware
}

func wireMiddleware(log *logger.Logger, cfg Config) Middleware {
	log.Info("Wiring middleware...")
	return Middleware{
		Access: middleware.NewAccessMiddleware(log, cfg.AccessCode),
	}
}
