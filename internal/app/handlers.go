package app

import (
	"github.com/hiddenhill/papervid-backend/internal/handlers"
	"github.com/hiddenhill/papervid-backend/internal/logger"
	"github.com/hiddenhill/papervid-backend/internal/sse"
)

type Handlers struct {
	Videos *handlers.VideosHandler
	SSE    *handlers.SSEHandler
}

func wireHandlers(log *logger.Logger, cfg Config, serviceset Services, sseHub *sse.SSEHub) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Videos: handlers.NewVideosHandler(
			log,
			serviceset.JobService,
			serviceset.Upload,
			serviceset.Resolver,
			serviceset.Detector,
			serviceset.Store,
			cfg.MediaRoot,
		),
		SSE: handlers.NewSSEHandler(log, sseHub),
	}
}
