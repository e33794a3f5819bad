package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gorm.io/gorm"

	"github.com/hiddenhill/papervid-backend/internal/clients/redis"
	"github.com/hiddenhill/papervid-backend/internal/jobs"
	"github.com/hiddenhill/papervid-backend/internal/logger"
	"github.com/hiddenhill/papervid-backend/internal/pipeline"
	"github.com/hiddenhill/papervid-backend/internal/progress"
	"github.com/hiddenhill/papervid-backend/internal/runner"
	"github.com/hiddenhill/papervid-backend/internal/services"
	"github.com/hiddenhill/papervid-backend/internal/sse"
	"github.com/hiddenhill/papervid-backend/internal/storage"
)

type Services struct {
	// Clients
	SSEBus redis.SSEBus
	LLM    services.LLMClient
	Store  storage.Store

	// Domain
	Paper  services.PaperService
	Script services.ScriptService
	Audio  services.AudioService
	Video  services.VideoService
	Upload services.UploadService
	Media  services.MediaToolsService

	// Jobs + notifications
	JobNotifier services.JobNotifier
	JobService  services.JobService

	// Progress tracking
	Detector *pipeline.Detector
	Resolver *progress.Resolver
	Updater  *progress.Updater
	Queue    *progress.UpdateQueue

	// Job infra
	JobRegistry *jobs.Registry
	JobWorker   *jobs.Worker
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, reposet Repos, sseHub *sse.SSEHub) (Services, error) {
	log.Info("Wiring services...")

	// Redis
	var bus redis.SSEBus
	if strings.TrimSpace(os.Getenv("REDIS_ADDR")) != "" {
		b, err := redis.NewSSEBus(log)
		if err != nil {
			return Services{}, fmt.Errorf("init redis SSE bus: %w", err)
		}
		bus = b
	}
	notifier := services.NewJobNotifier(sseHub, bus, log)

	// Openai
	llm, err := services.NewLLMClient(log)
	if err != nil {
		return Services{}, fmt.Errorf("init LLM client: %w", err)
	}

	// Storage
	var store storage.Store
	switch cfg.StorageMode {
	case "gcs":
		gcs, err := storage.NewGCSStore(log)
		if err != nil {
			return Services{}, fmt.Errorf("init GCS store: %w", err)
		}
		store = gcs
	default:
		local, err := storage.NewLocalStore(cfg.MediaRoot, log)
		if err != nil {
			return Services{}, fmt.Errorf("init local store: %w", err)
		}
		store = local
	}

	// Pipeline steps
	media := services.NewMediaToolsService(log)
	paper := services.NewPaperService(log)
	script := services.NewScriptService(llm, log)
	audio := services.NewAudioService(llm, log)

	// In local mode the final video already lives under the media root, so
	// there is nothing to push after the merge.
	var uploadStore storage.Store
	if cfg.StorageMode == "gcs" {
		uploadStore = store
	}
	video := services.NewVideoService(media, uploadStore, log)
	upload := services.NewUploadService(log)

	// Progress tracking
	detector := pipeline.NewDetector(log)
	updater := progress.NewUpdater(reposet.VideoJob, log)
	queue := progress.NewUpdateQueue(updater.Apply, log)
	var finalArtifact progress.FinalArtifactCheck
	if cfg.StorageMode == "gcs" {
		finalArtifact = storedFinalArtifactCheck(detector, store, log)
	}
	resolver := progress.NewResolver(detector, reposet.VideoJob, finalArtifact, log)

	// Jobs
	jobService := services.NewJobService(reposet.VideoJob, notifier, log)
	actions := services.NewStepAdapter(paper, script, audio, video)
	videoRunner := runner.NewRunner(detector, actions, updater, queue, cfg.MediaRoot, log)

	registry := jobs.NewRegistry()
	if err := registry.Register(videoRunner); err != nil {
		return Services{}, fmt.Errorf("register job handlers: %w", err)
	}
	worker := jobs.NewWorker(db, log, reposet.VideoJob, registry, notifier)

	return Services{
		SSEBus:      bus,
		LLM:         llm,
		Store:       store,
		Paper:       paper,
		Script:      script,
		Audio:       audio,
		Video:       video,
		Upload:      upload,
		Media:       media,
		JobNotifier: notifier,
		JobService:  jobService,
		Detector:    detector,
		Resolver:    resolver,
		Updater:     updater,
		Queue:       queue,
		JobRegistry: registry,
		JobWorker:   worker,
	}, nil
}

// In gcs mode the merged video may only exist remotely, for example after a
// restart wipes the local media volume. The status read path has to see it
// there too.
func storedFinalArtifactCheck(detector *pipeline.Detector, store storage.Store, log *logger.Logger) progress.FinalArtifactCheck {
	return func(ctx context.Context, w pipeline.Workdir) bool {
		if detector.FinalVideoExists(w) {
			return true
		}
		ok, err := store.Exists(ctx, w.PaperID+"/"+pipeline.FinalVideoFile)
		if err != nil {
			log.Warn("Remote final video lookup failed", "paper_id", w.PaperID, "error", err)
			return false
		}
		return ok
	}
}
