package jobs

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/hiddenhill/papervid-backend/internal/logger"
	"github.com/hiddenhill/papervid-backend/internal/repos"
	"github.com/hiddenhill/papervid-backend/internal/services"
	"github.com/hiddenhill/papervid-backend/internal/types"
	"github.com/hiddenhill/papervid-backend/internal/utils"
)

// JobTypeGenerateVideo is the only job type the pool currently dispatches.
const JobTypeGenerateVideo = "generate_video"

type Worker struct {
	db       *gorm.DB
	log      *logger.Logger
	repo     repos.VideoJobRepo
	registry *Registry
	notify   services.JobNotifier

	staleRunning time.Duration
}

func NewWorker(db *gorm.DB, baseLog *logger.Logger, repo repos.VideoJobRepo, registry *Registry, notify services.JobNotifier) *Worker {
	return &Worker{
		db:           db,
		log:          baseLog.With("component", "JobWorker"),
		repo:         repo,
		registry:     registry,
		notify:       notify,
		staleRunning: 30 * time.Minute,
	}
}

func (w *Worker) Start(ctx context.Context) {
	concurrency := utils.GetEnvAsInt("WORKER_CONCURRENCY", 2, w.log)
	if concurrency < 1 {
		concurrency = 1
	}
	w.log.Info("Starting job worker pool", "concurrency", concurrency)

	for i := 0; i < concurrency; i++ {
		workerID := i + 1
		go w.runLoop(ctx, workerID)
	}
}

func (w *Worker) runLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker loop stopped", "worker_id", workerID)
			return
		case <-ticker.C:
			job, err := w.repo.ClaimNextRunnable(ctx, w.db, w.staleRunning)
			if err != nil {
				w.log.Warn("ClaimNextRunnable failed", "worker_id", workerID, "error", err)
				continue
			}
			if job == nil {
				continue
			}

			jc := NewContext(ctx, w.db, job, w.repo, w.notify)
			h, ok := w.registry.Get(JobTypeGenerateVideo)
			if !ok {
				w.log.Warn("No handler registered",
					"worker_id", workerID,
					"job_type", JobTypeGenerateVideo,
					"job_id", job.ID,
				)
				jc.Fail("no handler registered for job_type="+JobTypeGenerateVideo, types.ErrTypeTask)
				continue
			}

			func() {
				defer func() {
					if r := recover(); r != nil {
						w.log.Error("Job handler panic",
							"worker_id", workerID,
							"job_id", job.ID,
							"panic", r,
						)
						jc.Fail(fmt.Sprintf("task panicked: %v", r), types.ErrTypeTask)
					}
				}()

				if runErr := h.Run(jc); runErr != nil {
					// The runner records its own terminal state; this is
					// the safety net for bookkeeping errors.
					jc.Fail(runErr.Error(), types.ErrTypeTask)
				}
			}()
		}
	}
}
