package progress

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hiddenhill/papervid-backend/internal/logger"
	"github.com/hiddenhill/papervid-backend/internal/repos"
	"github.com/hiddenhill/papervid-backend/internal/types"
)

const (
	// A pending/running job that never reported progress is stale after
	// this long since creation.
	staleCreationGrace = 5 * time.Minute
	// A job that has reported progress is stale once its last update is
	// older than this.
	staleUpdateWindow = 60 * time.Second
)

// Update is one write request against a job record.
type Update struct {
	Percent     int
	CurrentStep *string
	Status      string
	Force       bool
}

// Updater is the single write path for progress. All mutations happen under
// a row lock on the record so the parser goroutine, the fallback poller and
// the runner's terminal write cannot interleave.
type Updater struct {
	repo repos.VideoJobRepo
	log  *logger.Logger
}

func NewUpdater(repo repos.VideoJobRepo, baseLog *logger.Logger) *Updater {
	return &Updater{repo: repo, log: baseLog.With("component", "progress_updater")}
}

// Apply writes one update. It returns false when the update was rejected as
// a regression or the record does not exist. Database errors are logged and
// swallowed into a false return; progress reporting must never take down
// the generation work itself.
func (u *Updater) Apply(ctx context.Context, taskID uuid.UUID, upd Update) bool {
	applied := false
	err := u.repo.WithTx(ctx, func(tx *gorm.DB) error {
		job, err := u.repo.GetByTaskIDForUpdate(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if job == nil {
			return nil
		}

		now := time.Now()
		if upd.Percent < job.ProgressPercent && !upd.Force {
			// Writers can observe state out of order; a regression must
			// never become visible. Still refresh liveness.
			return u.repo.UpdateFields(ctx, tx, job.ID, map[string]interface{}{
				"progress_updated_at": now,
				"heartbeat_at":        now,
			})
		}

		status := upd.Status
		if status == "" {
			status = job.Status
		}
		percent := upd.Percent
		currentStep := upd.CurrentStep

		updates := map[string]interface{}{
			"progress_percent":    percent,
			"current_step":        currentStep,
			"status":              status,
			"progress_updated_at": now,
			"heartbeat_at":        now,
		}
		if percent >= 100 && status == types.JobStatusRunning {
			updates["status"] = types.JobStatusCompleted
			updates["current_step"] = nil
		}
		if updates["status"] == types.JobStatusCompleted {
			updates["current_step"] = nil
			if job.CompletedAt == nil {
				updates["completed_at"] = now
			}
		}
		if err := u.repo.UpdateFields(ctx, tx, job.ID, updates); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		u.log.Warn("Progress update failed", "task_id", taskID, "error", err)
		return false
	}
	return applied
}

// MarkFailed records a terminal failure without resetting the percent the
// job had reached.
func (u *Updater) MarkFailed(ctx context.Context, taskID uuid.UUID, errMsg, errType string) bool {
	applied := false
	err := u.repo.WithTx(ctx, func(tx *gorm.DB) error {
		job, err := u.repo.GetByTaskIDForUpdate(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if job == nil {
			return nil
		}
		now := time.Now()
		if err := u.repo.UpdateFields(ctx, tx, job.ID, map[string]interface{}{
			"status":              types.JobStatusFailed,
			"error_message":       errMsg,
			"error_type":          errType,
			"current_step":        nil,
			"progress_updated_at": now,
		}); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		u.log.Warn("Failure update failed", "task_id", taskID, "error", err)
		return false
	}
	return applied
}

// IsStale reports whether a pending/running job looks abandoned. Advisory
// only; staleness never flips status by itself.
func IsStale(job *types.VideoJob, now time.Time) bool {
	if job == nil {
		return false
	}
	if job.Status != types.JobStatusPending && job.Status != types.JobStatusRunning {
		return false
	}
	if job.ProgressUpdatedAt == nil {
		return now.Sub(job.CreatedAt) > staleCreationGrace
	}
	return now.Sub(*job.ProgressUpdatedAt) > staleUpdateWindow
}
