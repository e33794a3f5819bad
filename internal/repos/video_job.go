package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hiddenhill/papervid-backend/internal/logger"
	"github.com/hiddenhill/papervid-backend/internal/types"
)

type VideoJobRepo interface {
	Create(ctx context.Context, tx *gorm.DB, job *types.VideoJob) (*types.VideoJob, error)
	GetByTaskID(ctx context.Context, tx *gorm.DB, taskID uuid.UUID) (*types.VideoJob, error)
	GetByTaskIDForUpdate(ctx context.Context, tx *gorm.DB, taskID uuid.UUID) (*types.VideoJob, error)
	GetLatestByPaperID(ctx context.Context, tx *gorm.DB, paperID string) (*types.VideoJob, error)
	GetRunnableByPaperID(ctx context.Context, tx *gorm.DB, paperID string) (*types.VideoJob, error)
	ClaimNextRunnable(ctx context.Context, tx *gorm.DB, staleRunning time.Duration) (*types.VideoJob, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	ListRecent(ctx context.Context, tx *gorm.DB, limit int) ([]*types.VideoJob, error)
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type videoJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewVideoJobRepo(db *gorm.DB, baseLog *logger.Logger) VideoJobRepo {
	return &videoJobRepo{
		db:  db,
		log: baseLog.With("repo", "VideoJobRepo"),
	}
}

// rowLock returns a FOR UPDATE clause on dialects that support it. The
// sqlite databases used by tests serialize writers anyway.
func rowLock(db *gorm.DB, options string) []clause.Expression {
	if db.Dialector.Name() != "postgres" {
		return nil
	}
	return []clause.Expression{clause.Locking{Strength: "UPDATE", Options: options}}
}

func (r *videoJobRepo) Create(ctx context.Context, tx *gorm.DB, job *types.VideoJob) (*types.VideoJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if job == nil {
		return nil, nil
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.TaskID == uuid.Nil {
		job.TaskID = uuid.New()
	}
	if job.Status == "" {
		job.Status = types.JobStatusPending
	}
	if err := transaction.WithContext(ctx).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

func (r *videoJobRepo) GetByTaskID(ctx context.Context, tx *gorm.DB, taskID uuid.UUID) (*types.VideoJob, error) {
	return r.getByTaskID(ctx, tx, taskID, false)
}

// GetByTaskIDForUpdate loads the record under a row lock. Callers must hold
// an open transaction.
func (r *videoJobRepo) GetByTaskIDForUpdate(ctx context.Context, tx *gorm.DB, taskID uuid.UUID) (*types.VideoJob, error) {
	return r.getByTaskID(ctx, tx, taskID, true)
}

func (r *videoJobRepo) getByTaskID(ctx context.Context, tx *gorm.DB, taskID uuid.UUID, forUpdate bool) (*types.VideoJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if taskID == uuid.Nil {
		return nil, nil
	}
	q := transaction.WithContext(ctx)
	if forUpdate {
		if locks := rowLock(transaction, ""); locks != nil {
			q = q.Clauses(locks...)
		}
	}
	var job types.VideoJob
	err := q.Where("task_id = ?", taskID).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetLatestByPaperID returns the most recent record for a paper. Paper ids
// repeat across re-submissions; most-recent wins for status lookups.
func (r *videoJobRepo) GetLatestByPaperID(ctx context.Context, tx *gorm.DB, paperID string) (*types.VideoJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if paperID == "" {
		return nil, nil
	}
	var job types.VideoJob
	err := transaction.WithContext(ctx).
		Where("paper_id = ?", paperID).
		Order("created_at DESC").
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

// GetRunnableByPaperID returns a pending or running record for the paper if
// one exists, so re-submission can hand back the in-flight task instead of
// enqueueing a duplicate.
func (r *videoJobRepo) GetRunnableByPaperID(ctx context.Context, tx *gorm.DB, paperID string) (*types.VideoJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if paperID == "" {
		return nil, nil
	}
	var job types.VideoJob
	err := transaction.WithContext(ctx).
		Where("paper_id = ? AND status IN ?", paperID, []string{types.JobStatusPending, types.JobStatusRunning}).
		Order("created_at DESC").
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

// ClaimNextRunnable picks the oldest pending job, or a running job whose
// heartbeat went stale (its worker died), marks it running and returns it.
// Failed jobs are not reclaimed here; the runner retries transient failures
// internally before writing its terminal state.
func (r *videoJobRepo) ClaimNextRunnable(ctx context.Context, tx *gorm.DB, staleRunning time.Duration) (*types.VideoJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	staleCutoff := now.Add(-staleRunning)
	var claimed *types.VideoJob
	err := transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		q := txx.
			Where(`
				(
					status = ?
					OR (
						status = ?
						AND heartbeat_at IS NOT NULL
						AND heartbeat_at < ?
					)
				)
			`, types.JobStatusPending, types.JobStatusRunning, staleCutoff).
			Order("created_at ASC")
		if locks := rowLock(txx, "SKIP LOCKED"); locks != nil {
			q = q.Clauses(locks...)
		}
		var job types.VideoJob
		qErr := q.First(&job).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := txx.Model(&types.VideoJob{}).
			Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"status":       types.JobStatusRunning,
				"attempts":     gorm.Expr("attempts + 1"),
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *videoJobRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.VideoJob{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *videoJobRepo) Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	return transaction.WithContext(ctx).
		Model(&types.VideoJob{}).
		Where("id = ? AND status = ?", id, types.JobStatusRunning).
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error
}

func (r *videoJobRepo) ListRecent(ctx context.Context, tx *gorm.DB, limit int) ([]*types.VideoJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 50
	}
	var out []*types.VideoJob
	err := transaction.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// WithTx runs fn inside a transaction on the base handle.
func (r *videoJobRepo) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}
