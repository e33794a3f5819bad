package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hiddenhill/papervid-backend/internal/repos"
	"github.com/hiddenhill/papervid-backend/internal/services"
	"github.com/hiddenhill/papervid-backend/internal/types"
)

// Context is the execution handle for one claimed job. Handlers report
// state through it instead of touching the record directly.
type Context struct {
	Ctx    context.Context
	DB     *gorm.DB
	Job    *types.VideoJob
	Repo   repos.VideoJobRepo
	Notify services.JobNotifier
}

func NewContext(ctx context.Context, db *gorm.DB, job *types.VideoJob, repo repos.VideoJobRepo, notify services.JobNotifier) *Context {
	return &Context{
		Ctx:    ctx,
		DB:     db,
		Job:    job,
		Repo:   repo,
		Notify: notify,
	}
}

// Params decodes the job's params payload. Missing or malformed payloads
// yield zero-valued params; the handler applies its own defaults.
func (c *Context) Params() types.JobParams {
	var p types.JobParams
	if c.Job == nil || len(c.Job.Params) == 0 {
		return p
	}
	_ = json.Unmarshal(c.Job.Params, &p)
	return p
}

// Fail marks the job terminally failed. It is the worker's safety net; the
// runner normally records failure itself with a classified error type.
func (c *Context) Fail(errMsg, errType string) {
	if c == nil || c.Job == nil || c.Job.ID == uuid.Nil {
		return
	}
	ctx := c.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	now := time.Now()
	if err := c.Repo.UpdateFields(ctx, nil, c.Job.ID, map[string]interface{}{
		"status":        types.JobStatusFailed,
		"error_message": errMsg,
		"error_type":    errType,
		"current_step":  nil,
		"locked_at":     nil,
		"updated_at":    now,
	}); err != nil {
		return
	}
	c.Job.Status = types.JobStatusFailed
	c.Job.ErrorMessage = errMsg
	c.Job.ErrorType = errType
	c.Job.CurrentStep = nil
	c.Job.LockedAt = nil
	if c.Notify != nil {
		c.Notify.JobFailed(c.Job, errMsg, errType)
	}
}
