package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/hiddenhill/papervid-backend/internal/logger"
	"github.com/hiddenhill/papervid-backend/internal/repos"
	"github.com/hiddenhill/papervid-backend/internal/types"
)

// JobService is the submission path. Enqueueing is append-only at the
// record level; a re-submission creates a new record unless a runnable one
// for the same paper already exists, in which case that one is returned.
type JobService interface {
	Submit(ctx context.Context, paperID string, params types.JobParams) (*types.VideoJob, bool, error)
	GetByTaskID(ctx context.Context, taskID uuid.UUID) (*types.VideoJob, error)
	GetLatestByPaperID(ctx context.Context, paperID string) (*types.VideoJob, error)
}

type jobService struct {
	repo   repos.VideoJobRepo
	notify JobNotifier
	log    *logger.Logger
}

func NewJobService(repo repos.VideoJobRepo, notify JobNotifier, log *logger.Logger) JobService {
	return &jobService{
		repo:   repo,
		notify: notify,
		log:    log.With("service", "JobService"),
	}
}

func (s *jobService) Submit(ctx context.Context, paperID string, params types.JobParams) (*types.VideoJob, bool, error) {
	if paperID == "" {
		return nil, false, fmt.Errorf("missing paper id")
	}

	existing, err := s.repo.GetRunnableByPaperID(ctx, nil, paperID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		s.log.Info("Returning in-flight job for paper", "paper_id", paperID, "task_id", existing.TaskID)
		return existing, false, nil
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, false, err
	}
	job := &types.VideoJob{
		PaperID: paperID,
		Status:  types.JobStatusPending,
		Params:  datatypes.JSON(raw),
	}
	job, err = s.repo.Create(ctx, nil, job)
	if err != nil {
		return nil, false, err
	}
	s.log.Info("Job enqueued", "paper_id", paperID, "task_id", job.TaskID)
	if s.notify != nil {
		s.notify.JobCreated(job)
	}
	return job, true, nil
}

func (s *jobService) GetByTaskID(ctx context.Context, taskID uuid.UUID) (*types.VideoJob, error) {
	return s.repo.GetByTaskID(ctx, nil, taskID)
}

func (s *jobService) GetLatestByPaperID(ctx context.Context, paperID string) (*types.VideoJob, error) {
	return s.repo.GetLatestByPaperID(ctx, nil, paperID)
}
