package services

import (
	"context"

	"github.com/hiddenhill/papervid-backend/internal/clients/redis"
	"github.com/hiddenhill/papervid-backend/internal/logger"
	"github.com/hiddenhill/papervid-backend/internal/sse"
	"github.com/hiddenhill/papervid-backend/internal/types"
)

type JobNotifier interface {
	JobCreated(job *types.VideoJob)
	JobProgress(job *types.VideoJob, step string, percent int)
	JobFailed(job *types.VideoJob, errorMessage, errorType string)
	JobDone(job *types.VideoJob)
}

// jobNotifier publishes through the redis bus when one is configured so
// every process's hub sees the event; with no bus it broadcasts locally.
type jobNotifier struct {
	hub *sse.SSEHub
	bus redis.SSEBus
	log *logger.Logger
}

func NewJobNotifier(hub *sse.SSEHub, bus redis.SSEBus, log *logger.Logger) JobNotifier {
	return &jobNotifier{hub: hub, bus: bus, log: log.With("service", "JobNotifier")}
}

func (n *jobNotifier) emit(msg sse.SSEMessage) {
	if n.bus != nil {
		if err := n.bus.Publish(context.Background(), msg); err != nil {
			n.log.Warn("SSE bus publish failed, delivering locally", "error", err)
			n.hub.Broadcast(msg)
		}
		return
	}
	n.hub.Broadcast(msg)
}

func (n *jobNotifier) JobCreated(job *types.VideoJob) {
	n.emit(sse.SSEMessage{
		Channel: job.PaperID,
		Event:   sse.SSEEventJobCreated,
		Data: map[string]any{
			"task_id":  job.TaskID,
			"paper_id": job.PaperID,
			"status":   job.Status,
		},
	})
}

func (n *jobNotifier) JobProgress(job *types.VideoJob, step string, percent int) {
	n.emit(sse.SSEMessage{
		Channel: job.PaperID,
		Event:   sse.SSEEventJobProgress,
		Data: map[string]any{
			"task_id":          job.TaskID,
			"paper_id":         job.PaperID,
			"current_step":     step,
			"progress_percent": percent,
		},
	})
}

func (n *jobNotifier) JobFailed(job *types.VideoJob, errorMessage, errorType string) {
	n.emit(sse.SSEMessage{
		Channel: job.PaperID,
		Event:   sse.SSEEventJobFailed,
		Data: map[string]any{
			"task_id":    job.TaskID,
			"paper_id":   job.PaperID,
			"error":      errorMessage,
			"error_type": errorType,
		},
	})
}

func (n *jobNotifier) JobDone(job *types.VideoJob) {
	n.emit(sse.SSEMessage{
		Channel: job.PaperID,
		Event:   sse.SSEEventJobDone,
		Data: map[string]any{
			"task_id":          job.TaskID,
			"paper_id":         job.PaperID,
			"status":           types.JobStatusCompleted,
			"final_video_path": job.FinalVideoPath,
		},
	})
}
