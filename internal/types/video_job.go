package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Error classifications attached to terminal failures. Matching is
// most-specific-first, see runner.ClassifyError.
const (
	ErrTypePaperNotFound = "paper_not_found"
	ErrTypeAPIKey        = "api_key_error"
	ErrTypeTimeout       = "timeout"
	ErrTypeRateLimit     = "rate_limit"
	ErrTypePipeline      = "pipeline_error"
	ErrTypeTask          = "task_error"
	ErrTypeUnknown       = "unknown_error"
)

// VideoJob is one video-generation request. TaskID is the true unique key;
// PaperID may repeat across historical records (most-recent wins for status
// lookups).
type VideoJob struct {
	ID                uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	TaskID            uuid.UUID      `gorm:"type:uuid;uniqueIndex;not null" json:"task_id"`
	PaperID           string         `gorm:"column:paper_id;not null;index" json:"paper_id"`
	Status            string         `gorm:"column:status;not null;index;default:pending" json:"status"`
	ProgressPercent   int            `gorm:"column:progress_percent;not null;default:0" json:"progress_percent"`
	CurrentStep       *string        `gorm:"column:current_step" json:"current_step"`
	ErrorMessage      string         `gorm:"column:error_message" json:"error_message,omitempty"`
	ErrorType         string         `gorm:"column:error_type" json:"error_type,omitempty"`
	Attempts          int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	Params            datatypes.JSON `gorm:"column:params;type:jsonb" json:"params"`
	FinalVideoPath    string         `gorm:"column:final_video_path" json:"final_video_path,omitempty"`
	LockedAt          *time.Time     `gorm:"column:locked_at;index" json:"locked_at,omitempty"`
	HeartbeatAt       *time.Time     `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	ProgressUpdatedAt *time.Time     `gorm:"column:progress_updated_at" json:"progress_updated_at,omitempty"`
	CompletedAt       *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt         time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"not null;index" json:"updated_at"`
}

func (VideoJob) TableName() string { return "video_job" }

// JobParams is the decoded shape of VideoJob.Params.
type JobParams struct {
	Voice      string `json:"voice,omitempty"`
	MaxWorkers int    `json:"max_workers,omitempty"`
	Merge      *bool  `json:"merge,omitempty"`
}
