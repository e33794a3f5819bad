package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/hiddenhill/papervid-backend/internal/logger"
	"github.com/hiddenhill/papervid-backend/internal/pipeline"
	"github.com/hiddenhill/papervid-backend/internal/progress"
	"github.com/hiddenhill/papervid-backend/internal/services"
	"github.com/hiddenhill/papervid-backend/internal/storage"
	"github.com/hiddenhill/papervid-backend/internal/types"
)

type VideosHandler struct {
	log       *logger.Logger
	jobs      services.JobService
	uploads   services.UploadService
	resolver  *progress.Resolver
	detector  *pipeline.Detector
	store     storage.Store
	mediaRoot string
}

func NewVideosHandler(
	log *logger.Logger,
	jobs services.JobService,
	uploads services.UploadService,
	resolver *progress.Resolver,
	detector *pipeline.Detector,
	store storage.Store,
	mediaRoot string,
) *VideosHandler {
	return &VideosHandler{
		log:       log.With("handler", "VideosHandler"),
		jobs:      jobs,
		uploads:   uploads,
		resolver:  resolver,
		detector:  detector,
		store:     store,
		mediaRoot: mediaRoot,
	}
}

type generateRequest struct {
	PaperID    string `json:"paper_id"`
	Voice      string `json:"voice"`
	MaxWorkers int    `json:"max_workers"`
	Merge      *bool  `json:"merge"`
}

// POST /api/generate
func (h *VideosHandler) Generate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	req.PaperID = strings.TrimSpace(req.PaperID)
	if req.PaperID == "" {
		RespondError(c, http.StatusBadRequest, "missing_paper_id", fmt.Errorf("paper_id is required"))
		return
	}

	job, created, err := h.jobs.Submit(c.Request.Context(), req.PaperID, types.JobParams{
		Voice:      req.Voice,
		MaxWorkers: req.MaxWorkers,
		Merge:      req.Merge,
	})
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "submit_failed", err)
		return
	}

	RespondOK(c, gin.H{
		"task_id":  job.TaskID,
		"paper_id": job.PaperID,
		"status":   job.Status,
		"created":  created,
	})
}

// GET /api/status/:paper_id
func (h *VideosHandler) GetStatus(c *gin.Context) {
	paperID := c.Param("paper_id")
	w := pipeline.NewWorkdir(h.mediaRoot, paperID)
	res := h.resolver.Resolve(c.Request.Context(), w)
	RespondOK(c, res)
}

// GET /api/result/:paper_id
func (h *VideosHandler) GetResult(c *gin.Context) {
	paperID := c.Param("paper_id")
	w := pipeline.NewWorkdir(h.mediaRoot, paperID)

	if h.detector.FinalVideoExists(w) {
		RespondOK(c, gin.H{
			"paper_id":  paperID,
			"status":    types.JobStatusCompleted,
			"video_url": "/video/" + paperID,
		})
		return
	}

	if h.store != nil {
		key := paperID + "/" + pipeline.FinalVideoFile
		ok, err := h.store.Exists(c.Request.Context(), key)
		if err != nil {
			h.log.Warn("Store lookup failed", "paper_id", paperID, "error", err)
		}
		if ok {
			RespondOK(c, gin.H{
				"paper_id":  paperID,
				"status":    types.JobStatusCompleted,
				"video_url": h.store.PublicURL(key),
			})
			return
		}
	}

	res := h.resolver.Resolve(c.Request.Context(), w)
	RespondError(c, http.StatusNotFound, "video_not_ready",
		fmt.Errorf("no final video for paper %s (status %s)", paperID, res.Status))
}

// GET /api/jobs/:id
func (h *VideosHandler) GetJobByTaskID(c *gin.Context) {
	taskID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_task_id", err)
		return
	}
	job, err := h.jobs.GetByTaskID(c.Request.Context(), taskID)
	if err != nil {
		RespondError(c, http.StatusNotFound, "job_not_found", err)
		return
	}
	if job == nil {
		RespondError(c, http.StatusNotFound, "job_not_found", fmt.Errorf("no job with task id %s", taskID))
		return
	}
	RespondOK(c, gin.H{"job": job})
}

// POST /api/upload
func (h *VideosHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		RespondError(c, http.StatusBadRequest, "missing_file", err)
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		RespondError(c, http.StatusBadRequest, "unreadable_file", err)
		return
	}
	defer f.Close()

	paperID, err := h.uploads.Intake(fileHeader.Filename, f, h.mediaRoot)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "upload_rejected", err)
		return
	}

	job, created, err := h.jobs.Submit(c.Request.Context(), paperID, types.JobParams{
		Voice: c.PostForm("voice"),
	})
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "submit_failed", err)
		return
	}

	RespondOK(c, gin.H{
		"paper_id": paperID,
		"task_id":  job.TaskID,
		"status":   job.Status,
		"created":  created,
	})
}

// GET /video/:paper_id
func (h *VideosHandler) ServeVideo(c *gin.Context) {
	paperID := c.Param("paper_id")
	w := pipeline.NewWorkdir(h.mediaRoot, paperID)

	if h.detector.FinalVideoExists(w) {
		c.File(w.FinalVideo())
		return
	}

	if h.store != nil {
		key := paperID + "/" + pipeline.FinalVideoFile
		ok, err := h.store.Exists(c.Request.Context(), key)
		if err == nil && ok {
			c.Redirect(http.StatusFound, h.store.PublicURL(key))
			return
		}
	}

	RespondError(c, http.StatusNotFound, "video_not_found",
		fmt.Errorf("no final video for paper %s", paperID))
}
