package services

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hiddenhill/papervid-backend/internal/logger"
	"github.com/hiddenhill/papervid-backend/internal/pipeline"
	"github.com/hiddenhill/papervid-backend/internal/types"
)

const (
	maxUploadBytes  = 50 << 20
	abstractPreview = 500
)

// UploadService converts an uploaded plain-text paper into the same
// paper.json artifact the fetch step produces, so the rest of the pipeline
// is oblivious to where the paper came from.
type UploadService interface {
	Intake(filename string, r io.Reader, mediaRoot string) (paperID string, err error)
}

type uploadService struct {
	log *logger.Logger
}

func NewUploadService(log *logger.Logger) UploadService {
	return &uploadService{log: log.With("service", "UploadService")}
}

func (s *uploadService) Intake(filename string, r io.Reader, mediaRoot string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext != ".txt" {
		return "", fmt.Errorf("unsupported upload type %q, only .txt is accepted", ext)
	}

	data, err := io.ReadAll(io.LimitReader(r, maxUploadBytes+1))
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if len(data) > maxUploadBytes {
		return "", fmt.Errorf("upload exceeds %d byte limit", maxUploadBytes)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("uploaded file is empty")
	}

	paperID := "upload-" + uuid.NewString()[:8]
	w := pipeline.NewWorkdir(mediaRoot, paperID)
	if err := w.Ensure(); err != nil {
		return "", fmt.Errorf("create working directory: %w", err)
	}

	title := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	abstract := text
	if len(abstract) > abstractPreview {
		abstract = abstract[:abstractPreview]
	}
	paper := &types.Paper{
		PaperID:   paperID,
		Title:     title,
		Abstract:  abstract,
		FullText:  text,
		Source:    "upload",
		FetchedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := types.SavePaper(paper, w.Paper()); err != nil {
		return "", fmt.Errorf("save paper: %w", err)
	}
	s.log.Info("Upload converted to paper", "paper_id", paperID, "title", title, "bytes", len(data))
	return paperID, nil
}
