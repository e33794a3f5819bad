package progress

import (
	"context"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/hiddenhill/papervid-backend/internal/logger"
	"github.com/hiddenhill/papervid-backend/internal/pipeline"
	"github.com/hiddenhill/papervid-backend/internal/repos"
	"github.com/hiddenhill/papervid-backend/internal/types"
)

const (
	// How recently the log must have been written for a recordless job to
	// still count as running.
	logRecencyWindow = 120 * time.Second
	// How much of the log tail gets scanned for error lines.
	logTailBytes = 8 * 1024
	// At most this many error-looking lines are scraped from the tail.
	maxScrapedErrorLines = 5
)

// Resolution is the canonical status answer for one paper id.
type Resolution struct {
	Status         string   `json:"status"`
	Percent        int      `json:"progress_percent"`
	CurrentStep    *string  `json:"current_step"`
	CompletedSteps []string `json:"completed_steps"`
	Error          string   `json:"error,omitempty"`
	ErrorType      string   `json:"error_type,omitempty"`
	Stale          bool     `json:"stale,omitempty"`
}

// FinalArtifactCheck answers whether the merged final video is visible in
// durable storage, local or remote.
type FinalArtifactCheck func(ctx context.Context, w pipeline.Workdir) bool

// Resolver merges the three signal sources (artifacts, task result record,
// job database record) into one canonical status. The precedence chain is
// an ordered list of resolver functions, each returning a definitive answer
// or deferring to the next.
type Resolver struct {
	detector      *pipeline.Detector
	repo          repos.VideoJobRepo
	finalArtifact FinalArtifactCheck
	log           *logger.Logger
}

func NewResolver(detector *pipeline.Detector, repo repos.VideoJobRepo, finalArtifact FinalArtifactCheck, baseLog *logger.Logger) *Resolver {
	r := &Resolver{
		detector:      detector,
		repo:          repo,
		finalArtifact: finalArtifact,
		log:           baseLog.With("component", "progress_resolver"),
	}
	if r.finalArtifact == nil {
		r.finalArtifact = func(_ context.Context, w pipeline.Workdir) bool {
			return detector.FinalVideoExists(w)
		}
	}
	return r
}

// Resolve never errors; absence of every signal is a valid state and maps
// to pending.
func (r *Resolver) Resolve(ctx context.Context, w pipeline.Workdir) Resolution {
	chain := []func(ctx context.Context, w pipeline.Workdir) (Resolution, bool){
		r.resolveFinalArtifact,
		r.resolveTaskResult,
		r.resolveFilesystem,
		r.resolveJobRecord,
	}
	for _, step := range chain {
		if res, ok := step(ctx, w); ok {
			return res
		}
	}
	return Resolution{Status: types.JobStatusPending, Percent: 0}
}

// An existing final artifact always wins, even over a task result that says
// failed. The artifact is ground truth of success regardless of what the
// bookkeeping says.
func (r *Resolver) resolveFinalArtifact(ctx context.Context, w pipeline.Workdir) (Resolution, bool) {
	if !r.finalArtifact(ctx, w) {
		return Resolution{}, false
	}
	return Resolution{
		Status:         types.JobStatusCompleted,
		Percent:        100,
		CompletedSteps: stepNames(),
	}, true
}

func (r *Resolver) resolveTaskResult(ctx context.Context, w pipeline.Workdir) (Resolution, bool) {
	result, err := types.LoadTaskResult(w.TaskResult())
	if err != nil {
		if !os.IsNotExist(err) {
			r.log.Warn("Could not read task result record", "paper_id", w.PaperID, "error", err)
		}
		return Resolution{}, false
	}
	switch result.Status {
	case types.JobStatusFailed:
		res := r.snapshotFromArtifacts(w)
		res.Status = types.JobStatusFailed
		res.CurrentStep = nil
		res.Error = result.Error
		res.ErrorType = result.ErrorType
		return res, true

	case types.JobStatusCompleted:
		// Self-reported completion without a visible artifact means the
		// final file is not fetchable yet. Report running instead.
		res := r.snapshotFromArtifacts(w)
		res.Status = types.JobStatusRunning
		return res, true

	case types.JobStatusRunning:
		tail := readLogTail(w.Log())
		if hasFailurePhrase(tail) {
			res := r.snapshotFromArtifacts(w)
			res.Status = types.JobStatusFailed
			res.CurrentStep = nil
			res.Error = scrapeErrorLines(tail)
			res.ErrorType = types.ErrTypePipeline
			return res, true
		}
		res := r.snapshotFromArtifacts(w)
		res.Status = types.JobStatusRunning
		return res, true
	}
	return Resolution{}, false
}

// With no task result, the artifacts plus log recency decide. A log written
// within the recency window means a worker is alive; an older log means the
// process died without leaving a terminal record.
func (r *Resolver) resolveFilesystem(ctx context.Context, w pipeline.Workdir) (Resolution, bool) {
	res := r.snapshotFromArtifacts(w)
	info, err := os.Stat(w.Log())
	if err != nil {
		if len(res.CompletedSteps) == 0 {
			return Resolution{}, false
		}
		res.Status = types.JobStatusRunning
		return res, true
	}
	if time.Since(info.ModTime()) <= logRecencyWindow {
		if len(res.CompletedSteps) == 0 && res.Percent == 0 {
			res.Status = types.JobStatusPending
		} else {
			res.Status = types.JobStatusRunning
		}
		return res, true
	}
	res.Status = types.JobStatusFailed
	res.CurrentStep = nil
	res.Error = scrapeErrorLines(readLogTail(w.Log()))
	res.ErrorType = types.ErrTypeUnknown
	return res, true
}

// The database record is the lowest-precedence signal; it proves a job was
// enqueued even before the worker has touched the filesystem.
func (r *Resolver) resolveJobRecord(ctx context.Context, w pipeline.Workdir) (Resolution, bool) {
	if r.repo == nil {
		return Resolution{}, false
	}
	job, err := r.repo.GetLatestByPaperID(ctx, nil, w.PaperID)
	if err != nil {
		r.log.Warn("Could not load job record", "paper_id", w.PaperID, "error", err)
		return Resolution{}, false
	}
	if job == nil {
		return Resolution{}, false
	}
	return Resolution{
		Status:      job.Status,
		Percent:     job.ProgressPercent,
		CurrentStep: job.CurrentStep,
		Error:       job.ErrorMessage,
		ErrorType:   job.ErrorType,
		Stale:       IsStale(job, time.Now()),
	}, true
}

// snapshotFromArtifacts derives completed steps, current step and percent
// purely from the completion detector.
func (r *Resolver) snapshotFromArtifacts(w pipeline.Workdir) Resolution {
	done := r.detector.CompletedSteps(w)
	percent := 0
	for _, name := range done {
		if p := pipeline.PercentFor(name); p > percent {
			percent = p
		}
	}
	return Resolution{
		Percent:        percent,
		CurrentStep:    r.detector.CurrentStep(w),
		CompletedSteps: done,
	}
}

func stepNames() []string {
	steps := pipeline.Steps()
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.Name
	}
	return names
}

// readLogTail returns the last chunk of the log file, empty on any error.
func readLogTail(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return ""
	}
	if info.Size() > logTailBytes {
		if _, err := f.Seek(-logTailBytes, io.SeekEnd); err != nil {
			return ""
		}
	}
	b, err := io.ReadAll(f)
	if err != nil {
		return ""
	}
	return string(b)
}

func hasFailurePhrase(tail string) bool {
	lower := strings.ToLower(tail)
	if strings.Contains(lower, "pipeline failed") {
		return true
	}
	if strings.Contains(tail, "✗") && strings.Contains(lower, "failed") {
		return true
	}
	if strings.Contains(lower, "http error 4") || strings.Contains(lower, "status 4") {
		return true
	}
	if strings.Contains(lower, "failed to fetch paper") {
		return true
	}
	return false
}

var timestampLineRe = regexp.MustCompile(`^[\[\(]?\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}`)

var errorKeywords = []string{"error", "failed", "exception", "✗"}

// scrapeErrorLines walks the log tail backwards collecting error-looking
// lines, skipping pure-timestamp lines, and returns them in original order.
func scrapeErrorLines(tail string) string {
	if tail == "" {
		return ""
	}
	lines := strings.Split(tail, "\n")
	var picked []string
	for i := len(lines) - 1; i >= 0 && len(picked) < maxScrapedErrorLines; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" || timestampLineRe.MatchString(line) {
			continue
		}
		lower := strings.ToLower(line)
		for _, kw := range errorKeywords {
			if strings.Contains(lower, kw) || strings.Contains(line, kw) {
				picked = append(picked, line)
				break
			}
		}
	}
	for i, j := 0, len(picked)-1; i < j; i, j = i+1, j-1 {
		picked[i], picked[j] = picked[j], picked[i]
	}
	return strings.Join(picked, "\n")
}
