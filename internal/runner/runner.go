package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/hiddenhill/papervid-backend/internal/jobs"
	"github.com/hiddenhill/papervid-backend/internal/logger"
	"github.com/hiddenhill/papervid-backend/internal/pipeline"
	"github.com/hiddenhill/papervid-backend/internal/progress"
	"github.com/hiddenhill/papervid-backend/internal/types"
	"github.com/hiddenhill/papervid-backend/internal/utils"
)

const (
	// How much of the hard wall-clock budget is reserved for graceful
	// shutdown and the terminal bookkeeping writes.
	softTimeoutMargin = 60 * time.Second
	// Fallback artifact polling period.
	pollInterval = 10 * time.Second
)

// Runner executes one claimed video job: it drives the pipeline, captures
// its output line by line into pipeline.log, parses the lines into progress
// snapshots, polls artifacts as a safety net, enforces the wall-clock
// budget, retries transient failures at whole-job granularity, and always
// leaves a terminal task_result.json behind.
type Runner struct {
	detector *pipeline.Detector
	actions  pipeline.StepActions
	updater  *progress.Updater
	queue    *progress.UpdateQueue
	log      *logger.Logger

	mediaRoot    string
	hardTimeout  time.Duration
	maxAttempts  int
	retryBackoff time.Duration
}

func NewRunner(detector *pipeline.Detector, actions pipeline.StepActions, updater *progress.Updater, queue *progress.UpdateQueue, mediaRoot string, baseLog *logger.Logger) *Runner {
	log := baseLog.With("component", "JobRunner")
	hardTimeout := time.Duration(utils.GetEnvAsInt("VIDEO_JOB_TIMEOUT_SECONDS", 1800, log)) * time.Second
	return &Runner{
		detector:     detector,
		actions:      actions,
		updater:      updater,
		queue:        queue,
		log:          log,
		mediaRoot:    mediaRoot,
		hardTimeout:  hardTimeout,
		maxAttempts:  3,
		retryBackoff: 5 * time.Second,
	}
}

func (r *Runner) Type() string { return jobs.JobTypeGenerateVideo }

// Run never returns an error for pipeline failures; those become a
// classified terminal result. A non-nil return means the runner's own
// bookkeeping was impossible and the worker's safety net should take over.
func (r *Runner) Run(jc *jobs.Context) error {
	job := jc.Job
	w := pipeline.NewWorkdir(r.mediaRoot, job.PaperID)
	log := r.log.With("task_id", job.TaskID, "paper_id", job.PaperID)

	if err := w.Ensure(); err != nil {
		r.finish(jc, w, fmt.Errorf("task setup failed: %w", err))
		return nil
	}

	runErr := r.runWithRetries(jc, w, log)
	r.finish(jc, w, runErr)
	return nil
}

func (r *Runner) runWithRetries(jc *jobs.Context, w pipeline.Workdir, log *logger.Logger) (err error) {
	// No exception may escape the background execution; a panic here would
	// crash the worker and lose the job's terminal state.
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("Runner panic", "panic", rec)
			err = fmt.Errorf("task panicked: %v", rec)
		}
	}()

	for attempt := 1; ; attempt++ {
		err = r.runOnce(jc, w)
		if err == nil {
			return nil
		}
		errType := ClassifyError(err)
		if !IsRetryable(errType) || attempt >= r.maxAttempts {
			return err
		}
		log.Warn("Attempt failed with transient error, retrying",
			"attempt", attempt, "error_type", errType, "error", err)
		select {
		case <-jc.Ctx.Done():
			return err
		case <-time.After(r.retryBackoff):
		}
	}
}

// runOnce is one invocation of the whole pipeline under the soft wall-clock
// budget. The driver's output is teed to pipeline.log and to the line
// parser; parser snapshots and poller snapshots both flow through a single
// writer goroutine into the coalescing queue.
func (r *Runner) runOnce(jc *jobs.Context, w pipeline.Workdir) error {
	soft := r.hardTimeout - softTimeoutMargin
	if soft < time.Second {
		soft = time.Second
	}
	ctx, cancel := context.WithTimeout(jc.Ctx, soft)
	defer cancel()

	logFile, err := os.OpenFile(w.Log(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("task setup failed: open pipeline log: %w", err)
	}
	defer logFile.Close()

	updates := make(chan progress.Update, 32)
	var writerWG sync.WaitGroup
	writerWG.Add(1)
	go func() {
		defer writerWG.Done()
		for upd := range updates {
			r.queue.Push(context.Background(), jc.Job.TaskID, upd)
			if jc.Notify != nil && upd.CurrentStep != nil {
				jc.Notify.JobProgress(jc.Job, *upd.CurrentStep, upd.Percent)
			}
		}
	}()

	pr, pw := io.Pipe()
	var parserWG sync.WaitGroup
	parserWG.Add(1)
	go func() {
		defer parserWG.Done()
		parser := progress.NewLogParser()
		scanner := bufio.NewScanner(pr)
		for scanner.Scan() {
			snap, changed := parser.Feed(scanner.Text())
			if !changed || snap.Status == types.JobStatusFailed {
				continue
			}
			updates <- snapshotUpdate(snap)
		}
	}()

	pollDone := make(chan struct{})
	var pollWG sync.WaitGroup
	pollWG.Add(1)
	go func() {
		defer pollWG.Done()
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pollDone:
				return
			case <-ticker.C:
				updates <- r.pollUpdate(w)
			}
		}
	}()

	driver := pipeline.NewDriver(r.detector, r.actions, io.MultiWriter(logFile, pw))
	params := jc.Params()
	merge := true
	if params.Merge != nil {
		merge = *params.Merge
	}
	runErr := driver.Run(ctx, w, pipeline.RunOptions{
		SkipExisting: true,
		Params: pipeline.RunParams{
			Voice:      params.Voice,
			MaxWorkers: params.MaxWorkers,
			Merge:      merge,
		},
	})

	pw.Close()
	parserWG.Wait()
	close(pollDone)
	pollWG.Wait()
	close(updates)
	writerWG.Wait()
	r.queue.Flush(context.Background())

	if runErr != nil && errors.Is(runErr, context.DeadlineExceeded) {
		return fmt.Errorf("video generation timed out after %s: %w", soft, runErr)
	}
	return runErr
}

// pollUpdate re-derives progress from artifacts alone. It is the safety net
// for missed or malformed log lines.
func (r *Runner) pollUpdate(w pipeline.Workdir) progress.Update {
	percent := 0
	for _, name := range r.detector.CompletedSteps(w) {
		if p := pipeline.PercentFor(name); p > percent {
			percent = p
		}
	}
	return progress.Update{
		Percent:     percent,
		CurrentStep: r.detector.CurrentStep(w),
		Status:      types.JobStatusRunning,
	}
}

func snapshotUpdate(snap progress.Snapshot) progress.Update {
	return progress.Update{
		Percent:     snap.Percent,
		CurrentStep: snap.CurrentStep,
		Status:      types.JobStatusRunning,
	}
}

// finish writes the terminal task result record and, best-effort and
// independently, reconciles the database record and notifies subscribers.
// It runs for every outcome.
func (r *Runner) finish(jc *jobs.Context, w pipeline.Workdir, runErr error) {
	job := jc.Job
	log := r.log.With("task_id", job.TaskID, "paper_id", job.PaperID)
	ctx := context.Background()

	result := &types.TaskResult{
		PaperID: job.PaperID,
		TaskID:  job.TaskID.String(),
	}
	if runErr == nil {
		result.Status = types.JobStatusCompleted
	} else {
		result.Status = types.JobStatusFailed
		result.Error = runErr.Error()
		result.ErrorType = ClassifyError(runErr)
	}
	if err := types.SaveTaskResult(result, w.TaskResult()); err != nil {
		log.Error("Could not write task result record", "error", err)
	}

	if runErr == nil {
		r.updater.Apply(ctx, job.TaskID, progress.Update{
			Percent: 100,
			Status:  types.JobStatusRunning,
		})
		if r.detector.FinalVideoExists(w) {
			if err := jc.Repo.UpdateFields(ctx, nil, job.ID, map[string]interface{}{
				"final_video_path": w.FinalVideo(),
				"locked_at":        nil,
			}); err != nil {
				log.Warn("Could not record final video path", "error", err)
			}
			job.FinalVideoPath = w.FinalVideo()
		}
		log.Info("Video generation completed")
		if jc.Notify != nil {
			jc.Notify.JobDone(job)
		}
		return
	}

	log.Error("Video generation failed", "error_type", result.ErrorType, "error", runErr)
	r.updater.MarkFailed(ctx, job.TaskID, result.Error, result.ErrorType)
	if err := jc.Repo.UpdateFields(ctx, nil, job.ID, map[string]interface{}{"locked_at": nil}); err != nil {
		log.Warn("Could not clear job lock", "error", err)
	}
	if jc.Notify != nil {
		jc.Notify.JobFailed(job, result.Error, result.ErrorType)
	}
}
