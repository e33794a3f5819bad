package progress

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/hiddenhill/papervid-backend/internal/logger"
	"github.com/hiddenhill/papervid-backend/internal/pipeline"
	"github.com/hiddenhill/papervid-backend/internal/repos"
	"github.com/hiddenhill/papervid-backend/internal/repos/testutil"
	"github.com/hiddenhill/papervid-backend/internal/types"
)

func newResolver(t *testing.T, repo repos.VideoJobRepo) *Resolver {
	t.Helper()
	return NewResolver(pipeline.NewDetector(logger.NewNop()), repo, nil, logger.NewNop())
}

func mkWorkdir(t *testing.T, paperID string) pipeline.Workdir {
	t.Helper()
	w := pipeline.NewWorkdir(t.TempDir(), paperID)
	if err := w.Ensure(); err != nil {
		t.Fatalf("ensure workdir: %v", err)
	}
	return w
}

func writePaper(t *testing.T, w pipeline.Workdir) {
	t.Helper()
	if err := types.SavePaper(&types.Paper{PaperID: w.PaperID, Source: "pmc"}, w.Paper()); err != nil {
		t.Fatalf("save paper: %v", err)
	}
}

func TestResolveConcreteScenario(t *testing.T) {
	ctx := context.Background()
	r := newResolver(t, nil)

	// No working directory yet.
	w := pipeline.NewWorkdir(t.TempDir(), "PMC999")
	res := r.Resolve(ctx, w)
	if res.Status != types.JobStatusPending || res.Percent != 0 || res.CurrentStep != nil {
		t.Fatalf("empty resolve: %+v", res)
	}

	// Fetch step done, log freshly written.
	if err := w.Ensure(); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	writePaper(t, w)
	if err := os.WriteFile(w.Log(), []byte("Step: fetch-paper\n  ✓ Complete\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	res = r.Resolve(ctx, w)
	if res.Status != types.JobStatusRunning {
		t.Fatalf("after fetch: status=%q", res.Status)
	}
	if res.Percent != 25 {
		t.Fatalf("after fetch: percent=%d, want 25", res.Percent)
	}
	if res.CurrentStep == nil || *res.CurrentStep != pipeline.StepGenerateScript {
		t.Fatalf("after fetch: current step=%v", res.CurrentStep)
	}
	if len(res.CompletedSteps) != 1 || res.CompletedSteps[0] != pipeline.StepFetchPaper {
		t.Fatalf("after fetch: completed=%v", res.CompletedSteps)
	}

	// Final video written; a stale failed task result must not matter.
	stale := &types.TaskResult{Status: types.JobStatusFailed, PaperID: "PMC999", Error: "boom", ErrorType: types.ErrTypeUnknown}
	if err := types.SaveTaskResult(stale, w.TaskResult()); err != nil {
		t.Fatalf("save task result: %v", err)
	}
	if err := os.WriteFile(w.FinalVideo(), []byte("mp4"), 0o644); err != nil {
		t.Fatalf("write final video: %v", err)
	}
	res = r.Resolve(ctx, w)
	if res.Status != types.JobStatusCompleted || res.Percent != 100 || res.CurrentStep != nil {
		t.Fatalf("final artifact did not win: %+v", res)
	}
	if res.Error != "" || res.ErrorType != "" {
		t.Fatalf("stale failure leaked through: %+v", res)
	}
}

func TestResolveTaskResultFailedVerbatim(t *testing.T) {
	ctx := context.Background()
	r := newResolver(t, nil)
	w := mkWorkdir(t, "PMC1")
	writePaper(t, w)

	tr := &types.TaskResult{Status: types.JobStatusFailed, PaperID: "PMC1", Error: "paper PMC1 is not available in PubMed Central", ErrorType: types.ErrTypePaperNotFound}
	if err := types.SaveTaskResult(tr, w.TaskResult()); err != nil {
		t.Fatalf("save task result: %v", err)
	}
	res := r.Resolve(ctx, w)
	if res.Status != types.JobStatusFailed {
		t.Fatalf("status = %q", res.Status)
	}
	if res.Error != tr.Error || res.ErrorType != types.ErrTypePaperNotFound {
		t.Fatalf("error not carried verbatim: %+v", res)
	}
	if res.Percent != 25 {
		t.Fatalf("partial progress lost on failure: percent=%d", res.Percent)
	}
}

func TestResolveSelfReportedCompletionNeedsArtifact(t *testing.T) {
	ctx := context.Background()
	r := newResolver(t, nil)
	w := mkWorkdir(t, "PMC2")
	writePaper(t, w)

	tr := &types.TaskResult{Status: types.JobStatusCompleted, PaperID: "PMC2"}
	if err := types.SaveTaskResult(tr, w.TaskResult()); err != nil {
		t.Fatalf("save task result: %v", err)
	}
	res := r.Resolve(ctx, w)
	if res.Status != types.JobStatusRunning {
		t.Fatalf("self-reported completion trusted without artifact: %+v", res)
	}
}

func TestResolveFinalArtifactInObjectStorage(t *testing.T) {
	ctx := context.Background()
	remote := map[string]bool{}
	detector := pipeline.NewDetector(logger.NewNop())
	check := func(ctx context.Context, w pipeline.Workdir) bool {
		if detector.FinalVideoExists(w) {
			return true
		}
		return remote[w.PaperID+"/"+pipeline.FinalVideoFile]
	}
	r := NewResolver(detector, nil, check, logger.NewNop())
	w := mkWorkdir(t, "PMC8")
	writePaper(t, w)

	tr := &types.TaskResult{Status: types.JobStatusCompleted, PaperID: "PMC8"}
	if err := types.SaveTaskResult(tr, w.TaskResult()); err != nil {
		t.Fatalf("save task result: %v", err)
	}
	res := r.Resolve(ctx, w)
	if res.Status != types.JobStatusRunning {
		t.Fatalf("completion trusted with no artifact anywhere: %+v", res)
	}

	// The merged video surfacing only in object storage, with local disk
	// wiped, still completes the job.
	remote["PMC8/"+pipeline.FinalVideoFile] = true
	res = r.Resolve(ctx, w)
	if res.Status != types.JobStatusCompleted || res.Percent != 100 || res.CurrentStep != nil {
		t.Fatalf("remote artifact did not win: %+v", res)
	}
}

func TestResolveRunningOverriddenByLogFailure(t *testing.T) {
	ctx := context.Background()
	r := newResolver(t, nil)
	w := mkWorkdir(t, "PMC3")
	writePaper(t, w)

	tr := &types.TaskResult{Status: types.JobStatusRunning, PaperID: "PMC3"}
	if err := types.SaveTaskResult(tr, w.TaskResult()); err != nil {
		t.Fatalf("save task result: %v", err)
	}
	log := "Step: generate-script\n  → Generating narration script\n  ✗ Step failed: llm returned 401\nPipeline failed\n"
	if err := os.WriteFile(w.Log(), []byte(log), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	res := r.Resolve(ctx, w)
	if res.Status != types.JobStatusFailed {
		t.Fatalf("log failure not detected: %+v", res)
	}
	if res.Error == "" {
		t.Fatalf("no error scraped from log tail")
	}
}

func TestResolveStaleLogMeansDead(t *testing.T) {
	ctx := context.Background()
	r := newResolver(t, nil)
	w := mkWorkdir(t, "PMC4")
	writePaper(t, w)

	if err := os.WriteFile(w.Log(), []byte("Step: generate-script\n  ✗ Step failed: connection reset\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	old := time.Now().Add(-10 * time.Minute)
	if err := os.Chtimes(w.Log(), old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	res := r.Resolve(ctx, w)
	if res.Status != types.JobStatusFailed {
		t.Fatalf("dead worker not detected: %+v", res)
	}
	if res.Percent != 25 {
		t.Fatalf("partial progress lost: percent=%d", res.Percent)
	}
}

func TestResolveFallsBackToJobRecord(t *testing.T) {
	ctx := context.Background()
	repo := repos.NewVideoJobRepo(testutil.DB(t), testutil.Logger(t))
	r := newResolver(t, repo)

	step := pipeline.StepFetchPaper
	created := time.Now().Add(-10 * time.Minute)
	if _, err := repo.Create(ctx, nil, &types.VideoJob{
		PaperID:         "PMC5",
		Status:          types.JobStatusRunning,
		ProgressPercent: 10,
		CurrentStep:     &step,
		CreatedAt:       created,
		UpdatedAt:       created,
	}); err != nil {
		t.Fatalf("seed job: %v", err)
	}

	// Workdir exists but is empty and has no log.
	w := mkWorkdir(t, "PMC5")
	res := r.Resolve(ctx, w)
	if res.Status != types.JobStatusRunning || res.Percent != 10 {
		t.Fatalf("record fallback: %+v", res)
	}
	if !res.Stale {
		t.Fatalf("10-minute-old running job with no updates should be stale")
	}
}
