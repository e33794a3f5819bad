package progress

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hiddenhill/papervid-backend/internal/pipeline"
	"github.com/hiddenhill/papervid-backend/internal/repos"
	"github.com/hiddenhill/papervid-backend/internal/repos/testutil"
	"github.com/hiddenhill/papervid-backend/internal/types"
)

func seedJob(t *testing.T, repo repos.VideoJobRepo, job *types.VideoJob) *types.VideoJob {
	t.Helper()
	created, err := repo.Create(context.Background(), nil, job)
	if err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return created
}

func TestUpdaterMonotonicProgress(t *testing.T) {
	repo := repos.NewVideoJobRepo(testutil.DB(t), testutil.Logger(t))
	u := NewUpdater(repo, testutil.Logger(t))
	ctx := context.Background()

	job := seedJob(t, repo, &types.VideoJob{PaperID: "PMC1", Status: types.JobStatusRunning})

	step := pipeline.StepGenerateScript
	if !u.Apply(ctx, job.TaskID, Update{Percent: 50, CurrentStep: &step, Status: types.JobStatusRunning}) {
		t.Fatalf("first update rejected")
	}

	// A late write from the fallback poller must not regress the percent.
	fetch := pipeline.StepFetchPaper
	if u.Apply(ctx, job.TaskID, Update{Percent: 25, CurrentStep: &fetch, Status: types.JobStatusRunning}) {
		t.Fatalf("regression was applied")
	}
	got, _ := repo.GetByTaskID(ctx, nil, job.TaskID)
	if got.ProgressPercent != 50 {
		t.Fatalf("percent regressed to %d", got.ProgressPercent)
	}
	if got.ProgressUpdatedAt == nil {
		t.Fatalf("rejected update did not refresh liveness timestamp")
	}

	// Force exists for recovery and may regress.
	if !u.Apply(ctx, job.TaskID, Update{Percent: 25, CurrentStep: &fetch, Status: types.JobStatusRunning, Force: true}) {
		t.Fatalf("forced update rejected")
	}
	got, _ = repo.GetByTaskID(ctx, nil, job.TaskID)
	if got.ProgressPercent != 25 {
		t.Fatalf("forced percent = %d, want 25", got.ProgressPercent)
	}
}

func TestUpdaterAutoCompletesAtHundred(t *testing.T) {
	repo := repos.NewVideoJobRepo(testutil.DB(t), testutil.Logger(t))
	u := NewUpdater(repo, testutil.Logger(t))
	ctx := context.Background()

	job := seedJob(t, repo, &types.VideoJob{PaperID: "PMC2", Status: types.JobStatusRunning})

	step := pipeline.StepGenerateVideos
	if !u.Apply(ctx, job.TaskID, Update{Percent: 100, CurrentStep: &step, Status: types.JobStatusRunning}) {
		t.Fatalf("update rejected")
	}
	got, _ := repo.GetByTaskID(ctx, nil, job.TaskID)
	if got.Status != types.JobStatusCompleted {
		t.Fatalf("status = %q, want completed", got.Status)
	}
	if got.CurrentStep != nil {
		t.Fatalf("current step not cleared at 100%%")
	}
	if got.CompletedAt == nil {
		t.Fatalf("completed_at not stamped")
	}
	stamped := *got.CompletedAt

	// A second terminal write must not move the completion timestamp.
	time.Sleep(10 * time.Millisecond)
	u.Apply(ctx, job.TaskID, Update{Percent: 100, Status: types.JobStatusCompleted})
	got, _ = repo.GetByTaskID(ctx, nil, job.TaskID)
	if got.CompletedAt == nil || !got.CompletedAt.Equal(stamped) {
		t.Fatalf("completed_at was overwritten: %v vs %v", got.CompletedAt, stamped)
	}
}

func TestUpdaterMarkFailedPreservesPercent(t *testing.T) {
	repo := repos.NewVideoJobRepo(testutil.DB(t), testutil.Logger(t))
	u := NewUpdater(repo, testutil.Logger(t))
	ctx := context.Background()

	job := seedJob(t, repo, &types.VideoJob{PaperID: "PMC3", Status: types.JobStatusRunning, ProgressPercent: 50})

	if !u.MarkFailed(ctx, job.TaskID, "tts quota exhausted", types.ErrTypeRateLimit) {
		t.Fatalf("MarkFailed rejected")
	}
	got, _ := repo.GetByTaskID(ctx, nil, job.TaskID)
	if got.Status != types.JobStatusFailed {
		t.Fatalf("status = %q", got.Status)
	}
	if got.ProgressPercent != 50 {
		t.Fatalf("failure reset percent to %d", got.ProgressPercent)
	}
	if got.ErrorType != types.ErrTypeRateLimit || got.ErrorMessage == "" {
		t.Fatalf("error fields: type=%q msg=%q", got.ErrorType, got.ErrorMessage)
	}
}

func TestUpdaterUnknownHandleIsNoop(t *testing.T) {
	repo := repos.NewVideoJobRepo(testutil.DB(t), testutil.Logger(t))
	u := NewUpdater(repo, testutil.Logger(t))

	if u.Apply(context.Background(), uuid.New(), Update{Percent: 10}) {
		t.Fatalf("update applied against a missing record")
	}
}

func TestIsStale(t *testing.T) {
	now := time.Now()
	old := now.Add(-10 * time.Minute)
	recent := now.Add(-10 * time.Second)

	cases := []struct {
		name string
		job  *types.VideoJob
		want bool
	}{
		{"never updated, past grace", &types.VideoJob{Status: types.JobStatusRunning, CreatedAt: old}, true},
		{"never updated, within grace", &types.VideoJob{Status: types.JobStatusRunning, CreatedAt: now.Add(-time.Minute)}, false},
		{"updated recently", &types.VideoJob{Status: types.JobStatusRunning, CreatedAt: old, ProgressUpdatedAt: &recent}, false},
		{"updated long ago", &types.VideoJob{Status: types.JobStatusRunning, CreatedAt: old, ProgressUpdatedAt: &old}, true},
		{"terminal status", &types.VideoJob{Status: types.JobStatusCompleted, CreatedAt: old}, false},
		{"nil job", nil, false},
	}
	for _, tc := range cases {
		if got := IsStale(tc.job, now); got != tc.want {
			t.Fatalf("%s: IsStale = %v, want %v", tc.name, got, tc.want)
		}
	}
}
