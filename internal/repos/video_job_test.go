package repos

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hiddenhill/papervid-backend/internal/repos/testutil"
	"github.com/hiddenhill/papervid-backend/internal/types"
)

func ptrTime(t time.Time) *time.Time { return &t }

func TestVideoJobRepoLifecycle(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	repo := NewVideoJobRepo(db, testutil.Logger(t))

	job, err := repo.Create(ctx, nil, &types.VideoJob{PaperID: "PMC100"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if job.ID == uuid.Nil || job.TaskID == uuid.Nil {
		t.Fatalf("Create did not assign ids: %+v", job)
	}
	if job.Status != types.JobStatusPending {
		t.Fatalf("Create status = %q, want pending", job.Status)
	}

	got, err := repo.GetByTaskID(ctx, nil, job.TaskID)
	if err != nil || got == nil {
		t.Fatalf("GetByTaskID: job=%v err=%v", got, err)
	}
	if got.PaperID != "PMC100" {
		t.Fatalf("GetByTaskID paper_id = %q", got.PaperID)
	}

	missing, err := repo.GetByTaskID(ctx, nil, uuid.New())
	if err != nil || missing != nil {
		t.Fatalf("GetByTaskID for unknown handle: job=%v err=%v", missing, err)
	}

	if err := repo.UpdateFields(ctx, nil, job.ID, map[string]interface{}{
		"status":           types.JobStatusRunning,
		"progress_percent": 25,
	}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}
	got, _ = repo.GetByTaskID(ctx, nil, job.TaskID)
	if got.Status != types.JobStatusRunning || got.ProgressPercent != 25 {
		t.Fatalf("after update: status=%q percent=%d", got.Status, got.ProgressPercent)
	}
}

func TestVideoJobRepoLatestByPaperIDWins(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	repo := NewVideoJobRepo(db, testutil.Logger(t))

	now := time.Now().UTC()
	old := &types.VideoJob{PaperID: "PMC200", Status: types.JobStatusFailed, CreatedAt: now.Add(-2 * time.Hour), UpdatedAt: now.Add(-2 * time.Hour)}
	recent := &types.VideoJob{PaperID: "PMC200", Status: types.JobStatusPending, CreatedAt: now, UpdatedAt: now}
	for _, j := range []*types.VideoJob{old, recent} {
		if _, err := repo.Create(ctx, nil, j); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	latest, err := repo.GetLatestByPaperID(ctx, nil, "PMC200")
	if err != nil || latest == nil {
		t.Fatalf("GetLatestByPaperID: job=%v err=%v", latest, err)
	}
	if latest.ID != recent.ID {
		t.Fatalf("latest = %s, want the most recent record", latest.ID)
	}

	runnable, err := repo.GetRunnableByPaperID(ctx, nil, "PMC200")
	if err != nil || runnable == nil || runnable.ID != recent.ID {
		t.Fatalf("GetRunnableByPaperID: job=%v err=%v", runnable, err)
	}

	none, err := repo.GetLatestByPaperID(ctx, nil, "PMC999")
	if err != nil || none != nil {
		t.Fatalf("GetLatestByPaperID unknown paper: job=%v err=%v", none, err)
	}
}

func TestVideoJobRepoClaimNextRunnable(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	repo := NewVideoJobRepo(db, testutil.Logger(t))

	now := time.Now().UTC()
	pending := &types.VideoJob{PaperID: "P1", Status: types.JobStatusPending, CreatedAt: now.Add(-3 * time.Hour), UpdatedAt: now.Add(-3 * time.Hour)}
	failed := &types.VideoJob{PaperID: "P2", Status: types.JobStatusFailed, CreatedAt: now.Add(-2 * time.Hour), UpdatedAt: now.Add(-2 * time.Hour)}
	staleRunning := &types.VideoJob{PaperID: "P3", Status: types.JobStatusRunning, HeartbeatAt: ptrTime(now.Add(-1 * time.Hour)), CreatedAt: now.Add(-1 * time.Hour), UpdatedAt: now.Add(-1 * time.Hour)}
	liveRunning := &types.VideoJob{PaperID: "P4", Status: types.JobStatusRunning, HeartbeatAt: ptrTime(now), CreatedAt: now.Add(-30 * time.Minute), UpdatedAt: now}
	for _, j := range []*types.VideoJob{pending, failed, staleRunning, liveRunning} {
		if _, err := repo.Create(ctx, nil, j); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	stale := 10 * time.Minute

	first, err := repo.ClaimNextRunnable(ctx, nil, stale)
	if err != nil {
		t.Fatalf("ClaimNextRunnable: %v", err)
	}
	if first == nil || first.ID != pending.ID {
		t.Fatalf("first claim = %v, want the oldest pending job", first)
	}
	claimed, _ := repo.GetByTaskID(ctx, nil, pending.TaskID)
	if claimed.Status != types.JobStatusRunning || claimed.Attempts != 1 {
		t.Fatalf("claimed job not marked running: status=%q attempts=%d", claimed.Status, claimed.Attempts)
	}

	second, err := repo.ClaimNextRunnable(ctx, nil, stale)
	if err != nil {
		t.Fatalf("ClaimNextRunnable: %v", err)
	}
	if second == nil || second.ID != staleRunning.ID {
		t.Fatalf("second claim = %v, want the stale running job", second)
	}

	// The pending job just claimed now has a fresh heartbeat; the failed
	// and live-running jobs are never claimable.
	third, err := repo.ClaimNextRunnable(ctx, nil, stale)
	if err != nil {
		t.Fatalf("ClaimNextRunnable: %v", err)
	}
	if third != nil {
		t.Fatalf("third claim = %v, want nothing runnable", third)
	}
}

func TestVideoJobRepoHeartbeatOnlyWhileRunning(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	repo := NewVideoJobRepo(db, testutil.Logger(t))

	job, err := repo.Create(ctx, nil, &types.VideoJob{PaperID: "P1", Status: types.JobStatusCompleted})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Heartbeat(ctx, nil, job.ID); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	got, _ := repo.GetByTaskID(ctx, nil, job.TaskID)
	if got.HeartbeatAt != nil {
		t.Fatalf("heartbeat stamped on a completed job")
	}
}
