package progress

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/hiddenhill/papervid-backend/internal/repos/testutil"
)

type applyRecorder struct {
	mu    sync.Mutex
	calls []struct {
		taskID uuid.UUID
		upd    Update
	}
}

func (a *applyRecorder) apply(_ context.Context, taskID uuid.UUID, upd Update) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, struct {
		taskID uuid.UUID
		upd    Update
	}{taskID, upd})
	return true
}

func TestQueueCoalescesLatestPerHandle(t *testing.T) {
	rec := &applyRecorder{}
	q := NewUpdateQueue(rec.apply, testutil.Logger(t))
	ctx := context.Background()

	taskID := uuid.New()
	q.Push(ctx, taskID, Update{Percent: 25})
	q.Push(ctx, taskID, Update{Percent: 50})
	q.Push(ctx, taskID, Update{Percent: 75})

	if got := q.Pending(); got != 1 {
		t.Fatalf("pending handles = %d, want 1", got)
	}
	q.Flush(ctx)
	if len(rec.calls) != 1 {
		t.Fatalf("applied %d updates, want 1 coalesced", len(rec.calls))
	}
	if rec.calls[0].upd.Percent != 75 {
		t.Fatalf("coalesced percent = %d, want the latest", rec.calls[0].upd.Percent)
	}
	if q.Pending() != 0 {
		t.Fatalf("buffer not cleared after flush")
	}
}

func TestQueueFlushesOnOverflow(t *testing.T) {
	rec := &applyRecorder{}
	q := NewUpdateQueue(rec.apply, testutil.Logger(t))
	ctx := context.Background()

	for i := 0; i <= defaultMaxPending; i++ {
		q.Push(ctx, uuid.New(), Update{Percent: i * 5})
	}
	if len(rec.calls) != defaultMaxPending+1 {
		t.Fatalf("overflow did not flush: applied=%d pending=%d", len(rec.calls), q.Pending())
	}
}

func TestQueueFlushOnEmptyIsNoop(t *testing.T) {
	rec := &applyRecorder{}
	q := NewUpdateQueue(rec.apply, testutil.Logger(t))
	q.Flush(context.Background())
	if len(rec.calls) != 0 {
		t.Fatalf("empty flush applied %d updates", len(rec.calls))
	}
}
