package progress

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hiddenhill/papervid-backend/internal/logger"
)

const (
	defaultFlushInterval = time.Second
	defaultMaxPending    = 10
)

// ApplyFunc applies one coalesced update. Normally Updater.Apply.
type ApplyFunc func(ctx context.Context, taskID uuid.UUID, upd Update) bool

// UpdateQueue coalesces progress writes. Only the latest pending update per
// task handle is kept; the buffer flushes on a fixed interval, or
// immediately once the number of distinct pending handles passes a
// threshold. This bounds write amplification under many concurrent jobs
// while keeping latency low for any single one.
type UpdateQueue struct {
	apply    ApplyFunc
	interval time.Duration
	maxPend  int
	log      *logger.Logger

	mu      sync.Mutex
	pending map[uuid.UUID]Update
}

func NewUpdateQueue(apply ApplyFunc, baseLog *logger.Logger) *UpdateQueue {
	return &UpdateQueue{
		apply:    apply,
		interval: defaultFlushInterval,
		maxPend:  defaultMaxPending,
		log:      baseLog.With("component", "update_queue"),
		pending:  make(map[uuid.UUID]Update),
	}
}

// Push buffers an update, replacing any pending one for the same handle.
// It flushes synchronously when the pending set grows past the threshold.
func (q *UpdateQueue) Push(ctx context.Context, taskID uuid.UUID, upd Update) {
	q.mu.Lock()
	q.pending[taskID] = upd
	overflow := len(q.pending) > q.maxPend
	q.mu.Unlock()
	if overflow {
		q.Flush(ctx)
	}
}

// Flush applies every pending update and clears the buffer.
func (q *UpdateQueue) Flush(ctx context.Context) {
	q.mu.Lock()
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return
	}
	batch := q.pending
	q.pending = make(map[uuid.UUID]Update)
	q.mu.Unlock()

	for taskID, upd := range batch {
		q.apply(ctx, taskID, upd)
	}
}

// Pending returns the number of buffered handles.
func (q *UpdateQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Run flushes on the configured interval until ctx is done, then drains
// whatever is still buffered.
func (q *UpdateQueue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			q.Flush(context.Background())
			return
		case <-ticker.C:
			q.Flush(ctx)
		}
	}
}
