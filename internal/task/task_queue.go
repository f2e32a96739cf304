package task

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// TaskQueue is a bounded FIFO of task IDs awaiting a worker. It satisfies
// both TaskQueueReader and TaskQueueWriter.
type TaskQueue struct {
	mu     sync.Mutex
	ids    chan uuid.UUID
	logger *slog.Logger
	closed bool
}

// NewTaskQueue creates a new task queue with the specified buffer size
func NewTaskQueue(size int, logger *slog.Logger) *TaskQueue {
	return &TaskQueue{
		ids:    make(chan uuid.UUID, size),
		logger: logger,
	}
}

// Enqueue adds a task ID without blocking.
func (q *TaskQueue) Enqueue(id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.ids <- id:
		q.logger.Debug("task enqueued",
			"task_id", id,
			"queue_len", len(q.ids),
			"queue_cap", cap(q.ids))
		return nil
	default:
		return fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, cap(q.ids))
	}
}

// Close closes the task queue, preventing further task submission
func (q *TaskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.ids)
		q.logger.Info("task queue closed")
	}
}

// Channel returns a read-only channel for consuming task IDs
func (q *TaskQueue) Channel() <-chan uuid.UUID {
	return q.ids
}
