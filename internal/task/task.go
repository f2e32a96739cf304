package task

import (
	"context"

	"github.com/google/uuid"

	"github.com/phrazzld/synthgen/internal/domain"
)

// SampleGenerator synthesizes samples for one record. Record-specific
// failures are reported as *generation.RecordError; any other error is
// fatal for the task.
type SampleGenerator interface {
	GenerateSamples(
		ctx context.Context,
		taskID uuid.UUID,
		record domain.Record,
		cfg domain.GenerationConfig,
	) ([]domain.Sample, error)
}

// SampleWriter commits the samples of one batch atomically.
type SampleWriter interface {
	SaveSamples(ctx context.Context, samples []domain.Sample) error
}

// IndexUpdater refreshes the vector index after generated data changed.
type IndexUpdater interface {
	Update(ctx context.Context) (domain.SyncState, error)
}

// TaskQueueReader provides read-only access to queued task IDs
type TaskQueueReader interface {
	Channel() <-chan uuid.UUID
}

// TaskQueueWriter provides write access to the task queue
type TaskQueueWriter interface {
	// Enqueue returns ErrQueueFull or ErrQueueClosed when the ID is not accepted.
	Enqueue(id uuid.UUID) error
	Close()
}
