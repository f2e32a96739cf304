package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/phrazzld/synthgen/internal/domain"
)

// TaskStore persists generation task snapshots. It is shared by every
// process working on the same database, so it also owns the cross-process
// dataset lock: at most one pending or running task per dataset.
type TaskStore interface {
	// CreateTask inserts a new snapshot. It fails with a *DatasetLockedError
	// while another pending or running task exists for the same dataset.
	CreateTask(ctx context.Context, task domain.GenerationTask) error

	// SaveTask upserts a snapshot. A snapshot whose Version is not newer
	// than the stored one is ignored. A stored terminal snapshot is never
	// replaced: SaveTask then returns ErrTaskFinalized.
	SaveTask(ctx context.Context, task domain.GenerationTask) error

	// GetTask returns ErrTaskNotFound if no snapshot exists.
	GetTask(ctx context.Context, id uuid.UUID) (*domain.GenerationTask, error)

	// ListTasks returns snapshots matching filter, newest first.
	ListTasks(ctx context.Context, filter domain.TaskFilter) ([]domain.GenerationTask, error)
}

// DatasetLockedError reports the task that holds a dataset in the store.
// HolderID is uuid.Nil when the holder could not be determined.
type DatasetLockedError struct {
	DatasetID string
	HolderID  uuid.UUID
}

func (e *DatasetLockedError) Error() string {
	return fmt.Sprintf("dataset %s already has an active task %s", e.DatasetID, e.HolderID)
}

// Is matches ErrDatasetLocked.
func (e *DatasetLockedError) Is(target error) bool {
	return target == ErrDatasetLocked
}
