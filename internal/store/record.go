package store

import (
	"context"
	"time"

	"github.com/phrazzld/synthgen/internal/domain"
)

// RecordFilter narrows the records of a dataset to the eligible set.
type RecordFilter struct {
	Selection domain.Selection

	// SamplesBefore bounds the "unprocessed" strategy: a record counts as
	// processed only if it has a sample created before this instant, so the
	// eligible set stays fixed while a task writes new samples.
	SamplesBefore time.Time
}

// RecordStore provides read-only access to dataset records.
// Records are returned ordered by ID so offsets paginate stably.
type RecordStore interface {
	// Count returns the number of records of the dataset matching filter.
	Count(ctx context.Context, datasetID string, filter RecordFilter) (int, error)

	// ReadBatch returns at most limit matching records starting at offset.
	ReadBatch(ctx context.Context, datasetID string, filter RecordFilter, offset, limit int) ([]domain.Record, error)
}

// SourceReader is the authoritative side of vector index synchronization.
// Records are returned ordered by ID and paged by the last ID seen, so
// records inserted or deleted during a scan never shift later pages.
type SourceReader interface {
	// Count returns the number of records that should be indexed.
	Count(ctx context.Context) (int, error)

	// ReadBatch returns at most limit records whose ID sorts after afterID,
	// starting from the first record when afterID is empty.
	ReadBatch(ctx context.Context, afterID string, limit int) ([]domain.Record, error)
}
