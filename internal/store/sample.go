package store

import (
	"context"
	"database/sql"

	"github.com/phrazzld/synthgen/internal/domain"
)

// SampleStore persists generated samples. It is also the source the vector
// index is synchronized from.
type SampleStore interface {
	SourceReader

	// SaveSamples stores all samples or none of them.
	SaveSamples(ctx context.Context, samples []domain.Sample) error

	// WithTx returns a new SampleStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) SampleStore
}
