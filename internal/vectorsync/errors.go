package vectorsync

import (
	"errors"
	"fmt"

	"github.com/phrazzld/synthgen/internal/domain"
)

// Vector sync errors
var (
	// ErrSyncInconsistency is matched by *SyncInconsistencyError.
	ErrSyncInconsistency = errors.New("vector index out of sync after update")

	// ErrEmptyEmbedding is returned when an embedder produced no vector.
	ErrEmptyEmbedding = errors.New("embedder returned an empty vector")
)

// SyncInconsistencyError reports drift that survived an update which
// claimed success. It is not fatal; callers typically answer it with a
// full rebuild.
type SyncInconsistencyError struct {
	State domain.SyncState
}

func (e *SyncInconsistencyError) Error() string {
	return fmt.Sprintf("%v: source_count=%d vector_count=%d",
		ErrSyncInconsistency, e.State.SourceCount, e.State.VectorCount)
}

// Is matches ErrSyncInconsistency.
func (e *SyncInconsistencyError) Is(target error) bool {
	return target == ErrSyncInconsistency
}
