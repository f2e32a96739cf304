package store

import (
	"context"

	"github.com/phrazzld/synthgen/internal/domain"
)

// SyncStateStore records the outcome of the last sync operation per index.
type SyncStateStore interface {
	SaveSyncState(ctx context.Context, index string, state domain.SyncState) error

	// LoadSyncState returns ErrSyncStateNotFound before the first sync.
	LoadSyncState(ctx context.Context, index string) (*domain.SyncState, error)
}
