package vectorsync

import (
	"context"

	"github.com/phrazzld/synthgen/internal/domain"
)

// Syncer is the part of Engine the Checker relies on.
type Syncer interface {
	Update(ctx context.Context) (domain.SyncState, error)
	Stats(ctx context.Context) (domain.SyncState, error)
}

// IsSynced reports whether state shows an index mirroring its source with
// no degraded records.
func IsSynced(state domain.SyncState) bool {
	return state.IsSynced()
}

// Checker decides whether an index needs work.
type Checker struct {
	syncer Syncer
}

// NewChecker creates a Checker.
func NewChecker(syncer Syncer) *Checker {
	return &Checker{syncer: syncer}
}

// IsSynced evaluates the latest stats.
func (c *Checker) IsSynced(ctx context.Context) (bool, domain.SyncState, error) {
	state, err := c.syncer.Stats(ctx)
	if err != nil {
		return false, domain.SyncState{}, err
	}
	return IsSynced(state), state, nil
}

// Reconcile runs an update and verifies it against fresh stats. Drift that
// remains without degraded records is reported as *SyncInconsistencyError.
func (c *Checker) Reconcile(ctx context.Context) (domain.SyncState, error) {
	updated, err := c.syncer.Update(ctx)
	if err != nil {
		return domain.SyncState{}, err
	}
	state, err := c.syncer.Stats(ctx)
	if err != nil {
		return updated, err
	}
	if !IsSynced(state) && state.DegradedCount == 0 {
		return state, &SyncInconsistencyError{State: state}
	}
	return state, nil
}
