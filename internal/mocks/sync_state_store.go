package mocks

import (
	"context"
	"sync"

	"github.com/phrazzld/synthgen/internal/domain"
	"github.com/phrazzld/synthgen/internal/store"
)

// MockSyncStateStore implements store.SyncStateStore in memory.
type MockSyncStateStore struct {
	SaveErr error

	mu     sync.Mutex
	states map[string]domain.SyncState
}

var _ store.SyncStateStore = (*MockSyncStateStore)(nil)

// SaveSyncState implements store.SyncStateStore
func (m *MockSyncStateStore) SaveSyncState(ctx context.Context, index string, state domain.SyncState) error {
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.states == nil {
		m.states = make(map[string]domain.SyncState)
	}
	m.states[index] = state.Clone()
	return nil
}

// LoadSyncState implements store.SyncStateStore
func (m *MockSyncStateStore) LoadSyncState(ctx context.Context, index string) (*domain.SyncState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[index]
	if !ok {
		return nil, store.ErrSyncStateNotFound
	}
	c := state.Clone()
	return &c, nil
}
