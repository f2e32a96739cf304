package mocks

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/phrazzld/synthgen/internal/domain"
	"github.com/phrazzld/synthgen/internal/store"
)

// MockTaskStore implements store.TaskStore in memory with the same
// dataset lock, version guard and terminal guard as the postgres
// implementation. Several registries may share one instance to stand in for
// processes sharing a database.
type MockTaskStore struct {
	CreateTaskFn func(ctx context.Context, task domain.GenerationTask) error
	SaveTaskFn   func(ctx context.Context, task domain.GenerationTask) error

	mu        sync.Mutex
	tasks     map[uuid.UUID]domain.GenerationTask
	SaveCalls int
}

var _ store.TaskStore = (*MockTaskStore)(nil)

// NewMockTaskStore creates a store pre-populated with tasks.
func NewMockTaskStore(tasks ...domain.GenerationTask) *MockTaskStore {
	m := &MockTaskStore{tasks: make(map[uuid.UUID]domain.GenerationTask)}
	for _, t := range tasks {
		m.tasks[t.ID] = t.Clone()
	}
	return m
}

// CreateTask implements store.TaskStore
func (m *MockTaskStore) CreateTask(ctx context.Context, task domain.GenerationTask) error {
	if m.CreateTaskFn != nil {
		if err := m.CreateTaskFn(ctx, task); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tasks == nil {
		m.tasks = make(map[uuid.UUID]domain.GenerationTask)
	}
	if _, ok := m.tasks[task.ID]; ok {
		return store.ErrDuplicate
	}
	for _, t := range m.tasks {
		if t.DatasetID == task.DatasetID && !t.Status.IsTerminal() {
			return &store.DatasetLockedError{DatasetID: task.DatasetID, HolderID: t.ID}
		}
	}
	m.tasks[task.ID] = task.Clone()
	return nil
}

// SaveTask implements store.TaskStore
func (m *MockTaskStore) SaveTask(ctx context.Context, task domain.GenerationTask) error {
	if m.SaveTaskFn != nil {
		if err := m.SaveTaskFn(ctx, task); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveCalls++
	if m.tasks == nil {
		m.tasks = make(map[uuid.UUID]domain.GenerationTask)
	}
	if existing, ok := m.tasks[task.ID]; ok {
		if existing.Status.IsTerminal() {
			if existing.Status == task.Status && existing.Version == task.Version {
				return nil
			}
			return store.ErrTaskFinalized
		}
		if existing.Version >= task.Version {
			return nil
		}
	}
	m.tasks[task.ID] = task.Clone()
	return nil
}

// GetTask implements store.TaskStore
func (m *MockTaskStore) GetTask(ctx context.Context, id uuid.UUID) (*domain.GenerationTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	c := t.Clone()
	return &c, nil
}

// ListTasks implements store.TaskStore
func (m *MockTaskStore) ListTasks(ctx context.Context, filter domain.TaskFilter) ([]domain.GenerationTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.GenerationTask
	for _, t := range m.tasks {
		if filter.Matches(&t) {
			out = append(out, t.Clone())
		}
	}
	slices.SortFunc(out, func(a, b domain.GenerationTask) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}
