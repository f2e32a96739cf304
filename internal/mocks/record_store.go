package mocks

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/phrazzld/synthgen/internal/domain"
	"github.com/phrazzld/synthgen/internal/store"
)

// MockRecordStore implements store.RecordStore over an in-memory slice.
// Records must be sorted by ID. The unprocessed strategy matches every
// record unless ProcessedIDs lists it.
type MockRecordStore struct {
	Records      []domain.Record
	ProcessedIDs map[string]bool

	CountFn     func(ctx context.Context, datasetID string, filter store.RecordFilter) (int, error)
	ReadBatchFn func(ctx context.Context, datasetID string, filter store.RecordFilter, offset, limit int) ([]domain.Record, error)

	mu             sync.Mutex
	ReadBatchCalls int
}

var _ store.RecordStore = (*MockRecordStore)(nil)

// NewMockRecordStore creates n records of dataset datasetID with IDs r0000, r0001, ...
func NewMockRecordStore(datasetID string, n int) *MockRecordStore {
	records := make([]domain.Record, n)
	for i := range records {
		content := fmt.Sprintf("record content %d", i)
		records[i] = domain.Record{
			ID:          fmt.Sprintf("r%04d", i),
			DatasetID:   datasetID,
			Content:     content,
			ContentHash: domain.ContentHash(content),
		}
	}
	return &MockRecordStore{Records: records}
}

func (m *MockRecordStore) matching(datasetID string, filter store.RecordFilter) []domain.Record {
	var out []domain.Record
	for _, r := range m.Records {
		if r.DatasetID != datasetID {
			continue
		}
		switch filter.Selection.Strategy {
		case domain.SelectTagged:
			if !slices.ContainsFunc(r.Tags, func(tag string) bool {
				return slices.Contains(filter.Selection.Tags, tag)
			}) {
				continue
			}
		case domain.SelectUnprocessed:
			if m.ProcessedIDs[r.ID] {
				continue
			}
		}
		out = append(out, r)
	}
	return out
}

// Count implements store.RecordStore
func (m *MockRecordStore) Count(ctx context.Context, datasetID string, filter store.RecordFilter) (int, error) {
	if m.CountFn != nil {
		return m.CountFn(ctx, datasetID, filter)
	}
	return len(m.matching(datasetID, filter)), nil
}

// ReadBatch implements store.RecordStore
func (m *MockRecordStore) ReadBatch(
	ctx context.Context,
	datasetID string,
	filter store.RecordFilter,
	offset, limit int,
) ([]domain.Record, error) {
	m.mu.Lock()
	m.ReadBatchCalls++
	m.mu.Unlock()

	if m.ReadBatchFn != nil {
		return m.ReadBatchFn(ctx, datasetID, filter, offset, limit)
	}

	records := m.matching(datasetID, filter)
	if offset >= len(records) {
		return nil, nil
	}
	return slices.Clone(records[offset:min(offset+limit, len(records))]), nil
}
