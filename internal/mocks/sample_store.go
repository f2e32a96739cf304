package mocks

import (
	"context"
	"database/sql"
	"slices"
	"strings"
	"sync"

	"github.com/phrazzld/synthgen/internal/domain"
	"github.com/phrazzld/synthgen/internal/store"
)

// MockSampleStore implements store.SampleStore in memory.
type MockSampleStore struct {
	SaveSamplesFn func(ctx context.Context, samples []domain.Sample) error

	mu        sync.Mutex
	samples   []domain.Sample
	SaveCalls int
}

var _ store.SampleStore = (*MockSampleStore)(nil)

// SaveSamples implements store.SampleStore
func (m *MockSampleStore) SaveSamples(ctx context.Context, samples []domain.Sample) error {
	m.mu.Lock()
	m.SaveCalls++
	m.mu.Unlock()

	if m.SaveSamplesFn != nil {
		if err := m.SaveSamplesFn(ctx, samples); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, samples...)
	return nil
}

// Samples returns every saved sample in save order.
func (m *MockSampleStore) Samples() []domain.Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.samples)
}

// Count implements store.SourceReader
func (m *MockSampleStore) Count(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.samples), nil
}

// ReadBatch implements store.SourceReader, exposing samples as records in
// ID order.
func (m *MockSampleStore) ReadBatch(ctx context.Context, afterID string, limit int) ([]domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := make([]domain.Record, 0, len(m.samples))
	for _, s := range m.samples {
		records = append(records, domain.Record{
			ID:          s.ID.String(),
			DatasetID:   s.DatasetID,
			Content:     s.Text(),
			ContentHash: domain.ContentHash(s.Text()),
			UpdatedAt:   s.CreatedAt,
		})
	}
	slices.SortFunc(records, func(a, b domain.Record) int { return strings.Compare(a.ID, b.ID) })

	var out []domain.Record
	for _, r := range records {
		if r.ID > afterID && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

// WithTx implements store.SampleStore
func (m *MockSampleStore) WithTx(tx *sql.Tx) store.SampleStore {
	return m
}

// MockSourceReader implements store.SourceReader over a mutable record set.
type MockSourceReader struct {
	mu      sync.Mutex
	records map[string]domain.Record

	CountErr     error
	ReadBatchErr error

	// AfterReadFn runs after every ReadBatch with the returned batch, outside
	// the reader's lock, so it may mutate the record set.
	AfterReadFn func(batch []domain.Record)
}

var _ store.SourceReader = (*MockSourceReader)(nil)

// NewMockSourceReader creates a reader holding records.
func NewMockSourceReader(records ...domain.Record) *MockSourceReader {
	m := &MockSourceReader{records: make(map[string]domain.Record)}
	for _, r := range records {
		m.Put(r)
	}
	return m
}

// Put adds or replaces a record, recomputing its content hash.
func (m *MockSourceReader) Put(r domain.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ContentHash = domain.ContentHash(r.Content)
	m.records[r.ID] = r
}

// Remove deletes a record.
func (m *MockSourceReader) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
}

// Count implements store.SourceReader
func (m *MockSourceReader) Count(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records), m.CountErr
}

// ReadBatch implements store.SourceReader
func (m *MockSourceReader) ReadBatch(ctx context.Context, afterID string, limit int) ([]domain.Record, error) {
	out, err := m.readBatch(afterID, limit)
	if err == nil && m.AfterReadFn != nil {
		m.AfterReadFn(out)
	}
	return out, err
}

func (m *MockSourceReader) readBatch(afterID string, limit int) ([]domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadBatchErr != nil {
		return nil, m.ReadBatchErr
	}

	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	var out []domain.Record
	for _, id := range ids[:min(limit, len(ids))] {
		out = append(out, m.records[id])
	}
	return out, nil
}
