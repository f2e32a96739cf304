// Package memory provides an in-process implementation of store.VectorStore
// for local runs and tests.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"math"
	"slices"
	"sync"

	"github.com/phrazzld/synthgen/internal/store"
)

// index is one generation of the similarity index.
type index struct {
	entries map[string]store.VectorEntry
}

// VectorStore keeps entries in a map guarded by a RWMutex. A rebuild fills a
// separate map and swaps it in while holding the write lock, so a query sees
// either the complete old index or the complete new one.
type VectorStore struct {
	mu        sync.RWMutex
	active    *index
	dimension int
}

var _ store.VectorStore = (*VectorStore)(nil)

// NewVectorStore creates an empty store. A positive dimension makes every
// write reject embeddings of a different length.
func NewVectorStore(dimension int) *VectorStore {
	return &VectorStore{dimension: dimension}
}

func (s *VectorStore) checkEntry(entry store.VectorEntry) error {
	if entry.RecordID == "" {
		return fmt.Errorf("%w: empty record ID", store.ErrInvalidEntity)
	}
	if len(entry.Embedding) == 0 {
		return fmt.Errorf("%w: empty embedding for %s", store.ErrInvalidEntity, entry.RecordID)
	}
	if s.dimension > 0 && len(entry.Embedding) != s.dimension {
		return fmt.Errorf("%w: embedding for %s has dimension %d, want %d",
			store.ErrInvalidEntity, entry.RecordID, len(entry.Embedding), s.dimension)
	}
	return nil
}

func copyEntry(entry store.VectorEntry) store.VectorEntry {
	entry.Embedding = slices.Clone(entry.Embedding)
	entry.Metadata = maps.Clone(entry.Metadata)
	return entry
}

// Upsert implements store.VectorStore
func (s *VectorStore) Upsert(ctx context.Context, entry store.VectorEntry) error {
	if err := s.checkEntry(entry); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		s.active = &index{entries: make(map[string]store.VectorEntry)}
	}
	s.active.entries[entry.RecordID] = copyEntry(entry)
	return nil
}

// Delete implements store.VectorStore
func (s *VectorStore) Delete(ctx context.Context, recordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		delete(s.active.entries, recordID)
	}
	return nil
}

// Count implements store.VectorStore
func (s *VectorStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil {
		return 0, nil
	}
	return len(s.active.entries), nil
}

// Query implements store.VectorStore using cosine similarity.
func (s *VectorStore) Query(ctx context.Context, embedding []float32, topK int) ([]store.ScoredID, error) {
	if topK <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil {
		return nil, nil
	}

	hits := make([]store.ScoredID, 0, len(s.active.entries))
	for id, entry := range s.active.entries {
		hits = append(hits, store.ScoredID{RecordID: id, Score: cosine(embedding, entry.Embedding)})
	}
	slices.SortFunc(hits, func(a, b store.ScoredID) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.RecordID, b.RecordID)
	})
	return hits[:min(topK, len(hits))], nil
}

// ContentHashes implements store.VectorStore
func (s *VectorStore) ContentHashes(ctx context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hashes := make(map[string]string)
	if s.active == nil {
		return hashes, nil
	}
	for id, entry := range s.active.entries {
		hashes[id] = entry.ContentHash
	}
	return hashes, nil
}

// BeginRebuild implements store.VectorStore
func (s *VectorStore) BeginRebuild(ctx context.Context) (store.IndexBuilder, error) {
	return &builder{
		store: s,
		next:  &index{entries: make(map[string]store.VectorEntry)},
	}, nil
}

// builder fills a private index that becomes visible only on Commit.
type builder struct {
	mu    sync.Mutex
	store *VectorStore
	next  *index
	done  bool
}

func (b *builder) Upsert(ctx context.Context, entry store.VectorEntry) error {
	if err := b.store.checkEntry(entry); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return store.ErrBuilderClosed
	}
	b.next.entries[entry.RecordID] = copyEntry(entry)
	return nil
}

func (b *builder) Commit(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return store.ErrBuilderClosed
	}
	b.done = true

	b.store.mu.Lock()
	b.store.active = b.next
	b.store.mu.Unlock()
	return nil
}

func (b *builder) Abort(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.done = true
	b.next = nil
	return nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
