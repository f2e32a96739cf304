package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/synthgen/internal/store"
)

func entry(id string, emb ...float32) store.VectorEntry {
	return store.VectorEntry{RecordID: id, Embedding: emb, ContentHash: "h-" + id}
}

func TestVectorStore_UpsertQueryDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewVectorStore(2)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "absent index counts as empty")

	require.NoError(t, s.Upsert(ctx, entry("x", 1, 0)))
	require.NoError(t, s.Upsert(ctx, entry("y", 0, 1)))
	require.NoError(t, s.Upsert(ctx, entry("xy", 1, 1)))

	hits, err := s.Query(ctx, []float32{1, 0.1}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "x", hits[0].RecordID)
	assert.Equal(t, "xy", hits[1].RecordID)
	assert.Greater(t, hits[0].Score, hits[1].Score)

	require.NoError(t, s.Upsert(ctx, entry("x", 0, 1)))
	n, err = s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "upsert replaces by record ID")

	require.NoError(t, s.Delete(ctx, "x"))
	require.NoError(t, s.Delete(ctx, "missing"))

	hashes, err := s.ContentHashes(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"y": "h-y", "xy": "h-xy"}, hashes)
}

func TestVectorStore_RejectsInvalidEntries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewVectorStore(3)

	assert.ErrorIs(t, s.Upsert(ctx, entry("a", 1, 2)), store.ErrInvalidEntity)
	assert.ErrorIs(t, s.Upsert(ctx, entry("", 1, 2, 3)), store.ErrInvalidEntity)
	assert.ErrorIs(t, s.Upsert(ctx, entry("a")), store.ErrInvalidEntity)
}

func TestVectorStore_StoredEntriesAreCopies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewVectorStore(0)
	emb := []float32{1, 0}
	require.NoError(t, s.Upsert(ctx, store.VectorEntry{RecordID: "a", Embedding: emb}))
	emb[0] = -1

	hits, err := s.Query(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
}

func TestVectorStore_RebuildSwap(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewVectorStore(2)
	require.NoError(t, s.Upsert(ctx, entry("old", 1, 0)))

	b, err := s.BeginRebuild(ctx)
	require.NoError(t, err)
	require.NoError(t, b.Upsert(ctx, entry("new-1", 1, 0)))
	require.NoError(t, b.Upsert(ctx, entry("new-2", 0, 1)))

	hashes, err := s.ContentHashes(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"old": "h-old"}, hashes, "builder is invisible before commit")

	require.NoError(t, b.Commit(ctx))
	assert.ErrorIs(t, b.Commit(ctx), store.ErrBuilderClosed)
	assert.ErrorIs(t, b.Upsert(ctx, entry("late", 1, 1)), store.ErrBuilderClosed)

	hashes, err = s.ContentHashes(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"new-1": "h-new-1", "new-2": "h-new-2"}, hashes)
}

func TestVectorStore_AbortKeepsActive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewVectorStore(2)
	require.NoError(t, s.Upsert(ctx, entry("old", 1, 0)))

	b, err := s.BeginRebuild(ctx)
	require.NoError(t, err)
	require.NoError(t, b.Upsert(ctx, entry("new", 1, 0)))
	require.NoError(t, b.Abort(ctx))
	assert.ErrorIs(t, b.Commit(ctx), store.ErrBuilderClosed)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// Queries running during a rebuild must see either the old or the new
// index in full.
func TestVectorStore_QueriesDuringRebuildNeverMix(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewVectorStore(2)

	const size = 200
	for i := range size {
		require.NoError(t, s.Upsert(ctx, entry(fmt.Sprintf("old-%03d", i), 1, float32(i))))
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	var mixed sync.Map
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				hits, err := s.Query(ctx, []float32{1, 1}, size)
				if err != nil {
					mixed.Store("error", err)
					return
				}
				prefixes := map[string]bool{}
				for _, h := range hits {
					prefixes[h.RecordID[:3]] = true
				}
				if len(prefixes) > 1 || len(hits) != size {
					mixed.Store("mixed", hits)
				}
			}
		}()
	}

	b, err := s.BeginRebuild(ctx)
	require.NoError(t, err)
	for i := range size {
		require.NoError(t, b.Upsert(ctx, entry(fmt.Sprintf("new-%03d", i), float32(i), 1)))
	}
	require.NoError(t, b.Commit(ctx))
	close(stop)
	wg.Wait()

	_, found := mixed.Load("mixed")
	assert.False(t, found)
	_, failed := mixed.Load("error")
	assert.False(t, failed)
}
