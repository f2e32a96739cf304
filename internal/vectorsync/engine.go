package vectorsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/phrazzld/synthgen/internal/domain"
	"github.com/phrazzld/synthgen/internal/generation"
	"github.com/phrazzld/synthgen/internal/store"
)

// Embedder turns text into a vector. Failures that may succeed on retry
// match generation.ErrTransientFailure.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config holds the engine settings.
type Config struct {
	// Index names the synchronized index in the sync state store.
	Index string

	// BatchSize bounds how many source records are read at once.
	BatchSize int

	// EmbedConcurrency bounds concurrent embedder calls.
	EmbedConcurrency int

	Retry generation.RetryPolicy

	// Now is the clock used for last_synced_at. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns a Config with reasonable defaults
func DefaultConfig() Config {
	return Config{
		Index:            "samples",
		BatchSize:        100,
		EmbedConcurrency: 4,
		Retry:            generation.DefaultRetryPolicy(),
		Now:              time.Now,
	}
}

// Engine synchronizes a VectorStore with a SourceReader. Initialize and
// Update are serialized; Stats never blocks on them.
type Engine struct {
	// opMu allows one sync operation at a time.
	opMu sync.Mutex

	source   store.SourceReader
	vectors  store.VectorStore
	embedder Embedder
	states   store.SyncStateStore
	cfg      Config
	logger   *slog.Logger

	stateMu sync.RWMutex
	last    *domain.SyncState
}

// NewEngine creates an Engine. states may be nil, in which case the outcome
// of the last operation is only kept in memory.
func NewEngine(
	source store.SourceReader,
	vectors store.VectorStore,
	embedder Embedder,
	states store.SyncStateStore,
	cfg Config,
	logger *slog.Logger,
) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.EmbedConcurrency <= 0 {
		cfg.EmbedConcurrency = 1
	}
	if cfg.Index == "" {
		cfg.Index = "samples"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		source:   source,
		vectors:  vectors,
		embedder: embedder,
		states:   states,
		cfg:      cfg,
		logger:   logger.With("component", "vector_sync", "index", cfg.Index),
	}
}

// Initialize performs a full rebuild when force is set or the index is
// empty, and an incremental update otherwise.
func (e *Engine) Initialize(ctx context.Context, force bool) (domain.SyncState, error) {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	if !force {
		n, err := e.vectors.Count(ctx)
		if err != nil {
			return domain.SyncState{}, fmt.Errorf("failed to count index entries: %w", err)
		}
		if n > 0 {
			return e.update(ctx)
		}
	}
	return e.rebuild(ctx)
}

// Update applies the delta between source and index: records that are new
// or whose content hash changed are embedded and upserted, index entries
// without a source record are deleted, everything else is left alone.
func (e *Engine) Update(ctx context.Context) (domain.SyncState, error) {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	return e.update(ctx)
}

// Stats reports the current counts together with the outcome of the last
// completed operation. It mutates nothing.
func (e *Engine) Stats(ctx context.Context) (domain.SyncState, error) {
	sourceCount, err := e.source.Count(ctx)
	if err != nil {
		return domain.SyncState{}, fmt.Errorf("failed to count source records: %w", err)
	}
	vectorCount, err := e.vectors.Count(ctx)
	if err != nil {
		return domain.SyncState{}, fmt.Errorf("failed to count index entries: %w", err)
	}

	state, err := e.lastState(ctx)
	if err != nil {
		return domain.SyncState{}, err
	}
	state.SourceCount = sourceCount
	state.VectorCount = vectorCount
	return state, nil
}

// Search embeds text and returns the topK most similar indexed records.
func (e *Engine) Search(ctx context.Context, text string, topK int) ([]store.ScoredID, error) {
	var emb []float32
	_, err := e.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		var err error
		emb, err = e.embedder.Embed(ctx, text)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return e.vectors.Query(ctx, emb, topK)
}

func (e *Engine) lastState(ctx context.Context) (domain.SyncState, error) {
	e.stateMu.RLock()
	last := e.last
	e.stateMu.RUnlock()
	if last != nil {
		return last.Clone(), nil
	}

	if e.states == nil {
		return domain.SyncState{}, nil
	}
	persisted, err := e.states.LoadSyncState(ctx, e.cfg.Index)
	if errors.Is(err, store.ErrSyncStateNotFound) {
		return domain.SyncState{}, nil
	}
	if err != nil {
		return domain.SyncState{}, fmt.Errorf("failed to load sync state: %w", err)
	}
	return persisted.Clone(), nil
}

// outcome accumulates the result of one operation.
type outcome struct {
	mode     domain.SyncMode
	upserted int
	deleted  int
	degraded []string
}

func (e *Engine) rebuild(ctx context.Context) (domain.SyncState, error) {
	e.logger.InfoContext(ctx, "full rebuild started")
	start := time.Now()

	builder, err := e.vectors.BeginRebuild(ctx)
	if err != nil {
		return domain.SyncState{}, fmt.Errorf("failed to begin rebuild: %w", err)
	}

	out := outcome{mode: domain.SyncModeFull}
	err = e.scan(ctx, func(batch []domain.Record) error {
		n, degraded, err := e.embedAndWrite(ctx, batch, builder.Upsert)
		out.upserted += n
		out.degraded = append(out.degraded, degraded...)
		return err
	})
	if err != nil {
		if abortErr := builder.Abort(context.WithoutCancel(ctx)); abortErr != nil {
			e.logger.ErrorContext(ctx, "failed to abort rebuild", "error", abortErr)
		}
		return domain.SyncState{}, fmt.Errorf("full rebuild failed: %w", err)
	}

	if err := builder.Commit(ctx); err != nil {
		return domain.SyncState{}, fmt.Errorf("failed to commit rebuilt index: %w", err)
	}

	state, err := e.complete(ctx, out)
	if err != nil {
		return domain.SyncState{}, err
	}
	e.logger.InfoContext(ctx, "full rebuild completed",
		"vector_count", state.VectorCount,
		"degraded", state.DegradedCount,
		"duration_ms", time.Since(start).Milliseconds())
	return state, nil
}

func (e *Engine) update(ctx context.Context) (domain.SyncState, error) {
	e.logger.InfoContext(ctx, "incremental update started")
	start := time.Now()

	indexed, err := e.vectors.ContentHashes(ctx)
	if err != nil {
		return domain.SyncState{}, fmt.Errorf("failed to read indexed hashes: %w", err)
	}

	out := outcome{mode: domain.SyncModeIncremental}
	seen := make(map[string]struct{}, len(indexed))

	err = e.scan(ctx, func(batch []domain.Record) error {
		var changed []domain.Record
		for _, r := range batch {
			seen[r.ID] = struct{}{}
			if hash, ok := indexed[r.ID]; !ok || hash != r.ContentHash {
				changed = append(changed, r)
			}
		}
		if len(changed) == 0 {
			return nil
		}
		n, degraded, err := e.embedAndWrite(ctx, changed, e.vectors.Upsert)
		out.upserted += n
		out.degraded = append(out.degraded, degraded...)
		return err
	})
	if err != nil {
		return domain.SyncState{}, fmt.Errorf("incremental update failed: %w", err)
	}

	var vanished []string
	for id := range indexed {
		if _, ok := seen[id]; !ok {
			vanished = append(vanished, id)
		}
	}
	slices.Sort(vanished)
	for _, id := range vanished {
		if err := e.vectors.Delete(ctx, id); err != nil {
			return domain.SyncState{}, fmt.Errorf("failed to delete index entry %s: %w", id, err)
		}
		out.deleted++
	}

	state, err := e.complete(ctx, out)
	if err != nil {
		return domain.SyncState{}, err
	}
	e.logger.InfoContext(ctx, "incremental update completed",
		"upserted", state.Upserted,
		"deleted", state.Deleted,
		"degraded", state.DegradedCount,
		"duration_ms", time.Since(start).Milliseconds())
	return state, nil
}

// scan hands every source record to fn in ID order, one batch at a time.
func (e *Engine) scan(ctx context.Context, fn func(batch []domain.Record) error) error {
	for afterID := ""; ; {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := e.source.ReadBatch(ctx, afterID, e.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("failed to read source records after %q: %w", afterID, err)
		}
		if len(batch) == 0 {
			return nil
		}
		if err := fn(batch); err != nil {
			return err
		}
		if len(batch) < e.cfg.BatchSize {
			return nil
		}
		afterID = batch[len(batch)-1].ID
	}
}

// embedAndWrite embeds records concurrently and writes each result with
// write. It returns the number written and the IDs of records whose
// embedding failed permanently. Write failures and cancellation abort.
func (e *Engine) embedAndWrite(
	ctx context.Context,
	records []domain.Record,
	write func(context.Context, store.VectorEntry) error,
) (int, []string, error) {
	entries := make([]*store.VectorEntry, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.EmbedConcurrency)
	for i, r := range records {
		g.Go(func() error {
			var emb []float32
			_, err := e.cfg.Retry.Do(gctx, func(ctx context.Context) error {
				var err error
				emb, err = e.embedder.Embed(ctx, r.Content)
				if err == nil && len(emb) == 0 {
					err = ErrEmptyEmbedding
				}
				return err
			})
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				e.logger.WarnContext(ctx, "embedding failed, record degraded",
					"record_id", r.ID,
					"error", err)
				return nil
			}
			entries[i] = &store.VectorEntry{
				RecordID:    r.ID,
				Embedding:   emb,
				ContentHash: r.ContentHash,
				Metadata:    map[string]string{"dataset_id": r.DatasetID},
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, nil, err
	}

	written := 0
	var degraded []string
	for i, entry := range entries {
		if entry == nil {
			degraded = append(degraded, records[i].ID)
			continue
		}
		if err := write(ctx, *entry); err != nil {
			return written, degraded, fmt.Errorf("failed to write index entry %s: %w", entry.RecordID, err)
		}
		written++
	}
	return written, degraded, nil
}

// complete builds the resulting state, remembers it and persists it.
func (e *Engine) complete(ctx context.Context, out outcome) (domain.SyncState, error) {
	sourceCount, err := e.source.Count(ctx)
	if err != nil {
		return domain.SyncState{}, fmt.Errorf("failed to count source records: %w", err)
	}
	vectorCount, err := e.vectors.Count(ctx)
	if err != nil {
		return domain.SyncState{}, fmt.Errorf("failed to count index entries: %w", err)
	}

	now := e.cfg.Now().UTC()
	slices.Sort(out.degraded)
	state := domain.SyncState{
		SourceCount:   sourceCount,
		VectorCount:   vectorCount,
		LastSyncedAt:  &now,
		Mode:          out.mode,
		DegradedCount: len(out.degraded),
		DegradedIDs:   out.degraded,
		Upserted:      out.upserted,
		Deleted:       out.deleted,
	}

	e.stateMu.Lock()
	saved := state.Clone()
	e.last = &saved
	e.stateMu.Unlock()

	if e.states != nil {
		if err := e.states.SaveSyncState(context.WithoutCancel(ctx), e.cfg.Index, state); err != nil {
			e.logger.ErrorContext(ctx, "failed to persist sync state", "error", err)
		}
	}
	return state, nil
}
