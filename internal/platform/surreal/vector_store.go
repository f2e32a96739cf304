package surreal

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"regexp"
	"sync"

	"github.com/surrealdb/surrealdb.go"

	"github.com/phrazzld/synthgen/internal/store"
)

// metaTable holds one record per index naming its active generation table.
const metaTable = "vector_index"

var indexNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,47}$`)

// VectorStore keeps each index generation in its own table. Readers resolve
// the active table through the meta record; a rebuild fills the next
// generation's table and commits by repointing the meta record in a single
// statement. The previous generation is kept until the following commit so
// that in-flight queries against it still complete.
type VectorStore struct {
	db        *surrealdb.DB
	index     string
	dimension int
	logger    *slog.Logger

	// writeMu serializes generation changes made by this process.
	writeMu sync.Mutex
}

var _ store.VectorStore = (*VectorStore)(nil)

type meta struct {
	Active     string `json:"active"`
	Generation int    `json:"generation"`
}

type document struct {
	RecordID    string            `json:"record_id"`
	Embedding   []float32         `json:"embedding"`
	ContentHash string            `json:"content_hash"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type hit struct {
	RecordID string  `json:"record_id"`
	Score    float64 `json:"score"`
}

type hashRow struct {
	RecordID    string `json:"record_id"`
	ContentHash string `json:"content_hash"`
}

type countRow struct {
	Count int `json:"count"`
}

// NewVectorStore creates a store for the named index. dimension must match
// the embedder's output.
func NewVectorStore(db *surrealdb.DB, index string, dimension int, logger *slog.Logger) (*VectorStore, error) {
	if !indexNamePattern.MatchString(index) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidIndexName, index)
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", store.ErrInvalidEntity)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &VectorStore{
		db:        db,
		index:     index,
		dimension: dimension,
		logger:    logger.With("component", "surreal_vector_store", "index", index),
	}, nil
}

func (s *VectorStore) tableName(generation int) string {
	return fmt.Sprintf("vec_%s_g%d", s.index, generation)
}

func (s *VectorStore) loadMeta(ctx context.Context) (*meta, error) {
	results, err := surrealdb.Query[[]meta](ctx, s.db, `
		SELECT active, generation FROM type::record($meta, $index)
	`, map[string]any{"meta": metaTable, "index": s.index})
	if err != nil {
		return nil, wrapError("load_meta", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	m := (*results)[0].Result[0]
	if m.Active == "" {
		return nil, nil
	}
	return &m, nil
}

func (s *VectorStore) defineTable(ctx context.Context, table string) error {
	sql := fmt.Sprintf(`
		REMOVE TABLE IF EXISTS %[1]s;
		DEFINE TABLE %[1]s SCHEMALESS;
		DEFINE FIELD record_id ON %[1]s TYPE string;
		DEFINE FIELD embedding ON %[1]s TYPE array<float>;
		DEFINE FIELD content_hash ON %[1]s TYPE string;
		DEFINE INDEX %[1]s_embedding ON %[1]s FIELDS embedding HNSW DIMENSION %[2]d DIST COSINE TYPE F32;
	`, table, s.dimension)
	if _, err := surrealdb.Query[any](ctx, s.db, sql, nil); err != nil {
		return wrapError("define_table", err)
	}
	return nil
}

func (s *VectorStore) setActive(ctx context.Context, table string, generation int) error {
	_, err := surrealdb.Query[any](ctx, s.db, `
		UPSERT type::record($meta, $index) SET active = $table, generation = $generation
	`, map[string]any{
		"meta":       metaTable,
		"index":      s.index,
		"table":      table,
		"generation": generation,
	})
	return wrapError("set_active", err)
}

// activeTable returns the table currently serving the index, creating the
// first generation when create is set.
func (s *VectorStore) activeTable(ctx context.Context, create bool) (string, error) {
	m, err := s.loadMeta(ctx)
	if err != nil {
		return "", err
	}
	if m != nil {
		return m.Active, nil
	}
	if !create {
		return "", nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if m, err = s.loadMeta(ctx); err != nil || m != nil {
		if m != nil {
			return m.Active, nil
		}
		return "", err
	}

	table := s.tableName(1)
	if err := s.defineTable(ctx, table); err != nil {
		return "", err
	}
	if err := s.setActive(ctx, table, 1); err != nil {
		return "", err
	}
	return table, nil
}

func (s *VectorStore) upsertInto(ctx context.Context, table string, entry store.VectorEntry) error {
	if entry.RecordID == "" {
		return fmt.Errorf("%w: empty record ID", store.ErrInvalidEntity)
	}
	if len(entry.Embedding) != s.dimension {
		return fmt.Errorf("%w: embedding for %s has dimension %d, want %d",
			store.ErrInvalidEntity, entry.RecordID, len(entry.Embedding), s.dimension)
	}

	_, err := surrealdb.Query[any](ctx, s.db, `
		UPSERT type::record($table, $id) CONTENT $doc
	`, map[string]any{
		"table": table,
		"id":    entry.RecordID,
		"doc": document{
			RecordID:    entry.RecordID,
			Embedding:   entry.Embedding,
			ContentHash: entry.ContentHash,
			Metadata:    maps.Clone(entry.Metadata),
		},
	})
	return wrapError("upsert", err)
}

// Upsert implements store.VectorStore
func (s *VectorStore) Upsert(ctx context.Context, entry store.VectorEntry) error {
	table, err := s.activeTable(ctx, true)
	if err != nil {
		return err
	}
	return s.upsertInto(ctx, table, entry)
}

// Delete implements store.VectorStore
func (s *VectorStore) Delete(ctx context.Context, recordID string) error {
	table, err := s.activeTable(ctx, false)
	if err != nil || table == "" {
		return err
	}
	_, err = surrealdb.Query[any](ctx, s.db, `
		DELETE type::record($table, $id)
	`, map[string]any{"table": table, "id": recordID})
	return wrapError("delete", err)
}

// Count implements store.VectorStore
func (s *VectorStore) Count(ctx context.Context) (int, error) {
	table, err := s.activeTable(ctx, false)
	if err != nil || table == "" {
		return 0, err
	}
	results, err := surrealdb.Query[[]countRow](ctx, s.db,
		fmt.Sprintf(`SELECT count() AS count FROM %s GROUP ALL`, table), nil)
	if err != nil {
		return 0, wrapError("count", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return 0, nil
	}
	return (*results)[0].Result[0].Count, nil
}

// Query implements store.VectorStore. HNSW search uses ef=40.
func (s *VectorStore) Query(ctx context.Context, embedding []float32, topK int) ([]store.ScoredID, error) {
	if topK <= 0 {
		return nil, nil
	}
	table, err := s.activeTable(ctx, false)
	if err != nil || table == "" {
		return nil, err
	}

	sql := fmt.Sprintf(`
		SELECT record_id, vector::similarity::cosine(embedding, $emb) AS score
		FROM %s
		WHERE embedding <|%d,40|> $emb
		ORDER BY score DESC
	`, table, topK)
	results, err := surrealdb.Query[[]hit](ctx, s.db, sql, map[string]any{"emb": embedding})
	if err != nil {
		return nil, wrapError("query", err)
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}

	rows := (*results)[0].Result
	hits := make([]store.ScoredID, 0, len(rows))
	for _, r := range rows {
		hits = append(hits, store.ScoredID{RecordID: r.RecordID, Score: r.Score})
	}
	return hits, nil
}

// ContentHashes implements store.VectorStore
func (s *VectorStore) ContentHashes(ctx context.Context) (map[string]string, error) {
	hashes := make(map[string]string)
	table, err := s.activeTable(ctx, false)
	if err != nil || table == "" {
		return hashes, err
	}

	results, err := surrealdb.Query[[]hashRow](ctx, s.db,
		fmt.Sprintf(`SELECT record_id, content_hash FROM %s`, table), nil)
	if err != nil {
		return nil, wrapError("content_hashes", err)
	}
	if results != nil && len(*results) > 0 {
		for _, r := range (*results)[0].Result {
			hashes[r.RecordID] = r.ContentHash
		}
	}
	return hashes, nil
}

// BeginRebuild implements store.VectorStore
func (s *VectorStore) BeginRebuild(ctx context.Context) (store.IndexBuilder, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	m, err := s.loadMeta(ctx)
	if err != nil {
		return nil, err
	}
	generation := 1
	if m != nil {
		generation = m.Generation + 1
	}

	table := s.tableName(generation)
	if err := s.defineTable(ctx, table); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "rebuild table defined", "table", table)
	return &builder{store: s, table: table, generation: generation}, nil
}

type builder struct {
	mu         sync.Mutex
	store      *VectorStore
	table      string
	generation int
	done       bool
}

func (b *builder) Upsert(ctx context.Context, entry store.VectorEntry) error {
	b.mu.Lock()
	done := b.done
	b.mu.Unlock()
	if done {
		return store.ErrBuilderClosed
	}
	return b.store.upsertInto(ctx, b.table, entry)
}

func (b *builder) Commit(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return store.ErrBuilderClosed
	}
	b.done = true

	s := b.store
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.setActive(ctx, b.table, b.generation); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "rebuilt index activated", "table", b.table)

	if b.generation > 2 {
		stale := s.tableName(b.generation - 2)
		if _, err := surrealdb.Query[any](ctx, s.db,
			fmt.Sprintf(`REMOVE TABLE IF EXISTS %s`, stale), nil); err != nil {
			s.logger.WarnContext(ctx, "failed to remove stale generation", "table", stale, "error", err)
		}
	}
	return nil
}

func (b *builder) Abort(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return nil
	}
	b.done = true

	_, err := surrealdb.Query[any](ctx, b.store.db,
		fmt.Sprintf(`REMOVE TABLE IF EXISTS %s`, b.table), nil)
	return wrapError("abort_rebuild", err)
}
