package store

import "context"

// VectorEntry is one document of the similarity index.
type VectorEntry struct {
	RecordID    string
	Embedding   []float32
	ContentHash string
	Metadata    map[string]string
}

// ScoredID is a ranked query hit; higher scores are more similar.
type ScoredID struct {
	RecordID string
	Score    float64
}

// VectorStore is the similarity index kept in sync with the relational store.
type VectorStore interface {
	// Upsert inserts or replaces the entry with the same RecordID.
	Upsert(ctx context.Context, entry VectorEntry) error

	// Delete removes an entry. Deleting a missing entry is not an error.
	Delete(ctx context.Context, recordID string) error

	// Count returns the number of entries in the active index. An absent
	// index counts as empty.
	Count(ctx context.Context) (int, error)

	// Query returns up to topK entries ranked by similarity to embedding.
	Query(ctx context.Context, embedding []float32, topK int) ([]ScoredID, error)

	// ContentHashes maps every indexed record ID to its content hash.
	ContentHashes(ctx context.Context) (map[string]string, error)

	// BeginRebuild starts building a fresh index next to the active one.
	// Readers keep seeing the active index until the builder commits.
	BeginRebuild(ctx context.Context) (IndexBuilder, error)
}

// IndexBuilder populates a fresh index and swaps it in atomically.
type IndexBuilder interface {
	Upsert(ctx context.Context, entry VectorEntry) error

	// Commit replaces the active index with the built one in a single step.
	Commit(ctx context.Context) error

	// Abort discards the built index, leaving the active one untouched.
	Abort(ctx context.Context) error
}
