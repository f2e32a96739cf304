// Package vectorsync keeps the vector index consistent with the relational
// store.
//
// A full rebuild embeds every source record into a fresh index and swaps it
// in atomically. An incremental update compares content hashes and touches
// only records that were added, changed or removed. Records whose embedding
// fails irrecoverably are skipped and reported as degraded instead of
// aborting the operation.
package vectorsync
