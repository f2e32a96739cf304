// Package store defines interfaces for data persistence operations.
// These interfaces abstract the relational store holding dataset records,
// generated samples, task snapshots and sync state, and the vector store
// holding the derived similarity index, from the orchestration logic.
package store
