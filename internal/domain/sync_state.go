package domain

import (
	"slices"
	"time"
)

// SyncMode describes the kind of the last completed sync operation.
type SyncMode string

// Possible sync modes
const (
	SyncModeNone        SyncMode = ""
	SyncModeFull        SyncMode = "full"
	SyncModeIncremental SyncMode = "incremental"
)

// SyncState is the observed relationship between the relational store and
// the vector index.
type SyncState struct {
	SourceCount   int        `json:"source_count"`
	VectorCount   int        `json:"vector_count"`
	LastSyncedAt  *time.Time `json:"last_synced_at,omitempty"`
	Mode          SyncMode   `json:"mode"`
	DegradedCount int        `json:"degraded_count"`
	DegradedIDs   []string   `json:"degraded_ids,omitempty"`

	// Upserted and Deleted report the work done by the last operation.
	Upserted int `json:"upserted"`
	Deleted  int `json:"deleted"`
}

// IsSynced reports whether the index mirrors the source exactly.
func (s SyncState) IsSynced() bool {
	return s.SourceCount == s.VectorCount && s.DegradedCount == 0
}

// Clone returns a copy sharing no memory with s.
func (s SyncState) Clone() SyncState {
	s.DegradedIDs = slices.Clone(s.DegradedIDs)
	if s.LastSyncedAt != nil {
		at := *s.LastSyncedAt
		s.LastSyncedAt = &at
	}
	return s
}
