package postgres_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/synthgen/internal/domain"
	"github.com/phrazzld/synthgen/internal/platform/postgres"
	"github.com/phrazzld/synthgen/internal/store"
)

func TestSyncStateStore_Save(t *testing.T) {
	t.Parallel()
	db, mock := newMockDB(t)
	s := postgres.NewPostgresSyncStateStore(db, nil)

	mock.ExpectExec("INSERT INTO sync_states").
		WithArgs("samples", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.SaveSyncState(context.Background(), "samples", domain.SyncState{
		SourceCount: 3, VectorCount: 3, Mode: domain.SyncModeFull,
	}))
}

func TestSyncStateStore_SaveFailure(t *testing.T) {
	t.Parallel()
	db, mock := newMockDB(t)
	s := postgres.NewPostgresSyncStateStore(db, nil)

	cause := errors.New("disk full")
	mock.ExpectExec("INSERT INTO sync_states").WillReturnError(cause)

	assert.ErrorIs(t, s.SaveSyncState(context.Background(), "samples", domain.SyncState{}), cause)
}

func TestSyncStateStore_Load(t *testing.T) {
	t.Parallel()
	db, mock := newMockDB(t)
	s := postgres.NewPostgresSyncStateStore(db, nil)

	synced := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	payload := []byte(`{"source_count":5,"vector_count":4,"mode":"incremental",` +
		`"degraded_count":1,"degraded_ids":["s0002"],"last_synced_at":"2026-06-01T00:00:00Z"}`)
	mock.ExpectQuery("SELECT state FROM sync_states WHERE index_name").
		WithArgs("samples").
		WillReturnRows(sqlmock.NewRows([]string{"state"}).AddRow(payload))

	state, err := s.LoadSyncState(context.Background(), "samples")
	require.NoError(t, err)
	assert.Equal(t, 5, state.SourceCount)
	assert.Equal(t, domain.SyncModeIncremental, state.Mode)
	assert.Equal(t, []string{"s0002"}, state.DegradedIDs)
	require.NotNil(t, state.LastSyncedAt)
	assert.True(t, synced.Equal(*state.LastSyncedAt))
	assert.False(t, state.IsSynced())
}

func TestSyncStateStore_LoadMissing(t *testing.T) {
	t.Parallel()
	db, mock := newMockDB(t)
	s := postgres.NewPostgresSyncStateStore(db, nil)

	mock.ExpectQuery("SELECT state FROM sync_states").WillReturnError(sql.ErrNoRows)

	_, err := s.LoadSyncState(context.Background(), "samples")
	assert.ErrorIs(t, err, store.ErrSyncStateNotFound)
}
