package postgres_test

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/synthgen/internal/domain"
	"github.com/phrazzld/synthgen/internal/platform/postgres"
	"github.com/phrazzld/synthgen/internal/store"
)

func testSamples(n int) []domain.Sample {
	taskID := uuid.New()
	now := time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)
	samples := make([]domain.Sample, n)
	for i := range samples {
		samples[i] = domain.NewSample(taskID, "ds", "r0001", "What is 2+2?", "4", "mock", now)
	}
	return samples
}

func sampleArgs(samples []domain.Sample) []driver.Value {
	var args []driver.Value
	for _, s := range samples {
		args = append(args, s.ID, s.TaskID, s.DatasetID, s.RecordID, s.Instruction,
			s.Response, s.Provider, domain.ContentHash(s.Text()), s.CreatedAt)
	}
	return args
}

func TestSampleStore_SaveSamplesInOwnTransaction(t *testing.T) {
	t.Parallel()
	db, mock := newMockDB(t)
	s := postgres.NewPostgresSampleStore(db, nil)
	samples := testSamples(2)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO samples\s+\(id,[^)]*\)\s+VALUES \(\$1, [^)]*\$9\), \(\$10, [^)]*\$18\)`).
		WithArgs(sampleArgs(samples)...).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	require.NoError(t, s.SaveSamples(context.Background(), samples))
}

func TestSampleStore_SaveSamplesRollsBackOnDuplicate(t *testing.T) {
	t.Parallel()
	db, mock := newMockDB(t)
	s := postgres.NewPostgresSampleStore(db, nil)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO samples").WillReturnError(newPgError("23505"))
	mock.ExpectRollback()

	err := s.SaveSamples(context.Background(), testSamples(3))
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func TestSampleStore_SaveSamplesWithinCallerTransaction(t *testing.T) {
	t.Parallel()
	db, mock := newMockDB(t)
	s := postgres.NewPostgresSampleStore(db, nil)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO samples").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.RunInTransaction(context.Background(), db, func(ctx context.Context, tx *sql.Tx) error {
		return s.WithTx(tx).SaveSamples(ctx, testSamples(1))
	})
	require.NoError(t, err)
}

func TestSampleStore_SaveSamplesEmpty(t *testing.T) {
	t.Parallel()
	db, _ := newMockDB(t)
	s := postgres.NewPostgresSampleStore(db, nil)

	assert.NoError(t, s.SaveSamples(context.Background(), nil))
}

func TestSampleStore_SourceReader(t *testing.T) {
	t.Parallel()
	db, mock := newMockDB(t)
	s := postgres.NewPostgresSampleStore(db, nil)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM samples`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	id := uuid.New()
	created := time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)
	columns := []string{"id", "dataset_id", "instruction", "response", "content_hash", "created_at"}
	mock.ExpectQuery(`FROM samples\s+ORDER BY id\s+LIMIT \$1`).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(id.String(), "ds", "Q", "A", "hash", created))

	records, err := s.ReadBatch(context.Background(), "", 5)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, id.String(), records[0].ID)
	assert.Equal(t, "Q\n\nA", records[0].Content)
	assert.Equal(t, "hash", records[0].ContentHash)
	assert.Equal(t, "ds", records[0].DatasetID)

	// Later pages continue after the last ID seen, not at an offset.
	mock.ExpectQuery(`FROM samples\s+WHERE id > \$2\s+ORDER BY id\s+LIMIT \$1`).
		WithArgs(5, id.String()).
		WillReturnRows(sqlmock.NewRows(columns))

	records, err = s.ReadBatch(context.Background(), id.String(), 5)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSampleStore_ReadBatchRejectsInvalidCursor(t *testing.T) {
	t.Parallel()
	db, _ := newMockDB(t)
	s := postgres.NewPostgresSampleStore(db, nil)

	_, err := s.ReadBatch(context.Background(), "not-a-uuid", 5)
	require.ErrorIs(t, err, store.ErrInvalidEntity)

	_, err = s.ReadBatch(context.Background(), "", 0)
	assert.ErrorIs(t, err, store.ErrInvalidEntity)
}
