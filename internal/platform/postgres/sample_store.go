package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/phrazzld/synthgen/internal/domain"
	"github.com/phrazzld/synthgen/internal/platform/logger"
	"github.com/phrazzld/synthgen/internal/store"
)

// sampleColumns is the column count of one inserted sample row.
const sampleColumns = 9

// PostgresSampleStore implements store.SampleStore over the samples table.
type PostgresSampleStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresSampleStore creates a sample store. If logger is nil, a
// default logger will be used.
func NewPostgresSampleStore(db store.DBTX, logger *slog.Logger) *PostgresSampleStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresSampleStore{
		db:     db,
		logger: logger.With(slog.String("component", "sample_store")),
	}
}

var _ store.SampleStore = (*PostgresSampleStore)(nil)

// WithTx implements store.SampleStore.WithTx
func (s *PostgresSampleStore) WithTx(tx *sql.Tx) store.SampleStore {
	return &PostgresSampleStore{db: tx, logger: s.logger}
}

// SaveSamples implements store.SampleStore.SaveSamples. When the store is
// bound to a pool the insert runs in its own transaction; when it is bound
// to a transaction the caller owns commit and rollback.
func (s *PostgresSampleStore) SaveSamples(ctx context.Context, samples []domain.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	if db, ok := s.db.(*sql.DB); ok {
		return store.RunInTransaction(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
			return s.WithTx(tx).SaveSamples(ctx, samples)
		})
	}

	log := logger.FromContextOrDefault(ctx, s.logger)

	var b strings.Builder
	b.WriteString(`INSERT INTO samples
		(id, task_id, dataset_id, record_id, instruction, response, provider, content_hash, created_at)
		VALUES `)
	args := make([]any, 0, len(samples)*sampleColumns)
	for i, sample := range samples {
		if i > 0 {
			b.WriteString(", ")
		}
		base := i * sampleColumns
		b.WriteString("(")
		for c := 1; c <= sampleColumns; c++ {
			if c > 1 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", base+c)
		}
		b.WriteString(")")
		args = append(args,
			sample.ID,
			sample.TaskID,
			sample.DatasetID,
			sample.RecordID,
			sample.Instruction,
			sample.Response,
			sample.Provider,
			domain.ContentHash(sample.Text()),
			sample.CreatedAt,
		)
	}

	if _, err := s.db.ExecContext(ctx, b.String(), args...); err != nil {
		if IsUniqueViolation(err) {
			log.Warn("duplicate sample id in batch",
				slog.String("error", err.Error()),
				slog.Int("batch_size", len(samples)))
		} else {
			log.Error("failed to save samples",
				slog.String("error", err.Error()),
				slog.Int("batch_size", len(samples)))
		}
		return MapError(err)
	}

	log.Debug("samples saved", slog.Int("count", len(samples)))
	return nil
}

// Count implements store.SourceReader.Count
func (s *PostgresSampleStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM samples").Scan(&count); err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to count samples",
			slog.String("error", err.Error()))
		return 0, MapError(err)
	}
	return count, nil
}

// ReadBatch implements store.SourceReader.ReadBatch, exposing samples as
// records keyed by sample ID.
func (s *PostgresSampleStore) ReadBatch(ctx context.Context, afterID string, limit int) ([]domain.Record, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit %d", store.ErrInvalidEntity, limit)
	}

	query := `
		SELECT id, dataset_id, instruction, response, content_hash, created_at
		FROM samples
		ORDER BY id
		LIMIT $1
	`
	args := []any{limit}
	if afterID != "" {
		if _, err := uuid.Parse(afterID); err != nil {
			return nil, fmt.Errorf("%w: sample id %q", store.ErrInvalidEntity, afterID)
		}
		query = `
			SELECT id, dataset_id, instruction, response, content_hash, created_at
			FROM samples
			WHERE id > $2
			ORDER BY id
			LIMIT $1
		`
		args = append(args, afterID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to read samples",
			slog.String("error", err.Error()),
			slog.String("after_id", afterID))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]domain.Record, 0, limit)
	for rows.Next() {
		var sample domain.Sample
		var hash string
		if err := rows.Scan(
			&sample.ID,
			&sample.DatasetID,
			&sample.Instruction,
			&sample.Response,
			&hash,
			&sample.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		records = append(records, domain.Record{
			ID:          sample.ID.String(),
			DatasetID:   sample.DatasetID,
			Content:     sample.Text(),
			ContentHash: hash,
			UpdatedAt:   sample.CreatedAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return records, nil
}
