package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/phrazzld/synthgen/internal/domain"
	"github.com/phrazzld/synthgen/internal/platform/logger"
	"github.com/phrazzld/synthgen/internal/store"
)

// PostgresRecordStore implements store.RecordStore over the dataset_records table.
type PostgresRecordStore struct {
	db     store.DBTX
	logger *slog.Logger
	types  *pgtype.Map
}

// NewPostgresRecordStore creates a record store. If logger is nil, a default
// logger will be used.
func NewPostgresRecordStore(db store.DBTX, logger *slog.Logger) *PostgresRecordStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRecordStore{
		db:     db,
		logger: logger.With(slog.String("component", "record_store")),
		types:  pgtype.NewMap(),
	}
}

var _ store.RecordStore = (*PostgresRecordStore)(nil)

// recordPredicate builds the WHERE clause selecting the eligible records of
// a dataset. Placeholders start at $1.
func recordPredicate(datasetID string, filter store.RecordFilter) (string, []any, error) {
	var b strings.Builder
	args := []any{datasetID}
	b.WriteString("WHERE r.dataset_id = $1")

	switch filter.Selection.Strategy {
	case domain.SelectAll, "":
	case domain.SelectTagged:
		if len(filter.Selection.Tags) == 0 {
			return "", nil, fmt.Errorf("%w: tagged selection requires at least one tag", store.ErrInvalidEntity)
		}
		args = append(args, filter.Selection.Tags)
		fmt.Fprintf(&b, " AND r.tags && $%d", len(args))
	case domain.SelectUnprocessed:
		b.WriteString(" AND NOT EXISTS (SELECT 1 FROM samples s" +
			" WHERE s.dataset_id = r.dataset_id AND s.record_id = r.id")
		if !filter.SamplesBefore.IsZero() {
			args = append(args, filter.SamplesBefore.UTC())
			fmt.Fprintf(&b, " AND s.created_at < $%d", len(args))
		}
		b.WriteString(")")
	default:
		return "", nil, fmt.Errorf("%w: %q", domain.ErrInvalidSelection, filter.Selection.Strategy)
	}
	return b.String(), args, nil
}

// Count implements store.RecordStore.Count
func (s *PostgresRecordStore) Count(ctx context.Context, datasetID string, filter store.RecordFilter) (int, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	where, args, err := recordPredicate(datasetID, filter)
	if err != nil {
		return 0, err
	}

	var count int
	query := "SELECT COUNT(*) FROM dataset_records r " + where
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		log.Error("failed to count dataset records",
			slog.String("error", err.Error()),
			slog.String("dataset_id", datasetID),
			slog.String("strategy", string(filter.Selection.Strategy)))
		return 0, MapError(err)
	}
	return count, nil
}

// ReadBatch implements store.RecordStore.ReadBatch
func (s *PostgresRecordStore) ReadBatch(
	ctx context.Context,
	datasetID string,
	filter store.RecordFilter,
	offset, limit int,
) ([]domain.Record, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if offset < 0 || limit <= 0 {
		return nil, fmt.Errorf("%w: offset %d, limit %d", store.ErrInvalidEntity, offset, limit)
	}

	where, args, err := recordPredicate(datasetID, filter)
	if err != nil {
		return nil, err
	}
	args = append(args, limit, offset)
	query := fmt.Sprintf(`
		SELECT r.id, r.dataset_id, r.content, r.tags, r.content_hash, r.updated_at
		FROM dataset_records r
		%s
		ORDER BY r.id
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to read dataset records",
			slog.String("error", err.Error()),
			slog.String("dataset_id", datasetID),
			slog.Int("offset", offset))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]domain.Record, 0, limit)
	for rows.Next() {
		var r domain.Record
		if err := rows.Scan(
			&r.ID,
			&r.DatasetID,
			&r.Content,
			s.types.SQLScanner(&r.Tags),
			&r.ContentHash,
			&r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan dataset record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}

	log.Debug("read dataset records",
		slog.String("dataset_id", datasetID),
		slog.Int("offset", offset),
		slog.Int("count", len(records)))
	return records, nil
}
