package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/phrazzld/synthgen/internal/domain"
	"github.com/phrazzld/synthgen/internal/platform/logger"
	"github.com/phrazzld/synthgen/internal/store"
)

// PostgresTaskStore implements store.TaskStore. Each task is one row
// holding its latest JSON snapshot; the status and dataset columns are
// denormalized for filtering.
type PostgresTaskStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresTaskStore creates a task store. If logger is nil, a default
// logger will be used.
func NewPostgresTaskStore(db store.DBTX, logger *slog.Logger) *PostgresTaskStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresTaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
	}
}

var _ store.TaskStore = (*PostgresTaskStore)(nil)

// activeDatasetConstraint is the partial unique index allowing one pending
// or running task per dataset.
const activeDatasetConstraint = "idx_generation_tasks_active_dataset"

// CreateTask implements store.TaskStore.CreateTask. The dataset lock is the
// partial unique index on active tasks, so concurrent creators in different
// processes cannot both succeed.
func (s *PostgresTaskStore) CreateTask(ctx context.Context, task domain.GenerationTask) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	snapshot, err := encodeTask(task)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO generation_tasks (id, dataset_id, status, version, snapshot, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`, task.ID, task.DatasetID, string(task.Status), task.Version, snapshot, task.CreatedAt)
	if err == nil {
		return nil
	}

	if uniqueConstraint(err) == activeDatasetConstraint {
		locked := &store.DatasetLockedError{DatasetID: task.DatasetID}
		if err := s.db.QueryRowContext(ctx, `
			SELECT id FROM generation_tasks
			WHERE dataset_id = $1 AND status IN ('pending', 'running')
		`, task.DatasetID).Scan(&locked.HolderID); err != nil {
			log.Debug("could not resolve dataset lock holder",
				slog.String("dataset_id", task.DatasetID),
				slog.String("error", err.Error()))
		}
		return locked
	}

	log.Error("failed to create task",
		slog.String("error", err.Error()),
		slog.String("task_id", task.ID.String()))
	return MapError(err)
}

// SaveTask implements store.TaskStore.SaveTask. The upsert only replaces a
// row that is older and still active; when it touches nothing, the stored
// row tells a stale snapshot apart from a finalized task. Re-saving the
// stored terminal snapshot itself is not an error.
func (s *PostgresTaskStore) SaveTask(ctx context.Context, task domain.GenerationTask) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	snapshot, err := encodeTask(task)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO generation_tasks (id, dataset_id, status, version, snapshot, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			version = EXCLUDED.version,
			snapshot = EXCLUDED.snapshot,
			updated_at = NOW()
		WHERE generation_tasks.version < EXCLUDED.version
			AND generation_tasks.status IN ('pending', 'running')
	`
	result, err := s.db.ExecContext(ctx, query,
		task.ID,
		task.DatasetID,
		string(task.Status),
		task.Version,
		snapshot,
		task.CreatedAt,
	)
	if err != nil {
		log.Error("failed to save task snapshot",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()),
			slog.Int64("version", task.Version))
		return MapError(err)
	}

	n, err := result.RowsAffected()
	if err != nil || n > 0 {
		return nil
	}

	var (
		status  string
		version int64
	)
	err = s.db.QueryRowContext(ctx,
		"SELECT status, version FROM generation_tasks WHERE id = $1", task.ID).Scan(&status, &version)
	if err != nil {
		return MapError(err)
	}
	finalized := domain.TaskStatus(status).IsTerminal() &&
		(domain.TaskStatus(status) != task.Status || version != task.Version)
	if finalized {
		log.Warn("refused to overwrite finalized task",
			slog.String("task_id", task.ID.String()),
			slog.String("stored_status", status),
			slog.Int64("version", task.Version))
		return fmt.Errorf("%w: task %s is %s", store.ErrTaskFinalized, task.ID, status)
	}

	log.Debug("ignored stale task snapshot",
		slog.String("task_id", task.ID.String()),
		slog.Int64("version", task.Version))
	return nil
}

func encodeTask(task domain.GenerationTask) ([]byte, error) {
	if err := task.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}
	snapshot, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task snapshot: %w", err)
	}
	return snapshot, nil
}

// GetTask implements store.TaskStore.GetTask
func (s *PostgresTaskStore) GetTask(ctx context.Context, id uuid.UUID) (*domain.GenerationTask, error) {
	var snapshot []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT snapshot FROM generation_tasks WHERE id = $1", id).Scan(&snapshot)
	if err != nil {
		if IsNotFoundError(err) {
			return nil, store.ErrTaskNotFound
		}
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to get task",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return nil, MapError(err)
	}
	return decodeTask(snapshot)
}

// ListTasks implements store.TaskStore.ListTasks
func (s *PostgresTaskStore) ListTasks(ctx context.Context, filter domain.TaskFilter) ([]domain.GenerationTask, error) {
	var (
		conds []string
		args  []any
	)
	if filter.DatasetID != "" {
		args = append(args, filter.DatasetID)
		conds = append(conds, fmt.Sprintf("dataset_id = $%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, statuses)
		conds = append(conds, fmt.Sprintf("status = ANY($%d)", len(args)))
	}

	var b strings.Builder
	b.WriteString("SELECT snapshot FROM generation_tasks")
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC, id")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to list tasks",
			slog.String("error", err.Error()),
			slog.String("dataset_id", filter.DatasetID))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	tasks := []domain.GenerationTask{}
	for rows.Next() {
		var snapshot []byte
		if err := rows.Scan(&snapshot); err != nil {
			return nil, fmt.Errorf("failed to scan task snapshot: %w", err)
		}
		task, err := decodeTask(snapshot)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return tasks, nil
}

func decodeTask(snapshot []byte) (*domain.GenerationTask, error) {
	var task domain.GenerationTask
	if err := json.Unmarshal(snapshot, &task); err != nil {
		return nil, fmt.Errorf("failed to decode task snapshot: %w", err)
	}
	if task.Logs == nil {
		task.Logs = []domain.LogEntry{}
	}
	return &task, nil
}
