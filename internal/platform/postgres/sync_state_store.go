package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/phrazzld/synthgen/internal/domain"
	"github.com/phrazzld/synthgen/internal/platform/logger"
	"github.com/phrazzld/synthgen/internal/store"
)

// PostgresSyncStateStore implements store.SyncStateStore over the
// sync_states table, one row per vector index.
type PostgresSyncStateStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresSyncStateStore creates a sync state store. If logger is nil,
// a default logger will be used.
func NewPostgresSyncStateStore(db store.DBTX, logger *slog.Logger) *PostgresSyncStateStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresSyncStateStore{
		db:     db,
		logger: logger.With(slog.String("component", "sync_state_store")),
	}
}

var _ store.SyncStateStore = (*PostgresSyncStateStore)(nil)

// SaveSyncState implements store.SyncStateStore.SaveSyncState
func (s *PostgresSyncStateStore) SaveSyncState(ctx context.Context, index string, state domain.SyncState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode sync state: %w", err)
	}

	query := `
		INSERT INTO sync_states (index_name, state, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (index_name) DO UPDATE SET state = EXCLUDED.state, updated_at = NOW()
	`
	if _, err := s.db.ExecContext(ctx, query, index, payload); err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to save sync state",
			slog.String("error", err.Error()),
			slog.String("index", index))
		return MapError(err)
	}
	return nil
}

// LoadSyncState implements store.SyncStateStore.LoadSyncState
func (s *PostgresSyncStateStore) LoadSyncState(ctx context.Context, index string) (*domain.SyncState, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT state FROM sync_states WHERE index_name = $1", index).Scan(&payload)
	if err != nil {
		if IsNotFoundError(err) {
			return nil, store.ErrSyncStateNotFound
		}
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to load sync state",
			slog.String("error", err.Error()),
			slog.String("index", index))
		return nil, MapError(err)
	}

	var state domain.SyncState
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, fmt.Errorf("failed to decode sync state: %w", err)
	}
	return &state, nil
}
