package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/sheetsync/internal/shared"
)

// Keys stored in the sync_state table.
const (
	StateLastSnapshotHash = "last_snapshot_hash"
	StateLastPushHash     = "last_push_hash"
)

// StateRepository is a small key/value table for sync bookkeeping.
type StateRepository struct {
	db *sql.DB
}

// NewStateRepository creates a new StateRepository with the given database connection
func NewStateRepository(db *sql.DB) *StateRepository {
	return &StateRepository{db: db}
}

// Get returns the value stored under key and whether it was present.
func (r *StateRepository) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read state %s: %w", key, err)
	}
	return value, true, nil
}

// Set stores value under key.
func (r *StateRepository) Set(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO sync_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	return shared.RetryOnBusy(ctx, func() error {
		if _, err := r.db.ExecContext(ctx, query, key, value, time.Now()); err != nil {
			return fmt.Errorf("failed to write state %s: %w", key, err)
		}
		return nil
	})
}
