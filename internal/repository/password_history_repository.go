package repository

import (
	"context"
	"fmt"
	"time"

	"celestra-auth/internal/models"

	"github.com/jmoiron/sqlx"
)

type PasswordHistoryRepository interface {
	WithTx(tx *sqlx.Tx) PasswordHistoryRepository
	Insert(ctx context.Context, userID, passwordHash string) error
	GetRecentByUserID(ctx context.Context, userID string, limit int) ([]*models.PasswordHistoryEntry, error)
	PruneToCount(ctx context.Context, userID string, keep int) error
}

type passwordHistoryRepository struct {
	db  *sqlx.DB
	ext sqlx.ExtContext
}

func NewPasswordHistoryRepository(db *sqlx.DB) PasswordHistoryRepository {
	return &passwordHistoryRepository{db: db, ext: db}
}

func (r *passwordHistoryRepository) WithTx(tx *sqlx.Tx) PasswordHistoryRepository {
	if tx == nil {
		return r
	}
	return &passwordHistoryRepository{db: r.db, ext: tx}
}

func (r *passwordHistoryRepository) Insert(ctx context.Context, userID, passwordHash string) error {
	query := `INSERT INTO password_history (user_id, password_hash, created_at) VALUES ($1, $2, $3)`

	_, err := r.ext.ExecContext(ctx, query, userID, passwordHash, time.Now())
	if err != nil {
		return fmt.Errorf("failed to insert password history entry: %w", err)
	}
	return nil
}

func (r *passwordHistoryRepository) GetRecentByUserID(ctx context.Context, userID string, limit int) ([]*models.PasswordHistoryEntry, error) {
	var entries []*models.PasswordHistoryEntry
	query := `SELECT * FROM password_history WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`

	err := sqlx.SelectContext(ctx, r.ext, &entries, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get password history: %w", err)
	}
	return entries, nil
}

// PruneToCount drops everything but the newest entries so the retained
// history stays bounded to the configured count.
func (r *passwordHistoryRepository) PruneToCount(ctx context.Context, userID string, keep int) error {
	query := `
		DELETE FROM password_history
		WHERE user_id = $1 AND id NOT IN (
			SELECT id FROM password_history WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2
		)
	`

	_, err := r.ext.ExecContext(ctx, query, userID, keep)
	if err != nil {
		return fmt.Errorf("failed to prune password history: %w", err)
	}
	return nil
}
