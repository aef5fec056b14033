package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"celestra-auth/internal/models"

	"github.com/jmoiron/sqlx"
)

type LockoutRepository interface {
	WithTx(tx *sqlx.Tx) LockoutRepository
	CreateIfNoneActive(ctx context.Context, lockout *models.Lockout) (bool, error)
	GetActiveByUserID(ctx context.Context, userID string) (*models.Lockout, error)
	GetHistoryByUserID(ctx context.Context, userID string, limit int) ([]*models.Lockout, error)
	CountTemporaryByUserID(ctx context.Context, userID string) (int, error)
	Unlock(ctx context.Context, lockoutID int64, unlockedBy *string, at time.Time) error
	UpdateExpiry(ctx context.Context, lockoutID int64, expiresAt time.Time) error
	MarkPermanent(ctx context.Context, lockoutID int64) error
	GetAllActive(ctx context.Context) ([]*models.Lockout, error)
	GetAllPermanent(ctx context.Context) ([]*models.Lockout, error)
	SweepExpired(ctx context.Context) (int64, error)
}

type lockoutRepository struct {
	db  *sqlx.DB
	ext sqlx.ExtContext
}

func NewLockoutRepository(db *sqlx.DB) LockoutRepository {
	return &lockoutRepository{db: db, ext: db}
}

func (r *lockoutRepository) WithTx(tx *sqlx.Tx) LockoutRepository {
	if tx == nil {
		return r
	}
	return &lockoutRepository{db: r.db, ext: tx}
}

// CreateIfNoneActive inserts the lockout only when the user has no active
// one. The insert and the existence check are a single statement, so two
// concurrent lockers cannot both succeed; callers additionally hold the
// user row lock when running inside a transaction. Returns false when an
// active lockout already exists.
func (r *lockoutRepository) CreateIfNoneActive(ctx context.Context, lockout *models.Lockout) (bool, error) {
	query := `
		INSERT INTO lockouts (user_id, locked_at, expires_at, failed_attempts, reason, is_permanent, ip_address)
		SELECT $1, $2, $3, $4, $5, $6, $7
		WHERE NOT EXISTS (
			SELECT 1 FROM lockouts
			WHERE user_id = $1 AND unlocked_at IS NULL AND (is_permanent OR expires_at > now())
		)
		RETURNING id
	`

	if lockout.LockedAt.IsZero() {
		lockout.LockedAt = time.Now()
	}

	err := sqlx.GetContext(ctx, r.ext, &lockout.ID, query,
		lockout.UserID, lockout.LockedAt, lockout.ExpiresAt, lockout.FailedAttempts,
		lockout.Reason, lockout.IsPermanent, lockout.IPAddress)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("failed to create lockout: %w", err)
	}
	return true, nil
}

func (r *lockoutRepository) GetActiveByUserID(ctx context.Context, userID string) (*models.Lockout, error) {
	var lockout models.Lockout
	query := `
		SELECT * FROM lockouts
		WHERE user_id = $1 AND unlocked_at IS NULL AND (is_permanent OR expires_at > now())
		ORDER BY locked_at DESC
		LIMIT 1
	`

	err := sqlx.GetContext(ctx, r.ext, &lockout, query, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active lockout: %w", err)
	}
	return &lockout, nil
}

func (r *lockoutRepository) GetHistoryByUserID(ctx context.Context, userID string, limit int) ([]*models.Lockout, error) {
	var lockouts []*models.Lockout
	query := `SELECT * FROM lockouts WHERE user_id = $1 ORDER BY locked_at DESC LIMIT $2`

	err := sqlx.SelectContext(ctx, r.ext, &lockouts, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get lockout history: %w", err)
	}
	return lockouts, nil
}

// CountTemporaryByUserID counts prior temporary lockouts; it feeds the
// permanent-escalation decision.
func (r *lockoutRepository) CountTemporaryByUserID(ctx context.Context, userID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM lockouts WHERE user_id = $1 AND is_permanent = FALSE`

	err := sqlx.GetContext(ctx, r.ext, &count, query, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to count temporary lockouts: %w", err)
	}
	return count, nil
}

func (r *lockoutRepository) Unlock(ctx context.Context, lockoutID int64, unlockedBy *string, at time.Time) error {
	query := `UPDATE lockouts SET unlocked_at = $1, unlocked_by = $2 WHERE id = $3 AND unlocked_at IS NULL`

	result, err := r.ext.ExecContext(ctx, query, at, unlockedBy, lockoutID)
	if err != nil {
		return fmt.Errorf("failed to unlock lockout: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("lockout not found or already unlocked")
	}
	return nil
}

func (r *lockoutRepository) UpdateExpiry(ctx context.Context, lockoutID int64, expiresAt time.Time) error {
	query := `UPDATE lockouts SET expires_at = $1 WHERE id = $2 AND unlocked_at IS NULL AND is_permanent = FALSE`

	result, err := r.ext.ExecContext(ctx, query, expiresAt, lockoutID)
	if err != nil {
		return fmt.Errorf("failed to update lockout expiry: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("no active temporary lockout to extend")
	}
	return nil
}

func (r *lockoutRepository) MarkPermanent(ctx context.Context, lockoutID int64) error {
	query := `UPDATE lockouts SET is_permanent = TRUE, expires_at = NULL WHERE id = $1 AND unlocked_at IS NULL`

	result, err := r.ext.ExecContext(ctx, query, lockoutID)
	if err != nil {
		return fmt.Errorf("failed to mark lockout permanent: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("no active lockout to escalate")
	}
	return nil
}

func (r *lockoutRepository) GetAllActive(ctx context.Context) ([]*models.Lockout, error) {
	var lockouts []*models.Lockout
	query := `
		SELECT * FROM lockouts
		WHERE unlocked_at IS NULL AND (is_permanent OR expires_at > now())
		ORDER BY locked_at DESC
	`

	err := sqlx.SelectContext(ctx, r.ext, &lockouts, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get active lockouts: %w", err)
	}
	return lockouts, nil
}

func (r *lockoutRepository) GetAllPermanent(ctx context.Context) ([]*models.Lockout, error) {
	var lockouts []*models.Lockout
	query := `SELECT * FROM lockouts WHERE is_permanent AND unlocked_at IS NULL ORDER BY locked_at DESC`

	err := sqlx.SelectContext(ctx, r.ext, &lockouts, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get permanent lockouts: %w", err)
	}
	return lockouts, nil
}

// SweepExpired marks temporary lockouts past their expiry as ended. It
// only ever moves expired rows to inactive, so it is safe to run beside
// live traffic and calling it twice changes nothing the second time.
func (r *lockoutRepository) SweepExpired(ctx context.Context) (int64, error) {
	query := `
		UPDATE lockouts SET unlocked_at = expires_at
		WHERE unlocked_at IS NULL AND is_permanent = FALSE AND expires_at <= now()
	`

	result, err := r.ext.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired lockouts: %w", err)
	}
	return result.RowsAffected()
}
