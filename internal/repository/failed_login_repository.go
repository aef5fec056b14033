package repository

import (
	"context"
	"fmt"
	"time"

	"celestra-auth/internal/models"

	"github.com/jmoiron/sqlx"
)

type FailedLoginRepository interface {
	WithTx(tx *sqlx.Tx) FailedLoginRepository
	Insert(ctx context.Context, record *models.FailedLoginRecord) error
	CountByUserSince(ctx context.Context, userID string, since time.Time) (int, error)
	CountByEmailSince(ctx context.Context, email string, since time.Time) (int, error)
	CountByIPSince(ctx context.Context, ip string, since time.Time) (int, error)
	GetRecentByUser(ctx context.Context, userID string, since time.Time) ([]*models.FailedLoginRecord, error)
	DeleteByUserID(ctx context.Context, userID string) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type failedLoginRepository struct {
	db  *sqlx.DB
	ext sqlx.ExtContext
}

func NewFailedLoginRepository(db *sqlx.DB) FailedLoginRepository {
	return &failedLoginRepository{db: db, ext: db}
}

func (r *failedLoginRepository) WithTx(tx *sqlx.Tx) FailedLoginRepository {
	if tx == nil {
		return r
	}
	return &failedLoginRepository{db: r.db, ext: tx}
}

func (r *failedLoginRepository) Insert(ctx context.Context, record *models.FailedLoginRecord) error {
	query := `
		INSERT INTO failed_login_records (user_id, email, ip_address, reason, metadata, occurred_at)
		VALUES (:user_id, :email, :ip_address, :reason, :metadata, :occurred_at)
	`

	if record.OccurredAt.IsZero() {
		record.OccurredAt = time.Now()
	}

	_, err := sqlx.NamedExecContext(ctx, r.ext, query, record)
	if err != nil {
		return fmt.Errorf("failed to insert failed login record: %w", err)
	}
	return nil
}

func (r *failedLoginRepository) CountByUserSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM failed_login_records WHERE user_id = $1 AND occurred_at >= $2`

	err := sqlx.GetContext(ctx, r.ext, &count, query, userID, since)
	if err != nil {
		return 0, fmt.Errorf("failed to count failed logins by user: %w", err)
	}
	return count, nil
}

func (r *failedLoginRepository) CountByEmailSince(ctx context.Context, email string, since time.Time) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM failed_login_records WHERE email = $1 AND occurred_at >= $2`

	err := sqlx.GetContext(ctx, r.ext, &count, query, email, since)
	if err != nil {
		return 0, fmt.Errorf("failed to count failed logins by email: %w", err)
	}
	return count, nil
}

func (r *failedLoginRepository) CountByIPSince(ctx context.Context, ip string, since time.Time) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM failed_login_records WHERE ip_address = $1 AND occurred_at >= $2`

	err := sqlx.GetContext(ctx, r.ext, &count, query, ip, since)
	if err != nil {
		return 0, fmt.Errorf("failed to count failed logins by ip: %w", err)
	}
	return count, nil
}

func (r *failedLoginRepository) GetRecentByUser(ctx context.Context, userID string, since time.Time) ([]*models.FailedLoginRecord, error) {
	var records []*models.FailedLoginRecord
	query := `
		SELECT * FROM failed_login_records
		WHERE user_id = $1 AND occurred_at >= $2
		ORDER BY occurred_at DESC
	`

	err := sqlx.SelectContext(ctx, r.ext, &records, query, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent failed logins: %w", err)
	}
	return records, nil
}

func (r *failedLoginRepository) DeleteByUserID(ctx context.Context, userID string) (int64, error) {
	result, err := r.ext.ExecContext(ctx, `DELETE FROM failed_login_records WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete failed login records for user: %w", err)
	}
	return result.RowsAffected()
}

func (r *failedLoginRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.ext.ExecContext(ctx, `DELETE FROM failed_login_records WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old failed login records: %w", err)
	}
	return result.RowsAffected()
}
