package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"celestra-auth/internal/models"

	"github.com/jmoiron/sqlx"
)

type SessionRepository interface {
	WithTx(tx *sqlx.Tx) SessionRepository
	Insert(ctx context.Context, session *models.Session) error
	GetByToken(ctx context.Context, token string) (*models.Session, error)
	GetActiveByUser(ctx context.Context, userID string) ([]*models.Session, error)
	GetActiveByUserForUpdate(ctx context.Context, userID string) ([]*models.Session, error)
	UpdateExpiry(ctx context.Context, sessionID string, expiresAt time.Time) error
	EndByID(ctx context.Context, sessionID, reason string, at time.Time) (bool, error)
	EndByToken(ctx context.Context, token, reason string, at time.Time) (bool, error)
	EndAllByUser(ctx context.Context, userID, reason string, at time.Time, exceptToken *string) (int64, error)
	SweepExpired(ctx context.Context) (int64, error)
}

type sessionRepository struct {
	db  *sqlx.DB
	ext sqlx.ExtContext
}

func NewSessionRepository(db *sqlx.DB) SessionRepository {
	return &sessionRepository{db: db, ext: db}
}

func (r *sessionRepository) WithTx(tx *sqlx.Tx) SessionRepository {
	if tx == nil {
		return r
	}
	return &sessionRepository{db: r.db, ext: tx}
}

func (r *sessionRepository) Insert(ctx context.Context, session *models.Session) error {
	query := `
		INSERT INTO sessions (id, user_id, token, created_at, expires_at, ip_address, user_agent)
		VALUES (:id, :user_id, :token, :created_at, :expires_at, :ip_address, :user_agent)
	`

	_, err := sqlx.NamedExecContext(ctx, r.ext, query, session)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (r *sessionRepository) GetByToken(ctx context.Context, token string) (*models.Session, error) {
	var session models.Session
	query := `SELECT * FROM sessions WHERE token = $1`

	err := sqlx.GetContext(ctx, r.ext, &session, query, token)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session by token: %w", err)
	}
	return &session, nil
}

func (r *sessionRepository) GetActiveByUser(ctx context.Context, userID string) ([]*models.Session, error) {
	var sessions []*models.Session
	query := `
		SELECT * FROM sessions
		WHERE user_id = $1 AND ended_at IS NULL AND expires_at > now()
		ORDER BY created_at ASC
	`

	err := sqlx.SelectContext(ctx, r.ext, &sessions, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get active sessions: %w", err)
	}
	return sessions, nil
}

// GetActiveByUserForUpdate is the transactional variant used while
// enforcing the concurrency cap: the returned rows stay locked until the
// surrounding transaction commits.
func (r *sessionRepository) GetActiveByUserForUpdate(ctx context.Context, userID string) ([]*models.Session, error) {
	var sessions []*models.Session
	query := `
		SELECT * FROM sessions
		WHERE user_id = $1 AND ended_at IS NULL AND expires_at > now()
		ORDER BY created_at ASC
		FOR UPDATE
	`

	err := sqlx.SelectContext(ctx, r.ext, &sessions, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get active sessions for update: %w", err)
	}
	return sessions, nil
}

func (r *sessionRepository) UpdateExpiry(ctx context.Context, sessionID string, expiresAt time.Time) error {
	query := `UPDATE sessions SET expires_at = $1 WHERE id = $2 AND ended_at IS NULL`

	_, err := r.ext.ExecContext(ctx, query, expiresAt, sessionID)
	if err != nil {
		return fmt.Errorf("failed to update session expiry: %w", err)
	}
	return nil
}

func (r *sessionRepository) EndByID(ctx context.Context, sessionID, reason string, at time.Time) (bool, error) {
	query := `UPDATE sessions SET ended_at = $1, end_reason = $2 WHERE id = $3 AND ended_at IS NULL`

	result, err := r.ext.ExecContext(ctx, query, at, reason, sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to end session: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

func (r *sessionRepository) EndByToken(ctx context.Context, token, reason string, at time.Time) (bool, error) {
	query := `UPDATE sessions SET ended_at = $1, end_reason = $2 WHERE token = $3 AND ended_at IS NULL`

	result, err := r.ext.ExecContext(ctx, query, at, reason, token)
	if err != nil {
		return false, fmt.Errorf("failed to end session by token: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

func (r *sessionRepository) EndAllByUser(ctx context.Context, userID, reason string, at time.Time, exceptToken *string) (int64, error) {
	query := `
		UPDATE sessions SET ended_at = $1, end_reason = $2
		WHERE user_id = $3 AND ended_at IS NULL AND ($4::text IS NULL OR token <> $4)
	`

	result, err := r.ext.ExecContext(ctx, query, at, reason, userID, exceptToken)
	if err != nil {
		return 0, fmt.Errorf("failed to end user sessions: %w", err)
	}
	return result.RowsAffected()
}

// SweepExpired stamps the expired-but-unended sessions. Like the lockout
// sweep it only moves rows from expired to ended, never the reverse.
func (r *sessionRepository) SweepExpired(ctx context.Context) (int64, error) {
	query := `
		UPDATE sessions SET ended_at = expires_at, end_reason = $1
		WHERE ended_at IS NULL AND expires_at <= now()
	`

	result, err := r.ext.ExecContext(ctx, query, models.EndReasonExpired)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired sessions: %w", err)
	}
	return result.RowsAffected()
}
