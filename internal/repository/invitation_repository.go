package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"celestra-auth/internal/models"

	"github.com/jmoiron/sqlx"
)

type InvitationRepository interface {
	WithTx(tx *sqlx.Tx) InvitationRepository
	Insert(ctx context.Context, invitation *models.Invitation) error
	GetByID(ctx context.Context, id string) (*models.Invitation, error)
	GetByToken(ctx context.Context, token string) (*models.Invitation, error)
	GetPendingByUserID(ctx context.Context, userID string) (*models.Invitation, error)
	UpdateStatus(ctx context.Context, id string, status models.InvitationStatus) error
	MarkSent(ctx context.Context, id string, at time.Time) error
	ExpireOverdue(ctx context.Context) (int64, error)
}

type invitationRepository struct {
	db  *sqlx.DB
	ext sqlx.ExtContext
}

func NewInvitationRepository(db *sqlx.DB) InvitationRepository {
	return &invitationRepository{db: db, ext: db}
}

func (r *invitationRepository) WithTx(tx *sqlx.Tx) InvitationRepository {
	if tx == nil {
		return r
	}
	return &invitationRepository{db: r.db, ext: tx}
}

func (r *invitationRepository) Insert(ctx context.Context, invitation *models.Invitation) error {
	query := `
		INSERT INTO invitations (id, user_id, token, status, invited_by, sent_at, expires_at, created_at)
		VALUES (:id, :user_id, :token, :status, :invited_by, :sent_at, :expires_at, :created_at)
	`

	if invitation.CreatedAt.IsZero() {
		invitation.CreatedAt = time.Now()
	}

	_, err := sqlx.NamedExecContext(ctx, r.ext, query, invitation)
	if err != nil {
		return fmt.Errorf("failed to insert invitation: %w", err)
	}
	return nil
}

func (r *invitationRepository) GetByID(ctx context.Context, id string) (*models.Invitation, error) {
	var invitation models.Invitation
	err := sqlx.GetContext(ctx, r.ext, &invitation, `SELECT * FROM invitations WHERE id = $1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	return &invitation, nil
}

func (r *invitationRepository) GetByToken(ctx context.Context, token string) (*models.Invitation, error) {
	var invitation models.Invitation
	err := sqlx.GetContext(ctx, r.ext, &invitation, `SELECT * FROM invitations WHERE token = $1`, token)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get invitation by token: %w", err)
	}
	return &invitation, nil
}

func (r *invitationRepository) GetPendingByUserID(ctx context.Context, userID string) (*models.Invitation, error) {
	var invitation models.Invitation
	query := `
		SELECT * FROM invitations
		WHERE user_id = $1 AND status IN ($2, $3)
		ORDER BY created_at DESC
		LIMIT 1
	`

	err := sqlx.GetContext(ctx, r.ext, &invitation, query, userID,
		models.InvitationStatusPending, models.InvitationStatusSent)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get pending invitation: %w", err)
	}
	return &invitation, nil
}

func (r *invitationRepository) UpdateStatus(ctx context.Context, id string, status models.InvitationStatus) error {
	result, err := r.ext.ExecContext(ctx, `UPDATE invitations SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update invitation status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("invitation not found")
	}
	return nil
}

func (r *invitationRepository) MarkSent(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE invitations SET status = $1, sent_at = $2 WHERE id = $3`

	result, err := r.ext.ExecContext(ctx, query, models.InvitationStatusSent, at, id)
	if err != nil {
		return fmt.Errorf("failed to mark invitation sent: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("invitation not found")
	}
	return nil
}

// ExpireOverdue moves overdue PENDING/SENT invitations to EXPIRED. It
// never touches terminal rows, so repeated runs are harmless.
func (r *invitationRepository) ExpireOverdue(ctx context.Context) (int64, error) {
	query := `
		UPDATE invitations SET status = $1
		WHERE status IN ($2, $3) AND expires_at <= now()
	`

	result, err := r.ext.ExecContext(ctx, query,
		models.InvitationStatusExpired, models.InvitationStatusPending, models.InvitationStatusSent)
	if err != nil {
		return 0, fmt.Errorf("failed to expire overdue invitations: %w", err)
	}
	return result.RowsAffected()
}
