package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"celestra-auth/internal/models"

	"github.com/jmoiron/sqlx"
)

type AuditRepository interface {
	WithTx(tx *sqlx.Tx) AuditRepository
	Insert(ctx context.Context, entry *models.AuditLog) error
	InsertChange(ctx context.Context, change *models.AuditChangeLog) error
	GetByID(ctx context.Context, id int64) (*models.AuditLog, error)
	GetByUser(ctx context.Context, userID string, limit int) ([]*models.AuditLog, error)
	GetByEventType(ctx context.Context, eventType models.AuditEventType, limit int) ([]*models.AuditLog, error)
	GetByDateRange(ctx context.Context, from, to time.Time) ([]*models.AuditLog, error)
	GetByTableRecord(ctx context.Context, table, recordID string) ([]*models.AuditLog, error)
	GetByGroupID(ctx context.Context, groupID string) ([]*models.AuditLog, error)
	GetChangesByAuditLogID(ctx context.Context, auditLogID int64) ([]*models.AuditChangeLog, error)
}

type auditRepository struct {
	db  *sqlx.DB
	ext sqlx.ExtContext
}

func NewAuditRepository(db *sqlx.DB) AuditRepository {
	return &auditRepository{db: db, ext: db}
}

func (r *auditRepository) WithTx(tx *sqlx.Tx) AuditRepository {
	if tx == nil {
		return r
	}
	return &auditRepository{db: r.db, ext: tx}
}

func (r *auditRepository) Insert(ctx context.Context, entry *models.AuditLog) error {
	query := `
		INSERT INTO audit_logs (event_type, user_id, ip_address, description, affected_table,
		                        affected_record_id, reason, group_id, signature, signed_by, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`

	err := sqlx.GetContext(ctx, r.ext, &entry.ID, query,
		entry.EventType, entry.UserID, entry.IPAddress, entry.Description, entry.AffectedTable,
		entry.AffectedRecordID, entry.Reason, entry.GroupID, entry.Signature, entry.SignedBy, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

func (r *auditRepository) InsertChange(ctx context.Context, change *models.AuditChangeLog) error {
	query := `
		INSERT INTO audit_change_logs (audit_log_id, column_name, old_value, new_value)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	err := sqlx.GetContext(ctx, r.ext, &change.ID, query,
		change.AuditLogID, change.ColumnName, change.OldValue, change.NewValue)
	if err != nil {
		return fmt.Errorf("failed to insert audit change log: %w", err)
	}
	return nil
}

func (r *auditRepository) GetByID(ctx context.Context, id int64) (*models.AuditLog, error) {
	var entry models.AuditLog
	err := sqlx.GetContext(ctx, r.ext, &entry, `SELECT * FROM audit_logs WHERE id = $1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get audit log: %w", err)
	}
	return &entry, nil
}

func (r *auditRepository) GetByUser(ctx context.Context, userID string, limit int) ([]*models.AuditLog, error) {
	var entries []*models.AuditLog
	query := `SELECT * FROM audit_logs WHERE user_id = $1 ORDER BY timestamp DESC LIMIT $2`

	err := sqlx.SelectContext(ctx, r.ext, &entries, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit logs by user: %w", err)
	}
	return entries, nil
}

func (r *auditRepository) GetByEventType(ctx context.Context, eventType models.AuditEventType, limit int) ([]*models.AuditLog, error) {
	var entries []*models.AuditLog
	query := `SELECT * FROM audit_logs WHERE event_type = $1 ORDER BY timestamp DESC LIMIT $2`

	err := sqlx.SelectContext(ctx, r.ext, &entries, query, eventType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit logs by event type: %w", err)
	}
	return entries, nil
}

func (r *auditRepository) GetByDateRange(ctx context.Context, from, to time.Time) ([]*models.AuditLog, error) {
	var entries []*models.AuditLog
	query := `SELECT * FROM audit_logs WHERE timestamp >= $1 AND timestamp < $2 ORDER BY timestamp ASC`

	err := sqlx.SelectContext(ctx, r.ext, &entries, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit logs by date range: %w", err)
	}
	return entries, nil
}

func (r *auditRepository) GetByTableRecord(ctx context.Context, table, recordID string) ([]*models.AuditLog, error) {
	var entries []*models.AuditLog
	query := `
		SELECT * FROM audit_logs
		WHERE affected_table = $1 AND affected_record_id = $2
		ORDER BY timestamp DESC
	`

	err := sqlx.SelectContext(ctx, r.ext, &entries, query, table, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit logs by table/record: %w", err)
	}
	return entries, nil
}

func (r *auditRepository) GetByGroupID(ctx context.Context, groupID string) ([]*models.AuditLog, error) {
	var entries []*models.AuditLog
	query := `SELECT * FROM audit_logs WHERE group_id = $1 ORDER BY timestamp ASC`

	err := sqlx.SelectContext(ctx, r.ext, &entries, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit logs by group id: %w", err)
	}
	return entries, nil
}

func (r *auditRepository) GetChangesByAuditLogID(ctx context.Context, auditLogID int64) ([]*models.AuditChangeLog, error) {
	var changes []*models.AuditChangeLog
	query := `SELECT * FROM audit_change_logs WHERE audit_log_id = $1 ORDER BY id ASC`

	err := sqlx.SelectContext(ctx, r.ext, &changes, query, auditLogID)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit change logs: %w", err)
	}
	return changes, nil
}
