package postgres

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schemaStatements is applied in order at startup; every statement is
// idempotent. The "one active lockout per user" invariant is enforced by
// the lockout repository: it takes a row lock on the user and inserts
// conditionally inside one transaction.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		full_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		status TEXT NOT NULL,
		company_id TEXT,
		two_factor_secret TEXT,
		two_factor_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_login_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS password_history (
		id BIGSERIAL PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		password_hash TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS failed_login_records (
		id BIGSERIAL PRIMARY KEY,
		user_id TEXT,
		email TEXT NOT NULL,
		ip_address TEXT NOT NULL,
		reason TEXT NOT NULL,
		metadata JSONB,
		occurred_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_failed_login_user_time ON failed_login_records (user_id, occurred_at)`,
	`CREATE INDEX IF NOT EXISTS idx_failed_login_ip_time ON failed_login_records (ip_address, occurred_at)`,
	`CREATE TABLE IF NOT EXISTS lockouts (
		id BIGSERIAL PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		locked_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		expires_at TIMESTAMPTZ,
		failed_attempts INT NOT NULL,
		reason TEXT NOT NULL,
		is_permanent BOOLEAN NOT NULL DEFAULT FALSE,
		unlocked_at TIMESTAMPTZ,
		unlocked_by TEXT,
		ip_address TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_lockouts_user ON lockouts (user_id, locked_at)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		token TEXT NOT NULL UNIQUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		expires_at TIMESTAMPTZ NOT NULL,
		ip_address TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		ended_at TIMESTAMPTZ,
		end_reason TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_user_active ON sessions (user_id) WHERE ended_at IS NULL`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id BIGSERIAL PRIMARY KEY,
		event_type TEXT NOT NULL,
		user_id TEXT,
		ip_address TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		affected_table TEXT,
		affected_record_id TEXT,
		reason TEXT NOT NULL DEFAULT '',
		group_id TEXT NOT NULL,
		signature TEXT NOT NULL,
		signed_by TEXT,
		timestamp TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_user ON audit_logs (user_id, timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_group ON audit_logs (group_id)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_event ON audit_logs (event_type, timestamp)`,
	`CREATE TABLE IF NOT EXISTS audit_change_logs (
		id BIGSERIAL PRIMARY KEY,
		audit_log_id BIGINT NOT NULL REFERENCES audit_logs(id),
		column_name TEXT NOT NULL,
		old_value TEXT NOT NULL DEFAULT '',
		new_value TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS invitations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		token TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL,
		invited_by TEXT NOT NULL,
		sent_at TIMESTAMPTZ,
		expires_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

func InitSchema(db *sqlx.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}
