package models

import "time"

type AuditEventType string

const (
	EventLoginSuccess           AuditEventType = "auth.login_success"
	EventLoginFailure           AuditEventType = "auth.login_failure"
	EventLogout                 AuditEventType = "auth.logout"
	EventSessionCreated         AuditEventType = "session.created"
	EventSessionEnded           AuditEventType = "session.ended"
	EventAccountLocked          AuditEventType = "account.locked"
	EventAccountUnlocked        AuditEventType = "account.unlocked"
	EventLockoutExtended        AuditEventType = "account.lockout_extended"
	EventLockoutEscalated       AuditEventType = "account.lockout_escalated"
	EventPasswordChanged        AuditEventType = "account.password_changed"
	EventPasswordResetRequested AuditEventType = "account.password_reset_requested"
	EventPasswordReset          AuditEventType = "account.password_reset"
	EventRecordUpdated          AuditEventType = "record.updated"
	EventUserRegistered         AuditEventType = "user.registered"
	EventUserStatusChanged      AuditEventType = "user.status_changed"
	EventUserRoleChanged        AuditEventType = "user.role_changed"
	EventInvitationSent         AuditEventType = "invitation.sent"
	EventInvitationAccepted     AuditEventType = "invitation.accepted"
	EventInvitationCancelled    AuditEventType = "invitation.cancelled"
	EventTwoFactorEnrolled      AuditEventType = "mfa.totp_enrolled"
	EventTwoFactorFailed        AuditEventType = "mfa.totp_failed"
)

// AuditLog is append-only and immutable once signed. SignedBy is nil for
// system-signed rows; GroupID ties together every row emitted by one
// logical operation.
type AuditLog struct {
	ID               int64          `json:"id" db:"id"`
	EventType        AuditEventType `json:"event_type" db:"event_type"`
	UserID           *string        `json:"user_id" db:"user_id"`
	IPAddress        string         `json:"ip_address" db:"ip_address"`
	Description      string         `json:"description" db:"description"`
	AffectedTable    *string        `json:"affected_table" db:"affected_table"`
	AffectedRecordID *string        `json:"affected_record_id" db:"affected_record_id"`
	Reason           string         `json:"reason" db:"reason"`
	GroupID          string         `json:"group_id" db:"group_id"`
	Signature        string         `json:"signature" db:"signature"`
	SignedBy         *string        `json:"signed_by" db:"signed_by"`
	Timestamp        time.Time      `json:"timestamp" db:"timestamp"`
}

// AuditChangeLog rows carry one column delta of a record.updated event.
// They are supplementary detail and are not individually signed; the
// parent's signature covers the immutable header.
type AuditChangeLog struct {
	ID         int64  `json:"id" db:"id"`
	AuditLogID int64  `json:"audit_log_id" db:"audit_log_id"`
	ColumnName string `json:"column_name" db:"column_name"`
	OldValue   string `json:"old_value" db:"old_value"`
	NewValue   string `json:"new_value" db:"new_value"`
}
