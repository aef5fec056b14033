package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Metadata is a small key/value bag stored as JSONB alongside a failed
// login record (request id, user agent, auth method and the like).
type Metadata map[string]string

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *Metadata) Scan(src any) error {
	if src == nil {
		*m = nil
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("metadata: unsupported scan type %T", src)
	}
	return json.Unmarshal(b, m)
}

// FailedLoginRecord is append-only. UserID is nullable because a failed
// attempt may target an email that does not belong to any account; it is
// still recorded for rate limiting and forensics.
type FailedLoginRecord struct {
	ID         int64     `json:"id" db:"id"`
	UserID     *string   `json:"user_id" db:"user_id"`
	Email      string    `json:"email" db:"email"`
	IPAddress  string    `json:"ip_address" db:"ip_address"`
	Reason     string    `json:"reason" db:"reason"`
	Metadata   Metadata  `json:"metadata" db:"metadata"`
	OccurredAt time.Time `json:"occurred_at" db:"occurred_at"`
}

type Lockout struct {
	ID             int64      `json:"id" db:"id"`
	UserID         string     `json:"user_id" db:"user_id"`
	LockedAt       time.Time  `json:"locked_at" db:"locked_at"`
	ExpiresAt      *time.Time `json:"expires_at" db:"expires_at"`
	FailedAttempts int        `json:"failed_attempts" db:"failed_attempts"`
	Reason         string     `json:"reason" db:"reason"`
	IsPermanent    bool       `json:"is_permanent" db:"is_permanent"`
	UnlockedAt     *time.Time `json:"unlocked_at" db:"unlocked_at"`
	UnlockedBy     *string    `json:"unlocked_by" db:"unlocked_by"`
	IPAddress      string     `json:"ip_address" db:"ip_address"`
}

// IsActive applies the lazy-expiry rule: a temporary lockout past its
// expiry is inactive without requiring a write.
func (l *Lockout) IsActive(now time.Time) bool {
	if l.UnlockedAt != nil {
		return false
	}
	if l.IsPermanent || l.ExpiresAt == nil {
		return true
	}
	return l.ExpiresAt.After(now)
}
