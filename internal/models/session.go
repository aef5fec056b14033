package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// EndReasonMaxSessions is the reason stamped on a session evicted to make
// room for a fresh login once the per-user concurrency cap is reached.
const (
	EndReasonMaxSessions    = "max concurrent sessions exceeded"
	EndReasonLogout         = "logout"
	EndReasonExpired        = "expired"
	EndReasonPasswordChange = "password changed"
	EndReasonAccountLocked  = "account locked"
	EndReasonAccountBlocked = "account blocked"
)

type Session struct {
	ID        string     `json:"id" db:"id"`
	UserID    string     `json:"user_id" db:"user_id"`
	Token     string     `json:"-" db:"token"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	ExpiresAt time.Time  `json:"expires_at" db:"expires_at"`
	IPAddress string     `json:"ip_address" db:"ip_address"`
	UserAgent string     `json:"user_agent" db:"user_agent"`
	EndedAt   *time.Time `json:"ended_at" db:"ended_at"`
	EndReason *string    `json:"end_reason" db:"end_reason"`
}

func (s *Session) IsActive(now time.Time) bool {
	return s.EndedAt == nil && s.ExpiresAt.After(now)
}

type Claims struct {
	jwt.RegisteredClaims
	UserID    string   `json:"uid"`
	Email     string   `json:"email"`
	Role      UserRole `json:"role"`
	SessionID string   `json:"sid"`
}
