package models

import (
	"time"
)

type User struct {
	ID               string     `json:"id" db:"id"`
	Email            string     `json:"email" db:"email"`
	FullName         string     `json:"full_name" db:"full_name"`
	PasswordHash     string     `json:"-" db:"password_hash"`
	Role             UserRole   `json:"role" db:"role"`
	Status           UserStatus `json:"status" db:"status"`
	CompanyID        *string    `json:"company_id" db:"company_id"`
	TwoFactorSecret  *string    `json:"-" db:"two_factor_secret"`
	TwoFactorEnabled bool       `json:"two_factor_enabled" db:"two_factor_enabled"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
	LastLoginAt      *time.Time `json:"last_login_at" db:"last_login_at"`
}

type UserRole string

const (
	RoleSuperAdmin   UserRole = "SUPER_ADMIN"
	RoleCompanyAdmin UserRole = "COMPANY_ADMIN"
	RoleSpaceAdmin   UserRole = "SPACE_ADMIN"
	RoleRegularUser  UserRole = "REGULAR_USER"
)

type UserStatus string

const (
	UserStatusActive    UserStatus = "ACTIVE"
	UserStatusSuspended UserStatus = "SUSPENDED"
	UserStatusBlocked   UserStatus = "BLOCKED"
	UserStatusArchived  UserStatus = "ARCHIVED"
)

// CanAuthenticate reports whether the account status admits a login at all.
// Lockout state is checked separately, against the lockouts table.
func (u *User) CanAuthenticate() bool {
	return u.Status == UserStatusActive
}

type PasswordHistoryEntry struct {
	ID           int64     `json:"id" db:"id"`
	UserID       string    `json:"user_id" db:"user_id"`
	PasswordHash string    `json:"-" db:"password_hash"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
