package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"celestra-auth/internal/models"

	"github.com/jmoiron/sqlx"
)

type IUserRepository interface {
	WithTx(tx *sqlx.Tx) IUserRepository
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	LockUserRow(ctx context.Context, id string) error
	UpdateUser(ctx context.Context, user *models.User) error
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	UpdateStatus(ctx context.Context, userID string, status models.UserStatus) error
	UpdateRole(ctx context.Context, userID string, role models.UserRole) error
	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error
	SetTwoFactor(ctx context.Context, userID string, secret *string, enabled bool) error
}

type UserRepository struct {
	db  *sqlx.DB
	ext sqlx.ExtContext
}

func NewUserRepository(db *sqlx.DB) IUserRepository {
	return &UserRepository{db: db, ext: db}
}

func (r *UserRepository) WithTx(tx *sqlx.Tx) IUserRepository {
	if tx == nil {
		return r
	}
	return &UserRepository{db: r.db, ext: tx}
}

func (r *UserRepository) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, email, full_name, password_hash, role, status, company_id,
		                   two_factor_secret, two_factor_enabled, created_at, updated_at)
		VALUES (:id, :email, :full_name, :password_hash, :role, :status, :company_id,
		        :two_factor_secret, :two_factor_enabled, :created_at, :updated_at)
	`

	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt

	_, err := sqlx.NamedExecContext(ctx, r.ext, query, user)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

func (r *UserRepository) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	query := `SELECT * FROM users WHERE id = $1`

	err := sqlx.GetContext(ctx, r.ext, &user, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}

	return &user, nil
}

func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	query := `SELECT * FROM users WHERE email = $1`

	err := sqlx.GetContext(ctx, r.ext, &user, query, email)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}

	return &user, nil
}

// LockUserRow takes a row-level lock on the user inside the current
// transaction. Concurrent writers mutating the same account's lockout or
// session state serialize on this lock.
func (r *UserRepository) LockUserRow(ctx context.Context, id string) error {
	var got string
	err := sqlx.GetContext(ctx, r.ext, &got, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("user %s not found", id)
		}
		return fmt.Errorf("failed to lock user row: %w", err)
	}
	return nil
}

func (r *UserRepository) UpdateUser(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now()

	query := `
		UPDATE users
		SET email = :email, full_name = :full_name, role = :role, status = :status,
		    company_id = :company_id, updated_at = :updated_at
		WHERE id = :id
	`

	result, err := sqlx.NamedExecContext(ctx, r.ext, query, user)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	return requireRowsAffected(result)
}

func (r *UserRepository) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	query := `UPDATE users SET password_hash = $1, updated_at = $2 WHERE id = $3`

	result, err := r.ext.ExecContext(ctx, query, passwordHash, time.Now(), userID)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	return requireRowsAffected(result)
}

func (r *UserRepository) UpdateStatus(ctx context.Context, userID string, status models.UserStatus) error {
	query := `UPDATE users SET status = $1, updated_at = $2 WHERE id = $3`

	result, err := r.ext.ExecContext(ctx, query, status, time.Now(), userID)
	if err != nil {
		return fmt.Errorf("failed to update user status: %w", err)
	}

	return requireRowsAffected(result)
}

func (r *UserRepository) UpdateRole(ctx context.Context, userID string, role models.UserRole) error {
	query := `UPDATE users SET role = $1, updated_at = $2 WHERE id = $3`

	result, err := r.ext.ExecContext(ctx, query, role, time.Now(), userID)
	if err != nil {
		return fmt.Errorf("failed to update user role: %w", err)
	}

	return requireRowsAffected(result)
}

func (r *UserRepository) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	query := `UPDATE users SET last_login_at = $1 WHERE id = $2`

	result, err := r.ext.ExecContext(ctx, query, at, userID)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}

	return requireRowsAffected(result)
}

func (r *UserRepository) SetTwoFactor(ctx context.Context, userID string, secret *string, enabled bool) error {
	query := `UPDATE users SET two_factor_secret = $1, two_factor_enabled = $2, updated_at = $3 WHERE id = $4`

	result, err := r.ext.ExecContext(ctx, query, secret, enabled, time.Now(), userID)
	if err != nil {
		return fmt.Errorf("failed to update two-factor settings: %w", err)
	}

	return requireRowsAffected(result)
}

func requireRowsAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found")
	}
	return nil
}
