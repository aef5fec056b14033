package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"celestra-auth/internal/models"
	"celestra-auth/internal/repository"

	"github.com/jmoiron/sqlx"
)

// UserService covers administrative mutation of accounts. Every change
// lands in the audit trail with per-column deltas so the full edit
// history of a record can be reconstructed.
type UserService struct {
	users      repository.IUserRepository
	sessions   repository.SessionRepository
	audit      *AuditService
	transactor repository.Transactor
}

func NewUserService(users repository.IUserRepository, sessions repository.SessionRepository, audit *AuditService, transactor repository.Transactor) *UserService {
	return &UserService{
		users:      users,
		sessions:   sessions,
		audit:      audit,
		transactor: transactor,
	}
}

func (s *UserService) GetByID(ctx context.Context, userID string) (*models.User, error) {
	return s.users.GetUserByID(ctx, userID)
}

func (s *UserService) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.users.GetUserByEmail(ctx, normalizeEmail(email))
}

// UpdateProfile applies the editable profile fields and records one
// audit event carrying a change row per modified column. A call that
// changes nothing writes nothing.
func (s *UserService) UpdateProfile(ctx context.Context, userID, fullName string, companyID *string, actor *string, ip string) (*models.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user %s not found", userID)
	}

	changes := map[string][2]string{}
	if fullName != user.FullName {
		changes["full_name"] = [2]string{user.FullName, fullName}
	}
	oldCompany := deref(user.CompanyID)
	newCompany := deref(companyID)
	if oldCompany != newCompany {
		changes["company_id"] = [2]string{oldCompany, newCompany}
	}
	if len(changes) == 0 {
		return user, nil
	}

	user.FullName = fullName
	user.CompanyID = companyID

	err = s.transactor.Transact(func(tx *sqlx.Tx) error {
		if err := s.users.WithTx(tx).UpdateUser(ctx, user); err != nil {
			return err
		}
		_, err := s.audit.WithTx(tx).RecordUpdate(ctx, "users", user.ID, actor, ip, "profile update", NewGroupID(), changes)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update profile for user %s: %w", userID, err)
	}
	return user, nil
}

// ChangeRole moves the user to a new role. A no-op role change returns
// the user untouched.
func (s *UserService) ChangeRole(ctx context.Context, userID string, role models.UserRole, actor *string, ip, reason string) (*models.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user %s not found", userID)
	}
	if user.Role == role {
		return user, nil
	}
	oldRole := user.Role

	err = s.transactor.Transact(func(tx *sqlx.Tx) error {
		if err := s.users.WithTx(tx).UpdateRole(ctx, userID, role); err != nil {
			return err
		}

		audit := s.audit.WithTx(tx)
		table := "users"
		entry, err := audit.Record(ctx, AuditEntry{
			EventType:        models.EventUserRoleChanged,
			UserID:           &userID,
			IPAddress:        ip,
			Description:      fmt.Sprintf("role changed from %s to %s", oldRole, role),
			AffectedTable:    &table,
			AffectedRecordID: &userID,
			Reason:           reason,
			SignedBy:         actor,
		})
		if err != nil {
			return err
		}
		_, err = audit.RecordChange(ctx, entry.ID, "role", string(oldRole), string(role))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to change role for user %s: %w", userID, err)
	}

	user.Role = role
	return user, nil
}

// ChangeStatus transitions the account status. Moving to BLOCKED or
// ARCHIVED ends the user's active sessions in the same transaction so
// a revoked account cannot keep working on an old token.
func (s *UserService) ChangeStatus(ctx context.Context, userID string, status models.UserStatus, actor *string, ip, reason string) (*models.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user %s not found", userID)
	}
	if user.Status == status {
		return user, nil
	}
	oldStatus := user.Status

	err = s.transactor.Transact(func(tx *sqlx.Tx) error {
		if err := s.users.WithTx(tx).UpdateStatus(ctx, userID, status); err != nil {
			return err
		}

		audit := s.audit.WithTx(tx)
		table := "users"
		entry, err := audit.Record(ctx, AuditEntry{
			EventType:        models.EventUserStatusChanged,
			UserID:           &userID,
			IPAddress:        ip,
			Description:      fmt.Sprintf("status changed from %s to %s", oldStatus, status),
			AffectedTable:    &table,
			AffectedRecordID: &userID,
			Reason:           reason,
			SignedBy:         actor,
		})
		if err != nil {
			return err
		}
		if _, err := audit.RecordChange(ctx, entry.ID, "status", string(oldStatus), string(status)); err != nil {
			return err
		}

		if status == models.UserStatusBlocked || status == models.UserStatusArchived {
			ended, err := s.sessions.WithTx(tx).EndAllByUser(ctx, userID, models.EndReasonAccountBlocked, time.Now(), nil)
			if err != nil {
				return err
			}
			if ended > 0 {
				log.Printf("status change to %s for user %s ended %d active sessions", status, userID, ended)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to change status for user %s: %w", userID, err)
	}

	user.Status = status
	return user, nil
}
