package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"celestra-auth/internal/config"
	"celestra-auth/internal/models"
	"celestra-auth/internal/repository"

	"github.com/jmoiron/sqlx"
)

// LockoutService owns the account lock state machine. An account is in
// exactly one of three states at any moment: unlocked, temporarily
// locked, or permanently locked. Transitions run inside a transaction
// holding the user row lock, so concurrent triggers cannot produce two
// active lockouts for one user.
type LockoutService struct {
	lockouts   repository.LockoutRepository
	failures   repository.FailedLoginRepository
	users      repository.IUserRepository
	sessions   repository.SessionRepository
	audit      *AuditService
	transactor repository.Transactor
	policy     *config.SecurityPolicy
}

func NewLockoutService(
	lockouts repository.LockoutRepository,
	failures repository.FailedLoginRepository,
	users repository.IUserRepository,
	sessions repository.SessionRepository,
	audit *AuditService,
	transactor repository.Transactor,
	policy *config.SecurityPolicy,
) *LockoutService {
	return &LockoutService{
		lockouts:   lockouts,
		failures:   failures,
		users:      users,
		sessions:   sessions,
		audit:      audit,
		transactor: transactor,
		policy:     policy,
	}
}

// GetActiveLockout returns the lockout currently in force, or nil. An
// expired temporary lockout is treated as absent even before the sweep
// job has cleared it.
func (s *LockoutService) GetActiveLockout(ctx context.Context, userID string) (*models.Lockout, error) {
	lockout, err := s.lockouts.GetActiveByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if lockout == nil || !lockout.IsActive(time.Now()) {
		return nil, nil
	}
	return lockout, nil
}

func (s *LockoutService) IsAccountLocked(ctx context.Context, userID string) (bool, error) {
	lockout, err := s.GetActiveLockout(ctx, userID)
	if err != nil {
		return false, err
	}
	return lockout != nil, nil
}

// LockAccount creates a lockout for the user, escalating straight to
// permanent when the user has already exhausted the allowed number of
// temporary lockouts. Returns the created lockout, or nil when the user
// was already locked (the existing lockout stands untouched).
func (s *LockoutService) LockAccount(ctx context.Context, userID, ip, reason string, failedAttempts int) (*models.Lockout, error) {
	var created *models.Lockout

	err := s.transactor.Transact(func(tx *sqlx.Tx) error {
		if err := s.users.WithTx(tx).LockUserRow(ctx, userID); err != nil {
			return err
		}

		lockouts := s.lockouts.WithTx(tx)

		priorTemp, err := lockouts.CountTemporaryByUserID(ctx, userID)
		if err != nil {
			return err
		}
		escalate := priorTemp >= s.policy.LockoutPermanentAfterTemp

		lockout := &models.Lockout{
			UserID:         userID,
			LockedAt:       time.Now(),
			FailedAttempts: failedAttempts,
			Reason:         reason,
			IsPermanent:    escalate,
			IPAddress:      ip,
		}
		if !escalate {
			expiresAt := lockout.LockedAt.Add(time.Duration(s.policy.LockoutDurationMinutes) * time.Minute)
			lockout.ExpiresAt = &expiresAt
		}

		inserted, err := lockouts.CreateIfNoneActive(ctx, lockout)
		if err != nil {
			return err
		}
		if !inserted {
			return nil
		}

		groupID := NewGroupID()
		audit := s.audit.WithTx(tx)
		if _, err := audit.RecordAccountLockout(ctx, lockout, groupID); err != nil {
			return err
		}
		if escalate {
			if _, err := audit.RecordLockoutEscalated(ctx, lockout, nil, fmt.Sprintf("%d prior temporary lockouts", priorTemp), groupID); err != nil {
				return err
			}
		}

		ended, err := s.sessions.WithTx(tx).EndAllByUser(ctx, userID, models.EndReasonAccountLocked, time.Now(), nil)
		if err != nil {
			return err
		}
		if ended > 0 {
			log.Printf("lockout for user %s ended %d active sessions", userID, ended)
		}

		created = lockout
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to lock account %s: %w", userID, err)
	}
	return created, nil
}

// UnlockAccount lifts the active lockout. Permanent lockouts require an
// admin actor; temporary ones may also be lifted by the expiry sweep
// with a nil actor. Unlocking clears the user's failure counter so the
// next failed attempt starts a fresh window.
func (s *LockoutService) UnlockAccount(ctx context.Context, userID string, unlockedBy *string, reason string) (*models.Lockout, error) {
	var lifted *models.Lockout

	err := s.transactor.Transact(func(tx *sqlx.Tx) error {
		if err := s.users.WithTx(tx).LockUserRow(ctx, userID); err != nil {
			return err
		}

		lockouts := s.lockouts.WithTx(tx)
		lockout, err := lockouts.GetActiveByUserID(ctx, userID)
		if err != nil {
			return err
		}
		if lockout == nil {
			return nil
		}
		if lockout.IsPermanent && unlockedBy == nil {
			return fmt.Errorf("permanent lockout for user %s requires an administrator to unlock", userID)
		}

		now := time.Now()
		if err := lockouts.Unlock(ctx, lockout.ID, unlockedBy, now); err != nil {
			return err
		}
		lockout.UnlockedAt = &now
		lockout.UnlockedBy = unlockedBy

		if _, err := s.failures.WithTx(tx).DeleteByUserID(ctx, userID); err != nil {
			return err
		}

		if _, err := s.audit.WithTx(tx).RecordAccountUnlock(ctx, lockout, unlockedBy, reason, NewGroupID()); err != nil {
			return err
		}

		lifted = lockout
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to unlock account %s: %w", userID, err)
	}
	return lifted, nil
}

// ExtendLockout pushes the expiry of the active temporary lockout
// further out. Returns false when the user has no active temporary
// lockout to extend; permanent lockouts cannot be extended.
func (s *LockoutService) ExtendLockout(ctx context.Context, userID string, minutes int, actor *string) (bool, error) {
	if minutes <= 0 {
		return false, fmt.Errorf("extension must be a positive number of minutes, got %d", minutes)
	}

	extended := false
	err := s.transactor.Transact(func(tx *sqlx.Tx) error {
		if err := s.users.WithTx(tx).LockUserRow(ctx, userID); err != nil {
			return err
		}

		lockouts := s.lockouts.WithTx(tx)
		lockout, err := lockouts.GetActiveByUserID(ctx, userID)
		if err != nil {
			return err
		}
		// A row without an expiry is permanent in effect even when the
		// flag says otherwise; there is no finite deadline to push out.
		if lockout == nil || lockout.IsPermanent || lockout.ExpiresAt == nil || !lockout.IsActive(time.Now()) {
			return nil
		}

		newExpiry := lockout.ExpiresAt.Add(time.Duration(minutes) * time.Minute)
		if err := lockouts.UpdateExpiry(ctx, lockout.ID, newExpiry); err != nil {
			return err
		}
		lockout.ExpiresAt = &newExpiry

		if _, err := s.audit.WithTx(tx).RecordLockoutExtended(ctx, lockout, minutes, actor, NewGroupID()); err != nil {
			return err
		}

		extended = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to extend lockout for user %s: %w", userID, err)
	}
	return extended, nil
}

// MakeLockoutPermanent escalates the user's active temporary lockout.
// Returns false when there is no active lockout or it is already
// permanent.
func (s *LockoutService) MakeLockoutPermanent(ctx context.Context, userID string, actor *string, reason string) (bool, error) {
	escalated := false
	err := s.transactor.Transact(func(tx *sqlx.Tx) error {
		if err := s.users.WithTx(tx).LockUserRow(ctx, userID); err != nil {
			return err
		}

		lockouts := s.lockouts.WithTx(tx)
		lockout, err := lockouts.GetActiveByUserID(ctx, userID)
		if err != nil {
			return err
		}
		if lockout == nil || lockout.IsPermanent || !lockout.IsActive(time.Now()) {
			return nil
		}

		if err := lockouts.MarkPermanent(ctx, lockout.ID); err != nil {
			return err
		}
		lockout.IsPermanent = true
		lockout.ExpiresAt = nil

		if _, err := s.audit.WithTx(tx).RecordLockoutEscalated(ctx, lockout, actor, reason, NewGroupID()); err != nil {
			return err
		}

		escalated = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to escalate lockout for user %s: %w", userID, err)
	}
	return escalated, nil
}

func (s *LockoutService) GetLockoutHistory(ctx context.Context, userID string, limit int) ([]*models.Lockout, error) {
	return s.lockouts.GetHistoryByUserID(ctx, userID, limit)
}

func (s *LockoutService) GetAllActiveLockouts(ctx context.Context) ([]*models.Lockout, error) {
	return s.lockouts.GetAllActive(ctx)
}

func (s *LockoutService) GetAllPermanentLockouts(ctx context.Context) ([]*models.Lockout, error) {
	return s.lockouts.GetAllPermanent(ctx)
}

// SweepExpired marks temporary lockouts whose expiry has passed as
// lifted. Safe to run repeatedly; a second pass finds nothing to do.
func (s *LockoutService) SweepExpired(ctx context.Context) (int64, error) {
	return s.lockouts.SweepExpired(ctx)
}
