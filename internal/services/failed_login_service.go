package services

import (
	"context"
	"fmt"
	"time"

	"celestra-auth/internal/config"
	"celestra-auth/internal/models"
	"celestra-auth/internal/repository"

	"github.com/jmoiron/sqlx"
)

// FailedLoginService measures; it never locks. The lockout manager
// consumes IsThresholdExceeded and applies policy on top.
type FailedLoginService struct {
	records repository.FailedLoginRepository
	policy  *config.SecurityPolicy
}

func NewFailedLoginService(records repository.FailedLoginRepository, policy *config.SecurityPolicy) *FailedLoginService {
	return &FailedLoginService{records: records, policy: policy}
}

// WithTx rebinds the service onto a transaction so a failure record and
// the lockout it triggers commit or roll back together.
func (s *FailedLoginService) WithTx(tx *sqlx.Tx) *FailedLoginService {
	if tx == nil {
		return s
	}
	return &FailedLoginService{records: s.records.WithTx(tx), policy: s.policy}
}

// Record appends one failure. userID is nil when the attempted email
// does not belong to any account; the record still feeds the per-email
// and per-IP counters.
func (s *FailedLoginService) Record(ctx context.Context, userID *string, email, ip, reason string, metadata map[string]string) error {
	record := &models.FailedLoginRecord{
		UserID:     userID,
		Email:      email,
		IPAddress:  ip,
		Reason:     reason,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}

	if err := s.records.Insert(ctx, record); err != nil {
		return fmt.Errorf("failed to record login failure: %w", err)
	}
	return nil
}

// CountRecent recomputes from storage every call; counts are always
// window-relative to now, never cached.
func (s *FailedLoginService) CountRecent(ctx context.Context, userID string, windowMinutes int) (int, error) {
	since := time.Now().Add(-time.Duration(windowMinutes) * time.Minute)
	return s.records.CountByUserSince(ctx, userID, since)
}

func (s *FailedLoginService) CountRecentByEmail(ctx context.Context, email string, windowMinutes int) (int, error) {
	since := time.Now().Add(-time.Duration(windowMinutes) * time.Minute)
	return s.records.CountByEmailSince(ctx, email, since)
}

func (s *FailedLoginService) CountRecentByIP(ctx context.Context, ip string, windowMinutes int) (int, error) {
	since := time.Now().Add(-time.Duration(windowMinutes) * time.Minute)
	return s.records.CountByIPSince(ctx, ip, since)
}

func (s *FailedLoginService) IsThresholdExceeded(ctx context.Context, userID string) (bool, error) {
	count, err := s.CountRecent(ctx, userID, s.policy.LockoutWindowMinutes)
	if err != nil {
		return false, err
	}
	return count >= s.policy.LockoutMaxAttempts, nil
}

// ResetCounter clears the user's failure records so stale pre-lock
// failures cannot immediately re-trigger a lockout after a successful
// authentication. Applied only when lockoutResetCounterAfterSuccess is
// enabled.
func (s *FailedLoginService) ResetCounter(ctx context.Context, userID string) error {
	if _, err := s.records.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("failed to reset failed login counter: %w", err)
	}
	return nil
}

func (s *FailedLoginService) GetRecent(ctx context.Context, userID string, windowMinutes int) ([]*models.FailedLoginRecord, error) {
	since := time.Now().Add(-time.Duration(windowMinutes) * time.Minute)
	return s.records.GetRecentByUser(ctx, userID, since)
}

// CleanupOldRecords is the explicit retention job. It deletes nothing on
// a second immediate run.
func (s *FailedLoginService) CleanupOldRecords(ctx context.Context, olderThanDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -olderThanDays)
	deleted, err := s.records.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up old failed login records: %w", err)
	}
	return deleted, nil
}
