package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sort"
	"time"

	"celestra-auth/internal/config"
	"celestra-auth/internal/models"
	"celestra-auth/internal/repository"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// SessionService tracks live authenticated sessions and enforces the
// per-user concurrency cap. Creating a session for a user already at
// the cap ends that user's oldest session first; the check and the
// eviction run in one transaction holding the user's row lock, so two
// simultaneous logins cannot both slip under the cap.
type SessionService struct {
	sessions   repository.SessionRepository
	users      repository.IUserRepository
	audit      *AuditService
	transactor repository.Transactor
	policy     *config.SecurityPolicy
}

func NewSessionService(sessions repository.SessionRepository, users repository.IUserRepository, audit *AuditService, transactor repository.Transactor, policy *config.SecurityPolicy) *SessionService {
	return &SessionService{
		sessions:   sessions,
		users:      users,
		audit:      audit,
		transactor: transactor,
		policy:     policy,
	}
}

func newSessionToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Create opens a session for the user, evicting the oldest active one
// when the concurrency cap is already reached.
func (s *SessionService) Create(ctx context.Context, userID, ip, userAgent string) (*models.Session, error) {
	token, err := newSessionToken()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	session := &models.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Token:     token,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Duration(s.policy.SessionExpirationMinutes) * time.Minute),
		IPAddress: ip,
		UserAgent: userAgent,
	}

	err = s.transactor.Transact(func(tx *sqlx.Tx) error {
		sessions := s.sessions.WithTx(tx)
		audit := s.audit.WithTx(tx)
		groupID := NewGroupID()

		// Serializes concurrent creates for the same user. Locking only
		// the session rows is not enough: a row the other transaction is
		// inserting is a phantom this scan never sees.
		if err := s.users.WithTx(tx).LockUserRow(ctx, userID); err != nil {
			return err
		}

		active, err := sessions.GetActiveByUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}

		// Lazily expired rows do not count against the cap.
		live := active[:0]
		for _, sess := range active {
			if sess.IsActive(now) {
				live = append(live, sess)
			}
		}

		if len(live) >= s.policy.SessionMaxConcurrentSessions {
			sort.Slice(live, func(i, j int) bool {
				return live[i].CreatedAt.Before(live[j].CreatedAt)
			})
			for _, victim := range live[:len(live)-s.policy.SessionMaxConcurrentSessions+1] {
				if _, err := sessions.EndByID(ctx, victim.ID, models.EndReasonMaxSessions, now); err != nil {
					return err
				}
				victim.EndedAt = &now
				if _, err := audit.RecordSessionEvent(ctx, models.EventSessionEnded, victim, models.EndReasonMaxSessions, groupID); err != nil {
					return err
				}
			}
		}

		if err := sessions.Insert(ctx, session); err != nil {
			return err
		}
		if _, err := audit.RecordSessionEvent(ctx, models.EventSessionCreated, session, "", groupID); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session for user %s: %w", userID, err)
	}
	return session, nil
}

// Validate resolves a token to its live session, or (nil, nil) when the
// token is unknown, ended, or expired. With sliding expiry enabled each
// successful validation pushes the expiry a full window out from now.
func (s *SessionService) Validate(ctx context.Context, token string) (*models.Session, error) {
	session, err := s.sessions.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if session == nil || !session.IsActive(now) {
		return nil, nil
	}

	if s.policy.SessionExtendOnActivity {
		newExpiry := now.Add(time.Duration(s.policy.SessionExpirationMinutes) * time.Minute)
		if err := s.sessions.UpdateExpiry(ctx, session.ID, newExpiry); err != nil {
			return nil, fmt.Errorf("failed to extend session %s: %w", session.ID, err)
		}
		session.ExpiresAt = newExpiry
	}
	return session, nil
}

// End terminates the session behind the token. Returns false when the
// token does not map to an active session.
func (s *SessionService) End(ctx context.Context, token, reason string) (bool, error) {
	session, err := s.sessions.GetByToken(ctx, token)
	if err != nil {
		return false, err
	}
	now := time.Now()
	if session == nil || !session.IsActive(now) {
		return false, nil
	}

	ended, err := s.sessions.EndByToken(ctx, token, reason, now)
	if err != nil || !ended {
		return ended, err
	}
	session.EndedAt = &now

	if _, err := s.audit.RecordSessionEvent(ctx, models.EventSessionEnded, session, reason, NewGroupID()); err != nil {
		return true, err
	}
	return true, nil
}

// EndAll terminates every active session of the user, optionally
// sparing one token (the session driving a password change keeps its
// caller logged in).
func (s *SessionService) EndAll(ctx context.Context, userID, reason string, exceptToken *string) (int64, error) {
	count, err := s.sessions.EndAllByUser(ctx, userID, reason, time.Now(), exceptToken)
	if err != nil {
		return 0, fmt.Errorf("failed to end sessions for user %s: %w", userID, err)
	}
	return count, nil
}

func (s *SessionService) GetActiveSessions(ctx context.Context, userID string) ([]*models.Session, error) {
	all, err := s.sessions.GetActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	live := all[:0]
	for _, sess := range all {
		if sess.IsActive(now) {
			live = append(live, sess)
		}
	}
	return live, nil
}

// CleanupExpired marks rows whose expiry has passed as ended. Running
// it twice in a row is harmless; the second pass reports zero.
func (s *SessionService) CleanupExpired(ctx context.Context) (int64, error) {
	return s.sessions.SweepExpired(ctx)
}
