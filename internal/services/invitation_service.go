package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"time"

	"celestra-auth/internal/config"
	"celestra-auth/internal/event"
	"celestra-auth/internal/models"
	"celestra-auth/internal/repository"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvitationNotFound = errors.New("invitation not found or no longer usable")
)

// InvitationService handles both self-service registration and the
// admin-driven invite flow. Invited accounts exist from the moment the
// invitation is created, held in SUSPENDED until the invitee accepts
// and sets a password.
type InvitationService struct {
	invitations repository.InvitationRepository
	users       repository.IUserRepository
	passwords   *PasswordService
	audit       *AuditService
	transactor  repository.Transactor
	publisher   event.MailPublisher
	policy      *config.SecurityPolicy
}

func NewInvitationService(
	invitations repository.InvitationRepository,
	users repository.IUserRepository,
	passwords *PasswordService,
	audit *AuditService,
	transactor repository.Transactor,
	publisher event.MailPublisher,
	policy *config.SecurityPolicy,
) *InvitationService {
	return &InvitationService{
		invitations: invitations,
		users:       users,
		passwords:   passwords,
		audit:       audit,
		transactor:  transactor,
		publisher:   publisher,
		policy:      policy,
	}
}

func newInvitationToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate invitation token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// RegisterUser creates a self-service account. The password must clear
// the complexity policy; violations come back in the result rather
// than as an error.
func (s *InvitationService) RegisterUser(ctx context.Context, req models.RegisterRequest, ip string) (*models.User, *models.PasswordChangeResult, error) {
	email := normalizeEmail(req.Email)

	existing, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, nil, err
	}
	if existing != nil {
		return nil, nil, ErrEmailTaken
	}

	result := &models.PasswordChangeResult{
		Rules:         s.passwords.ValidateComplexity(req.Password),
		StrengthScore: s.passwords.StrengthScore(req.Password),
	}
	for _, ok := range result.Rules {
		if !ok {
			return nil, result, nil
		}
	}
	result.OK = true

	hash, err := s.passwords.Hash(req.Password)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	user := &models.User{
		ID:           uuid.NewString(),
		Email:        email,
		FullName:     req.FullName,
		PasswordHash: hash,
		Role:         models.RoleRegularUser,
		Status:       models.UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.transactor.Transact(func(tx *sqlx.Tx) error {
		if err := s.users.WithTx(tx).CreateUser(ctx, user); err != nil {
			return err
		}
		table := "users"
		_, err := s.audit.WithTx(tx).Record(ctx, AuditEntry{
			EventType:        models.EventUserRegistered,
			UserID:           &user.ID,
			IPAddress:        ip,
			Description:      "user self-registered",
			AffectedTable:    &table,
			AffectedRecordID: &user.ID,
		})
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to register user %s: %w", email, err)
	}

	if err := s.publisher.PublishAccountMail(ctx, event.AccountMailEvent{
		Kind:     event.MailKindWelcome,
		Email:    user.Email,
		FullName: user.FullName,
	}); err != nil {
		log.Printf("failed to publish welcome mail for %s: %v", user.Email, err)
	}

	return user, result, nil
}

// InviteUser creates a SUSPENDED account plus a pending invitation and
// hands the invite token to the mail pipeline. The invitation moves
// PENDING to SENT only after the publish succeeds; a failed publish
// leaves it PENDING for a later resend.
func (s *InvitationService) InviteUser(ctx context.Context, req models.InviteUserRequest, invitedBy, ip string) (*models.Invitation, error) {
	email := normalizeEmail(req.Email)

	existing, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailTaken
	}

	token, err := newInvitationToken()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	user := &models.User{
		ID:        uuid.NewString(),
		Email:     email,
		FullName:  req.FullName,
		Role:      models.UserRole(req.Role),
		Status:    models.UserStatusSuspended,
		CompanyID: req.CompanyID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	invitation := &models.Invitation{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Token:     token,
		Status:    models.InvitationStatusPending,
		InvitedBy: invitedBy,
		ExpiresAt: now.Add(time.Duration(s.policy.InvitationTokenExpirationDays) * 24 * time.Hour),
		CreatedAt: now,
	}

	err = s.transactor.Transact(func(tx *sqlx.Tx) error {
		if err := s.users.WithTx(tx).CreateUser(ctx, user); err != nil {
			return err
		}
		if err := s.invitations.WithTx(tx).Insert(ctx, invitation); err != nil {
			return err
		}
		table := "invitations"
		_, err := s.audit.WithTx(tx).Record(ctx, AuditEntry{
			EventType:        models.EventInvitationSent,
			UserID:           &user.ID,
			IPAddress:        ip,
			Description:      fmt.Sprintf("invitation created for %s", email),
			AffectedTable:    &table,
			AffectedRecordID: &invitation.ID,
			SignedBy:         &invitedBy,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to invite %s: %w", email, err)
	}

	if err := s.publisher.PublishAccountMail(ctx, event.AccountMailEvent{
		Kind:      event.MailKindInvitation,
		Email:     email,
		FullName:  req.FullName,
		Token:     token,
		ExpiresIn: fmt.Sprintf("%dd", s.policy.InvitationTokenExpirationDays),
	}); err != nil {
		log.Printf("failed to publish invitation mail for %s: %v", email, err)
		return invitation, nil
	}

	sentAt := time.Now()
	if err := s.invitations.MarkSent(ctx, invitation.ID, sentAt); err != nil {
		return invitation, err
	}
	invitation.Status = models.InvitationStatusSent
	invitation.SentAt = &sentAt

	return invitation, nil
}

// AcceptInvitation consumes the invite token, sets the invitee's first
// password and activates the account. Expired or already-terminal
// invitations are rejected.
func (s *InvitationService) AcceptInvitation(ctx context.Context, req models.AcceptInvitationRequest, ip string) (*models.User, *models.PasswordChangeResult, error) {
	invitation, err := s.invitations.GetByToken(ctx, req.Token)
	if err != nil {
		return nil, nil, err
	}
	if invitation == nil || !invitation.IsUsable(time.Now()) {
		return nil, nil, ErrInvitationNotFound
	}

	user, err := s.users.GetUserByID(ctx, invitation.UserID)
	if err != nil {
		return nil, nil, err
	}
	if user == nil {
		return nil, nil, ErrInvitationNotFound
	}

	result := &models.PasswordChangeResult{
		Rules:         s.passwords.ValidateComplexity(req.Password),
		StrengthScore: s.passwords.StrengthScore(req.Password),
	}
	for _, ok := range result.Rules {
		if !ok {
			return nil, result, nil
		}
	}
	result.OK = true

	hash, err := s.passwords.Hash(req.Password)
	if err != nil {
		return nil, nil, err
	}

	err = s.transactor.Transact(func(tx *sqlx.Tx) error {
		users := s.users.WithTx(tx)
		if err := users.UpdatePassword(ctx, user.ID, hash); err != nil {
			return err
		}
		if err := users.UpdateStatus(ctx, user.ID, models.UserStatusActive); err != nil {
			return err
		}
		if err := s.invitations.WithTx(tx).UpdateStatus(ctx, invitation.ID, models.InvitationStatusAccepted); err != nil {
			return err
		}
		table := "invitations"
		_, err := s.audit.WithTx(tx).Record(ctx, AuditEntry{
			EventType:        models.EventInvitationAccepted,
			UserID:           &user.ID,
			IPAddress:        ip,
			Description:      "invitation accepted, account activated",
			AffectedTable:    &table,
			AffectedRecordID: &invitation.ID,
		})
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to accept invitation %s: %w", invitation.ID, err)
	}

	user.PasswordHash = hash
	user.Status = models.UserStatusActive
	return user, result, nil
}

// CancelInvitation moves a pending or sent invitation to CANCELLED and
// archives the never-activated account. Returns false when the
// invitation is already terminal.
func (s *InvitationService) CancelInvitation(ctx context.Context, invitationID string, cancelledBy, ip, reason string) (bool, error) {
	invitation, err := s.invitations.GetByID(ctx, invitationID)
	if err != nil {
		return false, err
	}
	if invitation == nil || invitation.IsTerminal() {
		return false, nil
	}

	err = s.transactor.Transact(func(tx *sqlx.Tx) error {
		if err := s.invitations.WithTx(tx).UpdateStatus(ctx, invitationID, models.InvitationStatusCancelled); err != nil {
			return err
		}
		if err := s.users.WithTx(tx).UpdateStatus(ctx, invitation.UserID, models.UserStatusArchived); err != nil {
			return err
		}
		table := "invitations"
		_, err := s.audit.WithTx(tx).Record(ctx, AuditEntry{
			EventType:        models.EventInvitationCancelled,
			UserID:           &invitation.UserID,
			IPAddress:        ip,
			Description:      "invitation cancelled",
			AffectedTable:    &table,
			AffectedRecordID: &invitation.ID,
			Reason:           reason,
			SignedBy:         &cancelledBy,
		})
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to cancel invitation %s: %w", invitationID, err)
	}
	return true, nil
}

func (s *InvitationService) GetPendingInvitation(ctx context.Context, userID string) (*models.Invitation, error) {
	return s.invitations.GetPendingByUserID(ctx, userID)
}

// CleanupExpiredInvitations marks overdue invitations EXPIRED. Safe to
// run repeatedly.
func (s *InvitationService) CleanupExpiredInvitations(ctx context.Context) (int64, error) {
	return s.invitations.ExpireOverdue(ctx)
}
