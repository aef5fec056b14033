package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"celestra-auth/internal/config"
	"celestra-auth/internal/event"
	"celestra-auth/internal/models"
	"celestra-auth/internal/repository"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountLocked      = errors.New("account is locked")
	ErrAccountInactive    = errors.New("account is not active")
	ErrOTPRequired        = errors.New("one-time code required")
	ErrOTPInvalid         = errors.New("one-time code invalid")
	ErrResetTokenInvalid  = errors.New("password reset token invalid or expired")
)

const (
	userCacheKeyFmt   = "auth:user:%s"
	userCacheTTL      = 10 * time.Minute
	resetTokenKeyFmt  = "auth:pwdreset:%s"
	failureReasonBad  = "invalid password"
	failureReasonLock = "account locked"
	failureReasonOTP  = "invalid one-time code"
)

// AuthService is the front door for authentication. It composes the
// credential, failure-tracking, lockout, session and audit services so
// handlers talk to one surface.
type AuthService struct {
	users      repository.IUserRepository
	history    repository.PasswordHistoryRepository
	passwords  *PasswordService
	failures   *FailedLoginService
	lockouts   *LockoutService
	sessions   *SessionService
	audit      *AuditService
	jwt        *JWTService
	totp       *TOTPService
	transactor repository.Transactor
	redis      *redis.Client
	publisher  event.MailPublisher
	policy     *config.SecurityPolicy
	resetTTL   time.Duration
	dummyHash  string
}

func NewAuthService(
	users repository.IUserRepository,
	history repository.PasswordHistoryRepository,
	passwords *PasswordService,
	failures *FailedLoginService,
	lockouts *LockoutService,
	sessions *SessionService,
	audit *AuditService,
	jwtService *JWTService,
	totpService *TOTPService,
	transactor repository.Transactor,
	redisClient *redis.Client,
	publisher event.MailPublisher,
	policy *config.SecurityPolicy,
) *AuthService {
	// Unknown-email logins verify against this hash so they cost a full
	// argon2 derivation, the same as a real mismatch.
	dummyHash, err := passwords.Hash(uuid.NewString())
	if err != nil {
		log.Fatalf("failed to derive baseline password hash: %v", err)
	}
	return &AuthService{
		users:      users,
		history:    history,
		passwords:  passwords,
		failures:   failures,
		lockouts:   lockouts,
		sessions:   sessions,
		audit:      audit,
		jwt:        jwtService,
		totp:       totpService,
		transactor: transactor,
		redis:      redisClient,
		publisher:  publisher,
		policy:     policy,
		resetTTL:   time.Duration(policy.PasswordResetTokenExpirationMinutes) * time.Minute,
		dummyHash:  dummyHash,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Authenticate checks a credential pair and returns the matching user,
// or (nil, nil) when either the email is unknown or the password does
// not match. Both cases are indistinguishable to the caller so the
// response cannot be used to probe for registered emails. The password
// is always verified even for unknown emails to keep timing flat.
func (s *AuthService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.users.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, err
	}
	if user == nil {
		s.passwords.Verify(password, s.dummyHash)
		return nil, nil
	}
	if !s.passwords.Verify(password, user.PasswordHash) {
		return nil, nil
	}
	return user, nil
}

// Login runs the full authentication flow: lockout gate, credential
// check, optional second factor, failure accounting with automatic
// lockout, then session and token issuance.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest, ip, userAgent string) (*models.LoginResult, error) {
	email := normalizeEmail(req.Email)
	groupID := NewGroupID()

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	if user != nil {
		locked, err := s.lockouts.IsAccountLocked(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		if locked {
			if err := s.recordFailure(ctx, user, email, ip, failureReasonLock, groupID); err != nil {
				return nil, err
			}
			return nil, ErrAccountLocked
		}
	}

	if user == nil {
		s.passwords.Verify(req.Password, s.dummyHash)
		if err := s.recordFailure(ctx, nil, email, ip, failureReasonBad, groupID); err != nil {
			return nil, err
		}
		return nil, ErrInvalidCredentials
	}

	if !s.passwords.Verify(req.Password, user.PasswordHash) {
		if err := s.handleFailedAttempt(ctx, user, email, ip, failureReasonBad, groupID); err != nil {
			return nil, err
		}
		return nil, ErrInvalidCredentials
	}

	if !user.CanAuthenticate() {
		if err := s.recordFailure(ctx, user, email, ip, "account status "+string(user.Status), groupID); err != nil {
			return nil, err
		}
		return nil, ErrAccountInactive
	}

	if user.TwoFactorEnabled {
		if req.OTPCode == "" {
			return nil, ErrOTPRequired
		}
		if user.TwoFactorSecret == nil || !s.totp.Verify(req.OTPCode, *user.TwoFactorSecret) {
			if _, err := s.audit.Record(ctx, AuditEntry{
				EventType:   models.EventTwoFactorFailed,
				UserID:      &user.ID,
				IPAddress:   ip,
				Description: "second factor verification failed",
				GroupID:     groupID,
			}); err != nil {
				return nil, err
			}
			if err := s.handleFailedAttempt(ctx, user, email, ip, failureReasonOTP, groupID); err != nil {
				return nil, err
			}
			return nil, ErrOTPInvalid
		}
	}

	if s.policy.LockoutResetAfterSuccess {
		if err := s.failures.ResetCounter(ctx, user.ID); err != nil {
			return nil, err
		}
	}

	session, err := s.sessions.Create(ctx, user.ID, ip, userAgent)
	if err != nil {
		return nil, err
	}

	accessToken, err := s.jwt.GenerateToken(user, session.ID, session.ExpiresAt)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return nil, err
	}
	user.LastLoginAt = &now

	if _, err := s.audit.RecordLoginSuccess(ctx, user.ID, ip, groupID); err != nil {
		return nil, err
	}

	s.cacheUser(ctx, user)

	return &models.LoginResult{
		User:        user,
		Session:     session,
		AccessToken: accessToken,
	}, nil
}

func (s *AuthService) recordFailure(ctx context.Context, user *models.User, email, ip, reason, groupID string) error {
	var userID *string
	if user != nil {
		userID = &user.ID
	}
	if err := s.failures.Record(ctx, userID, email, ip, reason, nil); err != nil {
		return err
	}
	if _, err := s.audit.RecordLoginFailure(ctx, userID, email, ip, reason, groupID); err != nil {
		return err
	}
	return nil
}

// handleFailedAttempt records the failure and locks the account when
// the sliding-window count reaches the threshold.
func (s *AuthService) handleFailedAttempt(ctx context.Context, user *models.User, email, ip, reason, groupID string) error {
	if err := s.recordFailure(ctx, user, email, ip, reason, groupID); err != nil {
		return err
	}

	exceeded, err := s.failures.IsThresholdExceeded(ctx, user.ID)
	if err != nil {
		return err
	}
	if !exceeded {
		return nil
	}

	count, err := s.failures.CountRecent(ctx, user.ID, s.policy.LockoutWindowMinutes)
	if err != nil {
		return err
	}
	lockReason := fmt.Sprintf("%d failed login attempts within %d minutes", count, s.policy.LockoutWindowMinutes)
	if _, err := s.lockouts.LockAccount(ctx, user.ID, ip, lockReason, count); err != nil {
		return err
	}
	return nil
}

// Logout ends the session behind the token. Unknown or already-ended
// tokens report false without error.
func (s *AuthService) Logout(ctx context.Context, token string) (bool, error) {
	return s.sessions.End(ctx, token, models.EndReasonLogout)
}

// ValidateSession resolves a session token, applying sliding expiry.
func (s *AuthService) ValidateSession(ctx context.Context, token string) (*models.Session, error) {
	return s.sessions.Validate(ctx, token)
}

// ChangePassword rotates the user's password after verifying the
// current one. Policy violations come back inside the result, not as
// errors. keepToken names the session driving the change so it
// survives the invalidation of the user's other sessions.
func (s *AuthService) ChangePassword(ctx context.Context, userID string, req models.ChangePasswordRequest, keepToken *string, ip string) (*models.PasswordChangeResult, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user %s not found", userID)
	}
	if !s.passwords.Verify(req.CurrentPassword, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	return s.applyPasswordChange(ctx, user, req.NewPassword, models.EventPasswordChanged, &user.ID, ip, keepToken)
}

// RequestPasswordReset mints a one-time reset token and hands it to the
// mail pipeline. Unknown emails complete silently so the endpoint does
// not reveal which addresses are registered.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email, ip string) error {
	email = normalizeEmail(email)
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user == nil {
		return nil
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return fmt.Errorf("failed to generate reset token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	key := fmt.Sprintf(resetTokenKeyFmt, token)
	if err := s.redis.Set(ctx, key, user.ID, s.resetTTL).Err(); err != nil {
		return fmt.Errorf("failed to store reset token: %w", err)
	}

	if _, err := s.audit.Record(ctx, AuditEntry{
		EventType:   models.EventPasswordResetRequested,
		UserID:      &user.ID,
		IPAddress:   ip,
		Description: "password reset requested",
	}); err != nil {
		return err
	}

	if err := s.publisher.PublishAccountMail(ctx, event.AccountMailEvent{
		Kind:      event.MailKindPasswordReset,
		Email:     user.Email,
		FullName:  user.FullName,
		Token:     token,
		ExpiresIn: s.resetTTL.String(),
	}); err != nil {
		log.Printf("failed to publish password reset mail for %s: %v", user.Email, err)
	}
	return nil
}

// ResetPassword consumes a reset token and sets the new password. The
// token is deleted before the change applies, so it is single-use even
// when the new password fails policy (the user must request again).
func (s *AuthService) ResetPassword(ctx context.Context, req models.ResetPasswordRequest, ip string) (*models.PasswordChangeResult, error) {
	key := fmt.Sprintf(resetTokenKeyFmt, req.Token)
	userID, err := s.redis.GetDel(ctx, key).Result()
	if err == redis.Nil {
		return nil, ErrResetTokenInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read reset token: %w", err)
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrResetTokenInvalid
	}

	return s.applyPasswordChange(ctx, user, req.NewPassword, models.EventPasswordReset, nil, ip, nil)
}

// applyPasswordChange is the single write path for password rotation:
// complexity gate, history reuse gate, then hash, history append, prune
// and session invalidation in one transaction.
func (s *AuthService) applyPasswordChange(ctx context.Context, user *models.User, newPassword string, eventType models.AuditEventType, actor *string, ip string, keepToken *string) (*models.PasswordChangeResult, error) {
	result := &models.PasswordChangeResult{
		Rules:         s.passwords.ValidateComplexity(newPassword),
		StrengthScore: s.passwords.StrengthScore(newPassword),
	}
	for _, ok := range result.Rules {
		if !ok {
			return result, nil
		}
	}

	if s.passwords.Verify(newPassword, user.PasswordHash) {
		result.ReusedHistory = true
		return result, nil
	}
	recent, err := s.history.GetRecentByUserID(ctx, user.ID, s.policy.PasswordHistoryCount)
	if err != nil {
		return nil, err
	}
	for _, entry := range recent {
		if s.passwords.Verify(newPassword, entry.PasswordHash) {
			result.ReusedHistory = true
			return result, nil
		}
	}

	newHash, err := s.passwords.Hash(newPassword)
	if err != nil {
		return nil, err
	}

	err = s.transactor.Transact(func(tx *sqlx.Tx) error {
		users := s.users.WithTx(tx)
		history := s.history.WithTx(tx)

		if err := users.UpdatePassword(ctx, user.ID, newHash); err != nil {
			return err
		}
		if err := history.Insert(ctx, user.ID, user.PasswordHash); err != nil {
			return err
		}
		if err := history.PruneToCount(ctx, user.ID, s.policy.PasswordHistoryCount); err != nil {
			return err
		}

		if s.policy.SessionInvalidateOnPasswordChange {
			ended, err := s.sessions.sessions.WithTx(tx).EndAllByUser(ctx, user.ID, models.EndReasonPasswordChange, time.Now(), keepToken)
			if err != nil {
				return err
			}
			if ended > 0 {
				log.Printf("password change for user %s ended %d other sessions", user.ID, ended)
			}
		}

		if _, err := s.audit.WithTx(tx).Record(ctx, AuditEntry{
			EventType:   eventType,
			UserID:      &user.ID,
			IPAddress:   ip,
			Description: "password changed",
			SignedBy:    actor,
		}); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to change password for user %s: %w", user.ID, err)
	}

	user.PasswordHash = newHash
	s.dropCachedUser(ctx, user.ID)

	result.OK = true
	return result, nil
}

// EnrollTwoFactor generates and stores a pending second-factor secret.
// The factor stays disabled until ConfirmTwoFactor proves the user's
// authenticator produces matching codes.
func (s *AuthService) EnrollTwoFactor(ctx context.Context, userID string) (*models.TwoFactorEnrollResult, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user %s not found", userID)
	}

	secret, url, err := s.totp.GenerateSecret(user.Email)
	if err != nil {
		return nil, err
	}
	if err := s.users.SetTwoFactor(ctx, userID, &secret, false); err != nil {
		return nil, err
	}
	s.dropCachedUser(ctx, userID)

	return &models.TwoFactorEnrollResult{Secret: secret, URL: url}, nil
}

func (s *AuthService) ConfirmTwoFactor(ctx context.Context, userID, code, ip string) (bool, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return false, err
	}
	if user == nil || user.TwoFactorSecret == nil {
		return false, nil
	}
	if !s.totp.Verify(code, *user.TwoFactorSecret) {
		return false, nil
	}

	if err := s.users.SetTwoFactor(ctx, userID, user.TwoFactorSecret, true); err != nil {
		return false, err
	}
	s.dropCachedUser(ctx, userID)

	if _, err := s.audit.Record(ctx, AuditEntry{
		EventType:   models.EventTwoFactorEnrolled,
		UserID:      &userID,
		IPAddress:   ip,
		Description: "second factor enrolled",
	}); err != nil {
		return true, err
	}
	return true, nil
}

func (s *AuthService) DisableTwoFactor(ctx context.Context, userID string) error {
	if err := s.users.SetTwoFactor(ctx, userID, nil, false); err != nil {
		return err
	}
	s.dropCachedUser(ctx, userID)
	return nil
}

// GetUser serves reads through the cache; misses fall back to the
// store and repopulate it. Cache errors degrade to store reads.
func (s *AuthService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	if s.redis == nil {
		return s.users.GetUserByID(ctx, userID)
	}

	key := fmt.Sprintf(userCacheKeyFmt, userID)
	if cached, err := s.redis.Get(ctx, key).Result(); err == nil {
		var user models.User
		if err := json.Unmarshal([]byte(cached), &user); err == nil {
			return &user, nil
		}
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil || user == nil {
		return user, err
	}
	s.cacheUser(ctx, user)
	return user, nil
}

func (s *AuthService) cacheUser(ctx context.Context, user *models.User) {
	if s.redis == nil {
		return
	}
	payload, err := json.Marshal(user)
	if err != nil {
		return
	}
	key := fmt.Sprintf(userCacheKeyFmt, user.ID)
	if err := s.redis.Set(ctx, key, payload, userCacheTTL).Err(); err != nil {
		log.Printf("failed to cache user %s: %v", user.ID, err)
	}
}

func (s *AuthService) dropCachedUser(ctx context.Context, userID string) {
	if s.redis == nil {
		return
	}
	key := fmt.Sprintf(userCacheKeyFmt, userID)
	if err := s.redis.Del(ctx, key).Err(); err != nil {
		log.Printf("failed to drop cached user %s: %v", userID, err)
	}
}
