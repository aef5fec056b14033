package services

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"celestra-auth/internal/config"
	"celestra-auth/internal/event"
	"celestra-auth/internal/models"
	"celestra-auth/internal/repository"

	"github.com/jmoiron/sqlx"
)

func testPolicy() *config.SecurityPolicy {
	return &config.SecurityPolicy{
		LockoutMaxAttempts:        5,
		LockoutWindowMinutes:      30,
		LockoutDurationMinutes:    30,
		LockoutPermanentAfterTemp: 3,
		LockoutResetAfterSuccess:  true,

		SessionExpirationMinutes:          120,
		SessionExtendOnActivity:           true,
		SessionMaxConcurrentSessions:      5,
		SessionInvalidateOnPasswordChange: true,

		PasswordMinLength:        8,
		PasswordMaxLength:        128,
		PasswordRequireUppercase: true,
		PasswordRequireLowercase: true,
		PasswordRequireDigit:     true,
		PasswordRequireSpecial:   true,
		PasswordSpecialChars:     "!@#$%^&*()-_=+[]{};:,.<>?",
		PasswordHistoryCount:     3,

		PasswordResetTokenExpirationMinutes: 60,
		InvitationTokenExpirationDays:       7,

		AuditLoginEvents:    true,
		AuditSessionEvents:  true,
		AuditAccountChanges: true,

		FailedLoginRetentionDays: 30,
	}
}

// In-memory repository fakes. WithTx returns the fake itself, which is
// exactly what the real repositories do for a nil tx, so services under
// test run their transactional paths unchanged.

type fakeTransactor struct{}

func (fakeTransactor) Transact(fn func(tx *sqlx.Tx) error) error { return fn(nil) }

type fakePublisher struct {
	mu     sync.Mutex
	events []event.AccountMailEvent
}

func (p *fakePublisher) PublishAccountMail(_ context.Context, e event.AccountMailEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

type fakeUserRepo struct {
	mu       sync.Mutex
	users    map[string]*models.User
	rowLocks int
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: map[string]*models.User{}}
}

func (r *fakeUserRepo) WithTx(*sqlx.Tx) repository.IUserRepository { return r }

func (r *fakeUserRepo) CreateUser(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *user
	r.users[user.ID] = &copied
	return nil
}

func (r *fakeUserRepo) GetUserByID(_ context.Context, id string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	copied := *user
	return &copied, nil
}

func (r *fakeUserRepo) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if strings.EqualFold(user.Email, email) {
			copied := *user
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeUserRepo) LockUserRow(context.Context, string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rowLocks++
	return nil
}

func (r *fakeUserRepo) lockCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rowLocks
}

func (r *fakeUserRepo) UpdateUser(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *user
	r.users[user.ID] = &copied
	return nil
}

func (r *fakeUserRepo) UpdatePassword(_ context.Context, userID, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[userID].PasswordHash = hash
	return nil
}

func (r *fakeUserRepo) UpdateStatus(_ context.Context, userID string, status models.UserStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[userID].Status = status
	return nil
}

func (r *fakeUserRepo) UpdateRole(_ context.Context, userID string, role models.UserRole) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[userID].Role = role
	return nil
}

func (r *fakeUserRepo) UpdateLastLogin(_ context.Context, userID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[userID].LastLoginAt = &at
	return nil
}

func (r *fakeUserRepo) SetTwoFactor(_ context.Context, userID string, secret *string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[userID].TwoFactorSecret = secret
	r.users[userID].TwoFactorEnabled = enabled
	return nil
}

type fakeHistoryRepo struct {
	mu      sync.Mutex
	entries []*models.PasswordHistoryEntry
	nextID  int64
}

func (r *fakeHistoryRepo) WithTx(*sqlx.Tx) repository.PasswordHistoryRepository { return r }

func (r *fakeHistoryRepo) Insert(_ context.Context, userID, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.entries = append(r.entries, &models.PasswordHistoryEntry{
		ID:           r.nextID,
		UserID:       userID,
		PasswordHash: hash,
		CreatedAt:    time.Now(),
	})
	return nil
}

func (r *fakeHistoryRepo) GetRecentByUserID(_ context.Context, userID string, limit int) ([]*models.PasswordHistoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.PasswordHistoryEntry
	for i := len(r.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if r.entries[i].UserID == userID {
			out = append(out, r.entries[i])
		}
	}
	return out, nil
}

func (r *fakeHistoryRepo) PruneToCount(_ context.Context, userID string, keep int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var mine []*models.PasswordHistoryEntry
	for _, e := range r.entries {
		if e.UserID == userID {
			mine = append(mine, e)
		}
	}
	if len(mine) <= keep {
		return nil
	}
	drop := map[int64]bool{}
	for _, e := range mine[:len(mine)-keep] {
		drop[e.ID] = true
	}
	var kept []*models.PasswordHistoryEntry
	for _, e := range r.entries {
		if !drop[e.ID] {
			kept = append(kept, e)
		}
	}
	r.entries = kept
	return nil
}

type fakeFailedRepo struct {
	mu      sync.Mutex
	records []*models.FailedLoginRecord
	nextID  int64
}

func (r *fakeFailedRepo) WithTx(*sqlx.Tx) repository.FailedLoginRepository { return r }

func (r *fakeFailedRepo) Insert(_ context.Context, record *models.FailedLoginRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	record.ID = r.nextID
	if record.OccurredAt.IsZero() {
		record.OccurredAt = time.Now()
	}
	copied := *record
	r.records = append(r.records, &copied)
	return nil
}

func (r *fakeFailedRepo) CountByUserSince(_ context.Context, userID string, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, rec := range r.records {
		if rec.UserID != nil && *rec.UserID == userID && rec.OccurredAt.After(since) {
			count++
		}
	}
	return count, nil
}

func (r *fakeFailedRepo) CountByEmailSince(_ context.Context, email string, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, rec := range r.records {
		if rec.Email == email && rec.OccurredAt.After(since) {
			count++
		}
	}
	return count, nil
}

func (r *fakeFailedRepo) CountByIPSince(_ context.Context, ip string, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, rec := range r.records {
		if rec.IPAddress == ip && rec.OccurredAt.After(since) {
			count++
		}
	}
	return count, nil
}

func (r *fakeFailedRepo) GetRecentByUser(_ context.Context, userID string, since time.Time) ([]*models.FailedLoginRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.FailedLoginRecord
	for _, rec := range r.records {
		if rec.UserID != nil && *rec.UserID == userID && rec.OccurredAt.After(since) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *fakeFailedRepo) DeleteByUserID(_ context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kept []*models.FailedLoginRecord
	var deleted int64
	for _, rec := range r.records {
		if rec.UserID != nil && *rec.UserID == userID {
			deleted++
			continue
		}
		kept = append(kept, rec)
	}
	r.records = kept
	return deleted, nil
}

func (r *fakeFailedRepo) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kept []*models.FailedLoginRecord
	var deleted int64
	for _, rec := range r.records {
		if rec.OccurredAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, rec)
	}
	r.records = kept
	return deleted, nil
}

type fakeLockoutRepo struct {
	mu       sync.Mutex
	lockouts []*models.Lockout
	nextID   int64
}

func (r *fakeLockoutRepo) WithTx(*sqlx.Tx) repository.LockoutRepository { return r }

func (r *fakeLockoutRepo) CreateIfNoneActive(_ context.Context, lockout *models.Lockout) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, l := range r.lockouts {
		if l.UserID == lockout.UserID && l.IsActive(now) {
			return false, nil
		}
	}
	r.nextID++
	lockout.ID = r.nextID
	if lockout.LockedAt.IsZero() {
		lockout.LockedAt = now
	}
	copied := *lockout
	r.lockouts = append(r.lockouts, &copied)
	return true, nil
}

func (r *fakeLockoutRepo) GetActiveByUserID(_ context.Context, userID string) (*models.Lockout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.lockouts {
		if l.UserID == userID && l.UnlockedAt == nil {
			copied := *l
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeLockoutRepo) GetHistoryByUserID(_ context.Context, userID string, limit int) ([]*models.Lockout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Lockout
	for i := len(r.lockouts) - 1; i >= 0 && len(out) < limit; i-- {
		if r.lockouts[i].UserID == userID {
			copied := *r.lockouts[i]
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeLockoutRepo) CountTemporaryByUserID(_ context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, l := range r.lockouts {
		if l.UserID == userID && !l.IsPermanent {
			count++
		}
	}
	return count, nil
}

func (r *fakeLockoutRepo) find(id int64) *models.Lockout {
	for _, l := range r.lockouts {
		if l.ID == id {
			return l
		}
	}
	return nil
}

func (r *fakeLockoutRepo) Unlock(_ context.Context, id int64, by *string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l := r.find(id)
	l.UnlockedAt = &at
	l.UnlockedBy = by
	return nil
}

func (r *fakeLockoutRepo) UpdateExpiry(_ context.Context, id int64, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l := r.find(id)
	l.ExpiresAt = &expiresAt
	return nil
}

func (r *fakeLockoutRepo) MarkPermanent(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l := r.find(id)
	l.IsPermanent = true
	l.ExpiresAt = nil
	return nil
}

func (r *fakeLockoutRepo) GetAllActive(_ context.Context) ([]*models.Lockout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var out []*models.Lockout
	for _, l := range r.lockouts {
		if l.IsActive(now) {
			copied := *l
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeLockoutRepo) GetAllPermanent(_ context.Context) ([]*models.Lockout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Lockout
	for _, l := range r.lockouts {
		if l.IsPermanent && l.UnlockedAt == nil {
			copied := *l
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeLockoutRepo) SweepExpired(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var swept int64
	for _, l := range r.lockouts {
		if !l.IsPermanent && l.UnlockedAt == nil && l.ExpiresAt != nil && !l.ExpiresAt.After(now) {
			l.UnlockedAt = l.ExpiresAt
			swept++
		}
	}
	return swept, nil
}

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions []*models.Session
}

func (r *fakeSessionRepo) WithTx(*sqlx.Tx) repository.SessionRepository { return r }

func (r *fakeSessionRepo) Insert(_ context.Context, session *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *session
	r.sessions = append(r.sessions, &copied)
	return nil
}

func (r *fakeSessionRepo) GetByToken(_ context.Context, token string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.Token == token {
			copied := *s
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeSessionRepo) activeByUser(userID string) []*models.Session {
	var out []*models.Session
	for _, s := range r.sessions {
		if s.UserID == userID && s.EndedAt == nil {
			copied := *s
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *fakeSessionRepo) GetActiveByUser(_ context.Context, userID string) ([]*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeByUser(userID), nil
}

func (r *fakeSessionRepo) GetActiveByUserForUpdate(_ context.Context, userID string) ([]*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeByUser(userID), nil
}

func (r *fakeSessionRepo) UpdateExpiry(_ context.Context, sessionID string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.ID == sessionID {
			s.ExpiresAt = expiresAt
		}
	}
	return nil
}

func (r *fakeSessionRepo) EndByID(_ context.Context, sessionID, reason string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.ID == sessionID && s.EndedAt == nil {
			s.EndedAt = &at
			s.EndReason = &reason
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeSessionRepo) EndByToken(_ context.Context, token, reason string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.Token == token && s.EndedAt == nil {
			s.EndedAt = &at
			s.EndReason = &reason
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeSessionRepo) EndAllByUser(_ context.Context, userID, reason string, at time.Time, exceptToken *string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ended int64
	for _, s := range r.sessions {
		if s.UserID != userID || s.EndedAt != nil {
			continue
		}
		if exceptToken != nil && s.Token == *exceptToken {
			continue
		}
		s.EndedAt = &at
		s.EndReason = &reason
		ended++
	}
	return ended, nil
}

func (r *fakeSessionRepo) SweepExpired(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	reason := models.EndReasonExpired
	var swept int64
	for _, s := range r.sessions {
		if s.EndedAt == nil && !s.ExpiresAt.After(now) {
			ended := s.ExpiresAt
			s.EndedAt = &ended
			s.EndReason = &reason
			swept++
		}
	}
	return swept, nil
}

// setExpiry backdates a stored session for expiry tests.
func (r *fakeSessionRepo) setExpiry(token string, expiresAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.Token == token {
			s.ExpiresAt = expiresAt
		}
	}
}

type fakeAuditRepo struct {
	mu      sync.Mutex
	logs    []*models.AuditLog
	changes []*models.AuditChangeLog
	nextID  int64
}

func (r *fakeAuditRepo) WithTx(*sqlx.Tx) repository.AuditRepository { return r }

func (r *fakeAuditRepo) Insert(_ context.Context, entry *models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	entry.ID = r.nextID
	copied := *entry
	r.logs = append(r.logs, &copied)
	return nil
}

func (r *fakeAuditRepo) InsertChange(_ context.Context, change *models.AuditChangeLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	change.ID = r.nextID
	copied := *change
	r.changes = append(r.changes, &copied)
	return nil
}

func (r *fakeAuditRepo) GetByID(_ context.Context, id int64) (*models.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.logs {
		if l.ID == id {
			copied := *l
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeAuditRepo) GetByUser(_ context.Context, userID string, limit int) ([]*models.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AuditLog
	for i := len(r.logs) - 1; i >= 0 && len(out) < limit; i-- {
		if r.logs[i].UserID != nil && *r.logs[i].UserID == userID {
			copied := *r.logs[i]
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeAuditRepo) GetByEventType(_ context.Context, eventType models.AuditEventType, limit int) ([]*models.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AuditLog
	for i := len(r.logs) - 1; i >= 0 && len(out) < limit; i-- {
		if r.logs[i].EventType == eventType {
			copied := *r.logs[i]
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeAuditRepo) GetByDateRange(_ context.Context, from, to time.Time) ([]*models.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AuditLog
	for _, l := range r.logs {
		if !l.Timestamp.Before(from) && !l.Timestamp.After(to) {
			copied := *l
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeAuditRepo) GetByTableRecord(_ context.Context, table, recordID string) ([]*models.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AuditLog
	for _, l := range r.logs {
		if l.AffectedTable != nil && *l.AffectedTable == table && l.AffectedRecordID != nil && *l.AffectedRecordID == recordID {
			copied := *l
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeAuditRepo) GetByGroupID(_ context.Context, groupID string) ([]*models.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AuditLog
	for _, l := range r.logs {
		if l.GroupID == groupID {
			copied := *l
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeAuditRepo) GetChangesByAuditLogID(_ context.Context, auditLogID int64) ([]*models.AuditChangeLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AuditChangeLog
	for _, c := range r.changes {
		if c.AuditLogID == auditLogID {
			copied := *c
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeAuditRepo) countByType(eventType models.AuditEventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, l := range r.logs {
		if l.EventType == eventType {
			count++
		}
	}
	return count
}

type fakeInvitationRepo struct {
	mu          sync.Mutex
	invitations []*models.Invitation
}

func (r *fakeInvitationRepo) WithTx(*sqlx.Tx) repository.InvitationRepository { return r }

func (r *fakeInvitationRepo) Insert(_ context.Context, inv *models.Invitation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *inv
	r.invitations = append(r.invitations, &copied)
	return nil
}

func (r *fakeInvitationRepo) GetByID(_ context.Context, id string) (*models.Invitation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inv := range r.invitations {
		if inv.ID == id {
			copied := *inv
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeInvitationRepo) GetByToken(_ context.Context, token string) (*models.Invitation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inv := range r.invitations {
		if inv.Token == token {
			copied := *inv
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeInvitationRepo) GetPendingByUserID(_ context.Context, userID string) (*models.Invitation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inv := range r.invitations {
		if inv.UserID == userID && !inv.IsTerminal() {
			copied := *inv
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeInvitationRepo) UpdateStatus(_ context.Context, id string, status models.InvitationStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inv := range r.invitations {
		if inv.ID == id {
			inv.Status = status
		}
	}
	return nil
}

func (r *fakeInvitationRepo) MarkSent(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inv := range r.invitations {
		if inv.ID == id {
			inv.Status = models.InvitationStatusSent
			inv.SentAt = &at
		}
	}
	return nil
}

func (r *fakeInvitationRepo) ExpireOverdue(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var expired int64
	for _, inv := range r.invitations {
		if !inv.IsTerminal() && !inv.ExpiresAt.After(now) {
			inv.Status = models.InvitationStatusExpired
			expired++
		}
	}
	return expired, nil
}
