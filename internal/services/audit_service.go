package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"celestra-auth/internal/config"
	"celestra-auth/internal/models"
	"celestra-auth/internal/repository"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// AuditService writes the tamper-evident security trail. Every row is
// signed before it is persisted; an unsigned AuditLog is never visible
// outside this service. Audit writes are a correctness property of the
// triggering operation: an insert failure propagates and aborts the
// caller's transaction rather than letting the operation proceed
// unaudited.
type AuditService struct {
	logs   repository.AuditRepository
	secret []byte
	policy *config.SecurityPolicy
}

func NewAuditService(logs repository.AuditRepository, signingSecret string, policy *config.SecurityPolicy) *AuditService {
	return &AuditService{
		logs:   logs,
		secret: []byte(signingSecret),
		policy: policy,
	}
}

func (s *AuditService) WithTx(tx *sqlx.Tx) *AuditService {
	if tx == nil {
		return s
	}
	return &AuditService{logs: s.logs.WithTx(tx), secret: s.secret, policy: s.policy}
}

// NewGroupID mints the correlation id shared by every audit row emitted
// from one logical operation.
func NewGroupID() string {
	return uuid.NewString()
}

// AuditEntry is the caller-facing shape of one event before signing.
type AuditEntry struct {
	EventType        models.AuditEventType
	UserID           *string
	IPAddress        string
	Description      string
	AffectedTable    *string
	AffectedRecordID *string
	Reason           string
	GroupID          string
	SignedBy         *string
}

// canonical produces the order-stable field concatenation the signature
// covers. Timestamps are pinned to UTC unix-micros: TIMESTAMPTZ keeps
// microsecond precision, so signing anything finer would break
// verification on every read back from the store.
func canonical(entry *models.AuditLog) string {
	return strings.Join([]string{
		"v1",
		string(entry.EventType),
		deref(entry.UserID),
		entry.IPAddress,
		entry.Description,
		deref(entry.AffectedTable),
		deref(entry.AffectedRecordID),
		entry.Reason,
		entry.GroupID,
		strconv.FormatInt(entry.Timestamp.UTC().UnixMicro(), 10),
	}, "|")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Sign computes the keyed signature over the canonical field list. When
// a human (not the system) performs the action, the signer id salts the
// MAC key, binding the row to who signed it.
func (s *AuditService) Sign(entry *models.AuditLog) string {
	key := s.secret
	if entry.SignedBy != nil {
		key = append(append([]byte{}, s.secret...), []byte(*entry.SignedBy)...)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(canonical(entry)))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the signature over the stored fields. Any edit to a
// signed field after the fact, including direct storage manipulation,
// shows up as a mismatch. A mismatch is an integrity finding, never an
// error, and is never auto-corrected.
func (s *AuditService) Verify(entry *models.AuditLog) bool {
	expected := s.Sign(entry)
	return hmac.Equal([]byte(expected), []byte(entry.Signature))
}

// Record signs and persists one event. Callers use the category wrappers
// below; this is the single write path they all share.
func (s *AuditService) Record(ctx context.Context, e AuditEntry) (*models.AuditLog, error) {
	entry := &models.AuditLog{
		EventType:        e.EventType,
		UserID:           e.UserID,
		IPAddress:        e.IPAddress,
		Description:      e.Description,
		AffectedTable:    e.AffectedTable,
		AffectedRecordID: e.AffectedRecordID,
		Reason:           e.Reason,
		GroupID:          e.GroupID,
		SignedBy:         e.SignedBy,
		Timestamp:        time.Now().Truncate(time.Microsecond),
	}
	if entry.GroupID == "" {
		entry.GroupID = NewGroupID()
	}
	entry.Signature = s.Sign(entry)

	if err := s.logs.Insert(ctx, entry); err != nil {
		return nil, fmt.Errorf("audit write failed: %w", err)
	}
	return entry, nil
}

// RecordChange attaches one column delta to an already-persisted parent
// log. Change rows inherit integrity from the parent signature and are
// not individually signed.
func (s *AuditService) RecordChange(ctx context.Context, auditLogID int64, column, oldValue, newValue string) (*models.AuditChangeLog, error) {
	change := &models.AuditChangeLog{
		AuditLogID: auditLogID,
		ColumnName: column,
		OldValue:   oldValue,
		NewValue:   newValue,
	}
	if err := s.logs.InsertChange(ctx, change); err != nil {
		return nil, fmt.Errorf("audit change write failed: %w", err)
	}
	return change, nil
}

func (s *AuditService) RecordLoginSuccess(ctx context.Context, userID, ip, groupID string) (*models.AuditLog, error) {
	if !s.policy.AuditLoginEvents {
		return nil, nil
	}
	return s.Record(ctx, AuditEntry{
		EventType:   models.EventLoginSuccess,
		UserID:      &userID,
		IPAddress:   ip,
		Description: "user authenticated successfully",
		GroupID:     groupID,
	})
}

func (s *AuditService) RecordLoginFailure(ctx context.Context, userID *string, email, ip, reason, groupID string) (*models.AuditLog, error) {
	if !s.policy.AuditLoginEvents {
		return nil, nil
	}
	return s.Record(ctx, AuditEntry{
		EventType:   models.EventLoginFailure,
		UserID:      userID,
		IPAddress:   ip,
		Description: fmt.Sprintf("authentication failed for %s", email),
		Reason:      reason,
		GroupID:     groupID,
	})
}

// RecordAccountLockout is never gated by category flags: lockout state
// changes are always audited.
func (s *AuditService) RecordAccountLockout(ctx context.Context, lockout *models.Lockout, groupID string) (*models.AuditLog, error) {
	kind := "temporary"
	if lockout.IsPermanent {
		kind = "permanent"
	}
	recordID := strconv.FormatInt(lockout.ID, 10)
	table := "lockouts"
	return s.Record(ctx, AuditEntry{
		EventType:        models.EventAccountLocked,
		UserID:           &lockout.UserID,
		IPAddress:        lockout.IPAddress,
		Description:      fmt.Sprintf("account locked (%s) after %d failed attempts", kind, lockout.FailedAttempts),
		AffectedTable:    &table,
		AffectedRecordID: &recordID,
		Reason:           lockout.Reason,
		GroupID:          groupID,
	})
}

func (s *AuditService) RecordAccountUnlock(ctx context.Context, lockout *models.Lockout, unlockedBy *string, reason, groupID string) (*models.AuditLog, error) {
	recordID := strconv.FormatInt(lockout.ID, 10)
	table := "lockouts"
	return s.Record(ctx, AuditEntry{
		EventType:        models.EventAccountUnlocked,
		UserID:           &lockout.UserID,
		IPAddress:        lockout.IPAddress,
		Description:      "account lockout lifted",
		AffectedTable:    &table,
		AffectedRecordID: &recordID,
		Reason:           reason,
		GroupID:          groupID,
		SignedBy:         unlockedBy,
	})
}

func (s *AuditService) RecordLockoutExtended(ctx context.Context, lockout *models.Lockout, minutes int, actor *string, groupID string) (*models.AuditLog, error) {
	recordID := strconv.FormatInt(lockout.ID, 10)
	table := "lockouts"
	return s.Record(ctx, AuditEntry{
		EventType:        models.EventLockoutExtended,
		UserID:           &lockout.UserID,
		Description:      fmt.Sprintf("lockout extended by %d minutes", minutes),
		AffectedTable:    &table,
		AffectedRecordID: &recordID,
		GroupID:          groupID,
		SignedBy:         actor,
	})
}

func (s *AuditService) RecordLockoutEscalated(ctx context.Context, lockout *models.Lockout, actor *string, reason, groupID string) (*models.AuditLog, error) {
	recordID := strconv.FormatInt(lockout.ID, 10)
	table := "lockouts"
	return s.Record(ctx, AuditEntry{
		EventType:        models.EventLockoutEscalated,
		UserID:           &lockout.UserID,
		Description:      "temporary lockout converted to permanent",
		AffectedTable:    &table,
		AffectedRecordID: &recordID,
		Reason:           reason,
		GroupID:          groupID,
		SignedBy:         actor,
	})
}

func (s *AuditService) RecordSessionEvent(ctx context.Context, eventType models.AuditEventType, session *models.Session, reason, groupID string) (*models.AuditLog, error) {
	if !s.policy.AuditSessionEvents {
		return nil, nil
	}
	table := "sessions"
	return s.Record(ctx, AuditEntry{
		EventType:        eventType,
		UserID:           &session.UserID,
		IPAddress:        session.IPAddress,
		Description:      fmt.Sprintf("session %s", strings.TrimPrefix(string(eventType), "session.")),
		AffectedTable:    &table,
		AffectedRecordID: &session.ID,
		Reason:           reason,
		GroupID:          groupID,
	})
}

// RecordUpdate emits one record.updated event plus a change row per
// column delta. Caller supplies old/new pairs; unchanged columns are
// skipped here, not by the caller.
func (s *AuditService) RecordUpdate(ctx context.Context, table, recordID string, actorID *string, ip, reason, groupID string, changes map[string][2]string) (*models.AuditLog, error) {
	if !s.policy.AuditAccountChanges {
		return nil, nil
	}
	entry, err := s.Record(ctx, AuditEntry{
		EventType:        models.EventRecordUpdated,
		UserID:           actorID,
		IPAddress:        ip,
		Description:      fmt.Sprintf("%s record updated", table),
		AffectedTable:    &table,
		AffectedRecordID: &recordID,
		Reason:           reason,
		GroupID:          groupID,
		SignedBy:         actorID,
	})
	if err != nil {
		return nil, err
	}

	for column, delta := range changes {
		if delta[0] == delta[1] {
			continue
		}
		if _, err := s.RecordChange(ctx, entry.ID, column, delta[0], delta[1]); err != nil {
			return nil, err
		}
	}
	return entry, nil
}

// Read queries pass straight through to the repository.

func (s *AuditService) GetByUser(ctx context.Context, userID string, limit int) ([]*models.AuditLog, error) {
	return s.logs.GetByUser(ctx, userID, limit)
}

func (s *AuditService) GetByEventType(ctx context.Context, eventType models.AuditEventType, limit int) ([]*models.AuditLog, error) {
	return s.logs.GetByEventType(ctx, eventType, limit)
}

func (s *AuditService) GetByDateRange(ctx context.Context, from, to time.Time) ([]*models.AuditLog, error) {
	return s.logs.GetByDateRange(ctx, from, to)
}

func (s *AuditService) GetByTableRecord(ctx context.Context, table, recordID string) ([]*models.AuditLog, error) {
	return s.logs.GetByTableRecord(ctx, table, recordID)
}

func (s *AuditService) GetByGroupID(ctx context.Context, groupID string) ([]*models.AuditLog, error) {
	return s.logs.GetByGroupID(ctx, groupID)
}

func (s *AuditService) GetChanges(ctx context.Context, auditLogID int64) ([]*models.AuditChangeLog, error) {
	return s.logs.GetChangesByAuditLogID(ctx, auditLogID)
}

// VerifyByID loads a stored row and checks its signature. (nil, false)
// with a nil error means the row does not exist.
func (s *AuditService) VerifyByID(ctx context.Context, id int64) (*models.AuditLog, bool, error) {
	entry, err := s.logs.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if entry == nil {
		return nil, false, nil
	}
	return entry, s.Verify(entry), nil
}
