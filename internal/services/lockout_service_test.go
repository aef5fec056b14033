package services

import (
	"context"
	"testing"
	"time"

	"celestra-auth/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lockoutFixture struct {
	svc      *LockoutService
	lockouts *fakeLockoutRepo
	failures *fakeFailedRepo
	sessions *fakeSessionRepo
	audit    *fakeAuditRepo
}

func newLockoutFixture() *lockoutFixture {
	lockouts := &fakeLockoutRepo{}
	failures := &fakeFailedRepo{}
	sessions := &fakeSessionRepo{}
	auditRepo := &fakeAuditRepo{}
	policy := testPolicy()
	auditSvc := NewAuditService(auditRepo, "test-signing-secret", policy)

	return &lockoutFixture{
		svc:      NewLockoutService(lockouts, failures, newFakeUserRepo(), sessions, auditSvc, fakeTransactor{}, policy),
		lockouts: lockouts,
		failures: failures,
		sessions: sessions,
		audit:    auditRepo,
	}
}

func TestLockAccountCreatesTemporaryLockout(t *testing.T) {
	f := newLockoutFixture()
	ctx := context.Background()

	lockout, err := f.svc.LockAccount(ctx, "user-1", "10.0.0.1", "too many failures", 5)
	require.NoError(t, err)
	require.NotNil(t, lockout)

	assert.False(t, lockout.IsPermanent)
	require.NotNil(t, lockout.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), *lockout.ExpiresAt, 5*time.Second)

	locked, err := f.svc.IsAccountLocked(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, locked)

	assert.Equal(t, 1, f.audit.countByType(models.EventAccountLocked))
}

func TestLockAccountIsNoopWhenAlreadyLocked(t *testing.T) {
	f := newLockoutFixture()
	ctx := context.Background()

	first, err := f.svc.LockAccount(ctx, "user-1", "10.0.0.1", "too many failures", 5)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := f.svc.LockAccount(ctx, "user-1", "10.0.0.2", "too many failures", 6)
	require.NoError(t, err)
	assert.Nil(t, second)

	active, err := f.svc.GetAllActiveLockouts(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestLockAccountEndsActiveSessions(t *testing.T) {
	f := newLockoutFixture()
	ctx := context.Background()

	require.NoError(t, f.sessions.Insert(ctx, &models.Session{
		ID: "s1", UserID: "user-1", Token: "t1",
		CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour),
	}))

	_, err := f.svc.LockAccount(ctx, "user-1", "10.0.0.1", "too many failures", 5)
	require.NoError(t, err)

	session, err := f.sessions.GetByToken(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, session.EndedAt)
	assert.Equal(t, models.EndReasonAccountLocked, *session.EndReason)
}

func TestLockoutEscalatesToPermanentAfterRepeatedTemporary(t *testing.T) {
	f := newLockoutFixture()
	ctx := context.Background()
	admin := "admin-1"

	for i := 0; i < 3; i++ {
		lockout, err := f.svc.LockAccount(ctx, "user-1", "10.0.0.1", "too many failures", 5)
		require.NoError(t, err)
		require.NotNil(t, lockout)
		assert.False(t, lockout.IsPermanent)

		_, err = f.svc.UnlockAccount(ctx, "user-1", &admin, "support ticket")
		require.NoError(t, err)
	}

	lockout, err := f.svc.LockAccount(ctx, "user-1", "10.0.0.1", "too many failures", 5)
	require.NoError(t, err)
	require.NotNil(t, lockout)
	assert.True(t, lockout.IsPermanent)
	assert.Nil(t, lockout.ExpiresAt)

	assert.Equal(t, 1, f.audit.countByType(models.EventLockoutEscalated))
}

func TestUnlockPermanentRequiresAdmin(t *testing.T) {
	f := newLockoutFixture()
	ctx := context.Background()
	userID := "user-1"

	require.NoError(t, func() error {
		_, err := f.lockouts.CreateIfNoneActive(ctx, &models.Lockout{
			UserID: userID, LockedAt: time.Now(), IsPermanent: true, Reason: "escalated",
		})
		return err
	}())

	_, err := f.svc.UnlockAccount(ctx, userID, nil, "sweep")
	require.Error(t, err)

	admin := "admin-1"
	lifted, err := f.svc.UnlockAccount(ctx, userID, &admin, "identity verified")
	require.NoError(t, err)
	require.NotNil(t, lifted)
	assert.Equal(t, &admin, lifted.UnlockedBy)

	locked, err := f.svc.IsAccountLocked(ctx, userID)
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestUnlockClearsFailureCounter(t *testing.T) {
	f := newLockoutFixture()
	ctx := context.Background()
	userID := "user-1"

	for i := 0; i < 5; i++ {
		require.NoError(t, f.failures.Insert(ctx, &models.FailedLoginRecord{UserID: &userID, Email: "u@example.com"}))
	}
	_, err := f.svc.LockAccount(ctx, userID, "10.0.0.1", "too many failures", 5)
	require.NoError(t, err)

	admin := "admin-1"
	_, err = f.svc.UnlockAccount(ctx, userID, &admin, "support ticket")
	require.NoError(t, err)

	count, err := f.failures.CountByUserSince(ctx, userID, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestExtendLockout(t *testing.T) {
	f := newLockoutFixture()
	ctx := context.Background()

	extended, err := f.svc.ExtendLockout(ctx, "user-1", 15, nil)
	require.NoError(t, err)
	assert.False(t, extended)

	lockout, err := f.svc.LockAccount(ctx, "user-1", "10.0.0.1", "too many failures", 5)
	require.NoError(t, err)
	before := *lockout.ExpiresAt

	extended, err = f.svc.ExtendLockout(ctx, "user-1", 15, nil)
	require.NoError(t, err)
	assert.True(t, extended)

	active, err := f.svc.GetActiveLockout(ctx, "user-1")
	require.NoError(t, err)
	assert.WithinDuration(t, before.Add(15*time.Minute), *active.ExpiresAt, time.Second)

	_, err = f.svc.ExtendLockout(ctx, "user-1", -5, nil)
	require.Error(t, err)
}

func TestExtendLockoutSkipsRowWithoutExpiry(t *testing.T) {
	f := newLockoutFixture()
	ctx := context.Background()

	// A temporary row missing its expiry is permanent in effect; there
	// is no deadline to extend.
	f.lockouts.lockouts = append(f.lockouts.lockouts, &models.Lockout{
		ID:             1,
		UserID:         "user-1",
		LockedAt:       time.Now(),
		FailedAttempts: 5,
		Reason:         "too many failures",
	})

	extended, err := f.svc.ExtendLockout(ctx, "user-1", 15, nil)
	require.NoError(t, err)
	assert.False(t, extended)
}

func TestMakeLockoutPermanent(t *testing.T) {
	f := newLockoutFixture()
	ctx := context.Background()
	admin := "admin-1"

	escalated, err := f.svc.MakeLockoutPermanent(ctx, "user-1", &admin, "abuse")
	require.NoError(t, err)
	assert.False(t, escalated)

	_, err = f.svc.LockAccount(ctx, "user-1", "10.0.0.1", "too many failures", 5)
	require.NoError(t, err)

	escalated, err = f.svc.MakeLockoutPermanent(ctx, "user-1", &admin, "abuse")
	require.NoError(t, err)
	assert.True(t, escalated)

	permanent, err := f.svc.GetAllPermanentLockouts(ctx)
	require.NoError(t, err)
	assert.Len(t, permanent, 1)
}

func TestExpiredLockoutTreatedAsAbsent(t *testing.T) {
	f := newLockoutFixture()
	ctx := context.Background()

	expired := time.Now().Add(-time.Minute)
	_, err := f.lockouts.CreateIfNoneActive(ctx, &models.Lockout{
		UserID: "user-1", LockedAt: time.Now().Add(-31 * time.Minute), ExpiresAt: &expired,
	})
	require.NoError(t, err)

	locked, err := f.svc.IsAccountLocked(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, locked)

	swept, err := f.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), swept)

	swept, err = f.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), swept)
}
