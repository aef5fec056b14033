package services

import (
	"context"
	"testing"
	"time"

	"celestra-auth/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUserFixture(t *testing.T) (*UserService, *fakeUserRepo, *fakeSessionRepo, *fakeAuditRepo, *models.User) {
	t.Helper()
	users := newFakeUserRepo()
	sessions := &fakeSessionRepo{}
	auditRepo := &fakeAuditRepo{}
	auditSvc := NewAuditService(auditRepo, "test-signing-secret", testPolicy())
	svc := NewUserService(users, sessions, auditSvc, fakeTransactor{})

	user := &models.User{
		ID:       uuid.NewString(),
		Email:    "u@example.com",
		FullName: "Old Name",
		Role:     models.RoleRegularUser,
		Status:   models.UserStatusActive,
	}
	require.NoError(t, users.CreateUser(context.Background(), user))
	return svc, users, sessions, auditRepo, user
}

func TestUpdateProfileRecordsColumnDeltas(t *testing.T) {
	svc, _, _, auditRepo, user := newUserFixture(t)
	ctx := context.Background()
	actor := "admin-1"

	company := "company-1"
	updated, err := svc.UpdateProfile(ctx, user.ID, "New Name", &company, &actor, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "New Name", updated.FullName)

	logs, err := auditRepo.GetByEventType(ctx, models.EventRecordUpdated, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)

	changes, err := auditRepo.GetChangesByAuditLogID(ctx, logs[0].ID)
	require.NoError(t, err)
	assert.Len(t, changes, 2)
}

func TestUpdateProfileNoopWritesNothing(t *testing.T) {
	svc, _, _, auditRepo, user := newUserFixture(t)
	ctx := context.Background()

	_, err := svc.UpdateProfile(ctx, user.ID, "Old Name", nil, nil, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, 0, auditRepo.countByType(models.EventRecordUpdated))
}

func TestChangeRole(t *testing.T) {
	svc, users, _, auditRepo, user := newUserFixture(t)
	ctx := context.Background()
	actor := "admin-1"

	updated, err := svc.ChangeRole(ctx, user.ID, models.RoleCompanyAdmin, &actor, "10.0.0.1", "promotion")
	require.NoError(t, err)
	assert.Equal(t, models.RoleCompanyAdmin, updated.Role)

	stored, err := users.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleCompanyAdmin, stored.Role)

	logs, err := auditRepo.GetByEventType(ctx, models.EventUserRoleChanged, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)

	changes, err := auditRepo.GetChangesByAuditLogID(ctx, logs[0].ID)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "role", changes[0].ColumnName)
	assert.Equal(t, string(models.RoleRegularUser), changes[0].OldValue)
	assert.Equal(t, string(models.RoleCompanyAdmin), changes[0].NewValue)

	// Same role again is a no-op.
	_, err = svc.ChangeRole(ctx, user.ID, models.RoleCompanyAdmin, &actor, "10.0.0.1", "again")
	require.NoError(t, err)
	assert.Equal(t, 1, auditRepo.countByType(models.EventUserRoleChanged))
}

func TestBlockingStatusEndsSessions(t *testing.T) {
	svc, _, sessions, auditRepo, user := newUserFixture(t)
	ctx := context.Background()
	actor := "admin-1"

	require.NoError(t, sessions.Insert(ctx, &models.Session{
		ID: "s1", UserID: user.ID, Token: "t1",
		CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour),
	}))

	updated, err := svc.ChangeStatus(ctx, user.ID, models.UserStatusBlocked, &actor, "10.0.0.1", "abuse")
	require.NoError(t, err)
	assert.Equal(t, models.UserStatusBlocked, updated.Status)

	session, err := sessions.GetByToken(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, session.EndedAt)
	assert.Equal(t, models.EndReasonAccountBlocked, *session.EndReason)

	assert.Equal(t, 1, auditRepo.countByType(models.EventUserStatusChanged))
}

func TestSuspendKeepsSessions(t *testing.T) {
	svc, _, sessions, _, user := newUserFixture(t)
	ctx := context.Background()

	require.NoError(t, sessions.Insert(ctx, &models.Session{
		ID: "s1", UserID: user.ID, Token: "t1",
		CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour),
	}))

	_, err := svc.ChangeStatus(ctx, user.ID, models.UserStatusSuspended, nil, "10.0.0.1", "review")
	require.NoError(t, err)

	session, err := sessions.GetByToken(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, session.EndedAt)
}
