package services

import (
	"testing"
	"time"

	"celestra-auth/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	svc := NewJWTService("test-jwt-secret")
	user := &models.User{ID: "user-1", Email: "u@example.com", Role: models.RoleRegularUser}

	token, err := svc.GenerateToken(user, "session-1", time.Now().Add(time.Hour))
	require.NoError(t, err)

	claims, err := svc.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "u@example.com", claims.Email)
	assert.Equal(t, models.RoleRegularUser, claims.Role)
	assert.Equal(t, "session-1", claims.SessionID)
}

func TestVerifyTokenRejectsWrongSecret(t *testing.T) {
	issuer := NewJWTService("secret-a")
	verifier := NewJWTService("secret-b")
	user := &models.User{ID: "user-1", Email: "u@example.com", Role: models.RoleRegularUser}

	token, err := issuer.GenerateToken(user, "session-1", time.Now().Add(time.Hour))
	require.NoError(t, err)

	_, err = verifier.VerifyToken(token)
	assert.Error(t, err)
}

func TestVerifyTokenRejectsExpired(t *testing.T) {
	svc := NewJWTService("test-jwt-secret")
	user := &models.User{ID: "user-1", Email: "u@example.com", Role: models.RoleRegularUser}

	token, err := svc.GenerateToken(user, "session-1", time.Now().Add(-time.Minute))
	require.NoError(t, err)

	_, err = svc.VerifyToken(token)
	assert.Error(t, err)
}
