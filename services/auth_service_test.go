package services

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/pettinen/gifdome/models"
)

func newTestAuthService(t *testing.T) *authService {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)
	return NewAuthService("admin", string(hash), "test-secret").(*authService)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	_, err := svc.Login(ctx, models.AdminCredentials{Username: "admin", Password: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, models.AdminCredentials{Username: "intruder", Password: "hunter2"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginIssuesSignedToken(t *testing.T) {
	svc := newTestAuthService(t)
	issuedAt := time.Now()
	svc.now = func() time.Time { return issuedAt }

	signed, err := svc.Login(context.Background(), models.AdminCredentials{Username: "admin", Password: "hunter2"})
	require.NoError(t, err)

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(signed, claims, func(token *jwt.Token) (interface{}, error) {
		require.IsType(t, &jwt.SigningMethodHMAC{}, token.Method)
		return []byte("test-secret"), nil
	})
	require.NoError(t, err)
	require.True(t, token.Valid)

	assert.Equal(t, "admin", claims["sub"])
	assert.Equal(t, "admin", claims["role"])
	assert.Equal(t, float64(issuedAt.Unix()), claims["iat"])
	assert.Equal(t, float64(issuedAt.Add(24*time.Hour).Unix()), claims["exp"])
}

func TestLoginTokenRejectsWrongSecret(t *testing.T) {
	svc := newTestAuthService(t)
	signed, err := svc.Login(context.Background(), models.AdminCredentials{Username: "admin", Password: "hunter2"})
	require.NoError(t, err)

	_, err = jwt.Parse(signed, func(token *jwt.Token) (interface{}, error) {
		return []byte("other-secret"), nil
	})
	assert.Error(t, err)
}
