package service

import (
	"bytes"
	"context"
	"testing"
	"time"

	"duo-chat/backend/internal/models"
	apperrors "duo-chat/backend/pkg/errors"
	"duo-chat/backend/pkg/jwt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTokens() *jwt.Service {
	return jwt.NewService("test-secret", time.Hour)
}

func TestRegisterAndLogin(t *testing.T) {
	f := newDirectoryFixture(t)
	ctx := context.Background()

	user, err := f.auth.Register(ctx, &models.RegisterRequest{Name: "Ada", Email: "Ada@Example.com", Password: "hunter22"},
		&Upload{Body: bytes.NewReader(pngHeader)})
	require.NoError(t, err)
	assert.NotZero(t, user.ID)
	assert.Equal(t, "ada@example.com", user.Email)
	assert.NotEmpty(t, user.ProfilePicURL)

	got, token, err := f.auth.Login(ctx, &models.LoginRequest{Email: "ada@example.com", Password: "hunter22"})
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	claims, err := newTokens().ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, "ada@example.com", claims.Email)

	me, err := f.auth.Me(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", me.Name)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	f := newDirectoryFixture(t)
	ctx := context.Background()
	req := &models.RegisterRequest{Name: "Ada", Email: "ada@example.com", Password: "hunter22"}

	_, err := f.auth.Register(ctx, req, nil)
	require.NoError(t, err)

	_, err = f.auth.Register(ctx, req, nil)
	assert.Equal(t, apperrors.CodeConflict, apperrors.GetErrorCode(err))
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := newDirectoryFixture(t)
	f.seed(t, "Ada", "ada@example.com")
	ctx := context.Background()

	_, _, err := f.auth.Login(ctx, &models.LoginRequest{Email: "ada@example.com", Password: "wrong"})
	assert.Equal(t, apperrors.CodeUnauthorized, apperrors.GetErrorCode(err))

	_, _, err = f.auth.Login(ctx, &models.LoginRequest{Email: "nobody@example.com", Password: "secret1"})
	assert.Equal(t, apperrors.CodeUnauthorized, apperrors.GetErrorCode(err))
	assert.Equal(t, "Invalid email or password", apperrors.GetErrorMessage(err))
}

func TestMeForDeletedUser(t *testing.T) {
	f := newDirectoryFixture(t)

	_, err := f.auth.Me(context.Background(), 12345)
	assert.Equal(t, apperrors.CodeUnauthorized, apperrors.GetErrorCode(err))
}
