package models

import (
	"context"
	"errors"
	"testing"

	"github.com/mmdatafocus/docs_backend/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogin(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	info, err := Login(ctx, " OWNER ", "secret-pass")
	require.NoError(t, err)
	assert.NotEmpty(t, info.Token)
	assert.Empty(t, info.User.Password)
	assert.Equal(t, env.owner.ID, info.User.ID)

	token, err := utils.JwtValidate(info.Token)
	require.NoError(t, err)
	claims := token.Claims.(*utils.JwtCustomClaim)
	assert.Equal(t, env.owner.ID, claims.ID)
	assert.False(t, claims.IsAdmin)

	_, err = Login(ctx, "owner", "wrong-pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = Login(ctx, "nobody", "secret-pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestCreateUserValidation(t *testing.T) {
	setupTestEnv(t)

	_, err := CreateUser(context.Background(), &NewUser{Username: "Owner", Name: "Dup", Password: "secret-pass"})
	var verr *utils.ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)
	assert.Contains(t, verr.Fields, "username")

	_, err = CreateUser(context.Background(), &NewUser{Username: "short", Name: "Short", Password: "123"})
	require.True(t, errors.As(err, &verr), "got %v", err)
	assert.Contains(t, verr.Fields, "password")
}

func TestEnsureAdminResetsPassword(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	_, err := EnsureAdmin(ctx, "admin", "Admin", "another-pass")
	require.NoError(t, err)
	_, err = Login(ctx, "admin", "secret-pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	info, err := Login(ctx, "admin", "another-pass")
	require.NoError(t, err)
	assert.Equal(t, env.admin.ID, info.User.ID)

	created, err := EnsureAdmin(ctx, "root", "Root", "root-password")
	require.NoError(t, err)
	assert.Equal(t, UserRoleAdmin, created.Role)
}
