package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/dormledger/auth-service/internal/domain"
	"github.com/dormledger/auth-service/internal/repository"
)

func seedUser(t *testing.T, users *repository.MemoryUserRepository, username, password string, status domain.UserStatus) *domain.User {
	t.Helper()
	hash, err := HashPassword(password, bcrypt.MinCost)
	require.NoError(t, err)
	user := &domain.User{
		Username:     username,
		Email:        username + "@dorm.example",
		DisplayName:  username,
		PasswordHash: hash,
		Roles:        []string{RoleResident},
		Status:       status,
	}
	require.NoError(t, users.Create(context.Background(), user))
	return user
}

func TestPasswordVerifier(t *testing.T) {
	ctx := context.Background()
	users := repository.NewMemoryUserRepository()
	active := seedUser(t, users, "alice", "correct horse", domain.UserStatusActive)
	seedUser(t, users, "mallory", "correct horse", domain.UserStatusSuspended)
	verifier := NewPasswordVerifier(users)

	t.Run("username", func(t *testing.T) {
		identity, err := verifier.Verify(ctx, "alice", "correct horse")
		require.NoError(t, err)
		assert.Equal(t, active.ID, identity.ID)
		assert.Contains(t, identity.Permissions, PermLedgerRead)
	})

	t.Run("email is case insensitive", func(t *testing.T) {
		identity, err := verifier.Verify(ctx, "ALICE@dorm.example", "correct horse")
		require.NoError(t, err)
		assert.Equal(t, active.ID, identity.ID)
	})

	failures := map[string][2]string{
		"wrong password": {"alice", "battery staple"},
		"unknown user":   {"bob", "correct horse"},
		"suspended":      {"mallory", "correct horse"},
		"empty":          {"", ""},
	}
	for name, creds := range failures {
		t.Run(name, func(t *testing.T) {
			_, err := verifier.Verify(ctx, creds[0], creds[1])
			assert.ErrorIs(t, err, ErrInvalidCredentials)
		})
	}
}

func TestPermissionsFor(t *testing.T) {
	assert.Equal(t, []string{PermLedgerRead, PermLedgerWrite}, PermissionsFor([]string{RoleResident}))
	assert.Empty(t, PermissionsFor([]string{"janitor"}))
	assert.True(t, HasPermission([]string{RoleResident, RoleAdmin}, PermSessionRevoke))
	assert.False(t, HasPermission([]string{RoleTreasurer}, PermSessionRevoke))
}
