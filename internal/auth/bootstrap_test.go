package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/dormledger/auth-service/internal/repository"
)

func TestEnsureUserCreatesOnce(t *testing.T) {
	ctx := context.Background()
	users := repository.NewMemoryUserRepository()
	seed := SeedUser{Email: "Warden@Dorm.test", Password: "hunter22", Roles: []string{RoleAdmin}}

	created, err := EnsureUser(ctx, users, seed, bcrypt.MinCost)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = EnsureUser(ctx, users, seed, bcrypt.MinCost)
	require.NoError(t, err)
	assert.False(t, created)

	identity, err := NewPasswordVerifier(users).Verify(ctx, "Warden", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, []string{RoleAdmin}, identity.Roles)
}

func TestEnsureUserRequiresCredentials(t *testing.T) {
	_, err := EnsureUser(context.Background(), repository.NewMemoryUserRepository(), SeedUser{Email: "a@b.c"}, bcrypt.MinCost)
	assert.Error(t, err)
}
