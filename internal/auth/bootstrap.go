package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dormledger/auth-service/internal/domain"
	"github.com/dormledger/auth-service/internal/repository"
)

// SeedUser describes an account created at startup or by the seed command.
type SeedUser struct {
	Username    string
	Email       string
	DisplayName string
	Password    string
	Roles       []string
}

// EnsureUser creates the account unless one already answers to its email.
// It reports whether a new account was written.
func EnsureUser(ctx context.Context, users repository.UserRepository, seed SeedUser, cost int) (bool, error) {
	if seed.Email == "" || seed.Password == "" {
		return false, errors.New("seed user needs an email and a password")
	}

	_, err := users.GetByLogin(ctx, seed.Email)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, repository.ErrUserNotFound):
		return false, fmt.Errorf("lookup seed user: %w", err)
	}

	hash, err := HashPassword(seed.Password, cost)
	if err != nil {
		return false, err
	}
	if seed.Username == "" {
		seed.Username, _, _ = strings.Cut(seed.Email, "@")
	}
	if seed.DisplayName == "" {
		seed.DisplayName = seed.Username
	}
	if len(seed.Roles) == 0 {
		seed.Roles = []string{RoleResident}
	}

	user := &domain.User{
		Username:     seed.Username,
		Email:        seed.Email,
		DisplayName:  seed.DisplayName,
		PasswordHash: hash,
		Roles:        seed.Roles,
		Status:       domain.UserStatusActive,
	}
	if err := users.Create(ctx, user); err != nil {
		return false, fmt.Errorf("create seed user: %w", err)
	}
	return true, nil
}
