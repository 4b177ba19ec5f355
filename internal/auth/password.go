package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/dormledger/auth-service/internal/domain"
	"github.com/dormledger/auth-service/internal/repository"
)

// HashPassword hashes a plaintext password with configured cost.
func HashPassword(password string, cost int) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// ComparePassword verifies a password against its hashed value.
func ComparePassword(hashed, plain string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain))
}

// dummyHash is compared against when the account does not exist so unknown
// identifiers cost the same as wrong passwords.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("dormledger-unknown-account"), bcrypt.MinCost)

// PasswordVerifier checks credentials against the user repository.
type PasswordVerifier struct {
	users repository.UserRepository
}

// NewPasswordVerifier constructs a verifier.
func NewPasswordVerifier(users repository.UserRepository) *PasswordVerifier {
	return &PasswordVerifier{users: users}
}

// Verify returns the identity for valid credentials. Unknown accounts, wrong
// passwords and suspended accounts all yield ErrInvalidCredentials.
func (v *PasswordVerifier) Verify(ctx context.Context, identifier, password string) (*domain.Identity, error) {
	if identifier == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := v.users.GetByLogin(ctx, identifier)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := ComparePassword(user.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	if user.Status != domain.UserStatusActive {
		return nil, ErrInvalidCredentials
	}
	return IdentityOf(user), nil
}

// Identity loads the identity of an existing account.
func (v *PasswordVerifier) Identity(ctx context.Context, userID string) (*domain.Identity, error) {
	user, err := v.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrSessionExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return IdentityOf(user), nil
}

// IdentityOf projects a stored user onto the identity carried by sessions.
func IdentityOf(user *domain.User) *domain.Identity {
	roles := append([]string(nil), user.Roles...)
	return &domain.Identity{
		ID:          user.ID,
		Username:    user.Username,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Roles:       roles,
		Permissions: PermissionsFor(roles),
	}
}
