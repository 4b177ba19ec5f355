package service

import (
	"context"
	"time"

	"github.com/dormledger/auth-service/internal/auth"
	"github.com/dormledger/auth-service/internal/domain"
)

// SessionRegistry stores server-side session records.
type SessionRegistry interface {
	Create(ctx context.Context, session *domain.Session) error
	Get(ctx context.Context, id string) (*domain.Session, error)
	GetByToken(ctx context.Context, token string) (*domain.Session, error)
	Touch(ctx context.Context, id string, at time.Time) error
	Revoke(ctx context.Context, id string, reason domain.RevocationReason, at time.Time) error
	IsActive(ctx context.Context, id string, now time.Time, idleTimeout time.Duration) (bool, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.Session, error)
	Rotate(ctx context.Context, id, expectedRefreshID string, next domain.TokenBinding, at time.Time) error
	RevokeStale(ctx context.Context, cutoff, at time.Time) (int64, error)
	PurgeRevoked(ctx context.Context, before time.Time) (int64, error)
}

// RevocationStore is the token blacklist keyed by token id.
type RevocationStore interface {
	Add(ctx context.Context, tokenID string, expiresAt time.Time) error
	Contains(ctx context.Context, tokenID string) (bool, error)
	PurgeExpired(ctx context.Context) (int, error)
}

// CredentialVerifier authenticates users and resolves identities.
type CredentialVerifier interface {
	Verify(ctx context.Context, identifier, password string) (*domain.Identity, error)
	Identity(ctx context.Context, userID string) (*domain.Identity, error)
}

// TokenIssuer signs and verifies access and refresh tokens.
type TokenIssuer interface {
	Issue(userID, sessionID string, roles []string) (*auth.IssuedTokens, error)
	Verify(token string, kind domain.TokenKind) (*domain.Claims, error)
}
