package domain

import "time"

// TokenKind differentiates access vs refresh tokens.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

// Identity is the authenticated user as seen by a session.
type Identity struct {
	ID          string   `json:"id"`
	Username    string   `json:"username"`
	Email       string   `json:"email"`
	DisplayName string   `json:"displayName"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// TokenPair is handed to clients after login and refresh.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Claims are the verified contents of an access or refresh token.
type Claims struct {
	TokenID   string
	Kind      TokenKind
	UserID    string
	SessionID string
	Roles     []string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// RevocationEntry blacklists a token by its identifier until its natural expiry.
type RevocationEntry struct {
	TokenID   string
	ExpiresAt time.Time
}
