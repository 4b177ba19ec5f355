package dto

import (
	"time"

	"github.com/dormledger/auth-service/internal/domain"
)

// LoginRequest accepts either a username or an email.
type LoginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Identifier returns whichever login name was supplied.
func (r LoginRequest) Identifier() string {
	if r.Username != "" {
		return r.Username
	}
	return r.Email
}

// RefreshRequest payload for token rotation.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// LogoutRequest optional body of logout.
type LogoutRequest struct {
	SessionToken string `json:"sessionToken"`
	RefreshToken string `json:"refreshToken"`
}

// ValidateSessionRequest payload for session token validation.
type ValidateSessionRequest struct {
	SessionToken string `json:"sessionToken"`
}

// TokensResponse is the client-facing token pair.
type TokensResponse struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

// SessionResponse describes the session handle returned at login.
type SessionResponse struct {
	SessionToken string `json:"sessionToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// LoginResponse is the data of a successful login.
type LoginResponse struct {
	User    *domain.Identity `json:"user"`
	Tokens  TokensResponse   `json:"tokens"`
	Session SessionResponse  `json:"session"`
}

// RefreshResponse is the data of a successful refresh.
type RefreshResponse struct {
	Tokens TokensResponse `json:"tokens"`
}

// HeartbeatResponse is the data of a successful heartbeat.
type HeartbeatResponse struct {
	ServerTime  time.Time `json:"serverTime"`
	SessionID   string    `json:"sessionId"`
	IdleTimeout int64     `json:"idleTimeoutSeconds"`
}

// ValidateSessionResponse is the data of a successful session check.
type ValidateSessionResponse struct {
	Valid           bool      `json:"valid"`
	UserID          string    `json:"userId"`
	LastHeartbeatAt time.Time `json:"lastHeartbeatAt"`
}

// NewTokensResponse converts a token pair.
func NewTokensResponse(p domain.TokenPair) TokensResponse {
	return TokensResponse{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshExpiresAt: p.RefreshExpiresAt,
	}
}
