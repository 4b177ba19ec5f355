package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/dormledger/auth-service/internal/domain"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
)

// TokenConfig configures the TokenManager.
type TokenConfig struct {
	Secret         string
	FallbackSecret string
	Issuer         string
	AccessTTL      time.Duration
	RefreshTTL     time.Duration
}

// TokenManager handles issuing and validating JWT tokens.
//
// Tokens are signed with the primary secret. Verification also accepts the
// fallback secret so a rotation does not invalidate tokens already in flight.
type TokenManager struct {
	secret     []byte
	fallback   []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	parser     *jwt.Parser
}

// TokenOption customizes a TokenManager.
type TokenOption func(*TokenManager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) TokenOption {
	return func(tm *TokenManager) {
		if now != nil {
			tm.now = now
		}
	}
}

// NewTokenManager builds a new manager.
func NewTokenManager(cfg TokenConfig, opts ...TokenOption) *TokenManager {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = defaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = defaultRefreshTTL
	}
	tm := &TokenManager{
		secret:     []byte(cfg.Secret),
		fallback:   []byte(cfg.FallbackSecret),
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        time.Now,
		// expiry is checked by Verify with an inclusive boundary
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}
	for _, opt := range opts {
		opt(tm)
	}
	return tm
}

// Claims describes JWT payload.
type Claims struct {
	Kind      domain.TokenKind `json:"typ"`
	SessionID string           `json:"sid"`
	Roles     []string         `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// IssuedTokens is the result of Issue: the bearer strings plus what they carry.
type IssuedTokens struct {
	Pair    domain.TokenPair
	Access  domain.Claims
	Refresh domain.Claims
}

// AccessTTL returns the configured access token lifetime.
func (tm *TokenManager) AccessTTL() time.Duration {
	return tm.accessTTL
}

// Issue creates a signed access and refresh token bound to the user and session.
func (tm *TokenManager) Issue(userID, sessionID string, roles []string) (*IssuedTokens, error) {
	if len(tm.secret) == 0 {
		return nil, fmt.Errorf("%w: no signing secret configured", ErrSigning)
	}
	now := tm.now().Truncate(jwt.TimePrecision)

	access := domain.Claims{
		TokenID:   uuid.NewString(),
		Kind:      domain.TokenKindAccess,
		UserID:    userID,
		SessionID: sessionID,
		Roles:     append([]string(nil), roles...),
		IssuedAt:  now,
		ExpiresAt: now.Add(tm.accessTTL),
	}
	refresh := domain.Claims{
		TokenID:   uuid.NewString(),
		Kind:      domain.TokenKindRefresh,
		UserID:    userID,
		SessionID: sessionID,
		IssuedAt:  now,
		ExpiresAt: now.Add(tm.refreshTTL),
	}

	accessToken, err := tm.sign(access)
	if err != nil {
		return nil, err
	}
	refreshToken, err := tm.sign(refresh)
	if err != nil {
		return nil, err
	}

	return &IssuedTokens{
		Pair: domain.TokenPair{
			AccessToken:      accessToken,
			RefreshToken:     refreshToken,
			AccessExpiresAt:  access.ExpiresAt,
			RefreshExpiresAt: refresh.ExpiresAt,
		},
		Access:  access,
		Refresh: refresh,
	}, nil
}

func (tm *TokenManager) sign(c domain.Claims) (string, error) {
	claims := &Claims{
		Kind:      c.Kind,
		SessionID: c.SessionID,
		Roles:     c.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        c.TokenID,
			Subject:   c.UserID,
			Issuer:    tm.issuer,
			IssuedAt:  jwt.NewNumericDate(c.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(c.ExpiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(tm.secret)
	if err != nil {
		return "", fmt.Errorf("%w: sign %s token", ErrSigning, c.Kind)
	}
	return tokenString, nil
}

// Verify checks signature, structure, kind and expiry. It does not consult
// revocation state.
//
// A token is expired from the instant of its exp claim onward. When the only
// problem is expiry, the claims are returned together with ErrExpiredToken.
func (tm *TokenManager) Verify(tokenStr string, kind domain.TokenKind) (*domain.Claims, error) {
	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" {
		return nil, ErrMalformedToken
	}

	claims, err := tm.parse(tokenStr, tm.secret)
	if err != nil && len(tm.fallback) > 0 && errors.Is(err, jwt.ErrTokenSignatureInvalid) {
		claims, err = tm.parse(tokenStr, tm.fallback)
	}
	if err != nil {
		return nil, ErrMalformedToken
	}

	if claims.Kind != kind || claims.ID == "" || claims.Subject == "" || claims.SessionID == "" ||
		claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return nil, ErrMalformedToken
	}
	if tm.issuer != "" && claims.Issuer != tm.issuer {
		return nil, ErrMalformedToken
	}

	out := &domain.Claims{
		TokenID:   claims.ID,
		Kind:      claims.Kind,
		UserID:    claims.Subject,
		SessionID: claims.SessionID,
		Roles:     claims.Roles,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if !tm.now().Before(out.ExpiresAt) {
		return out, ErrExpiredToken
	}
	return out, nil
}

func (tm *TokenManager) parse(tokenStr string, secret []byte) (*Claims, error) {
	if len(secret) == 0 {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	parsed, err := tm.parser.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}
