package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dormledger/auth-service/internal/auth"
	"github.com/dormledger/auth-service/internal/config"
	"github.com/dormledger/auth-service/internal/domain"
	"github.com/dormledger/auth-service/internal/events"
	"github.com/dormledger/auth-service/internal/observability"
	"github.com/dormledger/auth-service/internal/repository"
)

const sessionTokenBytes = 32

// Credentials are the login inputs plus request metadata kept on the session.
type Credentials struct {
	Identifier string
	Password   string
	UserAgent  string
	RemoteAddr string
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	Identity *domain.Identity
	Tokens   domain.TokenPair
	Session  *domain.Session
}

// LogoutInput carries what the client presents on logout. Only the access
// token is required.
type LogoutInput struct {
	AccessToken  string
	SessionToken string
	RefreshToken string
}

// HeartbeatResult is returned by a successful heartbeat.
type HeartbeatResult struct {
	ServerTime  time.Time
	SessionID   string
	IdleTimeout time.Duration
}

// AuthService owns the session lifecycle: login, validation, refresh
// rotation, logout and forced logout.
type AuthService struct {
	verifier   CredentialVerifier
	tokens     TokenIssuer
	sessions   SessionRegistry
	revoked    RevocationStore
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	cfg        config.AuthConfig
	locks      *sessionLocks
	now        func() time.Time
}

// AuthDependencies encapsulates collaborators of the auth service.
type AuthDependencies struct {
	Verifier    CredentialVerifier
	Tokens      TokenIssuer
	Sessions    SessionRegistry
	Revocations RevocationStore
	Dispatcher  events.Dispatcher
	Metrics     *observability.Metrics
	Logger      *zap.Logger
	Clock       func() time.Time
}

// NewAuthService builds the service.
func NewAuthService(cfg config.AuthConfig, deps AuthDependencies) *AuthService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Dispatcher == nil {
		deps.Dispatcher = events.NewInMemoryDispatcher()
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 3 * time.Second
	}
	return &AuthService{
		verifier:   deps.Verifier,
		tokens:     deps.Tokens,
		sessions:   deps.Sessions,
		revoked:    deps.Revocations,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     deps.Logger.Named("auth"),
		cfg:        cfg,
		locks:      newSessionLocks(),
		now:        deps.Clock,
	}
}

// IdleTimeout is the window after the last heartbeat during which a session
// stays active.
func (s *AuthService) IdleTimeout() time.Duration {
	return s.cfg.SessionIdleTimeout
}

// Login authenticates the user, registers a session and issues its first
// token pair.
func (s *AuthService) Login(ctx context.Context, creds Credentials) (*LoginResult, error) {
	identity, err := s.verifier.Verify(ctx, strings.TrimSpace(creds.Identifier), creds.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.metrics.RecordLogin("invalid_credentials")
			return nil, auth.ErrInvalidCredentials
		}
		s.metrics.RecordLogin("error")
		return nil, err
	}

	sessionToken, err := newSessionToken()
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}
	sessionID := uuid.NewString()

	issued, err := s.tokens.Issue(identity.ID, sessionID, identity.Roles)
	if err != nil {
		s.logger.Error("token signing failed", zap.Error(err))
		s.metrics.RecordLogin("error")
		return nil, err
	}

	now := s.now()
	session := &domain.Session{
		ID:              sessionID,
		Token:           sessionToken,
		UserID:          identity.ID,
		Roles:           append([]string(nil), identity.Roles...),
		CreatedAt:       now,
		LastHeartbeatAt: now,
		TokenBinding:    bindingOf(issued),
		UserAgent:       creds.UserAgent,
		RemoteAddr:      creds.RemoteAddr,
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.sessions.Create(sctx, session); err != nil {
		s.metrics.RecordLogin("error")
		return nil, s.storeErr("create session", err)
	}

	s.publish(ctx, events.Event{
		Type:      events.EventSessionCreated,
		UserID:    identity.ID,
		SessionID: sessionID,
	})
	s.metrics.RecordLogin("success")
	s.logger.Info("session created",
		zap.String("user_id", identity.ID),
		zap.String("session_id", sessionID))

	return &LoginResult{Identity: identity, Tokens: issued.Pair, Session: session}, nil
}

// Validate authenticates a request. The token must verify, must not be
// blacklisted, and its session must be active. A successful validation
// counts as activity on the session.
func (s *AuthService) Validate(ctx context.Context, accessToken string) (*domain.Claims, error) {
	claims, err := s.tokens.Verify(accessToken, domain.TokenKindAccess)
	if err != nil {
		return nil, err
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	revoked, err := s.revoked.Contains(sctx, claims.TokenID)
	if err != nil {
		return nil, s.storeErr("check revocation", err)
	}
	if revoked {
		return nil, auth.ErrRevokedToken
	}

	now := s.now()
	active, err := s.sessions.IsActive(sctx, claims.SessionID, now, s.cfg.SessionIdleTimeout)
	if err != nil {
		return nil, s.storeErr("check session", err)
	}
	if !active {
		return nil, auth.ErrSessionExpired
	}

	if err := s.sessions.Touch(sctx, claims.SessionID, now); err != nil {
		s.logger.Warn("session touch failed", zap.String("session_id", claims.SessionID), zap.Error(err))
	}
	return claims, nil
}

// Refresh exchanges a refresh token for a new pair bound to the same session.
// Each refresh token can be exchanged once. Presenting an already rotated
// refresh token outside the reuse grace window revokes the session.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	claims, err := s.tokens.Verify(refreshToken, domain.TokenKindRefresh)
	if err != nil {
		s.metrics.RecordRefresh("invalid")
		return nil, err
	}

	unlock := s.locks.Lock(claims.SessionID)
	defer unlock()

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	session, err := s.sessions.Get(sctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			s.metrics.RecordRefresh("unknown_session")
			return nil, auth.ErrSessionExpired
		}
		return nil, s.storeErr("load session", err)
	}
	if session.Revoked {
		s.metrics.RecordRefresh("revoked")
		return nil, auth.ErrRevokedToken
	}
	if session.UserID != claims.UserID {
		s.metrics.RecordRefresh("invalid")
		return nil, auth.ErrMalformedToken
	}

	now := s.now()
	if claims.TokenID != session.RefreshTokenID {
		if claims.TokenID == session.PrevRefreshTokenID && session.RotatedAt != nil &&
			now.Sub(*session.RotatedAt) < s.cfg.RefreshReuseGrace {
			s.metrics.RecordRefresh("conflict")
			return nil, auth.ErrRefreshConflict
		}

		s.logger.Warn("refresh token reuse detected, revoking session",
			zap.String("user_id", session.UserID),
			zap.String("session_id", session.ID))
		if err := s.revokeSession(sctx, session, domain.ReasonRefreshReuse, now); err != nil {
			return nil, err
		}
		s.publish(ctx, sessionRevokedEvent(session, domain.ReasonRefreshReuse))
		s.metrics.RecordRefresh("reuse")
		return nil, auth.ErrRevokedToken
	}

	revoked, err := s.revoked.Contains(sctx, claims.TokenID)
	if err != nil {
		return nil, s.storeErr("check revocation", err)
	}
	if revoked {
		s.metrics.RecordRefresh("revoked")
		return nil, auth.ErrRevokedToken
	}

	if !session.ActiveAt(now, s.cfg.SessionIdleTimeout) {
		s.metrics.RecordRefresh("expired_session")
		return nil, auth.ErrSessionExpired
	}

	issued, err := s.tokens.Issue(session.UserID, session.ID, session.Roles)
	if err != nil {
		s.logger.Error("token signing failed", zap.Error(err))
		return nil, err
	}

	if err := s.sessions.Rotate(sctx, session.ID, claims.TokenID, bindingOf(issued), now); err != nil {
		if errors.Is(err, repository.ErrRotationConflict) {
			s.metrics.RecordRefresh("conflict")
			return nil, auth.ErrRefreshConflict
		}
		return nil, s.storeErr("rotate session tokens", err)
	}

	if err := s.blacklist(sctx,
		domain.RevocationEntry{TokenID: session.AccessTokenID, ExpiresAt: session.AccessExpiresAt},
		domain.RevocationEntry{TokenID: claims.TokenID, ExpiresAt: claims.ExpiresAt},
	); err != nil {
		s.logger.Error("blacklisting rotated tokens failed",
			zap.String("session_id", session.ID), zap.Error(err))
	}

	s.metrics.RecordRefresh("success")
	return &issued.Pair, nil
}

// Logout revokes the caller's session and blacklists its tokens. Expired or
// already revoked access tokens are accepted so logout can be repeated.
func (s *AuthService) Logout(ctx context.Context, in LogoutInput) error {
	if strings.TrimSpace(in.AccessToken) == "" {
		return auth.ErrMissingToken
	}
	claims, err := s.tokens.Verify(in.AccessToken, domain.TokenKindAccess)
	if err != nil && !errors.Is(err, auth.ErrExpiredToken) {
		return err
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	now := s.now()

	ids := []string{claims.SessionID}
	if token := strings.TrimSpace(in.SessionToken); token != "" {
		other, err := s.sessions.GetByToken(sctx, token)
		switch {
		case err == nil:
			if other.UserID == claims.UserID && other.ID != claims.SessionID {
				ids = append(ids, other.ID)
			}
		case !errors.Is(err, repository.ErrSessionNotFound):
			return s.storeErr("load session", err)
		}
	}

	entries := []domain.RevocationEntry{{TokenID: claims.TokenID, ExpiresAt: claims.ExpiresAt}}
	if in.RefreshToken != "" {
		refresh, err := s.tokens.Verify(in.RefreshToken, domain.TokenKindRefresh)
		if (err == nil || errors.Is(err, auth.ErrExpiredToken)) && refresh.UserID == claims.UserID {
			entries = append(entries, domain.RevocationEntry{TokenID: refresh.TokenID, ExpiresAt: refresh.ExpiresAt})
		}
	}
	if err := s.blacklist(sctx, entries...); err != nil {
		return err
	}

	for _, id := range ids {
		session, err := s.sessions.Get(sctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrSessionNotFound) {
				continue
			}
			return s.storeErr("load session", err)
		}
		wasRevoked := session.Revoked
		if err := s.revokeSession(sctx, session, domain.ReasonExplicitLogout, now); err != nil {
			return err
		}
		if !wasRevoked {
			s.publish(ctx, sessionRevokedEvent(session, domain.ReasonExplicitLogout))
			s.logger.Info("session logged out",
				zap.String("user_id", session.UserID),
				zap.String("session_id", session.ID))
		}
	}

	s.metrics.RecordLogout()
	return nil
}

// ForceLogout revokes every active session of the user and notifies all of
// the user's connected clients. It returns the number of sessions revoked.
func (s *AuthService) ForceLogout(ctx context.Context, userID, message string) (int, error) {
	if strings.TrimSpace(message) == "" {
		message = s.cfg.ForceLogoutMessage
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	sessions, err := s.sessions.ListByUser(sctx, userID)
	if err != nil {
		return 0, s.storeErr("list sessions", err)
	}

	now := s.now()
	revokedIDs := make([]string, 0, len(sessions))
	for _, session := range sessions {
		if session.Revoked {
			continue
		}
		if err := s.revokeSession(sctx, session, domain.ReasonForcedLogout, now); err != nil {
			return len(revokedIDs), err
		}
		revokedIDs = append(revokedIDs, session.ID)
	}

	s.publish(ctx, events.Event{
		Type:   events.EventForceLogout,
		UserID: userID,
		Payload: events.ForceLogoutPayload{
			Message:    message,
			SessionIDs: revokedIDs,
		},
	})
	s.metrics.RecordForcedLogout(len(revokedIDs))
	s.logger.Info("forced logout",
		zap.String("user_id", userID),
		zap.Int("sessions", len(revokedIDs)))

	return len(revokedIDs), nil
}

// Heartbeat keeps the session of a valid access token alive.
func (s *AuthService) Heartbeat(ctx context.Context, accessToken string) (*HeartbeatResult, error) {
	if strings.TrimSpace(accessToken) == "" {
		return nil, auth.ErrMissingToken
	}
	claims, err := s.Validate(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	return &HeartbeatResult{
		ServerTime:  s.now(),
		SessionID:   claims.SessionID,
		IdleTimeout: s.cfg.SessionIdleTimeout,
	}, nil
}

// ValidateSessionToken checks a session token without touching the session.
func (s *AuthService) ValidateSessionToken(ctx context.Context, sessionToken string) (*domain.Session, error) {
	if strings.TrimSpace(sessionToken) == "" {
		return nil, auth.ErrMissingToken
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	session, err := s.sessions.GetByToken(sctx, sessionToken)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, auth.ErrSessionExpired
		}
		return nil, s.storeErr("load session", err)
	}
	if !session.ActiveAt(s.now(), s.cfg.SessionIdleTimeout) {
		return nil, auth.ErrSessionExpired
	}
	return session, nil
}

// Profile resolves the identity behind validated claims.
func (s *AuthService) Profile(ctx context.Context, claims *domain.Claims) (*domain.Identity, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.verifier.Identity(sctx, claims.UserID)
}

// ListSessions returns all sessions of a user, newest first.
func (s *AuthService) ListSessions(ctx context.Context, userID string) ([]*domain.Session, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	sessions, err := s.sessions.ListByUser(sctx, userID)
	if err != nil {
		return nil, s.storeErr("list sessions", err)
	}
	return sessions, nil
}

// revokeSession marks the session revoked and blacklists its bound tokens.
func (s *AuthService) revokeSession(ctx context.Context, session *domain.Session, reason domain.RevocationReason, at time.Time) error {
	if err := s.sessions.Revoke(ctx, session.ID, reason, at); err != nil {
		return s.storeErr("revoke session", err)
	}
	return s.blacklist(ctx,
		domain.RevocationEntry{TokenID: session.AccessTokenID, ExpiresAt: session.AccessExpiresAt},
		domain.RevocationEntry{TokenID: session.RefreshTokenID, ExpiresAt: session.RefreshExpiresAt},
	)
}

func (s *AuthService) blacklist(ctx context.Context, entries ...domain.RevocationEntry) error {
	for _, e := range entries {
		if e.TokenID == "" {
			continue
		}
		if err := s.revoked.Add(ctx, e.TokenID, e.ExpiresAt); err != nil {
			return s.storeErr("blacklist token", err)
		}
	}
	return nil
}

func (s *AuthService) publish(ctx context.Context, event events.Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event delivery failed",
			zap.String("event_type", string(event.Type)),
			zap.String("user_id", event.UserID),
			zap.Error(err))
	}
}

func (s *AuthService) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.StoreTimeout)
}

func (s *AuthService) storeErr(op string, err error) error {
	if errors.Is(err, auth.ErrStoreUnavailable) {
		return err
	}
	s.logger.Error("session store failure", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%w: %s: %v", auth.ErrStoreUnavailable, op, err)
}

func sessionRevokedEvent(session *domain.Session, reason domain.RevocationReason) events.Event {
	return events.Event{
		Type:      events.EventSessionRevoked,
		UserID:    session.UserID,
		SessionID: session.ID,
		Payload:   events.SessionRevokedPayload{Reason: string(reason)},
	}
}

func bindingOf(issued *auth.IssuedTokens) domain.TokenBinding {
	return domain.TokenBinding{
		AccessTokenID:    issued.Access.TokenID,
		AccessExpiresAt:  issued.Access.ExpiresAt,
		RefreshTokenID:   issued.Refresh.TokenID,
		RefreshExpiresAt: issued.Refresh.ExpiresAt,
	}
}

func newSessionToken() (string, error) {
	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
