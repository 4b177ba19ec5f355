package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dormledger/auth-service/internal/auth"
	"github.com/dormledger/auth-service/internal/config"
	"github.com/dormledger/auth-service/internal/domain"
	"github.com/dormledger/auth-service/internal/events"
	"github.com/dormledger/auth-service/internal/repository"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type mockVerifier struct {
	mock.Mock
}

func (m *mockVerifier) Verify(ctx context.Context, identifier, password string) (*domain.Identity, error) {
	args := m.Called(ctx, identifier, password)
	identity, _ := args.Get(0).(*domain.Identity)
	return identity, args.Error(1)
}

func (m *mockVerifier) Identity(ctx context.Context, userID string) (*domain.Identity, error) {
	args := m.Called(ctx, userID)
	identity, _ := args.Get(0).(*domain.Identity)
	return identity, args.Error(1)
}

type recordingPublisher struct {
	mu           sync.Mutex
	broadcasts   map[string][]Message
	toSession    map[string][]Message
	all          []Message
	disconnected []string
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{
		broadcasts: make(map[string][]Message),
		toSession:  make(map[string][]Message),
	}
}

func (p *recordingPublisher) SendToSession(_, sessionID string, msg Message) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.toSession[sessionID] = append(p.toSession[sessionID], msg)
	return 1
}

func (p *recordingPublisher) sessionMessages(sessionID string) []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.toSession[sessionID]...)
}

func (p *recordingPublisher) Broadcast(userID string, msg Message) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.broadcasts[userID] = append(p.broadcasts[userID], msg)
	return 1
}

func (p *recordingPublisher) BroadcastAll(msg Message) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.all = append(p.all, msg)
	return 1
}

func (p *recordingPublisher) DisconnectUser(userID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnected = append(p.disconnected, "user:"+userID)
	return 1
}

func (p *recordingPublisher) DisconnectSession(userID, sessionID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnected = append(p.disconnected, "session:"+sessionID)
	return 1
}

func (p *recordingPublisher) messagesFor(userID string) []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.broadcasts[userID]...)
}

type failingRevocations struct{}

func (failingRevocations) Add(context.Context, string, time.Time) error {
	return errors.New("connection refused")
}

func (failingRevocations) Contains(context.Context, string) (bool, error) {
	return false, errors.New("connection refused")
}

func (failingRevocations) PurgeExpired(context.Context) (int, error) { return 0, nil }

type harness struct {
	svc       *AuthService
	clock     *testClock
	sessions  *repository.MemorySessionRepository
	revoked   *repository.MemoryRevocationStore
	verifier  *mockVerifier
	publisher *recordingPublisher
	notifier  *NotificationService
}

var alice = &domain.Identity{ID: "user-alice", Username: "alice", Roles: []string{auth.RoleResident}}

func testAuthConfig() config.AuthConfig {
	return config.AuthConfig{
		JWTSecret:          "test-secret",
		Issuer:             "dormledger",
		AccessTokenTTL:     15 * time.Minute,
		RefreshTokenTTL:    7 * 24 * time.Hour,
		SessionIdleTimeout: 30 * time.Minute,
		HeartbeatInterval:  30 * time.Second,
		StoreTimeout:       time.Second,
		RefreshReuseGrace:  10 * time.Second,
		ForceLogoutMessage: "Your session has been terminated by an administrator.",
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := testAuthConfig()
	clock := &testClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}

	tokens := auth.NewTokenManager(auth.TokenConfig{
		Secret:     cfg.JWTSecret,
		Issuer:     cfg.Issuer,
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
	}, auth.WithClock(clock.Now))

	verifier := new(mockVerifier)
	verifier.On("Verify", mock.Anything, "alice", "correct horse").Return(alice, nil)
	verifier.On("Verify", mock.Anything, mock.Anything, mock.Anything).Return(nil, auth.ErrInvalidCredentials)
	verifier.On("Identity", mock.Anything, alice.ID).Return(alice, nil)

	sessions := repository.NewMemorySessionRepository()
	revoked := repository.NewMemoryRevocationStore(clock.Now)
	t.Cleanup(revoked.Close)

	dispatcher := events.NewInMemoryDispatcher()
	publisher := newRecordingPublisher()
	notifier := NewNotificationService(dispatcher, publisher, nil)
	notifier.RegisterHandlers()

	svc := NewAuthService(cfg, AuthDependencies{
		Verifier:    verifier,
		Tokens:      tokens,
		Sessions:    sessions,
		Revocations: revoked,
		Dispatcher:  dispatcher,
		Clock:       clock.Now,
	})

	return &harness{
		svc:       svc,
		clock:     clock,
		sessions:  sessions,
		revoked:   revoked,
		verifier:  verifier,
		publisher: publisher,
		notifier:  notifier,
	}
}

func (h *harness) login(t *testing.T) *LoginResult {
	t.Helper()
	res, err := h.svc.Login(context.Background(), Credentials{Identifier: "alice", Password: "correct horse"})
	require.NoError(t, err)
	return res
}

func TestLoginIssuesBoundSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res := h.login(t)
	assert.Equal(t, alice.ID, res.Identity.ID)
	assert.Len(t, res.Session.Token, 43)
	assert.NotEqual(t, res.Session.ID, res.Session.Token)

	stored, err := h.sessions.Get(ctx, res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, h.clock.Now(), stored.LastHeartbeatAt)

	claims, err := h.svc.Validate(ctx, res.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, res.Session.ID, claims.SessionID)
	assert.Equal(t, stored.AccessTokenID, claims.TokenID)

	second := h.login(t)
	assert.NotEqual(t, res.Session.Token, second.Session.Token)
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Login(context.Background(), Credentials{Identifier: "alice", Password: "wrong"})
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	_, err2 := h.svc.Login(context.Background(), Credentials{Identifier: "nobody", Password: "x"})
	assert.ErrorIs(t, err2, auth.ErrInvalidCredentials)
	assert.Equal(t, err.Error(), err2.Error())
}

// Login, use, logout; the old token is rejected immediately.
func TestLogoutInvalidatesTokensImmediately(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.login(t)

	_, err := h.svc.Validate(ctx, res.Tokens.AccessToken)
	require.NoError(t, err)

	require.NoError(t, h.svc.Logout(ctx, LogoutInput{
		AccessToken:  res.Tokens.AccessToken,
		SessionToken: res.Session.Token,
	}))

	_, err = h.svc.Validate(ctx, res.Tokens.AccessToken)
	assert.ErrorIs(t, err, auth.ErrRevokedToken)

	_, err = h.svc.Refresh(ctx, res.Tokens.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrRevokedToken)

	_, err = h.svc.ValidateSessionToken(ctx, res.Session.Token)
	assert.ErrorIs(t, err, auth.ErrSessionExpired)

	stored, err := h.sessions.Get(ctx, res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonExplicitLogout, stored.RevokedReason)
	assert.Contains(t, h.publisher.disconnected, "session:"+res.Session.ID)

	pushed := h.publisher.sessionMessages(res.Session.ID)
	require.Len(t, pushed, 1)
	assert.Equal(t, MessageForceLogout, pushed[0].Type)
	assert.Equal(t, ForceLogoutMessage{
		Message: "You have been logged out.",
		Reason:  string(domain.ReasonExplicitLogout),
	}, pushed[0].Payload)
}

func TestLogoutIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.login(t)
	in := LogoutInput{AccessToken: res.Tokens.AccessToken, RefreshToken: res.Tokens.RefreshToken}

	require.NoError(t, h.svc.Logout(ctx, in))
	require.NoError(t, h.svc.Logout(ctx, in))

	h.clock.Advance(time.Hour)
	require.NoError(t, h.svc.Logout(ctx, in), "expired access token is still accepted for logout")

	assert.Len(t, h.publisher.disconnected, 1, "only the first logout announces the revocation")
}

func TestLogoutRequiresSignatureValidToken(t *testing.T) {
	h := newHarness(t)

	assert.ErrorIs(t, h.svc.Logout(context.Background(), LogoutInput{}), auth.ErrMissingToken)
	assert.ErrorIs(t, h.svc.Logout(context.Background(), LogoutInput{AccessToken: "garbage"}), auth.ErrMalformedToken)
}

func TestLogoutIgnoresForeignSessionToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bob := &domain.Identity{ID: "user-bob", Roles: []string{auth.RoleResident}}
	h.verifier.ExpectedCalls = nil
	h.verifier.On("Verify", mock.Anything, "alice", "pw").Return(alice, nil)
	h.verifier.On("Verify", mock.Anything, "bob", "pw").Return(bob, nil)

	a, err := h.svc.Login(ctx, Credentials{Identifier: "alice", Password: "pw"})
	require.NoError(t, err)
	b, err := h.svc.Login(ctx, Credentials{Identifier: "bob", Password: "pw"})
	require.NoError(t, err)

	require.NoError(t, h.svc.Logout(ctx, LogoutInput{AccessToken: a.Tokens.AccessToken, SessionToken: b.Session.Token}))

	_, err = h.svc.Validate(ctx, b.Tokens.AccessToken)
	assert.NoError(t, err)
}

// An administrator force-logs-out a user who has two devices connected.
func TestForceLogoutRevokesEverySession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	laptop := h.login(t)
	phone := h.login(t)

	n, err := h.svc.ForceLogout(ctx, alice.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, res := range []*LoginResult{laptop, phone} {
		_, err := h.svc.Validate(ctx, res.Tokens.AccessToken)
		assert.ErrorIs(t, err, auth.ErrRevokedToken)
		_, err = h.svc.Refresh(ctx, res.Tokens.RefreshToken)
		assert.ErrorIs(t, err, auth.ErrRevokedToken)

		stored, err := h.sessions.Get(ctx, res.Session.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.ReasonForcedLogout, stored.RevokedReason)
	}

	msgs := h.publisher.messagesFor(alice.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, MessageForceLogout, msgs[0].Type)
	assert.Equal(t, ForceLogoutMessage{Message: "Your session has been terminated by an administrator."}, msgs[0].Payload)
	assert.Contains(t, h.publisher.disconnected, "user:"+alice.ID)

	n, err = h.svc.ForceLogout(ctx, alice.ID, "again")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, h.publisher.messagesFor(alice.ID), 2, "the notice is pushed even when nothing was active")
}

// Access token expires during an idle period; refresh still works and the
// rotated refresh token cannot be used twice.
func TestRefreshAfterAccessExpiry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.login(t)

	h.clock.Advance(15 * time.Minute)
	_, err := h.svc.Validate(ctx, res.Tokens.AccessToken)
	assert.ErrorIs(t, err, auth.ErrExpiredToken)

	pair, err := h.svc.Refresh(ctx, res.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, res.Tokens.AccessToken, pair.AccessToken)

	claims, err := h.svc.Validate(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, res.Session.ID, claims.SessionID)

	_, err = h.svc.Refresh(ctx, res.Tokens.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrRefreshConflict, "within the grace window a replay is treated as a lost race")

	h.clock.Advance(11 * time.Second)
	_, err = h.svc.Refresh(ctx, res.Tokens.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrRevokedToken)

	_, err = h.svc.Validate(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, auth.ErrRevokedToken, "reuse revokes the whole session")

	stored, err := h.sessions.Get(ctx, res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonRefreshReuse, stored.RevokedReason)

	pushed := h.publisher.sessionMessages(res.Session.ID)
	require.Len(t, pushed, 1)
	assert.Equal(t, MessageForceLogout, pushed[0].Type)
	assert.Equal(t, string(domain.ReasonRefreshReuse), pushed[0].Payload.(ForceLogoutMessage).Reason)
}

func TestRefreshBlacklistsPreviousAccessToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.login(t)

	pair, err := h.svc.Refresh(ctx, res.Tokens.RefreshToken)
	require.NoError(t, err)

	_, err = h.svc.Validate(ctx, res.Tokens.AccessToken)
	assert.ErrorIs(t, err, auth.ErrRevokedToken)

	next, err := h.svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	_, err = h.svc.Validate(ctx, next.AccessToken)
	assert.NoError(t, err)
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	h := newHarness(t)
	res := h.login(t)

	_, err := h.svc.Refresh(context.Background(), res.Tokens.AccessToken)
	assert.ErrorIs(t, err, auth.ErrMalformedToken)
}

func TestConcurrentRefreshYieldsOneValidPair(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.login(t)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes []*domain.TokenPair
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pair, err := h.svc.Refresh(ctx, res.Tokens.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes = append(successes, pair)
			case errors.Is(err, auth.ErrRefreshConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Len(t, successes, 1)
	assert.Equal(t, workers-1, conflicts)

	_, err := h.svc.Validate(ctx, successes[0].AccessToken)
	assert.NoError(t, err)
	_, err = h.svc.Validate(ctx, res.Tokens.AccessToken)
	assert.ErrorIs(t, err, auth.ErrRevokedToken)
	assert.Zero(t, h.svc.locks.size())
}

// Missing token on heartbeat, then the session goes stale without heartbeats.
func TestHeartbeatAndIdleTimeout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.login(t)

	_, err := h.svc.Heartbeat(ctx, "")
	assert.ErrorIs(t, err, auth.ErrMissingToken)

	h.clock.Advance(10 * time.Minute)
	hb, err := h.svc.Heartbeat(ctx, res.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, res.Session.ID, hb.SessionID)
	assert.Equal(t, 30*time.Minute, hb.IdleTimeout)

	stored, err := h.sessions.Get(ctx, res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, h.clock.Now(), stored.LastHeartbeatAt)

	h.clock.Advance(30 * time.Minute)
	_, err = h.svc.ValidateSessionToken(ctx, res.Session.Token)
	assert.ErrorIs(t, err, auth.ErrSessionExpired)

	_, err = h.svc.Refresh(ctx, res.Tokens.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrSessionExpired)
}

func TestValidateSessionToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.login(t)

	_, err := h.svc.ValidateSessionToken(ctx, "")
	assert.ErrorIs(t, err, auth.ErrMissingToken)

	_, err = h.svc.ValidateSessionToken(ctx, "unknown")
	assert.ErrorIs(t, err, auth.ErrSessionExpired)

	before, err := h.sessions.Get(ctx, res.Session.ID)
	require.NoError(t, err)
	h.clock.Advance(time.Minute)

	session, err := h.svc.ValidateSessionToken(ctx, res.Session.Token)
	require.NoError(t, err)
	assert.Equal(t, res.Session.ID, session.ID)
	assert.Equal(t, before.LastHeartbeatAt, session.LastHeartbeatAt, "session token checks do not count as activity")
}

func TestStoreFailureDeniesAccess(t *testing.T) {
	h := newHarness(t)
	res := h.login(t)
	h.svc.revoked = failingRevocations{}

	_, err := h.svc.Validate(context.Background(), res.Tokens.AccessToken)
	assert.ErrorIs(t, err, auth.ErrStoreUnavailable)

	err = h.svc.Logout(context.Background(), LogoutInput{AccessToken: res.Tokens.AccessToken})
	assert.ErrorIs(t, err, auth.ErrStoreUnavailable)
}

func TestProfileAndListSessions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.login(t)
	h.clock.Advance(time.Second)
	second := h.login(t)

	claims, err := h.svc.Validate(ctx, res.Tokens.AccessToken)
	require.NoError(t, err)
	identity, err := h.svc.Profile(ctx, claims)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, identity.ID)

	sessions, err := h.svc.ListSessions(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, second.Session.ID, sessions[0].ID)
}

func TestAnnounceConfigChange(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.notifier.AnnounceConfigChange(context.Background(), []string{"currency"}))
	require.Len(t, h.publisher.all, 1)
	assert.Equal(t, Message{Type: MessageConfigUpdated, Payload: ConfigUpdatedMessage{Keys: []string{"currency"}}}, h.publisher.all[0])
}
