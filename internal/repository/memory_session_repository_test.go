package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dormledger/auth-service/internal/domain"
)

func newSession(id, userID string, at time.Time) *domain.Session {
	return &domain.Session{
		ID:              id,
		Token:           "tok-" + id,
		UserID:          userID,
		Roles:           []string{"resident"},
		CreatedAt:       at,
		LastHeartbeatAt: at,
		TokenBinding: domain.TokenBinding{
			AccessTokenID:    "a-" + id,
			AccessExpiresAt:  at.Add(15 * time.Minute),
			RefreshTokenID:   "r-" + id,
			RefreshExpiresAt: at.Add(7 * 24 * time.Hour),
		},
	}
}

func TestMemorySessionRepositoryLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySessionRepository()
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	idle := 30 * time.Minute

	require.NoError(t, repo.Create(ctx, newSession("s1", "u1", start)))

	byToken, err := repo.GetByToken(ctx, "tok-s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", byToken.ID)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	active, err := repo.IsActive(ctx, "s1", start.Add(idle-time.Second), idle)
	require.NoError(t, err)
	assert.True(t, active)

	active, err = repo.IsActive(ctx, "s1", start.Add(idle), idle)
	require.NoError(t, err)
	assert.False(t, active, "idle window is exclusive")

	require.NoError(t, repo.Touch(ctx, "s1", start.Add(20*time.Minute)))
	active, err = repo.IsActive(ctx, "s1", start.Add(idle+time.Minute), idle)
	require.NoError(t, err)
	assert.True(t, active)

	require.NoError(t, repo.Revoke(ctx, "s1", domain.ReasonExplicitLogout, start.Add(21*time.Minute)))
	require.NoError(t, repo.Revoke(ctx, "s1", domain.ReasonForcedLogout, start.Add(22*time.Minute)))
	s, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, s.Revoked)
	assert.Equal(t, domain.ReasonExplicitLogout, s.RevokedReason)
	assert.Equal(t, start.Add(21*time.Minute), *s.RevokedAt)

	require.NoError(t, repo.Touch(ctx, "s1", start.Add(25*time.Minute)))
	s, err = repo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, start.Add(20*time.Minute), s.LastHeartbeatAt, "revoked sessions are not touched")

	active, err = repo.IsActive(ctx, "unknown", start, idle)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestMemorySessionRepositoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySessionRepository()
	require.NoError(t, repo.Create(ctx, newSession("s1", "u1", time.Now())))

	s, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	s.Revoked = true
	s.Roles[0] = "admin"

	fresh, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, fresh.Revoked)
	assert.Equal(t, []string{"resident"}, fresh.Roles)
}

func TestMemorySessionRepositoryRotate(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySessionRepository()
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Create(ctx, newSession("s1", "u1", start)))

	next := domain.TokenBinding{AccessTokenID: "a2", RefreshTokenID: "r2"}
	at := start.Add(time.Minute)
	require.NoError(t, repo.Rotate(ctx, "s1", "r-s1", next, at))

	s, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "r2", s.RefreshTokenID)
	assert.Equal(t, "r-s1", s.PrevRefreshTokenID)
	assert.Equal(t, at, *s.RotatedAt)
	assert.Equal(t, at, s.LastHeartbeatAt)

	err = repo.Rotate(ctx, "s1", "r-s1", domain.TokenBinding{RefreshTokenID: "r3"}, at)
	assert.ErrorIs(t, err, ErrRotationConflict)

	require.NoError(t, repo.Revoke(ctx, "s1", domain.ReasonExplicitLogout, at))
	err = repo.Rotate(ctx, "s1", "r2", domain.TokenBinding{RefreshTokenID: "r3"}, at)
	assert.ErrorIs(t, err, ErrRotationConflict)
}

func TestMemorySessionRepositorySweeps(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySessionRepository()
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, newSession("old", "u1", start)))
	require.NoError(t, repo.Create(ctx, newSession("fresh", "u1", start.Add(time.Hour))))

	n, err := repo.RevokeStale(ctx, start.Add(30*time.Minute), start.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	list, err := repo.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "fresh", list[0].ID)
	assert.Equal(t, domain.ReasonExpired, list[1].RevokedReason)

	n, err = repo.PurgeRevoked(ctx, start.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = repo.PurgeRevoked(ctx, start.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = repo.GetByToken(ctx, "tok-old")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
