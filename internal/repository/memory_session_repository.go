package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dormledger/auth-service/internal/domain"
)

// MemorySessionRepository is a single-process session registry. Writes and
// reads share one mutex, so a revocation is visible to the very next read.
type MemorySessionRepository struct {
	mu      sync.RWMutex
	byID    map[string]*domain.Session
	byToken map[string]string
}

// NewMemorySessionRepository returns an empty registry.
func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{
		byID:    make(map[string]*domain.Session),
		byToken: make(map[string]string),
	}
}

func (r *MemorySessionRepository) Create(_ context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byID[s.ID] = s.Clone()
	r.byToken[s.Token] = s.ID
	return nil
}

func (r *MemorySessionRepository) Get(_ context.Context, id string) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.byID[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.Clone(), nil
}

func (r *MemorySessionRepository) GetByToken(_ context.Context, token string) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byToken[token]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return r.byID[id].Clone(), nil
}

func (r *MemorySessionRepository) Touch(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.byID[id]; ok && !s.Revoked && at.After(s.LastHeartbeatAt) {
		s.LastHeartbeatAt = at
	}
	return nil
}

func (r *MemorySessionRepository) Revoke(_ context.Context, id string, reason domain.RevocationReason, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.byID[id]; ok {
		revoke(s, reason, at)
	}
	return nil
}

func (r *MemorySessionRepository) IsActive(_ context.Context, id string, now time.Time, idleTimeout time.Duration) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.byID[id].ActiveAt(now, idleTimeout), nil
}

func (r *MemorySessionRepository) ListByUser(_ context.Context, userID string) ([]*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Session
	for _, s := range r.byID {
		if s.UserID == userID {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemorySessionRepository) Rotate(_ context.Context, id, expectedRefreshID string, next domain.TokenBinding, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byID[id]
	if !ok || s.Revoked || s.RefreshTokenID != expectedRefreshID {
		return ErrRotationConflict
	}
	s.TokenBinding = next
	s.PrevRefreshTokenID = expectedRefreshID
	rotatedAt := at
	s.RotatedAt = &rotatedAt
	if at.After(s.LastHeartbeatAt) {
		s.LastHeartbeatAt = at
	}
	return nil
}

func (r *MemorySessionRepository) RevokeStale(_ context.Context, cutoff, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, s := range r.byID {
		if !s.Revoked && !s.LastHeartbeatAt.After(cutoff) {
			revoke(s, domain.ReasonExpired, at)
			n++
		}
	}
	return n, nil
}

func (r *MemorySessionRepository) PurgeRevoked(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, s := range r.byID {
		if s.Revoked && s.RevokedAt != nil && s.RevokedAt.Before(before) {
			delete(r.byID, id)
			delete(r.byToken, s.Token)
			n++
		}
	}
	return n, nil
}

func revoke(s *domain.Session, reason domain.RevocationReason, at time.Time) {
	if s.Revoked {
		return
	}
	revokedAt := at
	s.Revoked = true
	s.RevokedReason = reason
	s.RevokedAt = &revokedAt
}
