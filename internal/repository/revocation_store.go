package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/redis/go-redis/v9"
)

// RedisRevocationStore blacklists token ids in Redis. Entries carry the
// token's remaining lifetime as TTL, so Redis drops them on its own once the
// token could no longer verify anyway.
type RedisRevocationStore struct {
	client redis.Cmdable
	prefix string
	now    func() time.Time
}

// NewRedisRevocationStore creates a store writing keys under prefix.
func NewRedisRevocationStore(client redis.Cmdable, prefix string, now func() time.Time) *RedisRevocationStore {
	if now == nil {
		now = time.Now
	}
	return &RedisRevocationStore{client: client, prefix: prefix, now: now}
}

func (s *RedisRevocationStore) key(tokenID string) string {
	return fmt.Sprintf("%s:revoked:%s", s.prefix, tokenID)
}

// Add inserts the token id; repeated inserts only refresh the entry.
func (s *RedisRevocationStore) Add(ctx context.Context, tokenID string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, s.key(tokenID), expiresAt.Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("revoke token in redis: %w", err)
	}
	return nil
}

func (s *RedisRevocationStore) Contains(ctx context.Context, tokenID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("check revoked token in redis: %w", err)
	}
	return n > 0, nil
}

// PurgeExpired is a no-op: Redis expires the keys itself.
func (s *RedisRevocationStore) PurgeExpired(context.Context) (int, error) {
	return 0, nil
}

// MemoryRevocationStore implements the blacklist on top of ttlcache.
type MemoryRevocationStore struct {
	cache *ttlcache.Cache[string, time.Time]
	now   func() time.Time
}

// NewMemoryRevocationStore creates an in-process store and starts the
// cache's own expiry loop. Call Close to stop it.
func NewMemoryRevocationStore(now func() time.Time) *MemoryRevocationStore {
	if now == nil {
		now = time.Now
	}
	cache := ttlcache.New[string, time.Time](
		ttlcache.WithDisableTouchOnHit[string, time.Time](),
	)
	go cache.Start()

	return &MemoryRevocationStore{cache: cache, now: now}
}

func (s *MemoryRevocationStore) Add(_ context.Context, tokenID string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	if item := s.cache.Get(tokenID); item != nil && !item.Value().Before(expiresAt) {
		return nil
	}
	s.cache.Set(tokenID, expiresAt, ttl)
	return nil
}

func (s *MemoryRevocationStore) Contains(_ context.Context, tokenID string) (bool, error) {
	item := s.cache.Get(tokenID)
	return item != nil && s.now().Before(item.Value()), nil
}

// PurgeExpired removes entries whose natural expiry has passed.
func (s *MemoryRevocationStore) PurgeExpired(context.Context) (int, error) {
	now := s.now()
	purged := 0
	for key, item := range s.cache.Items() {
		if !now.Before(item.Value()) {
			s.cache.Delete(key)
			purged++
		}
	}
	s.cache.DeleteExpired()
	return purged, nil
}

// Len reports the number of tracked entries.
func (s *MemoryRevocationStore) Len() int {
	return s.cache.Len()
}

// Close stops the expiry loop.
func (s *MemoryRevocationStore) Close() {
	s.cache.Stop()
}
