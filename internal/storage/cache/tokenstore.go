package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns ErrCacheMiss when the key is absent.
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// CachedTokenStore adds read-aside caching to any push.TokenStore.
// Every write invalidates the user's key so the next read goes to the store.
type CachedTokenStore struct {
	realStore push.TokenStore
	cache     CacheClient
	ttl       time.Duration
	logger    *slog.Logger
}

func NewCachedTokenStore(realStore push.TokenStore, cache CacheClient, ttl time.Duration, logger *slog.Logger) *CachedTokenStore {
	return &CachedTokenStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
		logger:    logger.With("component", "CachedTokenStore"),
	}
}

func (s *CachedTokenStore) LoadTokens(ctx context.Context, uid string) ([]push.DeviceToken, error) {
	key := cacheKey(uid)

	var cached []push.DeviceToken
	err := s.cache.Get(ctx, key, &cached)
	if err == nil {
		if cached == nil {
			cached = []push.DeviceToken{}
		}
		return cached, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		s.logger.Warn("Token cache read failed, falling back to store", "uid", uid, "err", err)
	}

	fresh, err := s.realStore.LoadTokens(ctx, uid)
	if err != nil {
		return nil, err
	}

	// Caching is an optimization; a failed Set still serves from the store.
	if err := s.cache.Set(ctx, key, fresh, s.ttl); err != nil {
		s.logger.Debug("Token cache write failed", "uid", uid, "err", err)
	}
	return fresh, nil
}

func (s *CachedTokenStore) PruneTokens(ctx context.Context, uid string, tokens []string) error {
	if err := s.realStore.PruneTokens(ctx, uid, tokens); err != nil {
		return err
	}
	return s.invalidate(ctx, uid)
}

func (s *CachedTokenStore) RegisterToken(ctx context.Context, uid string, token push.DeviceToken) error {
	if err := s.realStore.RegisterToken(ctx, uid, token); err != nil {
		return err
	}
	return s.invalidate(ctx, uid)
}

// UnregisterToken clears the cache even though the store write already
// succeeded, so a disabled device stops receiving immediately.
func (s *CachedTokenStore) UnregisterToken(ctx context.Context, uid string, token string) error {
	if err := s.realStore.UnregisterToken(ctx, uid, token); err != nil {
		return err
	}
	return s.invalidate(ctx, uid)
}

func (s *CachedTokenStore) invalidate(ctx context.Context, uid string) error {
	if err := s.cache.Del(ctx, cacheKey(uid)); err != nil {
		return fmt.Errorf("failed to invalidate token cache for %s: %w", uid, err)
	}
	return nil
}

func cacheKey(uid string) string {
	return fmt.Sprintf("push:tokens:%s", uid)
}
