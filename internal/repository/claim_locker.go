package repository

import (
	"context"
	"errors"
	"time"

	domrepo "FinSignal/internal/domain/repository"
	"FinSignal/pkg/cache"
)

const claimKeyPrefix = "claim"

// CacheClaimLocker namespaces labeling claims inside a cache.Service.
// With Redis behind it claims hold across processes.
type CacheClaimLocker struct {
	c cache.Service
}

func NewCacheClaimLocker(c cache.Service) *CacheClaimLocker {
	return &CacheClaimLocker{c: c}
}

var _ domrepo.ClaimLocker = (*CacheClaimLocker)(nil)

func (l *CacheClaimLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.c.TryLock(ctx, cache.GenerateKey(claimKeyPrefix, key), ttl)
}

// Unlock releases a claim. A claim that already expired is not an error.
func (l *CacheClaimLocker) Unlock(ctx context.Context, key string) error {
	err := l.c.Unlock(ctx, cache.GenerateKey(claimKeyPrefix, key))
	if errors.Is(err, cache.ErrNotOwner) {
		return nil
	}
	return err
}
