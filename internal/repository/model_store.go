package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"FinSignal/internal/domain/models"
	domrepo "FinSignal/internal/domain/repository"
	"FinSignal/pkg/cache"
)

const modelKeyPrefix = "model"

// CacheModelStore keeps the latest trained model per symbol under model:<SYMBOL>.
type CacheModelStore struct {
	c   cache.Service
	ttl time.Duration
}

// NewCacheModelStore stores models with ttl; zero keeps them until replaced.
func NewCacheModelStore(c cache.Service, ttl time.Duration) *CacheModelStore {
	return &CacheModelStore{c: c, ttl: ttl}
}

var _ domrepo.ModelStore = (*CacheModelStore)(nil)

func ModelKey(symbol string) string {
	return cache.GenerateKey(modelKeyPrefix, strings.ToUpper(symbol))
}

func (s *CacheModelStore) Save(ctx context.Context, m *models.TrainedModel) error {
	if m == nil || m.Symbol == "" {
		return fmt.Errorf("save model: symbol required: %w", models.ErrInvalidConfiguration)
	}
	if err := s.c.Set(ctx, ModelKey(m.Symbol), m, s.ttl); err != nil {
		return fmt.Errorf("save model %s: %w", m.Symbol, err)
	}
	return nil
}

func (s *CacheModelStore) Load(ctx context.Context, symbol string) (*models.TrainedModel, error) {
	m, err := cache.GetTyped[models.TrainedModel](ctx, s.c, ModelKey(symbol))
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, fmt.Errorf("load model %s: %w", symbol, models.ErrModelNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", symbol, err)
	}
	return &m, nil
}
