package cache

import (
	"github.com/orbitpanel/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// NewIdempotencyStore creates a Redis-backed idempotency store, falling back
// to the in-memory implementation when Redis is unreachable.
func NewIdempotencyStore(cfg RedisConfig, logger *zap.Logger) shared.IdempotencyStore {
	store, err := NewRedisIdempotencyStore(cfg)
	if err != nil {
		logger.Warn("Redis unavailable, using in-memory idempotency store",
			zap.String("host", cfg.Host),
			zap.Error(err),
		)
		return NewInMemoryIdempotencyStore()
	}
	logger.Info("Redis idempotency store initialized", zap.String("host", cfg.Host))
	return store
}
