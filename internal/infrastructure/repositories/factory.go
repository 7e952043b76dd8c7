package repositories

import (
	"context"
	"time"

	"micstream/internal/core/ports"
	"micstream/internal/infrastructure/repositories/memory"
	redisrepo "micstream/internal/infrastructure/repositories/redis"
	"micstream/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CatalogCacheTTL bounds how stale a cached Redis catalog read may be.
const CatalogCacheTTL = 30 * time.Second

// RepositoryFactory creates repositories with fallback support
type RepositoryFactory struct {
	useRedis    bool
	redisClient *redis.Client
	logger      *zap.SugaredLogger
	cached      []*CachedRecordingRepository
}

// NewRepositoryFactory connects to Redis when enabled and falls back to
// memory repositories when it is unreachable.
func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) *RepositoryFactory {
	factory := &RepositoryFactory{
		useRedis: cfg.Redis.Enabled,
		logger:   logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.Connect(redisrepo.ClientOptions{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}, logger)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory repositories",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis recording catalog")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory recording catalog")
	}

	return factory
}

// Backend names the catalog in use.
func (f *RepositoryFactory) Backend() string {
	if f.useRedis && f.redisClient != nil {
		return "redis"
	}
	return "memory"
}

// CreateRecordingRepository creates the recording catalog: Redis behind a
// read-through cache, or memory.
func (f *RepositoryFactory) CreateRecordingRepository() ports.RecordingRepository {
	if f.useRedis && f.redisClient != nil {
		repo := NewCachedRecordingRepository(redisrepo.NewRedisRecordingRepository(f.redisClient), CatalogCacheTTL)
		f.cached = append(f.cached, repo)
		return repo
	}
	return memory.NewMemoryRecordingRepository()
}

// Close stops catalog caches and closes the Redis connection if used
func (f *RepositoryFactory) Close() error {
	for _, repo := range f.cached {
		repo.Close()
	}
	f.cached = nil
	if f.redisClient != nil {
		return f.redisClient.Close()
	}
	return nil
}

// HealthCheck checks Redis connection health
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.useRedis && f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
