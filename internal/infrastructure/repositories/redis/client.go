package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ClientOptions configures the catalog connection.
type ClientOptions struct {
	Address  string
	Password string
	DB       int
	PoolSize int
	// ConnectTimeout bounds the initial ping and schema migration.
	ConnectTimeout time.Duration
}

// Connect opens a pooled client, verifies it answers and brings the catalog
// schema up to date. The client is closed again on any failure.
func Connect(opts ClientOptions, logger *zap.SugaredLogger) (*redis.Client, error) {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	client := redis.NewClient(&redis.Options{
		Addr:        opts.Address,
		Password:    opts.Password,
		DB:          opts.DB,
		PoolSize:    opts.PoolSize,
		DialTimeout: opts.ConnectTimeout,
		// catalog calls happen once per recording; short I/O timeouts keep a
		// dead server from stalling Stop
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s unreachable: %w", opts.Address, err)
	}
	if err := Migrate(ctx, client, logger); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("catalog migration failed: %w", err)
	}

	logger.Infow("recording catalog connected", "address", opts.Address, "db", opts.DB)
	return client, nil
}
