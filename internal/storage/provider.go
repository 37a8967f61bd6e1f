package storage

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/totem-tech/messaging/internal/config"
)

// Provider opens collection stores against the configured backend and owns
// the shared client connections.
type Provider struct {
	cfg    *config.StorageConfig
	logger *zap.Logger
	redis  *redis.Client
	pg     *pgxpool.Pool
}

// NewProvider connects to the configured backend. For the file backend this
// only validates the directory; collection files are created lazily.
func NewProvider(cfg *config.StorageConfig, logger *zap.Logger) (*Provider, error) {
	p := &Provider{cfg: cfg, logger: logger}

	switch cfg.Backend {
	case config.BackendFile:
		// Nothing to connect; FileStore creates the directory on open.
	case config.BackendRedis:
		client, err := NewRedisClient(&cfg.Redis)
		if err != nil {
			return nil, err
		}
		p.redis = client
	case config.BackendPostgres:
		pool, err := NewPostgresPool(&cfg.Postgres)
		if err != nil {
			return nil, err
		}
		p.pg = pool
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	return p, nil
}

// Open returns a store for the named collection.
func (p *Provider) Open(name string) (Store, error) {
	switch p.cfg.Backend {
	case config.BackendFile:
		policy := CacheAll
		if p.cfg.CachePolicy == config.ReadThrough {
			policy = ReadThrough
		}
		return NewFileStore(filepath.Join(p.cfg.Dir, name+".json"), policy, p.logger)
	case config.BackendRedis:
		return NewRedisStore(p.redis, name), nil
	case config.BackendPostgres:
		return NewPostgresStore(p.pg, name), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", p.cfg.Backend)
}

// Ping verifies the backend is reachable. The file backend is always
// reachable once the provider exists.
func (p *Provider) Ping(ctx context.Context) error {
	switch p.cfg.Backend {
	case config.BackendRedis:
		return p.redis.Ping(ctx).Err()
	case config.BackendPostgres:
		return p.pg.Ping(ctx)
	}
	return nil
}

// Close releases the shared backend connections.
func (p *Provider) Close() error {
	if p.redis != nil {
		if err := p.redis.Close(); err != nil {
			return err
		}
	}
	if p.pg != nil {
		p.pg.Close()
	}
	return nil
}
