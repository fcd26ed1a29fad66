package checkpoint

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/internal/config"
	"github.com/stemsi/exstem-client/internal/database"
)

// ownedStore releases the connection Open created when the store is closed.
type ownedStore struct {
	Store
	release func()
}

func (o ownedStore) Close() error {
	o.release()
	return nil
}

// Open builds the backend selected by cfg.CheckpointBackend.
// The returned store owns any connection it opened; Close releases it.
func Open(ctx context.Context, cfg *config.Config, log zerolog.Logger) (Store, error) {
	switch cfg.CheckpointBackend {
	case config.CheckpointMemory:
		return NewMemoryStore(), nil

	case config.CheckpointSQLite:
		store, err := NewSQLiteStore(ctx, cfg.CheckpointSQLitePath)
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", cfg.CheckpointSQLitePath).Msg("SQLite checkpoint store ready")
		return store, nil

	case config.CheckpointRedis:
		rdb, err := database.NewRedisClient(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		return ownedStore{
			Store:   NewRedisStore(rdb, cfg.CheckpointTTL),
			release: func() { rdb.Close() },
		}, nil

	case config.CheckpointPostgres:
		pool, err := database.NewPostgresPool(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		return ownedStore{
			Store:   NewPostgresStore(pool),
			release: pool.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.CheckpointBackend)
	}
}
