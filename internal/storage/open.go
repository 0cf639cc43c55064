package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"ag2api-go/internal/config"
)

// Open builds the store selected by the settings, initializes it, and wraps
// it with instrumentation. The backend defaults to sqlite; setting
// STORE_BACKEND (or the matching connection string) switches it.
func Open(ctx context.Context, settings *config.Settings) (Store, error) {
	backend := strings.ToLower(strings.TrimSpace(settings.StoreBackend))
	if backend == "" {
		backend = "sqlite"
	}

	var (
		store Store
		err   error
	)
	switch backend {
	case "sqlite":
		store, err = NewSQLiteStore(settings.DBPath)
	case "postgres":
		if settings.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres backend selected but POSTGRES_DSN is empty")
		}
		store, err = NewPostgresStore(settings.PostgresDSN)
	case "redis":
		if settings.RedisURL == "" {
			return nil, fmt.Errorf("redis backend selected but REDIS_URL is empty")
		}
		store, err = NewRedisStore(settings.RedisURL)
	case "mongo", "mongodb":
		if settings.MongoURI == "" {
			return nil, fmt.Errorf("mongo backend selected but MONGO_URI is empty")
		}
		store, err = NewMongoStore(settings.MongoURI, settings.MongoDB)
	default:
		return nil, fmt.Errorf("unknown store backend %q", settings.StoreBackend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", backend, err)
	}

	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init %s store: %w", backend, err)
	}

	logrus.WithField("backend", backend).Info("storage ready")
	return WithInstrumentation(store), nil
}
