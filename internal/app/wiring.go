package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"waitlist/api/internal/config"
	"waitlist/api/internal/postgrest"
	"waitlist/api/internal/registry"
	"waitlist/api/internal/session"
	"waitlist/api/internal/store"
)

// OpenBackend connects the configured remote store. With migrate set the
// Postgres schema is brought up to date first. The returned close func is
// never nil.
func OpenBackend(ctx context.Context, cfg config.Config, log logrus.FieldLogger, migrate bool) (store.Backend, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendSupabase:
		client, err := postgrest.New(cfg.SupabaseURL, cfg.SupabaseKey, &http.Client{Timeout: 10 * time.Second})
		if err != nil {
			return nil, func() {}, err
		}
		log.WithField("url", cfg.SupabaseURL).Info("store: using supabase backend")
		return store.NewSupabaseStore(client), func() {}, nil
	default:
		db, err := store.Open(ctx, cfg.DatabaseURL, store.DefaultPoolOptions())
		if err != nil {
			return nil, func() {}, fmt.Errorf("database connection failed: %w", err)
		}
		if migrate {
			applied, err := store.ApplyMigrations(ctx, db, os.DirFS(cfg.MigrationsDir), log)
			if err != nil {
				_ = db.Close()
				return nil, func() {}, fmt.Errorf("migrations failed: %w", err)
			}
			if len(applied) > 0 {
				log.WithField("versions", applied).Info("store: migrations applied")
			}
		}
		return store.NewPostgresStore(db), func() { _ = db.Close() }, nil
	}
}

// OpenSessions picks Redis when REDIS_URL is set, otherwise process memory.
// The registry's local copy lives next to the sessions.
func OpenSessions(cfg config.Config, log logrus.FieldLogger) (session.Store, registry.LocalStore, error) {
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Info("session: using in-memory store")
		return session.NewMemoryStore(), registry.NewMemoryStore(), nil
	}
	redisStore, err := session.NewRedisStore(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("redis connection failed: %w", err)
	}
	log.Info("session: using redis store")
	return redisStore, registry.NewRedisLocalStore(redisStore.Client(), registry.DefaultLocalKey), nil
}
