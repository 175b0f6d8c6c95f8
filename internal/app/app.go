package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/alertmed/scheduling/internal/appointment"
	"github.com/alertmed/scheduling/internal/config"
	"github.com/alertmed/scheduling/internal/db"
	redisclient "github.com/alertmed/scheduling/internal/redis"
)

// App holds the wired scheduling service and the connections behind it.
// PgPool and Redis are nil when the corresponding backend is not configured.
type App struct {
	Service *appointment.Service
	Repo    appointment.Repository
	PgPool  *pgxpool.Pool
	Redis   *redis.Client

	log     zerolog.Logger
	closers []func()
}

// New connects the configured store, lock backend, notification delivery and
// mailer. Close must be called when done, also after a failed New.
func New(ctx context.Context, cfg config.Config, log zerolog.Logger) (*App, error) {
	a := &App{log: log}

	switch cfg.StoreDriver {
	case config.StoreMemory:
		log.Warn().Msg("using in-memory store, data is lost on restart")
		a.Repo = appointment.NewMemoryRepository()
	default:
		pgCtx, cancelPg := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
		cancelPg()
		if err != nil {
			return a, fmt.Errorf("postgres connection: %w", err)
		}
		a.PgPool = pool
		a.closers = append(a.closers, pool.Close)
		log.Info().Msg("connected to Postgres")

		if err := db.Migrate(ctx, pool); err != nil {
			return a, fmt.Errorf("migrate: %w", err)
		}
		a.Repo = appointment.NewPgRepository(pool)
	}

	var locker redisclient.Locker
	var deliverer appointment.Deliverer = appointment.NewStoreDeliverer(a.Repo)

	if cfg.RedisAddr != "" {
		rdb, err := redisclient.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			return a, fmt.Errorf("redis connection: %w", err)
		}
		a.Redis = rdb
		a.closers = append(a.closers, func() {
			if err := rdb.Close(); err != nil {
				log.Error().Err(err).Msg("error closing redis")
			}
		})
		log.Info().Msg("connected to Redis")

		locker = redisclient.NewRedisDoctorLocker(rdb, cfg.LockTTL, cfg.LockWait)
		deliverer = appointment.NewPublishingDeliverer(deliverer, redisclient.NewPublisher(rdb), log)
	} else {
		log.Warn().Msg("REDIS_ADDR not set, doctor locks are process local")
		locker = redisclient.NewLocalLocker()
	}

	var mailer appointment.Mailer
	if cfg.EmailAPIURL != "" {
		mailer = appointment.NewHTTPMailer(cfg.EmailAPIURL, cfg.EmailAPIKey, log)
	} else {
		mailer = appointment.NewLogMailer(log)
	}

	a.Service = appointment.NewService(a.Repo, locker, deliverer, mailer, cfg, log)
	return a, nil
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
