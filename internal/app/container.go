package app

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-pos/internal/adjustment"
	"github.com/odyssey-erp/odyssey-pos/internal/catalog"
	"github.com/odyssey-erp/odyssey-pos/internal/ledger"
	"github.com/odyssey-erp/odyssey-pos/internal/observability"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/db"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/lock"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
	"github.com/odyssey-erp/odyssey-pos/internal/transfer"
	"github.com/odyssey-erp/odyssey-pos/internal/units"
	"github.com/odyssey-erp/odyssey-pos/jobs"
)

// Container holds the wired services shared by the server and the operator CLI.
type Container struct {
	Config      *Config
	Logger      *slog.Logger
	Pool        *pgxpool.Pool
	Redis       *redis.Client
	Metrics     *observability.Metrics
	Jobs        *jobs.Client
	Idempotency *shared.IdempotencyStore

	Units       *units.Service
	Catalog     *catalog.Service
	Ledger      *ledger.Service
	Transfers   *transfer.Service
	Adjustments *adjustment.Service
}

// NewContainer connects to Postgres and Redis and builds every service. A Redis outage is
// logged and tolerated: the catalog cache falls back to Postgres and row locks stay authoritative.
func NewContainer(ctx context.Context, cfg *Config, logger *slog.Logger) (*Container, error) {
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return nil, err
	}
	rdb, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}

	c := &Container{
		Config:      cfg,
		Logger:      logger,
		Pool:        pool,
		Redis:       rdb,
		Metrics:     observability.NewMetrics(),
		Jobs:        jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr}),
		Idempotency: shared.NewIdempotencyStore(pool),
	}
	auditLogger := shared.NewAuditLogger(pool)

	c.Units = units.NewService(units.NewRepository(pool))
	c.Catalog = catalog.NewService(catalog.NewRepository(pool), catalog.NewCache(rdb, cfg.CatalogCacheTTL), auditLogger, logger)
	c.Ledger = ledger.NewService(ledger.NewRepository(pool), c.Catalog)

	var locker *lock.Locker
	if cfg.LedgerRedisLock {
		locker = lock.New(rdb, lock.Options{TTL: cfg.LedgerLockTTL}, logger)
	}

	c.Transfers = transfer.NewService(transfer.Dependencies{
		Repo:        transfer.NewRepository(pool),
		Idempotency: c.Idempotency,
		Locker:      locker,
		Audit:       auditLogger,
		Alerts:      c.Jobs,
		Metrics:     c.Metrics,
		Logger:      logger,
	}, transfer.ServiceConfig{MaxRetries: cfg.TxMaxRetries})

	c.Adjustments = adjustment.NewService(adjustment.Dependencies{
		Repo:        adjustment.NewRepository(pool),
		Idempotency: c.Idempotency,
		Locker:      locker,
		Audit:       auditLogger,
		Alerts:      c.Jobs,
		Metrics:     c.Metrics,
		Logger:      logger,
	}, adjustment.ServiceConfig{MaxRetries: cfg.TxMaxRetries, ZeroGapPolicy: cfg.ZeroGapPolicy()})

	return c, nil
}

// Router builds the HTTP handler for every module.
func (c *Container) Router(inspector jobs.QueueInspector) http.Handler {
	return NewRouter(RouterParams{
		Logger:            c.Logger,
		Config:            c.Config,
		Metrics:           c.Metrics,
		UnitsHandler:      units.NewHandler(c.Logger, c.Units),
		CatalogHandler:    catalog.NewHandler(c.Logger, c.Catalog),
		LedgerHandler:     ledger.NewHandler(c.Logger, c.Ledger),
		TransferHandler:   transfer.NewHandler(c.Logger, c.Transfers),
		AdjustmentHandler: adjustment.NewHandler(c.Logger, c.Adjustments),
		JobHandler:        jobs.NewHandler(inspector, c.Logger),
	})
}

// Close releases connections.
func (c *Container) Close() {
	if err := c.Jobs.Close(); err != nil {
		c.Logger.Warn("jobs client close", slog.Any("error", err))
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.Logger.Warn("redis close", slog.Any("error", err))
		}
	}
	c.Pool.Close()
}
