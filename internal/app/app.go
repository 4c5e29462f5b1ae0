// Package app assembles the store, catalog and workflow services from config.
// Both the server and the reconcile command start from here.
package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"ovotrack/server/internal/catalog"
	"ovotrack/server/internal/config"
	"ovotrack/server/internal/database"
	"ovotrack/server/internal/events"
	"ovotrack/server/internal/repository"
	"ovotrack/server/internal/services"
	"ovotrack/server/internal/utils"
)

// App holds the wired services
type App struct {
	Config         *config.Config
	Log            *logrus.Logger
	Store          repository.Store
	Catalog        *catalog.Catalog
	Ledger         *services.LedgerService
	Lots           *services.LotService
	Vouchers       *services.VoucherService
	Adjustments    *services.AdjustmentService
	Reconciliation *services.ReconciliationService

	redis *redis.Client
}

// New opens the configured store and builds every service. Events go to publisher.
func New(cfg *config.Config, log *logrus.Logger, publisher events.Publisher) (*App, error) {
	cat, err := catalog.New(cfg.Skus, cfg.DirtySkus, cfg.GramsPerUnit)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}

	store, err := openStore(cfg, log)
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Log: log, Store: store, Catalog: cat}

	var locker utils.Locker = utils.NewLocalLocker()
	if cfg.RedisURL != "" || len(cfg.RedisSentinelAddrs) > 0 {
		client, err := database.ConnectRedis(cfg.RedisURL, cfg.RedisSentinelAddrs, cfg.RedisMasterName, log)
		if err != nil {
			log.WithError(err).WithField("lock", "local").Warn("redis.unavailable")
		} else {
			a.redis = client
			locker = utils.NewRedisLocker(client)
		}
	}

	deps := services.Deps{
		Store:     store,
		Catalog:   cat,
		Publisher: publisher,
		Log:       log,
		Location:  cfg.Location(),
		BatchSize: cfg.ReconBatchSize,
	}
	a.Ledger = services.NewLedgerService(deps)
	a.Lots = services.NewLotService(deps, a.Ledger, cfg.WasteRounding)
	a.Vouchers = services.NewVoucherService(deps, a.Ledger, a.Lots)
	a.Adjustments = services.NewAdjustmentService(deps, a.Ledger)
	a.Reconciliation = services.NewReconciliationService(deps, a.Ledger, locker)
	return a, nil
}

func openStore(cfg *config.Config, log *logrus.Logger) (repository.Store, error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		db, err := database.ConnectPostgres(cfg.DatabaseURL, log)
		if err != nil {
			return nil, err
		}
		return repository.NewPostgresStore(db, cfg.StoreMaxRetries), nil
	case config.StoreBadger:
		db, err := database.OpenBadger(cfg.BadgerPath, cfg.BadgerInMemory, log)
		if err != nil {
			return nil, err
		}
		return repository.NewBadgerStore(db, cfg.StoreMaxRetries), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

// Ping checks the store with an empty read transaction
func (a *App) Ping(ctx context.Context) error {
	return a.Store.View(ctx, func(repository.Tx) error { return nil })
}

// Close releases the store and the redis client
func (a *App) Close() {
	if err := a.Store.Close(); err != nil {
		a.Log.WithError(err).Warn("store.close_failed")
	}
	if a.redis != nil {
		if err := database.CloseRedis(a.redis); err != nil {
			a.Log.WithError(err).Warn("redis.close_failed")
		}
	}
}
