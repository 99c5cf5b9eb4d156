package app

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
	"github.com/vladislavdragonenkov/payrecon/internal/storage/memory"
	"github.com/vladislavdragonenkov/payrecon/internal/storage/postgres"
)

// runtimeDependencies — репозитории и транзакционный store, выбранные
// по драйверу хранилища.
type runtimeDependencies struct {
	orders   domain.OrderRepository
	ledger   domain.LedgerRepository
	effects  domain.EffectRepository
	timeline domain.TimelineRepository
	store    domain.ReconStore

	// ping проверяет доступность хранилища (nil для memory).
	ping func(ctx context.Context) error
	// close освобождает ресурсы хранилища (nil для memory).
	close func() error
}

// initRuntimeDependencies создаёт хранилище по cfg.StorageDriver.
// Memory-хранилище не требует настроек; postgres требует DSN и при
// PostgresAutoMigrate применяет миграции перед стартом.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	if driver == "" {
		driver = StorageDriverMemory
	}

	switch driver {
	case StorageDriverMemory:
		orders := memory.NewOrderRepository()
		ledger := memory.NewLedgerRepository()
		effects := memory.NewEffectRepository()
		timeline := memory.NewTimelineRepository()
		return &runtimeDependencies{
			orders:   orders,
			ledger:   ledger,
			effects:  effects,
			timeline: timeline,
			store:    memory.NewReconStore(orders, ledger, effects, timeline),
		}, nil

	case StorageDriverPostgres:
		dsn := strings.TrimSpace(cfg.PostgresDSN)
		if dsn == "" {
			return nil, fmt.Errorf("postgres storage requires a DSN")
		}

		store, err := postgres.Open(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}

		return &runtimeDependencies{
			orders:   postgres.NewOrderRepository(store),
			ledger:   postgres.NewLedgerRepository(store),
			effects:  postgres.NewEffectRepository(store),
			timeline: postgres.NewTimelineRepository(store),
			store:    postgres.NewReconStore(store),
			ping:     store.Ping,
			close:    store.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", driver)
	}
}

// shutdownStorage закрывает хранилище, если драйвер этого требует.
func shutdownStorage(deps *runtimeDependencies, logger *log.Entry) {
	if deps == nil || deps.close == nil {
		return
	}
	if err := deps.close(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
	}
}
