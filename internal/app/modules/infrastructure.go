package modules

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"coffeeshop.io/coffeeshop/internal/config"
	"coffeeshop.io/coffeeshop/internal/deadletter"
	"coffeeshop.io/coffeeshop/internal/domain"
	"coffeeshop.io/coffeeshop/internal/eventstore"
	"coffeeshop.io/coffeeshop/internal/idempotency"
	"coffeeshop.io/coffeeshop/internal/infrastructure"
	"coffeeshop.io/coffeeshop/internal/pkg/logger"
	"coffeeshop.io/coffeeshop/internal/pkg/worker"
	"coffeeshop.io/coffeeshop/internal/projection"
	"coffeeshop.io/coffeeshop/internal/storage"
	"coffeeshop.io/coffeeshop/internal/upcast"
)

// Infrastructure holds shared cross-cutting dependencies for all modules.
// It is a provider, not a Module.
type Infrastructure struct {
	Config *config.Config
	// DB is nil with the memory driver.
	DB          *infrastructure.DatabaseClients
	RiverClient *river.Client[pgx.Tx]
	Pools       *worker.Pools

	Serializer *eventstore.Serializer
	Dispatcher *eventstore.Dispatcher
	Store      eventstore.Store
	Snapshots  eventstore.SnapshotStore
	Tx         storage.Transactor
	Documents  storage.DocumentStore
	Records    idempotency.RecordStore
	Tokens     projection.TokenStore
	Sequencer  *deadletter.Sequencer
}

// NewInfrastructure initializes pools, the serializer and the storage
// backends selected by cfg.Storage.Driver.
func NewInfrastructure(ctx context.Context, cfg *config.Config) (*Infrastructure, error) {
	skus, err := upcast.LoadSkuLookup(cfg.Upcast.SkuMappingPath)
	if err != nil {
		return nil, fmt.Errorf("load sku mappings: %w", err)
	}
	serializer, err := eventstore.NewSerializer(domain.Descriptors(), upcast.DefaultChain(skus))
	if err != nil {
		return nil, fmt.Errorf("init serializer: %w", err)
	}

	infra := &Infrastructure{
		Config:     cfg,
		Serializer: serializer,
		Dispatcher: eventstore.NewDispatcher(),
	}

	policy := deadletter.RetryPolicy{
		MaxAttempts: cfg.DeadLetter.MaxAttempts,
		BaseBackoff: cfg.DeadLetter.BaseBackoff,
		MaxBackoff:  cfg.DeadLetter.MaxBackoff,
	}

	switch cfg.Storage.Driver {
	case config.StoragePostgres:
		db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("init database: %w", err)
		}
		if cfg.Database.AutoMigrate {
			if err := db.AutoMigrate(ctx); err != nil {
				db.Close()
				return nil, fmt.Errorf("auto-migrate: %w", err)
			}
		}
		store := eventstore.NewPostgresStore(db.Pool)
		infra.DB = db
		infra.Store = store
		infra.Snapshots = store
		infra.Tx = storage.NewPostgresTransactor(db.Pool)
		infra.Documents = storage.NewPostgresDocuments(db.Pool)
		infra.Records = idempotency.NewPostgresRecords(db.Pool)
		infra.Tokens = projection.NewPostgresTokens(db.Pool)
		infra.Sequencer = deadletter.NewSequencer(deadletter.NewPostgresQueue(db.Pool), policy)
	case config.StorageMemory:
		store := eventstore.NewMemoryStore()
		infra.Store = store
		infra.Snapshots = store
		infra.Tx = storage.NewMemoryTransactor()
		infra.Documents = storage.NewMemoryDocuments()
		infra.Records = idempotency.NewMemoryRecords()
		infra.Tokens = projection.NewMemoryTokens()
		infra.Sequencer = deadletter.NewSequencer(deadletter.NewMemoryQueue(), policy)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	pools, err := worker.NewPools(ctx, worker.PoolConfig{
		ProjectionPoolSize: cfg.Worker.ProjectionPoolSize,
		SnapshotPoolSize:   cfg.Worker.SnapshotPoolSize,
	})
	if err != nil {
		infra.Close()
		return nil, fmt.Errorf("init worker pools: %w", err)
	}
	infra.Pools = pools

	logger.Info("Infrastructure initialized",
		zap.String("storage_driver", cfg.Storage.Driver),
		zap.Int("sku_mappings", skus.Len()),
	)
	return infra, nil
}

// Postgres reports whether the postgres backends are in use.
func (i *Infrastructure) Postgres() bool {
	return i != nil && i.DB != nil
}

// InitRiver initializes the River client on top of a prepared worker
// registry. It is a no-op with the memory driver.
func (i *Infrastructure) InitRiver(workers *river.Workers, periodic []*river.PeriodicJob) error {
	if i == nil || i.Config == nil {
		return fmt.Errorf("infrastructure is not initialized")
	}
	if !i.Postgres() {
		return nil
	}
	if err := i.DB.InitRiverClient(workers, periodic, i.Config.River); err != nil {
		return fmt.Errorf("init river: %w", err)
	}
	i.RiverClient = i.DB.RiverClient
	return nil
}

// Close releases infra resources in reverse dependency order.
func (i *Infrastructure) Close() {
	if i == nil {
		return
	}
	if i.Pools != nil {
		i.Pools.Shutdown()
	}
	if i.DB != nil {
		i.DB.Close()
	}
}
