package modules

import (
	"context"
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coffeeshop.io/coffeeshop/internal/api/handlers"
	"coffeeshop.io/coffeeshop/internal/config"
	"coffeeshop.io/coffeeshop/internal/domain"
	"coffeeshop.io/coffeeshop/internal/pkg/logger"
	"coffeeshop.io/coffeeshop/internal/projection"
	"coffeeshop.io/coffeeshop/internal/service"
)

func init() {
	_ = logger.Init("error", "json")
}

func newMemoryInfra(t *testing.T) *Infrastructure {
	t.Helper()
	cfg := &config.Config{
		Storage:  config.StorageConfig{Driver: config.StorageMemory},
		Worker:   config.WorkerConfig{ProjectionPoolSize: 8, SnapshotPoolSize: 2},
		Snapshot: config.SnapshotConfig{Order: 3, Payment: 3, Product: 3},
		Projection: config.ProjectionConfig{
			BatchSize:      10,
			PollInterval:   time.Hour,
			HandlerTimeout: time.Second,
			DemoFaults:     true,
		},
		DeadLetter: config.DeadLetterConfig{
			RedriveInterval: time.Hour,
			MaxAttempts:     3,
			BaseBackoff:     time.Second,
			MaxBackoff:      time.Minute,
		},
	}
	infra, err := NewInfrastructure(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(infra.Close)
	return infra
}

func TestNewInfrastructure_UnknownDriver(t *testing.T) {
	_, err := NewInfrastructure(context.Background(), &config.Config{
		Storage: config.StorageConfig{Driver: "sqlite"},
	})
	require.Error(t, err)
}

func TestNewInfrastructure_Memory(t *testing.T) {
	infra := newMemoryInfra(t)
	assert.False(t, infra.Postgres())
	assert.NoError(t, infra.InitRiver(river.NewWorkers(), nil))
	assert.Nil(t, infra.RiverClient)
}

func TestNewServerDeps_ModulesContribute(t *testing.T) {
	infra := newMemoryInfra(t)
	commands := NewCommandModule(infra)
	proj := NewProjectionModule(infra)

	deps := NewServerDeps(infra, []Module{commands, nil, proj})
	assert.Nil(t, deps.DB)
	assert.NotNil(t, deps.Orders)
	assert.NotNil(t, deps.Payments)
	assert.NotNil(t, deps.Products)
	assert.NotNil(t, deps.Triggers)
	assert.NotNil(t, deps.Generator)
	assert.NotNil(t, deps.Queries)
	assert.NotNil(t, deps.Registry)
	assert.NotNil(t, deps.Sequencer)

	assert.NotPanics(t, func() { commands.ContributeServerDeps(nil) })
	var _ handlers.ServerDeps = deps
}

func TestProjectionModule_MemorySchedulesWithoutRiver(t *testing.T) {
	infra := newMemoryInfra(t)
	proj := NewProjectionModule(infra)

	assert.Empty(t, proj.PeriodicJobs())
	assert.NotPanics(t, func() { proj.RegisterWorkers(river.NewWorkers()) })
	assert.ElementsMatch(t, projection.Groups(), proj.Registry().Groups())
}

func TestModules_AppendsReachProjections(t *testing.T) {
	ctx := context.Background()
	infra := newMemoryInfra(t)
	commands := NewCommandModule(infra)
	proj := NewProjectionModule(infra)
	require.NoError(t, proj.Start(ctx))

	orders := NewServerDeps(infra, []Module{commands, proj}).Orders
	order, err := orders.CreateOrder(ctx, "C1")
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err = orders.AddItem(ctx, order.ID, service.ItemInput{
			ProductID: "P1", ProductName: "Latte", Quantity: 1, Price: domain.MustUSD("4.00"),
		})
		require.NoError(t, err)
	}

	queries := NewServerDeps(infra, []Module{proj}).Queries
	require.Eventually(t, func() bool {
		view, err := queries.Order(ctx, order.ID)
		return err == nil && len(view.Items) == 4
	}, 5*time.Second, 10*time.Millisecond)

	snap, err := infra.Snapshots.LoadSnapshot(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, snap, "threshold 3 should snapshot the five-event stream")
}

func TestCommandModule_StartSeedsLegacyProducts(t *testing.T) {
	ctx := context.Background()
	infra := newMemoryInfra(t)
	infra.Config.Upcast.SeedLegacyProducts = 3
	commands := NewCommandModule(infra)

	var _ Starter = commands
	require.NoError(t, commands.Start(ctx))

	recs, err := infra.Store.ReadAll(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	for _, r := range recs {
		assert.Equal(t, domain.EventProductCreated, r.EventType)
		assert.Equal(t, "1", r.Revision)
	}

	demo, err := commands.Generator().DemonstrateUpcaster(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, recs[0].AggregateID, demo.ProductID)
	assert.NotEmpty(t, demo.SKU)
}

func TestCommandModule_StartWithoutSeedingIsNoop(t *testing.T) {
	ctx := context.Background()
	infra := newMemoryInfra(t)
	require.NoError(t, NewCommandModule(infra).Start(ctx))

	pos, err := infra.Store.LastPosition(ctx)
	require.NoError(t, err)
	assert.Zero(t, pos)
}
