package modules

import (
	"context"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"coffeeshop.io/coffeeshop/internal/aggregate"
	"coffeeshop.io/coffeeshop/internal/api/handlers"
	"coffeeshop.io/coffeeshop/internal/pkg/logger"
	"coffeeshop.io/coffeeshop/internal/service"
)

// CommandModule wires the aggregate engines and the command services.
type CommandModule struct {
	orders    *service.OrderService
	payments  *service.PaymentService
	products  *service.ProductService
	triggers  *service.DeadLetterTriggers
	generator *service.Generator

	seedLegacy int
}

// NewCommandModule creates the command side. Appends notify infra.Dispatcher
// so processors wake immediately.
func NewCommandModule(infra *Infrastructure) *CommandModule {
	cfg := infra.Config.Snapshot
	thresholds := aggregate.Thresholds{Order: cfg.Order, Payment: cfg.Payment, Product: cfg.Product}

	var snapshotter aggregate.Snapshotter = aggregate.NewSyncSnapshotter(infra.Snapshots)
	if cfg.Async {
		snapshotter = aggregate.NewAsyncSnapshotter(infra.Pools, infra.Snapshots)
	}
	opts := []aggregate.Option{
		aggregate.WithSnapshotter(snapshotter),
		aggregate.WithDispatcher(infra.Dispatcher),
	}

	orders := service.NewOrderService(aggregate.NewEngine(
		aggregate.OrderDefinition(thresholds.Order), infra.Store, infra.Snapshots, infra.Serializer, opts...))
	payments := service.NewPaymentService(aggregate.NewEngine(
		aggregate.PaymentDefinition(thresholds.Payment), infra.Store, infra.Snapshots, infra.Serializer, opts...))
	products := service.NewProductService(aggregate.NewEngine(
		aggregate.ProductDefinition(thresholds.Product), infra.Store, infra.Snapshots, infra.Serializer, opts...))

	return &CommandModule{
		orders:   orders,
		payments: payments,
		products: products,
		triggers: service.NewDeadLetterTriggers(orders, payments, products),
		generator: service.NewGenerator(orders, payments, products, thresholds, service.EventLog{
			Store:      infra.Store,
			Dispatcher: infra.Dispatcher,
		}),
		seedLegacy: infra.Config.Upcast.SeedLegacyProducts,
	}
}

func (m *CommandModule) Name() string { return "commands" }

func (m *CommandModule) ContributeServerDeps(deps *handlers.ServerDeps) {
	if deps == nil {
		return
	}
	deps.Orders = m.orders
	deps.Payments = m.payments
	deps.Products = m.products
	deps.Triggers = m.triggers
	deps.Generator = m.generator
}

func (m *CommandModule) RegisterWorkers(_ *river.Workers) {}

// Start seeds legacy products when upcast.seed_legacy_products asks for them.
// A failed seed is logged and does not stop the server.
func (m *CommandModule) Start(ctx context.Context) error {
	if m.seedLegacy <= 0 {
		return nil
	}
	ids, err := m.generator.GenerateLegacyProducts(ctx, m.seedLegacy)
	if err != nil {
		logger.Error("Legacy product seeding failed", zap.Error(err))
		return nil
	}
	logger.Info("Legacy products seeded; POST /admin/generate/demonstrate-upcaster to see them upcast",
		zap.Int("count", len(ids)),
	)
	return nil
}

func (m *CommandModule) Shutdown(context.Context) error { return nil }

// Generator exposes the data generator for the seed command.
func (m *CommandModule) Generator() *service.Generator { return m.generator }
