package aggregate

import (
	"context"

	"go.uber.org/zap"

	"coffeeshop.io/coffeeshop/internal/domain"
	"coffeeshop.io/coffeeshop/internal/eventstore"
	"coffeeshop.io/coffeeshop/internal/pkg/logger"
	"coffeeshop.io/coffeeshop/internal/pkg/worker"
)

// Default snapshot thresholds. Payments snapshot often so the replay after a
// crash stays short; products change rarely and matter least.
const (
	OrderSnapshotThreshold   = 50
	PaymentSnapshotThreshold = 25
	ProductSnapshotThreshold = 200
)

// ShouldSnapshot reports whether sinceLast events since the last snapshot
// reach threshold.
func ShouldSnapshot(threshold int, sinceLast int64) bool {
	return threshold > 0 && sinceLast >= int64(threshold)
}

// Snapshotter persists a snapshot. It must not fail the command that
// triggered it: errors are logged and dropped.
type Snapshotter interface {
	Snapshot(ctx context.Context, snap eventstore.Snapshot)
}

// SyncSnapshotter writes inline.
type SyncSnapshotter struct {
	store eventstore.SnapshotStore
}

func NewSyncSnapshotter(store eventstore.SnapshotStore) *SyncSnapshotter {
	return &SyncSnapshotter{store: store}
}

func (s *SyncSnapshotter) Snapshot(ctx context.Context, snap eventstore.Snapshot) {
	saveSnapshot(ctx, s.store, snap)
}

// AsyncSnapshotter writes on the snapshot worker pool, detached from the
// command's context.
type AsyncSnapshotter struct {
	pools *worker.Pools
	store eventstore.SnapshotStore
}

func NewAsyncSnapshotter(pools *worker.Pools, store eventstore.SnapshotStore) *AsyncSnapshotter {
	return &AsyncSnapshotter{pools: pools, store: store}
}

func (s *AsyncSnapshotter) Snapshot(_ context.Context, snap eventstore.Snapshot) {
	err := s.pools.SubmitDetached(worker.PoolSnapshot, func(ctx context.Context) {
		saveSnapshot(ctx, s.store, snap)
	})
	if err != nil {
		logger.Warn("Snapshot not scheduled",
			logger.AggregateType(string(snap.AggregateType)),
			logger.AggregateID(snap.AggregateID),
			logger.Seq(snap.Seq),
			zap.Error(err),
		)
	}
}

func saveSnapshot(ctx context.Context, store eventstore.SnapshotStore, snap eventstore.Snapshot) {
	if store == nil {
		return
	}
	if err := store.SaveSnapshot(ctx, snap); err != nil {
		logger.Warn("Snapshot write failed",
			logger.AggregateType(string(snap.AggregateType)),
			logger.AggregateID(snap.AggregateID),
			logger.Seq(snap.Seq),
			zap.Error(err),
		)
		return
	}
	logger.Debug("Snapshot written",
		logger.AggregateType(string(snap.AggregateType)),
		logger.AggregateID(snap.AggregateID),
		logger.Seq(snap.Seq),
	)
}

// Thresholds carries the configured per-type snapshot thresholds.
type Thresholds struct {
	Order   int
	Payment int
	Product int
}

// DefaultThresholds returns the built-in thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Order:   OrderSnapshotThreshold,
		Payment: PaymentSnapshotThreshold,
		Product: ProductSnapshotThreshold,
	}
}

// Order, Payment and Product state schemas. Bump a revision when the JSON
// shape of the state changes so stale snapshots are skipped.
const (
	orderStateRevision   = "order-state-1"
	paymentStateRevision = "payment-state-1"
	productStateRevision = "product-state-1"
)

// OrderDefinition returns the order Definition.
func OrderDefinition(threshold int) Definition[domain.Order] {
	return Definition[domain.Order]{
		Type:              domain.AggregateOrder,
		Initial:           func() domain.Order { return domain.Order{} },
		Evolve:            domain.EvolveOrder,
		SnapshotThreshold: threshold,
		StateRevision:     orderStateRevision,
	}
}

// PaymentDefinition returns the payment Definition.
func PaymentDefinition(threshold int) Definition[domain.Payment] {
	return Definition[domain.Payment]{
		Type:              domain.AggregatePayment,
		Initial:           func() domain.Payment { return domain.Payment{} },
		Evolve:            domain.EvolvePayment,
		SnapshotThreshold: threshold,
		StateRevision:     paymentStateRevision,
	}
}

// ProductDefinition returns the product Definition.
func ProductDefinition(threshold int) Definition[domain.Product] {
	return Definition[domain.Product]{
		Type:              domain.AggregateProduct,
		Initial:           func() domain.Product { return domain.Product{} },
		Evolve:            domain.EvolveProduct,
		SnapshotThreshold: threshold,
		StateRevision:     productStateRevision,
	}
}
