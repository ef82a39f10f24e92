package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"coffeeshop.io/coffeeshop/internal/aggregate"
	"coffeeshop.io/coffeeshop/internal/deadletter"
	"coffeeshop.io/coffeeshop/internal/domain"
	"coffeeshop.io/coffeeshop/internal/eventstore"
	"coffeeshop.io/coffeeshop/internal/idempotency"
	apperrors "coffeeshop.io/coffeeshop/internal/pkg/errors"
	"coffeeshop.io/coffeeshop/internal/pkg/worker"
	"coffeeshop.io/coffeeshop/internal/projection"
	"coffeeshop.io/coffeeshop/internal/storage"
	"coffeeshop.io/coffeeshop/internal/upcast"
)

type shop struct {
	store    *eventstore.MemoryStore
	orders   *OrderService
	payments *PaymentService
	products *ProductService
}

func newShop(t *testing.T, thresholds aggregate.Thresholds) (*shop, *eventstore.Serializer) {
	t.Helper()
	serializer, err := eventstore.NewSerializer(domain.Descriptors(), upcast.DefaultChain(upcast.NewSkuLookup(nil)))
	require.NoError(t, err)

	var n atomic.Int64
	env := domain.Env{
		Now:   func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) },
		NewID: func() string { return fmt.Sprintf("id-%d", n.Add(1)) },
	}
	store := eventstore.NewMemoryStore()
	opt := aggregate.WithEnv(env)
	return &shop{
		store:    store,
		orders:   NewOrderService(aggregate.NewEngine(aggregate.OrderDefinition(thresholds.Order), store, store, serializer, opt)),
		payments: NewPaymentService(aggregate.NewEngine(aggregate.PaymentDefinition(thresholds.Payment), store, store, serializer, opt)),
		products: NewProductService(aggregate.NewEngine(aggregate.ProductDefinition(thresholds.Product), store, store, serializer, opt)),
	}, serializer
}

func TestOrderService_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s, _ := newShop(t, aggregate.DefaultThresholds())

	order, err := s.orders.CreateOrder(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, "id-1", order.ID)
	assert.Equal(t, domain.OrderStatusNew, order.Status)

	order, err = s.orders.AddItem(ctx, order.ID, ItemInput{
		ProductID: "P1", ProductName: "Latte", Quantity: 2, Price: domain.MustUSD("4.00"),
	})
	require.NoError(t, err)
	require.Len(t, order.Items, 1)

	order, err = s.orders.Submit(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, order.TotalAmount)
	assert.Equal(t, "8.66", order.TotalAmount.Amount.StringFixed(2))

	_, err = s.orders.Deliver(ctx, order.ID)
	require.NoError(t, err)
	order, err = s.orders.Complete(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCompleted, order.Status)

	order, err = s.orders.CorrectProductName(ctx, order.ID, "P1", "Oat Latte")
	require.NoError(t, err)
	assert.Equal(t, "Oat Latte", order.Items[0].ProductName)

	loaded, version, err := s.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), version)
	assert.Equal(t, domain.OrderStatusCompleted, loaded.Status)
	assert.Equal(t, "Oat Latte", loaded.Items[0].ProductName)
	assert.True(t, order.TotalAmount.Equal(*loaded.TotalAmount))
}

func TestOrderService_Rejections(t *testing.T) {
	ctx := context.Background()
	s, _ := newShop(t, aggregate.DefaultThresholds())

	_, err := s.orders.Submit(ctx, "missing")
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.CodeAggregateNotFound, appErr.Code)

	order, err := s.orders.CreateOrder(ctx, "C1")
	require.NoError(t, err)
	_, err = s.orders.Submit(ctx, order.ID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidStateTransition)

	_, err = s.orders.AddItem(ctx, order.ID, ItemInput{ProductID: "P1", ProductName: "Latte", Quantity: 0, Price: domain.MustUSD("1.00")})
	assert.True(t, apperrors.IsValidation(err))
}

func TestPaymentService_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s, _ := newShop(t, aggregate.DefaultThresholds())

	p, err := s.payments.CreatePayment(ctx, "O1", domain.MustUSD("5.41"))
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPending, p.Status)

	p, err = s.payments.Process(ctx, p.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, p.TransactionID)

	_, err = s.payments.Fail(ctx, p.ID, "too late")
	assert.ErrorIs(t, err, apperrors.ErrInvalidStateTransition)

	p, err = s.payments.Refund(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusRefunded, p.Status)

	p, err = s.payments.Reset(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPending, p.Status)

	p, err = s.payments.Fail(ctx, p.ID, "Insufficient funds")
	require.NoError(t, err)
	assert.Equal(t, "Insufficient funds", p.FailureReason)
}

func TestProductService_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s, _ := newShop(t, aggregate.DefaultThresholds())

	p, err := s.products.CreateProduct(ctx, ProductInput{Name: "cold brew", Price: domain.MustUSD("3.25")})
	require.NoError(t, err)
	assert.Equal(t, "COL-LEGACY", p.SKU)
	assert.True(t, p.Active)

	p, err = s.products.UpdateProduct(ctx, p.ID, ProductInput{Name: "Cold Brew", Description: "slow", Price: domain.MustUSD("3.50")})
	require.NoError(t, err)
	assert.Equal(t, "Cold Brew", p.Name)
	assert.Equal(t, "COL-LEGACY", p.SKU)

	p, err = s.products.DeleteProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, p.Active)

	_, err = s.products.UpdateProduct(ctx, p.ID, ProductInput{Name: "Cold Brew", Price: domain.MustUSD("3.50")})
	assert.ErrorIs(t, err, apperrors.ErrInvalidStateTransition)
}

func TestGenerator_Batch(t *testing.T) {
	ctx := context.Background()
	thresholds := aggregate.Thresholds{Order: 5, Payment: 4, Product: 6}
	s, _ := newShop(t, thresholds)
	g := NewGenerator(s.orders, s.payments, s.products, thresholds, EventLog{Store: s.store})

	summary, err := g.Generate(ctx, BatchOptions{Products: 3, Orders: 4, TriggerSnapshots: true, Seed: 7})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Products)
	assert.Equal(t, 4, summary.Orders)
	assert.Equal(t, 4, summary.Payments)
	assert.Empty(t, summary.Triggers)

	// The first product was churned past its threshold and snapshotted inline.
	product, version, err := s.products.Get(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, int64(thresholds.Product+10), version)
	assert.True(t, product.Active)
	snap, err := s.store.LoadSnapshot(ctx, "id-1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Positive(t, snap.Seq)
}

func TestGenerator_Reproducible(t *testing.T) {
	ctx := context.Background()
	run := func() []eventstore.Record {
		s, _ := newShop(t, aggregate.DefaultThresholds())
		g := NewGenerator(s.orders, s.payments, s.products, aggregate.DefaultThresholds(), EventLog{Store: s.store})
		_, err := g.Generate(ctx, BatchOptions{Products: 2, Orders: 3, Seed: 42})
		require.NoError(t, err)
		recs, err := s.store.ReadAll(ctx, 0, 0)
		require.NoError(t, err)
		return recs
	}
	a, b := run(), run()
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].EventType, b[i].EventType)
		assert.Equal(t, a[i].AggregateID, b[i].AggregateID)
	}
}

func TestDeadLetterTriggers_QuarantineUnderFaults(t *testing.T) {
	ctx := context.Background()
	s, serializer := newShop(t, aggregate.DefaultThresholds())

	pools, err := worker.NewPools(ctx, worker.PoolConfig{ProjectionPoolSize: 4, SnapshotPoolSize: 1})
	require.NoError(t, err)
	t.Cleanup(pools.Shutdown)

	tx := storage.NewMemoryTransactor()
	queue := deadletter.NewMemoryQueue()
	views := projection.NewViews(storage.NewMemoryDocuments())
	registry := projection.NewRegistry(projection.Deps{
		Store:      s.store,
		Serializer: serializer,
		Guard:      idempotency.NewGuard(idempotency.NewMemoryRecords(), tx),
		Tokens:     projection.NewMemoryTokens(),
		Tx:         tx,
		Sequencer:  deadletter.NewSequencer(queue, deadletter.DefaultRetryPolicy()),
		Pools:      pools,
	}, projection.DefaultOptions(), projection.DefaultProjections(views, projection.Faults{Enabled: true})...)

	triggers := NewDeadLetterTriggers(s.orders, s.payments, s.products)
	results, err := triggers.TriggerAll(ctx)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, projection.GroupPayment, results[0].ProcessingGroup)

	require.NoError(t, registry.CatchUp(ctx))

	for _, r := range results {
		letters, err := queue.List(ctx, r.ProcessingGroup, 0)
		require.NoError(t, err)
		require.Len(t, letters, 1, r.ProcessingGroup)
		assert.Equal(t, r.AggregateID, letters[0].SequenceKey)
	}

	letters, err := queue.List(ctx, projection.GroupPayment, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.EventPaymentReset, letters[0].Record.EventType)

	// The payment view stays at the last event the group could apply.
	view, err := projection.NewQueries(views).Payment(ctx, results[0].AggregateID)
	require.NoError(t, err)
	assert.Equal(t, string(domain.PaymentStatusProcessed), view.Status)
}

func TestDeadLetterTriggers_UnknownGroup(t *testing.T) {
	s, _ := newShop(t, aggregate.DefaultThresholds())
	triggers := NewDeadLetterTriggers(s.orders, s.payments, s.products)

	_, err := triggers.Trigger(context.Background(), "inventory")
	assert.True(t, errors.Is(err, ErrUnknownTrigger))
}

func TestGenerator_LegacyProductsUpcast(t *testing.T) {
	ctx := context.Background()
	s, _ := newShop(t, aggregate.DefaultThresholds())
	g := NewGenerator(s.orders, s.payments, s.products, aggregate.DefaultThresholds(), EventLog{Store: s.store})

	ids, err := g.GenerateLegacyProducts(ctx, 2)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	recs, err := s.store.Load(ctx, ids[0], 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "1", recs[0].Revision)
	assert.False(t, gjson.GetBytes(recs[0].Payload, "sku").Exists())
	assert.Equal(t, gjson.Number, gjson.GetBytes(recs[0].Payload, "price").Type)

	demo, err := g.DemonstrateUpcaster(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, ids[0], demo.ProductID)
	assert.Equal(t, "1", demo.StoredRevision)
	assert.Equal(t, "ESP-LEGACY", demo.SKU)
	assert.Equal(t, "4.00 USD", demo.Price.String())
	assert.Equal(t, int64(2), demo.Version)
	assert.Equal(t, demo.SKU, demo.Product.SKU)

	// the stored record is never rewritten
	recs, err = s.store.Load(ctx, ids[0], 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "1", recs[0].Revision)
	assert.Equal(t, domain.EventProductUpdated, recs[1].EventType)

	demo, err = g.DemonstrateUpcaster(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, ids[1], demo.ProductID)

	current, err := s.products.CreateProduct(ctx, ProductInput{Name: "Mocha", Price: domain.MustUSD("4.25")})
	require.NoError(t, err)
	_, err = g.DemonstrateUpcaster(ctx, current.ID)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.CodeLegacyProductNotFound, appErr.Code)
}

func TestGenerator_DemonstrateUpcasterWithoutLegacyData(t *testing.T) {
	s, _ := newShop(t, aggregate.DefaultThresholds())
	g := NewGenerator(s.orders, s.payments, s.products, aggregate.DefaultThresholds(), EventLog{Store: s.store})

	_, err := g.DemonstrateUpcaster(context.Background(), "")
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, http.StatusNotFound, appErr.HTTPStatus)
}
