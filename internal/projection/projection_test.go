package projection

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coffeeshop.io/coffeeshop/internal/domain"
	"coffeeshop.io/coffeeshop/internal/eventstore"
	apperrors "coffeeshop.io/coffeeshop/internal/pkg/errors"
	"coffeeshop.io/coffeeshop/internal/storage"
)

func envelope(ev domain.Event, position int64) eventstore.Envelope {
	return eventstore.Envelope{
		Record: eventstore.Record{
			GlobalPosition: position,
			AggregateID:    ev.AggregateID(),
			EventType:      ev.EventType(),
			RecordedAt:     at.Add(time.Duration(position) * time.Minute),
		},
		Event: ev,
	}
}

func apply(t *testing.T, p Projection, events ...domain.Event) {
	t.Helper()
	for i, ev := range events {
		require.NoError(t, p.Handle(context.Background(), envelope(ev, int64(i+1))))
	}
}

func TestOrderProjection_Lifecycle(t *testing.T) {
	ctx := context.Background()
	views := NewViews(storage.NewMemoryDocuments())
	p := NewOrderProjection(views, Faults{})

	apply(t, p,
		domain.OrderCreated{ID: "O1", CustomerID: "C1"},
		domain.ItemAddedToOrder{OrderID: "O1", ProductID: "P1", ProductName: "Lattee", Quantity: 2, Price: domain.MustUSD("3.50")},
		domain.ItemAddedToOrder{OrderID: "O1", ProductID: "P2", ProductName: "Scone", Quantity: 1, Price: domain.MustUSD("2.25")},
		domain.OrderItemProductNameCorrected{OrderID: "O1", ProductID: "P1", OldProductName: "Lattee", CorrectedProductName: "Latte"},
		domain.OrderSubmitted{OrderID: "O1", TotalAmount: domain.MustUSD("10.01")},
		domain.OrderDelivered{OrderID: "O1", CustomerID: "C1"},
	)

	view, found, err := views.Orders.Get(ctx, "O1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "DELIVERED", view.Status)
	require.Len(t, view.Items, 2)
	assert.Equal(t, "Latte", view.Items[0].ProductName)
	assert.Equal(t, "Scone", view.Items[1].ProductName)
	require.NotNil(t, view.TotalAmount)
	assert.Equal(t, "10.01 USD", view.TotalAmount.String())
	assert.Equal(t, at.Add(time.Minute), view.CreatedAt)
	assert.Equal(t, at.Add(6*time.Minute), view.UpdatedAt)

	apply(t, p, domain.OrderCompleted{OrderID: "O1", CustomerID: "C1"})
	view, _, err = views.Orders.Get(ctx, "O1")
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", view.Status)
}

func TestProjections_MissingDocumentIsNoop(t *testing.T) {
	ctx := context.Background()
	views := NewViews(storage.NewMemoryDocuments())

	tests := []struct {
		name  string
		proj  Projection
		event domain.Event
	}{
		{"order item", NewOrderProjection(views, Faults{Enabled: true}), domain.ItemAddedToOrder{OrderID: "nope", ProductID: "P1", Quantity: 1, Price: domain.MustUSD("1.00")}},
		{"payment processed", NewPaymentProjection(views, Faults{}), domain.PaymentProcessed{PaymentID: "nope", TransactionID: "TX"}},
		{"payment reset", NewPaymentProjection(views, Faults{}), domain.PaymentReset{PaymentID: "nope", Amount: domain.MustUSD("1.00")}},
		{"product deleted", NewProductProjection(views, Faults{}), domain.ProductDeleted{ID: "nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.proj.Handle(ctx, envelope(tt.event, 1)))
		})
	}

	all, err := views.Orders.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestProjections_RejectForeignEvents(t *testing.T) {
	views := NewViews(storage.NewMemoryDocuments())
	apply(t, NewOrderProjection(views, Faults{}), domain.OrderCreated{ID: "O1", CustomerID: "C1"})

	err := NewOrderProjection(views, Faults{}).Handle(context.Background(), envelope(domain.ProductDeleted{ID: "O1"}, 2))
	assert.ErrorContains(t, err, "cannot handle")

	err = NewPaymentProjection(views, Faults{}).Handle(context.Background(), envelope(domain.OrderCreated{ID: "X"}, 3))
	assert.ErrorContains(t, err, "cannot handle")
}

func TestPaymentProjection_ResetClearsOutcome(t *testing.T) {
	ctx := context.Background()
	views := NewViews(storage.NewMemoryDocuments())
	p := NewPaymentProjection(views, Faults{})

	resetAt := at.Add(time.Hour)
	apply(t, p,
		domain.PaymentCreated{ID: "PAY1", OrderID: "O1", Amount: domain.MustUSD("7.58")},
		domain.PaymentProcessed{PaymentID: "PAY1", TransactionID: "TX1", ProcessedAt: at},
		domain.PaymentRefunded{PaymentID: "PAY1", RefundID: "R1", RefundedAt: at},
		domain.PaymentReset{PaymentID: "PAY1", Amount: domain.MustUSD("7.58"), ResetAt: resetAt},
	)

	view, _, err := views.Payments.Get(ctx, "PAY1")
	require.NoError(t, err)
	assert.Equal(t, "PENDING", view.Status)
	assert.Empty(t, view.TransactionID)
	assert.Empty(t, view.RefundID)
	assert.Equal(t, resetAt, view.UpdatedAt)

	apply(t, p, domain.PaymentFailed{PaymentID: "PAY1", Reason: "card declined", FailedAt: at})
	view, _, err = views.Payments.Get(ctx, "PAY1")
	require.NoError(t, err)
	assert.Equal(t, "FAILED", view.Status)
	assert.Equal(t, "card declined", view.FailureReason)
}

func TestProductProjection_DeleteDeactivates(t *testing.T) {
	ctx := context.Background()
	views := NewViews(storage.NewMemoryDocuments())
	p := NewProductProjection(views, Faults{})

	apply(t, p,
		domain.ProductCreated{ID: "P1", Name: "Espresso", Price: domain.MustUSD("2.50"), SKU: "BEV-ESP"},
		domain.ProductUpdated{ID: "P1", Name: "Double Espresso", Description: "Two shots", Price: domain.MustUSD("3.25")},
		domain.ProductDeleted{ID: "P1"},
	)

	view, _, err := views.Products.Get(ctx, "P1")
	require.NoError(t, err)
	assert.False(t, view.Active)
	assert.Equal(t, "Double Espresso", view.Name)
	assert.Equal(t, "3.25 USD", view.Price.String())
	assert.Equal(t, "BEV-ESP", view.SKU)
}

func TestDemoFaults(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		setup  []domain.Event
		event  domain.Event
		build  func(Views, Faults) Projection
		poison bool
	}{
		{
			name:   "payment reset of 13.13",
			setup:  []domain.Event{domain.PaymentCreated{ID: "PAY1", OrderID: "O1", Amount: domain.MustUSD("13.13")}},
			event:  domain.PaymentReset{PaymentID: "PAY1", Amount: domain.MustUSD("13.13")},
			build:  func(v Views, f Faults) Projection { return NewPaymentProjection(v, f) },
			poison: true,
		},
		{
			name:  "payment reset of another amount",
			setup: []domain.Event{domain.PaymentCreated{ID: "PAY1", OrderID: "O1", Amount: domain.MustUSD("13.14")}},
			event: domain.PaymentReset{PaymentID: "PAY1", Amount: domain.MustUSD("13.14")},
			build: func(v Views, f Faults) Projection { return NewPaymentProjection(v, f) },
		},
		{
			name:   "product created at 99.99",
			event:  domain.ProductCreated{ID: "P1", Name: "Gold Latte", Price: domain.MustUSD("99.99")},
			build:  func(v Views, f Faults) Projection { return NewProductProjection(v, f) },
			poison: true,
		},
		{
			name:   "product updated to 99.99",
			setup:  []domain.Event{domain.ProductCreated{ID: "P1", Name: "Latte", Price: domain.MustUSD("9.99")}},
			event:  domain.ProductUpdated{ID: "P1", Name: "Latte", Price: domain.MustUSD("99.99")},
			build:  func(v Views, f Faults) Projection { return NewProductProjection(v, f) },
			poison: true,
		},
		{
			name:   "order created by error-customer",
			event:  domain.OrderCreated{ID: "O1", CustomerID: PoisonCustomer},
			build:  func(v Views, f Faults) Projection { return NewOrderProjection(v, f) },
			poison: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, enabled := range []bool{false, true} {
				views := NewViews(storage.NewMemoryDocuments())
				// setup events never trip a fault, so apply them with faults off
				apply(t, tt.build(views, Faults{}), tt.setup...)

				err := tt.build(views, Faults{Enabled: enabled}).Handle(ctx, envelope(tt.event, 10))
				if enabled && tt.poison {
					assert.ErrorIs(t, err, ErrSimulatedFailure)
				} else {
					assert.NoError(t, err)
				}
			}
		})
	}
}

func TestOrderProjection_PoisonCustomerFailsLaterEvents(t *testing.T) {
	views := NewViews(storage.NewMemoryDocuments())
	apply(t, NewOrderProjection(views, Faults{}), domain.OrderCreated{ID: "O1", CustomerID: PoisonCustomer})

	p := NewOrderProjection(views, Faults{Enabled: true})
	err := p.Handle(context.Background(), envelope(domain.OrderSubmitted{OrderID: "O1", TotalAmount: domain.MustUSD("1.00")}, 2))
	assert.ErrorIs(t, err, ErrSimulatedFailure)
}

func TestQueries(t *testing.T) {
	ctx := context.Background()
	views := NewViews(storage.NewMemoryDocuments())
	orders := NewOrderProjection(views, Faults{})
	payments := NewPaymentProjection(views, Faults{})
	products := NewProductProjection(views, Faults{})

	apply(t, orders,
		domain.OrderCreated{ID: "O1", CustomerID: "C1"},
		domain.OrderCreated{ID: "O2", CustomerID: "C1"},
		domain.OrderCreated{ID: "O3", CustomerID: "C2"},
		domain.OrderSubmitted{OrderID: "O2", TotalAmount: domain.MustUSD("1.00")},
	)
	apply(t, payments,
		domain.PaymentCreated{ID: "PAY1", OrderID: "O2", Amount: domain.MustUSD("1.00")},
		domain.PaymentCreated{ID: "PAY2", OrderID: "O3", Amount: domain.MustUSD("2.00")},
	)
	apply(t, products,
		domain.ProductCreated{ID: "P1", Name: "Latte", Price: domain.MustUSD("3.50")},
		domain.ProductCreated{ID: "P2", Name: "Retired Blend", Price: domain.MustUSD("9.00")},
		domain.ProductDeleted{ID: "P2"},
	)
	q := NewQueries(views)

	byCustomer, err := q.OrdersByCustomer(ctx, "C1", 0)
	require.NoError(t, err)
	require.Len(t, byCustomer, 2)
	assert.Equal(t, "O1", byCustomer[0].ID)

	submitted, err := q.OrdersByStatus(ctx, domain.OrderStatusSubmitted, 0)
	require.NoError(t, err)
	require.Len(t, submitted, 1)
	assert.Equal(t, "O2", submitted[0].ID)

	limited, err := q.Orders(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	byOrder, err := q.PaymentsByOrder(ctx, "O3", 0)
	require.NoError(t, err)
	require.Len(t, byOrder, 1)
	assert.Equal(t, "PAY2", byOrder[0].ID)

	pending, err := q.PaymentsByStatus(ctx, domain.PaymentStatusPending, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	active, err := q.Products(ctx, false)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "P1", active[0].ID)

	all, err := q.Products(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	retired, err := q.Product(ctx, "P2")
	require.NoError(t, err)
	assert.False(t, retired.Active)

	_, err = q.Payment(ctx, "missing")
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeNotFound, appErr.Code)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestTotalSales(t *testing.T) {
	total, err := TotalSales([]PaymentView{
		{ID: "PAY1", Amount: domain.MustUSD("3.79"), Status: "PROCESSED"},
		{ID: "PAY2", Amount: domain.MustUSD("5.00"), Status: "REFUNDED"},
		{ID: "PAY3", Amount: domain.MustUSD("1.21"), Status: "PROCESSED"},
		{ID: "PAY4", Amount: domain.MustUSD("9.00"), Status: "FAILED"},
	})
	require.NoError(t, err)
	assert.Equal(t, "5.00 USD", total.String())

	_, err = TotalSales([]PaymentView{
		{ID: "PAY1", Amount: domain.MustUSD("3.79"), Status: "PROCESSED"},
		{ID: "PAY2", Amount: domain.Money{Amount: domain.MustUSD("1").Amount, Currency: "EUR"}, Status: "PROCESSED"},
	})
	require.ErrorIs(t, err, domain.ErrCurrencyMismatch)
}

func TestQueries_Overview(t *testing.T) {
	ctx := context.Background()
	views := NewViews(storage.NewMemoryDocuments())
	require.NoError(t, views.Products.Put(ctx, "P1", ProductView{ID: "P1", Name: "Mocha", Active: true}))
	require.NoError(t, views.Products.Put(ctx, "P2", ProductView{ID: "P2", Name: "Gone"}))
	require.NoError(t, views.Orders.Put(ctx, "O1", OrderView{ID: "O1", Status: "NEW"}))
	require.NoError(t, views.Payments.Put(ctx, "PAY1", PaymentView{ID: "PAY1", Amount: domain.MustUSD("2.50"), Status: "PROCESSED"}))

	got, err := NewQueries(views).Overview(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ProductCount, "inactive products are left out")
	assert.Equal(t, 1, got.OrderCount)
	assert.Equal(t, 1, got.PaymentCount)
	assert.Equal(t, "2.50 USD", got.TotalSales.String())
}
