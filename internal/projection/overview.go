package projection

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"coffeeshop.io/coffeeshop/internal/domain"
)

// Overview summarizes the whole shop from the views.
type Overview struct {
	ProductCount int           `json:"productCount"`
	OrderCount   int           `json:"orderCount"`
	PaymentCount int           `json:"paymentCount"`
	TotalSales   domain.Money  `json:"totalSales"`
	Products     []ProductView `json:"products"`
	Orders       []OrderView   `json:"orders"`
	Payments     []PaymentView `json:"payments"`
}

// Overview reads active products, all orders and all payments concurrently.
// TotalSales sums the payments currently PROCESSED; refunded and failed
// payments do not count.
func (q *Queries) Overview(ctx context.Context) (Overview, error) {
	var (
		products []ProductView
		orders   []OrderView
		payments []PaymentView
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		products, err = q.Products(gctx, false)
		return err
	})
	g.Go(func() error {
		var err error
		orders, err = q.views.Orders.List(gctx, 0)
		return err
	})
	g.Go(func() error {
		var err error
		payments, err = q.views.Payments.List(gctx, 0)
		return err
	})
	if err := g.Wait(); err != nil {
		return Overview{}, err
	}

	sales, err := TotalSales(payments)
	if err != nil {
		return Overview{}, err
	}
	return Overview{
		ProductCount: len(products),
		OrderCount:   len(orders),
		PaymentCount: len(payments),
		TotalSales:   sales,
		Products:     nonNil(products),
		Orders:       nonNil(orders),
		Payments:     nonNil(payments),
	}, nil
}

// TotalSales sums the amounts of PROCESSED payments. Payments in a currency
// other than USD fail the sum with domain.ErrCurrencyMismatch.
func TotalSales(payments []PaymentView) (domain.Money, error) {
	total := domain.ZeroUSD()
	for _, p := range payments {
		if p.Status != string(domain.PaymentStatusProcessed) {
			continue
		}
		var err error
		if total, err = total.Add(p.Amount); err != nil {
			return domain.Money{}, fmt.Errorf("total sales: payment %s: %w", p.ID, err)
		}
	}
	return total, nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
