package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"coffeeshop.io/coffeeshop/internal/aggregate"
	"coffeeshop.io/coffeeshop/internal/domain"
	"coffeeshop.io/coffeeshop/internal/pkg/logger"
)

var (
	productNames = []string{
		"Espresso", "Cappuccino", "Latte", "Mocha", "Americano",
		"Macchiato", "Flat White", "Cold Brew", "Affogato", "Earl Grey Tea",
		"Green Tea", "Chai Latte", "Croissant", "Blueberry Muffin", "Chocolate Chip Cookie",
		"Caramel Frappuccino", "Iced Coffee", "Hot Chocolate", "Bagel", "Cinnamon Roll",
		"Vanilla Latte", "Pumpkin Spice Latte", "Matcha Latte", "Honey Cake", "Cheesecake",
	}
	productDescriptions = []string{
		"A delicious coffee beverage",
		"A customer favorite",
		"Perfect for morning or afternoon",
		"Rich and flavorful",
		"Made with premium ingredients",
		"Freshly prepared",
		"Organic and fair trade",
		"Limited seasonal offering",
		"House specialty",
		"Award-winning recipe",
	}

	minGeneratedPrice = decimal.RequireFromString("2.00")
	maxGeneratedPrice = decimal.RequireFromString("10.00")
	priceStep         = decimal.RequireFromString("0.05")
)

const generatedCustomers = 15

// BatchOptions sizes a generated batch.
type BatchOptions struct {
	Products int
	Orders   int
	// TriggerSnapshots pushes one stream of each type past its snapshot
	// threshold.
	TriggerSnapshots bool
	// TriggerDeadLetters also runs every DeadLetterTriggers trigger.
	TriggerDeadLetters bool
	// Seed makes the batch reproducible. 0 picks a time-based seed.
	Seed uint64
}

// BatchSummary counts what a batch created.
type BatchSummary struct {
	Products           int       `json:"productCount"`
	Orders             int       `json:"orderCount"`
	Payments           int       `json:"paymentCount"`
	SnapshotsTriggered bool      `json:"snapshotsTriggered"`
	Triggers           []Trigger `json:"deadLetterTriggers,omitempty"`
}

// Generator fills the shop with demo data through the command services.
type Generator struct {
	orders     *OrderService
	payments   *PaymentService
	products   *ProductService
	triggers   *DeadLetterTriggers
	thresholds aggregate.Thresholds
	log        EventLog
}

// NewGenerator creates a Generator. thresholds decide how many events the
// snapshot triggers append; log receives the legacy records.
func NewGenerator(orders *OrderService, payments *PaymentService, products *ProductService, thresholds aggregate.Thresholds, log EventLog) *Generator {
	return &Generator{
		orders:     orders,
		payments:   payments,
		products:   products,
		triggers:   NewDeadLetterTriggers(orders, payments, products),
		thresholds: thresholds,
		log:        log,
	}
}

// Generate creates products, then orders over them, then one payment per order.
func (g *Generator) Generate(ctx context.Context, opts BatchOptions) (BatchSummary, error) {
	seed := opts.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	logger.Info("Generating batch",
		zap.Int("products", opts.Products),
		zap.Int("orders", opts.Orders),
		zap.Bool("trigger_snapshots", opts.TriggerSnapshots),
		zap.Bool("trigger_dead_letters", opts.TriggerDeadLetters),
	)

	summary := BatchSummary{SnapshotsTriggered: opts.TriggerSnapshots}
	products, err := g.generateProducts(ctx, opts.Products, opts.TriggerSnapshots)
	if err != nil {
		return summary, err
	}
	summary.Products = len(products)

	orders, err := g.generateOrders(ctx, rng, products, opts.Orders, opts.TriggerSnapshots)
	if err != nil {
		return summary, err
	}
	summary.Orders = len(orders)

	payments, err := g.generatePayments(ctx, rng, orders, opts.TriggerSnapshots)
	if err != nil {
		return summary, err
	}
	summary.Payments = payments

	if opts.TriggerDeadLetters {
		triggers, err := g.triggers.TriggerAll(ctx)
		if err != nil {
			return summary, err
		}
		summary.Triggers = triggers
	}

	logger.Info("Batch generated",
		zap.Int("products", summary.Products),
		zap.Int("orders", summary.Orders),
		zap.Int("payments", summary.Payments),
	)
	return summary, nil
}

func (g *Generator) generateProducts(ctx context.Context, count int, triggerSnapshot bool) ([]domain.Product, error) {
	out := make([]domain.Product, 0, count)
	for i := 1; i <= count; i++ {
		price := decimal.RequireFromString("2.50").Add(decimal.NewFromInt(int64(i % 10)))
		p, err := g.products.CreateProduct(ctx, ProductInput{
			Name:        fmt.Sprintf("%s #%d", productNames[(i-1)%len(productNames)], i),
			Description: fmt.Sprintf("%s - Batch #%d", productDescriptions[(i-1)%len(productDescriptions)], i),
			Price:       domain.NewMoney(price, domain.CurrencyUSD),
		})
		if err != nil {
			return out, err
		}
		out = append(out, p)
	}

	if triggerSnapshot && len(out) > 0 {
		first, err := g.churnProduct(ctx, out[0], g.thresholds.Product+10)
		if err != nil {
			return out, err
		}
		out[0] = first
	}
	return out, nil
}

// churnProduct nudges the price up and down updates times, clamped to the
// generated price range.
func (g *Generator) churnProduct(ctx context.Context, p domain.Product, updates int) (domain.Product, error) {
	price := p.Price.Amount
	description := p.Description
	for i := 1; i <= updates; i++ {
		if i%2 == 0 {
			price = price.Add(priceStep)
		} else {
			price = price.Sub(priceStep)
		}
		if price.LessThan(minGeneratedPrice) {
			price = minGeneratedPrice
		} else if price.GreaterThan(maxGeneratedPrice) {
			price = maxGeneratedPrice
		}
		updated, err := g.products.UpdateProduct(ctx, p.ID, ProductInput{
			Name:        p.Name,
			Description: fmt.Sprintf("%s - Update #%d", description, i),
			Price:       domain.NewMoney(price, domain.CurrencyUSD),
		})
		if err != nil {
			return p, err
		}
		p = updated
	}
	logger.Info("Product churned past snapshot threshold",
		logger.AggregateID(p.ID),
		zap.Int("updates", updates),
	)
	return p, nil
}

func (g *Generator) generateOrders(ctx context.Context, rng *rand.Rand, products []domain.Product, count int, triggerSnapshot bool) ([]domain.Order, error) {
	if len(products) == 0 {
		return nil, nil
	}
	out := make([]domain.Order, 0, count)
	for i := 1; i <= count; i++ {
		customer := fmt.Sprintf("customer-%d", rng.IntN(generatedCustomers)+1)
		order, err := g.orders.CreateOrder(ctx, customer)
		if err != nil {
			return out, err
		}

		items := rng.IntN(5) + 1
		if triggerSnapshot && i == 1 {
			items = g.thresholds.Order + 10
		}
		for j := 0; j < items; j++ {
			p := products[rng.IntN(len(products))]
			if order, err = g.orders.AddItem(ctx, order.ID, ItemInput{
				ProductID:   p.ID,
				ProductName: p.Name,
				Quantity:    rng.IntN(3) + 1,
				Price:       p.Price,
			}); err != nil {
				return out, err
			}
		}

		if order, err = g.orders.Submit(ctx, order.ID); err != nil {
			return out, err
		}
		if i%2 == 0 {
			if order, err = g.orders.Deliver(ctx, order.ID); err != nil {
				return out, err
			}
			if i%4 == 0 {
				if order, err = g.orders.Complete(ctx, order.ID); err != nil {
					return out, err
				}
			}
		}
		out = append(out, order)
	}
	return out, nil
}

func (g *Generator) generatePayments(ctx context.Context, rng *rand.Rand, orders []domain.Order, triggerSnapshot bool) (int, error) {
	created := 0
	for i, order := range orders {
		if order.TotalAmount == nil {
			continue
		}
		payment, err := g.payments.CreatePayment(ctx, order.ID, *order.TotalAmount)
		if err != nil {
			return created, err
		}
		created++

		if triggerSnapshot && i == 0 {
			if err := g.cyclePayment(ctx, payment.ID, g.thresholds.Payment/2+3); err != nil {
				return created, err
			}
			continue
		}

		if rng.Float64() > 0.2 {
			if _, err := g.payments.Process(ctx, payment.ID); err != nil {
				return created, err
			}
			if rng.Float64() > 0.8 {
				if _, err := g.payments.Refund(ctx, payment.ID); err != nil {
					return created, err
				}
			}
			continue
		}
		if _, err := g.payments.Fail(ctx, payment.ID, "Insufficient funds"); err != nil {
			return created, err
		}
	}
	return created, nil
}

// cyclePayment processes the payment, then refunds, resets and reprocesses it
// rounds times.
func (g *Generator) cyclePayment(ctx context.Context, paymentID string, rounds int) error {
	if _, err := g.payments.Process(ctx, paymentID); err != nil {
		return err
	}
	for i := 0; i < rounds; i++ {
		if _, err := g.payments.Refund(ctx, paymentID); err != nil {
			return err
		}
		if _, err := g.payments.Reset(ctx, paymentID); err != nil {
			return err
		}
		if _, err := g.payments.Process(ctx, paymentID); err != nil {
			return err
		}
	}
	return nil
}
