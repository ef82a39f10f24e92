package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"coffeeshop.io/coffeeshop/internal/domain"
	"coffeeshop.io/coffeeshop/internal/pkg/logger"
	"coffeeshop.io/coffeeshop/internal/projection"
)

// ErrUnknownTrigger is returned for a group without a dead-letter trigger.
var ErrUnknownTrigger = errors.New("no dead-letter trigger for processing group")

// Trigger is the outcome of one demo trigger. The commands always succeed;
// the letter appears once the group's processor reaches the poison event,
// and only when demo faults are enabled.
type Trigger struct {
	ProcessingGroup string `json:"processingGroup"`
	AggregateID     string `json:"aggregateId"`
	Message         string `json:"message"`
}

// DeadLetterTriggers sends command sequences whose events the projections
// reject under demo faults.
type DeadLetterTriggers struct {
	orders   *OrderService
	payments *PaymentService
	products *ProductService
}

// NewDeadLetterTriggers creates the demo triggers.
func NewDeadLetterTriggers(orders *OrderService, payments *PaymentService, products *ProductService) *DeadLetterTriggers {
	return &DeadLetterTriggers{orders: orders, payments: payments, products: products}
}

// Trigger runs the trigger for one processing group.
func (d *DeadLetterTriggers) Trigger(ctx context.Context, group string) (Trigger, error) {
	var (
		t   Trigger
		err error
	)
	switch group {
	case projection.GroupPayment:
		t, err = d.payment(ctx)
	case projection.GroupProduct:
		t, err = d.product(ctx)
	case projection.GroupOrder:
		t, err = d.order(ctx)
	default:
		return Trigger{}, fmt.Errorf("%w: %q", ErrUnknownTrigger, group)
	}
	if err != nil {
		logger.Error("Dead-letter trigger failed",
			logger.ProcessingGroup(group),
			zap.Error(err),
		)
		return Trigger{}, err
	}
	logger.Info("Dead-letter trigger sent",
		logger.ProcessingGroup(group),
		logger.AggregateID(t.AggregateID),
	)
	return t, nil
}

// TriggerAll runs every trigger in payment, product, order order.
func (d *DeadLetterTriggers) TriggerAll(ctx context.Context) ([]Trigger, error) {
	groups := []string{projection.GroupPayment, projection.GroupProduct, projection.GroupOrder}
	out := make([]Trigger, 0, len(groups))
	for _, group := range groups {
		t, err := d.Trigger(ctx, group)
		if err != nil {
			return out, err
		}
		out = append(out, t)
	}
	return out, nil
}

// payment resets a processed payment of the poison amount.
func (d *DeadLetterTriggers) payment(ctx context.Context) (Trigger, error) {
	amount := domain.MustUSD(projection.PoisonPaymentAmount)
	order, err := d.orders.CreateOrder(ctx, "dead-letter-test")
	if err != nil {
		return Trigger{}, err
	}
	if _, err := d.orders.AddItem(ctx, order.ID, ItemInput{
		ProductID:   "test-product",
		ProductName: "Test Product",
		Quantity:    1,
		Price:       amount,
	}); err != nil {
		return Trigger{}, err
	}
	if _, err := d.orders.Submit(ctx, order.ID); err != nil {
		return Trigger{}, err
	}
	payment, err := d.payments.CreatePayment(ctx, order.ID, amount)
	if err != nil {
		return Trigger{}, err
	}
	if _, err := d.payments.Process(ctx, payment.ID); err != nil {
		return Trigger{}, err
	}
	if _, err := d.payments.Reset(ctx, payment.ID); err != nil {
		return Trigger{}, err
	}
	return Trigger{
		ProcessingGroup: projection.GroupPayment,
		AggregateID:     payment.ID,
		Message:         "payment reset sent for payment " + payment.ID,
	}, nil
}

// product updates a product to the poison price.
func (d *DeadLetterTriggers) product(ctx context.Context) (Trigger, error) {
	product, err := d.products.CreateProduct(ctx, ProductInput{
		Name:        "Error Triggering Product",
		Description: "This product will trigger a dead letter when updated",
		Price:       domain.MustUSD("9.99"),
	})
	if err != nil {
		return Trigger{}, err
	}
	if _, err := d.products.UpdateProduct(ctx, product.ID, ProductInput{
		Name:        product.Name,
		Description: "This product has been updated with an error-triggering price",
		Price:       domain.MustUSD(projection.PoisonProductPrice),
	}); err != nil {
		return Trigger{}, err
	}
	return Trigger{
		ProcessingGroup: projection.GroupProduct,
		AggregateID:     product.ID,
		Message:         "product update sent for product " + product.ID,
	}, nil
}

// order opens an order for the poison customer.
func (d *DeadLetterTriggers) order(ctx context.Context) (Trigger, error) {
	order, err := d.orders.CreateOrder(ctx, projection.PoisonCustomer)
	if err != nil {
		return Trigger{}, err
	}
	return Trigger{
		ProcessingGroup: projection.GroupOrder,
		AggregateID:     order.ID,
		Message:         "order created for customer " + projection.PoisonCustomer,
	}, nil
}
