// Package service is the command side of the coffee shop.
//
// Each service turns a request into a domain command and runs it through the
// aggregate engine of its stream type. Services hold no state of their own:
// the event store is the source of truth, and read models are served by
// projection.Queries.
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"coffeeshop.io/coffeeshop/internal/aggregate"
	"coffeeshop.io/coffeeshop/internal/domain"
	"coffeeshop.io/coffeeshop/internal/pkg/logger"
)

// OrderService handles order commands.
type OrderService struct {
	engine *aggregate.Engine[domain.Order]
}

// NewOrderService creates a new OrderService.
func NewOrderService(engine *aggregate.Engine[domain.Order]) *OrderService {
	return &OrderService{engine: engine}
}

// ItemInput is one line to add to an order.
type ItemInput struct {
	ProductID   string
	ProductName string
	Quantity    int
	Price       domain.Money
}

func orderDecision(cmd domain.OrderCommand) aggregate.Decision[domain.Order] {
	return func(state domain.Order, env domain.Env) ([]domain.Event, error) {
		return domain.DecideOrder(state, cmd, env)
	}
}

// CreateOrder opens a new order for customerID.
func (s *OrderService) CreateOrder(ctx context.Context, customerID string) (domain.Order, error) {
	id := s.engine.Env().NewID()
	res, err := s.engine.Create(ctx, id, orderDecision(domain.CreateOrder{ID: id, CustomerID: customerID}))
	if err != nil {
		return domain.Order{}, fmt.Errorf("create order: %w", err)
	}
	logger.Info("Order created",
		logger.AggregateID(id),
		zap.String("customer_id", customerID),
	)
	return res.State, nil
}

// AddItem adds a line to an open order.
func (s *OrderService) AddItem(ctx context.Context, orderID string, item ItemInput) (domain.Order, error) {
	return s.execute(ctx, orderID, domain.AddItemToOrder{
		OrderID:     orderID,
		ProductID:   item.ProductID,
		ProductName: item.ProductName,
		Quantity:    item.Quantity,
		Price:       item.Price,
	})
}

// Submit closes the order for changes and fixes its total.
func (s *OrderService) Submit(ctx context.Context, orderID string) (domain.Order, error) {
	return s.execute(ctx, orderID, domain.SubmitOrder{OrderID: orderID})
}

// Deliver marks a submitted order delivered.
func (s *OrderService) Deliver(ctx context.Context, orderID string) (domain.Order, error) {
	return s.execute(ctx, orderID, domain.DeliverOrder{OrderID: orderID})
}

// Complete marks a delivered order completed.
func (s *OrderService) Complete(ctx context.Context, orderID string) (domain.Order, error) {
	return s.execute(ctx, orderID, domain.CompleteOrder{OrderID: orderID})
}

// CorrectProductName renames every line of productID in the order.
func (s *OrderService) CorrectProductName(ctx context.Context, orderID, productID, name string) (domain.Order, error) {
	return s.execute(ctx, orderID, domain.CorrectOrderItemProductName{
		OrderID:              orderID,
		ProductID:            productID,
		CorrectedProductName: name,
	})
}

// Get folds the order stream. Unlike the read model it is always current.
func (s *OrderService) Get(ctx context.Context, orderID string) (domain.Order, int64, error) {
	return s.engine.Load(ctx, orderID)
}

func (s *OrderService) execute(ctx context.Context, orderID string, cmd domain.OrderCommand) (domain.Order, error) {
	res, err := s.engine.Execute(ctx, orderID, orderDecision(cmd))
	if err != nil {
		return domain.Order{}, fmt.Errorf("order %s: %w", orderID, err)
	}
	return res.State, nil
}
