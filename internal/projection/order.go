package projection

import (
	"context"

	"coffeeshop.io/coffeeshop/internal/domain"
	"coffeeshop.io/coffeeshop/internal/eventstore"
	"coffeeshop.io/coffeeshop/internal/storage"
)

// OrderProjection maintains OrderView documents.
type OrderProjection struct {
	orders storage.Collection[OrderView]
	faults Faults
}

// NewOrderProjection creates the order group's projection.
func NewOrderProjection(views Views, faults Faults) *OrderProjection {
	return &OrderProjection{orders: views.Orders, faults: faults}
}

func (p *OrderProjection) Group() string                   { return GroupOrder }
func (p *OrderProjection) Aggregate() domain.AggregateType { return domain.AggregateOrder }

// Handle applies an order event to its view.
func (p *OrderProjection) Handle(ctx context.Context, env eventstore.Envelope) error {
	at := env.Record.RecordedAt

	if created, ok := env.Event.(domain.OrderCreated); ok {
		if p.poisoned(created.CustomerID) {
			return simulated(env, "customer "+PoisonCustomer)
		}
		return p.orders.Put(ctx, created.ID, OrderView{
			ID:         created.ID,
			CustomerID: created.CustomerID,
			Items:      []OrderItemView{},
			Status:     string(domain.OrderStatusNew),
			CreatedAt:  at,
			UpdatedAt:  at,
		})
	}

	id := env.Event.AggregateID()
	view, found, err := p.orders.Get(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		missingDocument(GroupOrder, env)
		return nil
	}
	if p.poisoned(view.CustomerID) {
		return simulated(env, "customer "+PoisonCustomer)
	}

	switch ev := env.Event.(type) {
	case domain.ItemAddedToOrder:
		view.Items = append(view.Items, OrderItemView{
			ProductID:   ev.ProductID,
			ProductName: ev.ProductName,
			Quantity:    ev.Quantity,
			Price:       ev.Price,
		})
	case domain.OrderSubmitted:
		total := ev.TotalAmount
		view.Status = string(domain.OrderStatusSubmitted)
		view.TotalAmount = &total
	case domain.OrderDelivered:
		view.Status = string(domain.OrderStatusDelivered)
	case domain.OrderCompleted:
		view.Status = string(domain.OrderStatusCompleted)
	case domain.OrderItemProductNameCorrected:
		for i := range view.Items {
			if view.Items[i].ProductID == ev.ProductID {
				view.Items[i].ProductName = ev.CorrectedProductName
			}
		}
	default:
		return unexpectedEvent(GroupOrder, env.Event)
	}

	view.UpdatedAt = at
	return p.orders.Put(ctx, id, view)
}

func (p *OrderProjection) poisoned(customerID string) bool {
	return p.faults.Enabled && customerID == PoisonCustomer
}
