package projection

import (
	"context"

	"coffeeshop.io/coffeeshop/internal/domain"
	"coffeeshop.io/coffeeshop/internal/eventstore"
	"coffeeshop.io/coffeeshop/internal/storage"
)

// ProductProjection maintains ProductView documents.
type ProductProjection struct {
	products storage.Collection[ProductView]
	faults   Faults
}

// NewProductProjection creates the product group's projection.
func NewProductProjection(views Views, faults Faults) *ProductProjection {
	return &ProductProjection{products: views.Products, faults: faults}
}

func (p *ProductProjection) Group() string                   { return GroupProduct }
func (p *ProductProjection) Aggregate() domain.AggregateType { return domain.AggregateProduct }

// Handle applies a product event to its view.
func (p *ProductProjection) Handle(ctx context.Context, env eventstore.Envelope) error {
	at := env.Record.RecordedAt

	switch ev := env.Event.(type) {
	case domain.ProductCreated:
		if p.faults.Enabled && IsPoisonProductPrice(ev.Price) {
			return simulated(env, "product price "+ev.Price.String())
		}
		return p.products.Put(ctx, ev.ID, ProductView{
			ID:          ev.ID,
			Name:        ev.Name,
			Description: ev.Description,
			Price:       ev.Price,
			SKU:         ev.SKU,
			Active:      true,
			CreatedAt:   at,
			UpdatedAt:   at,
		})
	case domain.ProductUpdated:
		if p.faults.Enabled && IsPoisonProductPrice(ev.Price) {
			return simulated(env, "product price "+ev.Price.String())
		}
		return p.update(ctx, env, func(v *ProductView) {
			v.Name = ev.Name
			v.Description = ev.Description
			v.Price = ev.Price
		})
	case domain.ProductDeleted:
		return p.update(ctx, env, func(v *ProductView) {
			v.Active = false
		})
	default:
		return unexpectedEvent(GroupProduct, env.Event)
	}
}

func (p *ProductProjection) update(ctx context.Context, env eventstore.Envelope, mutate func(v *ProductView)) error {
	id := env.Event.AggregateID()
	view, found, err := p.products.Get(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		missingDocument(GroupProduct, env)
		return nil
	}
	mutate(&view)
	view.UpdatedAt = env.Record.RecordedAt
	return p.products.Put(ctx, id, view)
}
