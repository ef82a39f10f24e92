package projection

import (
	"context"
	"net/http"

	"coffeeshop.io/coffeeshop/internal/domain"
	apperrors "coffeeshop.io/coffeeshop/internal/pkg/errors"
)

// DefaultQueryLimit caps list queries that do not name a limit.
const DefaultQueryLimit = 100

// Queries answers read-side requests from the views. Results are eventually
// consistent with the command side.
type Queries struct {
	views Views
}

// NewQueries creates Queries over views.
func NewQueries(views Views) *Queries {
	return &Queries{views: views}
}

func notFound(kind, id string) error {
	return apperrors.Wrap(apperrors.ErrNotFound, apperrors.CodeNotFound, kind+" "+id+" not found", http.StatusNotFound).
		WithParams(map[string]interface{}{"id": id})
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return DefaultQueryLimit
	}
	return limit
}

// Order returns one order view.
func (q *Queries) Order(ctx context.Context, id string) (OrderView, error) {
	v, found, err := q.views.Orders.Get(ctx, id)
	if err != nil {
		return OrderView{}, err
	}
	if !found {
		return OrderView{}, notFound("order", id)
	}
	return v, nil
}

// OrdersByCustomer lists a customer's orders.
func (q *Queries) OrdersByCustomer(ctx context.Context, customerID string, limit int) ([]OrderView, error) {
	return q.views.Orders.FindBy(ctx, "customerId", customerID, limitOrDefault(limit))
}

// OrdersByStatus lists orders in status.
func (q *Queries) OrdersByStatus(ctx context.Context, status domain.OrderStatus, limit int) ([]OrderView, error) {
	return q.views.Orders.FindBy(ctx, "status", string(status), limitOrDefault(limit))
}

// Orders lists orders by id.
func (q *Queries) Orders(ctx context.Context, limit int) ([]OrderView, error) {
	return q.views.Orders.List(ctx, limitOrDefault(limit))
}

// Payment returns one payment view.
func (q *Queries) Payment(ctx context.Context, id string) (PaymentView, error) {
	v, found, err := q.views.Payments.Get(ctx, id)
	if err != nil {
		return PaymentView{}, err
	}
	if !found {
		return PaymentView{}, notFound("payment", id)
	}
	return v, nil
}

// PaymentsByOrder lists the payments of an order.
func (q *Queries) PaymentsByOrder(ctx context.Context, orderID string, limit int) ([]PaymentView, error) {
	return q.views.Payments.FindBy(ctx, "orderId", orderID, limitOrDefault(limit))
}

// PaymentsByStatus lists payments in status.
func (q *Queries) PaymentsByStatus(ctx context.Context, status domain.PaymentStatus, limit int) ([]PaymentView, error) {
	return q.views.Payments.FindBy(ctx, "status", string(status), limitOrDefault(limit))
}

// Payments lists payments by id.
func (q *Queries) Payments(ctx context.Context, limit int) ([]PaymentView, error) {
	return q.views.Payments.List(ctx, limitOrDefault(limit))
}

// Product returns one product view, active or not.
func (q *Queries) Product(ctx context.Context, id string) (ProductView, error) {
	v, found, err := q.views.Products.Get(ctx, id)
	if err != nil {
		return ProductView{}, err
	}
	if !found {
		return ProductView{}, notFound("product", id)
	}
	return v, nil
}

// Products lists the catalog; inactive products only when includeInactive.
func (q *Queries) Products(ctx context.Context, includeInactive bool) ([]ProductView, error) {
	all, err := q.views.Products.List(ctx, 0)
	if err != nil {
		return nil, err
	}
	if includeInactive {
		return all, nil
	}
	active := make([]ProductView, 0, len(all))
	for _, p := range all {
		if p.Active {
			active = append(active, p)
		}
	}
	return active, nil
}
