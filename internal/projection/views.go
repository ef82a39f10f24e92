// Package projection builds the query-side read models.
//
// Each processing group (order, payment, product) owns one collection of
// view documents. A tracking Processor reads the event log in global order,
// hands every event of its aggregate family to the group's Projection inside
// the idempotency guard, and records its progress in a TokenStore. Events
// whose handler fails are quarantined in the dead-letter sequencer.
package projection

import (
	"time"

	"coffeeshop.io/coffeeshop/internal/domain"
	"coffeeshop.io/coffeeshop/internal/storage"
)

// Processing groups.
const (
	GroupOrder   = "order"
	GroupPayment = "payment"
	GroupProduct = "product"
)

// Groups lists every processing group in a stable order.
func Groups() []string {
	return []string{GroupOrder, GroupPayment, GroupProduct}
}

// Collection names in the document store.
const (
	CollectionOrders   = "orders"
	CollectionPayments = "payments"
	CollectionProducts = "products"
)

// OrderItemView is one order line as shown to clients.
type OrderItemView struct {
	ProductID   string       `json:"productId"`
	ProductName string       `json:"productName"`
	Quantity    int          `json:"quantity"`
	Price       domain.Money `json:"price"`
}

// OrderView is the read model of an order.
type OrderView struct {
	ID          string          `json:"id"`
	CustomerID  string          `json:"customerId"`
	Items       []OrderItemView `json:"items"`
	Status      string          `json:"status"`
	TotalAmount *domain.Money   `json:"totalAmount,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// PaymentView is the read model of a payment.
type PaymentView struct {
	ID            string       `json:"id"`
	OrderID       string       `json:"orderId"`
	Amount        domain.Money `json:"amount"`
	Status        string       `json:"status"`
	TransactionID string       `json:"transactionId,omitempty"`
	RefundID      string       `json:"refundId,omitempty"`
	FailureReason string       `json:"failureReason,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

// ProductView is the read model of a catalog product.
type ProductView struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Price       domain.Money `json:"price"`
	SKU         string       `json:"sku,omitempty"`
	Active      bool         `json:"active"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// Views groups the typed collections over one document store.
type Views struct {
	Orders   storage.Collection[OrderView]
	Payments storage.Collection[PaymentView]
	Products storage.Collection[ProductView]
}

// NewViews binds the read-model collections to docs.
func NewViews(docs storage.DocumentStore) Views {
	return Views{
		Orders:   storage.NewCollection[OrderView](docs, CollectionOrders),
		Payments: storage.NewCollection[PaymentView](docs, CollectionPayments),
		Products: storage.NewCollection[ProductView](docs, CollectionProducts),
	}
}
