package domain

import (
	"slices"

	"github.com/shopspring/decimal"

	apperrors "coffeeshop.io/coffeeshop/internal/pkg/errors"
)

// OrderStatus is the order lifecycle: NEW -> SUBMITTED -> DELIVERED -> COMPLETED.
type OrderStatus string

const (
	OrderStatusNew       OrderStatus = "NEW"
	OrderStatusSubmitted OrderStatus = "SUBMITTED"
	OrderStatusDelivered OrderStatus = "DELIVERED"
	OrderStatusCompleted OrderStatus = "COMPLETED"
)

// OrderItem is one line of an order.
type OrderItem struct {
	ProductID   string `json:"productId"`
	ProductName string `json:"productName"`
	Quantity    int    `json:"quantity"`
	Price       Money  `json:"price"`
}

// Order is the folded state of an order stream.
type Order struct {
	ID          string      `json:"id"`
	CustomerID  string      `json:"customerId"`
	Items       []OrderItem `json:"items"`
	Status      OrderStatus `json:"status"`
	TotalAmount *Money      `json:"totalAmount,omitempty"`
}

// Subtotal sums price × quantity over all items, in the currency of the
// first item.
func (o Order) Subtotal() (Money, error) {
	total := ZeroUSD()
	if len(o.Items) > 0 {
		total = NewMoney(decimal.Zero, o.Items[0].Price.currency())
	}
	for _, item := range o.Items {
		var err error
		if total, err = total.Add(item.Price.Times(item.Quantity)); err != nil {
			return Money{}, err
		}
	}
	return total, nil
}

// Total is the subtotal plus sales tax.
func (o Order) Total() (Money, error) {
	subtotal, err := o.Subtotal()
	if err != nil {
		return Money{}, err
	}
	return subtotal.WithTax(), nil
}

// Order events.

type OrderCreated struct {
	ID         string `json:"id"`
	CustomerID string `json:"customerId"`
}

type ItemAddedToOrder struct {
	OrderID     string `json:"orderId"`
	ProductID   string `json:"productId"`
	ProductName string `json:"productName"`
	Quantity    int    `json:"quantity"`
	Price       Money  `json:"price"`
}

type OrderSubmitted struct {
	OrderID     string `json:"orderId"`
	TotalAmount Money  `json:"totalAmount"`
}

// OrderDelivered carries the full order contents so projections never look anything up.
type OrderDelivered struct {
	OrderID     string      `json:"orderId"`
	CustomerID  string      `json:"customerId"`
	Items       []OrderItem `json:"items"`
	TotalAmount Money       `json:"totalAmount"`
}

// OrderCompleted carries the full order contents, like OrderDelivered.
type OrderCompleted struct {
	OrderID     string      `json:"orderId"`
	CustomerID  string      `json:"customerId"`
	Items       []OrderItem `json:"items"`
	TotalAmount Money       `json:"totalAmount"`
}

// OrderItemProductNameCorrected is a compensating event for a mistyped product name.
type OrderItemProductNameCorrected struct {
	OrderID              string `json:"orderId"`
	ProductID            string `json:"productId"`
	OldProductName       string `json:"oldProductName"`
	CorrectedProductName string `json:"correctedProductName"`
}

func (OrderCreated) EventType() EventType     { return EventOrderCreated }
func (ItemAddedToOrder) EventType() EventType { return EventItemAddedToOrder }
func (OrderSubmitted) EventType() EventType   { return EventOrderSubmitted }
func (OrderDelivered) EventType() EventType   { return EventOrderDelivered }
func (OrderCompleted) EventType() EventType   { return EventOrderCompleted }
func (OrderItemProductNameCorrected) EventType() EventType {
	return EventOrderItemProductNameCorrected
}

func (e OrderCreated) AggregateID() string                  { return e.ID }
func (e ItemAddedToOrder) AggregateID() string              { return e.OrderID }
func (e OrderSubmitted) AggregateID() string                { return e.OrderID }
func (e OrderDelivered) AggregateID() string                { return e.OrderID }
func (e OrderCompleted) AggregateID() string                { return e.OrderID }
func (e OrderItemProductNameCorrected) AggregateID() string { return e.OrderID }

func (OrderCreated) isEvent()                  {}
func (ItemAddedToOrder) isEvent()              {}
func (OrderSubmitted) isEvent()                {}
func (OrderDelivered) isEvent()                {}
func (OrderCompleted) isEvent()                {}
func (OrderItemProductNameCorrected) isEvent() {}

// Order commands.

// OrderCommand is the closed set of commands the order aggregate accepts.
type OrderCommand interface {
	commandName() string
	isOrderCommand()
}

type CreateOrder struct {
	ID         string
	CustomerID string
}

type AddItemToOrder struct {
	OrderID     string
	ProductID   string
	ProductName string
	Quantity    int
	Price       Money
}

type SubmitOrder struct{ OrderID string }

type DeliverOrder struct{ OrderID string }

type CompleteOrder struct{ OrderID string }

type CorrectOrderItemProductName struct {
	OrderID              string
	ProductID            string
	CorrectedProductName string
}

func (CreateOrder) commandName() string                 { return "CreateOrder" }
func (AddItemToOrder) commandName() string              { return "AddItemToOrder" }
func (SubmitOrder) commandName() string                 { return "SubmitOrder" }
func (DeliverOrder) commandName() string                { return "DeliverOrder" }
func (CompleteOrder) commandName() string               { return "CompleteOrder" }
func (CorrectOrderItemProductName) commandName() string { return "CorrectOrderItemProductName" }

func (CreateOrder) isOrderCommand()                 {}
func (AddItemToOrder) isOrderCommand()              {}
func (SubmitOrder) isOrderCommand()                 {}
func (DeliverOrder) isOrderCommand()                {}
func (CompleteOrder) isOrderCommand()               {}
func (CorrectOrderItemProductName) isOrderCommand() {}

// DecideOrder validates cmd against state and returns the events to append.
// A rejected command returns no events.
func DecideOrder(state Order, cmd OrderCommand, _ Env) ([]Event, error) {
	switch c := cmd.(type) {
	case CreateOrder:
		if blank(c.ID) {
			return nil, apperrors.Validation("id", "order id is required")
		}
		if blank(c.CustomerID) {
			return nil, apperrors.Validation("customerId", "customer id is required")
		}
		return []Event{OrderCreated{ID: c.ID, CustomerID: c.CustomerID}}, nil

	case AddItemToOrder:
		if state.Status != OrderStatusNew {
			return nil, rejectOrder(c, state, "items may only be added to a NEW order")
		}
		if blank(c.ProductID) {
			return nil, apperrors.Validation("productId", "product id is required")
		}
		if c.Quantity <= 0 {
			return nil, apperrors.Validation("quantity", "quantity must be positive")
		}
		if c.Price.IsNegative() {
			return nil, apperrors.Validation("price", "price must not be negative")
		}
		if len(state.Items) > 0 && state.Items[0].Price.currency() != c.Price.currency() {
			return nil, apperrors.Validation("price", "every item of an order must be priced in "+state.Items[0].Price.currency())
		}
		return []Event{ItemAddedToOrder{
			OrderID:     state.ID,
			ProductID:   c.ProductID,
			ProductName: c.ProductName,
			Quantity:    c.Quantity,
			Price:       NewMoney(c.Price.Amount, c.Price.Currency),
		}}, nil

	case SubmitOrder:
		if state.Status != OrderStatusNew {
			return nil, rejectOrder(c, state, "only a NEW order can be submitted")
		}
		if len(state.Items) == 0 {
			return nil, rejectOrder(c, state, "an empty order cannot be submitted")
		}
		total, err := state.Total()
		if err != nil {
			return nil, apperrors.Validation("items", err.Error())
		}
		return []Event{OrderSubmitted{OrderID: state.ID, TotalAmount: total}}, nil

	case DeliverOrder:
		if state.Status != OrderStatusSubmitted {
			return nil, rejectOrder(c, state, "only a SUBMITTED order can be delivered")
		}
		total, err := state.submittedTotal()
		if err != nil {
			return nil, apperrors.Validation("items", err.Error())
		}
		return []Event{OrderDelivered{
			OrderID:     state.ID,
			CustomerID:  state.CustomerID,
			Items:       slices.Clone(state.Items),
			TotalAmount: total,
		}}, nil

	case CompleteOrder:
		if state.Status != OrderStatusDelivered {
			return nil, rejectOrder(c, state, "only a DELIVERED order can be completed")
		}
		total, err := state.submittedTotal()
		if err != nil {
			return nil, apperrors.Validation("items", err.Error())
		}
		return []Event{OrderCompleted{
			OrderID:     state.ID,
			CustomerID:  state.CustomerID,
			Items:       slices.Clone(state.Items),
			TotalAmount: total,
		}}, nil

	case CorrectOrderItemProductName:
		if blank(c.CorrectedProductName) {
			return nil, apperrors.Validation("correctedProductName", "corrected product name is required")
		}
		idx := slices.IndexFunc(state.Items, func(item OrderItem) bool { return item.ProductID == c.ProductID })
		if idx < 0 {
			return nil, rejectOrder(c, state, "order has no item for product "+c.ProductID)
		}
		old := state.Items[idx].ProductName
		if old == c.CorrectedProductName {
			return nil, apperrors.Validation("correctedProductName", "corrected product name equals the current name")
		}
		return []Event{OrderItemProductNameCorrected{
			OrderID:              state.ID,
			ProductID:            c.ProductID,
			OldProductName:       old,
			CorrectedProductName: c.CorrectedProductName,
		}}, nil
	}
	return nil, apperrors.Validation("command", "unsupported order command")
}

// EvolveOrder applies one event to the order state.
func EvolveOrder(state Order, ev Event) (Order, error) {
	switch e := ev.(type) {
	case OrderCreated:
		return Order{ID: e.ID, CustomerID: e.CustomerID, Items: []OrderItem{}, Status: OrderStatusNew}, nil

	case ItemAddedToOrder:
		state.Items = append(slices.Clone(state.Items), OrderItem{
			ProductID:   e.ProductID,
			ProductName: e.ProductName,
			Quantity:    e.Quantity,
			Price:       e.Price,
		})
		return state, nil

	case OrderSubmitted:
		total := e.TotalAmount
		state.Status = OrderStatusSubmitted
		state.TotalAmount = &total
		return state, nil

	case OrderDelivered:
		state.Status = OrderStatusDelivered
		return state, nil

	case OrderCompleted:
		state.Status = OrderStatusCompleted
		return state, nil

	case OrderItemProductNameCorrected:
		items := slices.Clone(state.Items)
		for i := range items {
			if items[i].ProductID == e.ProductID {
				items[i].ProductName = e.CorrectedProductName
			}
		}
		state.Items = items
		return state, nil
	}
	return state, unexpectedEvent(AggregateOrder, ev)
}

func (o Order) submittedTotal() (Money, error) {
	if o.TotalAmount != nil {
		return *o.TotalAmount, nil
	}
	return o.Total()
}

func rejectOrder(cmd OrderCommand, state Order, reason string) error {
	return apperrors.InvalidStateTransition(cmd.commandName(), string(state.Status), reason)
}
