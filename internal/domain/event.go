// Package domain holds the coffee shop's event-sourced aggregates.
//
// Every aggregate is a pure fold: Evolve(state, event) -> state. Commands are
// validated by Decide functions that read the current state and return the
// events to append. Neither side performs I/O; time and identifiers come in
// through Env so that replay is deterministic.
package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AggregateType names an event stream family.
type AggregateType string

const (
	AggregateOrder   AggregateType = "order"
	AggregatePayment AggregateType = "payment"
	AggregateProduct AggregateType = "product"
)

// EventType is the stable, serialized name of an event variant.
type EventType string

const (
	EventOrderCreated                  EventType = "OrderCreated"
	EventItemAddedToOrder              EventType = "ItemAddedToOrder"
	EventOrderSubmitted                EventType = "OrderSubmitted"
	EventOrderDelivered                EventType = "OrderDelivered"
	EventOrderCompleted                EventType = "OrderCompleted"
	EventOrderItemProductNameCorrected EventType = "OrderItemProductNameCorrected"

	EventPaymentCreated   EventType = "PaymentCreated"
	EventPaymentProcessed EventType = "PaymentProcessed"
	EventPaymentFailed    EventType = "PaymentFailed"
	EventPaymentRefunded  EventType = "PaymentRefunded"
	EventPaymentReset     EventType = "PaymentReset"

	EventProductCreated EventType = "ProductCreated"
	EventProductUpdated EventType = "ProductUpdated"
	EventProductDeleted EventType = "ProductDeleted"
)

// Event is the closed set of domain events. Only types in this package
// implement it.
type Event interface {
	EventType() EventType
	// AggregateID is the correlation id: the instance the event belongs to.
	AggregateID() string
	isEvent()
}

// Env supplies the non-deterministic inputs a Decide function may need.
type Env struct {
	Now   func() time.Time
	NewID func() string
}

// DefaultEnv uses the wall clock and UUIDv7 identifiers.
func DefaultEnv() Env {
	return Env{
		Now: func() time.Time { return time.Now().UTC() },
		NewID: func() string {
			id, err := uuid.NewV7()
			if err != nil {
				return uuid.NewString()
			}
			return id.String()
		},
	}
}

// EventDescriptor is the registration entry for one event variant: which
// stream family it belongs to, its current schema revision and how to decode
// a current-revision payload.
type EventDescriptor struct {
	Type      EventType
	Aggregate AggregateType
	Revision  string
	Decode    func(payload []byte) (Event, error)
}

// Descriptors lists every event variant. The event store builds its type
// registry from it once at startup.
func Descriptors() []EventDescriptor {
	return []EventDescriptor{
		{EventOrderCreated, AggregateOrder, "1", decoder[OrderCreated]()},
		{EventItemAddedToOrder, AggregateOrder, "2", decoder[ItemAddedToOrder]()},
		{EventOrderSubmitted, AggregateOrder, "2", decoder[OrderSubmitted]()},
		{EventOrderDelivered, AggregateOrder, "1", decoder[OrderDelivered]()},
		{EventOrderCompleted, AggregateOrder, "1", decoder[OrderCompleted]()},
		{EventOrderItemProductNameCorrected, AggregateOrder, "1", decoder[OrderItemProductNameCorrected]()},

		{EventPaymentCreated, AggregatePayment, "2", decoder[PaymentCreated]()},
		{EventPaymentProcessed, AggregatePayment, "1", decoder[PaymentProcessed]()},
		{EventPaymentFailed, AggregatePayment, "1", decoder[PaymentFailed]()},
		{EventPaymentRefunded, AggregatePayment, "1", decoder[PaymentRefunded]()},
		{EventPaymentReset, AggregatePayment, "1", decoder[PaymentReset]()},

		{EventProductCreated, AggregateProduct, "3", decoder[ProductCreated]()},
		{EventProductUpdated, AggregateProduct, "2", decoder[ProductUpdated]()},
		{EventProductDeleted, AggregateProduct, "1", decoder[ProductDeleted]()},
	}
}

func decoder[T Event]() func([]byte) (Event, error) {
	return func(payload []byte) (Event, error) {
		var ev T
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", ev.EventType(), err)
		}
		return ev, nil
	}
}

func unexpectedEvent(aggregate AggregateType, ev Event) error {
	return fmt.Errorf("%s stream cannot apply %s", aggregate, ev.EventType())
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
