package projection

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"coffeeshop.io/coffeeshop/internal/domain"
	"coffeeshop.io/coffeeshop/internal/eventstore"
	"coffeeshop.io/coffeeshop/internal/pkg/logger"
)

// ErrSimulatedFailure is returned by handlers when demo fault injection
// rejects an event.
var ErrSimulatedFailure = errors.New("simulated projection failure")

// Projection maintains one processing group's read model.
type Projection interface {
	// Group is the processing group name.
	Group() string
	// Aggregate is the stream family whose events the group consumes.
	Aggregate() domain.AggregateType
	// Handle applies one event. It runs inside the caller's transaction.
	Handle(ctx context.Context, env eventstore.Envelope) error
}

// Faults configures poison values that make handlers fail on purpose so the
// dead-letter path can be demonstrated.
type Faults struct {
	Enabled bool
}

// Poison values recognised when Faults are enabled.
const (
	PoisonCustomer      = "error-customer"
	PoisonPaymentAmount = "13.13"
	PoisonProductPrice  = "99.99"
)

var (
	poisonPaymentAmount = domain.MustUSD(PoisonPaymentAmount)
	poisonProductPrice  = domain.MustUSD(PoisonProductPrice)
)

// IsPoisonPaymentAmount reports whether resetting a payment of amount fails
// in the payment group.
func IsPoisonPaymentAmount(amount domain.Money) bool {
	return amount.Equal(poisonPaymentAmount)
}

// IsPoisonProductPrice reports whether a product event carrying price fails
// in the product group.
func IsPoisonProductPrice(price domain.Money) bool {
	return price.Equal(poisonProductPrice)
}

func simulated(env eventstore.Envelope, reason string) error {
	logger.Error("Simulated projection failure",
		logger.EventType(string(env.Record.EventType)),
		logger.AggregateID(env.Record.AggregateID),
		zap.String("reason", reason),
	)
	return fmt.Errorf("%w: %s for %s %s", ErrSimulatedFailure, reason, env.Record.EventType, env.Record.AggregateID)
}

func unexpectedEvent(group string, ev domain.Event) error {
	return fmt.Errorf("processing group %s cannot handle event %T", group, ev)
}

func missingDocument(group string, env eventstore.Envelope) {
	logger.Debug("Read model document missing, event ignored",
		logger.ProcessingGroup(group),
		logger.EventType(string(env.Record.EventType)),
		logger.AggregateID(env.Record.AggregateID),
		logger.Position(env.Record.GlobalPosition),
	)
}
