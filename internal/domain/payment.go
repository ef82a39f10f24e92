package domain

import (
	"time"

	apperrors "coffeeshop.io/coffeeshop/internal/pkg/errors"
)

// PaymentStatus: PENDING -> PROCESSED|FAILED, PROCESSED -> REFUNDED; reset returns to PENDING.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusProcessed PaymentStatus = "PROCESSED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
)

// Payment is the folded state of a payment stream.
type Payment struct {
	ID            string        `json:"id"`
	OrderID       string        `json:"orderId"`
	Amount        Money         `json:"amount"`
	Status        PaymentStatus `json:"status"`
	TransactionID string        `json:"transactionId,omitempty"`
	RefundID      string        `json:"refundId,omitempty"`
	FailureReason string        `json:"failureReason,omitempty"`
}

// Payment events.

type PaymentCreated struct {
	ID      string `json:"id"`
	OrderID string `json:"orderId"`
	Amount  Money  `json:"amount"`
}

type PaymentProcessed struct {
	PaymentID     string    `json:"paymentId"`
	TransactionID string    `json:"transactionId"`
	ProcessedAt   time.Time `json:"processedAt"`
}

type PaymentFailed struct {
	PaymentID string    `json:"paymentId"`
	Reason    string    `json:"reason"`
	FailedAt  time.Time `json:"failedAt"`
}

type PaymentRefunded struct {
	PaymentID  string    `json:"paymentId"`
	RefundID   string    `json:"refundId"`
	RefundedAt time.Time `json:"refundedAt"`
}

// PaymentReset is a test-support transition back to PENDING from any state.
type PaymentReset struct {
	PaymentID string    `json:"paymentId"`
	Amount    Money     `json:"amount"`
	ResetAt   time.Time `json:"resetAt"`
}

func (PaymentCreated) EventType() EventType   { return EventPaymentCreated }
func (PaymentProcessed) EventType() EventType { return EventPaymentProcessed }
func (PaymentFailed) EventType() EventType    { return EventPaymentFailed }
func (PaymentRefunded) EventType() EventType  { return EventPaymentRefunded }
func (PaymentReset) EventType() EventType     { return EventPaymentReset }

func (e PaymentCreated) AggregateID() string   { return e.ID }
func (e PaymentProcessed) AggregateID() string { return e.PaymentID }
func (e PaymentFailed) AggregateID() string    { return e.PaymentID }
func (e PaymentRefunded) AggregateID() string  { return e.PaymentID }
func (e PaymentReset) AggregateID() string     { return e.PaymentID }

func (PaymentCreated) isEvent()   {}
func (PaymentProcessed) isEvent() {}
func (PaymentFailed) isEvent()    {}
func (PaymentRefunded) isEvent()  {}
func (PaymentReset) isEvent()     {}

// Payment commands.

type PaymentCommand interface {
	commandName() string
	isPaymentCommand()
}

type CreatePayment struct {
	ID      string
	OrderID string
	Amount  Money
}

type ProcessPayment struct{ PaymentID string }

type FailPayment struct {
	PaymentID string
	Reason    string
}

type RefundPayment struct{ PaymentID string }

type ResetPayment struct{ PaymentID string }

func (CreatePayment) commandName() string  { return "CreatePayment" }
func (ProcessPayment) commandName() string { return "ProcessPayment" }
func (FailPayment) commandName() string    { return "FailPayment" }
func (RefundPayment) commandName() string  { return "RefundPayment" }
func (ResetPayment) commandName() string   { return "ResetPayment" }

func (CreatePayment) isPaymentCommand()  {}
func (ProcessPayment) isPaymentCommand() {}
func (FailPayment) isPaymentCommand()    {}
func (RefundPayment) isPaymentCommand()  {}
func (ResetPayment) isPaymentCommand()   {}

// DecidePayment validates cmd against state and returns the events to append.
func DecidePayment(state Payment, cmd PaymentCommand, env Env) ([]Event, error) {
	switch c := cmd.(type) {
	case CreatePayment:
		if blank(c.ID) {
			return nil, apperrors.Validation("id", "payment id is required")
		}
		if blank(c.OrderID) {
			return nil, apperrors.Validation("orderId", "order id is required")
		}
		if !c.Amount.IsPositive() {
			return nil, apperrors.Validation("amount", "amount must be positive")
		}
		return []Event{PaymentCreated{
			ID:      c.ID,
			OrderID: c.OrderID,
			Amount:  NewMoney(c.Amount.Amount, c.Amount.Currency),
		}}, nil

	case ProcessPayment:
		if state.Status != PaymentStatusPending {
			return nil, rejectPayment(c, state, "only a PENDING payment can be processed")
		}
		return []Event{PaymentProcessed{
			PaymentID:     state.ID,
			TransactionID: env.NewID(),
			ProcessedAt:   env.Now(),
		}}, nil

	case FailPayment:
		if state.Status != PaymentStatusPending {
			return nil, rejectPayment(c, state, "only a PENDING payment can fail")
		}
		if blank(c.Reason) {
			return nil, apperrors.Validation("reason", "failure reason is required")
		}
		return []Event{PaymentFailed{PaymentID: state.ID, Reason: c.Reason, FailedAt: env.Now()}}, nil

	case RefundPayment:
		if state.Status != PaymentStatusProcessed {
			return nil, rejectPayment(c, state, "only a PROCESSED payment can be refunded")
		}
		return []Event{PaymentRefunded{PaymentID: state.ID, RefundID: env.NewID(), RefundedAt: env.Now()}}, nil

	case ResetPayment:
		return []Event{PaymentReset{PaymentID: state.ID, Amount: state.Amount, ResetAt: env.Now()}}, nil
	}
	return nil, apperrors.Validation("command", "unsupported payment command")
}

// EvolvePayment applies one event to the payment state.
func EvolvePayment(state Payment, ev Event) (Payment, error) {
	switch e := ev.(type) {
	case PaymentCreated:
		return Payment{ID: e.ID, OrderID: e.OrderID, Amount: e.Amount, Status: PaymentStatusPending}, nil

	case PaymentProcessed:
		state.Status = PaymentStatusProcessed
		state.TransactionID = e.TransactionID
		return state, nil

	case PaymentFailed:
		state.Status = PaymentStatusFailed
		state.FailureReason = e.Reason
		return state, nil

	case PaymentRefunded:
		state.Status = PaymentStatusRefunded
		state.RefundID = e.RefundID
		return state, nil

	case PaymentReset:
		state.Status = PaymentStatusPending
		state.Amount = e.Amount
		state.TransactionID = ""
		state.RefundID = ""
		state.FailureReason = ""
		return state, nil
	}
	return state, unexpectedEvent(AggregatePayment, ev)
}

func rejectPayment(cmd PaymentCommand, state Payment, reason string) error {
	return apperrors.InvalidStateTransition(cmd.commandName(), string(state.Status), reason)
}
