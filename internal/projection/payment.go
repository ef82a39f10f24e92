package projection

import (
	"context"

	"coffeeshop.io/coffeeshop/internal/domain"
	"coffeeshop.io/coffeeshop/internal/eventstore"
	"coffeeshop.io/coffeeshop/internal/storage"
)

// PaymentProjection maintains PaymentView documents.
type PaymentProjection struct {
	payments storage.Collection[PaymentView]
	faults   Faults
}

// NewPaymentProjection creates the payment group's projection.
func NewPaymentProjection(views Views, faults Faults) *PaymentProjection {
	return &PaymentProjection{payments: views.Payments, faults: faults}
}

func (p *PaymentProjection) Group() string                   { return GroupPayment }
func (p *PaymentProjection) Aggregate() domain.AggregateType { return domain.AggregatePayment }

// Handle applies a payment event to its view.
func (p *PaymentProjection) Handle(ctx context.Context, env eventstore.Envelope) error {
	at := env.Record.RecordedAt

	switch ev := env.Event.(type) {
	case domain.PaymentCreated:
		return p.payments.Put(ctx, ev.ID, PaymentView{
			ID:        ev.ID,
			OrderID:   ev.OrderID,
			Amount:    ev.Amount,
			Status:    string(domain.PaymentStatusPending),
			CreatedAt: at,
			UpdatedAt: at,
		})
	case domain.PaymentProcessed:
		return p.update(ctx, env, func(v *PaymentView) {
			v.Status = string(domain.PaymentStatusProcessed)
			v.TransactionID = ev.TransactionID
			v.UpdatedAt = ev.ProcessedAt
		})
	case domain.PaymentFailed:
		return p.update(ctx, env, func(v *PaymentView) {
			v.Status = string(domain.PaymentStatusFailed)
			v.FailureReason = ev.Reason
			v.UpdatedAt = ev.FailedAt
		})
	case domain.PaymentRefunded:
		return p.update(ctx, env, func(v *PaymentView) {
			v.Status = string(domain.PaymentStatusRefunded)
			v.RefundID = ev.RefundID
			v.UpdatedAt = ev.RefundedAt
		})
	case domain.PaymentReset:
		// the amount travels on the event so the check needs no lookup
		if p.faults.Enabled && IsPoisonPaymentAmount(ev.Amount) {
			return simulated(env, "payment amount "+ev.Amount.String())
		}
		return p.update(ctx, env, func(v *PaymentView) {
			v.Status = string(domain.PaymentStatusPending)
			v.TransactionID = ""
			v.RefundID = ""
			v.FailureReason = ""
			v.UpdatedAt = ev.ResetAt
		})
	default:
		return unexpectedEvent(GroupPayment, env.Event)
	}
}

func (p *PaymentProjection) update(ctx context.Context, env eventstore.Envelope, mutate func(v *PaymentView)) error {
	id := env.Event.AggregateID()
	view, found, err := p.payments.Get(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		missingDocument(GroupPayment, env)
		return nil
	}
	mutate(&view)
	return p.payments.Put(ctx, id, view)
}
