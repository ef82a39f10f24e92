package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"coffeeshop.io/coffeeshop/internal/aggregate"
	"coffeeshop.io/coffeeshop/internal/domain"
	"coffeeshop.io/coffeeshop/internal/pkg/logger"
)

// PaymentService handles payment commands.
type PaymentService struct {
	engine *aggregate.Engine[domain.Payment]
}

// NewPaymentService creates a new PaymentService.
func NewPaymentService(engine *aggregate.Engine[domain.Payment]) *PaymentService {
	return &PaymentService{engine: engine}
}

func paymentDecision(cmd domain.PaymentCommand) aggregate.Decision[domain.Payment] {
	return func(state domain.Payment, env domain.Env) ([]domain.Event, error) {
		return domain.DecidePayment(state, cmd, env)
	}
}

// CreatePayment opens a pending payment of amount for orderID.
func (s *PaymentService) CreatePayment(ctx context.Context, orderID string, amount domain.Money) (domain.Payment, error) {
	id := s.engine.Env().NewID()
	res, err := s.engine.Create(ctx, id, paymentDecision(domain.CreatePayment{ID: id, OrderID: orderID, Amount: amount}))
	if err != nil {
		return domain.Payment{}, fmt.Errorf("create payment: %w", err)
	}
	logger.Info("Payment created",
		logger.AggregateID(id),
		zap.String("order_id", orderID),
		zap.String("amount", amount.String()),
	)
	return res.State, nil
}

// Process settles a pending payment.
func (s *PaymentService) Process(ctx context.Context, paymentID string) (domain.Payment, error) {
	return s.execute(ctx, paymentID, domain.ProcessPayment{PaymentID: paymentID})
}

// Fail rejects a pending payment with reason.
func (s *PaymentService) Fail(ctx context.Context, paymentID, reason string) (domain.Payment, error) {
	return s.execute(ctx, paymentID, domain.FailPayment{PaymentID: paymentID, Reason: reason})
}

// Refund refunds a processed payment.
func (s *PaymentService) Refund(ctx context.Context, paymentID string) (domain.Payment, error) {
	return s.execute(ctx, paymentID, domain.RefundPayment{PaymentID: paymentID})
}

// Reset returns the payment to PENDING from any status.
func (s *PaymentService) Reset(ctx context.Context, paymentID string) (domain.Payment, error) {
	return s.execute(ctx, paymentID, domain.ResetPayment{PaymentID: paymentID})
}

// Get folds the payment stream.
func (s *PaymentService) Get(ctx context.Context, paymentID string) (domain.Payment, int64, error) {
	return s.engine.Load(ctx, paymentID)
}

func (s *PaymentService) execute(ctx context.Context, paymentID string, cmd domain.PaymentCommand) (domain.Payment, error) {
	res, err := s.engine.Execute(ctx, paymentID, paymentDecision(cmd))
	if err != nil {
		return domain.Payment{}, fmt.Errorf("payment %s: %w", paymentID, err)
	}
	return res.State, nil
}
