package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "coffeeshop.io/coffeeshop/internal/pkg/errors"
)

func applyPayment(t *testing.T, state Payment, env Env, cmd PaymentCommand) (Payment, []Event) {
	t.Helper()
	events, err := DecidePayment(state, cmd, env)
	require.NoError(t, err)
	for _, ev := range events {
		state, err = EvolvePayment(state, ev)
		require.NoError(t, err)
	}
	return state, events
}

func TestPayment_ProcessRefundResetCycle(t *testing.T) {
	env := testEnv()
	state, _ := applyPayment(t, Payment{}, env, CreatePayment{ID: "PAY1", OrderID: "O2", Amount: MustUSD("13.13")})
	assert.Equal(t, PaymentStatusPending, state.Status)

	state, events := applyPayment(t, state, env, ProcessPayment{PaymentID: "PAY1"})
	processed := events[0].(PaymentProcessed)
	assert.Equal(t, "id-1", processed.TransactionID)
	assert.Equal(t, PaymentStatusProcessed, state.Status)
	assert.Equal(t, "id-1", state.TransactionID)

	state, _ = applyPayment(t, state, env, RefundPayment{PaymentID: "PAY1"})
	assert.Equal(t, PaymentStatusRefunded, state.Status)
	assert.Equal(t, "id-2", state.RefundID)

	state, events = applyPayment(t, state, env, ResetPayment{PaymentID: "PAY1"})
	reset := events[0].(PaymentReset)
	assert.Equal(t, "13.13 USD", reset.Amount.String())
	assert.Equal(t, PaymentStatusPending, state.Status)
	assert.Empty(t, state.TransactionID)
	assert.Empty(t, state.RefundID)

	state, _ = applyPayment(t, state, env, ProcessPayment{PaymentID: "PAY1"})
	assert.Equal(t, PaymentStatusProcessed, state.Status)
}

func TestPayment_GuardClauses(t *testing.T) {
	env := testEnv()
	pending, _ := applyPayment(t, Payment{}, env, CreatePayment{ID: "PAY1", OrderID: "O1", Amount: MustUSD("5")})
	failed, _ := applyPayment(t, pending, env, FailPayment{PaymentID: "PAY1", Reason: "card declined"})

	tests := []struct {
		name  string
		state Payment
		cmd   PaymentCommand
	}{
		{"refund before process", pending, RefundPayment{PaymentID: "PAY1"}},
		{"process a failed payment", failed, ProcessPayment{PaymentID: "PAY1"}},
		{"fail a failed payment", failed, FailPayment{PaymentID: "PAY1", Reason: "again"}},
		{"fail without reason", pending, FailPayment{PaymentID: "PAY1"}},
		{"zero amount", Payment{}, CreatePayment{ID: "PAY2", OrderID: "O1", Amount: ZeroUSD()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := DecidePayment(tt.state, tt.cmd, env)
			require.Error(t, err)
			assert.Empty(t, events)
			assert.True(t, apperrors.IsValidation(err))
		})
	}
}
