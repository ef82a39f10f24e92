package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"coffeeshop.io/coffeeshop/internal/domain"
	"coffeeshop.io/coffeeshop/internal/projection"
)

type createPaymentRequest struct {
	OrderID string       `json:"orderId"`
	Amount  domain.Money `json:"amount"`
}

type failPaymentRequest struct {
	Reason string `json:"reason"`
}

// CreatePayment handles POST /api/payments.
func (s *Server) CreatePayment(c *gin.Context) {
	var req createPaymentRequest
	if !bindJSON(c, &req) {
		return
	}
	payment, err := s.payments.CreatePayment(c.Request.Context(), req.OrderID, req.Amount)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, payment)
}

// ProcessPayment handles POST /api/payments/:id/process.
func (s *Server) ProcessPayment(c *gin.Context) {
	s.paymentTransition(c, s.payments.Process)
}

// RefundPayment handles POST /api/payments/:id/refund.
func (s *Server) RefundPayment(c *gin.Context) {
	s.paymentTransition(c, s.payments.Refund)
}

// ResetPayment handles POST /api/payments/:id/reset.
func (s *Server) ResetPayment(c *gin.Context) {
	s.paymentTransition(c, s.payments.Reset)
}

// FailPayment handles POST /api/payments/:id/fail.
func (s *Server) FailPayment(c *gin.Context) {
	var req failPaymentRequest
	if !bindJSON(c, &req) {
		return
	}
	payment, err := s.payments.Fail(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (s *Server) paymentTransition(c *gin.Context, run func(ctx context.Context, id string) (domain.Payment, error)) {
	payment, err := run(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

// GetPayment handles GET /api/payments/:id.
func (s *Server) GetPayment(c *gin.Context) {
	view, err := s.queries.Payment(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// ListPayments handles GET /api/payments. orderId takes precedence over status.
func (s *Server) ListPayments(c *gin.Context) {
	limit, ok := intQuery(c, "limit", projection.DefaultQueryLimit)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	var (
		views []projection.PaymentView
		err   error
	)
	switch {
	case c.Query("orderId") != "":
		views, err = s.queries.PaymentsByOrder(ctx, c.Query("orderId"), limit)
	case c.Query("status") != "":
		views, err = s.queries.PaymentsByStatus(ctx, domain.PaymentStatus(strings.ToUpper(c.Query("status"))), limit)
	default:
		views, err = s.queries.Payments(ctx, limit)
	}
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list(views))
}
