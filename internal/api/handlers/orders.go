package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"coffeeshop.io/coffeeshop/internal/domain"
	"coffeeshop.io/coffeeshop/internal/projection"
	"coffeeshop.io/coffeeshop/internal/service"
)

type createOrderRequest struct {
	CustomerID string `json:"customerId"`
}

type addItemRequest struct {
	ProductID   string       `json:"productId"`
	ProductName string       `json:"productName"`
	Quantity    int          `json:"quantity"`
	Price       domain.Money `json:"price"`
}

type correctNameRequest struct {
	CorrectedProductName string `json:"correctedProductName"`
}

// CreateOrder handles POST /api/orders.
func (s *Server) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if !bindJSON(c, &req) {
		return
	}
	order, err := s.orders.CreateOrder(c.Request.Context(), req.CustomerID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

// AddOrderItem handles POST /api/orders/:id/items.
func (s *Server) AddOrderItem(c *gin.Context) {
	var req addItemRequest
	if !bindJSON(c, &req) {
		return
	}
	order, err := s.orders.AddItem(c.Request.Context(), c.Param("id"), service.ItemInput{
		ProductID:   req.ProductID,
		ProductName: req.ProductName,
		Quantity:    req.Quantity,
		Price:       req.Price,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// SubmitOrder handles POST /api/orders/:id/submit.
func (s *Server) SubmitOrder(c *gin.Context) {
	s.orderTransition(c, s.orders.Submit)
}

// DeliverOrder handles POST /api/orders/:id/deliver.
func (s *Server) DeliverOrder(c *gin.Context) {
	s.orderTransition(c, s.orders.Deliver)
}

// CompleteOrder handles POST /api/orders/:id/complete.
func (s *Server) CompleteOrder(c *gin.Context) {
	s.orderTransition(c, s.orders.Complete)
}

func (s *Server) orderTransition(c *gin.Context, run func(ctx context.Context, id string) (domain.Order, error)) {
	order, err := run(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// CorrectOrderItemName handles POST /api/orders/:id/items/:productId/correct-name.
func (s *Server) CorrectOrderItemName(c *gin.Context) {
	var req correctNameRequest
	if !bindJSON(c, &req) {
		return
	}
	order, err := s.orders.CorrectProductName(c.Request.Context(), c.Param("id"), c.Param("productId"), req.CorrectedProductName)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// GetOrder handles GET /api/orders/:id.
func (s *Server) GetOrder(c *gin.Context) {
	view, err := s.queries.Order(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// ListOrders handles GET /api/orders. customerId takes precedence over status.
func (s *Server) ListOrders(c *gin.Context) {
	limit, ok := intQuery(c, "limit", projection.DefaultQueryLimit)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	var (
		views []projection.OrderView
		err   error
	)
	switch {
	case c.Query("customerId") != "":
		views, err = s.queries.OrdersByCustomer(ctx, c.Query("customerId"), limit)
	case c.Query("status") != "":
		views, err = s.queries.OrdersByStatus(ctx, domain.OrderStatus(strings.ToUpper(c.Query("status"))), limit)
	default:
		views, err = s.queries.Orders(ctx, limit)
	}
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list(views))
}
