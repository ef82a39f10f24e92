// Package handlers implements the coffee shop HTTP API on gin.
//
// Handlers translate requests into service calls and queries, and report
// failures with c.Error so middleware.ErrorHandler renders one error shape.
// Route registration lives in RegisterRoutes.
package handlers

import (
	"context"

	"coffeeshop.io/coffeeshop/internal/deadletter"
	"coffeeshop.io/coffeeshop/internal/projection"
	"coffeeshop.io/coffeeshop/internal/service"
)

// Pinger is a dependency checked by the readiness endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server holds the dependencies of every handler.
type Server struct {
	orders    *service.OrderService
	payments  *service.PaymentService
	products  *service.ProductService
	triggers  *service.DeadLetterTriggers
	generator *service.Generator
	queries   *projection.Queries
	registry  *projection.Registry
	sequencer *deadletter.Sequencer
	db        Pinger
}

// ServerDeps holds all dependencies for creating a Server.
type ServerDeps struct {
	Orders    *service.OrderService
	Payments  *service.PaymentService
	Products  *service.ProductService
	Triggers  *service.DeadLetterTriggers
	Generator *service.Generator
	Queries   *projection.Queries
	Registry  *projection.Registry
	Sequencer *deadletter.Sequencer
	// DB is nil with the memory backend.
	DB Pinger
}

// NewServer creates a new Server with all dependencies.
func NewServer(deps ServerDeps) *Server {
	return &Server{
		orders:    deps.Orders,
		payments:  deps.Payments,
		products:  deps.Products,
		triggers:  deps.Triggers,
		generator: deps.Generator,
		queries:   deps.Queries,
		registry:  deps.Registry,
		sequencer: deps.Sequencer,
		db:        deps.DB,
	}
}
