package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"coffeeshop.io/coffeeshop/internal/aggregate"
	"coffeeshop.io/coffeeshop/internal/domain"
	"coffeeshop.io/coffeeshop/internal/pkg/logger"
)

// ProductService handles catalog commands.
type ProductService struct {
	engine *aggregate.Engine[domain.Product]
}

// NewProductService creates a new ProductService.
func NewProductService(engine *aggregate.Engine[domain.Product]) *ProductService {
	return &ProductService{engine: engine}
}

// ProductInput carries the editable product fields. SKU is only read on
// create; an empty SKU is derived from the name.
type ProductInput struct {
	Name        string
	Description string
	Price       domain.Money
	SKU         string
}

func productDecision(cmd domain.ProductCommand) aggregate.Decision[domain.Product] {
	return func(state domain.Product, env domain.Env) ([]domain.Event, error) {
		return domain.DecideProduct(state, cmd, env)
	}
}

// CreateProduct adds a product to the catalog.
func (s *ProductService) CreateProduct(ctx context.Context, in ProductInput) (domain.Product, error) {
	id := s.engine.Env().NewID()
	res, err := s.engine.Create(ctx, id, productDecision(domain.CreateProduct{
		ID:          id,
		Name:        in.Name,
		Description: in.Description,
		Price:       in.Price,
		SKU:         in.SKU,
	}))
	if err != nil {
		return domain.Product{}, fmt.Errorf("create product: %w", err)
	}
	logger.Info("Product created",
		logger.AggregateID(id),
		zap.String("sku", res.State.SKU),
	)
	return res.State, nil
}

// UpdateProduct replaces name, description and price of an active product.
func (s *ProductService) UpdateProduct(ctx context.Context, id string, in ProductInput) (domain.Product, error) {
	return s.execute(ctx, id, domain.UpdateProduct{
		ID:          id,
		Name:        in.Name,
		Description: in.Description,
		Price:       in.Price,
	})
}

// DeleteProduct deactivates a product.
func (s *ProductService) DeleteProduct(ctx context.Context, id string) (domain.Product, error) {
	return s.execute(ctx, id, domain.DeleteProduct{ID: id})
}

// Get folds the product stream.
func (s *ProductService) Get(ctx context.Context, id string) (domain.Product, int64, error) {
	return s.engine.Load(ctx, id)
}

func (s *ProductService) execute(ctx context.Context, id string, cmd domain.ProductCommand) (domain.Product, error) {
	res, err := s.engine.Execute(ctx, id, productDecision(cmd))
	if err != nil {
		return domain.Product{}, fmt.Errorf("product %s: %w", id, err)
	}
	return res.State, nil
}
