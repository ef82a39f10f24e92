package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"coffeeshop.io/coffeeshop/internal/domain"
	"coffeeshop.io/coffeeshop/internal/eventstore"
	apperrors "coffeeshop.io/coffeeshop/internal/pkg/errors"
	"coffeeshop.io/coffeeshop/internal/pkg/logger"
)

// legacyProductRevision is the ProductCreated schema from before products
// carried a SKU and prices carried a currency.
const legacyProductRevision = "1"

// legacyScanPage is how many records a search for a legacy product reads per
// round trip.
const legacyScanPage = 500

// EventLog is the raw log the generator writes historical records into,
// bypassing the command services. Dispatcher may be nil.
type EventLog struct {
	Store      eventstore.Store
	Dispatcher *eventstore.Dispatcher
}

// legacyProductCreated is the revision 1 ProductCreated payload.
type legacyProductCreated struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Price       json.Number `json:"price"`
}

// UpcastDemonstration shows one legacy product as stored and as the
// upcaster chain presents it to the aggregate.
type UpcastDemonstration struct {
	ProductID      string          `json:"productId"`
	StoredRevision string          `json:"storedRevision"`
	StoredPayload  json.RawMessage `json:"storedPayload"`
	SKU            string          `json:"sku"`
	Price          domain.Money    `json:"price"`
	Product        domain.Product  `json:"product"`
	Version        int64           `json:"version"`
}

// GenerateLegacyProducts appends count revision 1 ProductCreated records
// straight to the log: no sku field and a bare numeric price. It returns the
// new product ids.
func (g *Generator) GenerateLegacyProducts(ctx context.Context, count int) ([]string, error) {
	if g.log.Store == nil {
		return nil, fmt.Errorf("generate legacy products: no event log configured")
	}
	ids := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		id := uuid.NewString()
		payload, err := json.Marshal(legacyProductCreated{
			ID:          id,
			Name:        fmt.Sprintf("%s (Legacy #%d)", productNames[(i-1)%len(productNames)], i),
			Description: "Product created before SKUs were tracked",
			Price:       json.Number(decimal.RequireFromString("3.00").Add(decimal.NewFromInt(int64(i % 5))).StringFixed(2)),
		})
		if err != nil {
			return ids, fmt.Errorf("encode legacy product: %w", err)
		}
		appended, err := g.log.Store.Append(ctx, id, eventstore.NoStream, []eventstore.Record{{
			EventID:       uuid.NewString(),
			AggregateType: domain.AggregateProduct,
			AggregateID:   id,
			EventType:     domain.EventProductCreated,
			Revision:      legacyProductRevision,
			Payload:       payload,
			Metadata: map[string]string{
				eventstore.MetaAggregateID:   id,
				eventstore.MetaAggregateType: string(domain.AggregateProduct),
			},
		}})
		if err != nil {
			return ids, fmt.Errorf("append legacy product: %w", err)
		}
		g.log.Dispatcher.Dispatch(ctx, appended)
		ids = append(ids, id)
	}
	logger.Info("Legacy products generated",
		zap.Int("count", len(ids)),
		zap.String("revision", legacyProductRevision),
	)
	return ids, nil
}

// DemonstrateUpcaster loads a legacy product through the upcaster chain and
// updates it, so the backfilled SKU and the upcast price reach the product
// view. An empty productID picks the oldest legacy product in the log.
func (g *Generator) DemonstrateUpcaster(ctx context.Context, productID string) (UpcastDemonstration, error) {
	stored, err := g.findLegacyProduct(ctx, productID)
	if err != nil {
		return UpcastDemonstration{}, err
	}

	product, _, err := g.products.Get(ctx, stored.AggregateID)
	if err != nil {
		return UpcastDemonstration{}, err
	}
	updated, err := g.products.UpdateProduct(ctx, product.ID, ProductInput{
		Name:        product.Name,
		Description: product.Description,
		Price:       product.Price,
	})
	if err != nil {
		return UpcastDemonstration{}, err
	}
	_, version, err := g.products.Get(ctx, product.ID)
	if err != nil {
		return UpcastDemonstration{}, err
	}

	logger.Info("Upcaster demonstrated on legacy product",
		logger.AggregateID(product.ID),
		zap.String("sku", product.SKU),
		zap.String("price", product.Price.String()),
	)
	return UpcastDemonstration{
		ProductID:      product.ID,
		StoredRevision: stored.Revision,
		StoredPayload:  stored.Payload,
		SKU:            product.SKU,
		Price:          product.Price,
		Product:        updated,
		Version:        version,
	}, nil
}

func (g *Generator) findLegacyProduct(ctx context.Context, productID string) (eventstore.Record, error) {
	if g.log.Store == nil {
		return eventstore.Record{}, fmt.Errorf("demonstrate upcaster: no event log configured")
	}
	if productID != "" {
		recs, err := g.log.Store.Load(ctx, productID, 0)
		if err != nil {
			return eventstore.Record{}, err
		}
		if len(recs) > 0 && isLegacyProduct(recs[0]) {
			return recs[0], nil
		}
		return eventstore.Record{}, legacyNotFound(productID)
	}

	var after int64
	for {
		recs, err := g.log.Store.ReadAll(ctx, after, legacyScanPage)
		if err != nil {
			return eventstore.Record{}, err
		}
		for _, r := range recs {
			if isLegacyProduct(r) {
				return r, nil
			}
		}
		if len(recs) < legacyScanPage {
			return eventstore.Record{}, legacyNotFound("")
		}
		after = recs[len(recs)-1].GlobalPosition
	}
}

func isLegacyProduct(r eventstore.Record) bool {
	return r.EventType == domain.EventProductCreated && r.Revision == legacyProductRevision
}

func legacyNotFound(productID string) error {
	msg := "no legacy product in the event log; generate some first"
	if productID != "" {
		msg = fmt.Sprintf("product %s was not created under the legacy schema", productID)
	}
	return apperrors.NotFound(apperrors.CodeLegacyProductNotFound, msg).
		WithParams(map[string]interface{}{"product_id": productID})
}
