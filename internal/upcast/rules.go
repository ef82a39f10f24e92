package upcast

import (
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"

	"coffeeshop.io/coffeeshop/internal/domain"
	"coffeeshop.io/coffeeshop/internal/pkg/logger"
)

// DefaultRules returns the rule set for every historical schema the shop has
// stored.
func DefaultRules(skus *SkuLookup) []Rule {
	return []Rule{
		{EventType: domain.EventItemAddedToOrder, From: "1", To: "2", Apply: moneyField("price")},
		{EventType: domain.EventOrderSubmitted, From: "1", To: "2", Apply: moneyField("totalAmount")},
		{EventType: domain.EventPaymentCreated, From: "1", To: "2", Apply: moneyField("amount")},
		{EventType: domain.EventProductCreated, From: "1", To: "2", Apply: backfillSKU(skus)},
		{EventType: domain.EventProductCreated, From: "2", To: "3", Apply: moneyField("price")},
		{EventType: domain.EventProductUpdated, From: "1", To: "2", Apply: moneyField("price")},
	}
}

// DefaultChain builds the chain from DefaultRules. The rule table is static,
// so a construction error is a programming error.
func DefaultChain(skus *SkuLookup) *Chain {
	c, err := NewChain(DefaultRules(skus)...)
	if err != nil {
		panic(err)
	}
	return c
}

// moneyField rewrites a bare numeric amount {"price": 3.5} into
// {"price": {"amount": 3.5, "currency": "USD"}}. A field already in object
// form is left alone; a missing field becomes zero.
func moneyField(path string) func([]byte) []byte {
	return func(payload []byte) []byte {
		v := gjson.GetBytes(payload, path)
		var raw string
		switch v.Type {
		case gjson.JSON:
			if v.IsObject() {
				return payload
			}
			raw = `"0"`
		case gjson.Number:
			raw = v.Raw
		case gjson.String:
			raw = v.Raw
		default:
			raw = `"0"`
		}
		out, err := sjson.SetRawBytes(payload, path, []byte(`{"amount":`+raw+`,"currency":"`+domain.CurrencyUSD+`"}`))
		if err != nil {
			logger.Error("upcast money field failed",
				zap.String("field", path),
				zap.Error(err),
			)
			return payload
		}
		return out
	}
}

func backfillSKU(skus *SkuLookup) func([]byte) []byte {
	return func(payload []byte) []byte {
		if strings.TrimSpace(gjson.GetBytes(payload, "sku").String()) != "" {
			return payload
		}
		id := gjson.GetBytes(payload, "id").String()
		name := gjson.GetBytes(payload, "name").String()
		sku := skus.SKUFor(id, name)
		out, err := sjson.SetBytes(payload, "sku", sku)
		if err != nil {
			logger.Error("upcast sku backfill failed",
				zap.String("product_id", id),
				zap.Error(err),
			)
			return payload
		}
		logger.Debug("Backfilled SKU on historical ProductCreated",
			logger.AggregateID(id),
			zap.String("sku", sku),
		)
		return out
	}
}
