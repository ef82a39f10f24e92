package domain

import (
	"regexp"
	"strings"

	apperrors "coffeeshop.io/coffeeshop/internal/pkg/errors"
)

// Product is the folded state of a product stream. Deletion is soft: Active
// turns false and further updates are rejected.
type Product struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       Money  `json:"price"`
	SKU         string `json:"sku"`
	Active      bool   `json:"active"`
}

// Product events.

type ProductCreated struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       Money  `json:"price"`
	SKU         string `json:"sku"`
}

type ProductUpdated struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       Money  `json:"price"`
}

type ProductDeleted struct {
	ID string `json:"id"`
}

func (ProductCreated) EventType() EventType { return EventProductCreated }
func (ProductUpdated) EventType() EventType { return EventProductUpdated }
func (ProductDeleted) EventType() EventType { return EventProductDeleted }

func (e ProductCreated) AggregateID() string { return e.ID }
func (e ProductUpdated) AggregateID() string { return e.ID }
func (e ProductDeleted) AggregateID() string { return e.ID }

func (ProductCreated) isEvent() {}
func (ProductUpdated) isEvent() {}
func (ProductDeleted) isEvent() {}

// Product commands.

type ProductCommand interface {
	commandName() string
	isProductCommand()
}

type CreateProduct struct {
	ID          string
	Name        string
	Description string
	Price       Money
	SKU         string
}

type UpdateProduct struct {
	ID          string
	Name        string
	Description string
	Price       Money
}

type DeleteProduct struct{ ID string }

func (CreateProduct) commandName() string { return "CreateProduct" }
func (UpdateProduct) commandName() string { return "UpdateProduct" }
func (DeleteProduct) commandName() string { return "DeleteProduct" }

func (CreateProduct) isProductCommand() {}
func (UpdateProduct) isProductCommand() {}
func (DeleteProduct) isProductCommand() {}

// DecideProduct validates cmd against state and returns the events to append.
func DecideProduct(state Product, cmd ProductCommand, _ Env) ([]Event, error) {
	switch c := cmd.(type) {
	case CreateProduct:
		if blank(c.ID) {
			return nil, apperrors.Validation("id", "product id is required")
		}
		if err := validateProductFields(c.Name, c.Price); err != nil {
			return nil, err
		}
		sku := strings.TrimSpace(c.SKU)
		if sku == "" {
			sku = NameBasedSKU(c.Name)
		}
		return []Event{ProductCreated{
			ID:          c.ID,
			Name:        c.Name,
			Description: c.Description,
			Price:       NewMoney(c.Price.Amount, c.Price.Currency),
			SKU:         sku,
		}}, nil

	case UpdateProduct:
		if !state.Active {
			return nil, rejectProduct(c, state, "cannot update a deleted product")
		}
		if err := validateProductFields(c.Name, c.Price); err != nil {
			return nil, err
		}
		return []Event{ProductUpdated{
			ID:          state.ID,
			Name:        c.Name,
			Description: c.Description,
			Price:       NewMoney(c.Price.Amount, c.Price.Currency),
		}}, nil

	case DeleteProduct:
		if !state.Active {
			return nil, rejectProduct(c, state, "product is already deleted")
		}
		return []Event{ProductDeleted{ID: state.ID}}, nil
	}
	return nil, apperrors.Validation("command", "unsupported product command")
}

// EvolveProduct applies one event to the product state.
func EvolveProduct(state Product, ev Event) (Product, error) {
	switch e := ev.(type) {
	case ProductCreated:
		return Product{
			ID:          e.ID,
			Name:        e.Name,
			Description: e.Description,
			Price:       e.Price,
			SKU:         e.SKU,
			Active:      true,
		}, nil

	case ProductUpdated:
		state.Name = e.Name
		state.Description = e.Description
		state.Price = e.Price
		return state, nil

	case ProductDeleted:
		state.Active = false
		return state, nil
	}
	return state, unexpectedEvent(AggregateProduct, ev)
}

var nonSKUChars = regexp.MustCompile(`[^A-Z0-9]`)

// NameBasedSKU derives a catalog code from the first three characters of a
// product name: "Espresso" becomes "ESP-LEGACY". Names with no usable
// characters yield "UNK-LEGACY".
func NameBasedSKU(name string) string {
	runes := []rune(name)
	if len(runes) > 3 {
		runes = runes[:3]
	}
	prefix := nonSKUChars.ReplaceAllString(strings.ToUpper(string(runes)), "")
	if prefix == "" {
		prefix = "UNK"
	}
	return prefix + "-LEGACY"
}

func validateProductFields(name string, price Money) error {
	if blank(name) {
		return apperrors.Validation("name", "product name is required")
	}
	if price.IsNegative() {
		return apperrors.Validation("price", "price must not be negative")
	}
	return nil
}

func productState(state Product) string {
	if state.Active {
		return "ACTIVE"
	}
	return "INACTIVE"
}

func rejectProduct(cmd ProductCommand, state Product, reason string) error {
	return apperrors.InvalidStateTransition(cmd.commandName(), productState(state), reason)
}
