package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// CurrencyUSD is the only currency the shop trades in.
const CurrencyUSD = "USD"

// moneyScale is the number of decimal places every Money amount carries.
const moneyScale = 2

// TaxRate is the fixed sales tax applied at order submission.
var TaxRate = decimal.RequireFromString("0.0825")

// Money is a non-floating amount in a currency. Amounts are always held at
// cent precision so a value folded in memory and one decoded from the log
// compare equal.
type Money struct {
	Amount   decimal.Decimal
	Currency string
}

// NewMoney rounds amount half-up to cents.
func NewMoney(amount decimal.Decimal, currency string) Money {
	if currency == "" {
		currency = CurrencyUSD
	}
	return Money{Amount: amount.Round(moneyScale), Currency: currency}
}

// USD parses a decimal string into a USD amount.
func USD(amount string) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	return NewMoney(d, CurrencyUSD), nil
}

// MustUSD is USD for literals known to be valid.
func MustUSD(amount string) Money {
	m, err := USD(amount)
	if err != nil {
		panic(err)
	}
	return m
}

// ZeroUSD returns 0.00 USD.
func ZeroUSD() Money {
	return NewMoney(decimal.Zero, CurrencyUSD)
}

// ErrCurrencyMismatch is returned when amounts in different currencies are
// combined.
var ErrCurrencyMismatch = errors.New("currency mismatch")

// Add returns m + o, or ErrCurrencyMismatch when the currencies differ.
func (m Money) Add(o Money) (Money, error) {
	if m.currency() != o.currency() {
		return Money{}, fmt.Errorf("%w: %s + %s", ErrCurrencyMismatch, m.currency(), o.currency())
	}
	return NewMoney(m.Amount.Add(o.Amount), m.currency()), nil
}

// Times returns m multiplied by a quantity.
func (m Money) Times(quantity int) Money {
	return NewMoney(m.Amount.Mul(decimal.NewFromInt(int64(quantity))), m.currency())
}

// WithTax returns m plus m × TaxRate, rounded to cents once at the end.
func (m Money) WithTax() Money {
	return NewMoney(m.Amount.Add(m.Amount.Mul(TaxRate)), m.currency())
}

// Equal compares amount and currency.
func (m Money) Equal(o Money) bool {
	return m.currency() == o.currency() && m.Amount.Equal(o.Amount)
}

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool { return m.Amount.IsNegative() }

// IsPositive reports whether the amount is above zero.
func (m Money) IsPositive() bool { return m.Amount.IsPositive() }

func (m Money) String() string {
	return m.Amount.StringFixed(moneyScale) + " " + m.currency()
}

func (m Money) currency() string {
	if m.Currency == "" {
		return CurrencyUSD
	}
	return m.Currency
}

type moneyJSON struct {
	Amount   json.RawMessage `json:"amount"`
	Currency string          `json:"currency"`
}

// MarshalJSON renders {"amount":"7.58","currency":"USD"}.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Amount   string `json:"amount"`
		Currency string `json:"currency"`
	}{
		Amount:   m.Amount.StringFixed(moneyScale),
		Currency: m.currency(),
	})
}

// UnmarshalJSON accepts the object form with a string or numeric amount,
// and also a bare number or numeric string (legacy payloads).
func (m *Money) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*m = Money{}
		return nil
	}

	if data[0] != '{' {
		d, err := decodeAmount(data)
		if err != nil {
			return err
		}
		*m = NewMoney(d, CurrencyUSD)
		return nil
	}

	var raw moneyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode money: %w", err)
	}
	d, err := decodeAmount(raw.Amount)
	if err != nil {
		return err
	}
	*m = NewMoney(d, raw.Currency)
	return nil
}

func decodeAmount(raw json.RawMessage) (decimal.Decimal, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return decimal.Zero, fmt.Errorf("decode money: missing amount")
	}
	s := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Zero, fmt.Errorf("decode money amount: %w", err)
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("decode money amount %q: %w", s, err)
	}
	return d, nil
}
