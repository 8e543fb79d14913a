package types

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Price is the amount paid for a credit pack in a store currency.
// Amounts are decimal in major units ("4.99"), as reported by app stores
// and payment gateways.
type Price struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"` // ISO 4217 lowercase: "usd", "idr"
}

// NewPrice parses amount (major units) and returns a Price in currency.
func NewPrice(amount, currency string) (Price, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Price{}, fmt.Errorf("price: parse %q: %w", amount, err)
	}
	if d.IsNegative() {
		return Price{}, fmt.Errorf("price: negative amount %s", d)
	}
	return Price{Amount: d, Currency: strings.ToLower(currency)}, nil
}

// MustPrice is like NewPrice but panics on error. Use for static catalogs.
func MustPrice(amount, currency string) Price {
	p, err := NewPrice(amount, currency)
	if err != nil {
		panic(err)
	}
	return p
}

// FromMinor builds a Price from an amount in the currency's smallest unit.
func FromMinor(minor int64, currency string) Price {
	currency = strings.ToLower(currency)
	return Price{
		Amount:   decimal.New(minor, -int32(currencyDecimals(currency))),
		Currency: currency,
	}
}

// Minor returns the amount in the currency's smallest unit, rounded half
// away from zero.
func (p Price) Minor() int64 {
	return p.Amount.Shift(int32(currencyDecimals(p.Currency))).Round(0).IntPart()
}

// IsZero reports whether the amount is zero.
func (p Price) IsZero() bool { return p.Amount.IsZero() }

// IsNegative reports whether the amount is below zero.
func (p Price) IsNegative() bool { return p.Amount.IsNegative() }

// Equal reports whether both prices have the same currency and amount.
func (p Price) Equal(other Price) bool {
	return p.Currency == other.Currency && p.Amount.Equal(other.Amount)
}

// FormatMajor returns the amount with the currency's fixed precision.
func (p Price) FormatMajor() string {
	return p.Amount.StringFixed(int32(currencyDecimals(p.Currency)))
}

// String returns a human-readable price such as "$4.99" or "IDR 15000".
func (p Price) String() string {
	return currencySymbol(p.Currency) + p.FormatMajor()
}

// MarshalJSON implements json.Marshaler.
func (p Price) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Amount   decimal.Decimal `json:"amount"`
		Currency string          `json:"currency"`
		Display  string          `json:"display"`
	}{
		Amount:   p.Amount,
		Currency: p.Currency,
		Display:  p.String(),
	})
}

func currencySymbol(currency string) string {
	symbols := map[string]string{
		"usd": "$",
		"eur": "€",
		"gbp": "£",
		"jpy": "¥",
		"aud": "A$",
		"cad": "C$",
	}
	if sym, ok := symbols[strings.ToLower(currency)]; ok {
		return sym
	}
	return strings.ToUpper(currency) + " "
}

func currencyDecimals(currency string) int {
	zeroDecimal := map[string]bool{
		"jpy": true,
		"krw": true,
		"vnd": true,
		"idr": true,
		"clp": true,
	}
	if zeroDecimal[strings.ToLower(currency)] {
		return 0
	}
	return 2
}
