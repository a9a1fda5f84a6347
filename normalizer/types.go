// Package normalizer turns retailer export files into one canonical list of
// purchases. It never touches the store.
package normalizer

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type Payment struct {
	Type     string          `json:"type"`
	Category *string         `json:"category,omitempty"`
	Amount   decimal.Decimal `json:"amount"`
}

// LineItem is one product line of a purchase. Weight and Volume are only
// valid when the item is sold by weight or volume.
type LineItem struct {
	Name     string              `json:"name" validate:"required"`
	Quantity decimal.Decimal     `json:"quantity"`
	Weight   decimal.NullDecimal `json:"weight"`
	Volume   decimal.NullDecimal `json:"volume"`
	Price    decimal.Decimal     `json:"price"`
}

type Purchase struct {
	Timestamp            string              `json:"timestamp" validate:"required"`
	Type                 string              `json:"type"`
	Says                 string              `json:"says"`
	BasketValueGross     decimal.Decimal     `json:"basketValueGross"`
	OverallBasketSavings decimal.NullDecimal `json:"overallBasketSavings"`
	BasketValueNet       decimal.NullDecimal `json:"basketValueNet"`
	NumberOfItems        int                 `json:"numberOfItems" validate:"gte=0"`
	Payment              []Payment           `json:"payment"`
	Items                []LineItem          `json:"items" validate:"dive"`
}

// Export is the canonical shape both formats normalize into.
type Export struct {
	Purchases []Purchase `json:"purchases" validate:"dive"`
}

const (
	FormatJSON    = "json"
	FormatTabular = "tabular"
)

// ParseError reports why a file could not be read. Nothing has been written
// to the store when one is returned.
type ParseError struct {
	Format string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s import: %s: %v", e.Format, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s import: %s", e.Format, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// nullIfZeroOrMissing maps an absent or zero magnitude to SQL NULL.
func nullIfZeroOrMissing(d decimal.NullDecimal) decimal.NullDecimal {
	if !d.Valid || d.Decimal.IsZero() {
		return decimal.NullDecimal{}
	}
	return d
}
