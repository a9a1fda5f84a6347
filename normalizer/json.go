package normalizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/shopping_tracker/utils"
	"github.com/shopspring/decimal"
)

type rawLineItem struct {
	Name     string              `json:"name"`
	Quantity decimal.NullDecimal `json:"quantity"`
	Weight   decimal.NullDecimal `json:"weight"`
	Volume   decimal.NullDecimal `json:"volume"`
	Price    decimal.NullDecimal `json:"price"`
}

type rawPurchase struct {
	Timestamp            string              `json:"timestamp"`
	Type                 string              `json:"type"`
	Says                 string              `json:"says"`
	BasketValueGross     decimal.NullDecimal `json:"basketValueGross"`
	OverallBasketSavings decimal.NullDecimal `json:"overallBasketSavings"`
	BasketValueNet       decimal.NullDecimal `json:"basketValueNet"`
	NumberOfItems        *int                `json:"numberOfItems"`
	Payment              []Payment           `json:"payment"`
	Items                []rawLineItem       `json:"items"`
}

type rawExport struct {
	Purchases []rawPurchase `json:"purchases"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTimestamp accepts the ISO-8601 forms found in purchase exports.
// Values without a zone are read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// ParseJSON reads the generic purchase-history export. Timestamps are kept
// exactly as exported because they are part of the purchase natural key.
func ParseJSON(r io.Reader) (*Export, error) {
	var raw rawExport
	dec := json.NewDecoder(r)
	if err := dec.Decode(&raw); err != nil {
		return nil, &ParseError{Format: FormatJSON, Reason: "malformed JSON", Err: err}
	}
	if raw.Purchases == nil {
		return nil, &ParseError{Format: FormatJSON, Reason: `missing "purchases" list`}
	}

	export := &Export{Purchases: make([]Purchase, 0, len(raw.Purchases))}
	for i, rp := range raw.Purchases {
		p := normalizeRawPurchase(rp)
		if _, err := ParseTimestamp(p.Timestamp); err != nil {
			return nil, &ParseError{Format: FormatJSON, Reason: fmt.Sprintf("purchase %d", i), Err: err}
		}
		export.Purchases = append(export.Purchases, p)
	}

	if err := utils.ValidateStruct(export); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, &ParseError{Format: FormatJSON, Reason: fmt.Sprintf("invalid field %s (%s)", verrs[0].Namespace(), verrs[0].Tag())}
		}
		return nil, &ParseError{Format: FormatJSON, Reason: "invalid export", Err: err}
	}
	return export, nil
}

func normalizeRawPurchase(rp rawPurchase) Purchase {
	items := make([]LineItem, 0, len(rp.Items))
	for _, ri := range rp.Items {
		items = append(items, LineItem{
			Name:     strings.TrimSpace(ri.Name),
			Quantity: ri.Quantity.Decimal,
			Weight:   nullIfZeroOrMissing(ri.Weight),
			Volume:   nullIfZeroOrMissing(ri.Volume),
			Price:    ri.Price.Decimal,
		})
	}

	numberOfItems := len(items)
	if rp.NumberOfItems != nil {
		numberOfItems = *rp.NumberOfItems
	}
	payment := rp.Payment
	if payment == nil {
		payment = []Payment{}
	}

	return Purchase{
		Timestamp: strings.TrimSpace(rp.Timestamp),
		Type:      rp.Type,
		Says:      rp.Says,
		// gross is part of the natural key, so it is never stored as NULL
		BasketValueGross:     rp.BasketValueGross.Decimal,
		OverallBasketSavings: rp.OverallBasketSavings,
		BasketValueNet:       rp.BasketValueNet,
		NumberOfItems:        numberOfItems,
		Payment:              payment,
		Items:                items,
	}
}
