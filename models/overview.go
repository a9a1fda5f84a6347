package models

import (
	"context"

	"github.com/shopspring/decimal"
)

type TableCounts struct {
	Purchases         int64 `json:"purchases"`
	Items             int64 `json:"items"`
	Prices            int64 `json:"prices"`
	Amounts           int64 `json:"amounts"`
	PricePurchases    int64 `json:"price_purchases"`
	CombinedItems     int64 `json:"combined_items"`
	CombinedItemLinks int64 `json:"combined_item_links"`
}

type Overview struct {
	Counts        TableCounts     `json:"counts"`
	TotalSpent    decimal.Decimal `json:"total_spent"`
	FirstPurchase *string         `json:"first_purchase"`
	LastPurchase  *string         `json:"last_purchase"`
}

// Overview summarises the whole store for a dashboard header.
func (t *Tracker) Overview(ctx context.Context) (*Overview, error) {
	db, err := t.store.GetDB(ctx)
	if err != nil {
		return nil, err
	}

	var overview Overview
	counts := []struct {
		model interface{}
		dest  *int64
	}{
		{&Purchase{}, &overview.Counts.Purchases},
		{&Item{}, &overview.Counts.Items},
		{&Price{}, &overview.Counts.Prices},
		{&Amount{}, &overview.Counts.Amounts},
		{&PricePurchase{}, &overview.Counts.PricePurchases},
		{&CombinedItem{}, &overview.Counts.CombinedItems},
		{&CombinedItemLink{}, &overview.Counts.CombinedItemLinks},
	}
	for _, c := range counts {
		if err := db.Model(c.model).Count(c.dest).Error; err != nil {
			return nil, err
		}
	}

	rows, err := loadAmountRows(ctx, t.store, nil)
	if err != nil {
		return nil, err
	}
	overview.TotalSpent = decimal.Zero
	for _, row := range rows {
		overview.TotalSpent = overview.TotalSpent.Add(row.Price.Mul(row.effectiveQuantity()))
	}
	// rows are newest first
	if len(rows) > 0 {
		last := rows[0].Timestamp
		first := rows[len(rows)-1].Timestamp
		overview.LastPurchase = &last
		overview.FirstPurchase = &first
	}
	return &overview, nil
}
