package models

import (
	"context"
	"slices"

	"github.com/shopspring/decimal"
)

type CombinedItemStats struct {
	ID            int              `json:"id"`
	Name          string           `json:"name"`
	ItemIds       []int            `json:"item_ids"`
	TotalQuantity decimal.Decimal  `json:"total_quantity"`
	TotalSpent    decimal.Decimal  `json:"total_spent"`
	LatestPrice   *decimal.Decimal `json:"latest_price"`
	LastPurchased *string          `json:"last_purchased"`
	Items         []ItemStats      `json:"items"`
}

// mergeItemStats sums the linked items' totals. The latest price comes from
// whichever item was bought most recently.
func mergeItemStats(detail CombinedItemDetail, parts []ItemStats) CombinedItemStats {
	stats := CombinedItemStats{
		ID:            detail.ID,
		Name:          detail.Name,
		ItemIds:       detail.ItemIds(),
		TotalQuantity: decimal.Zero,
		TotalSpent:    decimal.Zero,
		Items:         parts,
	}
	var latest *ItemStats
	for i := range parts {
		part := &parts[i]
		stats.TotalQuantity = stats.TotalQuantity.Add(part.TotalQuantity)
		stats.TotalSpent = stats.TotalSpent.Add(part.TotalSpent)
		if part.LatestPrice == nil {
			continue
		}
		if latest == nil || part.lastPurchasedAt.After(latest.lastPurchasedAt) {
			latest = part
		}
	}
	if latest != nil {
		stats.LatestPrice = latest.LatestPrice
		stats.LastPurchased = latest.LastPurchased
	}
	return stats
}

// CombinedItemWithStats returns nil when the combined item does not exist.
func (t *Tracker) CombinedItemWithStats(ctx context.Context, id int) (*CombinedItemStats, error) {
	ctx, span := tracer.Start(ctx, "CombinedItemWithStats")
	defer span.End()

	db, err := t.store.GetDB(ctx)
	if err != nil {
		return nil, err
	}
	detail, err := findCombinedItem(db, id)
	if err != nil || detail == nil {
		return nil, err
	}
	rows, err := loadAmountRows(ctx, t.store, detail.ItemIds())
	if err != nil {
		return nil, err
	}
	grouped := groupRowsByItem(rows)

	parts := make([]ItemStats, 0, len(detail.Items))
	for _, item := range detail.Items {
		parts = append(parts, buildItemStats(item, grouped[item.ID]))
	}
	stats := mergeItemStats(*detail, parts)
	return &stats, nil
}

// CombinedItemPurchaseHistory is the union of the linked items' histories,
// newest first. Nil when the combined item does not exist.
func (t *Tracker) CombinedItemPurchaseHistory(ctx context.Context, id int) ([]PurchaseHistoryEntry, error) {
	db, err := t.store.GetDB(ctx)
	if err != nil {
		return nil, err
	}
	detail, err := findCombinedItem(db, id)
	if err != nil || detail == nil {
		return nil, err
	}
	rows, err := loadAmountRows(ctx, t.store, detail.ItemIds())
	if err != nil {
		return nil, err
	}
	return historyFromRows(rows), nil
}

// mergeChartPoints groups oldest-first history by exact timestamp. Each
// point's price is the quantity-weighted mean and its quantity the sum.
func mergeChartPoints(history []PurchaseHistoryEntry) []ChartPoint {
	type bucket struct {
		timestamp string
		spent     decimal.Decimal
		quantity  decimal.Decimal
		prices    []decimal.Decimal
	}
	var order []string
	buckets := map[string]*bucket{}
	for _, entry := range history {
		b, ok := buckets[entry.Timestamp]
		if !ok {
			b = &bucket{timestamp: entry.Timestamp, spent: decimal.Zero, quantity: decimal.Zero}
			buckets[entry.Timestamp] = b
			order = append(order, entry.Timestamp)
		}
		b.spent = b.spent.Add(entry.Price.Mul(entry.Quantity))
		b.quantity = b.quantity.Add(entry.Quantity)
		b.prices = append(b.prices, entry.Price)
	}

	points := make([]ChartPoint, 0, len(order))
	for _, timestamp := range order {
		b := buckets[timestamp]
		var price decimal.Decimal
		if b.quantity.IsZero() {
			price = decimal.Avg(b.prices[0], b.prices[1:]...)
		} else {
			price = b.spent.Div(b.quantity)
		}
		points = append(points, chartPoint(timestamp, price, b.quantity))
	}
	return points
}

func (t *Tracker) CombinedItemChartData(ctx context.Context, id int) ([]ChartPoint, error) {
	history, err := t.CombinedItemPurchaseHistory(ctx, id)
	if err != nil || history == nil {
		return nil, err
	}
	slices.Reverse(history)
	return mergeChartPoints(history), nil
}

// CombinedItemDaysBetweenPurchasesData measures gaps between the distinct
// timestamps at which any linked item was bought.
func (t *Tracker) CombinedItemDaysBetweenPurchasesData(ctx context.Context, id int, excludeTopN int) (*PurchaseCadence, error) {
	db, err := t.store.GetDB(ctx)
	if err != nil {
		return nil, err
	}
	detail, err := findCombinedItem(db, id)
	if err != nil || detail == nil {
		return nil, err
	}
	rows, err := loadAmountRows(ctx, t.store, detail.ItemIds())
	if err != nil {
		return nil, err
	}

	var instants []purchaseInstant
	seen := map[string]bool{}
	for i := len(rows) - 1; i >= 0; i-- {
		if seen[rows[i].Timestamp] {
			continue
		}
		seen[rows[i].Timestamp] = true
		instants = append(instants, purchaseInstant{Timestamp: rows[i].Timestamp, at: rows[i].at})
	}
	cadence := computeCadence(instants, excludeTopN)
	return &cadence, nil
}
