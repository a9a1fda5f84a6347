package models

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/mmdatafocus/shopping_tracker/config"
	"github.com/mmdatafocus/shopping_tracker/normalizer"
	"github.com/mmdatafocus/shopping_tracker/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ChartDateLayout is how chart points label their timestamp.
const ChartDateLayout = "02 Jan 2006 15:04"

type SortField string

const (
	SortByName          SortField = "name"
	SortByTotalQuantity SortField = "totalQuantity"
	SortByTotalSpent    SortField = "totalSpent"
	SortByLatestPrice   SortField = "latestPrice"
)

type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

var (
	ErrInvalidSortField     = errors.New("invalid sort field")
	ErrInvalidSortDirection = errors.New("invalid sort direction")
)

type ItemFilter struct {
	// Search is a case-insensitive substring of the item name.
	Search        string
	SortField     SortField
	SortDirection SortDirection
}

type ItemStats struct {
	ID            int              `json:"id"`
	Name          string           `json:"name"`
	TotalQuantity decimal.Decimal  `json:"total_quantity"`
	TotalSpent    decimal.Decimal  `json:"total_spent"`
	LatestPrice   *decimal.Decimal `json:"latest_price"`
	LastPurchased *string          `json:"last_purchased"`
	PurchaseCount int              `json:"purchase_count"`
	// representative magnitudes, for labelling only
	Weight *decimal.Decimal `json:"weight"`
	Volume *decimal.Decimal `json:"volume"`

	lastPurchasedAt time.Time
}

type PurchaseHistoryEntry struct {
	PurchaseId int              `json:"purchase_id"`
	ItemId     int              `json:"item_id"`
	ItemName   string           `json:"item_name"`
	Timestamp  string           `json:"timestamp"`
	Price      decimal.Decimal  `json:"price"`
	Weight     *decimal.Decimal `json:"weight"`
	Volume     *decimal.Decimal `json:"volume"`
	Quantity   decimal.Decimal  `json:"quantity"`
	// Cost is only set when the quantity is not exactly one.
	Cost *decimal.Decimal `json:"cost"`
}

type ChartPoint struct {
	Timestamp string          `json:"timestamp"`
	Date      string          `json:"date"`
	Time      int64           `json:"time"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
}

// itemSorters is the only set of orderings the item list accepts.
var itemSorters = map[SortField]func(a, b ItemStats) int{
	SortByName: func(a, b ItemStats) int {
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	},
	SortByTotalQuantity: func(a, b ItemStats) int {
		return a.TotalQuantity.Cmp(b.TotalQuantity)
	},
	SortByTotalSpent: func(a, b ItemStats) int {
		return a.TotalSpent.Cmp(b.TotalSpent)
	},
	SortByLatestPrice: func(a, b ItemStats) int {
		return compareOptionalDecimal(a.LatestPrice, b.LatestPrice)
	},
}

// nil sorts before any price
func compareOptionalDecimal(a, b *decimal.Decimal) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	default:
		return a.Cmp(*b)
	}
}

// SortItemStats orders stats in place. Equal keys keep store order.
func SortItemStats(stats []ItemStats, field SortField, direction SortDirection) error {
	if field == "" {
		field = SortByName
	}
	if direction == "" {
		direction = SortAsc
	}
	compare, ok := itemSorters[field]
	if !ok {
		return ErrInvalidSortField
	}
	if direction != SortAsc && direction != SortDesc {
		return ErrInvalidSortDirection
	}
	slices.SortStableFunc(stats, func(a, b ItemStats) int {
		if direction == SortDesc {
			return compare(b, a)
		}
		return compare(a, b)
	})
	return nil
}

// amountRow is one amount joined to its purchase and the price paid.
type amountRow struct {
	AmountId   int
	ItemId     int
	ItemName   string
	PurchaseId int
	Timestamp  string
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	Weight     decimal.NullDecimal
	Volume     decimal.NullDecimal

	at time.Time
}

func (r amountRow) effectiveQuantity() decimal.Decimal {
	return effectiveQuantity(r.Quantity, r.Volume)
}

// amountPriceIdSql resolves the price an amount was paid at. Amounts without a
// recorded price take the first price linked to their purchase and item.
const amountPriceIdSql = `COALESCE(a.price_id, (
        SELECT pp.price_id
        FROM price_purchases pp
            JOIN prices p ON p.id = pp.price_id
        WHERE pp.purchase_id = a.purchase_id AND p.item_id = a.item_id
        ORDER BY pp.id
        LIMIT 1
    ))`

const amountRowsSql = `
SELECT
    a.id AS amount_id,
    a.item_id,
    i.name AS item_name,
    a.purchase_id,
    pu.timestamp,
    pr.price,
    a.quantity,
    a.weight,
    a.volume
FROM amounts a
    JOIN items i ON i.id = a.item_id
    JOIN purchases pu ON pu.id = a.purchase_id
    JOIN prices pr ON pr.id = ` + amountPriceIdSql + `
`

// loadAmountRows returns rows for itemIds (every item when nil), newest
// purchase first.
func loadAmountRows(ctx context.Context, store *config.Store, itemIds []int) ([]amountRow, error) {
	var rows []amountRow
	if itemIds == nil {
		if err := store.Query(ctx, &rows, amountRowsSql+" ORDER BY pu.timestamp DESC, a.id DESC"); err != nil {
			return nil, err
		}
	} else {
		for _, chunk := range utils.ChunkSlice(utils.UniqueSlice(itemIds), lookupChunkSize) {
			var batch []amountRow
			if err := store.Query(ctx, &batch, amountRowsSql+" WHERE a.item_id IN ? ORDER BY pu.timestamp DESC, a.id DESC", chunk); err != nil {
				return nil, err
			}
			rows = append(rows, batch...)
		}
	}

	for i := range rows {
		if at, err := normalizer.ParseTimestamp(rows[i].Timestamp); err == nil {
			rows[i].at = at
		}
	}
	// timestamps may carry different offsets, so text order is only a hint
	slices.SortStableFunc(rows, func(a, b amountRow) int {
		if c := b.at.Compare(a.at); c != 0 {
			return c
		}
		if c := strings.Compare(b.Timestamp, a.Timestamp); c != 0 {
			return c
		}
		return b.AmountId - a.AmountId
	})
	return rows, nil
}

// buildItemStats aggregates one item's rows, which must be newest first.
func buildItemStats(item Item, rows []amountRow) ItemStats {
	stats := ItemStats{
		ID:            item.ID,
		Name:          item.Name,
		TotalQuantity: decimal.Zero,
		TotalSpent:    decimal.Zero,
	}
	purchases := map[int]bool{}
	for _, row := range rows {
		qty := row.effectiveQuantity()
		stats.TotalQuantity = stats.TotalQuantity.Add(qty)
		stats.TotalSpent = stats.TotalSpent.Add(row.Price.Mul(qty))
		purchases[row.PurchaseId] = true
		if stats.Weight == nil && isLabelMagnitude(row.Weight) {
			stats.Weight = utils.NullDecimalPtr(row.Weight)
		}
		if stats.Volume == nil && isLabelMagnitude(row.Volume) {
			stats.Volume = utils.NullDecimalPtr(row.Volume)
		}
	}
	stats.PurchaseCount = len(purchases)
	if len(rows) > 0 {
		latest := rows[0]
		price := latest.Price
		timestamp := latest.Timestamp
		stats.LatestPrice = &price
		stats.LastPurchased = &timestamp
		stats.lastPurchasedAt = latest.at
	}
	return stats
}

// zero and one carry no unit information
func isLabelMagnitude(d decimal.NullDecimal) bool {
	return d.Valid && !d.Decimal.IsZero() && !d.Decimal.Equal(decimal.NewFromInt(1))
}

func groupRowsByItem(rows []amountRow) map[int][]amountRow {
	grouped := map[int][]amountRow{}
	for _, row := range rows {
		grouped[row.ItemId] = append(grouped[row.ItemId], row)
	}
	return grouped
}

// ItemsWithStats lists every item matching the filter with its totals.
func (t *Tracker) ItemsWithStats(ctx context.Context, filter ItemFilter) ([]ItemStats, error) {
	ctx, span := tracer.Start(ctx, "ItemsWithStats")
	defer span.End()

	db, err := t.store.GetDB(ctx)
	if err != nil {
		return nil, err
	}
	var items []Item
	if err := db.Order("id").Find(&items).Error; err != nil {
		return nil, err
	}
	rows, err := loadAmountRows(ctx, t.store, nil)
	if err != nil {
		return nil, err
	}
	grouped := groupRowsByItem(rows)

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	stats := make([]ItemStats, 0, len(items))
	for _, item := range items {
		if search != "" && !strings.Contains(strings.ToLower(item.Name), search) {
			continue
		}
		stats = append(stats, buildItemStats(item, grouped[item.ID]))
	}
	if err := SortItemStats(stats, filter.SortField, filter.SortDirection); err != nil {
		return nil, err
	}
	return stats, nil
}

func findItem(db *gorm.DB, id int) (*Item, error) {
	var item Item
	err := db.First(&item, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ItemWithStats returns nil when the item does not exist.
func (t *Tracker) ItemWithStats(ctx context.Context, id int) (*ItemStats, error) {
	db, err := t.store.GetDB(ctx)
	if err != nil {
		return nil, err
	}
	item, err := findItem(db, id)
	if err != nil || item == nil {
		return nil, err
	}
	rows, err := loadAmountRows(ctx, t.store, []int{id})
	if err != nil {
		return nil, err
	}
	stats := buildItemStats(*item, rows)
	return &stats, nil
}

func historyFromRows(rows []amountRow) []PurchaseHistoryEntry {
	history := make([]PurchaseHistoryEntry, 0, len(rows))
	for _, row := range rows {
		qty := row.effectiveQuantity()
		entry := PurchaseHistoryEntry{
			PurchaseId: row.PurchaseId,
			ItemId:     row.ItemId,
			ItemName:   row.ItemName,
			Timestamp:  row.Timestamp,
			Price:      row.Price,
			Weight:     utils.NullDecimalPtr(row.Weight),
			Volume:     utils.NullDecimalPtr(row.Volume),
			Quantity:   qty,
		}
		if !qty.Equal(decimal.NewFromInt(1)) {
			cost := row.Price.Mul(qty)
			entry.Cost = &cost
		}
		history = append(history, entry)
	}
	return history
}

// ItemPurchaseHistory lists every purchase of the item, newest first.
func (t *Tracker) ItemPurchaseHistory(ctx context.Context, id int) ([]PurchaseHistoryEntry, error) {
	rows, err := loadAmountRows(ctx, t.store, []int{id})
	if err != nil {
		return nil, err
	}
	return historyFromRows(rows), nil
}

func chartPoint(timestamp string, price, quantity decimal.Decimal) ChartPoint {
	point := ChartPoint{
		Timestamp: timestamp,
		Date:      timestamp,
		Price:     price,
		Quantity:  quantity,
	}
	if at, err := normalizer.ParseTimestamp(timestamp); err == nil {
		point.Date = at.UTC().Format(ChartDateLayout)
		point.Time = at.UnixMilli()
	}
	return point
}

// ItemChartData is the purchase history oldest first, ready for plotting.
func (t *Tracker) ItemChartData(ctx context.Context, id int) ([]ChartPoint, error) {
	history, err := t.ItemPurchaseHistory(ctx, id)
	if err != nil {
		return nil, err
	}
	points := make([]ChartPoint, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		points = append(points, chartPoint(history[i].Timestamp, history[i].Price, history[i].Quantity))
	}
	return points, nil
}

// DaysBetweenPurchasesData measures the gaps between the item's purchases,
// ignoring the excludeTopN longest when averaging. Nil when the item does
// not exist.
func (t *Tracker) DaysBetweenPurchasesData(ctx context.Context, id int, excludeTopN int) (*PurchaseCadence, error) {
	db, err := t.store.GetDB(ctx)
	if err != nil {
		return nil, err
	}
	item, err := findItem(db, id)
	if err != nil || item == nil {
		return nil, err
	}
	rows, err := loadAmountRows(ctx, t.store, []int{id})
	if err != nil {
		return nil, err
	}

	// one instant per purchase, oldest first
	var instants []purchaseInstant
	seen := map[int]bool{}
	for i := len(rows) - 1; i >= 0; i-- {
		if seen[rows[i].PurchaseId] {
			continue
		}
		seen[rows[i].PurchaseId] = true
		instants = append(instants, purchaseInstant{Timestamp: rows[i].Timestamp, at: rows[i].at})
	}
	cadence := computeCadence(instants, excludeTopN)
	return &cadence, nil
}
