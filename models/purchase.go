package models

import (
	"context"
	"encoding/json"
	"io"

	"github.com/mmdatafocus/shopping_tracker/config"
	"github.com/mmdatafocus/shopping_tracker/normalizer"
	"github.com/mmdatafocus/shopping_tracker/utils"
	"github.com/shopspring/decimal"
)

type PurchaseLine struct {
	ItemId   int                 `json:"item_id"`
	Name     string              `json:"name"`
	Quantity decimal.Decimal     `json:"quantity"`
	Weight   decimal.NullDecimal `json:"weight"`
	Volume   decimal.NullDecimal `json:"volume"`
	Price    decimal.NullDecimal `json:"price"`
}

type PurchaseDetail struct {
	Purchase
	Items []PurchaseLine `json:"items"`
}

const purchaseLinesSql = `
SELECT
    a.purchase_id,
    a.item_id,
    i.name,
    a.quantity,
    a.weight,
    a.volume,
    pr.price
FROM amounts a
    JOIN items i ON i.id = a.item_id
    LEFT JOIN prices pr ON pr.id = ` + amountPriceIdSql + `
WHERE a.purchase_id IN ?
ORDER BY a.id
`

func loadPurchaseDetails(ctx context.Context, store *config.Store, purchases []Purchase) ([]PurchaseDetail, error) {
	details := make([]PurchaseDetail, 0, len(purchases))
	ids := make([]int, 0, len(purchases))
	for _, p := range purchases {
		ids = append(ids, p.ID)
	}

	lines := map[int][]PurchaseLine{}
	for _, chunk := range utils.ChunkSlice(ids, lookupChunkSize) {
		var rows []struct {
			PurchaseId int
			PurchaseLine
		}
		if err := store.Query(ctx, &rows, purchaseLinesSql, chunk); err != nil {
			return nil, err
		}
		for _, row := range rows {
			lines[row.PurchaseId] = append(lines[row.PurchaseId], row.PurchaseLine)
		}
	}

	for _, p := range purchases {
		detail := PurchaseDetail{Purchase: p, Items: lines[p.ID]}
		if detail.Items == nil {
			detail.Items = []PurchaseLine{}
		}
		details = append(details, detail)
	}
	return details, nil
}

// ListPurchases returns the most recent purchases with their lines. A limit
// of zero or less returns every purchase.
func (t *Tracker) ListPurchases(ctx context.Context, limit int) ([]PurchaseDetail, error) {
	db, err := t.store.GetDB(ctx)
	if err != nil {
		return nil, err
	}
	q := db.Order("timestamp DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var purchases []Purchase
	if err := q.Find(&purchases).Error; err != nil {
		return nil, err
	}
	return loadPurchaseDetails(ctx, t.store, purchases)
}

// ExportJSON writes every purchase in the JSON import format, so the output
// can be imported again as a backup.
func (t *Tracker) ExportJSON(ctx context.Context, w io.Writer) error {
	db, err := t.store.GetDB(ctx)
	if err != nil {
		return err
	}
	var purchases []Purchase
	if err := db.Order("id").Find(&purchases).Error; err != nil {
		return err
	}
	details, err := loadPurchaseDetails(ctx, t.store, purchases)
	if err != nil {
		return err
	}

	export := normalizer.Export{Purchases: make([]normalizer.Purchase, 0, len(details))}
	for _, d := range details {
		items := make([]normalizer.LineItem, 0, len(d.Items))
		for _, line := range d.Items {
			items = append(items, normalizer.LineItem{
				Name:     line.Name,
				Quantity: line.Quantity,
				Weight:   line.Weight,
				Volume:   line.Volume,
				Price:    line.Price.Decimal,
			})
		}
		payment := d.Payment
		if payment == nil {
			payment = []normalizer.Payment{}
		}
		export.Purchases = append(export.Purchases, normalizer.Purchase{
			Timestamp:            d.Timestamp,
			Type:                 d.Type,
			Says:                 d.Says,
			BasketValueGross:     d.BasketValueGross,
			OverallBasketSavings: d.OverallBasketSavings,
			BasketValueNet:       d.BasketValueNet,
			NumberOfItems:        d.NumberOfItems,
			Payment:              payment,
			Items:                items,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(export)
}
