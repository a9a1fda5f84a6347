package models

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mmdatafocus/shopping_tracker/config"
	"github.com/mmdatafocus/shopping_tracker/normalizer"
	"github.com/mmdatafocus/shopping_tracker/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// bound parameters stay well under SQLite's variable limit
const lookupChunkSize = 500

type ImportSummary struct {
	BatchId   string `json:"batch_id"`
	Submitted int    `json:"submitted"`
	Imported  int    `json:"imported"`
	Skipped   int    `json:"skipped"`
}

// a purchase row that was inserted (now or by an interrupted import) and
// still has no amounts
type pendingPurchase struct {
	id     int
	source normalizer.Purchase
}

// purchase ids are resolved by natural key, accepting only rows without
// amounts: those still need their items, any other match is already imported
const pendingPurchaseSql = `
SELECT p.id
FROM purchases p
WHERE p.timestamp = ?
    AND p.number_of_items = ?
    AND p.basket_value_gross = ?
    AND NOT EXISTS (SELECT 1 FROM amounts a WHERE a.purchase_id = p.id)
ORDER BY p.id
LIMIT 1
`

// ImportPurchases idempotently writes canonical purchases in one transaction.
// Purchases already fully imported are skipped along with their items.
func (t *Tracker) ImportPurchases(ctx context.Context, purchases []normalizer.Purchase) (ImportSummary, error) {
	ctx, span := tracer.Start(ctx, "ImportPurchases")
	defer span.End()

	ctx, correlationId := utils.CorrelationIdOrNew(ctx)
	summary := ImportSummary{BatchId: uuid.NewString(), Submitted: len(purchases)}
	logger := t.logger.WithFields(logrus.Fields{
		"module":         "importer.go",
		"batch_id":       summary.BatchId,
		"correlation_id": correlationId,
	})
	logger.WithField("submitted", summary.Submitted).Info("import started")

	if len(purchases) == 0 {
		return summary, nil
	}

	var imported int
	err := t.store.RunInTransaction(ctx, func(tx *gorm.DB) error {
		if err := insertPurchases(ctx, t.store, tx, purchases); err != nil {
			return fmt.Errorf("insert purchases: %w", err)
		}

		pending, err := resolvePendingPurchases(tx, purchases)
		if err != nil {
			return fmt.Errorf("resolve purchases: %w", err)
		}
		imported = len(pending)
		if len(pending) == 0 {
			return nil
		}

		itemIds, err := resolveItems(ctx, t.store, tx, pending)
		if err != nil {
			return fmt.Errorf("resolve items: %w", err)
		}
		priceIds, err := resolvePrices(ctx, t.store, tx, pending, itemIds)
		if err != nil {
			return fmt.Errorf("resolve prices: %w", err)
		}
		if err := linkPrices(ctx, t.store, tx, pending, itemIds, priceIds); err != nil {
			return fmt.Errorf("link prices: %w", err)
		}
		if err := insertAmounts(ctx, t.store, tx, pending, itemIds, priceIds); err != nil {
			return fmt.Errorf("insert amounts: %w", err)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return summary, err
	}

	summary.Imported = imported
	summary.Skipped = summary.Submitted - imported
	span.SetAttributes(
		attribute.Int("import.submitted", summary.Submitted),
		attribute.Int("import.imported", summary.Imported),
	)
	logger.WithFields(logrus.Fields{
		"imported": summary.Imported,
		"skipped":  summary.Skipped,
	}).Info("import finished")

	t.notifier.Publish(EventTypeImport)
	return summary, nil
}

func insertPurchases(ctx context.Context, store *config.Store, tx *gorm.DB, purchases []normalizer.Purchase) error {
	rows := make([]Purchase, 0, len(purchases))
	for _, p := range purchases {
		payment := p.Payment
		if payment == nil {
			payment = []normalizer.Payment{}
		}
		rows = append(rows, Purchase{
			Timestamp:            p.Timestamp,
			Type:                 p.Type,
			Says:                 p.Says,
			BasketValueGross:     p.BasketValueGross,
			OverallBasketSavings: p.OverallBasketSavings,
			BasketValueNet:       p.BasketValueNet,
			NumberOfItems:        p.NumberOfItems,
			Payment:              payment,
		})
	}
	_, err := config.InsertMany(ctx, store, tx, rows, config.InsertOptions{IgnoreConflicts: true, SkipSave: true})
	return err
}

func resolvePendingPurchases(tx *gorm.DB, purchases []normalizer.Purchase) ([]pendingPurchase, error) {
	var pending []pendingPurchase
	seen := make(map[int]bool, len(purchases))
	for _, p := range purchases {
		var ids []int
		if err := tx.Raw(pendingPurchaseSql, p.Timestamp, p.NumberOfItems, p.BasketValueGross).Scan(&ids).Error; err != nil {
			return nil, err
		}
		// a repeated natural key in one file shares the first purchase's row
		if len(ids) == 0 || seen[ids[0]] {
			continue
		}
		seen[ids[0]] = true
		pending = append(pending, pendingPurchase{id: ids[0], source: p})
	}
	return pending, nil
}

func itemKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// resolveItems maps every line item name (lower-cased) to an item id,
// creating the items seen for the first time.
func resolveItems(ctx context.Context, store *config.Store, tx *gorm.DB, pending []pendingPurchase) (map[string]int, error) {
	var existing []Item
	if err := tx.Order("id").Find(&existing).Error; err != nil {
		return nil, err
	}
	index := make(map[string]int, len(existing))
	for _, item := range existing {
		key := itemKey(item.Name)
		if _, ok := index[key]; !ok {
			index[key] = item.ID
		}
	}

	var missing []Item
	queued := map[string]bool{}
	for _, p := range pending {
		for _, line := range p.source.Items {
			key := itemKey(line.Name)
			if _, ok := index[key]; ok || queued[key] {
				continue
			}
			queued[key] = true
			missing = append(missing, Item{Name: strings.TrimSpace(line.Name)})
		}
	}

	inserted, err := config.InsertMany(ctx, store, tx, missing, config.InsertOptions{SkipSave: true})
	if err != nil {
		return nil, err
	}
	for _, item := range inserted {
		index[itemKey(item.Name)] = item.ID
	}
	return index, nil
}

// priceKey compares prices the way the store holds them, as float64 values.
func priceKey(itemId int, price decimal.Decimal) string {
	return fmt.Sprintf("%d|%s", itemId, decimal.NewFromFloat(price.InexactFloat64()).String())
}

func resolvePrices(ctx context.Context, store *config.Store, tx *gorm.DB, pending []pendingPurchase, itemIds map[string]int) (map[string]int, error) {
	var ids []int
	for _, p := range pending {
		for _, line := range p.source.Items {
			ids = append(ids, itemIds[itemKey(line.Name)])
		}
	}
	ids = utils.UniqueSlice(ids)

	index := map[string]int{}
	for _, chunk := range utils.ChunkSlice(ids, lookupChunkSize) {
		var prices []Price
		if err := tx.Where("item_id IN ?", chunk).Order("id").Find(&prices).Error; err != nil {
			return nil, err
		}
		for _, price := range prices {
			key := priceKey(price.ItemId, price.Price)
			if _, ok := index[key]; !ok {
				index[key] = price.ID
			}
		}
	}

	var missing []Price
	queued := map[string]bool{}
	for _, p := range pending {
		for _, line := range p.source.Items {
			itemId := itemIds[itemKey(line.Name)]
			key := priceKey(itemId, line.Price)
			if _, ok := index[key]; ok || queued[key] {
				continue
			}
			queued[key] = true
			missing = append(missing, Price{ItemId: itemId, Price: line.Price})
		}
	}

	inserted, err := config.InsertMany(ctx, store, tx, missing, config.InsertOptions{SkipSave: true})
	if err != nil {
		return nil, err
	}
	for _, price := range inserted {
		index[priceKey(price.ItemId, price.Price)] = price.ID
	}
	return index, nil
}

func linkPrices(ctx context.Context, store *config.Store, tx *gorm.DB, pending []pendingPurchase, itemIds map[string]int, priceIds map[string]int) error {
	var links []PricePurchase
	seen := map[[2]int]bool{}
	for _, p := range pending {
		for _, line := range p.source.Items {
			priceId := priceIds[priceKey(itemIds[itemKey(line.Name)], line.Price)]
			pair := [2]int{priceId, p.id}
			if seen[pair] {
				continue
			}
			seen[pair] = true
			links = append(links, PricePurchase{PriceId: priceId, PurchaseId: p.id})
		}
	}
	// a link left by an interrupted import collides harmlessly
	_, err := config.InsertMany(ctx, store, tx, links, config.InsertOptions{IgnoreConflicts: true, SkipSave: true})
	return err
}

func insertAmounts(ctx context.Context, store *config.Store, tx *gorm.DB, pending []pendingPurchase, itemIds map[string]int, priceIds map[string]int) error {
	var amounts []Amount
	for _, p := range pending {
		for _, line := range p.source.Items {
			itemId := itemIds[itemKey(line.Name)]
			priceId := priceIds[priceKey(itemId, line.Price)]
			amounts = append(amounts, Amount{
				PurchaseId: p.id,
				ItemId:     itemId,
				PriceId:    &priceId,
				Weight:     line.Weight,
				Volume:     line.Volume,
				Quantity:   line.Quantity,
			})
		}
	}
	_, err := config.InsertMany(ctx, store, tx, amounts, config.InsertOptions{SkipSave: true})
	return err
}
