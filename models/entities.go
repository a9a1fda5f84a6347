package models

import (
	"time"

	"github.com/mmdatafocus/shopping_tracker/normalizer"
	"github.com/shopspring/decimal"
)

func init() {
	// prices and quantities are written as JSON numbers
	decimal.MarshalJSONWithoutQuotes = true
}

// Purchase is one basket. (timestamp, number_of_items, basket_value_gross) is
// the de-duplication key across repeated imports.
type Purchase struct {
	ID                   int                  `gorm:"primary_key" json:"id"`
	Timestamp            string               `gorm:"size:40;not null;uniqueIndex:uniq_purchase_natural_key,priority:1" json:"timestamp"`
	Type                 string               `gorm:"size:50" json:"type"`
	Says                 string               `gorm:"type:text" json:"says"`
	BasketValueGross     decimal.Decimal      `gorm:"type:decimal(20,4);not null;uniqueIndex:uniq_purchase_natural_key,priority:3" json:"basket_value_gross"`
	OverallBasketSavings decimal.NullDecimal  `gorm:"type:decimal(20,4)" json:"overall_basket_savings"`
	BasketValueNet       decimal.NullDecimal  `gorm:"type:decimal(20,4)" json:"basket_value_net"`
	NumberOfItems        int                  `gorm:"not null;uniqueIndex:uniq_purchase_natural_key,priority:2" json:"number_of_items"`
	Payment              []normalizer.Payment `gorm:"type:text;serializer:json" json:"payment"`
}

// Item identity is its name compared case-insensitively.
type Item struct {
	ID   int    `gorm:"primary_key" json:"id"`
	Name string `gorm:"size:255;not null" json:"name"`
}

// Price is one observed unit price of an item. A new price creates a new row,
// so the table is the item's full price history.
type Price struct {
	ID     int             `gorm:"primary_key" json:"id"`
	ItemId int             `gorm:"not null;index:idx_price_item_price,priority:1" json:"item_id"`
	Price  decimal.Decimal `gorm:"type:decimal(20,4);not null;index:idx_price_item_price,priority:2" json:"price"`
}

// PricePurchase records that a price was paid in a purchase.
type PricePurchase struct {
	ID         int `gorm:"primary_key" json:"id"`
	PriceId    int `gorm:"not null;uniqueIndex:uniq_price_purchase,priority:1" json:"price_id"`
	PurchaseId int `gorm:"not null;uniqueIndex:uniq_price_purchase,priority:2;index" json:"purchase_id"`
}

// Amount is how much of an item one purchase contained. Weight and Volume are
// null unless the item was sold by weight or volume. PriceId is the unit price
// the line was paid at; rows written before it existed fall back to the
// purchase's first linked price for the item.
type Amount struct {
	ID         int                 `gorm:"primary_key" json:"id"`
	PurchaseId int                 `gorm:"not null;index" json:"purchase_id"`
	ItemId     int                 `gorm:"not null;index" json:"item_id"`
	PriceId    *int                `gorm:"index" json:"price_id"`
	Weight     decimal.NullDecimal `gorm:"type:decimal(20,4)" json:"weight"`
	Volume     decimal.NullDecimal `gorm:"type:decimal(20,4)" json:"volume"`
	Quantity   decimal.Decimal     `gorm:"type:decimal(20,4);not null" json:"quantity"`
}

// EffectiveQuantity is volume when present, otherwise the raw count. Weight
// is display-only.
func (a Amount) EffectiveQuantity() decimal.Decimal {
	return effectiveQuantity(a.Quantity, a.Volume)
}

func effectiveQuantity(quantity decimal.Decimal, volume decimal.NullDecimal) decimal.Decimal {
	if volume.Valid {
		return volume.Decimal
	}
	return quantity
}

// CombinedItem is a user-defined group of items analysed as one.
type CombinedItem struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type CombinedItemLink struct {
	ID             int `gorm:"primary_key" json:"id"`
	CombinedItemId int `gorm:"not null;index" json:"combined_item_id"`
	ItemId         int `gorm:"not null;index" json:"item_id"`
}
