package normalizer_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/mmdatafocus/shopping_tracker/normalizer"
	"github.com/xuri/excelize/v2"
)

// newTransactionSheet builds a workbook laid out like the card export: a few
// preamble rows, the header row, a column-title row, then data.
func newTransactionSheet(t *testing.T, sheet string, rows [][]interface{}) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		t.Fatalf("SetSheetName: %v", err)
	}
	preamble := [][]interface{}{
		{"Nectar statement"},
		{"Card ending 1234"},
		{"Transaction item details"},
		{"Date", "Time", "Item", "Quantity", "Price", "Cost", "Discount"},
	}
	for i, row := range append(preamble, rows...) {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("CoordinatesToCellName: %v", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("SetSheetRow: %v", err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer: %v", err)
	}
	return buf
}

func TestParseTabular_GroupsRowsByTimestamp(t *testing.T) {
	buf := newTransactionSheet(t, normalizer.DefaultSheetName, [][]interface{}{
		// 2024-01-01 at 12:00, sold by weight
		{45292, 0.5, "Bananas", 1, 0.20, 0.46, 0},
		{45292, 0.5, "Milk", 2, 1.10, 2.20, 0},
		// same day at 18:00, discounted
		{45292, "18:00", "Bread", 1, 1.50, 1.00, 0.50},
		// skipped: no item name, unparseable date
		{45292, 0.5, "", 1, 1, 1, 0},
		{"n/a", 0.5, "Eggs", 1, 2, 2, 0},
	})

	export, err := normalizer.ParseTabular(buf, normalizer.TabularOptions{})
	if err != nil {
		t.Fatalf("ParseTabular: %v", err)
	}
	if len(export.Purchases) != 2 {
		t.Fatalf("expected 2 purchases, got %d", len(export.Purchases))
	}

	noon := export.Purchases[0]
	if noon.Timestamp != "2024-01-01T12:00:00.000Z" {
		t.Fatalf("unexpected timestamp %q", noon.Timestamp)
	}
	if noon.Type != normalizer.PurchaseTypeTabular {
		t.Fatalf("unexpected type %q", noon.Type)
	}
	if noon.NumberOfItems != 2 || len(noon.Items) != 2 {
		t.Fatalf("expected 2 items, got %d/%d", noon.NumberOfItems, len(noon.Items))
	}
	bananas := noon.Items[0]
	if bananas.Name != "Bananas" || bananas.Price.String() != "0.2" {
		t.Fatalf("unexpected bananas line %+v", bananas)
	}
	if !bananas.Weight.Valid || bananas.Weight.Decimal.String() != "2.3" {
		t.Fatalf("expected weight multiplier 2.3, got %+v", bananas.Weight)
	}
	if !bananas.Volume.Valid || bananas.Volume.Decimal.String() != "2.3" {
		t.Fatalf("expected volume multiplier 2.3, got %+v", bananas.Volume)
	}
	milk := noon.Items[1]
	if milk.Weight.Valid || milk.Quantity.String() != "2" {
		t.Fatalf("unexpected milk line %+v", milk)
	}
	if noon.BasketValueGross.String() != "2.4" {
		t.Fatalf("expected gross 2.4, got %s", noon.BasketValueGross)
	}
	if !noon.BasketValueNet.Valid || !noon.BasketValueNet.Decimal.Equal(noon.BasketValueGross) {
		t.Fatalf("net should equal gross, got %+v", noon.BasketValueNet)
	}
	if noon.OverallBasketSavings.Valid {
		t.Fatalf("no discount rows, savings should be null")
	}

	evening := export.Purchases[1]
	if evening.Timestamp != "2024-01-01T18:00:00.000Z" {
		t.Fatalf("unexpected timestamp %q", evening.Timestamp)
	}
	bread := evening.Items[0]
	if bread.Price.String() != "1" {
		t.Fatalf("discounted price should be cost/quantity, got %s", bread.Price)
	}
	if bread.Weight.Valid {
		t.Fatalf("discounted unit line must not get a multiplier")
	}
	if !evening.OverallBasketSavings.Valid || evening.OverallBasketSavings.Decimal.String() != "0.5" {
		t.Fatalf("expected savings 0.5, got %+v", evening.OverallBasketSavings)
	}
}

func TestParseTabular_TimezoneOption(t *testing.T) {
	buf := newTransactionSheet(t, normalizer.DefaultSheetName, [][]interface{}{
		{"01/07/2024", "09:30", "Tea", 1, 2.00, 2.00, 0},
	})
	loc, err := time.LoadLocation("Europe/London")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	export, err := normalizer.ParseTabular(buf, normalizer.TabularOptions{Location: loc})
	if err != nil {
		t.Fatalf("ParseTabular: %v", err)
	}
	if got := export.Purchases[0].Timestamp; got != "2024-07-01T08:30:00.000Z" {
		t.Fatalf("expected BST converted to UTC, got %q", got)
	}
}

func TestParseTabular_MissingSheet(t *testing.T) {
	buf := newTransactionSheet(t, "Transactions", nil)
	_, err := normalizer.ParseTabular(buf, normalizer.TabularOptions{})
	var parseErr *normalizer.ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected *ParseError, got %v", err)
	}
}

func TestParseTabularRows_MissingHeader(t *testing.T) {
	rows := [][]string{{"Date", "Time"}, {"45292", "0.5", "Milk", "1", "1", "1"}}
	if _, err := normalizer.ParseTabularRows(rows, time.UTC); err == nil {
		t.Fatalf("expected error when header row is missing")
	}
}

func TestParseTabularRows_MissingCostUsesUnitPrice(t *testing.T) {
	rows := [][]string{
		{"TRANSACTION ITEM DETAILS"},
		{"Date"},
		{"2024-03-05", "07:05:09", "Coffee", "2", "£3.00"},
	}
	parsed, err := normalizer.ParseTabularRows(rows, time.UTC)
	if err != nil {
		t.Fatalf("ParseTabularRows: %v", err)
	}
	if len(parsed) != 1 {
		t.Fatalf("expected 1 row, got %d", len(parsed))
	}
	if parsed[0].Timestamp != "2024-03-05T07:05:09.000Z" {
		t.Fatalf("unexpected timestamp %q", parsed[0].Timestamp)
	}
	if parsed[0].Item.Price.String() != "3" {
		t.Fatalf("expected price 3, got %s", parsed[0].Item.Price)
	}
}
