package normalizer

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mmdatafocus/shopping_tracker/utils"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const (
	DefaultSheetName    = "Nectar Card Transactions"
	PurchaseTypeTabular = "spreadsheet"

	headerPrefix = "transaction item"

	// data starts two rows below the header row
	dataRowOffset = 2
)

// column positions in the transaction sheet
const (
	colDate = iota
	colTime
	colItemName
	colQuantity
	colUnitPrice
	colCost
	colDiscount
)

type TabularOptions struct {
	SheetName string
	// Location the sheet's dates and times are recorded in; UTC when nil.
	Location *time.Location
}

// TabularRow is one parsed spreadsheet line before grouping.
type TabularRow struct {
	Timestamp string
	Item      LineItem
	Discount  decimal.Decimal
}

// ParseTabular reads the card transaction sheet of an .xlsx export. Rows that
// lack a date, item name, unit price or quantity are skipped; a missing sheet
// or header row fails the whole import.
func ParseTabular(r io.Reader, opts TabularOptions) (*Export, error) {
	if opts.SheetName == "" {
		opts.SheetName = DefaultSheetName
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, &ParseError{Format: FormatTabular, Reason: "failed to open spreadsheet", Err: err}
	}
	defer f.Close()

	if !hasSheet(f, opts.SheetName) {
		return nil, &ParseError{Format: FormatTabular, Reason: fmt.Sprintf("sheet %q not found", opts.SheetName)}
	}

	// raw values keep dates and times as Excel serial numbers
	rows, err := f.GetRows(opts.SheetName, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, &ParseError{Format: FormatTabular, Reason: "unable to read sheet", Err: err}
	}

	parsed, err := ParseTabularRows(rows, opts.Location)
	if err != nil {
		return nil, err
	}
	return &Export{Purchases: GroupTabularRows(parsed)}, nil
}

func hasSheet(f *excelize.File, name string) bool {
	for _, sheet := range f.GetSheetList() {
		if sheet == name {
			return true
		}
	}
	return false
}

// ParseTabularRows locates the header row and converts every usable data row.
func ParseTabularRows(rows [][]string, loc *time.Location) ([]TabularRow, error) {
	headerIdx := -1
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(row[0])), headerPrefix) {
			headerIdx = i
			break
		}
	}
	if headerIdx < 0 {
		return nil, &ParseError{Format: FormatTabular, Reason: "transaction item header row not found"}
	}

	var parsed []TabularRow
	for i := headerIdx + dataRowOffset; i < len(rows); i++ {
		row, ok := parseTabularRow(rows[i], loc)
		if !ok {
			continue
		}
		parsed = append(parsed, row)
	}
	return parsed, nil
}

func parseTabularRow(row []string, loc *time.Location) (TabularRow, bool) {
	day, ok := ParseDateCell(cell(row, colDate), loc)
	if !ok {
		return TabularRow{}, false
	}
	name := strings.TrimSpace(cell(row, colItemName))
	if name == "" {
		return TabularRow{}, false
	}
	quantity, err := utils.ParseDecimal(cell(row, colQuantity))
	if err != nil || quantity.IsZero() {
		return TabularRow{}, false
	}
	unitPrice, err := utils.ParseDecimal(cell(row, colUnitPrice))
	if err != nil {
		return TabularRow{}, false
	}
	cost, err := utils.ParseDecimal(cell(row, colCost))
	if err != nil {
		cost = unitPrice.Mul(quantity)
	}
	discount, err := utils.ParseDecimal(cell(row, colDiscount))
	if err != nil {
		discount = decimal.Zero
	}

	offset, ok := ParseTimeCell(cell(row, colTime))
	if !ok {
		offset = 0
	}

	price := unitPrice
	if !discount.IsZero() {
		price = cost.Div(quantity)
	}

	item := LineItem{
		Name:     name,
		Quantity: quantity,
		Price:    price,
	}
	// a single line whose cost differs from its unit price was sold by weight
	// or volume; the multiplier is how many units the cost paid for
	if quantity.Equal(decimal.NewFromInt(1)) &&
		!unitPrice.IsZero() &&
		!unitPrice.Equal(cost) &&
		!unitPrice.Equal(cost.Add(discount)) {
		multiplier := cost.Div(unitPrice)
		item.Weight = decimal.NewNullDecimal(multiplier)
		item.Volume = decimal.NewNullDecimal(multiplier)
	}

	return TabularRow{
		Timestamp: CombineDateTime(day, offset),
		Item:      item,
		Discount:  discount,
	}, true
}

// GroupTabularRows merges rows sharing a timestamp into one purchase, in
// order of first appearance, and derives the basket totals.
func GroupTabularRows(rows []TabularRow) []Purchase {
	index := map[string]int{}
	purchases := []Purchase{}
	savings := map[string]decimal.Decimal{}

	for _, row := range rows {
		idx, ok := index[row.Timestamp]
		if !ok {
			idx = len(purchases)
			index[row.Timestamp] = idx
			purchases = append(purchases, Purchase{
				Timestamp: row.Timestamp,
				Type:      PurchaseTypeTabular,
				Payment:   []Payment{},
			})
		}
		purchases[idx].Items = append(purchases[idx].Items, row.Item)
		if !row.Discount.IsZero() {
			savings[row.Timestamp] = savings[row.Timestamp].Add(row.Discount.Abs())
		}
	}

	for i := range purchases {
		total := decimal.Zero
		for _, item := range purchases[i].Items {
			total = total.Add(item.Price.Mul(item.Quantity))
		}
		purchases[i].BasketValueGross = total
		purchases[i].BasketValueNet = decimal.NewNullDecimal(total)
		purchases[i].NumberOfItems = len(purchases[i].Items)
		if s, ok := savings[purchases[i].Timestamp]; ok {
			purchases[i].OverallBasketSavings = decimal.NewNullDecimal(s)
		}
	}
	return purchases
}

func cell(row []string, col int) string {
	if col >= len(row) {
		return ""
	}
	return row[col]
}
