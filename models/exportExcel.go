package models

import (
	"context"
	"fmt"
	"io"

	"github.com/mmdatafocus/shopping_tracker/utils"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const itemStatsSheet = "Items"

var itemStatsHeadings = []string{"Name", "Purchases", "TotalQuantity", "TotalSpent", "LatestPrice", "LastPurchased", "Weight", "Volume"}

func (s ItemStats) GetCellValues() []interface{} {
	return []interface{}{
		s.Name,
		s.PurchaseCount,
		s.TotalQuantity.InexactFloat64(),
		s.TotalSpent.InexactFloat64(),
		optionalFloat(s.LatestPrice),
		utils.DereferencePtr(s.LastPurchased, ""),
		optionalFloat(s.Weight),
		optionalFloat(s.Volume),
	}
}

func optionalFloat(d *decimal.Decimal) interface{} {
	if d == nil {
		return ""
	}
	return d.InexactFloat64()
}

// ExportItemStatsXlsx writes one row per item under a heading row.
func ExportItemStatsXlsx(stats []ItemStats, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", itemStatsSheet); err != nil {
		return err
	}

	// Add headers
	for i, h := range itemStatsHeadings {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(itemStatsSheet, cell, h); err != nil {
			return err
		}
	}

	// Add data
	for i, s := range stats {
		values := s.GetCellValues()
		if err := f.SetSheetRow(itemStatsSheet, "A"+fmt.Sprint(i+2), &values); err != nil {
			return err
		}
	}

	return f.Write(w)
}

// ExportItemsReport writes the filtered item list as a spreadsheet.
func (t *Tracker) ExportItemsReport(ctx context.Context, filter ItemFilter, w io.Writer) error {
	stats, err := t.ItemsWithStats(ctx, filter)
	if err != nil {
		return err
	}
	return ExportItemStatsXlsx(stats, w)
}
