package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/mmdatafocus/shopping_tracker/config"
	"github.com/mmdatafocus/shopping_tracker/models"
)

func main() {
	configPath := flag.String("config", "", "Optional: config file (defaults to ./config.yaml)")
	out := flag.String("out", "items.xlsx", "Spreadsheet to write")
	search := flag.String("search", "", "Only items whose name contains this text")
	sortField := flag.String("sort", string(models.SortByTotalSpent), "name, totalQuantity, totalSpent or latestPrice")
	direction := flag.String("direction", string(models.SortDesc), "asc or desc")
	flag.Parse()

	settings, err := config.LoadSettings(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load settings: %v\n", err)
		os.Exit(1)
	}
	logger := config.NewLogger(settings.Log.Level)

	ctx := context.Background()
	tracker, err := models.OpenTracker(ctx, settings, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		os.Exit(1)
	}
	defer tracker.Store().Close()

	f, err := os.Create(*out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create %s: %v\n", *out, err)
		os.Exit(1)
	}
	filter := models.ItemFilter{
		Search:        *search,
		SortField:     models.SortField(*sortField),
		SortDirection: models.SortDirection(*direction),
	}
	if err := tracker.ExportItemsReport(ctx, filter, f); err != nil {
		_ = f.Close()
		_ = os.Remove(*out)
		fmt.Fprintf(os.Stderr, "export: %v\n", err)
		os.Exit(1)
	}
	if err := f.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "close %s: %v\n", *out, err)
		os.Exit(1)
	}
	fmt.Printf("wrote %s\n", *out)
}
