package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mmdatafocus/shopping_tracker/config"
	"github.com/mmdatafocus/shopping_tracker/models"
)

func main() {
	configPath := flag.String("config", "", "Optional: config file (defaults to ./config.yaml)")
	dryRun := flag.Bool("dry-run", true, "Show counts only (no writes)")
	confirm := flag.String("confirm", "", "Type RESET to proceed when dry-run=false")
	flag.Parse()

	if !*dryRun && strings.TrimSpace(*confirm) != "RESET" {
		fmt.Fprintln(os.Stderr, "set --confirm=RESET to proceed")
		os.Exit(1)
	}

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

	if err := printCounts(ctx, tracker); err != nil {
		fmt.Fprintf(os.Stderr, "overview: %v\n", err)
		os.Exit(1)
	}
	if *dryRun {
		return
	}

	result := tracker.ClearAll(ctx)
	if !result.Success {
		fmt.Fprintf(os.Stderr, "reset failed: %s\n", result.Error)
		os.Exit(1)
	}
	fmt.Println("all data cleared")
}

func printCounts(ctx context.Context, tracker *models.Tracker) error {
	overview, err := tracker.Overview(ctx)
	if err != nil {
		return err
	}
	c := overview.Counts
	fmt.Printf("purchases=%d items=%d prices=%d amounts=%d price_purchases=%d combined_items=%d combined_item_links=%d\n",
		c.Purchases, c.Items, c.Prices, c.Amounts, c.PricePurchases, c.CombinedItems, c.CombinedItemLinks)
	return nil
}
