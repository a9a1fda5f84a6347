package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mmdatafocus/shopping_tracker/config"
	"github.com/mmdatafocus/shopping_tracker/models"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "", "Optional: config file (defaults to ./config.yaml)")
	format := flag.String("format", "", "json or xlsx (defaults to the file extension)")
	file := flag.String("file", "", "Required: export file to import")
	flag.Parse()

	if strings.TrimSpace(*file) == "" {
		fmt.Fprintln(os.Stderr, "--file is required")
		os.Exit(1)
	}
	if *format == "" {
		*format = strings.TrimPrefix(strings.ToLower(filepath.Ext(*file)), ".")
	}
	if *format != "json" && *format != "xlsx" {
		fmt.Fprintf(os.Stderr, "unsupported format %q (want json or xlsx)\n", *format)
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

	f, err := os.Open(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open file: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	var result models.Result
	if *format == "json" {
		result = tracker.ImportFromJSON(ctx, f)
	} else {
		result = tracker.ImportFromTabular(ctx, f)
	}
	if !result.Success {
		fmt.Fprintf(os.Stderr, "import failed: %s\n", result.Error)
		os.Exit(1)
	}

	overview, err := tracker.Overview(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "overview: %v\n", err)
		os.Exit(1)
	}
	logger.WithFields(logrus.Fields{
		"file":      *file,
		"purchases": overview.Counts.Purchases,
		"items":     overview.Counts.Items,
	}).Info("import complete")
	fmt.Printf("imported %s: %d purchases, %d items, total spent %s\n",
		*file, overview.Counts.Purchases, overview.Counts.Items, overview.TotalSpent.StringFixed(2))
}
