package models

import (
	"context"
	"fmt"
	"io"

	"github.com/mmdatafocus/shopping_tracker/config"
	"github.com/mmdatafocus/shopping_tracker/normalizer"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("shopping-tracker")

// Result is what import and reset entry points hand to the presentation
// layer. Error is a human readable message when Success is false.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func failure(err error) Result {
	return Result{Success: false, Error: err.Error()}
}

// Tracker is the stateless facade over the store: imports, analytics and
// combined-item maintenance all go through it.
type Tracker struct {
	store    *config.Store
	logger   *logrus.Logger
	notifier *Notifier
	tabular  normalizer.TabularOptions
}

func NewTracker(store *config.Store, logger *logrus.Logger, tabular normalizer.TabularOptions) *Tracker {
	if logger == nil {
		logger = config.NewDiscardLogger()
	}
	return &Tracker{
		store:    store,
		logger:   logger,
		notifier: NewNotifier(),
		tabular:  tabular,
	}
}

// Subscribe listens for data-changed events.
func (t *Tracker) Subscribe() (<-chan Event, func()) {
	return t.notifier.Subscribe()
}

func (t *Tracker) Store() *config.Store {
	return t.store
}

// ImportFromJSON parses a purchase-history export and imports it. Parse
// failures happen before any write.
func (t *Tracker) ImportFromJSON(ctx context.Context, r io.Reader) Result {
	export, err := normalizer.ParseJSON(r)
	if err != nil {
		config.LogError(t.logger, "tracker.go", "ImportFromJSON", "parse", nil, err)
		return failure(err)
	}
	return t.importExport(ctx, "ImportFromJSON", export)
}

// ImportFromTabular parses a spreadsheet transaction export and imports it.
func (t *Tracker) ImportFromTabular(ctx context.Context, r io.Reader) Result {
	export, err := normalizer.ParseTabular(r, t.tabular)
	if err != nil {
		config.LogError(t.logger, "tracker.go", "ImportFromTabular", "parse", nil, err)
		return failure(err)
	}
	return t.importExport(ctx, "ImportFromTabular", export)
}

func (t *Tracker) importExport(ctx context.Context, funcName string, export *normalizer.Export) Result {
	if _, err := t.ImportPurchases(ctx, export.Purchases); err != nil {
		config.LogError(t.logger, "tracker.go", funcName, "import", nil, err)
		return failure(err)
	}
	return Result{Success: true}
}

// ClearAll wipes every table and recreates the schema.
func (t *Tracker) ClearAll(ctx context.Context) Result {
	if err := t.store.Clear(ctx); err != nil {
		config.LogError(t.logger, "tracker.go", "ClearAll", "clear", nil, err)
		return failure(err)
	}
	t.logger.WithField("module", "tracker.go").Info("all data cleared")
	t.notifier.Publish(EventTypeClear)
	return Result{Success: true}
}

// OpenTracker wires the configured blob store, the embedded database and a
// tracker together, and loads any stored database. Closing the returned
// store releases both.
func OpenTracker(ctx context.Context, settings *config.Settings, logger *logrus.Logger) (*Tracker, error) {
	loc, err := settings.Import.Location()
	if err != nil {
		return nil, fmt.Errorf("import timezone: %w", err)
	}
	blobs, err := config.OpenBlobStore(settings.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	store := config.NewStore(settings.Store, blobs, Schema{}, logger)
	if _, err := store.Initialize(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return NewTracker(store, logger, normalizer.TabularOptions{
		SheetName: settings.Import.SheetName,
		Location:  loc,
	}), nil
}
