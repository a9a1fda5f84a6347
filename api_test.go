package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/shopping_tracker/config"
	"github.com/mmdatafocus/shopping_tracker/models"
	"github.com/mmdatafocus/shopping_tracker/normalizer"
	"github.com/mmdatafocus/shopping_tracker/utils"
	"github.com/shopspring/decimal"
)

const groceriesExport = `{"purchases":[
  {"timestamp": "2024-01-01T10:00:00Z", "type": "store", "basketValueGross": 3.10, "numberOfItems": 2,
   "items": [{"name": "Milk", "quantity": 1, "price": 1.10}, {"name": "Eggs", "quantity": 1, "price": 2.00}]},
  {"timestamp": "2024-01-11T10:00:00Z", "type": "store", "basketValueGross": 2.40, "numberOfItems": 1,
   "items": [{"name": "Milk", "quantity": 2, "price": 1.20}]}
]}`

func newTestRouter(t *testing.T) (*gin.Engine, *models.Tracker) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	settings := config.DefaultSettings()
	settings.Store.BlobBackend = config.BlobBackendMemory
	logger := config.NewDiscardLogger()

	store := config.NewStore(settings.Store, config.NewMemoryBlobStore(), models.Schema{}, logger)
	t.Cleanup(func() { _ = store.Close() })
	tracker := models.NewTracker(store, logger, normalizer.TabularOptions{})
	return newRouter(tracker, settings, logger), tracker
}

func doRequest(r http.Handler, method, path, contentType string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := utils.UnmarshalFromJSON(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func itoa(n int) string { return strconv.Itoa(n) }

func decimalOf(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}

func importGroceries(t *testing.T, r http.Handler) {
	t.Helper()
	w := doRequest(r, http.MethodPost, "/api/import/json", "application/json", []byte(groceriesExport))
	if w.Code != http.StatusOK {
		t.Fatalf("import: expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestApi_ImportAndItems(t *testing.T) {
	r, _ := newTestRouter(t)
	importGroceries(t, r)

	w := doRequest(r, http.MethodGet, "/api/overview", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("overview: expected 200, got %d", w.Code)
	}
	overview := decodeBody[models.Overview](t, w)
	if overview.Counts.Purchases != 2 || overview.Counts.Items != 2 {
		t.Fatalf("unexpected counts %+v", overview.Counts)
	}

	w = doRequest(r, http.MethodGet, "/api/items?sort=totalSpent&direction=desc", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("items: expected 200, got %d", w.Code)
	}
	items := decodeBody[[]models.ItemStats](t, w)
	if len(items) != 2 || items[0].Name != "Milk" {
		t.Fatalf("expected Milk first, got %+v", items)
	}
	if !items[0].TotalSpent.Equal(decimalOf(t, "3.5")) {
		t.Fatalf("expected Milk spend 3.5, got %s", items[0].TotalSpent)
	}

	w = doRequest(r, http.MethodGet, "/api/items?search=egg", "", nil)
	items = decodeBody[[]models.ItemStats](t, w)
	if len(items) != 1 || items[0].Name != "Eggs" {
		t.Fatalf("search: expected only Eggs, got %+v", items)
	}

	milkId := 0
	for _, item := range decodeBody[[]models.ItemStats](t, doRequest(r, http.MethodGet, "/api/items", "", nil)) {
		if item.Name == "Milk" {
			milkId = item.ID
		}
	}
	if milkId == 0 {
		t.Fatalf("Milk not listed")
	}
	base := "/api/items/" + itoa(milkId)

	w = doRequest(r, http.MethodGet, base, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("item: expected 200, got %d", w.Code)
	}

	history := decodeBody[[]models.PurchaseHistoryEntry](t, doRequest(r, http.MethodGet, base+"/history", "", nil))
	if len(history) != 2 || history[0].Timestamp != "2024-01-11T10:00:00Z" {
		t.Fatalf("expected newest first, got %+v", history)
	}

	chart := decodeBody[[]models.ChartPoint](t, doRequest(r, http.MethodGet, base+"/chart", "", nil))
	if len(chart) != 2 {
		t.Fatalf("expected two chart points, got %d", len(chart))
	}

	cadence := decodeBody[models.PurchaseCadence](t, doRequest(r, http.MethodGet, base+"/cadence?exclude=0", "", nil))
	if cadence.AverageDays == nil || !cadence.AverageDays.Equal(decimalOf(t, "10")) {
		t.Fatalf("expected a 10 day average, got %+v", cadence.AverageDays)
	}
}

func TestApi_RequestErrors(t *testing.T) {
	r, _ := newTestRouter(t)
	importGroceries(t, r)

	cases := []struct {
		name   string
		method string
		path   string
		status int
	}{
		{"unknown item", http.MethodGet, "/api/items/999", http.StatusNotFound},
		{"unknown item cadence", http.MethodGet, "/api/items/999/cadence", http.StatusNotFound},
		{"non numeric id", http.MethodGet, "/api/items/abc", http.StatusBadRequest},
		{"bad exclude", http.MethodGet, "/api/items/1/cadence?exclude=many", http.StatusBadRequest},
		{"bad sort field", http.MethodGet, "/api/items?sort=colour", http.StatusBadRequest},
		{"bad sort direction", http.MethodGet, "/api/items?direction=up", http.StatusBadRequest},
		{"unknown combined item", http.MethodGet, "/api/combined-items/42", http.StatusNotFound},
		{"delete unknown combined item", http.MethodDelete, "/api/combined-items/42", http.StatusNotFound},
		{"unknown route", http.MethodGet, "/api/nothing", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doRequest(r, tc.method, tc.path, "", nil)
			if w.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, w.Code, w.Body.String())
			}
		})
	}
}

func TestApi_ImportRejectsMalformedFile(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doRequest(r, http.MethodPost, "/api/import/json", "application/json", []byte(`{"purchases": [`))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	result := decodeBody[models.Result](t, w)
	if result.Success || result.Error == "" {
		t.Fatalf("expected a failure result, got %+v", result)
	}

	overview := decodeBody[models.Overview](t, doRequest(r, http.MethodGet, "/api/overview", "", nil))
	if overview.Counts.Purchases != 0 {
		t.Fatalf("expected nothing stored, got %+v", overview.Counts)
	}
}

func TestApi_ImportMultipartUpload(t *testing.T) {
	r, _ := newTestRouter(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "groceries.json")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := part.Write([]byte(groceriesExport)); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}

	w := doRequest(r, http.MethodPost, "/api/import/json", mw.FormDataContentType(), body.Bytes())
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	purchases := decodeBody[[]models.PurchaseDetail](t, doRequest(r, http.MethodGet, "/api/purchases?limit=1", "", nil))
	if len(purchases) != 1 || purchases[0].Timestamp != "2024-01-11T10:00:00Z" {
		t.Fatalf("expected the latest purchase only, got %+v", purchases)
	}
}

func TestApi_CombinedItemLifecycle(t *testing.T) {
	r, _ := newTestRouter(t)
	importGroceries(t, r)

	items := decodeBody[[]models.ItemStats](t, doRequest(r, http.MethodGet, "/api/items", "", nil))
	ids := []int{items[0].ID, items[1].ID}

	w := doRequest(r, http.MethodPost, "/api/combined-items", "application/json", []byte(`{"name": "Breakfast", "item_ids": []}`))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty item list: expected 400, got %d", w.Code)
	}
	w = doRequest(r, http.MethodPost, "/api/combined-items", "application/json", []byte(`{"name": "  ", "item_ids": [1]}`))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("blank name: expected 400, got %d", w.Code)
	}
	w = doRequest(r, http.MethodPost, "/api/combined-items", "application/json", []byte(`{"name": "Ghost", "item_ids": [999]}`))
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown item: expected 404, got %d", w.Code)
	}

	payload, _ := json.Marshal(models.CombinedItemInput{Name: "Breakfast", ItemIds: ids})
	w = doRequest(r, http.MethodPost, "/api/combined-items", "application/json", payload)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	created := decodeBody[models.CombinedItem](t, w)
	base := "/api/combined-items/" + itoa(created.ID)

	stats := decodeBody[models.CombinedItemStats](t, doRequest(r, http.MethodGet, base, "", nil))
	if stats.Name != "Breakfast" || !stats.TotalSpent.Equal(decimalOf(t, "5.5")) {
		t.Fatalf("unexpected combined stats %+v", stats)
	}

	history := decodeBody[[]models.PurchaseHistoryEntry](t, doRequest(r, http.MethodGet, base+"/history", "", nil))
	if len(history) != 3 {
		t.Fatalf("expected three history rows, got %d", len(history))
	}
	chart := decodeBody[[]models.ChartPoint](t, doRequest(r, http.MethodGet, base+"/chart", "", nil))
	if len(chart) != 2 {
		t.Fatalf("expected one chart point per purchase, got %d", len(chart))
	}
	w = doRequest(r, http.MethodGet, base+"/cadence", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cadence: expected 200, got %d", w.Code)
	}

	w = doRequest(r, http.MethodPut, base, "application/json", []byte(`{"name": "Dairy", "item_ids": [`+itoa(ids[0])+`]}`))
	if w.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	list := decodeBody[[]models.CombinedItemDetail](t, doRequest(r, http.MethodGet, "/api/combined-items", "", nil))
	if len(list) != 1 || list[0].Name != "Dairy" || len(list[0].Items) != 1 {
		t.Fatalf("unexpected list after update %+v", list)
	}

	if w := doRequest(r, http.MethodDelete, base, "", nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", w.Code)
	}
	if w := doRequest(r, http.MethodGet, base, "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("after delete: expected 404, got %d", w.Code)
	}
}

func TestApi_Exports(t *testing.T) {
	r, _ := newTestRouter(t)
	importGroceries(t, r)

	w := doRequest(r, http.MethodGet, "/api/export/json", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("json export: expected 200, got %d", w.Code)
	}
	export, err := normalizer.ParseJSON(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatalf("export does not parse back: %v", err)
	}
	if len(export.Purchases) != 2 {
		t.Fatalf("expected two exported purchases, got %d", len(export.Purchases))
	}

	w = doRequest(r, http.MethodGet, "/api/export/items.xlsx", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("xlsx export: expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != xlsxMimeType {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !strings.Contains(w.Header().Get("Content-Disposition"), "items.xlsx") {
		t.Fatalf("missing attachment header")
	}
}

func TestApi_ClearAll(t *testing.T) {
	r, _ := newTestRouter(t)
	importGroceries(t, r)

	if w := doRequest(r, http.MethodPost, "/api/clear", "", nil); w.Code != http.StatusOK {
		t.Fatalf("clear: expected 200, got %d", w.Code)
	}
	items := decodeBody[[]models.ItemStats](t, doRequest(r, http.MethodGet, "/api/items", "", nil))
	if len(items) != 0 {
		t.Fatalf("expected no items after clear, got %d", len(items))
	}
}

func TestApi_RequestIdHeader(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("x-request-id", "req-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("healthz: expected 204, got %d", w.Code)
	}
	if got := w.Header().Get("x-request-id"); got != "req-123" {
		t.Fatalf("expected request id to be echoed, got %q", got)
	}

	w = doRequest(r, http.MethodGet, "/healthz", "", nil)
	if w.Header().Get("x-request-id") == "" {
		t.Fatalf("expected a generated request id")
	}
}

func TestApi_EventStream(t *testing.T) {
	r, _ := newTestRouter(t)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer resp.Body.Close()

	lines := bufio.NewScanner(resp.Body)
	waitForEvent := func(name string) {
		t.Helper()
		for lines.Scan() {
			if strings.TrimSpace(lines.Text()) == "event:"+name {
				return
			}
		}
		t.Fatalf("stream ended before %q event: %v", name, lines.Err())
	}

	waitForEvent("connected")

	imp, err := http.Post(srv.URL+"/api/import/json", "application/json", strings.NewReader(groceriesExport))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	imp.Body.Close()
	if imp.StatusCode != http.StatusOK {
		t.Fatalf("import: expected 200, got %d", imp.StatusCode)
	}

	waitForEvent(string(models.EventTypeImport))
}
