package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/shopping_tracker/config"
	"github.com/mmdatafocus/shopping_tracker/models"
	"github.com/mmdatafocus/shopping_tracker/utils"
	"github.com/sirupsen/logrus"
)

const (
	maxUploadBytes = 32 << 20
	xlsxMimeType   = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

type api struct {
	tracker *models.Tracker
	logger  *logrus.Logger
}

func registerApiRoutes(g *gin.RouterGroup, a *api) {
	g.POST("/import/json", a.importHandler(a.tracker.ImportFromJSON))
	g.POST("/import/tabular", a.importHandler(a.tracker.ImportFromTabular))
	g.POST("/clear", a.clearHandler())

	g.GET("/overview", a.overviewHandler())
	g.GET("/purchases", a.purchasesHandler())

	g.GET("/items", a.itemsHandler())
	g.GET("/items/:id", a.itemHandler())
	g.GET("/items/:id/history", a.itemHistoryHandler())
	g.GET("/items/:id/chart", a.itemChartHandler())
	g.GET("/items/:id/cadence", a.itemCadenceHandler())

	g.GET("/combined-items", a.combinedItemsHandler())
	g.POST("/combined-items", a.createCombinedItemHandler())
	g.GET("/combined-items/:id", a.combinedItemHandler())
	g.PUT("/combined-items/:id", a.updateCombinedItemHandler())
	g.DELETE("/combined-items/:id", a.deleteCombinedItemHandler())
	g.GET("/combined-items/:id/history", a.combinedItemHistoryHandler())
	g.GET("/combined-items/:id/chart", a.combinedItemChartHandler())
	g.GET("/combined-items/:id/cadence", a.combinedItemCadenceHandler())

	g.GET("/export/json", a.exportJSONHandler())
	g.GET("/export/items.xlsx", a.exportItemsHandler())

	g.GET("/events", a.eventsHandler())
}

// respondError maps domain errors onto status codes; anything unknown is a 500.
func respondError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &verrs):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": utils.ProcessValidationErrors(verrs)})
	case errors.Is(err, models.ErrCombinedItemNameRequired),
		errors.Is(err, models.ErrCombinedItemItemsRequired),
		errors.Is(err, models.ErrInvalidSortField),
		errors.Is(err, models.ErrInvalidSortDirection):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func notFound(c *gin.Context, what string) {
	c.JSON(http.StatusNotFound, gin.H{"error": what + " not found"})
}

func idParam(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func intQuery(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return n, true
}

// uploadBody returns the "file" part of a multipart form, or the raw request body.
func uploadBody(c *gin.Context) (io.ReadCloser, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
	if fh, err := c.FormFile("file"); err == nil {
		return fh.Open()
	}
	return c.Request.Body, nil
}

func (a *api) importHandler(importFn func(ctx context.Context, r io.Reader) models.Result) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := uploadBody(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, models.Result{Error: err.Error()})
			return
		}
		defer body.Close()

		result := importFn(c.Request.Context(), body)
		if !result.Success {
			c.JSON(http.StatusBadRequest, result)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func (a *api) clearHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		result := a.tracker.ClearAll(c.Request.Context())
		if !result.Success {
			c.JSON(http.StatusInternalServerError, result)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func (a *api) overviewHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		overview, err := a.tracker.Overview(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, overview)
	}
}

func (a *api) purchasesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, ok := intQuery(c, "limit", 0)
		if !ok {
			return
		}
		purchases, err := a.tracker.ListPurchases(c.Request.Context(), limit)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, emptyIfNil(purchases))
	}
}

func itemFilterFromQuery(c *gin.Context) models.ItemFilter {
	return models.ItemFilter{
		Search:        c.Query("search"),
		SortField:     models.SortField(c.Query("sort")),
		SortDirection: models.SortDirection(c.Query("direction")),
	}
}

func (a *api) itemsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := a.tracker.ItemsWithStats(c.Request.Context(), itemFilterFromQuery(c))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, emptyIfNil(stats))
	}
}

func (a *api) itemHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		stats, err := a.tracker.ItemWithStats(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		if stats == nil {
			notFound(c, "item")
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

func (a *api) itemHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		history, err := a.tracker.ItemPurchaseHistory(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, emptyIfNil(history))
	}
}

func (a *api) itemChartHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		points, err := a.tracker.ItemChartData(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, emptyIfNil(points))
	}
}

func (a *api) itemCadenceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		exclude, ok := intQuery(c, "exclude", 0)
		if !ok {
			return
		}
		cadence, err := a.tracker.DaysBetweenPurchasesData(c.Request.Context(), id, exclude)
		if err != nil {
			respondError(c, err)
			return
		}
		if cadence == nil {
			notFound(c, "item")
			return
		}
		c.JSON(http.StatusOK, cadence)
	}
}

func (a *api) combinedItemsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		details, err := a.tracker.ListCombinedItems(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, emptyIfNil(details))
	}
}

func bindCombinedItemInput(c *gin.Context) (*models.CombinedItemInput, bool) {
	var input models.CombinedItemInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return nil, false
	}
	return &input, true
}

func (a *api) createCombinedItemHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		input, ok := bindCombinedItemInput(c)
		if !ok {
			return
		}
		created, err := a.tracker.CreateCombinedItem(c.Request.Context(), input)
		if err != nil {
			respondError(c, err)
			return
		}
		a.logger.WithFields(logrus.Fields{
			"module": "api.go",
			"id":     created.ID,
		}).Info("combined item created")
		c.JSON(http.StatusCreated, created)
	}
}

func (a *api) combinedItemHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		stats, err := a.tracker.CombinedItemWithStats(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		if stats == nil {
			notFound(c, "combined item")
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

func (a *api) updateCombinedItemHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		input, ok := bindCombinedItemInput(c)
		if !ok {
			return
		}
		updated, err := a.tracker.UpdateCombinedItem(c.Request.Context(), id, input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, updated)
	}
}

func (a *api) deleteCombinedItemHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		if err := a.tracker.DeleteCombinedItem(c.Request.Context(), id); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func (a *api) combinedItemHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		history, err := a.tracker.CombinedItemPurchaseHistory(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, emptyIfNil(history))
	}
}

func (a *api) combinedItemChartHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		points, err := a.tracker.CombinedItemChartData(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, emptyIfNil(points))
	}
}

func (a *api) combinedItemCadenceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		exclude, ok := intQuery(c, "exclude", 0)
		if !ok {
			return
		}
		cadence, err := a.tracker.CombinedItemDaysBetweenPurchasesData(c.Request.Context(), id, exclude)
		if err != nil {
			respondError(c, err)
			return
		}
		if cadence == nil {
			notFound(c, "combined item")
			return
		}
		c.JSON(http.StatusOK, cadence)
	}
}

func (a *api) exportJSONHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var buf bytes.Buffer
		if err := a.tracker.ExportJSON(c.Request.Context(), &buf); err != nil {
			respondError(c, err)
			return
		}
		c.Header("Content-Disposition", `attachment; filename="purchases.json"`)
		c.Data(http.StatusOK, "application/json", buf.Bytes())
	}
}

func (a *api) exportItemsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var buf bytes.Buffer
		if err := a.tracker.ExportItemsReport(c.Request.Context(), itemFilterFromQuery(c), &buf); err != nil {
			respondError(c, err)
			return
		}
		c.Header("Content-Disposition", `attachment; filename="items.xlsx"`)
		c.Data(http.StatusOK, xlsxMimeType, buf.Bytes())
	}
}

// eventsHandler streams data-changed events until the client goes away.
func (a *api) eventsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		events, unsubscribe := a.tracker.Subscribe()
		defer unsubscribe()

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")

		c.SSEvent("connected", gin.H{"status": "connected"})
		c.Writer.Flush()

		ctx := c.Request.Context()
		c.Stream(func(w io.Writer) bool {
			select {
			case <-ctx.Done():
				return false
			case event, ok := <-events:
				if !ok {
					return false
				}
				data, err := utils.MarshalToJSON(event)
				if err != nil {
					config.LogError(a.logger, "api.go", "eventsHandler", "marshal event", event, err)
					return true
				}
				c.SSEvent(string(event.Type), data)
				return true
			}
		})
	}
}

func emptyIfNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
