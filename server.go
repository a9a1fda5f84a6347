package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/shopping_tracker/config"
	"github.com/mmdatafocus/shopping_tracker/middlewares"
	"github.com/mmdatafocus/shopping_tracker/models"
	"github.com/sirupsen/logrus"
)

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func corsConfig(allowedOrigins []string) cors.Config {
	cfg := cors.DefaultConfig()
	if len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = allowedOrigins
	}
	cfg.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	cfg.AddAllowHeaders("Origin", "Content-Type", middlewares.RequestIdHeader)
	cfg.AddExposeHeaders("Content-Length", "Content-Disposition", middlewares.RequestIdHeader)
	return cfg
}

func newRouter(tracker *models.Tracker, settings *config.Settings, logger *logrus.Logger) *gin.Engine {
	r := gin.New()
	r.Use(middlewares.RequestIdMiddleware())
	r.Use(cors.New(corsConfig(settings.Server.AllowedOrigins)))
	r.Use(middlewares.TracingMiddleware())
	r.Use(middlewares.ErrorLoggerMiddleware(logger))
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	registerApiRoutes(r.Group("/api"), &api{tracker: tracker, logger: logger})
	r.NoRoute(customNotFoundHandler)
	return r
}

func main() {
	settings, err := config.LoadSettings(os.Getenv("TRACKER_CONFIG"))
	if err != nil {
		logrus.WithField("field", "settings").Fatal(err.Error())
	}
	logger := config.NewLogger(settings.Log.Level)

	// Shutdown coordination.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	tracker, err := models.OpenTracker(sigCtx, settings, logger)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "store"}).Fatal(err.Error())
	}
	defer func() {
		if err := tracker.Store().Close(); err != nil {
			config.LogError(logger, "server.go", "main", "close store", nil, err)
		}
	}()

	if settings.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	// request contexts derive from baseCtx so open event streams end on shutdown
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	srv := &http.Server{
		Addr:        ":" + settings.Server.Port,
		Handler:     newRouter(tracker, settings, logger),
		BaseContext: func(net.Listener) context.Context { return baseCtx },
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	logger.WithFields(logrus.Fields{
		"info":    "Server started",
		"backend": settings.Store.BlobBackend,
	}).Info("listening on http://localhost:", settings.Server.Port, "/api")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Drain HTTP requests.
	cancelBase()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}
}
