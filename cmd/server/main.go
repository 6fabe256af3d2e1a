package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ardhilink/plotsync/internal/config"
	"github.com/ardhilink/plotsync/internal/connectivity"
	"github.com/ardhilink/plotsync/internal/geo"
	"github.com/ardhilink/plotsync/internal/handlers"
	"github.com/ardhilink/plotsync/internal/logger"
	"github.com/ardhilink/plotsync/internal/metrics"
	"github.com/ardhilink/plotsync/internal/middleware"
	"github.com/ardhilink/plotsync/internal/normalize"
	"github.com/ardhilink/plotsync/internal/orders"
	"github.com/ardhilink/plotsync/internal/render"
	"github.com/ardhilink/plotsync/internal/session"
	"github.com/ardhilink/plotsync/internal/source"
)

const (
	shutdownTimeout = 30 * time.Second
	demoPlotCount   = 40
)

func main() {
	// Load configuration from environment variables
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	log := logger.New(cfg.Server.Env)
	log.Info("Starting plotsync", map[string]interface{}{
		"version":     handlers.APIVersion,
		"environment": cfg.Server.Env,
		"port":        cfg.Server.Port,
	})

	// Select the plot source: live registry when configured, seeded
	// in-memory source otherwise
	var src source.PlotSource
	if cfg.Source.BaseURL != "" {
		src = source.NewHTTPSource(cfg.Source.BaseURL, cfg.Source.Timeout, log)
		log.Info("Using remote plot source", map[string]interface{}{
			"base_url": cfg.Source.BaseURL,
			"timeout":  cfg.Source.Timeout.String(),
		})
	} else {
		src = source.NewMemorySource(demoPlotCount)
		log.Warn("SOURCE_BASE_URL not set, using in-memory demo source", map[string]interface{}{
			"plots": demoPlotCount,
		})
	}

	// Metrics registry with process/go collectors plus domain instruments
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	domainMetrics := metrics.New(registry)

	// Assemble the synchronization engine
	monitor := connectivity.NewMonitor(src, cfg.Source.HealthTTL, log)
	sess := session.New(session.Options{
		Source:     src,
		Monitor:    monitor,
		Normalizer: normalize.New(log),
		Validator:  geo.NewValidator(cfg.Region.Bounds()),
		Reconciler: render.NewReconciler(cfg.Render.LabelMinZoom),
		Metrics:    domainMetrics,
		Logger:     log,
		RetryMax:   cfg.Source.RetryMax,
		RetryStep:  cfg.Source.RetryBackoff,
	})
	coordinator := orders.NewCoordinator(sess, src, domainMetrics, log)

	// Initial sync; a failure here is survivable, the auto-refresh timer
	// will keep trying
	startCtx, startCancel := context.WithTimeout(context.Background(), cfg.Source.Timeout)
	if err := sess.Refresh(startCtx); err != nil {
		log.Warn("Initial refresh failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	startCancel()

	if cfg.Sync.AutoRefresh {
		sess.StartAutoRefresh(cfg.Sync.RefreshInterval)
	}
	defer sess.Close()

	// Setup Gin router
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Add middleware in order: RequestID -> Logger -> Recovery -> CORS
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.CORS(cfg.CORS.Origins))

	// Register health and metrics routes
	healthHandler := handlers.NewHealthHandler(sess, cfg.Server.Env)
	router.GET("/health", healthHandler.Health)
	router.GET("/health/ready", healthHandler.Ready)
	router.GET("/api/v1/info", healthHandler.Info)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	// Initialize handlers
	plotHandler := handlers.NewPlotHandler(sess, coordinator)
	renderHandler := handlers.NewRenderHandler(sess)

	// Register API v1 routes
	v1 := router.Group("/api/v1")
	{
		plots := v1.Group("/plots")
		{
			plots.GET("", plotHandler.List)
			plots.GET("/:id", plotHandler.Get)
			plots.POST("/:id/reserve", plotHandler.Reserve)
		}
		v1.GET("/render", renderHandler.Render)
		v1.POST("/refresh", plotHandler.Refresh)
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server listening", map[string]interface{}{
			"port": cfg.Server.Port,
			"addr": srv.Addr,
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start", err, nil)
		}
	}()

	// Wait for interrupt signal (SIGINT or SIGTERM)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// Graceful shutdown: stop the refresh timer first so no fetch races
	// the teardown, then drain the HTTP server
	log.Info("Shutting down server...", nil)
	sess.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", err, map[string]interface{}{
			"timeout": shutdownTimeout.String(),
		})
	}

	log.Info("Server exited", nil)
}
