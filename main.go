package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vikings-osm-sync/internal/auth"
	"vikings-osm-sync/internal/config"
	"vikings-osm-sync/internal/fetch"
	"vikings-osm-sync/internal/handlers"
	"vikings-osm-sync/internal/metrics"
	"vikings-osm-sync/internal/middleware"
	"vikings-osm-sync/internal/mutate"
	"vikings-osm-sync/internal/network"
	"vikings-osm-sync/internal/oauth"
	"vikings-osm-sync/internal/orchestrator"
	"vikings-osm-sync/internal/osm"
	"vikings-osm-sync/internal/queue"
	"vikings-osm-sync/internal/storage"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Set up logger
	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting vikings-osm-sync server",
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.DatabasePath,
		"backend", cfg.OSMBaseURL,
		"demo_mode", cfg.DemoMode,
		"log_level", cfg.LogLevel)

	// Open database
	db, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	logger.Info("Database opened successfully")

	// Core pipeline: gate, queue, monitor, client
	gate := auth.NewGate(cfg.DemoMode, nil)

	q := queue.New(queue.Config{
		MaxRetries:   cfg.QueueMaxRetries,
		BaseDelay:    cfg.QueueBaseDelay,
		MaxDelay:     cfg.QueueMaxDelay,
		EntryTimeout: cfg.QueueEntryTimeout,
	})

	monitor := network.NewMonitor(network.NewHTTPProber(cfg.OSMBaseURL), 30*time.Second)

	client := osm.NewClient(cfg.OSMBaseURL, gate, q)

	ttls := storage.TTLs{
		FlexiList:      cfg.FlexiListTTL,
		FlexiStructure: cfg.FlexiStructureTTL,
		FlexiData:      cfg.FlexiDataTTL,
		Events:         cfg.EventsTTL,
	}
	fetcher := fetch.NewService(db, client, gate, monitor, ttls)
	mutator := mutate.NewService(db, client, gate)
	syncer := orchestrator.New(fetcher)

	// Background loops
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	go func() {
		if err := q.Run(bgCtx); err != nil && err != context.Canceled {
			logger.Error("Queue loop failed", "error", err)
		}
	}()
	go monitor.Run(bgCtx, time.Minute)

	// Resync automatically when connectivity comes back
	monitor.Subscribe(func(online bool) {
		if !online || !gate.HasUsableToken() {
			return
		}
		go func() {
			if _, err := syncer.Sync(bgCtx); err != nil {
				logger.Warn("Post-reconnect sync failed", "error", err)
			}
		}()
	})

	// OAuth manager and handlers
	oauthManager := oauth.NewManager(cfg, gate)
	oauthHandler := handlers.NewOAuthHandler(oauthManager, cfg)
	statusHandler := handlers.NewStatusHandler(db, gate, q, monitor)
	syncHandler := handlers.NewSyncHandler(syncer, db, q)
	flexiHandler := handlers.NewFlexiHandler(mutator)

	// Set up HTTP routes
	mux := http.NewServeMux()
	mux.Handle("/oauth/login", middleware.WrapHandler(metrics.EndpointOAuthLogin, oauthHandler.HandleLogin))
	mux.Handle("/oauth/callback", middleware.WrapHandler(metrics.EndpointOAuthCallback, oauthHandler.HandleCallback))
	mux.Handle("/sync", middleware.WrapHandler(metrics.EndpointSync, syncHandler.HandleSync))
	mux.Handle("/cache/clear", middleware.WrapHandler(metrics.EndpointCacheClear, syncHandler.HandleClearCaches))
	mux.Handle("/flexi/update", middleware.WrapHandler(metrics.EndpointFlexiUpdate, flexiHandler.HandleUpdate))
	mux.Handle("/status", middleware.WrapHandler(metrics.EndpointStatus, statusHandler.HandleStatus))
	mux.Handle("/health", middleware.WrapHandler(metrics.EndpointHealth, statusHandler.HandleHealth))

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  35 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start metrics server if enabled
	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())

		metricsAddr := fmt.Sprintf("%s:%d", cfg.MetricsHost, cfg.MetricsPort)
		metricsServer = &http.Server{
			Addr:    metricsAddr,
			Handler: metricsMux,
		}

		go func() {
			logger.Info("Metrics server listening", "addr", metricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Start HTTP server in background
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down gracefully...")

	// Stop the queue and monitor; the queue rejects pending work on the
	// way down so no caller hangs
	bgCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Metrics server shutdown failed", "error", err)
		}
	}

	logger.Info("Server stopped")
}
