// Package main is the scholargate server: a read-through caching and
// ingestion gateway in front of a scholarly-metadata upstream. It wires
// the Identifier Index, Cache Tier, Graph Tier, Upstream Client, Field
// Projector and Task Queue into the Paper Service (C8) and exposes it
// over a thin HTTP shell plus an optional MCP stdio transport.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"scholargate/internal/api"
	"scholargate/internal/cache"
	"scholargate/internal/config"
	"scholargate/internal/mcp"
	"scholargate/internal/messaging"
	"scholargate/internal/messaging/embedded"
	"scholargate/internal/projector"
	"scholargate/internal/repository"
	"scholargate/internal/services"
	"scholargate/internal/upstream"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		slog.Error("failed to initialize logger", slog.String("error", err.Error()))
		os.Exit(1)
	}

	repo, err := repository.NewRepository(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize repository", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer repo.Close()

	cacheTier, err := cache.New(cache.Config{
		NumCounters: cfg.Cache.NumCounters,
		MaxCost:     cfg.Cache.MaxCost,
	}, logger)
	if err != nil {
		logger.Error("failed to initialize cache tier", slog.String("error", err.Error()))
		os.Exit(1)
	}

	timeouts, err := cfg.GetTimeoutConfig()
	if err != nil {
		logger.Error("failed to parse timeout config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	upstreamClient := upstream.NewClient(upstream.Config{
		BaseURL:        cfg.Upstream.BaseURL,
		APIKey:         cfg.Upstream.APIKey,
		Timeout:        timeouts.Upstream,
		RateLimitRPS:   cfg.Upstream.RateLimitRPS,
		RateLimitBurst: cfg.Upstream.RateLimitBurst,
	}, logger)

	proj := projector.New(projector.DefaultAtomicFields)

	// The Paper Service needs the Task Queue's enqueue side before the
	// Manager exists (handlers close over it), so it is built in two
	// passes: construct the service with a nil queue, then back-fill the
	// queue once the messaging manager is up, and hand the service's own
	// methods to the manager as its job handlers.
	paperService := services.NewPaperService(
		repo, cacheTier, upstreamClient, proj, nil,
		cfg.CacheTTLs(), cfg.FreshnessMaxAge(), logger,
	)

	handlers := messaging.TaskHandlers{
		FetchFromS2: paperService.HandleFetchFromS2,
		GraphMerge:  paperService.HandleGraphMerge,
		SetCache:    paperService.HandleSetCache,
	}

	var msgManager *embedded.Manager
	var queue *messaging.TaskQueue
	var msgClient *messaging.Client
	if cfg.NATS.Embedded.Enabled {
		msgManager, err = embedded.NewManager(&cfg.NATS, logger, handlers)
		if err != nil {
			logger.Error("failed to initialize embedded NATS manager", slog.String("error", err.Error()))
			os.Exit(1)
		}
		if err := msgManager.Start(ctx); err != nil {
			logger.Error("failed to start embedded NATS manager", slog.String("error", err.Error()))
			os.Exit(1)
		}
		queue = msgManager.Queue()
		msgClient = msgManager.GetClient()
	} else {
		manager, err := messaging.NewManager(&cfg.NATS, logger, handlers)
		if err != nil {
			logger.Warn("messaging manager unavailable, running without a task queue", slog.String("error", err.Error()))
		} else if err := manager.Start(ctx); err != nil {
			logger.Warn("messaging manager failed to start, running without a task queue", slog.String("error", err.Error()))
		} else {
			queue = manager.Queue()
			msgClient = manager.Client()
			defer manager.Stop(context.Background())
		}
	}
	paperService.SetQueue(queue)

	healthService := services.NewHealthService(repo, msgClient, upstreamClient, logger)

	router := api.NewRouter(paperService, healthService, upstreamClient, logger)

	mcpServer := mcp.NewSimpleMCPServer(paperService, logger)
	go func() {
		logger.Info("starting MCP server on stdio")
		if err := mcpServer.ServeStdio(); err != nil {
			logger.Error("MCP server failed", slog.String("error", err.Error()))
		}
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	if addr == ":0" {
		addr = ":8080"
	}
	server := &http.Server{
		Addr:           addr,
		Handler:        router,
		ReadTimeout:    timeouts.Server.Read,
		WriteTimeout:   timeouts.Server.Write,
		IdleTimeout:    timeouts.Server.Idle,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	go func() {
		logger.Info("starting scholargate server", slog.String("addr", server.Addr), slog.String("mode", cfg.Server.Mode))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	logger.Info("scholargate startup complete",
		slog.String("http_addr", server.Addr),
		slog.Bool("task_queue_connected", queue != nil))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down scholargate")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server forced to shutdown", slog.String("error", err.Error()))
	}

	if msgManager != nil {
		if err := msgManager.Stop(shutdownCtx); err != nil {
			logger.Error("failed to stop embedded NATS manager", slog.String("error", err.Error()))
		}
	}

	logger.Info("scholargate shutdown complete")
}
