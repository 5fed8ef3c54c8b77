// PRISM control plane server — serves the HTTP API, runs the agentic
// reasoning loop, and schedules monitoring tasks.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/prismsec/prism/pkg/api"
	"github.com/prismsec/prism/pkg/cleanup"
	"github.com/prismsec/prism/pkg/database"
	"github.com/prismsec/prism/pkg/dispatch"
	"github.com/prismsec/prism/pkg/masking"
	"github.com/prismsec/prism/pkg/monitor"
	"github.com/prismsec/prism/pkg/reason"
	"github.com/prismsec/prism/pkg/services"
	"github.com/prismsec/prism/pkg/settings"
	"github.com/prismsec/prism/pkg/tools"
	"github.com/prismsec/prism/pkg/version"
)

// mcpProbeTimeout bounds the one-shot startup probe of the remote providers.
const mcpProbeTimeout = 30 * time.Second

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	// Parse command-line flags
	envFile := flag.String("env-file",
		getEnv("ENV_FILE", ".env"),
		"Path to optional .env file")
	flag.Parse()

	// Load .env file if present
	if err := godotenv.Load(*envFile); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", *envFile, "error", err)
	} else {
		slog.Info("Loaded environment", "path", *envFile)
	}

	httpPort := getEnv("HTTP_PORT", "8080")

	slog.Info("Starting PRISM",
		"version", version.Full(),
		"http_port", httpPort)

	ctx := context.Background()

	// 1. Connect to PostgreSQL and apply migrations
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}

	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	db := dbClient.DB()

	// 2. Stores and persistence services
	settingsStore := settings.NewStore(db, nil)
	taskService := services.NewTaskService(db, nil)
	resultService := services.NewResultService(db, nil)
	slog.Info("Services initialized")

	// 3. Masking service (redacts stored secrets before persistence)
	maskingService := masking.NewService(settingsStore)

	// 4. Internal executors and the tool dispatcher
	dispatcher := dispatch.NewDispatcher(
		settingsStore,
		tools.NewSSHExecutor(settingsStore, nil),
		tools.NewSFTPUploader(settingsStore, nil),
		tools.NewWebSearch(settingsStore, nil),
		tools.NewDeployer(taskService, nil),
		nil,
	)
	slog.Info("Tool dispatcher initialized")

	// 5. Reasoning engine
	engine := reason.NewEngine(settingsStore, dispatcher,
		reason.WithMasker(maskingService))

	// 6. Monitoring runner and scheduler
	runner := monitor.NewRunner(taskService, resultService, dispatcher,
		monitor.WithRunnerMasker(maskingService))
	scheduler := monitor.NewScheduler(taskService, runner, nil)
	scheduler.Start(ctx)

	// 7. Result retention sweeper
	sweeper := cleanup.NewService(nil, resultService)
	sweeper.Start(ctx)

	// 8. HTTP server (non-blocking)
	apiServer := api.NewServer(db, settingsStore, taskService, resultService,
		runner, dispatcher, engine)
	httpServer := &http.Server{
		Addr:    ":" + httpPort,
		Handler: apiServer.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	// 9. One-shot async probe of the enabled remote MCP providers. Failures
	// are non-fatal: an unreachable provider surfaces as an offline
	// placeholder in the catalog until it comes back.
	go func() {
		probeCtx, cancel := context.WithTimeout(ctx, mcpProbeTimeout)
		defer cancel()
		for provider, reachable := range dispatcher.Probe(probeCtx) {
			if reachable {
				slog.Info("MCP provider reachable", "provider", provider)
			} else {
				slog.Warn("MCP provider unreachable, its tools are offline", "provider", provider)
			}
		}
	}()

	slog.Info("PRISM started successfully")

	// 10. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 11. Graceful shutdown: stop the background loops first (Stop waits for
	// in-flight runs), then drain the HTTP server.
	scheduler.Stop()
	sweeper.Stop()

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
