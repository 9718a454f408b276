package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"

	"transfer-relay/codec"
	"transfer-relay/fabric"
	"transfer-relay/internal"
	"transfer-relay/moderation"
	"transfer-relay/observability"
	"transfer-relay/relay"
	"transfer-relay/repositories"
	"transfer-relay/runtime/workers"
	"transfer-relay/search"
	"transfer-relay/storage"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	// The main function acts as a thin wrapper.
	// Its only responsibility is to call run() and handle the OS exit code.
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Relay terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run initializes all components, manages the server lifecycle, and centralizes error reporting.
// Preferred over calling os.Exit or panic directly: defers (database cleanup)
// still run, initialization stays testable, and shutdown stays structured.
func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}

	logger := logs.GetLoggerFromString(config.LogLevel)
	ctx := context.Background()

	// 2. Database (BadgerDB)
	db, err := badger.Open(buildBadgerOpts(config, logger, ctx))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		// Defer ensures the database lock is released and buffers are flushed before the function returns.
		logger.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	blugeWriter, err := bluge.OpenWriter(bluge.DefaultConfig(config.BlugeFilepath))
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to open bluge writer: %w", err)
	}
	defer func() {
		logger.Info("Closing Bluge...")
		_ = blugeWriter.Close()
	}()

	// 3. Core components
	chunkCodec, err := codec.New(config.TransferSecret)
	if err != nil {
		return exitConfig, fmt.Errorf("codec init failed: %w", err)
	}

	store, err := storage.NewDiskStore(config.UploadDir, logger)
	if err != nil {
		return exitRuntime, fmt.Errorf("blob store init failed: %w", err)
	}

	screener, err := moderation.NewScreener(config.ForbiddenWordList())
	if err != nil {
		return exitConfig, fmt.Errorf("screener init failed: %w", err)
	}

	monitoring := observability.NewMonitoringManager()
	transfers := repositories.NewTransferRepository(db, logger)
	sessions := repositories.NewSessionRepository(db, logger)
	index := search.NewTransferIndex(blugeWriter, logger)

	hub := fabric.NewHub(logger)
	engine := relay.NewEngine(hub, transfers, sessions, store, chunkCodec,
		monitoring, config.ChunkSize, config.SourceBufferSize, logger)
	registrar := relay.NewRegistrar(transfers, store, index, screener, logger)

	if logger.Enabled(ctx, slog.LevelDebug) {
		endpoint := "/inspect"
		logger.Info("Debug Badger inspector available",
			"url", fmt.Sprintf("http://localhost:%d%s", config.DebugPort, endpoint))
		internal.StartDebugServer(db, config.DebugPort, endpoint, internal.RelayMapper, func() map[string]any {
			stats := monitoring.Snapshot()
			return map[string]any{
				"ActiveSessions":    stats.ActiveSessions,
				"SessionsCompleted": stats.SessionsCompleted,
				"SessionsFailed":    stats.SessionsFailed,
				"ChunksForwarded":   stats.ChunksForwarded,
				"BytesRelayed":      stats.BytesRelayed,
				"RelaySpeedMBs":     fmt.Sprintf("%.2f", stats.RelaySpeedMBs),
			}
		})
	}

	// 4. Context & Signals
	// NotifyContext captures OS signals and cancels the context to trigger a shutdown.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 5. Background workers
	sup := workers.NewSupervisor(logger)
	sup.Add(
		workers.NewReaperWorker(sessions, engine, config.SessionIdleTimeout, config.ReaperInterval, logger),
		workers.NewTelemetryWorker(logger, config.MetricInterval, monitoring),
	)

	supDone := make(chan struct{})
	go func() {
		logger.Info("Starting supervisor...")
		sup.Run(ctx)
		close(supDone)
	}()

	// 6. Websocket server
	mux := http.NewServeMux()
	mux.Handle("/ws", fabric.NewServer(hub, engine, config.ConnectionBufferSize, logger))
	registerRoutes(mux, registrar, config.AuthTokenDuration, logger)

	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	httpServer := &http.Server{Addr: address, Handler: mux}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Starting relay server", "address", address, "at", time.Now().UTC())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	// 7. Wait for Stop or Error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errChan:
		return exitRuntime, err
	}

	// 8. Final Cleanup (Graceful Shutdown)
	// Active websocket sessions get a short window to flush before close.
	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	sup.Stop()
	<-supDone
	logger.Info("Program stopped cleanly")

	return exitOK, nil
}

func buildBadgerOpts(config internal.Config, logger *slog.Logger, ctx context.Context) badger.Options {
	options := badger.DefaultOptions(config.BadgerFilepath)

	if logger.Enabled(ctx, slog.LevelDebug) {
		options = options.WithLoggingLevel(badger.DEBUG).
			WithBypassLockGuard(true)
	} else {
		options = options.WithLoggingLevel(badger.INFO)
	}

	return options
}
