package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"logiesync/internal/applier"
	"logiesync/internal/audit"
	"logiesync/internal/config"
	"logiesync/internal/db"
	"logiesync/internal/detector"
	"logiesync/internal/logging"
	"logiesync/internal/middleware"
	"logiesync/internal/run"
	"logiesync/internal/snapshot"
	"logiesync/internal/update"

	"github.com/rs/cors"
	"go.uber.org/zap"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	// Registry database: production entity tables plus the trigger-fed
	// changelogs and run records.
	registry, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to registry database", zap.Error(err))
	}
	defer registry.Close()

	if err := db.RunMigrations(cfg.Database); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	// A tracked table without its capture trigger would mutate unaudited;
	// refuse to start in that state.
	if err := audit.VerifyWiring(ctx, registry.Pool); err != nil {
		logger.Fatal("change capture wiring is incomplete", zap.Error(err))
	}

	// Candidate database: where the snapshot builder materializes each new
	// source generation. Read-only from this service's point of view.
	candidate, err := db.NewConnection(ctx, cfg.Candidate)
	if err != nil {
		logger.Fatal("failed to connect to candidate database", zap.Error(err))
	}
	defer candidate.Close()

	runs := run.NewManager(registry.Pool, logger)
	det := detector.New(logger)
	app := applier.New(applier.NewPostgresStore(registry.Pool), logger)
	changes := audit.NewQueries(registry.Pool, logger)
	capture := audit.NewControl(registry.Pool, logger)

	service := update.NewService(
		runs, det, app,
		snapshot.NewPostgresStore(registry.Pool),
		snapshot.NewPostgresStore(candidate.Pool),
		logger,
	)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	handler := corsHandler.Handler(
		middleware.Logging(logger)(update.NewHTTPHandler(service, changes, capture)),
	)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Periodically trim change records past the retention window.
	cleanupDone := make(chan struct{})
	go func() {
		defer close(cleanupDone)
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := changes.CleanupOlderThan(ctx, cfg.Audit.RetentionDays); err != nil {
					logger.Error("changelog cleanup failed", zap.Error(err))
				}
			}
		}
	}()

	go func() {
		logger.Info("server listening", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	cancel()
	<-cleanupDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}
