package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/Kamar-Folarin/mobile-sync/internal/api"
	"github.com/Kamar-Folarin/mobile-sync/internal/app"
	"github.com/Kamar-Folarin/mobile-sync/internal/config"
	"github.com/Kamar-Folarin/mobile-sync/internal/syncer"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	// Load configuration with defaults
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, logFile, err := app.NewLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	if logger.GetLevel() < logrus.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	application, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize application: %v", err)
	}
	application.AttachLogFile(logFile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Bootstrap(ctx); err != nil {
		logger.Fatalf("Failed to bootstrap syncs: %v", err)
	}

	handler := api.NewHandler(ctx, application.Manager, logger)
	router := api.SetupRouter(handler)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewHTTPHandler(router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Server starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	go resyncPeriodically(ctx, application.Manager, cfg.SyncInterval, logger)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server shutdown failed: %v", err)
	}
	cancel()
	if err := application.Close(shutdownCtx); err != nil {
		logger.Errorf("Application shutdown failed: %v", err)
	}
	logger.Info("Server exited properly")
}

// resyncPeriodically runs every registered sync on each tick until ctx is done
func resyncPeriodically(ctx context.Context, manager *syncer.Manager, interval time.Duration, logger *logrus.Logger) {
	if interval <= 0 {
		logger.Info("Periodic re-sync disabled")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.WithField("interval", interval.String()).Info("Periodic re-sync scheduled")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := manager.ResyncAll(ctx); err != nil {
				logger.WithError(err).Error("Periodic re-sync finished with errors")
			}
		}
	}
}
