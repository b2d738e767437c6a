package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Kamar-Folarin/mobile-sync/internal/app"
	"github.com/Kamar-Folarin/mobile-sync/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "syncctl",
	Short: "Manage and run offline sync definitions",
	Long: `syncctl runs syncs against the configured local store and remote backend
without starting the HTTP server.

Configuration is read from the environment (and .env) exactly like the server:
DB_DRIVER, DB_CONNECTION_STRING, REMOTE_BASE_URL, REMOTE_TOKEN and so on.`,
	SilenceUsage: true,
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Failed to read .env: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd.AddCommand(listCmd, resyncCmd, cleanGhostsCmd, bootstrapCmd)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// withApp loads the configuration, opens the application and closes it when fn returns
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, logFile, err := app.NewLogger(cfg)
	if err != nil {
		return err
	}
	logger.SetOutput(cmd.ErrOrStderr())

	a, err := app.New(cfg, logger, app.WithMigrationRetry(1, 0))
	if err != nil {
		logFile.Close()
		return err
	}
	a.AttachLogFile(logFile)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			logger.WithError(err).Warn("Failed to close application")
		}
	}()

	return fn(cmd.Context(), a)
}
