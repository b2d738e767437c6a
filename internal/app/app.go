package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Kamar-Folarin/mobile-sync/internal/config"
	"github.com/Kamar-Folarin/mobile-sync/internal/db"
	"github.com/Kamar-Folarin/mobile-sync/internal/remote"
	"github.com/Kamar-Folarin/mobile-sync/internal/syncer"
)

// App holds the components shared by the server and the CLI
type App struct {
	Config  *config.Config
	Logger  *logrus.Logger
	Store   *db.SQLStore
	Source  remote.Source
	Manager *syncer.Manager

	logFile io.Closer
}

// Option configures New
type Option func(*options)

type options struct {
	source          remote.Source
	migrateAttempts int
	migrateDelay    time.Duration
	managerOpts     []syncer.ManagerOption
}

// WithSource replaces the REST client built from the configuration
func WithSource(source remote.Source) Option {
	return func(o *options) {
		o.source = source
	}
}

// WithMigrationRetry sets how often migrations are attempted before giving up
func WithMigrationRetry(attempts int, delay time.Duration) Option {
	return func(o *options) {
		o.migrateAttempts = attempts
		o.migrateDelay = delay
	}
}

// WithManagerOptions forwards options to the sync manager
func WithManagerOptions(opts ...syncer.ManagerOption) Option {
	return func(o *options) {
		o.managerOpts = append(o.managerOpts, opts...)
	}
}

// NewLogger builds the JSON logger, writing to LOG_FILE with rotation when it is set
func NewLogger(cfg *config.Config) (*logrus.Logger, io.Closer, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})
	logger.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}
	logger.SetLevel(level)

	if cfg.LogFile == "" {
		return logger, nopCloser{}, nil
	}

	rotating := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    50, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
	}
	logger.SetOutput(io.MultiWriter(os.Stdout, rotating))
	return logger, rotating, nil
}

// New opens and migrates the store and builds the sync manager
func New(cfg *config.Config, logger *logrus.Logger, opts ...Option) (*App, error) {
	o := &options{migrateAttempts: 3, migrateDelay: 5 * time.Second}
	for _, opt := range opts {
		opt(o)
	}

	store, err := db.Open(cfg.DBDriver, cfg.DBConnectionString, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := retry(o.migrateAttempts, o.migrateDelay, func() error {
		return store.Migrate(context.Background())
	}); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to run migrations after retries: %w", err)
	}

	source := o.source
	if source == nil {
		source = remote.NewClient(cfg.Remote, logger)
	}

	return &App{
		Config:  cfg,
		Logger:  logger,
		Store:   store,
		Source:  source,
		Manager: syncer.NewManager(store, source, cfg.Sync, logger, o.managerOpts...),
	}, nil
}

// Bootstrap seeds the configured sync definitions and closes out runs a previous process left RUNNING
func (a *App) Bootstrap(ctx context.Context) error {
	if a.Config.SyncConfigPath != "" {
		defs, err := config.LoadSyncDefinitions(a.Config.SyncConfigPath)
		if err != nil {
			return fmt.Errorf("failed to load sync definitions: %w", err)
		}
		created, err := a.Manager.SetupSyncs(ctx, defs)
		if err != nil {
			return fmt.Errorf("failed to set up syncs: %w", err)
		}
		a.Logger.WithFields(logrus.Fields{
			"path":    a.Config.SyncConfigPath,
			"created": created,
			"defined": len(defs.Syncs),
		}).Info("Sync definitions loaded")
	}

	recovered, err := a.Manager.RecoverInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover interrupted syncs: %w", err)
	}
	if recovered > 0 {
		a.Logger.WithField("recovered", recovered).Warn("Interrupted syncs marked as stopped")
	}
	return nil
}

// Close stops in-flight runs and releases the store and log file
func (a *App) Close(ctx context.Context) error {
	if err := a.Manager.StopAll(ctx); err != nil {
		a.Logger.WithError(err).Warn("Timed out waiting for running syncs")
	}
	if err := a.Store.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	if a.logFile != nil {
		return a.logFile.Close()
	}
	return nil
}

// AttachLogFile hands the log file returned by NewLogger to the app so Close releases it
func (a *App) AttachLogFile(c io.Closer) {
	a.logFile = c
}

// retry retries a function up to a certain number of attempts with a delay between attempts
func retry(attempts int, sleep time.Duration, fn func() error) error {
	if err := fn(); err != nil {
		if attempts--; attempts > 0 {
			time.Sleep(sleep)
			return retry(attempts, sleep, fn)
		}
		return err
	}
	return nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
