package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port               string
	DBDriver           string
	DBConnectionString string
	RemoteBaseURL      string
	RemoteToken        string
	SyncConfigPath     string
	SyncInterval       time.Duration
	LogLevel           string
	LogFile            string
	Sync               *SyncConfig
	Remote             *RemoteConfig
}

func Load() (*Config, error) {
	port := getEnv("PORT", "8080")
	dbDriver := getEnv("DB_DRIVER", "sqlite3")
	dbConnStr := getEnv("DB_CONNECTION_STRING", "mobilesync.db")

	switch dbDriver {
	case "sqlite3", "postgres":
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q (supported: sqlite3, postgres)", dbDriver)
	}

	syncInterval, err := strconv.Atoi(getEnv("SYNC_INTERVAL_MINUTES", "60"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_INTERVAL_MINUTES: %w", err)
	}

	syncCfg := DefaultSyncConfig()
	syncCfg.Interval = time.Duration(syncInterval) * time.Minute

	pageRetries, err := strconv.Atoi(getEnv("SYNC_PAGE_RETRIES", strconv.Itoa(syncCfg.BatchConfig.MaxRetries)))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_PAGE_RETRIES: %w", err)
	}
	syncCfg.BatchConfig.MaxRetries = pageRetries

	retryDelay, err := strconv.Atoi(getEnv("SYNC_RETRY_DELAY_MS", strconv.FormatInt(syncCfg.BatchConfig.RetryDelay.Milliseconds(), 10)))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_RETRY_DELAY_MS: %w", err)
	}
	syncCfg.BatchConfig.RetryDelay = time.Duration(retryDelay) * time.Millisecond

	remoteCfg := DefaultRemoteConfig()
	remoteCfg.BaseURL = getEnv("REMOTE_BASE_URL", remoteCfg.BaseURL)
	remoteCfg.Token = getEnv("REMOTE_TOKEN", "")

	multiplier, err := strconv.ParseFloat(getEnv("REMOTE_RETRY_MULTIPLIER", strconv.FormatFloat(remoteCfg.RateLimit.RetryMultiplier, 'f', -1, 64)), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid REMOTE_RETRY_MULTIPLIER: %w", err)
	}
	remoteCfg.RateLimit.RetryMultiplier = multiplier

	return &Config{
		Port:               port,
		DBDriver:           dbDriver,
		DBConnectionString: dbConnStr,
		RemoteBaseURL:      remoteCfg.BaseURL,
		RemoteToken:        remoteCfg.Token,
		SyncConfigPath:     getEnv("SYNC_CONFIG_PATH", ""),
		SyncInterval:       syncCfg.Interval,
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFile:            getEnv("LOG_FILE", ""),
		Sync:               syncCfg,
		Remote:             remoteCfg,
	}, nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
