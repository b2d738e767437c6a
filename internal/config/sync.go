package config

import "time"

// SyncConfig holds synchronization configuration
type SyncConfig struct {
	Interval           time.Duration
	MaxConcurrentSyncs int
	BatchConfig        BatchConfig
}

// BatchConfig holds page and chunk processing configuration
type BatchConfig struct {
	// Size is the number of ids sent per remote existence check
	Size       int
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultSyncConfig returns the default sync configuration
func DefaultSyncConfig() *SyncConfig {
	return &SyncConfig{
		Interval:           time.Hour,
		MaxConcurrentSyncs: 3,
		BatchConfig: BatchConfig{
			Size:       100,
			Workers:    3,
			MaxRetries: 3,
			RetryDelay: time.Second,
		},
	}
}
