package config

import "time"

// RemoteConfig holds the REST backend configuration
type RemoteConfig struct {
	BaseURL   string
	Token     string
	Timeout   time.Duration
	RateLimit RateLimitConfig
}

// RateLimitConfig holds rate limit configuration
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	RetryMultiplier   float64
}

// DefaultRemoteConfig returns the default remote configuration
func DefaultRemoteConfig() *RemoteConfig {
	return &RemoteConfig{
		BaseURL: "http://localhost:8081/services/data",
		Timeout: 30 * time.Second,
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 10,
			Burst:             10,
			MaxRetries:        3,
			InitialBackoff:    time.Second,
			MaxBackoff:        time.Minute,
			RetryMultiplier:   2.0,
		},
	}
}
