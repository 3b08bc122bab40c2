package config

import (
	"fmt"
	"time"
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "pretty",
		},
		Delegation: DelegationConfig{
			MaxRetries:        3,
			RetryBackoff:      time.Second,
			Timeout:           30 * time.Second,
			DiscoveryCacheTTL: 5 * time.Minute,
			CircuitBreaker: CircuitBreakerConfig{
				Threshold: 5,
				Cooldown:  60 * time.Second,
			},
			Idempotency: IdempotencyConfig{
				TTL:     time.Hour,
				MaxSize: 1000,
			},
		},
		Workflow: WorkflowConfig{
			RetryBackoff: time.Second,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:7420",
		},
		Miner: MinerConfig{
			MinFrequency:      3,
			MinSuccessRate:    0.7,
			MaxSequenceLength: 5,
			SessionBucket:     time.Minute,
		},
	}
}
