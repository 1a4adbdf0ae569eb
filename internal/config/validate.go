package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	// DB password
	if c.DB.Password == "" {
		errs = append(errs, "DB_PASSWORD is required")
	}

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1-65535, got %d", c.Server.Port))
	}
	if c.DB.Port < 1 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT must be 1-65535, got %d", c.DB.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1-65535, got %d", c.Redis.Port))
	}

	// Quota
	if c.Quota.StoreTimeout <= 0 {
		errs = append(errs, "QUOTA_STORE_TIMEOUT must be positive")
	}
	if c.Quota.BurstPerMinute < 0 {
		errs = append(errs, fmt.Sprintf("QUOTA_BURST_PER_MINUTE must not be negative, got %d", c.Quota.BurstPerMinute))
	}
	if c.Quota.FallbackTier == "" {
		errs = append(errs, "QUOTA_FALLBACK_TIER is required")
	}

	// Retention
	if c.Retention.BatchSize < 1 {
		errs = append(errs, fmt.Sprintf("RETENTION_BATCH_SIZE must be positive, got %d", c.Retention.BatchSize))
	}
	for name, ov := range c.TierOverrides {
		if ov.RetentionDays != nil && *ov.RetentionDays < 0 {
			errs = append(errs, fmt.Sprintf("tier %q has negative retention days", name))
		}
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
