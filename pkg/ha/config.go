// Package ha serializes schema migrations when several docstore replicas
// share one database.
package ha

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LockConfig holds configuration for the migration lock.
type LockConfig struct {
	// Enabled controls whether AutoMigrate runs under a lock. When false
	// migrations run unguarded (single replica deployments).
	Enabled bool

	// Name identifies the lock. Replicas sharing a database must use the
	// same name.
	Name string

	// RetryInterval is the wait between acquisition attempts on dialects
	// without a blocking lock primitive.
	RetryInterval time.Duration

	// MaxRetries bounds the acquisition attempts.
	MaxRetries int

	// StaleAfter is the age after which a table lock left by a crashed
	// holder is discarded.
	StaleAfter time.Duration

	// Holder names this replica in the lock row.
	Holder string
}

// DefaultLockConfig returns a LockConfig with sensible defaults.
func DefaultLockConfig() *LockConfig {
	return &LockConfig{
		Enabled:       true,
		Name:          "docstore-migration",
		RetryInterval: time.Second,
		MaxRetries:    30,
		StaleAfter:    5 * time.Minute,
		Holder:        defaultHolder(),
	}
}

// LockConfigFromEnv reads lock configuration from environment variables,
// falling back to defaults for any unset variable.
//
// Environment variables:
//   - DOCSTORE_MIGRATION_LOCK_ENABLED: "true" or "false" (default: "true")
//   - DOCSTORE_MIGRATION_LOCK_NAME: lock name (default: "docstore-migration")
//   - DOCSTORE_MIGRATION_LOCK_RETRIES: attempts (default: 30)
//   - DOCSTORE_MIGRATION_LOCK_STALE_SECONDS: seconds (default: 300)
func LockConfigFromEnv() *LockConfig {
	cfg := DefaultLockConfig()

	if v := os.Getenv("DOCSTORE_MIGRATION_LOCK_ENABLED"); v != "" {
		cfg.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("DOCSTORE_MIGRATION_LOCK_NAME"); v != "" {
		cfg.Name = v
	}
	if v := os.Getenv("DOCSTORE_MIGRATION_LOCK_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxRetries = n
		}
	}
	if v := os.Getenv("DOCSTORE_MIGRATION_LOCK_STALE_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.StaleAfter = time.Duration(secs) * time.Second
		}
	}

	return cfg
}

func defaultHolder() string {
	if v := os.Getenv("HOSTNAME"); v != "" {
		return v
	}
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "unknown"
	}
	return hostname
}
