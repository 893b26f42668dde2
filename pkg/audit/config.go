package audit

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls which requests are recorded and how long events are kept.
type Config struct {
	Enabled   bool
	LogDenied bool // record 401/403 responses
	// Retention is how long events are kept. Zero keeps them forever.
	Retention     time.Duration
	SweepInterval time.Duration
	// SweepBatch caps the rows removed by one DELETE statement.
	SweepBatch int
}

// DefaultConfig keeps 90 days of events, sweeping hourly.
func DefaultConfig() *Config {
	return &Config{
		Enabled:       true,
		LogDenied:     true,
		Retention:     90 * 24 * time.Hour,
		SweepInterval: time.Hour,
		SweepBatch:    1000,
	}
}

// ConfigFromEnv overlays DOCSTORE_AUDIT_ENABLED, DOCSTORE_AUDIT_LOG_DENIED,
// DOCSTORE_AUDIT_RETENTION, DOCSTORE_AUDIT_SWEEP_INTERVAL and
// DOCSTORE_AUDIT_SWEEP_BATCH on cfg, or on DefaultConfig when cfg is nil.
// Unparsable values are ignored.
func ConfigFromEnv(cfg *Config) *Config {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if v := os.Getenv("DOCSTORE_AUDIT_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Enabled = b
		}
	}
	if v := os.Getenv("DOCSTORE_AUDIT_LOG_DENIED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.LogDenied = b
		}
	}
	if v := os.Getenv("DOCSTORE_AUDIT_RETENTION"); v != "" {
		if d, err := ParseRetention(v); err == nil {
			cfg.Retention = d
		}
	}
	if v := os.Getenv("DOCSTORE_AUDIT_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.SweepInterval = d
		}
	}
	if v := os.Getenv("DOCSTORE_AUDIT_SWEEP_BATCH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SweepBatch = n
		}
	}
	return cfg
}

// ParseRetention accepts a Go duration or a whole number of days with a
// "d" suffix, e.g. "720h" or "30d".
func ParseRetention(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid retention %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid retention %q", s)
	}
	return d, nil
}
