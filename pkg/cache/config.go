package cache

import (
	"os"
	"strconv"
	"time"
)

// Config sizes the compiled-schema cache.
type Config struct {
	MaxSize int
	// TTL bounds how long an unused compiled schema stays cached.
	TTL time.Duration
}

// DefaultConfig keeps up to 512 schemas for 30 minutes.
func DefaultConfig() *Config {
	return &Config{MaxSize: 512, TTL: 30 * time.Minute}
}

// ConfigFromEnv overlays DOCSTORE_SCHEMA_CACHE_SIZE and
// DOCSTORE_SCHEMA_CACHE_TTL (a Go duration, or plain seconds) on cfg, or on
// DefaultConfig when cfg is nil.
func ConfigFromEnv(cfg *Config) *Config {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if v := os.Getenv("DOCSTORE_SCHEMA_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxSize = n
		}
	}
	if v := os.Getenv("DOCSTORE_SCHEMA_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.TTL = d
		} else if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.TTL = time.Duration(secs) * time.Second
		}
	}
	return cfg
}
