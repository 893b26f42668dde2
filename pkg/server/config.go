// Package server exposes the document service over HTTP.
package server

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/projectdocs/docstore/pkg/audit"
	"github.com/projectdocs/docstore/pkg/authz"
	"github.com/projectdocs/docstore/pkg/cache"
	"github.com/projectdocs/docstore/pkg/ha"
)

// Config holds the server configuration.
type Config struct {
	ListenAddr   string `yaml:"listen"`
	DatabaseType string `yaml:"database_type"`
	DatabaseDSN  string `yaml:"database_dsn"`

	AuthMode   string        `yaml:"auth_mode"`
	JWTSecret  string        `yaml:"jwt_secret"`
	JWTIssuer  string        `yaml:"jwt_issuer"`
	TokenTTL   time.Duration `yaml:"token_ttl"`
	BcryptCost int           `yaml:"bcrypt_cost"`

	SchemaCacheSize int           `yaml:"schema_cache_size"`
	SchemaCacheTTL  time.Duration `yaml:"schema_cache_ttl"`

	AuditEnabled       bool          `yaml:"audit_enabled"`
	AuditLogDenied     bool          `yaml:"audit_log_denied"`
	AuditRetention     time.Duration `yaml:"audit_retention"`
	AuditSweepInterval time.Duration `yaml:"audit_sweep_interval"`

	MigrationLock bool     `yaml:"migration_lock"`
	CORSOrigins   []string `yaml:"cors_origins"`
}

// DefaultConfig returns a Config with sensible defaults: an embedded
// SQLite database and header identity.
func DefaultConfig() *Config {
	cacheCfg := cache.DefaultConfig()
	auditCfg := audit.DefaultConfig()
	return &Config{
		ListenAddr:         ":8080",
		DatabaseType:       "sqlite",
		DatabaseDSN:        "docstore.db",
		AuthMode:           string(authz.AuthModeHeader),
		JWTIssuer:          "docstore",
		TokenTTL:           12 * time.Hour,
		SchemaCacheSize:    cacheCfg.MaxSize,
		SchemaCacheTTL:     cacheCfg.TTL,
		AuditEnabled:       auditCfg.Enabled,
		AuditLogDenied:     auditCfg.LogDenied,
		AuditRetention:     auditCfg.Retention,
		AuditSweepInterval: auditCfg.SweepInterval,
		MigrationLock:      true,
		CORSOrigins:        []string{"https://*", "http://*"},
	}
}

// ConfigFromEnv overlays DOCSTORE_* environment variables on cfg, or on
// DefaultConfig when cfg is nil.
//
// Environment variables:
//   - DOCSTORE_LISTEN: listen address (default: ":8080")
//   - DOCSTORE_DB_TYPE: sqlite, postgres or mysql (default: "sqlite")
//   - DOCSTORE_DB_DSN: connection string (default: "docstore.db")
//   - DOCSTORE_AUTH_MODE: header or jwt (default: "header")
//   - DOCSTORE_JWT_SECRET, DOCSTORE_JWT_ISSUER
//   - DOCSTORE_TOKEN_TTL: Go duration (default: "12h")
//   - DOCSTORE_BCRYPT_COST: bcrypt cost (default: bcrypt.DefaultCost)
//   - DOCSTORE_CORS_ORIGINS: comma separated origins
//   - DOCSTORE_SCHEMA_CACHE_*, DOCSTORE_AUDIT_*, DOCSTORE_MIGRATION_LOCK_ENABLED
func ConfigFromEnv(cfg *Config) *Config {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	if v := os.Getenv("DOCSTORE_LISTEN"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("DOCSTORE_DB_TYPE"); v != "" {
		cfg.DatabaseType = v
	}
	if v := os.Getenv("DOCSTORE_DB_DSN"); v != "" {
		cfg.DatabaseDSN = v
	}
	if v := os.Getenv("DOCSTORE_AUTH_MODE"); v != "" {
		cfg.AuthMode = v
	}
	if v := os.Getenv("DOCSTORE_JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("DOCSTORE_JWT_ISSUER"); v != "" {
		cfg.JWTIssuer = v
	}
	if v := os.Getenv("DOCSTORE_TOKEN_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.TokenTTL = d
		}
	}
	if v := os.Getenv("DOCSTORE_BCRYPT_COST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.BcryptCost = n
		}
	}
	if v := os.Getenv("DOCSTORE_CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitList(v)
	}

	cacheCfg := cache.ConfigFromEnv(cfg.CacheConfig())
	cfg.SchemaCacheSize = cacheCfg.MaxSize
	cfg.SchemaCacheTTL = cacheCfg.TTL
	auditCfg := audit.ConfigFromEnv(cfg.AuditConfig())
	cfg.AuditEnabled = auditCfg.Enabled
	cfg.AuditLogDenied = auditCfg.LogDenied
	cfg.AuditRetention = auditCfg.Retention
	cfg.AuditSweepInterval = auditCfg.SweepInterval
	if os.Getenv("DOCSTORE_MIGRATION_LOCK_ENABLED") != "" {
		cfg.MigrationLock = ha.LockConfigFromEnv().Enabled
	}

	return cfg
}

// LoadConfig reads a YAML file over DefaultConfig. A missing file yields
// the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the settings that cannot be defaulted.
func (c *Config) Validate() error {
	mode, err := authz.ParseAuthMode(c.AuthMode)
	if err != nil {
		return err
	}
	if mode == authz.AuthModeJWT && c.JWTSecret == "" {
		return errors.New("jwt auth mode requires a JWT secret (DOCSTORE_JWT_SECRET)")
	}
	if c.ListenAddr == "" {
		return errors.New("listen address is required")
	}
	return nil
}

// CacheConfig returns the schema cache settings.
func (c *Config) CacheConfig() *cache.Config {
	return &cache.Config{MaxSize: c.SchemaCacheSize, TTL: c.SchemaCacheTTL}
}

// AuditConfig returns the audit settings.
func (c *Config) AuditConfig() *audit.Config {
	cfg := audit.DefaultConfig()
	cfg.Enabled = c.AuditEnabled
	cfg.LogDenied = c.AuditLogDenied
	cfg.Retention = c.AuditRetention
	if c.AuditSweepInterval > 0 {
		cfg.SweepInterval = c.AuditSweepInterval
	}
	return cfg
}

// LockConfig returns the migration lock settings.
func (c *Config) LockConfig() *ha.LockConfig {
	lock := ha.LockConfigFromEnv()
	lock.Enabled = c.MigrationLock
	return lock
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
