// Package db opens the gorm connection for the configured dialect.
package db

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Supported database types.
const (
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
	TypeMySQL    = "mysql"
)

// Options tunes the connection pool and gorm logging.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// SlowThreshold logs queries slower than this at Warn. Zero keeps gorm
	// silent.
	SlowThreshold time.Duration
	Logger        *slog.Logger
}

// Dialector returns the gorm dialector for dbType.
func Dialector(dbType, dsn string) (gorm.Dialector, error) {
	switch strings.ToLower(dbType) {
	case TypeSQLite, "sqlite3":
		if dsn == "" {
			dsn = "docstore.db"
		}
		return sqlite.Open(dsn), nil
	case TypePostgres, "postgresql":
		if dsn == "" {
			return nil, fmt.Errorf("database DSN is required for %s", dbType)
		}
		return postgres.Open(dsn), nil
	case TypeMySQL:
		if dsn == "" {
			return nil, fmt.Errorf("database DSN is required for %s", dbType)
		}
		return mysql.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database type %q (expected sqlite, postgres or mysql)", dbType)
	}
}

// Open connects to the database and applies opts.
func Open(dbType, dsn string, opts Options) (*gorm.DB, error) {
	dialector, err := Dialector(dbType, dsn)
	if err != nil {
		return nil, err
	}

	gormLogger := logger.Default.LogMode(logger.Silent)
	if opts.SlowThreshold > 0 {
		gormLogger = logger.New(slogWriter{logger: opts.Logger}, logger.Config{
			SlowThreshold:             opts.SlowThreshold,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		})
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", dialector.Name(), err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	if dialector.Name() == TypeSQLite {
		// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	} else if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	return gdb, nil
}

// slogWriter adapts gorm's printf logger to slog.
type slogWriter struct {
	logger *slog.Logger
}

func (w slogWriter) Printf(format string, args ...any) {
	l := w.logger
	if l == nil {
		l = slog.Default()
	}
	l.Warn(fmt.Sprintf(format, args...), "component", "gorm")
}
