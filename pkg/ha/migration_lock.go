package ha

import (
	"context"
	"fmt"
	"hash/crc32"
	"time"

	"gorm.io/gorm"
)

// MigrationLocker serializes AutoMigrate across replicas.
type MigrationLocker interface {
	// WithLock executes fn while holding the migration lock.
	WithLock(ctx context.Context, fn func() error) error
}

// NewMigrationLocker returns the locker for the database dialect.
// PostgreSQL uses advisory locks, MySQL uses GET_LOCK, and anything else
// (SQLite) uses a lock row. A nil db or a disabled config runs fn
// unguarded.
func NewMigrationLocker(db *gorm.DB, cfg *LockConfig) MigrationLocker {
	if cfg == nil {
		cfg = DefaultLockConfig()
	}
	if db == nil || !cfg.Enabled {
		return noopMigrationLock{}
	}
	switch db.Dialector.Name() {
	case "postgres":
		return &pgAdvisoryLock{db: db, lockID: int64(crc32.ChecksumIEEE([]byte(cfg.Name)))}
	case "mysql":
		return &mysqlNamedLock{db: db, name: cfg.Name, timeout: time.Duration(cfg.MaxRetries) * cfg.RetryInterval}
	}
	// The lock table must exist before concurrent callers race on it.
	_ = db.AutoMigrate(&migrationLockRecord{})
	return &tableMigrationLock{db: db, cfg: cfg}
}

type noopMigrationLock struct{}

func (noopMigrationLock) WithLock(_ context.Context, fn func() error) error {
	return fn()
}

// pgAdvisoryLock holds a session advisory lock on one pinned connection.
type pgAdvisoryLock struct {
	db     *gorm.DB
	lockID int64
}

func (l *pgAdvisoryLock) WithLock(ctx context.Context, fn func() error) error {
	return l.db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		if err := conn.Exec("SELECT pg_advisory_lock(?)", l.lockID).Error; err != nil {
			return fmt.Errorf("acquire migration advisory lock: %w", err)
		}
		defer conn.Exec("SELECT pg_advisory_unlock(?)", l.lockID)
		return fn()
	})
}

// mysqlNamedLock holds a GET_LOCK named lock on one pinned connection.
type mysqlNamedLock struct {
	db      *gorm.DB
	name    string
	timeout time.Duration
}

func (l *mysqlNamedLock) WithLock(ctx context.Context, fn func() error) error {
	return l.db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		var got *int
		if err := conn.Raw("SELECT GET_LOCK(?, ?)", l.name, int(l.timeout.Seconds())).Scan(&got).Error; err != nil {
			return fmt.Errorf("acquire migration lock %q: %w", l.name, err)
		}
		if got == nil || *got != 1 {
			return fmt.Errorf("acquire migration lock %q: timed out after %s", l.name, l.timeout)
		}
		defer conn.Exec("SELECT RELEASE_LOCK(?)", l.name)
		return fn()
	})
}

// migrationLockRecord is the lock row for dialects without a lock primitive.
type migrationLockRecord struct {
	ID       string    `gorm:"primaryKey;column:id"`
	LockedAt time.Time `gorm:"column:locked_at"`
	LockedBy string    `gorm:"column:locked_by"`
}

func (migrationLockRecord) TableName() string { return "migration_lock" }

// tableMigrationLock uses INSERT-or-fail on a lock row, discarding rows
// older than StaleAfter so a crashed holder does not block forever.
type tableMigrationLock struct {
	db  *gorm.DB
	cfg *LockConfig
}

func (l *tableMigrationLock) WithLock(ctx context.Context, fn func() error) error {
	row := migrationLockRecord{ID: l.cfg.Name, LockedBy: l.cfg.Holder}
	retries := l.cfg.MaxRetries
	if retries <= 0 {
		retries = 1
	}

	for i := 0; ; i++ {
		l.db.WithContext(ctx).
			Where("id = ? AND locked_at < ?", l.cfg.Name, time.Now().Add(-l.cfg.StaleAfter)).
			Delete(&migrationLockRecord{})

		row.LockedAt = time.Now()
		err := l.db.WithContext(ctx).Create(&row).Error
		if err == nil {
			break
		}
		if i == retries-1 {
			return fmt.Errorf("acquire migration lock %q after %d attempts: %w", l.cfg.Name, retries, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.cfg.RetryInterval):
		}
	}

	defer l.db.Where("id = ?", l.cfg.Name).Delete(&migrationLockRecord{})

	return fn()
}
