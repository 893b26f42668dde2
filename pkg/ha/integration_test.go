//go:build integration

package ha

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestMigrationLock_Postgres(t *testing.T) {
	ctx := context.Background()
	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("docstore"),
		tcpostgres.WithUsername("docstore"),
		tcpostgres.WithPassword("docstore"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(ctr) })

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	assertSerialized(t, db)
}

func TestMigrationLock_MySQL(t *testing.T) {
	ctx := context.Background()
	ctr, err := tcmysql.Run(ctx, "mysql:8.0",
		tcmysql.WithDatabase("docstore"),
		tcmysql.WithUsername("docstore"),
		tcmysql.WithPassword("docstore"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(ctr) })

	dsn, err := ctr.ConnectionString(ctx, "parseTime=true")
	require.NoError(t, err)
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	assertSerialized(t, db)

	// A held lock makes a second replica give up after its timeout.
	cfg := fastConfig()
	cfg.MaxRetries = 1
	cfg.RetryInterval = time.Second
	holder := NewMigrationLocker(db, cfg)
	waiter := NewMigrationLocker(db, cfg)
	err = holder.WithLock(ctx, func() error {
		return waiter.WithLock(ctx, func() error { return nil })
	})
	assert.ErrorContains(t, err, "timed out")
}

// assertSerialized runs two replicas' migrations at once and checks they
// never overlap.
func assertSerialized(t *testing.T, db *gorm.DB) {
	t.Helper()
	ctx := context.Background()

	var (
		mu      sync.Mutex
		active  int
		overlap bool
		wg      sync.WaitGroup
	)
	for i := 0; i < 2; i++ {
		locker := NewMigrationLocker(db, fastConfig())
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, locker.WithLock(ctx, func() error {
				mu.Lock()
				active++
				overlap = overlap || active > 1
				mu.Unlock()
				time.Sleep(200 * time.Millisecond)
				mu.Lock()
				active--
				mu.Unlock()
				return nil
			}))
		}()
	}
	wg.Wait()
	assert.False(t, overlap, "migrations ran concurrently")
}
