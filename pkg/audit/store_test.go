package audit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	store := NewStore(db)
	require.NoError(t, store.AutoMigrate())
	return store
}

func appendEvent(t *testing.T, store *Store, actor, project string, at time.Time) {
	t.Helper()
	require.NoError(t, store.Append(context.Background(), &Event{
		ID:         uuid.NewString(),
		Actor:      actor,
		Method:     "PUT",
		Path:       fmt.Sprintf("/projects/%s/documents/spec", project),
		Project:    project,
		Document:   "spec",
		Action:     "update",
		StatusCode: 200,
		Outcome:    "success",
		CreatedAt:  at,
	}))
}

func TestStore_ListPaginates(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		appendEvent(t, store, "alice", "P1", base.Add(time.Duration(i)*time.Minute))
	}
	appendEvent(t, store, "bob", "P2", base.Add(10*time.Minute))

	events, next, total, err := store.List(ctx, ListFilter{Actor: "alice"}, 2, "")
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, events, 2)
	assert.NotEmpty(t, next)
	assert.True(t, events[0].CreatedAt.After(events[1].CreatedAt), "newest first")

	seen := len(events)
	for next != "" {
		events, next, _, err = store.List(ctx, ListFilter{Actor: "alice"}, 2, next)
		require.NoError(t, err)
		seen += len(events)
	}
	assert.Equal(t, 5, seen)

	events, _, total, err = store.List(ctx, ListFilter{Project: "P2"}, 0, "")
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "bob", events[0].Actor)

	_, _, _, err = store.List(ctx, ListFilter{}, 10, "not-a-time")
	assert.Error(t, err)
}

func TestStore_ListPaginatesAcrossTies(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	at := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 5; i++ {
		appendEvent(t, store, "alice", "P1", at)
	}

	ids := map[string]bool{}
	events, next, _, err := store.List(ctx, ListFilter{}, 2, "")
	require.NoError(t, err)
	for {
		for _, ev := range events {
			assert.False(t, ids[ev.ID], "event %s listed twice", ev.ID)
			ids[ev.ID] = true
		}
		if next == "" {
			break
		}
		events, next, _, err = store.List(ctx, ListFilter{}, 2, next)
		require.NoError(t, err)
	}
	assert.Len(t, ids, 5)
}

func TestParsePageToken(t *testing.T) {
	ev := Event{ID: uuid.NewString(), CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 5, time.UTC)}
	at, id, err := parsePageToken(encodePageToken(ev))
	require.NoError(t, err)
	assert.True(t, ev.CreatedAt.Equal(at))
	assert.Equal(t, ev.ID, id)

	for _, bad := range []string{"2026-03-01T12:00:00Z", "yesterday_abc", "2026-03-01T12:00:00Z_"} {
		_, _, err := parsePageToken(bad)
		assert.Error(t, err, bad)
	}
}

func TestStore_DeleteOlderThan(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Now().UTC()
	appendEvent(t, store, "alice", "P1", now.Add(-100*24*time.Hour))
	appendEvent(t, store, "alice", "P1", now.Add(-time.Hour))

	deleted, err := store.DeleteOlderThan(ctx, now.Add(-90*24*time.Hour), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	events, _, total, err := store.List(ctx, ListFilter{}, 10, "")
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, events, 1)
}
