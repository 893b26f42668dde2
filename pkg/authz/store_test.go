package authz

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db
}

func newTestStore(t *testing.T) *PermissionStore {
	t.Helper()
	store := NewPermissionStore(newTestDB(t))
	require.NoError(t, store.AutoMigrate())
	return store
}

func TestPermissionStore_SystemGrants(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	held, err := store.HasSystem(ctx, "alice", SysViewProjects)
	require.NoError(t, err)
	assert.False(t, held)

	require.NoError(t, store.GrantSystem(ctx, "alice", SysViewProjects, SysEditProjects))
	// Granting twice is a no-op.
	require.NoError(t, store.GrantSystem(ctx, "alice", SysViewProjects))

	held, err = store.HasSystem(ctx, "alice", SysViewProjects)
	require.NoError(t, err)
	assert.True(t, held)

	perms, err := store.ListSystem(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"edit_projects", "view_projects"}, perms)

	require.NoError(t, store.RevokeSystem(ctx, "alice", SysViewProjects, SysDeleteUsers))
	perms, err = store.ListSystem(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"edit_projects"}, perms)
}

func TestPermissionStore_ProjectAndDocumentGrants(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.GrantProject(ctx, "bob", "P1", ProjViewDocuments))
	require.NoError(t, store.GrantDocument(ctx, "bob", "P1", "spec", DocView, DocEdit))
	require.NoError(t, store.GrantDocument(ctx, "bob", "P2", "spec", DocView))

	held, err := store.HasProject(ctx, "bob", "P1", ProjViewDocuments)
	require.NoError(t, err)
	assert.True(t, held)

	held, err = store.HasProject(ctx, "bob", "P2", ProjViewDocuments)
	require.NoError(t, err)
	assert.False(t, held)

	perms, err := store.ListDocument(ctx, "bob", "P1", "spec")
	require.NoError(t, err)
	assert.Equal(t, []string{"edit", "view"}, perms)

	require.NoError(t, store.DeleteDocumentGrants(ctx, "P1", "spec"))
	perms, err = store.ListDocument(ctx, "bob", "P1", "spec")
	require.NoError(t, err)
	assert.Empty(t, perms)

	// Grants on other projects are untouched.
	held, err = store.HasDocument(ctx, "bob", "P2", "spec", DocView)
	require.NoError(t, err)
	assert.True(t, held)
}

func TestPermissionStore_DeleteProjectGrants(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.GrantProject(ctx, "bob", "P1", ProjEditDocuments))
	require.NoError(t, store.GrantDocument(ctx, "bob", "P1", "spec", DocView))
	require.NoError(t, store.GrantProject(ctx, "bob", "P2", ProjEditDocuments))

	require.NoError(t, store.DeleteProjectGrants(ctx, "P1"))

	perms, err := store.ListProject(ctx, "bob", "P1")
	require.NoError(t, err)
	assert.Empty(t, perms)
	perms, err = store.ListDocument(ctx, "bob", "P1", "spec")
	require.NoError(t, err)
	assert.Empty(t, perms)
	perms, err = store.ListProject(ctx, "bob", "P2")
	require.NoError(t, err)
	assert.Equal(t, []string{"edit_documents"}, perms)
}

func TestPermissionStore_WithTxRollback(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	store := NewPermissionStore(db)
	require.NoError(t, store.AutoMigrate())

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := store.WithTx(tx).GrantSystem(ctx, "alice", SysCreateProjects); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	held, err := store.HasSystem(ctx, "alice", SysCreateProjects)
	require.NoError(t, err)
	assert.False(t, held)
}

func TestParsePermissions(t *testing.T) {
	docs, err := ParseDocumentPermissions([]string{"view", "edit", "view"})
	require.NoError(t, err)
	assert.Equal(t, []DocumentPermission{DocView, DocEdit}, docs)

	_, err = ParseDocumentPermissions([]string{"view", "create_documents"})
	var invalid *InvalidPermissionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, ScopeDocument, invalid.Scope)
	assert.Equal(t, "create_documents", invalid.Name)

	projs, err := ParseProjectPermissions([]string{"create_documents"})
	require.NoError(t, err)
	assert.Equal(t, []ProjectPermission{ProjCreateDocuments}, projs)

	_, err = ParseSystemPermissions([]string{"edit_permissions"})
	assert.Error(t, err)

	assert.Len(t, AllSystemPermissions(), 9)
	assert.True(t, IsValidDocumentPermission("edit_permissions"))
	assert.False(t, IsValidDocumentPermission("edit_documents"))
}
