package docstore

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/projectdocs/docstore/pkg/authz"
)

const objectSchema = `{"type":"object"}`

type fixture struct {
	db       *gorm.DB
	grants   *authz.PermissionStore
	docs     *DocumentStore
	projects *ProjectStore
	imports  *ImportStore
	gate     *Gate
}

type staticUsers map[string]bool

func (u staticUsers) UserExists(_ context.Context, name string) (bool, error) {
	return u[name], nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// Every connection to :memory: is a separate database.
	sqlDB.SetMaxOpenConns(1)
	return db
}

func newFixture(t *testing.T, users ...string) *fixture {
	t.Helper()
	db := newTestDB(t)
	grants := authz.NewPermissionStore(db)
	require.NoError(t, grants.AutoMigrate())

	docs := NewDocumentStore(db, nil, grants, nil)
	require.NoError(t, docs.AutoMigrate())

	dir := staticUsers{}
	for _, u := range users {
		dir[u] = true
	}
	return &fixture{
		db:       db,
		grants:   grants,
		docs:     docs,
		projects: NewProjectStore(db, docs, dir, nil),
		imports:  NewImportStore(db, docs.Engine(), nil),
		gate:     NewGate(db, nil),
	}
}

func (f *fixture) project(t *testing.T, name, owner string) {
	t.Helper()
	_, err := f.projects.Create(context.Background(), CreateProjectInput{Name: name, Owner: owner})
	require.NoError(t, err)
}

func (f *fixture) document(t *testing.T, project, name string, fields ...FieldDeclaration) *Document {
	t.Helper()
	doc, err := f.docs.Create(context.Background(), CreateDocumentInput{
		Project:        project,
		Name:           name,
		Author:         "alice",
		JSONSchema:     json.RawMessage(objectSchema),
		ComputedFields: fields,
	})
	require.NoError(t, err)
	return doc
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func obj(t *testing.T, s string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(s), &v))
	return v
}
