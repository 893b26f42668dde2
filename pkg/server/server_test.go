package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/projectdocs/docstore/pkg/accounts"
	"github.com/projectdocs/docstore/pkg/ha"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	return db
}

func newTestRouter(t *testing.T, mutate func(*Config), opts ...ServerOption) chi.Router {
	t.Helper()
	db := newTestDB(t)
	cfg := DefaultConfig()
	cfg.BcryptCost = bcrypt.MinCost
	if mutate != nil {
		mutate(cfg)
	}
	opts = append(opts, WithMigrationLocker(ha.NewMigrationLocker(db, cfg.LockConfig())))
	srv := NewServer(db, cfg, nil, opts...)
	require.NoError(t, srv.Init(t.Context()))
	return srv.MountRoutes()
}

type request struct {
	method      string
	path        string
	user        string
	body        string
	contentType string
	bearer      string
}

func do(t *testing.T, router http.Handler, req request) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	if req.body != "" {
		body = bytes.NewReader([]byte(req.body))
	} else {
		body = bytes.NewReader(nil)
	}
	r := httptest.NewRequest(req.method, req.path, body)
	if req.user != "" {
		r.Header.Set("X-Remote-User", req.user)
	}
	if req.bearer != "" {
		r.Header.Set("Authorization", "Bearer "+req.bearer)
	}
	contentType := req.contentType
	if contentType == "" {
		contentType = "application/json"
	}
	r.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, r)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func register(t *testing.T, router http.Handler, users ...string) {
	t.Helper()
	for _, u := range users {
		rec := do(t, router, request{method: "POST", path: "/register", body: `{"user_name":"` + u + `","password":"pw-` + u + `"}`})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}
}

const buildProject = `{
  "project_name": "P1",
  "documents": {
    "requirements": {"jsonschema": {"type": "object"}},
    "design": {
      "jsonschema": {"type": "object", "properties": {"title": {"type": "string"}}},
      "computed_fields": {"req_title": {"reference_document": "requirements", "jsonpath": "$.title"}}
    }
  },
  "processes": {"Build": {"inputs": ["requirements"], "outputs": ["design"]}}
}`

func TestHandlers_ProcessGateScenario(t *testing.T) {
	router := newTestRouter(t, nil)
	register(t, router, "alice")

	rec := do(t, router, request{method: "POST", path: "/projects/", user: "alice", body: buildProject})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, router, request{method: "PUT", path: "/projects/P1/documents/design", user: "alice", body: `{"title":"d"}`})
	require.Equal(t, http.StatusPreconditionRequired, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "PreconditionFailed", body["error"])
	assert.Contains(t, body["message"], "requirements")

	rec = do(t, router, request{method: "PUT", path: "/projects/P1/documents/requirements", user: "alice", body: `{"title":"r"}`})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, router, request{method: "PUT", path: "/projects/P1/documents/design", user: "alice", body: `{"title":"d"}`})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, router, request{method: "GET", path: "/projects/P1/documents/design/computed_fields/0/field_value", user: "alice"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `["r"]`, rec.Body.String())
}

func TestHandlers_DocumentLifecycle(t *testing.T) {
	router := newTestRouter(t, nil)
	register(t, router, "alice", "bob")

	rec := do(t, router, request{method: "POST", path: "/projects/", user: "alice", body: `{"project_name":"P1"}`})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	spec := `{"spec": {"jsonschema": {"type": "object", "properties": {"a": {"type": "array"}}}}}`
	rec = do(t, router, request{method: "POST", path: "/projects/P1/documents/", user: "alice", body: spec})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "spec", decode(t, rec)["name"])

	rec = do(t, router, request{method: "POST", path: "/projects/P1/documents/", user: "alice", body: spec})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Conflict", decode(t, rec)["error"])

	rec = do(t, router, request{method: "PUT", path: "/projects/P1/documents/spec", user: "alice", body: `{"a":[1]}`})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, router, request{method: "PUT", path: "/projects/P1/documents/spec", user: "alice", body: `{"a":"nope"}`})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ValidationError", decode(t, rec)["error"])

	rec = do(t, router, request{method: "POST", path: "/projects/P1/documents/spec/last/a", user: "alice", body: `2`})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, router, request{method: "POST", path: "/projects/P1/documents/spec/last/missing", user: "alice", body: `2`})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, request{method: "PATCH", path: "/projects/P1/documents/spec", user: "alice", body: `{"b":true}`})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, router, request{method: "GET", path: "/projects/P1/documents/spec/last", user: "alice"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"a":[1,2],"b":true}`, rec.Body.String())

	rec = do(t, router, request{method: "GET", path: "/projects/P1/documents/spec/last/a/1", user: "alice"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `2`, rec.Body.String())

	rec = do(t, router, request{method: "GET", path: "/projects/P1/documents/spec/owner", user: "alice"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, request{method: "GET", path: "/projects/P1/documents/spec/revisions/0", user: "alice"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"revision":0,"content":{"a":[1]}}`, rec.Body.String())

	rec = do(t, router, request{method: "GET", path: "/projects/P1/documents/spec/revisions/9", user: "alice"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, request{method: "GET", path: "/projects/P1/documents/spec", user: "bob"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, router, request{method: "POST", path: "/projects/P1/documents/spec/permissions", user: "alice",
		body: `{"user_name":"bob","permissions":["view"]}`})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"user_name":"bob","permissions":["view"]}`, rec.Body.String())

	rec = do(t, router, request{method: "POST", path: "/projects/P1/documents/spec/permissions", user: "alice",
		body: `{"user_name":"bob","permissions":["fly"]}`})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, request{method: "POST", path: "/projects/P1/documents/spec/permissions", user: "alice",
		body: `{"user_name":"carol","permissions":["view"]}`})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, request{method: "GET", path: "/projects/P1/documents/spec", user: "bob"})
	require.Equal(t, http.StatusOK, rec.Code)
	doc := decode(t, rec)
	assert.Len(t, doc["patches"], 2)

	rec = do(t, router, request{method: "PUT", path: "/projects/P1/documents/spec", user: "bob", body: `{}`})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, router, request{method: "DELETE", path: "/projects/P1/documents/spec", user: "alice"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, request{method: "GET", path: "/projects/P1/documents/spec", user: "alice"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlers_Unauthenticated(t *testing.T) {
	router := newTestRouter(t, nil)

	for _, path := range []string{"/projects/", "/me", "/projects/P1/documents/spec", "/audit/events"} {
		rec := do(t, router, request{method: "GET", path: path})
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}

	rec := do(t, router, request{method: "GET", path: "/healthz"})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, router, request{method: "GET", path: "/readyz"})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ready := decode(t, rec)
	assert.Equal(t, "ready", ready["status"])
	components, _ := ready["components"].(map[string]any)
	assert.Equal(t, map[string]any{"status": "complete"}, components["migrations"])
	assert.Contains(t, components["schema_cache"], "hits")
}

func TestHandlers_ProjectListingAndCreatePermission(t *testing.T) {
	router := newTestRouter(t, nil)
	register(t, router, "alice", "bob")

	rec := do(t, router, request{method: "POST", path: "/projects/", user: "bob", body: `{"project_name":"B"}`})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, router, request{method: "POST", path: "/users/bob/permissions", user: "alice",
		body: `{"permissions":["create_projects"]}`})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, router, request{method: "POST", path: "/projects/", user: "bob", body: `{"project_name":"B"}`})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = do(t, router, request{method: "POST", path: "/projects/", user: "bob", body: `{"project_name":"B"}`})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, router, request{method: "POST", path: "/projects/", user: "alice", body: `{"project_name":"A"}`})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, router, request{method: "GET", path: "/projects/", user: "bob"})
	require.Equal(t, http.StatusOK, rec.Code)
	projects := decode(t, rec)["projects"].([]any)
	require.Len(t, projects, 1)
	assert.Equal(t, "B", projects[0].(map[string]any)["name"])

	rec = do(t, router, request{method: "GET", path: "/projects/", user: "alice"})
	assert.Len(t, decode(t, rec)["projects"], 2, "alice holds view_projects")

	rec = do(t, router, request{method: "DELETE", path: "/projects/A", user: "bob"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = do(t, router, request{method: "DELETE", path: "/projects/B", user: "bob"})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, router, request{method: "GET", path: "/projects/B", user: "bob"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, request{method: "GET", path: "/users/bob/permissions", user: "bob"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandlers_ImportsAndYAML(t *testing.T) {
	router := newTestRouter(t, nil)
	register(t, router, "alice")

	rec := do(t, router, request{method: "POST", path: "/projects/", user: "alice",
		body: "project_name: P1\n", contentType: "application/x-yaml"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, router, request{method: "PUT", path: "/projects/P1/imports/schedule", user: "alice",
		body: `{"tasks":[],"resources":[{"name":"crane"}]}`})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	plan := `
plan:
  jsonschema:
    type: object
  ms_computed_fields:
    crane:
      import_name: schedule
      field_from: resources
      jsonpath: "$[0].name"
`
	rec = do(t, router, request{method: "POST", path: "/projects/P1/documents/", user: "alice", body: plan, contentType: "application/yaml"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, router, request{method: "GET", path: "/projects/P1/documents/plan/computed_fields/0/field_value", user: "alice"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `["crane"]`, rec.Body.String())

	rec = do(t, router, request{method: "POST", path: "/projects/P1/computed-fields:recompute", user: "alice"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(1), decode(t, rec)["recomputed"])

	rec = do(t, router, request{method: "DELETE", path: "/projects/P1/imports/schedule", user: "alice"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, request{method: "GET", path: "/projects/P1/documents/plan/computed_fields/0/field_value", user: "alice"})
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = do(t, router, request{method: "GET", path: "/projects/P1/imports/schedule", user: "alice"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlers_Processes(t *testing.T) {
	router := newTestRouter(t, nil)
	register(t, router, "alice")
	rec := do(t, router, request{method: "POST", path: "/projects/", user: "alice", body: buildProject})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, router, request{method: "GET", path: "/projects/P1/processes/Build", user: "alice"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"design"}, decode(t, rec)["outputs"])

	rec = do(t, router, request{method: "PUT", path: "/projects/P1/processes/Review", user: "alice",
		body: `{"inputs":["design"],"outputs":["ghost"]}`})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, request{method: "DELETE", path: "/projects/P1/processes/Build", user: "alice"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, request{method: "PUT", path: "/projects/P1/documents/design", user: "alice", body: `{"title":"free"}`})
	assert.Equal(t, http.StatusOK, rec.Code, "gate lifted once the process is gone")
}

func TestHandlers_AuditEvents(t *testing.T) {
	router := newTestRouter(t, nil)
	register(t, router, "alice")
	rec := do(t, router, request{method: "POST", path: "/projects/", user: "alice", body: `{"project_name":"P1"}`})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, router, request{method: "GET", path: "/audit/events?project=P1", user: "alice"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	events := decode(t, rec)["events"].([]any)
	require.NotEmpty(t, events)
	created := events[len(events)-1].(map[string]any)
	assert.Equal(t, "alice", created["actor"])
	assert.Equal(t, "P1", created["project"])
	assert.Equal(t, "create", created["action"])
}

func TestHandlers_LargeIntegersExact(t *testing.T) {
	router := newTestRouter(t, nil)
	register(t, router, "alice")
	rec := do(t, router, request{method: "POST", path: "/projects/", user: "alice", body: `{"project_name":"P1"}`})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = do(t, router, request{method: "POST", path: "/projects/P1/documents/", user: "alice", body: `{"spec":{"jsonschema":{"type":"object"}}}`})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, router, request{method: "PUT", path: "/projects/P1/documents/spec", user: "alice", body: `{"id":9007199254740993,"ids":[]}`})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "9007199254740993")

	rec = do(t, router, request{method: "POST", path: "/projects/P1/documents/spec/last/ids", user: "alice", body: `9007199254740995`})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "9007199254740993")
	assert.Contains(t, rec.Body.String(), "9007199254740995")
}

func TestHandlers_TokenFlow(t *testing.T) {
	issuer, err := accounts.NewTokenIssuer("test-secret", "docstore", time.Hour)
	require.NoError(t, err)
	router := newTestRouter(t, func(cfg *Config) {
		cfg.AuthMode = "jwt"
		cfg.JWTSecret = "test-secret"
	}, WithTokenIssuer(issuer))
	register(t, router, "alice")

	rec := do(t, router, request{method: "POST", path: "/token", body: `{"user_name":"alice","password":"wrong"}`})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, router, request{method: "POST", path: "/token", body: `{"user_name":"alice","password":"pw-alice"}`})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	token := decode(t, rec)["access_token"].(string)
	require.NotEmpty(t, token)

	rec = do(t, router, request{method: "GET", path: "/me", bearer: token})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	me := decode(t, rec)
	assert.Equal(t, "alice", me["user_name"])
	assert.NotEmpty(t, me["permissions"])

	rec = do(t, router, request{method: "GET", path: "/me", user: "alice"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "header identity ignored in jwt mode")

	rec = do(t, router, request{method: "POST", path: "/register", body: `{"user_name":"alice","password":"x"}`})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestReadBody_Errors(t *testing.T) {
	router := newTestRouter(t, nil)
	register(t, router, "alice")

	rec := do(t, router, request{method: "POST", path: "/projects/", user: "alice", body: `{"project_name":`})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, request{method: "POST", path: "/projects/", user: "alice", body: "a: [", contentType: "application/yaml"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.True(t, strings.Contains(decode(t, rec)["message"].(string), "YAML"))
}
