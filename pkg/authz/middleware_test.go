package authz

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fixedAuthorizer struct {
	allow bool
	err   error
	last  AuthzRequest
}

func (a *fixedAuthorizer) Authorize(_ context.Context, req AuthzRequest) (bool, error) {
	a.last = req
	return a.allow, a.err
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireSystem_Allowed(t *testing.T) {
	authorizer := &fixedAuthorizer{allow: true}
	handler := RequireSystem(authorizer, ActionView)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/audit/events", nil)
	req = req.WithContext(WithIdentity(req.Context(), Identity{User: "alice"}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if authorizer.last.Scope != ScopeSystem || authorizer.last.Action != ActionView {
		t.Errorf("request = %+v, want system/view", authorizer.last)
	}
	if authorizer.last.User != "alice" {
		t.Errorf("user = %q, want alice", authorizer.last.User)
	}
}

func TestRequireSystem_Denied(t *testing.T) {
	handler := RequireSystem(&fixedAuthorizer{allow: false}, ActionEditPermissions)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("handler should not be called when denied")
		}),
	)

	req := httptest.NewRequest(http.MethodPost, "/users/bob/permissions", nil)
	req = req.WithContext(WithIdentity(req.Context(), Identity{User: "bob"}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusForbidden)
	}
	var body map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if body["error"] != "Unauthorized" {
		t.Errorf("error = %q, want %q", body["error"], "Unauthorized")
	}
	if body["message"] == "" {
		t.Error("expected non-empty message in response")
	}
}

func TestRequireSystem_NoIdentity(t *testing.T) {
	handler := RequireSystem(&fixedAuthorizer{allow: true}, ActionView)(okHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/audit/events", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestRequireSystem_AuthorizerError(t *testing.T) {
	handler := RequireSystem(&fixedAuthorizer{err: errors.New("db down")}, ActionView)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/audit/events", nil)
	req = req.WithContext(WithIdentity(req.Context(), Identity{User: "alice"}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusInternalServerError)
	}
}

func TestRequireIdentity(t *testing.T) {
	handler := RequireIdentity()(okHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/me", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d, want 401", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req = req.WithContext(WithIdentity(req.Context(), Identity{User: "alice"}))
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("authenticated status = %d, want 200", rr.Code)
	}
}
