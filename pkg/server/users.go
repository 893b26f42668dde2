package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/projectdocs/docstore/pkg/authz"
	"github.com/projectdocs/docstore/pkg/docstore"
)

type credentialsBody struct {
	UserName string `json:"user_name"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (s *Server) registerHandler(w http.ResponseWriter, r *http.Request) {
	var body credentialsBody
	if err := decodeBody(r, &body); err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	user, err := s.users.Register(r.Context(), body.UserName, body.Password)
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) tokenHandler(w http.ResponseWriter, r *http.Request) {
	if s.tokens == nil {
		writeStoreError(w, r, s.logger, docstore.BadRequestf("token issuance is not configured"))
		return
	}
	var body credentialsBody
	if err := decodeBody(r, &body); err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	user, err := s.users.Authenticate(r.Context(), body.UserName, body.Password)
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	token, exp, err := s.tokens.Issue(user.Name)
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer", ExpiresAt: exp})
}

// meHandler returns the caller's account and system permissions. In
// header mode the caller may have no account.
func (s *Server) meHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := caller(r)
	perms, err := s.grants.ListSystem(ctx, name)
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	resp := map[string]any{"user_name": name, "permissions": perms}
	if user, err := s.users.Get(ctx, name); err == nil {
		resp["created"] = user.CreatedAt
		resp["disabled"] = user.Disabled
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listSystemPermissionsHandler(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	held, err := s.grants.ListSystem(r.Context(), user)
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, permissionsResponse{UserName: user, Permissions: held})
}

func (s *Server) grantSystemHandler(w http.ResponseWriter, r *http.Request) {
	s.changeSystemGrants(w, r, true)
}

func (s *Server) revokeSystemHandler(w http.ResponseWriter, r *http.Request) {
	s.changeSystemGrants(w, r, false)
}

func (s *Server) changeSystemGrants(w http.ResponseWriter, r *http.Request, grant bool) {
	ctx := r.Context()
	body, err := s.decodeGrant(r, chi.URLParam(r, "user"))
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	perms, err := authz.ParseSystemPermissions(body.Permissions)
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	if grant {
		err = s.grants.GrantSystem(ctx, body.UserName, perms...)
	} else {
		err = s.grants.RevokeSystem(ctx, body.UserName, perms...)
	}
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	held, err := s.grants.ListSystem(ctx, body.UserName)
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, permissionsResponse{UserName: body.UserName, Permissions: held})
}
