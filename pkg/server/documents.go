package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/projectdocs/docstore/pkg/authz"
	"github.com/projectdocs/docstore/pkg/docstore"
)

// createDocumentHandler handles POST /projects/{project}/documents/ with a
// single-entry {name: {jsonschema, computed_fields, ms_computed_fields}}
// body.
func (s *Server) createDocumentHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	project, err := s.projects.Ref(ctx, chi.URLParam(r, "project"))
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	user := caller(r)
	err = s.authorize(ctx, authz.AuthzRequest{
		User:    user,
		Scope:   authz.ScopeDocument,
		Action:  authz.ActionCreate,
		Project: project,
	})
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}

	raw, err := readBody(r)
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	spec, err := docstore.DecodeDocumentDefinition(raw)
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}

	doc, err := s.docs.Create(ctx, docstore.CreateDocumentInput{
		Project:        project.Name,
		Name:           spec.Name,
		Author:         user,
		JSONSchema:     spec.JSONSchema,
		ComputedFields: spec.ComputedFields,
	})
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// listDocumentsHandler handles GET /projects/{project}/documents/ and
// returns the names the caller may view.
func (s *Server) listDocumentsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	project, err := s.projectAccess(r, authz.ActionView)
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	names, err := s.docs.List(ctx, project.Name)
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	user := caller(r)
	visible := make([]string, 0, len(names))
	for _, name := range names {
		ref, err := s.docs.Ref(ctx, project.Name, name)
		if err != nil {
			continue
		}
		if s.authorize(ctx, authz.AuthzRequest{
			User: user, Scope: authz.ScopeDocument, Action: authz.ActionView, Project: project, Document: ref,
		}) == nil {
			visible = append(visible, name)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": visible})
}

func (s *Server) readDocumentHandler(w http.ResponseWriter, r *http.Request) {
	ref, err := s.documentAccess(r, authz.ActionView)
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	doc, err := s.docs.Read(r.Context(), ref.Project, ref.Name)
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// editAccess authorizes an edit and runs the process gate.
func (s *Server) editAccess(r *http.Request) (*authz.DocumentRef, error) {
	ref, err := s.documentAccess(r, authz.ActionEdit)
	if err != nil {
		return nil, err
	}
	if err := s.gate.Check(r.Context(), ref.Project, ref.Name); err != nil {
		return nil, err
	}
	return ref, nil
}

// writeDocumentHandler handles PUT: the body replaces the content.
func (s *Server) writeDocumentHandler(w http.ResponseWriter, r *http.Request) {
	ref, err := s.editAccess(r)
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	var content any
	if err := decodeBody(r, &content); err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	doc, err := s.docs.Write(r.Context(), ref.Project, ref.Name, content, caller(r))
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// mergeDocumentHandler handles PATCH: top-level keys of the body replace
// those of the content.
func (s *Server) mergeDocumentHandler(w http.ResponseWriter, r *http.Request) {
	ref, err := s.editAccess(r)
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	var body any
	if err := decodeBody(r, &body); err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	doc, err := s.docs.Merge(r.Context(), ref.Project, ref.Name, body, caller(r))
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// writeAtPathHandler handles POST /last/{path...}.
func (s *Server) writeAtPathHandler(w http.ResponseWriter, r *http.Request) {
	ref, err := s.editAccess(r)
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	var value any
	if err := decodeBody(r, &value); err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	path := strings.Trim(chi.URLParam(r, "*"), "/")
	doc, err := s.docs.WriteAtPath(r.Context(), ref.Project, ref.Name, path, value, caller(r))
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) deleteDocumentHandler(w http.ResponseWriter, r *http.Request) {
	ref, err := s.documentAccess(r, authz.ActionDelete)
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	if err := s.docs.Delete(r.Context(), ref.Project, ref.Name); err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"project": ref.Project, "document": ref.Name, "deleted": true})
}

// partialReadHandler handles GET /{field} and /{field}/{path...}. The
// /last/{path...} route carries no field parameter.
func (s *Server) partialReadHandler(w http.ResponseWriter, r *http.Request) {
	ref, err := s.documentAccess(r, authz.ActionView)
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	field := chi.URLParam(r, "field")
	if field == "" {
		field = "last"
	}
	path := strings.Trim(chi.URLParam(r, "*"), "/")
	value, err := s.docs.PartialRead(r.Context(), ref.Project, ref.Name, field, path)
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, value)
}

// revisionHandler handles GET /revisions/{n}: the content after n patches.
func (s *Server) revisionHandler(w http.ResponseWriter, r *http.Request) {
	ref, err := s.documentAccess(r, authz.ActionView)
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	n, err := strconv.Atoi(chi.URLParam(r, "revision"))
	if err != nil {
		writeStoreError(w, r, s.logger, docstore.BadRequestf("revision must be an integer"))
		return
	}
	content, err := s.docs.ContentAt(r.Context(), ref.Project, ref.Name, n)
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revision": n, "content": content})
}

// permissionsBody is the body of the grant and revoke endpoints.
type permissionsBody struct {
	UserName    string   `json:"user_name"`
	Permissions []string `json:"permissions"`
}

type permissionsResponse struct {
	UserName    string   `json:"user_name"`
	Permissions []string `json:"permissions"`
}

// decodeGrant reads a permissions body and checks the user exists.
func (s *Server) decodeGrant(r *http.Request, userFromPath string) (permissionsBody, error) {
	var body permissionsBody
	if err := decodeBody(r, &body); err != nil {
		return body, err
	}
	if userFromPath != "" {
		body.UserName = userFromPath
	}
	if body.UserName == "" {
		return body, docstore.BadRequestf("user_name is required")
	}
	exists, err := s.users.UserExists(r.Context(), body.UserName)
	if err != nil {
		return body, err
	}
	if !exists {
		return body, docstore.NotFoundf("user %q not found", body.UserName)
	}
	return body, nil
}

func (s *Server) grantDocumentHandler(w http.ResponseWriter, r *http.Request) {
	s.changeDocumentGrants(w, r, true)
}

func (s *Server) revokeDocumentHandler(w http.ResponseWriter, r *http.Request) {
	s.changeDocumentGrants(w, r, false)
}

func (s *Server) changeDocumentGrants(w http.ResponseWriter, r *http.Request, grant bool) {
	ctx := r.Context()
	ref, err := s.documentAccess(r, authz.ActionEditPermissions)
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	body, err := s.decodeGrant(r, "")
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	perms, err := authz.ParseDocumentPermissions(body.Permissions)
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	if grant {
		err = s.grants.GrantDocument(ctx, body.UserName, ref.Project, ref.Name, perms...)
	} else {
		err = s.grants.RevokeDocument(ctx, body.UserName, ref.Project, ref.Name, perms...)
	}
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	held, err := s.grants.ListDocument(ctx, body.UserName, ref.Project, ref.Name)
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, permissionsResponse{UserName: body.UserName, Permissions: held})
}

func (s *Server) listDocumentPermissionsHandler(w http.ResponseWriter, r *http.Request) {
	ref, err := s.documentAccess(r, authz.ActionEditPermissions)
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	user := chi.URLParam(r, "user")
	held, err := s.grants.ListDocument(r.Context(), user, ref.Project, ref.Name)
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, permissionsResponse{UserName: user, Permissions: held})
}
