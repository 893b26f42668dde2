package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/projectdocs/docstore/pkg/authz"
	"github.com/projectdocs/docstore/pkg/docstore"
)

// caller returns the authenticated user name, or "".
func caller(r *http.Request) string {
	id, _ := authz.IdentityFromContext(r.Context())
	return id.User
}

// authorize returns an Unauthorized error unless the authorizer allows req.
func (s *Server) authorize(ctx context.Context, req authz.AuthzRequest) error {
	allowed, err := s.authorizer.Authorize(ctx, req)
	if err != nil {
		return err
	}
	if !allowed {
		target := ""
		switch {
		case req.Document != nil:
			target = " on document " + req.Document.Project + "/" + req.Document.Name
		case req.Project != nil:
			target = " on project " + req.Project.Name
		}
		return docstore.Unauthorizedf("user %q may not %s at %s scope%s", req.User, req.Action, req.Scope, target)
	}
	return nil
}

// projectAccess loads the project named in the route and authorizes a
// project-scope action on it.
func (s *Server) projectAccess(r *http.Request, action authz.Action) (*authz.ProjectRef, error) {
	ctx := r.Context()
	project, err := s.projects.Ref(ctx, chi.URLParam(r, "project"))
	if err != nil {
		return nil, err
	}
	err = s.authorize(ctx, authz.AuthzRequest{
		User:    caller(r),
		Scope:   authz.ScopeProject,
		Action:  action,
		Project: project,
	})
	if err != nil {
		return nil, err
	}
	return project, nil
}

// documentAccess loads the project and document named in the route and
// authorizes a document-scope action on them.
func (s *Server) documentAccess(r *http.Request, action authz.Action) (*authz.DocumentRef, error) {
	ctx := r.Context()
	project, err := s.projects.Ref(ctx, chi.URLParam(r, "project"))
	if err != nil {
		return nil, err
	}
	doc, err := s.docs.Ref(ctx, project.Name, chi.URLParam(r, "document"))
	if err != nil {
		return nil, err
	}
	err = s.authorize(ctx, authz.AuthzRequest{
		User:     caller(r),
		Scope:    authz.ScopeDocument,
		Action:   action,
		Project:  project,
		Document: doc,
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// canView reports whether user may view doc. Errors deny.
func (s *Server) canView(ctx context.Context, user string, project *authz.ProjectRef, doc *docstore.Document) bool {
	err := s.authorize(ctx, authz.AuthzRequest{
		User:     user,
		Scope:    authz.ScopeDocument,
		Action:   authz.ActionView,
		Project:  project,
		Document: &authz.DocumentRef{Project: doc.ProjectName, Name: doc.Name, Author: doc.AuthorName},
	})
	return err == nil
}
