package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/projectdocs/docstore/pkg/audit"
	"github.com/projectdocs/docstore/pkg/authz"
	"github.com/projectdocs/docstore/pkg/docstore"
)

// listProjectsHandler handles GET /projects/ and returns the projects the
// caller may view.
func (s *Server) listProjectsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projects, err := s.projects.List(ctx)
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	user := caller(r)
	visible := make([]docstore.Project, 0, len(projects))
	for _, p := range projects {
		err := s.authorize(ctx, authz.AuthzRequest{
			User:    user,
			Scope:   authz.ScopeProject,
			Action:  authz.ActionView,
			Project: &authz.ProjectRef{Name: p.Name, Owner: p.OwnerName},
		})
		if err == nil {
			visible = append(visible, p)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": visible})
}

// createProjectHandler handles POST /projects/. The caller becomes the
// owner.
func (s *Server) createProjectHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := caller(r)
	err := s.authorize(ctx, authz.AuthzRequest{User: user, Scope: authz.ScopeProject, Action: authz.ActionCreate})
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}

	raw, err := readBody(r)
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	in, err := docstore.DecodeProjectBody(raw)
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	in.Owner = user
	audit.SetTarget(ctx, in.Name, "")

	project, err := s.projects.Create(ctx, in)
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

// getProjectHandler returns the project with the documents the caller may
// view.
func (s *Server) getProjectHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ref, err := s.projectAccess(r, authz.ActionView)
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	project, err := s.projects.Get(ctx, ref.Name)
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	user := caller(r)
	visible := make([]docstore.Document, 0, len(project.Documents))
	for i := range project.Documents {
		if s.canView(ctx, user, ref, &project.Documents[i]) {
			visible = append(visible, project.Documents[i])
		}
	}
	project.Documents = visible
	writeJSON(w, http.StatusOK, project)
}

func (s *Server) deleteProjectHandler(w http.ResponseWriter, r *http.Request) {
	ref, err := s.projectAccess(r, authz.ActionDelete)
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	if err := s.projects.Delete(r.Context(), ref.Name); err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"project": ref.Name, "deleted": true})
}

func (s *Server) grantProjectHandler(w http.ResponseWriter, r *http.Request) {
	s.changeProjectGrants(w, r, true)
}

func (s *Server) revokeProjectHandler(w http.ResponseWriter, r *http.Request) {
	s.changeProjectGrants(w, r, false)
}

func (s *Server) changeProjectGrants(w http.ResponseWriter, r *http.Request, grant bool) {
	ctx := r.Context()
	ref, err := s.projectAccess(r, authz.ActionEditPermissions)
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	body, err := s.decodeGrant(r, "")
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	perms, err := authz.ParseProjectPermissions(body.Permissions)
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	if grant {
		err = s.grants.GrantProject(ctx, body.UserName, ref.Name, perms...)
	} else {
		err = s.grants.RevokeProject(ctx, body.UserName, ref.Name, perms...)
	}
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	held, err := s.grants.ListProject(ctx, body.UserName, ref.Name)
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, permissionsResponse{UserName: body.UserName, Permissions: held})
}

func (s *Server) listProjectPermissionsHandler(w http.ResponseWriter, r *http.Request) {
	ref, err := s.projectAccess(r, authz.ActionEditPermissions)
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	user := chi.URLParam(r, "user")
	held, err := s.grants.ListProject(r.Context(), user, ref.Name)
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, permissionsResponse{UserName: user, Permissions: held})
}

func (s *Server) listProcessesHandler(w http.ResponseWriter, r *http.Request) {
	ref, err := s.projectAccess(r, authz.ActionView)
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	processes, err := s.projects.ListProcesses(r.Context(), ref.Name)
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"processes": processes})
}

// putProcessHandler creates or replaces a process from {inputs, outputs}.
func (s *Server) putProcessHandler(w http.ResponseWriter, r *http.Request) {
	ref, err := s.projectAccess(r, authz.ActionEdit)
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	var body docstore.ProcessBody
	if err := decodeBody(r, &body); err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	process, err := s.projects.PutProcess(r.Context(), ref.Name, docstore.ProcessSpec{
		Name:    chi.URLParam(r, "process"),
		Inputs:  body.Inputs,
		Outputs: body.Outputs,
	})
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, process)
}

func (s *Server) getProcessHandler(w http.ResponseWriter, r *http.Request) {
	ref, err := s.projectAccess(r, authz.ActionView)
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	process, err := s.projects.GetProcess(r.Context(), ref.Name, chi.URLParam(r, "process"))
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, process)
}

func (s *Server) deleteProcessHandler(w http.ResponseWriter, r *http.Request) {
	ref, err := s.projectAccess(r, authz.ActionEdit)
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	name := chi.URLParam(r, "process")
	if err := s.projects.DeleteProcess(r.Context(), ref.Name, name); err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"project": ref.Name, "process": name, "deleted": true})
}

// recomputeHandler re-evaluates every computed field of a project.
func (s *Server) recomputeHandler(w http.ResponseWriter, r *http.Request) {
	ref, err := s.projectAccess(r, authz.ActionEdit)
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	n, err := s.docs.Engine().RecomputeAll(r.Context(), ref.Name)
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"project": ref.Name, "recomputed": n})
}
