package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/projectdocs/docstore/pkg/authz"
	"github.com/projectdocs/docstore/pkg/docstore"
)

// putImportHandler ingests a pre-parsed project-file snapshot
// {tasks, resources, info}.
func (s *Server) putImportHandler(w http.ResponseWriter, r *http.Request) {
	ref, err := s.projectAccess(r, authz.ActionEdit)
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	var snap docstore.Snapshot
	if err := decodeBody(r, &snap); err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	stored, created, err := s.imports.Ingest(r.Context(), ref.Name, chi.URLParam(r, "import"), snap, caller(r))
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, stored)
}

func (s *Server) getImportHandler(w http.ResponseWriter, r *http.Request) {
	ref, err := s.projectAccess(r, authz.ActionView)
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	snap, err := s.imports.Get(r.Context(), ref.Name, chi.URLParam(r, "import"))
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) listImportsHandler(w http.ResponseWriter, r *http.Request) {
	ref, err := s.projectAccess(r, authz.ActionView)
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	snaps, err := s.imports.List(r.Context(), ref.Name)
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"imports": snaps})
}

func (s *Server) deleteImportHandler(w http.ResponseWriter, r *http.Request) {
	ref, err := s.projectAccess(r, authz.ActionEdit)
	if err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	name := chi.URLParam(r, "import")
	if err := s.imports.Delete(r.Context(), ref.Name, name); err != nil {
		writeStoreError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"project": ref.Name, "import": name, "deleted": true})
}
