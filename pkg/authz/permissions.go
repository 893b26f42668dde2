package authz

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
)

// SystemPermission is a grant held without a scope key.
type SystemPermission string

const (
	SysCreateProjects          SystemPermission = "create_projects"
	SysViewProjects            SystemPermission = "view_projects"
	SysEditProjects            SystemPermission = "edit_projects"
	SysDeleteProjects          SystemPermission = "delete_projects"
	SysViewUsers               SystemPermission = "view_users"
	SysEditUsers               SystemPermission = "edit_users"
	SysDeleteUsers             SystemPermission = "delete_users"
	SysEditUsersPermissions    SystemPermission = "edit_users_permissions"
	SysEditProjectsPermissions SystemPermission = "edit_projects_permissions"
)

// ProjectPermission is a grant keyed by project name.
type ProjectPermission string

const (
	ProjView                     ProjectPermission = "view"
	ProjEdit                     ProjectPermission = "edit"
	ProjDelete                   ProjectPermission = "delete"
	ProjCreateDocuments          ProjectPermission = "create_documents"
	ProjViewDocuments            ProjectPermission = "view_documents"
	ProjEditDocuments            ProjectPermission = "edit_documents"
	ProjDeleteDocuments          ProjectPermission = "delete_documents"
	ProjEditProjectPermissions   ProjectPermission = "edit_project_permissions"
	ProjEditDocumentsPermissions ProjectPermission = "edit_documents_permissions"
)

// DocumentPermission is a grant keyed by (project, document).
type DocumentPermission string

const (
	DocView            DocumentPermission = "view"
	DocEdit            DocumentPermission = "edit"
	DocDelete          DocumentPermission = "delete"
	DocEditPermissions DocumentPermission = "edit_permissions"
)

// AllSystemPermissions returns every system permission kind.
func AllSystemPermissions() []SystemPermission {
	return []SystemPermission{
		SysCreateProjects, SysViewProjects, SysEditProjects, SysDeleteProjects,
		SysViewUsers, SysEditUsers, SysDeleteUsers,
		SysEditUsersPermissions, SysEditProjectsPermissions,
	}
}

var (
	systemKinds = mapset.NewSet[string](
		string(SysCreateProjects), string(SysViewProjects), string(SysEditProjects),
		string(SysDeleteProjects), string(SysViewUsers), string(SysEditUsers),
		string(SysDeleteUsers), string(SysEditUsersPermissions), string(SysEditProjectsPermissions),
	)
	projectKinds = mapset.NewSet[string](
		string(ProjView), string(ProjEdit), string(ProjDelete),
		string(ProjCreateDocuments), string(ProjViewDocuments), string(ProjEditDocuments),
		string(ProjDeleteDocuments), string(ProjEditProjectPermissions), string(ProjEditDocumentsPermissions),
	)
	documentKinds = mapset.NewSet[string](
		string(DocView), string(DocEdit), string(DocDelete), string(DocEditPermissions),
	)
)

// InvalidPermissionError reports a permission name outside its scope's set.
type InvalidPermissionError struct {
	Scope Scope
	Name  string
}

func (e *InvalidPermissionError) Error() string {
	return fmt.Sprintf("unknown %s permission %q", e.Scope, e.Name)
}

// IsValidDocumentPermission reports whether name is a document permission kind.
func IsValidDocumentPermission(name string) bool {
	return documentKinds.Contains(name)
}

// ParseSystemPermissions validates names and returns them deduplicated in
// input order.
func ParseSystemPermissions(names []string) ([]SystemPermission, error) {
	out := make([]SystemPermission, 0, len(names))
	for _, n := range dedupe(names) {
		if !systemKinds.Contains(n) {
			return nil, &InvalidPermissionError{Scope: ScopeSystem, Name: n}
		}
		out = append(out, SystemPermission(n))
	}
	return out, nil
}

// ParseProjectPermissions validates names and returns them deduplicated in
// input order.
func ParseProjectPermissions(names []string) ([]ProjectPermission, error) {
	out := make([]ProjectPermission, 0, len(names))
	for _, n := range dedupe(names) {
		if !projectKinds.Contains(n) {
			return nil, &InvalidPermissionError{Scope: ScopeProject, Name: n}
		}
		out = append(out, ProjectPermission(n))
	}
	return out, nil
}

// ParseDocumentPermissions validates names and returns them deduplicated in
// input order.
func ParseDocumentPermissions(names []string) ([]DocumentPermission, error) {
	out := make([]DocumentPermission, 0, len(names))
	for _, n := range dedupe(names) {
		if !documentKinds.Contains(n) {
			return nil, &InvalidPermissionError{Scope: ScopeDocument, Name: n}
		}
		out = append(out, DocumentPermission(n))
	}
	return out, nil
}

func dedupe(names []string) []string {
	seen := mapset.NewThreadUnsafeSet[string]()
	out := make([]string, 0, len(names))
	for _, n := range names {
		if seen.Add(n) {
			out = append(out, n)
		}
	}
	return out
}
