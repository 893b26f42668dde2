// Package authz provides the permission store and the hierarchical
// authorization resolver for the document service. Grants are held at three
// scopes (system, project, document) and combined with ownership and
// authorship shortcuts to decide every request.
package authz

import "context"

// Action is a requested operation. The set is closed.
type Action string

const (
	ActionCreate          Action = "create"
	ActionView            Action = "view"
	ActionEdit            Action = "edit"
	ActionDelete          Action = "delete"
	ActionEditPermissions Action = "edit_permissions"
)

// Actions lists every action in resolution-table order.
var Actions = []Action{ActionCreate, ActionView, ActionEdit, ActionDelete, ActionEditPermissions}

// Scope selects which row set of the resolution table applies.
type Scope string

const (
	ScopeSystem   Scope = "system"
	ScopeProject  Scope = "project"
	ScopeDocument Scope = "document"
)

// ProjectRef carries the project attributes the resolver needs.
type ProjectRef struct {
	Name  string
	Owner string
}

// DocumentRef carries the document attributes the resolver needs.
type DocumentRef struct {
	Project string
	Name    string
	Author  string
}

// AuthzRequest represents an authorization check.
type AuthzRequest struct {
	User     string
	Scope    Scope
	Action   Action
	Project  *ProjectRef  // nil when the request is not bound to a project.
	Document *DocumentRef // nil when the request is not bound to a document.
}

// Authorizer checks whether a user is authorized to perform an action.
type Authorizer interface {
	Authorize(ctx context.Context, req AuthzRequest) (bool, error)
}
