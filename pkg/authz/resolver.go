package authz

import (
	"context"
	"fmt"
)

// PermissionTiers lists the grants that satisfy one (scope, action) pair.
// An empty tier does not apply.
type PermissionTiers struct {
	System   SystemPermission
	Project  ProjectPermission
	Document DocumentPermission
}

type tableKey struct {
	Scope  Scope
	Action Action
}

// DefaultTable is the resolution table. A missing key denies every user
// that is neither the owner nor the author; system/create is absent.
var DefaultTable = map[tableKey]PermissionTiers{
	{ScopeDocument, ActionCreate}:          {System: SysEditProjects, Project: ProjCreateDocuments},
	{ScopeDocument, ActionView}:            {System: SysViewProjects, Project: ProjViewDocuments, Document: DocView},
	{ScopeDocument, ActionEdit}:            {System: SysEditProjects, Project: ProjEditDocuments, Document: DocEdit},
	{ScopeDocument, ActionDelete}:          {System: SysEditProjects, Project: ProjDeleteDocuments, Document: DocDelete},
	{ScopeDocument, ActionEditPermissions}: {System: SysEditProjects, Project: ProjEditDocumentsPermissions, Document: DocEditPermissions},

	{ScopeProject, ActionCreate}:          {System: SysCreateProjects, Project: ProjCreateDocuments},
	{ScopeProject, ActionView}:            {System: SysViewProjects, Project: ProjViewDocuments},
	{ScopeProject, ActionEdit}:            {System: SysEditProjects, Project: ProjEditDocuments},
	{ScopeProject, ActionDelete}:          {System: SysDeleteProjects, Project: ProjDeleteDocuments},
	{ScopeProject, ActionEditPermissions}: {System: SysEditProjectsPermissions, Project: ProjEditDocumentsPermissions},

	{ScopeSystem, ActionView}:            {System: SysViewUsers},
	{ScopeSystem, ActionEdit}:            {System: SysEditUsers},
	{ScopeSystem, ActionDelete}:          {System: SysDeleteUsers},
	{ScopeSystem, ActionEditPermissions}: {System: SysEditUsersPermissions},
}

// LookupTiers returns the tiers for (scope, action) and whether a row exists.
func LookupTiers(scope Scope, action Action) (PermissionTiers, bool) {
	t, ok := DefaultTable[tableKey{Scope: scope, Action: action}]
	return t, ok
}

// Resolver decides requests from ownership, authorship and current grants.
// It reads grants on every call.
type Resolver struct {
	store *PermissionStore
	table map[tableKey]PermissionTiers
}

// NewResolver creates a Resolver over store using DefaultTable.
func NewResolver(store *PermissionStore) *Resolver {
	return &Resolver{store: store, table: DefaultTable}
}

// Authorize implements Authorizer.
func (r *Resolver) Authorize(ctx context.Context, req AuthzRequest) (bool, error) {
	if req.User == "" {
		return false, nil
	}
	if req.Scope == ScopeDocument && req.Project == nil {
		return false, nil
	}

	if req.Project != nil && req.User == req.Project.Owner {
		return true, nil
	}
	if req.Document != nil && req.User == req.Document.Author {
		return true, nil
	}

	tiers, ok := r.table[tableKey{Scope: req.Scope, Action: req.Action}]
	if !ok {
		return false, nil
	}

	if tiers.System != "" {
		held, err := r.store.HasSystem(ctx, req.User, tiers.System)
		if err != nil {
			return false, fmt.Errorf("authorize %s/%s: %w", req.Scope, req.Action, err)
		}
		if held {
			return true, nil
		}
	}

	if tiers.Project != "" && req.Project != nil {
		held, err := r.store.HasProject(ctx, req.User, req.Project.Name, tiers.Project)
		if err != nil {
			return false, fmt.Errorf("authorize %s/%s: %w", req.Scope, req.Action, err)
		}
		if held {
			return true, nil
		}
	}

	if tiers.Document != "" && req.Document != nil {
		held, err := r.store.HasDocument(ctx, req.User, req.Document.Project, req.Document.Name, tiers.Document)
		if err != nil {
			return false, fmt.Errorf("authorize %s/%s: %w", req.Scope, req.Action, err)
		}
		if held {
			return true, nil
		}
	}

	return false, nil
}
