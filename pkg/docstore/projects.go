package docstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	mapset "github.com/deckarep/golang-set/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/projectdocs/docstore/pkg/authz"
)

// UserDirectory answers whether a user account exists.
type UserDirectory interface {
	UserExists(ctx context.Context, name string) (bool, error)
}

// ProcessSpec names the input and output documents of a process.
type ProcessSpec struct {
	Name    string
	Inputs  []string
	Outputs []string
}

// UserGrantSpec lists document permissions to grant one user.
type UserGrantSpec struct {
	User      string
	Documents map[string][]string
}

// CreateProjectInput is the request to create a project, optionally with
// its documents, processes and document grants.
type CreateProjectInput struct {
	Name        string
	Owner       string
	Documents   []DocumentSpec
	Processes   []ProcessSpec
	Permissions []UserGrantSpec
}

// ProjectStore manages projects and their processes.
type ProjectStore struct {
	db     *gorm.DB
	docs   *DocumentStore
	users  UserDirectory
	logger *slog.Logger
}

// NewProjectStore creates a ProjectStore. users may be nil, in which case
// permission entries for any user are skipped.
func NewProjectStore(db *gorm.DB, docs *DocumentStore, users UserDirectory, logger *slog.Logger) *ProjectStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProjectStore{db: db, docs: docs, users: users, logger: logger}
}

// Create stores a new project owned by in.Owner. Process members and
// grants naming documents outside in.Documents are skipped, as are grants
// for unknown users or unknown permission names.
func (s *ProjectStore) Create(ctx context.Context, in CreateProjectInput) (*Project, error) {
	if in.Name == "" {
		return nil, BadRequestf("project_name is required")
	}

	known, err := s.knownUsers(ctx, in.Permissions)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Project{}).Where("name = ?", in.Name).Count(&count).Error; err != nil {
			return fmt.Errorf("check project: %w", err)
		}
		if count > 0 {
			return Conflictf("project %q already exists", in.Name)
		}
		if err := tx.Create(&Project{Name: in.Name, OwnerName: in.Owner}).Error; err != nil {
			return fmt.Errorf("create project: %w", err)
		}

		created := mapset.NewThreadUnsafeSet[string]()
		for _, spec := range in.Documents {
			_, err := s.docs.createInTx(tx, CreateDocumentInput{
				Project:    in.Name,
				Name:       spec.Name,
				Author:     in.Owner,
				JSONSchema: spec.JSONSchema,
			})
			if err != nil {
				return err
			}
			created.Add(spec.Name)
		}
		// Fields are declared once every document exists so they may
		// reference each other.
		for _, spec := range in.Documents {
			for _, decl := range spec.ComputedFields {
				if _, err := s.docs.engine.declare(tx, in.Name, spec.Name, decl); err != nil {
					return err
				}
			}
		}

		for _, p := range in.Processes {
			p.Inputs = filterNames(p.Inputs, created)
			p.Outputs = filterNames(p.Outputs, created)
			if err := putProcess(tx, in.Name, p); err != nil {
				return err
			}
		}

		grants := s.docs.grants.WithTx(tx)
		for _, g := range in.Permissions {
			if !known.Contains(g.User) {
				s.logger.Warn("skipping grants for unknown user", "project", in.Name, "user", g.User)
				continue
			}
			for _, doc := range sortedKeys(g.Documents) {
				if !created.Contains(doc) {
					continue
				}
				var perms []authz.DocumentPermission
				for _, name := range g.Documents[doc] {
					if authz.IsValidDocumentPermission(name) {
						perms = append(perms, authz.DocumentPermission(name))
					}
				}
				if err := grants.GrantDocument(ctx, g.User, in.Name, doc, perms...); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("project created", "project", in.Name, "owner", in.Owner, "documents", len(in.Documents))
	return s.Get(ctx, in.Name)
}

func (s *ProjectStore) knownUsers(ctx context.Context, grants []UserGrantSpec) (mapset.Set[string], error) {
	known := mapset.NewThreadUnsafeSet[string]()
	if s.users == nil {
		return known, nil
	}
	for _, g := range grants {
		ok, err := s.users.UserExists(ctx, g.User)
		if err != nil {
			return nil, fmt.Errorf("look up user %s: %w", g.User, err)
		}
		if ok {
			known.Add(g.User)
		}
	}
	return known, nil
}

// Get returns a project with its documents and processes.
func (s *ProjectStore) Get(ctx context.Context, name string) (*Project, error) {
	db := s.db.WithContext(ctx)
	project, err := loadProject(db, name)
	if err != nil {
		return nil, err
	}

	var names []string
	if err := db.Model(&Document{}).Where("project_name = ?", name).Order("name ASC").Pluck("name", &names).Error; err != nil {
		return nil, fmt.Errorf("list project documents: %w", err)
	}
	project.Documents = make([]Document, 0, len(names))
	for _, doc := range names {
		d, err := loadHydrated(db, name, doc)
		if err != nil {
			return nil, err
		}
		project.Documents = append(project.Documents, *d)
	}
	if project.Processes, err = listProcesses(db, name); err != nil {
		return nil, err
	}
	return project, nil
}

// List returns every project ordered by name, without documents.
func (s *ProjectStore) List(ctx context.Context) ([]Project, error) {
	var projects []Project
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&projects).Error; err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	if projects == nil {
		projects = []Project{}
	}
	return projects, nil
}

// Ref returns the resolver view of a project.
func (s *ProjectStore) Ref(ctx context.Context, name string) (*authz.ProjectRef, error) {
	project, err := loadProject(s.db.WithContext(ctx), name)
	if err != nil {
		return nil, err
	}
	return &authz.ProjectRef{Name: project.Name, Owner: project.OwnerName}, nil
}

// Delete removes a project and everything under it.
func (s *ProjectStore) Delete(ctx context.Context, name string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireProject(tx, name); err != nil {
			return err
		}
		for _, model := range []any{&Patch{}, &ComputedField{}, &ProcessMember{}, &Process{}, &Document{}, &ImportSnapshot{}} {
			if err := tx.Where("project_name = ?", name).Delete(model).Error; err != nil {
				return fmt.Errorf("delete project contents: %w", err)
			}
		}
		if err := s.docs.grants.WithTx(tx).DeleteProjectGrants(ctx, name); err != nil {
			return err
		}
		if err := tx.Where("name = ?", name).Delete(&Project{}).Error; err != nil {
			return fmt.Errorf("delete project: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("project deleted", "project", name)
	return nil
}

// PutProcess creates or replaces a process. Every named document must
// exist in the project.
func (s *ProjectStore) PutProcess(ctx context.Context, project string, spec ProcessSpec) (*Process, error) {
	if spec.Name == "" {
		return nil, BadRequestf("process name is required")
	}
	var out *Process
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireProject(tx, project); err != nil {
			return err
		}
		for _, doc := range append(append([]string{}, spec.Inputs...), spec.Outputs...) {
			if err := requireDocument(tx, project, doc); err != nil {
				return err
			}
		}
		if err := putProcess(tx, project, spec); err != nil {
			return err
		}
		var err error
		out, err = loadProcess(tx, project, spec.Name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetProcess returns one process with its members.
func (s *ProjectStore) GetProcess(ctx context.Context, project, name string) (*Process, error) {
	return loadProcess(s.db.WithContext(ctx), project, name)
}

// ListProcesses returns the processes of a project ordered by name.
func (s *ProjectStore) ListProcesses(ctx context.Context, project string) ([]Process, error) {
	db := s.db.WithContext(ctx)
	if err := requireProject(db, project); err != nil {
		return nil, err
	}
	return listProcesses(db, project)
}

// DeleteProcess removes a process and its memberships.
func (s *ProjectStore) DeleteProcess(ctx context.Context, project, name string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := loadProcess(tx, project, name); err != nil {
			return err
		}
		if err := tx.Where("project_name = ? AND process_name = ?", project, name).Delete(&ProcessMember{}).Error; err != nil {
			return fmt.Errorf("delete process members: %w", err)
		}
		if err := tx.Where("project_name = ? AND name = ?", project, name).Delete(&Process{}).Error; err != nil {
			return fmt.Errorf("delete process: %w", err)
		}
		return nil
	})
}

func putProcess(tx *gorm.DB, project string, spec ProcessSpec) error {
	err := tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&Process{ProjectName: project, Name: spec.Name}).Error
	if err != nil {
		return fmt.Errorf("create process: %w", err)
	}
	if err := tx.Where("project_name = ? AND process_name = ?", project, spec.Name).Delete(&ProcessMember{}).Error; err != nil {
		return fmt.Errorf("reset process members: %w", err)
	}

	var members []ProcessMember
	for _, doc := range spec.Inputs {
		members = append(members, ProcessMember{ProjectName: project, ProcessName: spec.Name, DocumentName: doc, Role: RoleInput})
	}
	for _, doc := range spec.Outputs {
		members = append(members, ProcessMember{ProjectName: project, ProcessName: spec.Name, DocumentName: doc, Role: RoleOutput})
	}
	if len(members) == 0 {
		return nil
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&members).Error; err != nil {
		return fmt.Errorf("create process members: %w", err)
	}
	return nil
}

func loadProject(tx *gorm.DB, name string) (*Project, error) {
	var project Project
	err := tx.Where("name = ?", name).First(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFoundf("project %q not found", name)
	}
	if err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}
	return &project, nil
}

func loadProcess(tx *gorm.DB, project, name string) (*Process, error) {
	var process Process
	err := tx.Where("project_name = ? AND name = ?", project, name).First(&process).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFoundf("process %s/%s not found", project, name)
	}
	if err != nil {
		return nil, fmt.Errorf("load process: %w", err)
	}
	if err := fillMembers(tx, []*Process{&process}); err != nil {
		return nil, err
	}
	return &process, nil
}

func listProcesses(tx *gorm.DB, project string) ([]Process, error) {
	var processes []Process
	if err := tx.Where("project_name = ?", project).Order("name ASC").Find(&processes).Error; err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	ptrs := make([]*Process, len(processes))
	for i := range processes {
		ptrs[i] = &processes[i]
	}
	if err := fillMembers(tx, ptrs); err != nil {
		return nil, err
	}
	if processes == nil {
		processes = []Process{}
	}
	return processes, nil
}

func fillMembers(tx *gorm.DB, processes []*Process) error {
	for _, p := range processes {
		var members []ProcessMember
		err := tx.Where("project_name = ? AND process_name = ?", p.ProjectName, p.Name).
			Order("role ASC, document_name ASC").Find(&members).Error
		if err != nil {
			return fmt.Errorf("list process members: %w", err)
		}
		p.Inputs, p.Outputs = []string{}, []string{}
		for _, m := range members {
			if m.Role == RoleInput {
				p.Inputs = append(p.Inputs, m.DocumentName)
			} else {
				p.Outputs = append(p.Outputs, m.DocumentName)
			}
		}
	}
	return nil
}

func filterNames(names []string, keep mapset.Set[string]) []string {
	var out []string
	for _, n := range names {
		if keep.Contains(n) {
			out = append(out, n)
		}
	}
	return out
}
