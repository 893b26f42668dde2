package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/projectdocs/docstore/pkg/authz"
)

// CreateDocumentInput is the request to create a document.
type CreateDocumentInput struct {
	Project        string
	Name           string
	Author         string
	JSONSchema     json.RawMessage
	ComputedFields []FieldDeclaration
}

// DocumentStore persists documents and their patch history. Every write
// commits the new content, its patch and every recomputed dependent field
// in one transaction.
type DocumentStore struct {
	db      *gorm.DB
	schemas *SchemaCompiler
	engine  *Engine
	grants  *authz.PermissionStore
	logger  *slog.Logger
	now     func() time.Time
}

// NewDocumentStore creates a DocumentStore. A nil schemas uses a default
// compiler.
func NewDocumentStore(db *gorm.DB, schemas *SchemaCompiler, grants *authz.PermissionStore, logger *slog.Logger) *DocumentStore {
	if schemas == nil {
		schemas = NewSchemaCompiler(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if grants == nil {
		grants = authz.NewPermissionStore(db)
	}
	return &DocumentStore{
		db:      db,
		schemas: schemas,
		engine:  NewEngine(db, logger),
		grants:  grants,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Engine returns the computed-field engine bound to this store.
func (s *DocumentStore) Engine() *Engine {
	return s.engine
}

// AutoMigrate creates or updates the document tables.
func (s *DocumentStore) AutoMigrate() error {
	if err := s.db.AutoMigrate(&Project{}, &Document{}, &Patch{}, &Process{}, &ProcessMember{}, &ImportSnapshot{}); err != nil {
		return fmt.Errorf("auto-migrate documents: %w", err)
	}
	return s.engine.AutoMigrate()
}

// Create stores a new, unwritten document, declares its computed fields
// and grants the author view, edit and delete on it.
func (s *DocumentStore) Create(ctx context.Context, in CreateDocumentInput) (*Document, error) {
	var doc *Document
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireProject(tx, in.Project); err != nil {
			return err
		}
		var err error
		doc, err = s.createInTx(tx, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *DocumentStore) createInTx(tx *gorm.DB, in CreateDocumentInput) (*Document, error) {
	if in.Name == "" {
		return nil, BadRequestf("document name is required")
	}
	if len(in.JSONSchema) == 0 || string(in.JSONSchema) == "null" {
		return nil, BadRequestf("document %q has no jsonschema", in.Name)
	}
	if _, err := s.schemas.Compile(in.JSONSchema); err != nil {
		return nil, err
	}

	var count int64
	if err := tx.Model(&Document{}).Where("project_name = ? AND name = ?", in.Project, in.Name).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("check document: %w", err)
	}
	if count > 0 {
		return nil, Conflictf("document %s/%s already exists", in.Project, in.Name)
	}

	doc := &Document{
		ProjectName: in.Project,
		Name:        in.Name,
		AuthorName:  in.Author,
		JSONSchema:  datatypes.JSON(in.JSONSchema),
		First:       datatypes.JSON("null"),
		Last:        datatypes.JSON("null"),
	}
	if err := tx.Create(doc).Error; err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}
	for _, decl := range in.ComputedFields {
		if _, err := s.engine.declare(tx, in.Project, in.Name, decl); err != nil {
			return nil, err
		}
	}
	if in.Author != "" {
		err := s.grants.WithTx(tx).GrantDocument(tx.Statement.Context, in.Author, in.Project, in.Name,
			authz.DocView, authz.DocEdit, authz.DocDelete)
		if err != nil {
			return nil, err
		}
	}
	s.logger.Info("document created", "project", in.Project, "document", in.Name, "author", in.Author)
	return loadHydrated(tx, in.Project, in.Name)
}

// Read returns a document with its computed fields and patch history.
func (s *DocumentStore) Read(ctx context.Context, project, name string) (*Document, error) {
	return loadHydrated(s.db.WithContext(ctx), project, name)
}

// Write replaces the content of a document. The content must validate
// against the document schema. The first write sets first, created and
// author; every later write appends the patch from the previous content.
func (s *DocumentStore) Write(ctx context.Context, project, name string, content any, author string) (*Document, error) {
	return s.mutate(ctx, project, name, author, func(*Document, any) (any, error) {
		return content, nil
	})
}

// Merge shallow-merges the top-level keys of body into a copy of the
// current content and writes the result.
func (s *DocumentStore) Merge(ctx context.Context, project, name string, body any, author string) (*Document, error) {
	return s.mutate(ctx, project, name, author, func(_ *Document, last any) (any, error) {
		patch, ok := body.(map[string]any)
		if !ok {
			return nil, BadRequestf("merge body must be an object, got %s", jsonTypeName(body))
		}
		if last == nil {
			last = map[string]any{}
		}
		current, ok := last.(map[string]any)
		if !ok {
			return nil, BadRequestf("cannot merge into %s content", jsonTypeName(last))
		}
		merged := make(map[string]any, len(current)+len(patch))
		for k, v := range current {
			merged[k] = v
		}
		for k, v := range patch {
			merged[k] = v
		}
		return merged, nil
	})
}

// WriteAtPath writes value at a slash-separated path inside the current
// content, appending to lists and replacing everything else.
func (s *DocumentStore) WriteAtPath(ctx context.Context, project, name, path string, value any, author string) (*Document, error) {
	return s.mutate(ctx, project, name, author, func(_ *Document, last any) (any, error) {
		return applyAtPath(last, splitPath(path), value)
	})
}

// mutate loads the document, derives the new content from its current
// content and commits it.
//
// No row lock or version check is taken. Two concurrent writers each diff
// against the content they read and the last commit wins; when both
// computed the same patch seq the unique index rejects the later one.
func (s *DocumentStore) mutate(ctx context.Context, project, name, author string, next func(*Document, any) (any, error)) (*Document, error) {
	var out *Document
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		doc, err := loadDocument(tx, project, name)
		if err != nil {
			return err
		}
		last, err := decodeRaw(doc.Last)
		if err != nil {
			return fmt.Errorf("decode document content: %w", err)
		}
		content, err := next(doc, last)
		if err != nil {
			return err
		}
		if err := s.commit(tx, doc, content, author); err != nil {
			return err
		}
		out, err = loadHydrated(tx, project, name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *DocumentStore) commit(tx *gorm.DB, doc *Document, content any, author string) error {
	value, raw, err := normalize(content)
	if err != nil {
		return err
	}
	if err := s.schemas.Validate(doc.JSONSchema, value); err != nil {
		return err
	}

	now := s.now()
	updates := map[string]any{
		"last_content": datatypes.JSON(raw),
		"updated_at":   now,
	}
	if !doc.HasFirst() {
		updates["first_content"] = datatypes.JSON(raw)
		updates["created_at"] = now
		updates["author_name"] = author
	} else {
		ops, err := Diff(doc.Last, raw)
		if err != nil {
			return err
		}
		var maxSeq int
		err = tx.Model(&Patch{}).
			Where("project_name = ? AND document_name = ?", doc.ProjectName, doc.Name).
			Select("COALESCE(MAX(seq), 0)").Scan(&maxSeq).Error
		if err != nil {
			return fmt.Errorf("read patch sequence: %w", err)
		}
		patch := Patch{
			ID:           uuid.NewString(),
			ProjectName:  doc.ProjectName,
			DocumentName: doc.Name,
			Seq:          maxSeq + 1,
			AuthorName:   author,
			CreatedAt:    now,
			Operations:   datatypes.JSON(ops),
		}
		if err := tx.Create(&patch).Error; err != nil {
			return fmt.Errorf("append patch: %w", err)
		}
	}

	err = tx.Model(&Document{}).
		Where("project_name = ? AND name = ?", doc.ProjectName, doc.Name).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	if err := s.engine.recomputeDocumentDependents(tx, doc.ProjectName, doc.Name); err != nil {
		return err
	}
	s.logger.Debug("document written", "project", doc.ProjectName, "document", doc.Name, "author", author)
	return nil
}

// Delete removes a document with its patches, grants, process memberships
// and owned computed fields. Fields elsewhere that read it are cleared.
func (s *DocumentStore) Delete(ctx context.Context, project, name string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireDocument(tx, project, name); err != nil {
			return err
		}
		return s.deleteInTx(tx, project, name)
	})
}

func (s *DocumentStore) deleteInTx(tx *gorm.DB, project, name string) error {
	if err := tx.Where("project_name = ? AND document_name = ?", project, name).Delete(&Patch{}).Error; err != nil {
		return fmt.Errorf("delete patches: %w", err)
	}
	if err := deleteOwnedFields(tx, project, name); err != nil {
		return err
	}
	if err := tx.Where("project_name = ? AND document_name = ?", project, name).Delete(&ProcessMember{}).Error; err != nil {
		return fmt.Errorf("delete process memberships: %w", err)
	}
	if err := s.grants.WithTx(tx).DeleteDocumentGrants(tx.Statement.Context, project, name); err != nil {
		return err
	}
	if err := tx.Where("project_name = ? AND name = ?", project, name).Delete(&Document{}).Error; err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if err := s.engine.failClosedDocument(tx, project, name); err != nil {
		return err
	}
	s.logger.Info("document deleted", "project", project, "document", name)
	return nil
}

// Patches returns the history of a document in sequence order.
func (s *DocumentStore) Patches(ctx context.Context, project, name string) ([]Patch, error) {
	db := s.db.WithContext(ctx)
	if err := requireDocument(db, project, name); err != nil {
		return nil, err
	}
	return patchesOf(db, project, name)
}

// ContentAt reconstructs the content as of revision n, where 0 is the
// first written content and n is the content after the n-th patch.
func (s *DocumentStore) ContentAt(ctx context.Context, project, name string, n int) (any, error) {
	db := s.db.WithContext(ctx)
	doc, err := loadDocument(db, project, name)
	if err != nil {
		return nil, err
	}
	if !doc.HasFirst() {
		return nil, NotFoundf("document %s/%s has not been written", project, name)
	}
	patches, err := patchesOf(db, project, name)
	if err != nil {
		return nil, err
	}
	if n < 0 || n > len(patches) {
		return nil, BadRequestf("revision %d out of range (0..%d)", n, len(patches))
	}
	content := []byte(doc.First)
	for _, p := range patches[:n] {
		content, err = ApplyPatch(content, p.Operations)
		if err != nil {
			return nil, fmt.Errorf("replay patch %d: %w", p.Seq, err)
		}
	}
	out, err := decodeRaw(content)
	if err != nil {
		return nil, fmt.Errorf("decode revision: %w", err)
	}
	return out, nil
}

// PartialRead returns one top-level attribute of a document, optionally
// descending into it along a slash-separated path.
func (s *DocumentStore) PartialRead(ctx context.Context, project, name, field, path string) (any, error) {
	doc, err := s.Read(ctx, project, name)
	if err != nil {
		return nil, err
	}

	var root any
	switch field {
	case "name":
		root = doc.Name
	case "project":
		root = doc.ProjectName
	case "author":
		root = doc.AuthorName
	case "jsonschema":
		root = doc.JSONSchema
	case "first":
		root = doc.First
	case "last":
		root = doc.Last
	case "created":
		root = doc.Created
	case "updated":
		root = doc.Updated
	case "patches":
		root = doc.Patches
	case "computed_fields":
		root = doc.ComputedFields
	default:
		return nil, BadRequestf("unknown document field %q", field)
	}

	value, _, err := normalize(root)
	if err != nil {
		return nil, err
	}
	return descend(value, splitPath(path))
}

func loadDocument(tx *gorm.DB, project, name string) (*Document, error) {
	var doc Document
	err := tx.Where("project_name = ? AND name = ?", project, name).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFoundf("document %s/%s not found", project, name)
	}
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	return &doc, nil
}

func loadHydrated(tx *gorm.DB, project, name string) (*Document, error) {
	doc, err := loadDocument(tx, project, name)
	if err != nil {
		return nil, err
	}
	if doc.ComputedFields, err = fieldsOf(tx, project, name); err != nil {
		return nil, err
	}
	if doc.Patches, err = patchesOf(tx, project, name); err != nil {
		return nil, err
	}
	return doc, nil
}

func patchesOf(tx *gorm.DB, project, name string) ([]Patch, error) {
	var patches []Patch
	err := tx.Where("project_name = ? AND document_name = ?", project, name).
		Order("seq ASC").Find(&patches).Error
	if err != nil {
		return nil, fmt.Errorf("list patches: %w", err)
	}
	if patches == nil {
		patches = []Patch{}
	}
	return patches, nil
}

// Ref returns the resolver view of a document.
func (s *DocumentStore) Ref(ctx context.Context, project, name string) (*authz.DocumentRef, error) {
	doc, err := loadDocument(s.db.WithContext(ctx), project, name)
	if err != nil {
		return nil, err
	}
	return &authz.DocumentRef{Project: doc.ProjectName, Name: doc.Name, Author: doc.AuthorName}, nil
}

// List returns the names of the documents of a project.
func (s *DocumentStore) List(ctx context.Context, project string) ([]string, error) {
	db := s.db.WithContext(ctx)
	if err := requireProject(db, project); err != nil {
		return nil, err
	}
	names := []string{}
	if err := db.Model(&Document{}).Where("project_name = ?", project).Order("name ASC").Pluck("name", &names).Error; err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return names, nil
}
