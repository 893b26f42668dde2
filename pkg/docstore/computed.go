package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// FieldDeclaration describes a computed field to attach to a document.
// For SourceDocument fields an empty SourceDocument means the owning
// document itself.
type FieldDeclaration struct {
	Name           string
	SourceKind     SourceKind
	SourceDocument string
	SourceImport   string
	SourceSection  ImportSection
	Expression     string
}

// Engine evaluates and stores computed fields. Every evaluation reads the
// current source inside the caller's transaction, so a stored value always
// reflects the source as committed alongside it.
type Engine struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewEngine creates a computed-field engine.
func NewEngine(db *gorm.DB, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{db: db, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// AutoMigrate creates or updates the computed_fields table.
func (e *Engine) AutoMigrate() error {
	if err := e.db.AutoMigrate(&ComputedField{}); err != nil {
		return fmt.Errorf("auto-migrate computed fields: %w", err)
	}
	return nil
}

// ParseExpression parses a JSONPath expression. A bare path such as
// "tasks[*].name" is read relative to the root.
func ParseExpression(expr string) (jp.Expr, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, BadRequestf("jsonpath expression is empty")
	}
	src := expr
	switch {
	case strings.HasPrefix(src, "$"), strings.HasPrefix(src, "@"):
	case strings.HasPrefix(src, "["):
		src = "$" + src
	default:
		src = "$." + src
	}
	x, err := jp.ParseString(src)
	if err != nil {
		return nil, BadRequestf("invalid jsonpath %q: %v", expr, err)
	}
	return x, nil
}

// Evaluate returns every match of expr in data, in document order. No
// match yields an empty, non-nil list.
func Evaluate(expr string, data any) ([]any, error) {
	x, err := ParseExpression(expr)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return []any{}, nil
	}
	matches := x.Get(data)
	if matches == nil {
		return []any{}, nil
	}
	return matches, nil
}

// decodeForQuery parses raw with ojg so integers arrive as int64 and
// filter comparisons in expressions see native numbers.
func decodeForQuery(raw []byte) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	return oj.Parse(raw)
}

// Fields lists the computed fields owned by a document, ordered by name.
func (e *Engine) Fields(ctx context.Context, project, document string) ([]ComputedField, error) {
	return fieldsOf(e.db.WithContext(ctx), project, document)
}

func fieldsOf(tx *gorm.DB, project, document string) ([]ComputedField, error) {
	var fields []ComputedField
	err := tx.Where("project_name = ? AND document_name = ?", project, document).
		Order("name ASC").Find(&fields).Error
	if err != nil {
		return nil, fmt.Errorf("list computed fields: %w", err)
	}
	if fields == nil {
		fields = []ComputedField{}
	}
	return fields, nil
}

// declare validates decl, stores it on (project, document) and computes
// its initial value.
func (e *Engine) declare(tx *gorm.DB, project, document string, decl FieldDeclaration) (*ComputedField, error) {
	if decl.Name == "" {
		return nil, BadRequestf("computed field name is required")
	}
	if _, err := ParseExpression(decl.Expression); err != nil {
		return nil, err
	}

	field := ComputedField{
		ProjectName:  project,
		DocumentName: document,
		Name:         decl.Name,
		SourceKind:   decl.SourceKind,
		Expression:   decl.Expression,
	}
	switch decl.SourceKind {
	case SourceDocument, "":
		field.SourceKind = SourceDocument
		field.SourceDocument = decl.SourceDocument
		if field.SourceDocument == "" {
			field.SourceDocument = document
		}
		if err := requireDocument(tx, project, field.SourceDocument); err != nil {
			return nil, err
		}
	case SourceImport:
		if decl.SourceImport == "" {
			return nil, BadRequestf("computed field %q names no import", decl.Name)
		}
		field.SourceImport = decl.SourceImport
		field.SourceSection = decl.SourceSection
		if field.SourceSection == "" {
			field.SourceSection = SectionTasks
		}
		if err := requireImport(tx, project, field.SourceImport); err != nil {
			return nil, err
		}
	default:
		return nil, BadRequestf("unknown computed field source %q", decl.SourceKind)
	}

	var count int64
	err := tx.Model(&ComputedField{}).
		Where("project_name = ? AND document_name = ? AND name = ?", project, document, decl.Name).
		Count(&count).Error
	if err != nil {
		return nil, fmt.Errorf("check computed field: %w", err)
	}
	if count > 0 {
		return nil, Conflictf("computed field %q already exists on %s/%s", decl.Name, project, document)
	}

	field.Value = datatypes.JSON("[]")
	field.ComputedAt = e.now()
	if err := tx.Create(&field).Error; err != nil {
		return nil, fmt.Errorf("create computed field: %w", err)
	}
	if err := e.recompute(tx, &field); err != nil {
		return nil, err
	}
	return &field, nil
}

// Recompute re-evaluates one field against its current source.
func (e *Engine) Recompute(ctx context.Context, project, document, name string) (*ComputedField, error) {
	var field ComputedField
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("project_name = ? AND document_name = ? AND name = ?", project, document, name).
			First(&field).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return NotFoundf("computed field %q not found on %s/%s", name, project, document)
		}
		if err != nil {
			return fmt.Errorf("load computed field: %w", err)
		}
		return e.recompute(tx, &field)
	})
	if err != nil {
		return nil, err
	}
	return &field, nil
}

// RecomputeAll re-evaluates every field in a project and returns how many
// were evaluated.
func (e *Engine) RecomputeAll(ctx context.Context, project string) (int, error) {
	n := 0
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireProject(tx, project); err != nil {
			return err
		}
		var fields []ComputedField
		if err := tx.Where("project_name = ?", project).Order("document_name, name").Find(&fields).Error; err != nil {
			return fmt.Errorf("list project computed fields: %w", err)
		}
		for i := range fields {
			if err := e.recompute(tx, &fields[i]); err != nil {
				return err
			}
		}
		n = len(fields)
		return nil
	})
	return n, err
}

// recompute evaluates field against its source and stores the result. A
// missing source stores an empty list.
func (e *Engine) recompute(tx *gorm.DB, field *ComputedField) error {
	data, found, err := e.sourceData(tx, field)
	if err != nil {
		return err
	}
	matches := []any{}
	if found {
		matches, err = Evaluate(field.Expression, data)
		if err != nil {
			return err
		}
	} else {
		e.logger.Warn("computed field source missing",
			"project", field.ProjectName, "document", field.DocumentName, "field", field.Name,
			"source_kind", field.SourceKind, "source", field.sourceName())
	}
	return e.store(tx, field, matches)
}

func (e *Engine) store(tx *gorm.DB, field *ComputedField, matches []any) error {
	raw, err := json.Marshal(matches)
	if err != nil {
		return fmt.Errorf("encode computed field value: %w", err)
	}
	field.Value = datatypes.JSON(raw)
	field.ComputedAt = e.now()
	err = tx.Model(&ComputedField{}).
		Where("project_name = ? AND document_name = ? AND name = ?", field.ProjectName, field.DocumentName, field.Name).
		Updates(map[string]any{"value": field.Value, "computed_at": field.ComputedAt}).Error
	if err != nil {
		return fmt.Errorf("store computed field %s: %w", field.Name, err)
	}
	return nil
}

func (e *Engine) sourceData(tx *gorm.DB, field *ComputedField) (any, bool, error) {
	switch field.SourceKind {
	case SourceImport:
		var snap ImportSnapshot
		err := tx.Where("project_name = ? AND name = ?", field.ProjectName, field.SourceImport).First(&snap).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("load import snapshot: %w", err)
		}
		data, err := decodeForQuery(snap.Section(field.SourceSection))
		if err != nil {
			return nil, false, fmt.Errorf("decode import section: %w", err)
		}
		return data, true, nil
	default:
		var doc Document
		err := tx.Select("project_name", "name", "last_content").
			Where("project_name = ? AND name = ?", field.ProjectName, field.SourceDocument).First(&doc).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("load source document: %w", err)
		}
		data, err := decodeForQuery(doc.Last)
		if err != nil {
			return nil, false, fmt.Errorf("decode source document: %w", err)
		}
		return data, true, nil
	}
}

// recomputeDocumentDependents re-evaluates every field reading source.
func (e *Engine) recomputeDocumentDependents(tx *gorm.DB, project, source string) error {
	var fields []ComputedField
	err := tx.Where("project_name = ? AND source_kind = ? AND source_document = ?", project, SourceDocument, source).
		Find(&fields).Error
	if err != nil {
		return fmt.Errorf("list dependent computed fields: %w", err)
	}
	for i := range fields {
		if err := e.recompute(tx, &fields[i]); err != nil {
			return err
		}
	}
	return nil
}

// recomputeImportDependents re-evaluates every field reading the snapshot.
func (e *Engine) recomputeImportDependents(tx *gorm.DB, project, name string) error {
	var fields []ComputedField
	err := tx.Where("project_name = ? AND source_kind = ? AND source_import = ?", project, SourceImport, name).
		Find(&fields).Error
	if err != nil {
		return fmt.Errorf("list import computed fields: %w", err)
	}
	for i := range fields {
		if err := e.recompute(tx, &fields[i]); err != nil {
			return err
		}
	}
	return nil
}

// failClosedDocument empties fields owned by other documents that read the
// deleted document source.
func (e *Engine) failClosedDocument(tx *gorm.DB, project, source string) error {
	var fields []ComputedField
	err := tx.Where("project_name = ? AND source_kind = ? AND source_document = ? AND document_name <> ?",
		project, SourceDocument, source, source).Find(&fields).Error
	if err != nil {
		return fmt.Errorf("list dependent computed fields: %w", err)
	}
	return e.failClosed(tx, fields)
}

// failClosedImport empties fields reading a deleted import snapshot.
func (e *Engine) failClosedImport(tx *gorm.DB, project, name string) error {
	var fields []ComputedField
	err := tx.Where("project_name = ? AND source_kind = ? AND source_import = ?", project, SourceImport, name).
		Find(&fields).Error
	if err != nil {
		return fmt.Errorf("list import computed fields: %w", err)
	}
	return e.failClosed(tx, fields)
}

func (e *Engine) failClosed(tx *gorm.DB, fields []ComputedField) error {
	for i := range fields {
		f := &fields[i]
		e.logger.Warn("computed field source deleted, value cleared",
			"project", f.ProjectName, "document", f.DocumentName, "field", f.Name,
			"source_kind", f.SourceKind, "source", f.sourceName())
		if err := e.store(tx, f, []any{}); err != nil {
			return err
		}
	}
	return nil
}

func deleteOwnedFields(tx *gorm.DB, project, document string) error {
	err := tx.Where("project_name = ? AND document_name = ?", project, document).Delete(&ComputedField{}).Error
	if err != nil {
		return fmt.Errorf("delete computed fields: %w", err)
	}
	return nil
}

func (f *ComputedField) sourceName() string {
	if f.SourceKind == SourceImport {
		return f.SourceImport + "/" + string(f.SourceSection)
	}
	return f.SourceDocument
}

func requireProject(tx *gorm.DB, project string) error {
	var count int64
	if err := tx.Model(&Project{}).Where("name = ?", project).Count(&count).Error; err != nil {
		return fmt.Errorf("check project: %w", err)
	}
	if count == 0 {
		return NotFoundf("project %q not found", project)
	}
	return nil
}

func requireDocument(tx *gorm.DB, project, name string) error {
	var count int64
	if err := tx.Model(&Document{}).Where("project_name = ? AND name = ?", project, name).Count(&count).Error; err != nil {
		return fmt.Errorf("check document: %w", err)
	}
	if count == 0 {
		return NotFoundf("document %s/%s not found", project, name)
	}
	return nil
}

func requireImport(tx *gorm.DB, project, name string) error {
	var count int64
	if err := tx.Model(&ImportSnapshot{}).Where("project_name = ? AND name = ?", project, name).Count(&count).Error; err != nil {
		return fmt.Errorf("check import snapshot: %w", err)
	}
	if count == 0 {
		return NotFoundf("import %s/%s not found", project, name)
	}
	return nil
}
