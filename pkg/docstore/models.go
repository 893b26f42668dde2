// Package docstore implements the versioned project document store: schema
// validated JSON documents with an append-only JSON Patch history, computed
// fields derived from documents or import snapshots, and the process gate
// that blocks edits to outputs until their inputs exist.
package docstore

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// Project owns documents, processes, import snapshots and project grants.
type Project struct {
	Name      string    `gorm:"primaryKey;column:name;type:varchar(255)" json:"name"`
	OwnerName string    `gorm:"column:owner_name;type:varchar(255);not null;index" json:"owner"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created"`

	Documents []Document `gorm:"-" json:"documents,omitempty"`
	Processes []Process  `gorm:"-" json:"processes,omitempty"`
}

func (Project) TableName() string { return "projects" }

// Document is keyed by (project, name). First and Last hold JSON null and
// Created is nil until the first successful write.
type Document struct {
	ProjectName string         `gorm:"primaryKey;column:project_name;type:varchar(255)" json:"project"`
	Name        string         `gorm:"primaryKey;column:name;type:varchar(255)" json:"name"`
	AuthorName  string         `gorm:"column:author_name;type:varchar(255);not null" json:"author"`
	JSONSchema  datatypes.JSON `gorm:"column:json_schema;not null" json:"jsonschema"`
	First       datatypes.JSON `gorm:"column:first_content;not null" json:"first"`
	Last        datatypes.JSON `gorm:"column:last_content;not null" json:"last"`
	Created     *time.Time     `gorm:"column:created_at" json:"created,omitempty"`
	Updated     *time.Time     `gorm:"column:updated_at" json:"updated,omitempty"`

	ComputedFields []ComputedField `gorm:"-" json:"computed_fields"`
	Patches        []Patch         `gorm:"-" json:"patches"`
}

func (Document) TableName() string { return "documents" }

// HasFirst reports whether the document has been written at least once.
func (d *Document) HasFirst() bool {
	return d.Created != nil
}

// Patch is one entry of a document's append-only history: the RFC 6902
// operations turning the previous Last into the next one.
type Patch struct {
	ID           string         `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	ProjectName  string         `gorm:"column:project_name;type:varchar(255);not null;uniqueIndex:idx_patch_seq,priority:1" json:"-"`
	DocumentName string         `gorm:"column:document_name;type:varchar(255);not null;uniqueIndex:idx_patch_seq,priority:2" json:"-"`
	Seq          int            `gorm:"column:seq;not null;uniqueIndex:idx_patch_seq,priority:3" json:"seq"`
	AuthorName   string         `gorm:"column:author_name;type:varchar(255);not null" json:"author"`
	CreatedAt    time.Time      `gorm:"column:created_at;not null" json:"created"`
	Operations   datatypes.JSON `gorm:"column:operations;not null" json:"patch"`
}

func (Patch) TableName() string { return "document_patches" }

// SourceKind selects what a computed field reads from.
type SourceKind string

const (
	SourceDocument SourceKind = "document"
	SourceImport   SourceKind = "import"
)

// ImportSection names one of the three sections of an import snapshot.
type ImportSection string

const (
	SectionTasks     ImportSection = "tasks"
	SectionResources ImportSection = "resources"
	SectionInfo      ImportSection = "info"
)

// ParseImportSection accepts the section names, plus "proj_info" as an
// alias of info.
func ParseImportSection(s string) (ImportSection, error) {
	switch s {
	case string(SectionTasks):
		return SectionTasks, nil
	case string(SectionResources):
		return SectionResources, nil
	case string(SectionInfo), "proj_info":
		return SectionInfo, nil
	default:
		return "", BadRequestf("unknown import section %q (expected tasks, resources or info)", s)
	}
}

// ComputedField is a derived value owned by a document. Value is always the
// result of evaluating Expression against the current source.
type ComputedField struct {
	ProjectName    string         `gorm:"primaryKey;column:project_name;type:varchar(255)" json:"-"`
	DocumentName   string         `gorm:"primaryKey;column:document_name;type:varchar(255)" json:"document"`
	Name           string         `gorm:"primaryKey;column:name;type:varchar(255)" json:"name"`
	SourceKind     SourceKind     `gorm:"column:source_kind;type:varchar(16);not null" json:"source_kind"`
	SourceDocument string         `gorm:"column:source_document;type:varchar(255);index" json:"reference_document,omitempty"`
	SourceImport   string         `gorm:"column:source_import;type:varchar(255);index" json:"import_name,omitempty"`
	SourceSection  ImportSection  `gorm:"column:source_section;type:varchar(16)" json:"field_from,omitempty"`
	Expression     string         `gorm:"column:expression;type:text;not null" json:"jsonpath"`
	Value          datatypes.JSON `gorm:"column:value;not null" json:"field_value"`
	ComputedAt     time.Time      `gorm:"column:computed_at" json:"computed"`
}

func (ComputedField) TableName() string { return "computed_fields" }

// Role is a document's participation in a process.
type Role int

const (
	RoleInput  Role = 1
	RoleOutput Role = 2
)

func (r Role) String() string {
	switch r {
	case RoleInput:
		return "input"
	case RoleOutput:
		return "output"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

func (r Role) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// Process groups documents into inputs and outputs of a workflow step.
type Process struct {
	ProjectName string    `gorm:"primaryKey;column:project_name;type:varchar(255)" json:"-"`
	Name        string    `gorm:"primaryKey;column:name;type:varchar(255)" json:"name"`
	CreatedAt   time.Time `gorm:"column:created_at" json:"created"`

	Inputs  []string `gorm:"-" json:"inputs"`
	Outputs []string `gorm:"-" json:"outputs"`
}

func (Process) TableName() string { return "processes" }

// ProcessMember links a document into a process with a role.
type ProcessMember struct {
	ProjectName  string `gorm:"primaryKey;column:project_name;type:varchar(255)"`
	ProcessName  string `gorm:"primaryKey;column:process_name;type:varchar(255)"`
	DocumentName string `gorm:"primaryKey;column:document_name;type:varchar(255);index"`
	Role         Role   `gorm:"primaryKey;column:role"`
}

func (ProcessMember) TableName() string { return "process_members" }

// ImportSnapshot is the latest ingest of an external project file, keyed by
// (project, name). The native file format is parsed outside the service.
type ImportSnapshot struct {
	ProjectName      string         `gorm:"primaryKey;column:project_name;type:varchar(255)" json:"project"`
	Name             string         `gorm:"primaryKey;column:name;type:varchar(255)" json:"name"`
	AuthorName       string         `gorm:"column:author_name;type:varchar(255);not null" json:"author"`
	UpdateAuthorName string         `gorm:"column:update_author_name;type:varchar(255)" json:"update_author"`
	Tasks            datatypes.JSON `gorm:"column:tasks;not null" json:"tasks"`
	Resources        datatypes.JSON `gorm:"column:resources;not null" json:"resources"`
	Info             datatypes.JSON `gorm:"column:info;not null" json:"info"`
	CreatedAt        time.Time      `gorm:"column:created_at" json:"created"`
	UpdatedAt        time.Time      `gorm:"column:updated_at" json:"updated"`
}

func (ImportSnapshot) TableName() string { return "import_snapshots" }

// Section returns the raw JSON of one section.
func (s *ImportSnapshot) Section(section ImportSection) datatypes.JSON {
	switch section {
	case SectionTasks:
		return s.Tasks
	case SectionResources:
		return s.Resources
	case SectionInfo:
		return s.Info
	default:
		return nil
	}
}
