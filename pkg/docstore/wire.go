package docstore

import (
	"encoding/json"
	"sort"
)

// ComputedFieldBody declares a field read from a document. An empty
// ReferenceDocument reads the owning document.
type ComputedFieldBody struct {
	ReferenceDocument string `json:"reference_document"`
	JSONPath          string `json:"jsonpath"`
}

// ImportFieldBody declares a field read from a section of an import
// snapshot.
type ImportFieldBody struct {
	ImportName    string `json:"import_name"`
	MSProjectName string `json:"ms_project_name"`
	FieldFrom     string `json:"field_from"`
	JSONPath      string `json:"jsonpath"`
}

// DocumentBody is the wire form of a document definition.
type DocumentBody struct {
	JSONSchema       json.RawMessage              `json:"jsonschema"`
	ComputedFields   map[string]ComputedFieldBody `json:"computed_fields"`
	MSComputedFields map[string]ImportFieldBody   `json:"ms_computed_fields"`
}

// DocumentSpec is a document to create as part of a project.
type DocumentSpec struct {
	Name           string
	JSONSchema     json.RawMessage
	ComputedFields []FieldDeclaration
}

// Spec converts the body into a DocumentSpec named name. Field
// declarations are ordered by name.
func (b DocumentBody) Spec(name string) (DocumentSpec, error) {
	spec := DocumentSpec{Name: name, JSONSchema: b.JSONSchema}

	for _, fieldName := range sortedKeys(b.ComputedFields) {
		f := b.ComputedFields[fieldName]
		spec.ComputedFields = append(spec.ComputedFields, FieldDeclaration{
			Name:           fieldName,
			SourceKind:     SourceDocument,
			SourceDocument: f.ReferenceDocument,
			Expression:     f.JSONPath,
		})
	}
	for _, fieldName := range sortedKeys(b.MSComputedFields) {
		f := b.MSComputedFields[fieldName]
		importName := f.ImportName
		if importName == "" {
			importName = f.MSProjectName
		}
		section := SectionTasks
		if f.FieldFrom != "" {
			var err error
			if section, err = ParseImportSection(f.FieldFrom); err != nil {
				return DocumentSpec{}, err
			}
		}
		spec.ComputedFields = append(spec.ComputedFields, FieldDeclaration{
			Name:          fieldName,
			SourceKind:    SourceImport,
			SourceImport:  importName,
			SourceSection: section,
			Expression:    f.JSONPath,
		})
	}
	return spec, nil
}

// DecodeDocumentDefinition decodes a single-entry {name: definition} body.
func DecodeDocumentDefinition(raw []byte) (DocumentSpec, error) {
	var entries map[string]DocumentBody
	if err := json.Unmarshal(raw, &entries); err != nil {
		return DocumentSpec{}, BadRequestf("invalid document definition: %v", err)
	}
	if len(entries) != 1 {
		return DocumentSpec{}, BadRequestf("document definition must have exactly one entry, got %d", len(entries))
	}
	for name, body := range entries {
		return body.Spec(name)
	}
	return DocumentSpec{}, nil
}

// ProcessBody is the wire form of a process.
type ProcessBody struct {
	Inputs  []string `json:"inputs"`
	Outputs []string `json:"outputs"`
}

// ProjectPermissionsBody maps documents to permission names for one user.
type ProjectPermissionsBody struct {
	Documents map[string][]string `json:"documents"`
}

// ProjectBody is the wire form of a project creation request.
type ProjectBody struct {
	ProjectName string                            `json:"project_name"`
	Documents   map[string]DocumentBody           `json:"documents"`
	Processes   map[string]ProcessBody            `json:"processes"`
	Permissions map[string]ProjectPermissionsBody `json:"permissions"`
}

// DecodeProjectBody decodes a project creation request.
func DecodeProjectBody(raw []byte) (CreateProjectInput, error) {
	var body ProjectBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return CreateProjectInput{}, BadRequestf("invalid project body: %v", err)
	}
	in := CreateProjectInput{Name: body.ProjectName}
	for _, name := range sortedKeys(body.Documents) {
		spec, err := body.Documents[name].Spec(name)
		if err != nil {
			return CreateProjectInput{}, err
		}
		in.Documents = append(in.Documents, spec)
	}
	for _, name := range sortedKeys(body.Processes) {
		p := body.Processes[name]
		in.Processes = append(in.Processes, ProcessSpec{Name: name, Inputs: p.Inputs, Outputs: p.Outputs})
	}
	for _, user := range sortedKeys(body.Permissions) {
		in.Permissions = append(in.Permissions, UserGrantSpec{User: user, Documents: body.Permissions[user].Documents})
	}
	return in, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
