package docstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projectdocs/docstore/pkg/authz"
)

const projectBody = `{
  "project_name": "house",
  "documents": {
    "plan":   {"jsonschema": {"type": "object"}},
    "budget": {
      "jsonschema": {"type": "object"},
      "computed_fields": {"rooms": {"reference_document": "plan", "jsonpath": "$.rooms[*]"}}
    }
  },
  "processes": {
    "estimate": {"inputs": ["plan", "ghost"], "outputs": ["budget"]}
  },
  "permissions": {
    "bob":   {"documents": {"plan": ["view", "fly"], "ghost": ["view"]}},
    "carol": {"documents": {"plan": ["edit"]}}
  }
}`

func TestProjectStore_CreateFromBody(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "bob")

	in, err := DecodeProjectBody([]byte(projectBody))
	require.NoError(t, err)
	in.Owner = "alice"

	project, err := f.projects.Create(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "alice", project.OwnerName)
	require.Len(t, project.Documents, 2)
	assert.Equal(t, "budget", project.Documents[0].Name)
	require.Len(t, project.Documents[0].ComputedFields, 1)
	assert.Equal(t, "plan", project.Documents[0].ComputedFields[0].SourceDocument)

	require.Len(t, project.Processes, 1)
	assert.Equal(t, []string{"plan"}, project.Processes[0].Inputs, "unknown documents are skipped")
	assert.Equal(t, []string{"budget"}, project.Processes[0].Outputs)

	perms, err := f.grants.ListDocument(ctx, "bob", "house", "plan")
	require.NoError(t, err)
	assert.Equal(t, []string{"view"}, perms, "unknown permission names are skipped")
	perms, err = f.grants.ListDocument(ctx, "carol", "house", "plan")
	require.NoError(t, err)
	assert.Empty(t, perms, "unknown users are skipped")

	_, err = f.projects.Create(ctx, in)
	assert.True(t, IsKind(err, KindConflict))

	_, err = f.docs.Write(ctx, "house", "plan", obj(t, `{"rooms":["kitchen","hall"]}`), "alice")
	require.NoError(t, err)
	budget, err := f.docs.Read(ctx, "house", "budget")
	require.NoError(t, err)
	assert.JSONEq(t, `["kitchen","hall"]`, string(budget.ComputedFields[0].Value))
}

func TestProjectStore_CreateRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.projects.Create(ctx, CreateProjectInput{
		Name:  "house",
		Owner: "alice",
		Documents: []DocumentSpec{
			{Name: "plan", JSONSchema: []byte(objectSchema)},
			{Name: "broken"},
		},
	})
	assert.True(t, IsKind(err, KindBadRequest))

	_, err = f.projects.Get(ctx, "house")
	assert.True(t, IsKind(err, KindNotFound))
	_, err = f.projects.Create(ctx, CreateProjectInput{})
	assert.True(t, IsKind(err, KindBadRequest))
}

func TestProjectStore_ListAndRef(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.project(t, "b", "bob")
	f.project(t, "a", "alice")

	projects, err := f.projects.List(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, "a", projects[0].Name)

	ref, err := f.projects.Ref(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, authz.ProjectRef{Name: "b", Owner: "bob"}, *ref)

	_, err = f.projects.Ref(ctx, "c")
	assert.True(t, IsKind(err, KindNotFound))
}

func TestProjectStore_DeleteCascade(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.project(t, "P1", "alice")
	f.project(t, "P2", "alice")
	f.document(t, "P1", "spec", FieldDeclaration{Name: "v", Expression: "$.v"})
	f.document(t, "P2", "spec")
	_, err := f.docs.Write(ctx, "P1", "spec", obj(t, `{"v":1}`), "alice")
	require.NoError(t, err)
	_, err = f.docs.Write(ctx, "P1", "spec", obj(t, `{"v":2}`), "alice")
	require.NoError(t, err)
	_, err = f.projects.PutProcess(ctx, "P1", ProcessSpec{Name: "Build", Outputs: []string{"spec"}})
	require.NoError(t, err)
	_, _, err = f.imports.Ingest(ctx, "P1", "plan", Snapshot{}, "alice")
	require.NoError(t, err)
	require.NoError(t, f.grants.GrantProject(ctx, "bob", "P1", authz.ProjView))

	require.NoError(t, f.projects.Delete(ctx, "P1"))

	for _, model := range []any{&Document{}, &Patch{}, &ComputedField{}, &Process{}, &ProcessMember{}, &ImportSnapshot{}, &authz.ProjectGrant{}, &authz.DocumentGrant{}} {
		var count int64
		require.NoError(t, f.db.Model(model).Where("project_name = ?", "P1").Count(&count).Error)
		assert.Zero(t, count, "%T", model)
	}

	_, err = f.docs.Read(ctx, "P2", "spec")
	require.NoError(t, err, "other projects are untouched")
	assert.True(t, IsKind(f.projects.Delete(ctx, "P1"), KindNotFound))
}

func TestProjectStore_Processes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.project(t, "P1", "alice")
	f.document(t, "P1", "a")
	f.document(t, "P1", "b")

	p, err := f.projects.PutProcess(ctx, "P1", ProcessSpec{Name: "Build", Inputs: []string{"a"}, Outputs: []string{"b"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, p.Inputs)

	p, err = f.projects.PutProcess(ctx, "P1", ProcessSpec{Name: "Build", Inputs: []string{"b"}, Outputs: []string{"a"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, p.Inputs)
	assert.Equal(t, []string{"a"}, p.Outputs)

	list, err := f.projects.ListProcesses(ctx, "P1")
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, f.projects.DeleteProcess(ctx, "P1", "Build"))
	_, err = f.projects.GetProcess(ctx, "P1", "Build")
	assert.True(t, IsKind(err, KindNotFound))
	assert.True(t, IsKind(f.projects.DeleteProcess(ctx, "P1", "Build"), KindNotFound))
}

func TestDecodeDocumentDefinition(t *testing.T) {
	spec, err := DecodeDocumentDefinition([]byte(`{"report": {
		"jsonschema": {"type": "object"},
		"computed_fields": {"b": {"jsonpath": "$.b"}, "a": {"reference_document": "plan", "jsonpath": "$.a"}},
		"ms_computed_fields": {"tasks": {"ms_project_name": "schedule", "field_from": "proj_info", "jsonpath": "$.title"}}
	}}`))
	require.NoError(t, err)
	assert.Equal(t, "report", spec.Name)
	require.Len(t, spec.ComputedFields, 3)
	assert.Equal(t, "a", spec.ComputedFields[0].Name)
	assert.Equal(t, "plan", spec.ComputedFields[0].SourceDocument)
	assert.Equal(t, "", spec.ComputedFields[1].SourceDocument)
	assert.Equal(t, FieldDeclaration{
		Name: "tasks", SourceKind: SourceImport, SourceImport: "schedule", SourceSection: SectionInfo, Expression: "$.title",
	}, spec.ComputedFields[2])

	_, err = DecodeDocumentDefinition([]byte(`{"a": {}, "b": {}}`))
	assert.True(t, IsKind(err, KindBadRequest))
	_, err = DecodeDocumentDefinition([]byte(`{"a": {"ms_computed_fields": {"x": {"field_from": "gantt"}}}}`))
	assert.True(t, IsKind(err, KindBadRequest))
}
