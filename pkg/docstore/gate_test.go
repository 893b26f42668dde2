package docstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_BuildProcess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.project(t, "P1", "alice")
	f.document(t, "P1", "in")
	f.document(t, "P1", "out")
	_, err := f.projects.PutProcess(ctx, "P1", ProcessSpec{Name: "Build", Inputs: []string{"in"}, Outputs: []string{"out"}})
	require.NoError(t, err)

	err = f.gate.Check(ctx, "P1", "out")
	require.Error(t, err)
	assert.Equal(t, KindPreconditionFailed, KindOf(err))
	assert.Contains(t, err.Error(), "inputs in of out")

	require.NoError(t, f.gate.Check(ctx, "P1", "in"), "inputs are never gated")

	_, err = f.docs.Write(ctx, "P1", "in", obj(t, `{"ready":true}`), "alice")
	require.NoError(t, err)
	require.NoError(t, f.gate.Check(ctx, "P1", "out"))
}

func TestGate_Monotonic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.project(t, "P1", "alice")
	for _, name := range []string{"a", "b", "out"} {
		f.document(t, "P1", name)
	}
	_, err := f.projects.PutProcess(ctx, "P1", ProcessSpec{Name: "Build", Inputs: []string{"a", "b"}, Outputs: []string{"out"}})
	require.NoError(t, err)

	err = f.gate.Check(ctx, "P1", "out")
	assert.True(t, IsKind(err, KindPreconditionFailed))
	assert.Contains(t, err.Error(), "a, b")

	_, err = f.docs.Write(ctx, "P1", "a", obj(t, `{}`), "alice")
	require.NoError(t, err)
	err = f.gate.Check(ctx, "P1", "out")
	assert.True(t, IsKind(err, KindPreconditionFailed))
	assert.NotContains(t, err.Error(), "a, ")

	_, err = f.docs.Write(ctx, "P1", "b", obj(t, `{}`), "alice")
	require.NoError(t, err)
	require.NoError(t, f.gate.Check(ctx, "P1", "out"))

	// Later writes of the inputs never close the gate again.
	_, err = f.docs.Write(ctx, "P1", "a", obj(t, `{"x":1}`), "alice")
	require.NoError(t, err)
	require.NoError(t, f.gate.Check(ctx, "P1", "out"))
}

func TestGate_SelfInputIgnored(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.project(t, "P1", "alice")
	f.document(t, "P1", "loop")
	_, err := f.projects.PutProcess(ctx, "P1", ProcessSpec{Name: "Refine", Inputs: []string{"loop"}, Outputs: []string{"loop"}})
	require.NoError(t, err)

	require.NoError(t, f.gate.Check(ctx, "P1", "loop"))
}

func TestGate_UnknownDocumentInProcess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.project(t, "P1", "alice")
	f.document(t, "P1", "out")

	_, err := f.projects.PutProcess(ctx, "P1", ProcessSpec{Name: "Build", Inputs: []string{"ghost"}, Outputs: []string{"out"}})
	assert.True(t, IsKind(err, KindNotFound))
	require.NoError(t, f.gate.Check(ctx, "P1", "out"))
}
