package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorforge/tensorforge/internal/dim"
	"github.com/tensorforge/tensorforge/internal/shape"
)

// stubOp is a minimal Op for exercising the graph store in isolation
// from the real primitive operator set.
type stubOp struct {
	name  string
	arity int
}

func (s stubOp) Name() string { return s.name }
func (s stubOp) Arity() int   { return s.arity }
func (s stubOp) InferShape(in []*shape.Tracker) ([]*shape.Tracker, error) {
	if len(in) == 0 {
		return []*shape.Tracker{shape.New(dim.Const(1))}, nil
	}
	return []*shape.Tracker{in[0]}, nil
}
func (s stubOp) Custom(string) (any, bool) { return nil, false }

func mustAdd(t *testing.T, g *Graph, op Op, inputs ...NodeID) NodeID {
	t.Helper()
	b := g.AddOp(op)
	for _, in := range inputs {
		b.Input(in, 0, shape.New(dim.Const(1)))
	}
	id, err := b.Finish()
	require.NoError(t, err)
	return id
}

func TestAddOpAndGetSources(t *testing.T) {
	g := New()
	leaf := mustAdd(t, g, stubOp{"leaf", 0})
	mid := mustAdd(t, g, stubOp{"mid", 1}, leaf)

	srcs, err := g.GetSources(mid)
	require.NoError(t, err)
	require.Len(t, srcs, 1)
	assert.Equal(t, leaf, srcs[0].Src)
	assert.Equal(t, 0, srcs[0].InputSlot)
}

func TestArityMismatchRejected(t *testing.T) {
	g := New()
	_, err := g.AddOp(stubOp{"mid", 2}).Finish()
	require.Error(t, err)
}

func TestNoDeleteSurvivesMoveReferences(t *testing.T) {
	g := New()
	a := mustAdd(t, g, stubOp{"a", 0})
	b := mustAdd(t, g, stubOp{"b", 0})
	g.NoDelete(a)
	g.Retrieve(a)

	g.MoveReferences(a, b)
	g.RemoveNode(a)

	assert.True(t, g.IsNoDelete(a), "resolves through id_remap")
	assert.True(t, g.IsToRetrieve(a))
	assert.Equal(t, b, g.Resolve(a))
	assert.True(t, g.Exists(a))
}

func TestMoveOutgoingEdgeRedirectsConsumers(t *testing.T) {
	g := New()
	a := mustAdd(t, g, stubOp{"a", 0})
	b := mustAdd(t, g, stubOp{"b", 0})
	consumer := mustAdd(t, g, stubOp{"consumer", 1}, a)

	g.MoveOutgoingEdge(a, b)
	g.RemoveNode(a)

	srcs, err := g.GetSources(consumer)
	require.NoError(t, err)
	assert.Equal(t, b, srcs[0].Src)
}

func TestDynMapRoundtrip(t *testing.T) {
	g := New()
	g.SetDyn('A', 8)
	assert.Equal(t, 8, g.DynMap()['A'])
}

func TestCompileRunsPassesInOrder(t *testing.T) {
	g := New()
	var order []string
	p1 := func(g *Graph) error { order = append(order, "p1"); return nil }
	p2 := func(g *Graph) error { order = append(order, "p2"); return nil }

	require.NoError(t, g.Compile(p1, p2))
	assert.Equal(t, []string{"p1", "p2"}, order)
}
