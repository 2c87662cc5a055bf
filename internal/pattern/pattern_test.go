package pattern_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorforge/tensorforge/internal/dim"
	"github.com/tensorforge/tensorforge/internal/graph"
	"github.com/tensorforge/tensorforge/internal/ops"
	"github.com/tensorforge/tensorforge/internal/pattern"
	"github.com/tensorforge/tensorforge/internal/shape"
)

// leafOp is a zero-arity stub standing in for an input tensor's
// producing node (a `set`/parameter node in the real graph).
type leafOp struct {
	shape *shape.Tracker
}

func (l *leafOp) Name() string { return "Leaf" }
func (l *leafOp) Arity() int   { return 0 }
func (l *leafOp) InferShape([]*shape.Tracker) ([]*shape.Tracker, error) {
	return []*shape.Tracker{l.shape}, nil
}
func (l *leafOp) Custom(string) (any, bool) { return nil, false }

func dims(vs ...int) []dim.Expr {
	out := make([]dim.Expr, len(vs))
	for i, v := range vs {
		out[i] = dim.Const(v)
	}
	return out
}

// buildGEMMGraph constructs the GEMM idiom from spec: a broadcast-Mul
// over [M,N(fake),K] and [M(fake),N,K] followed by SumReduce(axis=2),
// matching the third MatMul idiom.
func buildGEMMGraph(t *testing.T) (g *graph.Graph, mulID, sumID graph.NodeID) {
	t.Helper()
	g = graph.New()

	aLeaf, err := g.AddOp(&leafOp{shape: shape.New(dims(4, 3)...)}).Finish()
	require.NoError(t, err)
	bLeaf, err := g.AddOp(&leafOp{shape: shape.New(dims(3, 5)...)}).Finish()
	require.NoError(t, err)

	// A: [4,3] -> expand axis 1 (fake N=5) -> [4,(fake)5,3]
	aView := shape.New(dims(4, 3)...).Expand(1, dim.Const(5))
	// B: [3,5] -> permute to [5,3] -> expand axis 0 (fake M=4) -> [(fake)4,5,3]
	bPermuted, err := shape.New(dims(3, 5)...).Permute([]int{1, 0})
	require.NoError(t, err)
	bView := bPermuted.Expand(0, dim.Const(4))

	mulID, err = g.AddOp(ops.NewMul()).
		Input(aLeaf, 0, aView).
		Input(bLeaf, 0, bView).
		Finish()
	require.NoError(t, err)

	mulOutView := shape.New(dims(4, 5, 3)...)
	sumID, err = g.AddOp(ops.NewSumReduce(2)).
		Input(mulID, 0, mulOutView).
		Finish()
	require.NoError(t, err)
	return g, mulID, sumID
}

func TestSelectOpMatchesGEMMIdiom(t *testing.T) {
	g, mulID, sumID := buildGEMMGraph(t)

	var matchedMul graph.NodeID
	mulSel := pattern.NewSelectOp().
		OpType("Mul").
		InputFake(0, nil, pattern.True(), nil).
		InputFake(1, pattern.True(), nil, nil).
		Bind(&matchedMul)

	sumSel := pattern.NewSelectOp().
		OpType("SumReduce").
		Check(func(op graph.Op, edges []graph.Edge) bool {
			axisOp, ok := op.(interface{ Axis() int })
			return ok && axisOp.Axis() == 2
		}).
		Edge(0, mulSel)

	it := pattern.Search(g, sumSel)
	got, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, sumID, got)
	assert.Equal(t, mulID, matchedMul)

	_, ok = it.Next()
	assert.False(t, ok, "only one SumReduce(Mul) match should exist")
}

func TestSelectOpRejectsWrongAxis(t *testing.T) {
	g, _, _ := buildGEMMGraph(t)

	sel := pattern.NewSelectOp().
		OpType("SumReduce").
		Check(func(op graph.Op, edges []graph.Edge) bool {
			axisOp, ok := op.(interface{ Axis() int })
			return ok && axisOp.Axis() == 0 // wrong axis: graph has axis=2
		})

	it := pattern.Search(g, sel)
	_, ok := it.Next()
	assert.False(t, ok)
}

func TestSelectOpShapePatternMatchesPositionally(t *testing.T) {
	g, mulID, _ := buildGEMMGraph(t)

	var bound graph.NodeID
	sel := pattern.NewSelectOp().
		OpType("Mul").
		InputShape(0, pattern.ConstDim(4), pattern.Any(), pattern.ConstDim(3)).
		Bind(&bound)

	it := pattern.Search(g, sel)
	got, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, mulID, got)
	assert.Equal(t, mulID, bound)
}

func TestIteratorToleratesNodeRemovalBetweenMatches(t *testing.T) {
	g := graph.New()
	// Two independent Mul nodes so the iterator has two matches.
	l1, _ := g.AddOp(&leafOp{shape: shape.New(dims(2)...)}).Finish()
	l2, _ := g.AddOp(&leafOp{shape: shape.New(dims(2)...)}).Finish()
	view := shape.New(dims(2)...)

	mul1, err := g.AddOp(ops.NewMul()).Input(l1, 0, view).Input(l2, 0, view).Finish()
	require.NoError(t, err)
	mul2, err := g.AddOp(ops.NewMul()).Input(l1, 0, view).Input(l2, 0, view).Finish()
	require.NoError(t, err)

	sel := pattern.NewSelectOp().OpType("Mul")
	it := pattern.Search(g, sel)

	first, ok := it.Next()
	require.True(t, ok)

	// Simulate a rewrite pass removing the just-matched node.
	g.RemoveNode(first)

	second, ok := it.Next()
	require.True(t, ok)
	assert.NotEqual(t, first, second)
	assert.True(t, second == mul1 || second == mul2)

	_, ok = it.Next()
	assert.False(t, ok)
}
