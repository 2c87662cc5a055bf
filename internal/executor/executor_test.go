package executor

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/tensorforge/tensorforge/internal/backend"
	"github.com/tensorforge/tensorforge/internal/dim"
	"github.com/tensorforge/tensorforge/internal/graph"
	"github.com/tensorforge/tensorforge/internal/ops"
	"github.com/tensorforge/tensorforge/internal/shape"
	"github.com/tensorforge/tensorforge/internal/storage"
)

func setLeaf(t *testing.T, g *graph.Graph, id graph.NodeID, data []float32) {
	t.Helper()
	op, err := g.Op(id)
	require.NoError(t, err)
	leaf, ok := op.(*ops.LeafOp)
	require.True(t, ok)
	leaf.Set(storage.FromDense(tensor.New(tensor.WithShape(len(data)), tensor.WithBacking(data))))
}

func TestExecutorRunsAddAndRetrieves(t *testing.T) {
	g := graph.New()
	vShape := shape.New(dim.Const(4))
	aID, err := g.AddOp(ops.NewLeaf("a", vShape)).Finish()
	require.NoError(t, err)
	bID, err := g.AddOp(ops.NewLeaf("b", vShape)).Finish()
	require.NoError(t, err)
	sumID, err := g.AddOp(ops.NewAdd()).Input(aID, 0, vShape).Input(bID, 0, vShape).Finish()
	require.NoError(t, err)
	g.Retrieve(sumID)

	setLeaf(t, g, aID, []float32{1, 2, 3, 4})
	setLeaf(t, g, bID, []float32{10, 20, 30, 40})

	ex := New(g, backend.HostQueue{})
	results, err := ex.Execute()
	require.NoError(t, err)

	buf, ok := results[sumID]
	require.True(t, ok)
	require.Equal(t, []float32{11, 22, 33, 44}, buf.Dense().Data().([]float32))

	got, ok := ex.Result(sumID)
	require.True(t, ok)
	require.Same(t, buf, got)
}

// TestExecutorReturnsOnlyRetrievedNodes checks that Execute's result map
// holds the to_retrieve node (Exp) and not the intermediate Add feeding
// it.
func TestExecutorReturnsOnlyRetrievedNodes(t *testing.T) {
	g := graph.New()
	vShape := shape.New(dim.Const(2))
	aID, _ := g.AddOp(ops.NewLeaf("a", vShape)).Finish()
	bID, _ := g.AddOp(ops.NewLeaf("b", vShape)).Finish()
	addID, _ := g.AddOp(ops.NewAdd()).Input(aID, 0, vShape).Input(bID, 0, vShape).Finish()
	expID, err := g.AddOp(ops.NewExp()).Input(addID, 0, vShape).Finish()
	require.NoError(t, err)
	g.Retrieve(expID)

	setLeaf(t, g, aID, []float32{0, 0})
	setLeaf(t, g, bID, []float32{0, 0})

	ex := New(g, backend.HostQueue{})
	results, err := ex.Execute()
	require.NoError(t, err)

	_, retrievedAdd := results[addID]
	require.False(t, retrievedAdd)
	_, retrievedExp := results[expID]
	require.True(t, retrievedExp)
}

func TestExecutorRejectsConcurrentExecute(t *testing.T) {
	g := graph.New()
	ex := New(g, backend.HostQueue{})
	atomic.StoreInt32(&ex.running, 1)
	_, err := ex.Execute()
	require.ErrorIs(t, err, ErrExecutionInProgress)
}
