package compiler

import (
	"github.com/tensorforge/tensorforge/internal/backend"
	"github.com/tensorforge/tensorforge/internal/graph"
	"github.com/tensorforge/tensorforge/internal/ops"
	"github.com/tensorforge/tensorforge/internal/pattern"
	"github.com/tensorforge/tensorforge/internal/shape"
	"github.com/tensorforge/tensorforge/internal/tflog"
)

// axisReducer is satisfied by internal/ops' SumReduce, exposing the
// collapsed axis without a concrete-type import cycle.
type axisReducer interface {
	Axis() int
}

// MatMulPass recognizes the four broadcast-Mul + SumReduce idioms
// spec.md §4.I names (GEMV, batched GEMV, GEMM, batched GEMM) and
// rewrites each match into a backend.MatMulKernel node. All four share
// one structural signature, generalized across rank:
//
//	SumReduce(axis=rank-1) <- Mul(left, right)
//
// where, of Mul's two operands, one ("left") is fake only on axis
// rank-2 and the other ("right") is fake on every axis from 0 to
// rank-3 inclusive. This is exactly spec.md's four named shapes
// (rank 3 = GEMV/GEMM, rank 4 = their batched forms; GEMV vs GEMM is
// then a runtime choice of whether left's M axis is the compile-time
// constant 1, not a separate structural pattern), so one selector
// covers all four without redundant competing matches — the
// "GEMV before GEMM, single before batched" tie-break spec.md
// describes accordingly never arises here: a concrete Mul node has one
// rank and one fake pattern, hence one classification.
func MatMulPass() graph.Pass {
	return func(g *graph.Graph) error {
		var mulNode graph.NodeID
		mulSel := pattern.NewSelectOp().
			OpType("Mul").
			Bind(&mulNode).
			Check(func(op graph.Op, edges []graph.Edge) bool {
				return classifyMul(edges) != nil
			})
		sumSel := pattern.NewSelectOp().
			OpType("SumReduce").
			Check(func(op graph.Op, edges []graph.Edge) bool {
				red, ok := op.(axisReducer)
				if !ok || len(edges) != 1 {
					return false
				}
				return red.Axis() == len(edges[0].View.Shape())-1
			}).
			Edge(0, mulSel)

		it := pattern.Search(g, sumSel)
		for {
			sumNode, ok := it.Next()
			if !ok {
				break
			}
			if g.IsNoDelete(mulNode) {
				tflog.Log.Debug().Uint64("mul", uint64(mulNode)).Msg("matmul idiom pinned no_delete, skipping rewrite")
				continue
			}
			if err := rewriteMatMul(g, mulNode, sumNode); err != nil {
				tflog.Log.Warn().Err(err).Uint64("mul", uint64(mulNode)).Msg("unsupported matmul rewrite, keeping primitive fallback")
				continue
			}
		}
		return nil
	}
}

// idiomSides names which of Mul's two input edges is the "left"
// (activations, broadcast along the output's N axis) and "right"
// (weights, broadcast along every axis but N and K) operand.
type idiomSides struct {
	leftSlot, rightSlot int
	rank                int
}

// classifyMul inspects Mul's two source edges and returns the
// idiomSides assignment if they match the canonical idiom, or nil if
// this Mul isn't a matmul contraction.
func classifyMul(edges []graph.Edge) *idiomSides {
	if len(edges) != 2 {
		return nil
	}
	fakeA := edges[0].View.Fake()
	fakeB := edges[1].View.Fake()
	r := len(fakeA)
	if r != len(fakeB) || (r != 3 && r != 4) {
		return nil
	}
	aLeft, aRight := classifyFakePattern(fakeA)
	bLeft, bRight := classifyFakePattern(fakeB)
	switch {
	case aLeft && bRight:
		return &idiomSides{leftSlot: 0, rightSlot: 1, rank: r}
	case bLeft && aRight:
		return &idiomSides{leftSlot: 1, rightSlot: 0, rank: r}
	default:
		return nil
	}
}

// classifyFakePattern reports whether fake matches the "left" shape
// (fake only at axis rank-2, the N axis) or the "right" shape (fake at
// every axis from 0 to rank-3, the batch and M axes).
func classifyFakePattern(fake []bool) (isLeft, isRight bool) {
	r := len(fake)
	isLeft, isRight = true, true
	for i, f := range fake {
		if f != (i == r-2) {
			isLeft = false
		}
		if f != (i <= r-3) {
			isRight = false
		}
	}
	return isLeft, isRight
}

func rewriteMatMul(g *graph.Graph, mulNode, sumNode graph.NodeID) error {
	edges, err := g.GetSources(mulNode)
	if err != nil {
		return err
	}
	sides := classifyMul(edges)
	if sides == nil {
		return ops.ErrShapeMismatch
	}
	left := edges[sides.leftSlot]
	right := edges[sides.rightSlot]

	// Undo the broadcast: drop the fake N axis from left, and every
	// leading fake (batch/M) axis from right.
	leftView, err := left.View.RemoveDim(sides.rank - 2)
	if err != nil {
		return err
	}
	rightView := right.View
	for i := 0; i < sides.rank-2; i++ {
		rightView, err = rightView.RemoveDim(0)
		if err != nil {
			return err
		}
	}
	// Restore B's logical [K,N] orientation.
	rightView, err = rightView.Permute([]int{1, 0})
	if err != nil {
		return err
	}

	// Insert explicit Contiguous copies where the operand is sliced or
	// padded: a device kernel needs a clean materialized buffer to
	// stage, even though the host Forward path would also handle the
	// view generically.
	leftSrc, leftView, err := ensureContiguous(g, left.Src, left.OutputSlot, leftView)
	if err != nil {
		return err
	}
	rightSrc, rightView, err := ensureContiguous(g, right.Src, right.OutputSlot, rightView)
	if err != nil {
		return err
	}

	leftShape := leftView.Shape()
	mExpr := leftShape[len(leftShape)-2]
	gemv := false
	if v, ok := mExpr.IsConst(); ok && v == 1 {
		gemv = true
	}
	batched := sides.rank == 4

	kernelOp := backend.NewMatMulKernel(batched, gemv, leftView.IsContiguous(), rightView.IsContiguous())
	newID, err := g.AddOp(kernelOp).
		Input(leftSrc, 0, leftView).
		Input(rightSrc, 0, rightView).
		Finish()
	if err != nil {
		return err
	}

	tflog.Log.Debug().
		Str("kernel", kernelOp.Name()).
		Bool("batched", batched).
		Bool("gemv", gemv).
		Msg("matmul idiom rewritten")

	g.MoveOutgoingEdge(sumNode, newID)
	g.MoveReferences(sumNode, newID)
	g.RemoveNode(mulNode)
	g.RemoveNode(sumNode)
	return nil
}

// ensureContiguous splices a Contiguous op between src and its
// consumer when view is sliced or padded, returning the (possibly new)
// source node and the view the consumer should now read through (the
// view's own identity once materialized).
func ensureContiguous(g *graph.Graph, src graph.NodeID, outSlot int, view *shape.Tracker) (graph.NodeID, *shape.Tracker, error) {
	if !view.IsSliced() && !view.IsPadded() {
		return src, view, nil
	}
	id, err := g.AddOp(ops.NewContiguous()).Input(src, outSlot, view).Finish()
	if err != nil {
		return 0, nil, err
	}
	return id, view.Contiguous(), nil
}
