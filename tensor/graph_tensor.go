package tensor

import (
	"fmt"

	"gorgonia.org/tensor"

	"github.com/tensorforge/tensorforge/internal/dim"
	"github.com/tensorforge/tensorforge/internal/graph"
	"github.com/tensorforge/tensorforge/internal/kernel"
	"github.com/tensorforge/tensorforge/internal/ops"
	"github.com/tensorforge/tensorforge/internal/shape"
	"github.com/tensorforge/tensorforge/internal/storage"
)

// GraphTensor is a builder cursor: just a node id, the ShapeTracker its
// own output is viewed through, and a back-reference to the owning
// Graph. It never owns data; Set/Result reach through to the Graph's
// leaf/executor state. Per spec.md §9, handles must not outlive their
// Graph.
type GraphTensor struct {
	g    *Graph
	node graph.NodeID
	view *shape.Tracker
	leaf *ops.LeafOp // non-nil only for Tensor()/NamedTensor() handles
}

// Shape returns the tensor's logical dimension sequence.
func (t *GraphTensor) Shape() []dim.Expr { return t.view.Shape() }

// Rank returns the number of logical axes.
func (t *GraphTensor) Rank() int { return t.view.Rank() }

// Graph returns the owning Graph, letting a function that only
// receives a tensor reach back for graph-level builders (Constant,
// Triu, Arange) without threading an extra argument through.
func (t *GraphTensor) Graph() *Graph { return t.g }

func (t *GraphTensor) resolvedNode() graph.NodeID { return t.g.g.Resolve(t.node) }

// Set stages data as this leaf tensor's contents, read the next time
// the graph executes. Only valid on handles returned by Tensor/NamedTensor.
func (t *GraphTensor) Set(data []float32) error {
	if t.leaf == nil {
		return fmt.Errorf("tensor: Set called on a non-leaf handle (node %d)", t.node)
	}
	dims := make([]int, 0, len(t.view.Shape()))
	for _, d := range t.view.Shape() {
		v, ok := d.IsConst()
		if !ok {
			return fmt.Errorf("tensor: Set requires a fully constant shape, got %s", d)
		}
		dims = append(dims, v)
	}
	dense := tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(dims...), tensor.WithBacking(append([]float32(nil), data...)))
	t.leaf.Set(storage.FromDense(dense))
	return nil
}

// Retrieve marks this node so its output buffer is returned to the
// host after Execute, and returns the same handle for chaining.
func (t *GraphTensor) Retrieve() *GraphTensor {
	t.g.g.Retrieve(t.node)
	return t
}

// NoDelete pins this node so no rewrite pass may remove it (spec.md §4
// Graph invariant, exercised by scenario S4).
func (t *GraphTensor) NoDelete() *GraphTensor {
	t.g.g.NoDelete(t.node)
	return t
}

// Result returns the flattened float32 contents and concrete shape of
// this node's most recently executed buffer. The handle must have been
// marked via Retrieve before Compile/Execute.
func (t *GraphTensor) Result() ([]float32, []int, error) {
	buf, ok := t.g.exec.Result(t.resolvedNode())
	if !ok {
		if !t.g.g.IsToRetrieve(t.node) {
			return nil, nil, ErrNotRetrieved
		}
		return nil, nil, ErrNotExecuted
	}
	data, ok := buf.Dense().Data().([]float32)
	if !ok {
		return nil, nil, fmt.Errorf("tensor: result buffer has unexpected backing type %T", buf.Dense().Data())
	}
	return data, buf.Shape(), nil
}

// unaryView appends a 1-input op whose shape is entirely determined by
// InferShape (true of every primitive except Function), returning the
// new handle.
func (t *GraphTensor) unaryView(op graph.Op) (*GraphTensor, error) {
	return t.g.apply(op, []edgeSrc{{t, t.view}})
}

func (t *GraphTensor) binary(op graph.Op, other *GraphTensor, lv, rv *shape.Tracker) (*GraphTensor, error) {
	return t.g.apply(op, []edgeSrc{{t, lv}, {other, rv}})
}

type edgeSrc struct {
	t    *GraphTensor
	view *shape.Tracker
}

// apply finishes building a node from op given the already-computed
// per-input views, and wraps the result as a new GraphTensor. Shared by
// every desugaring method below so each one only has to describe the
// view algebra, not the graph-builder boilerplate.
func (gr *Graph) apply(op graph.Op, srcs []edgeSrc) (*GraphTensor, error) {
	views := make([]*shape.Tracker, len(srcs))
	for i, s := range srcs {
		views[i] = s.view
	}
	out, err := op.InferShape(views)
	if err != nil {
		return nil, err
	}
	b := gr.addOp(op)
	for _, s := range srcs {
		b = b.Input(s.t.resolvedNode(), 0, s.view)
	}
	id, err := b.Finish()
	if err != nil {
		return nil, err
	}
	return &GraphTensor{g: gr, node: id, view: out[0]}, nil
}

// --- elementwise ---

// Mul builds an elementwise multiply; shapes must match exactly
// (callers wanting broadcast must Expand first, as matmul's desugaring
// does).
func (t *GraphTensor) Mul(other *GraphTensor) (*GraphTensor, error) {
	return t.binary(ops.NewMul(), other, t.view, other.view)
}

// Add builds an elementwise add.
func (t *GraphTensor) Add(other *GraphTensor) (*GraphTensor, error) {
	return t.binary(ops.NewAdd(), other, t.view, other.view)
}

// Mod builds an elementwise floating-point modulo.
func (t *GraphTensor) Mod(other *GraphTensor) (*GraphTensor, error) {
	return t.binary(ops.NewMod(), other, t.view, other.view)
}

// LessThan builds an elementwise less-than comparison (1.0/0.0 output).
func (t *GraphTensor) LessThan(other *GraphTensor) (*GraphTensor, error) {
	return t.binary(ops.NewLessThan(), other, t.view, other.view)
}

// Sub builds an elementwise subtract, desugared as Add(a, Mul(b, -1))
// since Sub is not itself a primitive (spec.md §3 lists no Sub op).
func (t *GraphTensor) Sub(other *GraphTensor) (*GraphTensor, error) {
	negOne, err := t.g.constLike(-1, other.view)
	if err != nil {
		return nil, err
	}
	negB, err := other.Mul(negOne)
	if err != nil {
		return nil, err
	}
	return t.Add(negB)
}

// Recip builds an elementwise reciprocal.
func (t *GraphTensor) Recip() (*GraphTensor, error) { return t.unaryView(ops.NewRecip()) }

// Exp builds an elementwise natural exponential.
func (t *GraphTensor) Exp() (*GraphTensor, error) { return t.unaryView(ops.NewExp()) }

// Log builds an elementwise natural log.
func (t *GraphTensor) Log() (*GraphTensor, error) { return t.unaryView(ops.NewLog()) }

// Sin builds an elementwise sine.
func (t *GraphTensor) Sin() (*GraphTensor, error) { return t.unaryView(ops.NewSin()) }

// Sqrt builds an elementwise square root.
func (t *GraphTensor) Sqrt() (*GraphTensor, error) { return t.unaryView(ops.NewSqrt()) }

// Cos builds an elementwise cosine.
func (t *GraphTensor) Cos() (*GraphTensor, error) { return t.unaryView(ops.NewCos()) }

// constLike builds a rank-0 scalar leaf set to value, then Expands it
// up to match like's rank/shape, giving a broadcastable operand for
// Sub/AddScalar without a dedicated "constant" primitive.
func (gr *Graph) constLike(value float32, like *shape.Tracker) (*GraphTensor, error) {
	scalarView := shape.New()
	leaf := ops.NewLeaf("const", scalarView)
	leaf.Set(storage.FromDense(tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(), tensor.WithBacking([]float32{value}))))
	id, err := gr.addOp(leaf).Finish()
	if err != nil {
		return nil, err
	}
	t := &GraphTensor{g: gr, node: id, view: scalarView}
	dims := like.Shape()
	for i, d := range dims {
		t.view = t.view.Expand(i, d)
	}
	return t, nil
}

// MulScalar multiplies every element by a host-known constant, built
// from constLike the same way Sub broadcasts its negated operand.
func (t *GraphTensor) MulScalar(v float32) (*GraphTensor, error) {
	c, err := t.g.constLike(v, t.view)
	if err != nil {
		return nil, err
	}
	return t.Mul(c)
}

// AddScalar adds a host-known constant to every element.
func (t *GraphTensor) AddScalar(v float32) (*GraphTensor, error) {
	c, err := t.g.constLike(v, t.view)
	if err != nil {
		return nil, err
	}
	return t.Add(c)
}

// --- reductions ---

// SumReduce collapses axis by summation.
func (t *GraphTensor) SumReduce(axis int) (*GraphTensor, error) {
	return t.unaryView(ops.NewSumReduce(axis))
}

// MaxReduce collapses axis by maximum.
func (t *GraphTensor) MaxReduce(axis int) (*GraphTensor, error) {
	return t.unaryView(ops.NewMaxReduce(axis))
}

// --- views ---

// Permute reorders logical axes according to axes.
func (t *GraphTensor) Permute(axes ...int) (*GraphTensor, error) {
	view, err := t.view.Permute(axes)
	if err != nil {
		return nil, err
	}
	return &GraphTensor{g: t.g, node: t.node, view: view, leaf: t.leaf}, nil
}

// Expand inserts a fake (broadcast) axis of size d at position i.
func (t *GraphTensor) Expand(i int, d dim.Expr) *GraphTensor {
	return &GraphTensor{g: t.g, node: t.node, view: t.view.Expand(i, d), leaf: t.leaf}
}

// RemoveDim drops a unit or fake logical axis i.
func (t *GraphTensor) RemoveDim(i int) (*GraphTensor, error) {
	view, err := t.view.RemoveDim(i)
	if err != nil {
		return nil, err
	}
	return &GraphTensor{g: t.g, node: t.node, view: view, leaf: t.leaf}, nil
}

// Slice installs a (lo,hi) window on the named axes.
func (t *GraphTensor) Slice(windows map[int][2]dim.Expr) *GraphTensor {
	return &GraphTensor{g: t.g, node: t.node, view: t.view.Slice(windows), leaf: t.leaf}
}

// Pad installs a (before,after) zero-pad on the named axes.
func (t *GraphTensor) Pad(windows map[int][2]dim.Expr) *GraphTensor {
	return &GraphTensor{g: t.g, node: t.node, view: t.view.Pad(windows), leaf: t.leaf}
}

// Contiguous materializes the current view as an explicit Contiguous
// op, the graph-level equivalent of ShapeTracker.Contiguous().
func (t *GraphTensor) Contiguous() (*GraphTensor, error) {
	return t.unaryView(ops.NewContiguous())
}

// Reshape reinterprets the tensor as newDims; legal only when the
// current view is contiguous (callers must Contiguous() first
// otherwise, matching ShapeTracker.Reshape's contract).
func (t *GraphTensor) Reshape(newDims ...dim.Expr) (*GraphTensor, error) {
	view, err := t.view.Reshape(newDims)
	if err != nil {
		return nil, err
	}
	id, err := t.g.addOp(reshapeOp{view}).Input(t.resolvedNode(), 0, t.view).Finish()
	if err != nil {
		return nil, err
	}
	return &GraphTensor{g: t.g, node: id, view: view}, nil
}

// DynReshape is Reshape with a dimension computed from the dyn-map at
// execution time rather than at build time; since ShapeTracker.Reshape
// already accepts symbolic dims, this is the same operation under the
// external-interface name spec.md §6 lists separately.
func (t *GraphTensor) DynReshape(newDims ...dim.Expr) (*GraphTensor, error) {
	return t.Reshape(newDims...)
}

// ConcatAlong concatenates other after t along axis, desugared as two
// disjoint zero-pads followed by an elementwise add (the pads occupy
// non-overlapping regions, so the add is exact): a's region is padded
// with other's extent on the far side, other's region is padded with
// a's extent on the near side.
func (t *GraphTensor) ConcatAlong(axis int, other *GraphTensor) (*GraphTensor, error) {
	aDims := t.view.Shape()
	bDims := other.view.Shape()
	if len(aDims) != len(bDims) {
		return nil, fmt.Errorf("tensor: ConcatAlong rank mismatch %d vs %d", len(aDims), len(bDims))
	}
	aPadded := t.Pad(map[int][2]dim.Expr{axis: {dim.Const(0), bDims[axis]}})
	bPadded := other.Pad(map[int][2]dim.Expr{axis: {aDims[axis], dim.Const(0)}})
	return aPadded.Add(bPadded)
}

// SoftmaxAxis computes a numerically-stable softmax along axis,
// desugared entirely from primitives: subtract the axis max (broadcast
// back via Expand), exponentiate, divide by the axis sum (via Recip
// and Mul, since there is no tensor-level division primitive).
func (t *GraphTensor) SoftmaxAxis(axis int) (*GraphTensor, error) {
	dims := t.view.Shape()
	axisDim := dims[axis]

	maxV, err := t.MaxReduce(axis)
	if err != nil {
		return nil, err
	}
	maxBroadcast := maxV.Expand(axis, axisDim)
	shifted, err := t.Sub(maxBroadcast)
	if err != nil {
		return nil, err
	}
	expV, err := shifted.Exp()
	if err != nil {
		return nil, err
	}
	sumV, err := expV.SumReduce(axis)
	if err != nil {
		return nil, err
	}
	recipSum, err := sumV.Recip()
	if err != nil {
		return nil, err
	}
	recipBroadcast := recipSum.Expand(axis, axisDim)
	return expV.Mul(recipBroadcast)
}

// MatMul computes A[...,M,K] @ B[...,K,N] -> [...,M,N], desugared into
// the canonical broadcast-Mul + SumReduce idiom spec.md §4.E describes
// so the MatMul compiler pass's selector recognizes it after Compile.
func (t *GraphTensor) MatMul(other *GraphTensor) (*GraphTensor, error) {
	aDims := t.view.Shape()
	bDims := other.view.Shape()
	rank := len(aDims)
	if rank != len(bDims) || rank < 2 {
		return nil, fmt.Errorf("tensor: MatMul rank mismatch %d vs %d", rank, len(bDims))
	}
	if !aDims[rank-1].Equal(bDims[rank-2]) {
		return nil, fmt.Errorf("tensor: MatMul inner dims %s vs %s", aDims[rank-1], bDims[rank-2])
	}
	n := bDims[rank-1]

	// Expand A along a new fake N axis just before the contraction axis.
	aExp := t.Expand(rank-1, n)
	// Permute B so its contraction axis is last, then expand a fake M
	// axis at the front of its non-batch dims.
	permAxes := make([]int, rank)
	for i := 0; i < rank-2; i++ {
		permAxes[i] = i
	}
	permAxes[rank-2] = rank - 1
	permAxes[rank-1] = rank - 2
	bPerm, err := other.Permute(permAxes...)
	if err != nil {
		return nil, err
	}
	bExp := bPerm.Expand(rank-2, aDims[rank-2])

	mul, err := aExp.Mul(bExp)
	if err != nil {
		return nil, err
	}
	return mul.SumReduce(rank)
}

// reshapeOp is a near-zero-cost primitive whose shape is fixed at
// construction time (ShapeTracker.Reshape already validated
// contiguity); Forward is a plain copy since a reshape never changes
// element order.
type reshapeOp struct{ out *shape.Tracker }

func (r reshapeOp) Name() string { return "Reshape" }
func (r reshapeOp) Arity() int   { return 1 }

func (r reshapeOp) Custom(string) (any, bool) { return nil, false }

func (r reshapeOp) InferShape([]*shape.Tracker) ([]*shape.Tracker, error) {
	return []*shape.Tracker{r.out}, nil
}

func (r reshapeOp) OutputBufferSizes(dyn map[byte]int, inputs []kernel.Input) ([][]int, error) {
	axes, err := r.out.Resolve(dyn)
	if err != nil {
		return nil, err
	}
	sizes := make([]int, len(axes))
	for i, a := range axes {
		sizes[i] = a.Size
	}
	return [][]int{sizes}, nil
}

func (r reshapeOp) Forward(ctx *kernel.Context, inputs []kernel.Input, outputs []*storage.Buffer) error {
	axes, err := inputs[0].View.Resolve(ctx.Dyn)
	if err != nil {
		return err
	}
	data := inputs[0].Buf.Dense().Data().([]float32)
	outData := outputs[0].Dense().Data().([]float32)
	i := 0
	shape.Walk(axes, func(addr int, valid bool) {
		if valid {
			outData[i] = data[addr]
		}
		i++
	})
	return nil
}
