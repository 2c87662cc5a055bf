package ops

import (
	"fmt"

	"github.com/tensorforge/tensorforge/internal/kernel"
	"github.com/tensorforge/tensorforge/internal/shape"
	"github.com/tensorforge/tensorforge/internal/storage"
)

// LeafOp is a zero-arity node holding a user-populated buffer: the
// `graph.tensor<Shape>()` / `graph.named_tensor` entry points, and the
// `set(data)` tensor-handle call, both bottom out here. Its Forward
// simply copies whatever Set last staged; an un-set leaf fails at
// execution time the same way an unbound symbol does, per the
// fail-fast error-handling policy.
type LeafOp struct {
	label string
	shape *shape.Tracker
	buf   *storage.Buffer
}

// NewLeaf builds an empty (unset) leaf node of the given declared
// shape. Call Set before the graph executes.
func NewLeaf(label string, declared *shape.Tracker) *LeafOp {
	return &LeafOp{label: label, shape: declared}
}

// Set stages buf as this leaf's data, read by the next Forward call.
func (l *LeafOp) Set(buf *storage.Buffer) { l.buf = buf }

func (l *LeafOp) Name() string { return "Leaf:" + l.label }
func (l *LeafOp) Arity() int   { return 0 }

func (l *LeafOp) Custom(string) (any, bool) { return nil, false }

func (l *LeafOp) InferShape(inputs []*shape.Tracker) ([]*shape.Tracker, error) {
	if len(inputs) != 0 {
		return nil, fmt.Errorf("%w: Leaf %s takes no inputs", ErrRankMismatch, l.label)
	}
	return []*shape.Tracker{l.shape}, nil
}

func (l *LeafOp) OutputBufferSizes(dyn map[byte]int, inputs []kernel.Input) ([][]int, error) {
	axes, err := l.shape.Resolve(dyn)
	if err != nil {
		return nil, err
	}
	sizes := make([]int, len(axes))
	for i, a := range axes {
		sizes[i] = a.Size
	}
	return [][]int{sizes}, nil
}

func (l *LeafOp) Forward(ctx *kernel.Context, inputs []kernel.Input, outputs []*storage.Buffer) error {
	if l.buf == nil {
		return fmt.Errorf("ops: leaf %q has no data set", l.label)
	}
	src := l.buf.Dense().Data().([]float32)
	dst := outputs[0].Dense().Data().([]float32)
	if len(src) != len(dst) {
		return fmt.Errorf("%w: leaf %q set with %d elements, declared shape has %d", ErrShapeMismatch, l.label, len(src), len(dst))
	}
	copy(dst, src)
	return nil
}
