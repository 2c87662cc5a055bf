package ops

import (
	"fmt"

	"github.com/tensorforge/tensorforge/internal/graph"
	"github.com/tensorforge/tensorforge/internal/kernel"
	"github.com/tensorforge/tensorforge/internal/shape"
	"github.com/tensorforge/tensorforge/internal/storage"
)

// FunctionForward is a user-supplied host closure: given the resolved
// dyn-map, each input's raw float32 buffer, and the shapes those
// buffers were resolved against, it fills outData in place. It runs on
// the host regardless of backend, so it is the escape hatch for
// operations that have no primitive or compiled-kernel form (custom
// losses, debug probes, data-dependent control).
type FunctionForward func(dyn map[byte]int, inputs [][]float32, inShapes [][]int, outData []float32)

// functionOp wraps a FunctionForward as a graph.Op/kernel.Kernel. Its
// shape inference is supplied directly rather than derived, since an
// arbitrary closure has no structural shape relationship to its inputs.
type functionOp struct {
	label    string
	arity    int
	outShape func(inputs []*shape.Tracker) (*shape.Tracker, error)
	fwd      FunctionForward
}

// NewFunction builds a Function primitive named label, wrapping fn. outShape
// computes this call's single output ShapeTracker from its inputs'.
func NewFunction(label string, arity int, outShape func(inputs []*shape.Tracker) (*shape.Tracker, error), fn FunctionForward) graph.Op {
	return &functionOp{label: label, arity: arity, outShape: outShape, fwd: fn}
}

func (f *functionOp) Name() string              { return "Function:" + f.label }
func (f *functionOp) Arity() int                { return f.arity }
func (f *functionOp) Custom(string) (any, bool) { return nil, false }

func (f *functionOp) InferShape(inputs []*shape.Tracker) ([]*shape.Tracker, error) {
	if len(inputs) != f.arity {
		return nil, fmt.Errorf("%w: Function %s wants %d inputs, got %d", ErrRankMismatch, f.label, f.arity, len(inputs))
	}
	out, err := f.outShape(inputs)
	if err != nil {
		return nil, err
	}
	return []*shape.Tracker{out}, nil
}

func (f *functionOp) OutputBufferSizes(dyn map[byte]int, inputs []kernel.Input) ([][]int, error) {
	views := make([]*shape.Tracker, len(inputs))
	for i, in := range inputs {
		views[i] = in.View
	}
	out, err := f.outShape(views)
	if err != nil {
		return nil, err
	}
	axes, err := out.Resolve(dyn)
	if err != nil {
		return nil, err
	}
	sizes := make([]int, len(axes))
	for i, a := range axes {
		sizes[i] = a.Size
	}
	return [][]int{sizes}, nil
}

func (f *functionOp) Forward(ctx *kernel.Context, inputs []kernel.Input, outputs []*storage.Buffer) error {
	inData := make([][]float32, len(inputs))
	inShapes := make([][]int, len(inputs))
	for i, in := range inputs {
		axes, err := in.View.Resolve(ctx.Dyn)
		if err != nil {
			return err
		}
		sizes := make([]int, len(axes))
		total := 1
		for j, a := range axes {
			sizes[j] = a.Size
			total *= a.Size
		}
		materialized := make([]float32, total)
		raw := in.Buf.Dense().Data().([]float32)
		k := 0
		shape.Walk(axes, func(addr int, valid bool) {
			if valid {
				materialized[k] = raw[addr]
			}
			k++
		})
		inData[i] = materialized
		inShapes[i] = sizes
	}
	outData := outputs[0].Dense().Data().([]float32)
	f.fwd(ctx.Dyn, inData, inShapes, outData)
	return nil
}
