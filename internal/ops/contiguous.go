package ops

import (
	"fmt"

	"github.com/tensorforge/tensorforge/internal/graph"
	"github.com/tensorforge/tensorforge/internal/kernel"
	"github.com/tensorforge/tensorforge/internal/shape"
	"github.com/tensorforge/tensorforge/internal/storage"
)

// contiguousOp is the only primitive that materializes a view: it walks
// its (possibly permuted/sliced/padded/broadcast) input and writes a
// dense row-major copy. The MatMul compiler pass inserts this wherever
// a GEMM/GEMV kernel needs contiguous operands that the graph as built
// does not already guarantee.
type contiguousOp struct{}

// NewContiguous builds the Contiguous primitive.
func NewContiguous() graph.Op { return &contiguousOp{} }

func (contiguousOp) Name() string              { return "Contiguous" }
func (contiguousOp) Arity() int                { return 1 }
func (contiguousOp) Custom(string) (any, bool) { return nil, false }

func (contiguousOp) InferShape(inputs []*shape.Tracker) ([]*shape.Tracker, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("%w: Contiguous wants 1 input, got %d", ErrRankMismatch, len(inputs))
	}
	return []*shape.Tracker{inputs[0].Contiguous()}, nil
}

func (contiguousOp) OutputBufferSizes(dyn map[byte]int, inputs []kernel.Input) ([][]int, error) {
	axes, err := inputs[0].View.Resolve(dyn)
	if err != nil {
		return nil, err
	}
	sizes := make([]int, len(axes))
	for i, a := range axes {
		sizes[i] = a.Size
	}
	return [][]int{sizes}, nil
}

func (contiguousOp) Forward(ctx *kernel.Context, inputs []kernel.Input, outputs []*storage.Buffer) error {
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
		} else {
			outData[i] = 0
		}
		i++
	})
	return nil
}
