package ops

import (
	"fmt"
	"math"

	"github.com/tensorforge/tensorforge/internal/graph"
	"github.com/tensorforge/tensorforge/internal/kernel"
	"github.com/tensorforge/tensorforge/internal/shape"
	"github.com/tensorforge/tensorforge/internal/storage"
)

// binaryElemwise is the shared shape/kernel machinery for the
// elementwise-pairwise primitives (Mul, Add, Mod, LessThan). Each
// differs only in its scalar combining function, supplied as f.
type binaryElemwise struct {
	name string
	f    func(a, b float32) float32
}

func (b *binaryElemwise) Name() string { return b.name }
func (b *binaryElemwise) Arity() int   { return 2 }

func (b *binaryElemwise) Custom(string) (any, bool) { return nil, false }

func (b *binaryElemwise) InferShape(inputs []*shape.Tracker) ([]*shape.Tracker, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("%w: %s wants 2 inputs, got %d", ErrRankMismatch, b.name, len(inputs))
	}
	lhs, rhs := inputs[0].Shape(), inputs[1].Shape()
	if len(lhs) != len(rhs) {
		return nil, fmt.Errorf("%w: %s rank %d vs %d", ErrRankMismatch, b.name, len(lhs), len(rhs))
	}
	for i := range lhs {
		if !lhs[i].Equal(rhs[i]) {
			return nil, fmt.Errorf("%w: %s axis %d: %s vs %s", ErrShapeMismatch, b.name, i, lhs[i], rhs[i])
		}
	}
	return []*shape.Tracker{shape.New(lhs...)}, nil
}

func (b *binaryElemwise) OutputBufferSizes(dyn map[byte]int, inputs []kernel.Input) ([][]int, error) {
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

func (b *binaryElemwise) Forward(ctx *kernel.Context, inputs []kernel.Input, outputs []*storage.Buffer) error {
	aAxes, err := inputs[0].View.Resolve(ctx.Dyn)
	if err != nil {
		return err
	}
	bAxes, err := inputs[1].View.Resolve(ctx.Dyn)
	if err != nil {
		return err
	}
	aData := inputs[0].Buf.Dense().Data().([]float32)
	bData := inputs[1].Buf.Dense().Data().([]float32)
	outData := outputs[0].Dense().Data().([]float32)

	i := 0
	shape.WalkMulti([][]shape.ResolvedAxis{aAxes, bAxes}, func(addrs []int, valids []bool) {
		var av, bv float32
		if valids[0] {
			av = aData[addrs[0]]
		}
		if valids[1] {
			bv = bData[addrs[1]]
		}
		outData[i] = b.f(av, bv)
		i++
	})
	return nil
}

// NewMul builds the elementwise multiply primitive.
func NewMul() graph.Op { return &binaryElemwise{name: "Mul", f: func(a, b float32) float32 { return a * b }} }

// NewAdd builds the elementwise add primitive.
func NewAdd() graph.Op { return &binaryElemwise{name: "Add", f: func(a, b float32) float32 { return a + b }} }

// NewMod builds the elementwise floating-point modulo primitive.
func NewMod() graph.Op {
	return &binaryElemwise{name: "Mod", f: func(a, b float32) float32 { return float32(math.Mod(float64(a), float64(b))) }}
}

// NewLessThan builds the elementwise comparison primitive, producing
// 1.0 where a < b and 0.0 otherwise (there is no separate bool dtype).
func NewLessThan() graph.Op {
	return &binaryElemwise{name: "LessThan", f: func(a, b float32) float32 {
		if a < b {
			return 1
		}
		return 0
	}}
}
