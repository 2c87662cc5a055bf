package ops

import (
	"fmt"
	"math"

	"github.com/tensorforge/tensorforge/internal/graph"
	"github.com/tensorforge/tensorforge/internal/kernel"
	"github.com/tensorforge/tensorforge/internal/shape"
	"github.com/tensorforge/tensorforge/internal/storage"
)

// unaryElemwise is the shared shape/kernel machinery for the
// single-operand primitives (Recip, Exp, Log, Sin, Cos, Sqrt).
type unaryElemwise struct {
	name string
	f    func(a float32) float32
}

func (u *unaryElemwise) Name() string              { return u.name }
func (u *unaryElemwise) Arity() int                { return 1 }
func (u *unaryElemwise) Custom(string) (any, bool) { return nil, false }

func (u *unaryElemwise) InferShape(inputs []*shape.Tracker) ([]*shape.Tracker, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("%w: %s wants 1 input, got %d", ErrRankMismatch, u.name, len(inputs))
	}
	return []*shape.Tracker{shape.New(inputs[0].Shape()...)}, nil
}

func (u *unaryElemwise) OutputBufferSizes(dyn map[byte]int, inputs []kernel.Input) ([][]int, error) {
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

func (u *unaryElemwise) Forward(ctx *kernel.Context, inputs []kernel.Input, outputs []*storage.Buffer) error {
	axes, err := inputs[0].View.Resolve(ctx.Dyn)
	if err != nil {
		return err
	}
	data := inputs[0].Buf.Dense().Data().([]float32)
	outData := outputs[0].Dense().Data().([]float32)

	i := 0
	shape.Walk(axes, func(addr int, valid bool) {
		var v float32
		if valid {
			v = data[addr]
		}
		outData[i] = u.f(v)
		i++
	})
	return nil
}

// NewRecip builds the elementwise reciprocal primitive.
func NewRecip() graph.Op {
	return &unaryElemwise{name: "Recip", f: func(a float32) float32 { return 1 / a }}
}

// NewExp builds the elementwise natural-exponential primitive.
func NewExp() graph.Op {
	return &unaryElemwise{name: "Exp", f: func(a float32) float32 { return float32(math.Exp(float64(a))) }}
}

// NewLog builds the elementwise natural-log primitive.
func NewLog() graph.Op {
	return &unaryElemwise{name: "Log", f: func(a float32) float32 { return float32(math.Log(float64(a))) }}
}

// NewSin builds the elementwise sine primitive.
func NewSin() graph.Op {
	return &unaryElemwise{name: "Sin", f: func(a float32) float32 { return float32(math.Sin(float64(a))) }}
}

// NewSqrt builds the elementwise square-root primitive.
func NewSqrt() graph.Op {
	return &unaryElemwise{name: "Sqrt", f: func(a float32) float32 { return float32(math.Sqrt(float64(a))) }}
}

// NewCos builds the elementwise cosine primitive.
func NewCos() graph.Op {
	return &unaryElemwise{name: "Cos", f: func(a float32) float32 { return float32(math.Cos(float64(a))) }}
}
