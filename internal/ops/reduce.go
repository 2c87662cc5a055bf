package ops

import (
	"fmt"
	"math"

	"github.com/tensorforge/tensorforge/internal/dim"
	"github.com/tensorforge/tensorforge/internal/graph"
	"github.com/tensorforge/tensorforge/internal/kernel"
	"github.com/tensorforge/tensorforge/internal/shape"
	"github.com/tensorforge/tensorforge/internal/storage"
)

// reduceOp is the shared machinery behind SumReduce and MaxReduce: both
// collapse one logical axis entirely (the axis does not survive as a
// unit dim), accumulating across it with either + or max. This mirrors
// how the MatMul compiler pass recognizes a broadcast-Mul followed by a
// SumReduce over the contraction axis as a GEMM idiom.
type reduceOp struct {
	name  string
	axis  int
	isMax bool
}

// NewSumReduce builds a SumReduce primitive collapsing axis.
func NewSumReduce(axis int) graph.Op { return &reduceOp{name: "SumReduce", axis: axis} }

// NewMaxReduce builds a MaxReduce primitive collapsing axis.
func NewMaxReduce(axis int) graph.Op { return &reduceOp{name: "MaxReduce", axis: axis, isMax: true} }

func (r *reduceOp) Name() string              { return r.name }
func (r *reduceOp) Arity() int                { return 1 }
func (r *reduceOp) Custom(string) (any, bool) { return nil, false }

// Axis exposes the reduced axis so the MatMul pass can recognize a
// SumReduce over the contraction dimension without a type switch.
func (r *reduceOp) Axis() int { return r.axis }

func (r *reduceOp) InferShape(inputs []*shape.Tracker) ([]*shape.Tracker, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("%w: %s wants 1 input, got %d", ErrRankMismatch, r.name, len(inputs))
	}
	in := inputs[0].Shape()
	if r.axis < 0 || r.axis >= len(in) {
		return nil, fmt.Errorf("%w: %s axis %d out of range for rank %d", ErrShapeMismatch, r.name, r.axis, len(in))
	}
	remaining := make([]dim.Expr, 0, len(in)-1)
	for i, d := range in {
		if i == r.axis {
			continue
		}
		remaining = append(remaining, d)
	}
	return []*shape.Tracker{shape.New(remaining...)}, nil
}

func (r *reduceOp) OutputBufferSizes(dyn map[byte]int, inputs []kernel.Input) ([][]int, error) {
	axes, err := inputs[0].View.Resolve(dyn)
	if err != nil {
		return nil, err
	}
	sizes := make([]int, 0, len(axes)-1)
	for i, a := range axes {
		if i == r.axis {
			continue
		}
		sizes = append(sizes, a.Size)
	}
	return [][]int{sizes}, nil
}

func (r *reduceOp) Forward(ctx *kernel.Context, inputs []kernel.Input, outputs []*storage.Buffer) error {
	axes, err := inputs[0].View.Resolve(ctx.Dyn)
	if err != nil {
		return err
	}
	data := inputs[0].Buf.Dense().Data().([]float32)
	outData := outputs[0].Dense().Data().([]float32)

	remain := make([]int, 0, len(axes)-1)
	for i := range axes {
		if i != r.axis {
			remain = append(remain, i)
		}
	}
	outStride := make([]int, len(remain))
	acc := 1
	for j := len(remain) - 1; j >= 0; j-- {
		outStride[j] = acc
		acc *= axes[remain[j]].Size
	}

	init := float32(0)
	if r.isMax {
		init = float32(math.Inf(-1))
	}
	for i := range outData {
		outData[i] = init
	}

	sizes := make([]int, len(axes))
	for i, a := range axes {
		sizes[i] = a.Size
	}
	total := 1
	for _, s := range sizes {
		total *= s
	}
	coord := make([]int, len(axes))
	for i := 0; i < total; i++ {
		addr := 0
		valid := true
		for ax, a := range axes {
			c := coord[ax]
			switch {
			case a.Padded:
				if c < a.PadBefore || c >= a.Size-a.PadAfter {
					valid = false
					continue
				}
				addr += (c - a.PadBefore) * a.Stride
			case a.Fake:
			default:
				addr += (c + a.Offset) * a.Stride
			}
		}
		if valid {
			outIdx := 0
			for j, ax := range remain {
				outIdx += coord[ax] * outStride[j]
			}
			v := data[addr]
			if r.isMax {
				if v > outData[outIdx] {
					outData[outIdx] = v
				}
			} else {
				outData[outIdx] += v
			}
		}

		for ax := len(sizes) - 1; ax >= 0; ax-- {
			coord[ax]++
			if coord[ax] < sizes[ax] {
				break
			}
			coord[ax] = 0
		}
	}
	return nil
}
