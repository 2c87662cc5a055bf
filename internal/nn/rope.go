package nn

import (
	"fmt"
	"math"

	"github.com/tensorforge/tensorforge/internal/dim"
	"github.com/tensorforge/tensorforge/tensor"
)

// ropeBase is the frequency base ggml's rotary embedding uses, per
// apply_rotary_embeddings_ggml in the original model.
const ropeBase = 500000.0

// rotaryTable builds the [seq,headDim/2] cos/sin angle tables for
// applying rotary position embeddings to seq positions starting at
// prevSeq, the token count already resident in the KV cache. Position
// and frequency are both static given the graph's shapes, so the table
// is a host-computed Constant rather than built from Arange — only the
// cos/sin themselves run as graph ops.
func rotaryTable(g *tensor.Graph, seq, prevSeq, headDim int) (cos, sin *tensor.GraphTensor, err error) {
	if headDim%2 != 0 {
		return nil, nil, fmt.Errorf("nn: rotary embeddings require an even head dim, got %d", headDim)
	}
	half := headDim / 2
	angles := make([]float32, seq*half)
	for s := 0; s < seq; s++ {
		pos := float64(prevSeq + s)
		for j := 0; j < half; j++ {
			freq := math.Pow(ropeBase, -float64(2*j)/float64(headDim))
			angles[s*half+j] = float32(pos * freq)
		}
	}
	table, err := g.Constant([]dim.Expr{dim.Const(seq), dim.Const(half)}, angles)
	if err != nil {
		return nil, nil, err
	}
	cos, err = table.Cos()
	if err != nil {
		return nil, nil, err
	}
	sin, err = table.Sin()
	if err != nil {
		return nil, nil, err
	}
	return cos, sin, nil
}

// applyRotary rotates x ([...,heads,seq,headDim]) by the angle table
// (cos, sin, each [seq,headDim/2]), grounded directly on
// apply_rotary_embeddings_ggml: split the head dim into even/odd pairs,
// rotate each pair by its position's angle, and recombine.
//
//	x0' = x0*cos - x1*sin
//	x1' = x0*sin + x1*cos
func applyRotary(x *tensor.GraphTensor, cos, sin *tensor.GraphTensor) (*tensor.GraphTensor, error) {
	shp := x.Shape()
	rank := len(shp)
	if rank < 3 {
		return nil, fmt.Errorf("nn: applyRotary wants rank >= 3 ([...,heads,seq,headDim]), got %d", rank)
	}
	headDimN, ok := shp[rank-1].IsConst()
	if !ok || headDimN%2 != 0 {
		return nil, fmt.Errorf("nn: applyRotary requires a static even head dim")
	}
	half := headDimN / 2

	splitDims := append(append([]dim.Expr{}, shp[:rank-1]...), dim.Const(half), dim.Const(2))
	split, err := x.Reshape(splitDims...)
	if err != nil {
		return nil, err
	}
	pairAxis := len(splitDims) - 1

	x0, err := sliceLast(split, pairAxis, dim.Const(0), dim.Const(1))
	if err != nil {
		return nil, err
	}
	x1, err := sliceLast(split, pairAxis, dim.Const(1), dim.Const(2))
	if err != nil {
		return nil, err
	}

	lead := shp[:rank-2]
	cosB := broadcastLeading(cos.Expand(2, dim.Const(1)), lead)
	sinB := broadcastLeading(sin.Expand(2, dim.Const(1)), lead)

	x0cos, err := x0.Mul(cosB)
	if err != nil {
		return nil, err
	}
	x1sin, err := x1.Mul(sinB)
	if err != nil {
		return nil, err
	}
	x0out, err := x0cos.Sub(x1sin)
	if err != nil {
		return nil, err
	}
	x0sin, err := x0.Mul(sinB)
	if err != nil {
		return nil, err
	}
	x1cos, err := x1.Mul(cosB)
	if err != nil {
		return nil, err
	}
	x1out, err := x0sin.Add(x1cos)
	if err != nil {
		return nil, err
	}

	rotated, err := x0out.ConcatAlong(pairAxis, x1out)
	if err != nil {
		return nil, err
	}
	return rotated.Reshape(shp...)
}
