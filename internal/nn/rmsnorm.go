package nn

import (
	"fmt"

	"github.com/tensorforge/tensorforge/internal/dim"
	"github.com/tensorforge/tensorforge/tensor"
)

// RMSNorm is the root-mean-square layer norm LLaMA-style models use in
// place of LayerNorm: no mean-centering, a single learned per-channel
// scale, normalized over the trailing axis.
type RMSNorm struct {
	Dim    int
	Eps    float32
	Weight *tensor.GraphTensor
}

// NewRMSNorm declares a [d] scale leaf named name+".weight".
func NewRMSNorm(g *tensor.Graph, name string, d int, eps float32) (*RMSNorm, error) {
	w, err := g.NamedTensor(name+".weight", dim.Const(d))
	if err != nil {
		return nil, err
	}
	return &RMSNorm{Dim: d, Eps: eps, Weight: w}, nil
}

// Forward computes x * rsqrt(mean(x^2, axis=-1) + eps) * weight,
// entirely via primitives: there is no dedicated normalization op, so
// this is desugared the same way SoftmaxAxis is.
func (r *RMSNorm) Forward(x *tensor.GraphTensor) (*tensor.GraphTensor, error) {
	axis := x.Rank() - 1
	shp := x.Shape()

	sq, err := x.Mul(x)
	if err != nil {
		return nil, err
	}
	ss, err := sq.SumReduce(axis)
	if err != nil {
		return nil, err
	}
	mean, err := ss.MulScalar(1 / float32(r.Dim))
	if err != nil {
		return nil, err
	}
	meanEps, err := mean.AddScalar(r.Eps)
	if err != nil {
		return nil, err
	}
	rms, err := meanEps.Sqrt()
	if err != nil {
		return nil, err
	}
	invRms, err := rms.Recip()
	if err != nil {
		return nil, err
	}
	invRmsB := invRms.Expand(axis, shp[axis])
	normalized, err := x.Mul(invRmsB)
	if err != nil {
		return nil, err
	}
	wB := broadcastLeading(r.Weight, shp[:axis])
	return normalized.Mul(wB)
}

// Init populates the scale leaf from data["weight"].
func (r *RMSNorm) Init(data map[string][]float32) error {
	v, ok := data["weight"]
	if !ok {
		return fmt.Errorf("nn: RMSNorm missing %q", "weight")
	}
	return r.Weight.Set(v)
}

// Parameters exposes the scale leaf for checkpointing or inspection.
func (r *RMSNorm) Parameters() map[string]*tensor.GraphTensor {
	return map[string]*tensor.GraphTensor{"weight": r.Weight}
}

var (
	_ tensor.Module          = (*RMSNorm)(nil)
	_ tensor.InitModule      = (*RMSNorm)(nil)
	_ tensor.SerializeModule = (*RMSNorm)(nil)
)
