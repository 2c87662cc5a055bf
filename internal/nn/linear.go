package nn

import (
	"fmt"

	"github.com/tensorforge/tensorforge/internal/dim"
	"github.com/tensorforge/tensorforge/tensor"
)

// Linear is a bias-free affine projection, y = x @ Wᵀ, with the weight
// stored [out,in] the way a checkpoint would hand it over.
type Linear struct {
	In, Out int
	Weight  *tensor.GraphTensor
}

// NewLinear declares a [out,in] weight leaf named name+".weight".
func NewLinear(g *tensor.Graph, name string, in, out int) (*Linear, error) {
	w, err := g.NamedTensor(name+".weight", dim.Const(out), dim.Const(in))
	if err != nil {
		return nil, err
	}
	return &Linear{In: in, Out: out, Weight: w}, nil
}

// Forward computes x @ Wᵀ: x is [...,in], the result is [...,out]. The
// weight is broadcast across whatever leading batch dims x carries,
// since a single weight matrix serves every batch element.
func (l *Linear) Forward(x *tensor.GraphTensor) (*tensor.GraphTensor, error) {
	wT, err := l.Weight.Permute(1, 0)
	if err != nil {
		return nil, err
	}
	shp := x.Shape()
	if len(shp) < 2 {
		return nil, fmt.Errorf("nn: Linear input must be rank >= 2, got %d", len(shp))
	}
	wT = broadcastLeading(wT, shp[:len(shp)-2])
	return x.MatMul(wT)
}

// Init populates the weight leaf from data["weight"].
func (l *Linear) Init(data map[string][]float32) error {
	v, ok := data["weight"]
	if !ok {
		return fmt.Errorf("nn: Linear missing %q", "weight")
	}
	return l.Weight.Set(v)
}

// Parameters exposes the weight leaf for checkpointing or inspection.
func (l *Linear) Parameters() map[string]*tensor.GraphTensor {
	return map[string]*tensor.GraphTensor{"weight": l.Weight}
}

var (
	_ tensor.Module          = (*Linear)(nil)
	_ tensor.InitModule      = (*Linear)(nil)
	_ tensor.SerializeModule = (*Linear)(nil)
)
