package nn

import (
	"fmt"

	"github.com/tensorforge/tensorforge/tensor"
)

// MLP is a SwiGLU-gated feed-forward block: down(silu(gate(x)) * up(x)),
// the LLaMA-family replacement for a plain two-layer ReLU MLP.
type MLP struct {
	Hidden, Inner  int
	Gate, Up, Down *Linear
}

// NewMLP declares the gate/up/down projection weights.
func NewMLP(g *tensor.Graph, name string, hidden, inner int) (*MLP, error) {
	gate, err := NewLinear(g, name+".gate", hidden, inner)
	if err != nil {
		return nil, err
	}
	up, err := NewLinear(g, name+".up", hidden, inner)
	if err != nil {
		return nil, err
	}
	down, err := NewLinear(g, name+".down", inner, hidden)
	if err != nil {
		return nil, err
	}
	return &MLP{Hidden: hidden, Inner: inner, Gate: gate, Up: up, Down: down}, nil
}

// Forward computes down(silu(gate(x)) * up(x)).
func (m *MLP) Forward(x *tensor.GraphTensor) (*tensor.GraphTensor, error) {
	gated, err := m.Gate.Forward(x)
	if err != nil {
		return nil, err
	}
	upped, err := m.Up.Forward(x)
	if err != nil {
		return nil, err
	}
	act, err := silu(gated)
	if err != nil {
		return nil, err
	}
	merged, err := act.Mul(upped)
	if err != nil {
		return nil, err
	}
	return m.Down.Forward(merged)
}

// silu computes x * sigmoid(x) = x / (1+exp(-x)) from primitives: the
// op set has no dedicated activation, same as SoftmaxAxis's approach.
func silu(x *tensor.GraphTensor) (*tensor.GraphTensor, error) {
	neg, err := x.MulScalar(-1)
	if err != nil {
		return nil, err
	}
	expNeg, err := neg.Exp()
	if err != nil {
		return nil, err
	}
	denom, err := expNeg.AddScalar(1)
	if err != nil {
		return nil, err
	}
	sig, err := denom.Recip()
	if err != nil {
		return nil, err
	}
	return x.Mul(sig)
}

// Init populates the gate/up/down weight leaves.
func (m *MLP) Init(data map[string][]float32) error {
	for _, p := range []struct {
		key string
		l   *Linear
	}{{"gate.weight", m.Gate}, {"up.weight", m.Up}, {"down.weight", m.Down}} {
		v, ok := data[p.key]
		if !ok {
			return fmt.Errorf("nn: MLP missing %q", p.key)
		}
		if err := p.l.Weight.Set(v); err != nil {
			return err
		}
	}
	return nil
}

// Parameters exposes every weight leaf for checkpointing or inspection.
func (m *MLP) Parameters() map[string]*tensor.GraphTensor {
	return map[string]*tensor.GraphTensor{
		"gate.weight": m.Gate.Weight,
		"up.weight":   m.Up.Weight,
		"down.weight": m.Down.Weight,
	}
}

var (
	_ tensor.Module          = (*MLP)(nil)
	_ tensor.InitModule      = (*MLP)(nil)
	_ tensor.SerializeModule = (*MLP)(nil)
)
