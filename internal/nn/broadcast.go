package nn

import (
	"github.com/tensorforge/tensorforge/internal/dim"
	"github.com/tensorforge/tensorforge/tensor"
)

// broadcastLeading inserts one fake axis per entry of lead, outermost
// first, so a tensor with no batch dims (a weight matrix, a norm
// scale, a causal mask) can stand in as an operand against a batched
// one. GraphTensor.MatMul requires equal operand rank and adds no batch
// axes itself, so callers line up an operand with fewer batch dims than
// its partner with this helper first.
func broadcastLeading(t *tensor.GraphTensor, lead []dim.Expr) *tensor.GraphTensor {
	for i := len(lead) - 1; i >= 0; i-- {
		t = t.Expand(0, lead[i])
	}
	return t
}
