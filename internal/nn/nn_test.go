package nn

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tensorforge/tensorforge/internal/dim"
	"github.com/tensorforge/tensorforge/tensor"
)

func TestLinearForwardShape(t *testing.T) {
	g := tensor.New(nil)
	lin, err := NewLinear(g, "lin", 8, 4)
	require.NoError(t, err)

	x, err := g.NamedTensor("x", dim.Const(2), dim.Const(3), dim.Const(8))
	require.NoError(t, err)

	y, err := lin.Forward(x)
	require.NoError(t, err)

	require.Equal(t, []dim.Expr{dim.Const(2), dim.Const(3), dim.Const(4)}, y.Shape())
}

func TestRMSNormPreservesShape(t *testing.T) {
	g := tensor.New(nil)
	norm, err := NewRMSNorm(g, "norm", 16, 1e-5)
	require.NoError(t, err)

	x, err := g.NamedTensor("x", dim.Const(2), dim.Const(5), dim.Const(16))
	require.NoError(t, err)

	y, err := norm.Forward(x)
	require.NoError(t, err)
	require.Equal(t, x.Shape(), y.Shape())
}

func TestAttentionRejectsBadHeadCounts(t *testing.T) {
	g := tensor.New(nil)
	_, err := NewAttention(g, "attn", 4096, 32, 5)
	require.Error(t, err)
}

func TestAttentionForwardShape(t *testing.T) {
	g := tensor.New(nil)
	attn, err := NewAttention(g, "attn", 16, 4, 2)
	require.NoError(t, err)

	x, err := g.NamedTensor("x", dim.Const(1), dim.Const(3), dim.Const(16))
	require.NoError(t, err)

	out, cache, err := attn.Forward(x, nil, nil)
	require.NoError(t, err)
	require.Equal(t, []dim.Expr{dim.Const(1), dim.Const(3), dim.Const(16)}, out.Shape())
	require.Equal(t, dim.Const(3), cache.K.Shape()[cache.K.Rank()-2])
}

func TestAttentionForwardWithKVCache(t *testing.T) {
	g := tensor.New(nil)
	attn, err := NewAttention(g, "attn", 8, 2, 2)
	require.NoError(t, err)

	prior, err := g.NamedTensor("x0", dim.Const(1), dim.Const(2), dim.Const(8))
	require.NoError(t, err)
	_, cache, err := attn.Forward(prior, nil, nil)
	require.NoError(t, err)
	require.Equal(t, dim.Const(2), cache.K.Shape()[cache.K.Rank()-2])

	x, err := g.NamedTensor("x1", dim.Const(1), dim.Const(1), dim.Const(8))
	require.NoError(t, err)
	out, newCache, err := attn.Forward(x, nil, cache)
	require.NoError(t, err)
	require.Equal(t, []dim.Expr{dim.Const(1), dim.Const(1), dim.Const(8)}, out.Shape())
	require.Equal(t, dim.Const(3), newCache.K.Shape()[newCache.K.Rank()-2])
}

func TestAttentionForwardWithCausalMask(t *testing.T) {
	g := tensor.New(nil)
	attn, err := NewAttention(g, "attn", 8, 2, 2)
	require.NoError(t, err)

	x, err := g.NamedTensor("x", dim.Const(1), dim.Const(4), dim.Const(8))
	require.NoError(t, err)

	mask, err := g.Triu(dim.Const(4), 1)
	require.NoError(t, err)
	negInf, err := mask.MulScalar(-1e9)
	require.NoError(t, err)

	out, _, err := attn.Forward(x, negInf, nil)
	require.NoError(t, err)
	require.Equal(t, []dim.Expr{dim.Const(1), dim.Const(4), dim.Const(8)}, out.Shape())
}

func TestTransformerBlockForwardShape(t *testing.T) {
	g := tensor.New(nil)
	block, err := NewTransformerBlock(g, "block", 16, 4, 2, 32, 1e-5)
	require.NoError(t, err)

	x, err := g.NamedTensor("x", dim.Const(1), dim.Const(2), dim.Const(16))
	require.NoError(t, err)

	out, cache, err := block.ForwardCausal(x, nil, nil)
	require.NoError(t, err)
	require.Equal(t, x.Shape(), out.Shape())
	require.NotNil(t, cache)

	params := block.Parameters()
	require.Contains(t, params, "attn.qkv.weight")
	require.Contains(t, params, "ffn.down.weight")
}

func TestMLPRoundTripInit(t *testing.T) {
	g := tensor.New(nil)
	mlp, err := NewMLP(g, "mlp", 4, 8)
	require.NoError(t, err)

	data := map[string][]float32{
		"gate.weight": make([]float32, 8*4),
		"up.weight":   make([]float32, 8*4),
		"down.weight": make([]float32, 4*8),
	}
	require.NoError(t, mlp.Init(data))

	delete(data, "down.weight")
	require.Error(t, mlp.Init(data))
}
