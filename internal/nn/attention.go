package nn

import (
	"fmt"
	"math"

	"github.com/tensorforge/tensorforge/internal/dim"
	"github.com/tensorforge/tensorforge/tensor"
)

// Attention is grouped-query causal self-attention: a single fused QKV
// projection (the "Q/K/V projection folded into one or more" matmul
// spec.md §8's S3 scenario expects), ggml-style rotary position
// embeddings on Q/K, an incremental key/value cache, key/value head
// repetition when KVHeads < Heads, scaled dot-product attention with
// an optional additive mask, and an output projection. Grounded on
// SelfAttention in the original model.
type Attention struct {
	Hidden, Heads, KVHeads, HeadDim int
	QKV                             *Linear
	Out                             *Linear
}

// KVCache holds one layer's cached keys and values, each shaped
// [...,KVHeads,PrevSeq,HeadDim] (un-repeated: grouped-query expansion
// happens after concatenation with the current step, same as the
// original's KVCache<Batch,Seq>). A nil *KVCache means "no prior
// context" (PrevSeq=0).
type KVCache struct {
	K, V *tensor.GraphTensor
}

// prevSeqLen reports how many positions c already holds, or 0 for a
// nil cache.
func (c *KVCache) prevSeqLen() (int, error) {
	if c == nil {
		return 0, nil
	}
	shp := c.K.Shape()
	n, ok := shp[len(shp)-2].IsConst()
	if !ok {
		return 0, fmt.Errorf("nn: KVCache requires a static sequence length")
	}
	return n, nil
}

// NewAttention declares the fused QKV and output projection weights.
// hidden must be divisible by heads, and heads must be a multiple of
// kvHeads (the grouped-query ratio).
func NewAttention(g *tensor.Graph, name string, hidden, heads, kvHeads int) (*Attention, error) {
	if heads <= 0 || kvHeads <= 0 || heads%kvHeads != 0 {
		return nil, fmt.Errorf("nn: heads %d not a multiple of kv_heads %d", heads, kvHeads)
	}
	if hidden%heads != 0 {
		return nil, fmt.Errorf("nn: hidden %d not divisible by heads %d", hidden, heads)
	}
	headDim := hidden / heads
	fused := heads*headDim + 2*kvHeads*headDim
	qkv, err := NewLinear(g, name+".qkv", hidden, fused)
	if err != nil {
		return nil, err
	}
	out, err := NewLinear(g, name+".out", heads*headDim, hidden)
	if err != nil {
		return nil, err
	}
	return &Attention{Hidden: hidden, Heads: heads, KVHeads: kvHeads, HeadDim: headDim, QKV: qkv, Out: out}, nil
}

// Forward runs causal self-attention over x ([...,CurSeq,Hidden]).
// cache, if non-nil, supplies PrevSeq prior keys/values to prepend
// (the original's KVCache<Batch,PrevSeq>); rotary position embeddings
// are computed starting at PrevSeq so the current step's positions
// continue where the cache left off. mask, if non-nil, is an additive
// [CurSeq,TotSeq] bias broadcast across every batch dim and head (0
// where attention is allowed, a large negative number where it must be
// suppressed — graph.Triu plus Pad builds the 0/1 form a caller can
// scale and offset into this shape). Returns the output and the
// updated cache (contiguous, ready to feed back in as PrevSeq for the
// next step — "cache needs to be contiguous for transferring to
// another graph" per the original).
func (a *Attention) Forward(x *tensor.GraphTensor, mask *tensor.GraphTensor, cache *KVCache) (*tensor.GraphTensor, *KVCache, error) {
	shp := x.Shape()
	if len(shp) < 2 {
		return nil, nil, fmt.Errorf("nn: Attention input must be rank >= 2, got %d", len(shp))
	}
	batch := shp[:len(shp)-2]
	seq := shp[len(shp)-2]
	seqN, ok := seq.IsConst()
	if !ok {
		return nil, nil, fmt.Errorf("nn: Attention requires a static sequence length")
	}
	prevSeq, err := cache.prevSeqLen()
	if err != nil {
		return nil, nil, err
	}

	qkv, err := a.QKV.Forward(x)
	if err != nil {
		return nil, nil, err
	}
	axis := qkv.Rank() - 1
	qEnd := dim.Const(a.Heads * a.HeadDim)
	kEnd := dim.Const(a.Heads*a.HeadDim + a.KVHeads*a.HeadDim)
	vEnd := dim.Const(a.Heads*a.HeadDim + 2*a.KVHeads*a.HeadDim)

	q, err := sliceLast(qkv, axis, dim.Const(0), qEnd)
	if err != nil {
		return nil, nil, err
	}
	k, err := sliceLast(qkv, axis, qEnd, kEnd)
	if err != nil {
		return nil, nil, err
	}
	v, err := sliceLast(qkv, axis, kEnd, vEnd)
	if err != nil {
		return nil, nil, err
	}

	q, err = headSplit(q, batch, seq, a.Heads, a.HeadDim)
	if err != nil {
		return nil, nil, err
	}
	k, err = headSplit(k, batch, seq, a.KVHeads, a.HeadDim)
	if err != nil {
		return nil, nil, err
	}
	v, err = headSplit(v, batch, seq, a.KVHeads, a.HeadDim)
	if err != nil {
		return nil, nil, err
	}

	cosTab, sinTab, err := rotaryTable(x.Graph(), seqN, prevSeq, a.HeadDim)
	if err != nil {
		return nil, nil, err
	}
	q, err = applyRotary(q, cosTab, sinTab)
	if err != nil {
		return nil, nil, err
	}
	k, err = applyRotary(k, cosTab, sinTab)
	if err != nil {
		return nil, nil, err
	}

	seqAxis := k.Rank() - 2
	if cache != nil {
		k, err = cache.K.ConcatAlong(seqAxis, k)
		if err != nil {
			return nil, nil, err
		}
		v, err = cache.V.ConcatAlong(seqAxis, v)
		if err != nil {
			return nil, nil, err
		}
	}
	kCache, err := k.Contiguous()
	if err != nil {
		return nil, nil, err
	}
	vCache, err := v.Contiguous()
	if err != nil {
		return nil, nil, err
	}
	newCache := &KVCache{K: kCache, V: vCache}

	groups := a.Heads / a.KVHeads
	if groups > 1 {
		k, err = repeatHeads(kCache, groups)
		if err != nil {
			return nil, nil, err
		}
		v, err = repeatHeads(vCache, groups)
		if err != nil {
			return nil, nil, err
		}
	} else {
		k, v = kCache, vCache
	}

	kT, err := k.Permute(swapLastTwo(k.Rank())...)
	if err != nil {
		return nil, nil, err
	}
	scores, err := q.MatMul(kT)
	if err != nil {
		return nil, nil, err
	}
	scale := float32(1 / math.Sqrt(float64(a.HeadDim)))
	scaled, err := scores.MulScalar(scale)
	if err != nil {
		return nil, nil, err
	}

	if mask != nil {
		maskB := broadcastLeading(mask, scaled.Shape()[:scaled.Rank()-2])
		scaled, err = scaled.Add(maskB)
		if err != nil {
			return nil, nil, err
		}
	}

	weights, err := scaled.SoftmaxAxis(scaled.Rank() - 1)
	if err != nil {
		return nil, nil, err
	}
	ctx, err := weights.MatMul(v)
	if err != nil {
		return nil, nil, err
	}

	// [...,Heads,S,HeadDim] -> [...,S,Heads,HeadDim] -> [...,S,Heads*HeadDim]
	perm := make([]int, ctx.Rank())
	for i := range perm {
		perm[i] = i
	}
	r := ctx.Rank()
	perm[r-3], perm[r-2] = perm[r-2], perm[r-3]
	ctx, err = ctx.Permute(perm...)
	if err != nil {
		return nil, nil, err
	}
	ctx, err = ctx.Contiguous()
	if err != nil {
		return nil, nil, err
	}
	flatDims := append(append([]dim.Expr{}, batch...), seq, dim.Const(a.Heads*a.HeadDim))
	ctx, err = ctx.Reshape(flatDims...)
	if err != nil {
		return nil, nil, err
	}

	out, err := a.Out.Forward(ctx)
	if err != nil {
		return nil, nil, err
	}
	return out, newCache, nil
}

// Parameters exposes every weight leaf for checkpointing or inspection.
func (a *Attention) Parameters() map[string]*tensor.GraphTensor {
	return map[string]*tensor.GraphTensor{
		"qkv.weight": a.QKV.Weight,
		"out.weight": a.Out.Weight,
	}
}

var _ tensor.SerializeModule = (*Attention)(nil)

// sliceLast windows axis to [lo,hi) and materializes the result, since
// Reshape (used by headSplit right after) requires a contiguous view.
func sliceLast(t *tensor.GraphTensor, axis int, lo, hi dim.Expr) (*tensor.GraphTensor, error) {
	return t.Slice(map[int][2]dim.Expr{axis: {lo, hi}}).Contiguous()
}

// headSplit reinterprets a [...,seq,heads*headDim] tensor as
// [...,heads,seq,headDim], the layout every downstream matmul expects.
func headSplit(t *tensor.GraphTensor, batch []dim.Expr, seq dim.Expr, heads, headDim int) (*tensor.GraphTensor, error) {
	newDims := append(append([]dim.Expr{}, batch...), seq, dim.Const(heads), dim.Const(headDim))
	r, err := t.Reshape(newDims...)
	if err != nil {
		return nil, err
	}
	return r.Permute(swapLastTwo3(r.Rank())...)
}

// swapLastTwo swaps a tensor's final two axes, used to transpose a
// head's [S,HeadDim] slab to [HeadDim,S] for the QK^T matmul.
func swapLastTwo(rank int) []int {
	perm := make([]int, rank)
	for i := range perm {
		perm[i] = i
	}
	perm[rank-2], perm[rank-1] = perm[rank-1], perm[rank-2]
	return perm
}

// swapLastTwo3 swaps the third-from-last and second-from-last axes,
// used by headSplit to move the heads axis ahead of the sequence axis.
func swapLastTwo3(rank int) []int {
	perm := make([]int, rank)
	for i := range perm {
		perm[i] = i
	}
	perm[rank-3], perm[rank-2] = perm[rank-2], perm[rank-3]
	return perm
}

// repeatHeads materializes a [...,kvHeads,S,HeadDim] tensor into
// [...,kvHeads*groups,S,HeadDim] by broadcasting each kv head across
// groups query heads, the standard grouped-query-attention expansion.
func repeatHeads(t *tensor.GraphTensor, groups int) (*tensor.GraphTensor, error) {
	shp := t.Shape()
	rank := len(shp)
	headsAxis := rank - 3
	expanded := t.Expand(headsAxis+1, dim.Const(groups))
	contig, err := expanded.Contiguous()
	if err != nil {
		return nil, err
	}
	newDims := make([]dim.Expr, 0, rank)
	newDims = append(newDims, shp[:headsAxis]...)
	newDims = append(newDims, dim.Mul(shp[headsAxis], dim.Const(groups)))
	newDims = append(newDims, shp[headsAxis+1:]...)
	return contig.Reshape(newDims...)
}
