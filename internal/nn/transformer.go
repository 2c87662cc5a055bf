package nn

import "github.com/tensorforge/tensorforge/tensor"

// TransformerBlock is one LLaMA-style decoder layer: pre-norm causal
// attention with a residual add, then a pre-norm SwiGLU MLP with a
// residual add.
type TransformerBlock struct {
	AttnNorm *RMSNorm
	Attn     *Attention
	FFNNorm  *RMSNorm
	FFN      *MLP
}

// NewTransformerBlock declares every child module's weights under
// name-prefixed leaf names.
func NewTransformerBlock(g *tensor.Graph, name string, hidden, heads, kvHeads, inner int, eps float32) (*TransformerBlock, error) {
	attnNorm, err := NewRMSNorm(g, name+".attn_norm", hidden, eps)
	if err != nil {
		return nil, err
	}
	attn, err := NewAttention(g, name+".attn", hidden, heads, kvHeads)
	if err != nil {
		return nil, err
	}
	ffnNorm, err := NewRMSNorm(g, name+".ffn_norm", hidden, eps)
	if err != nil {
		return nil, err
	}
	ffn, err := NewMLP(g, name+".ffn", hidden, inner)
	if err != nil {
		return nil, err
	}
	return &TransformerBlock{AttnNorm: attnNorm, Attn: attn, FFNNorm: ffnNorm, FFN: ffn}, nil
}

// ForwardCausal runs the block over x with an optional additive causal
// mask and an optional incoming KV cache, returning the block's output
// and the updated cache. It is not named Forward/does not satisfy
// tensor.Module since attention needs the extra mask/cache arguments
// the single-input Module signature has no room for; callers needing a
// bare tensor.Module should wrap this in a closure.
func (b *TransformerBlock) ForwardCausal(x, mask *tensor.GraphTensor, cache *KVCache) (*tensor.GraphTensor, *KVCache, error) {
	normed, err := b.AttnNorm.Forward(x)
	if err != nil {
		return nil, nil, err
	}
	attnOut, newCache, err := b.Attn.Forward(normed, mask, cache)
	if err != nil {
		return nil, nil, err
	}
	resid1, err := x.Add(attnOut)
	if err != nil {
		return nil, nil, err
	}

	normed2, err := b.FFNNorm.Forward(resid1)
	if err != nil {
		return nil, nil, err
	}
	ffnOut, err := b.FFN.Forward(normed2)
	if err != nil {
		return nil, nil, err
	}
	out, err := resid1.Add(ffnOut)
	if err != nil {
		return nil, nil, err
	}
	return out, newCache, nil
}

// Parameters exposes every child module's weights under name-prefixed
// keys for checkpointing or inspection.
func (b *TransformerBlock) Parameters() map[string]*tensor.GraphTensor {
	params := map[string]*tensor.GraphTensor{}
	for k, v := range b.AttnNorm.Parameters() {
		params["attn_norm."+k] = v
	}
	for k, v := range b.Attn.Parameters() {
		params["attn."+k] = v
	}
	for k, v := range b.FFNNorm.Parameters() {
		params["ffn_norm."+k] = v
	}
	for k, v := range b.FFN.Parameters() {
		params["ffn."+k] = v
	}
	return params
}

var _ tensor.SerializeModule = (*TransformerBlock)(nil)
