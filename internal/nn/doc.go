// Package nn supplies the minimal LLaMA-style model-definition helpers
// spec.md explicitly scopes out of the core (§1: "the high-level
// convenience operator layer") but still names as the thing the core
// exists to serve: Linear, RMSNorm, grouped-query Attention, a SwiGLU
// MLP, and a TransformerBlock composing them. Every type here is
// purely a consumer of the tensor.Graph/tensor.GraphTensor builder
// API — none of it executes anything itself, and none of it knows
// about compiler passes, kernels, or the executor.
package nn
