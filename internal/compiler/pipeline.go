// Package compiler implements the rewrite pipeline that lowers
// primitive-op idioms in the Graph into fused device kernels. The
// MatMul pass (matmul.go) is canonical; Pipeline composes it with
// whatever other passes a caller registers, mirroring
// spec.md §6's GenericCompiler<DeviceCompiler> composition.
package compiler

import "github.com/tensorforge/tensorforge/internal/graph"

// Pipeline is an ordered list of rewrite passes applied by Compile.
type Pipeline []graph.Pass

// Default returns the canonical compiler pipeline: the MatMul pass
// alone, per spec.md §9's resolution of the two-sibling-implementation
// open question in favor of the later, template-kernel-driven design.
func Default() Pipeline {
	return Pipeline{MatMulPass()}
}

// Compile applies every pass in the pipeline to g in order.
func Compile(g *graph.Graph, pipeline Pipeline) error {
	return g.Compile(pipeline...)
}
