//go:build !darwin || !cgo

package metal

import "github.com/tensorforge/tensorforge/internal/kernel"

// DispatchMatMul always declines off-darwin; backend.MatMulKernel
// falls back to its host loop.
func (q *Queue) DispatchMatMul(cb kernel.CommandBuffer, name string, a, b, out []float32, batches, m, n, k int) error {
	return kernel.ErrDispatchUnavailable
}
