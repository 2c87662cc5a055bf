// Package metal implements the Metal-backed kernel.CommandQueue: the
// device side of the MatMul compiler pass's GEMV/GEMM kernel family.
// It follows the teacher's engine.go/engine_darwin.go/engine_other.go
// split exactly, generalized from a single 2D MatMul call to a batched
// one that serves GEMV, batched GEMV, GEMM, and batched GEMM alike.
package metal

import (
	"unsafe"

	"github.com/tensorforge/tensorforge/internal/kernel"
)

// Queue is the Metal command queue. Its Begin/DispatchMatMul pair
// implements kernel.CommandQueue and kernel.MatMulDispatcher; on
// non-Metal platforms (no darwin+cgo build tag) it still exists so
// callers can construct one unconditionally, but DispatchMatMul always
// declines with kernel.ErrDispatchUnavailable so backend.MatMulKernel
// falls back to its host loop.
type Queue struct {
	ctx unsafe.Pointer
}

// NewQueue constructs a Metal command queue, performing any one-time
// device/queue setup eagerly rather than lazily inside the first
// dispatch.
func NewQueue() *Queue {
	q := &Queue{}
	initMetalQueue(q)
	return q
}

// CommandBuffer wraps a single batch of encoded Metal work.
type CommandBuffer struct {
	q *Queue
}

// Begin opens a new command buffer for a batch of dispatches.
func (q *Queue) Begin() kernel.CommandBuffer { return &CommandBuffer{q: q} }

// Commit and WaitUntilCompleted are no-ops on platforms where dispatch
// itself is synchronous (the darwin+cgo path issues and waits inside
// DispatchMatMul, matching the teacher's synchronous MPS call).
func (cb *CommandBuffer) Commit()            {}
func (cb *CommandBuffer) WaitUntilCompleted() {}

var _ kernel.CommandQueue = (*Queue)(nil)
var _ kernel.MatMulDispatcher = (*Queue)(nil)
