// Package kernel declares the device-agnostic forward contract that
// both plain CPU primitive ops and specialized GEMV/GEMM device kernels
// implement. It exists as its own package (rather than living on
// internal/graph or internal/ops) purely to break what would otherwise
// be an import cycle between ops, backend, and executor: each of those
// depends on this contract, not on each other.
package kernel

import (
	"github.com/tensorforge/tensorforge/internal/shape"
	"github.com/tensorforge/tensorforge/internal/storage"
)

// Input pairs a concrete buffer with the ShapeTracker describing how
// this particular edge reads it — permutation, fake/broadcast axes,
// slice mask, and padding all travel with the edge, not the buffer.
type Input struct {
	Buf  *storage.Buffer
	View *shape.Tracker
}

// Context carries everything a Forward call needs beyond its buffers:
// the resolved symbol table and, for device kernels, a handle to the
// shared command queue/buffer for this batch of dispatches. CPU
// kernels ignore Queue.
type Context struct {
	Dyn   map[byte]int
	Queue CommandQueue
}

// CommandQueue is the minimal surface the executor needs from a device
// command queue: open a command buffer for a batch of dispatches. The
// CPU backend's queue implementation returns a no-op buffer.
type CommandQueue interface {
	Begin() CommandBuffer
}

// CommandBuffer is a single batch of device dispatches. The executor
// does not open, commit or wait on command buffers: a kernel that uses
// the device (backend.MatMulKernel) begins one, commits it and waits on
// it within its own Forward call.
type CommandBuffer interface {
	Commit()
	WaitUntilCompleted()
}

// MatMulDispatcher is an optional capability of a CommandQueue: a
// device backend that can execute a batched GEMM/GEMV entirely
// on-device implements it. The GEMV/GEMM kernels in internal/backend
// probe Context.Queue for this interface via a type assertion and
// fall back to a host loop when it is absent or returns
// ErrDispatchUnavailable, mirroring the teacher's MPS-then-StdEng
// fallback chain.
type MatMulDispatcher interface {
	// DispatchMatMul multiplies batches stacked [m,k] matrices a by
	// [k,n] matrices b (row-major, contiguous) into out, encoding the
	// work into cb under the named kernel variant.
	DispatchMatMul(cb CommandBuffer, name string, a, b, out []float32, batches, m, n, k int) error
}

// ErrDispatchUnavailable is returned by a MatMulDispatcher when no
// device is available to service the request; callers fall back to a
// host loop rather than treating it as fatal.
var ErrDispatchUnavailable = dispatchUnavailable{}

type dispatchUnavailable struct{}

func (dispatchUnavailable) Error() string { return "kernel: device dispatch unavailable" }

// Kernel is the forward contract every executable node satisfies,
// whether it is a plain primitive (internal/ops) or a specialized
// device kernel substituted in by the MatMul compiler pass
// (internal/backend/...).
type Kernel interface {
	// OutputBufferSizes declares this kernel's output shapes purely
	// from its (already-resolved, concrete) input shapes, so the
	// executor can pre-allocate without invoking Forward.
	OutputBufferSizes(dyn map[byte]int, inputs []Input) ([][]int, error)

	// Forward runs the kernel's work against inputs, writing into
	// outputs, and must not retain references to inputs past return.
	// It returns once the outputs are written: device kernels wait for
	// their dispatched work to complete before returning.
	Forward(ctx *Context, inputs []Input, outputs []*storage.Buffer) error
}
