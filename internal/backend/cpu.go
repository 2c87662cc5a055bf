// Package backend implements the device kernel family substituted into
// the graph by the MatMul compiler pass: GEMV, batched GEMV, GEMM, and
// batched GEMM. Each kernel's Forward always has a correct host-loop
// path; when the executor's CommandQueue additionally implements
// kernel.MatMulDispatcher (the Metal queue in internal/backend/metal
// does), the kernel dispatches to the device instead and only falls
// back to the host loop if the device declines the work.
package backend

import (
	"github.com/tensorforge/tensorforge/internal/kernel"
)

// HostQueue is the CPU CommandQueue: every dispatch is a synchronous
// host-loop call, so its command buffer has nothing to commit or wait
// on. Used by the executor whenever no device queue was configured.
type HostQueue struct{}

// Begin returns a no-op command buffer.
func (HostQueue) Begin() kernel.CommandBuffer { return hostCommandBuffer{} }

type hostCommandBuffer struct{}

func (hostCommandBuffer) Commit()              {}
func (hostCommandBuffer) WaitUntilCompleted()   {}
