//go:build darwin && cgo

// Darwin-only dispatch of the GEMV/batched-GEMV/GEMM/batched-GEMM
// kernel family to Metal Performance Shaders. Generalizes the
// teacher's single 2D float32 MatMul offload (mps/matmul_darwin.go)
// with a batch dimension. All four idioms the MatMul compiler pass
// recognizes (spec.md §4.I) reach the same MPS matrix multiplication;
// the kernel name is passed along but does not select a different call.

package metal

/*
#cgo darwin CFLAGS: -fobjc-arc
#cgo darwin LDFLAGS: -framework Metal -framework MetalPerformanceShaders -framework Foundation
#include <stdlib.h>
#include "tensorforge_metal_ctx.h"
#include "tensorforge_matmul.h"
*/
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/tensorforge/tensorforge/internal/kernel"
)

// DispatchMatMul offloads a GEMV/GEMM variant for batches stacked
// [m,k]x[k,n] row-major float32 matrices. name (see
// backend.MatMulKernel.Name) is handed to tfMetalMatMul, which does not
// consult it: GEMV and GEMM variants run the same MPS multiplication,
// with no per-variant tile size.
func (q *Queue) DispatchMatMul(cb kernel.CommandBuffer, name string, a, b, out []float32, batches, m, n, k int) error {
	if len(a) == 0 || len(b) == 0 || len(out) == 0 {
		return kernel.ErrDispatchUnavailable
	}
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))

	status := C.tfMetalMatMul(
		(C.TFMetalContext)(q.ctx),
		cname,
		(*C.float)(&a[0]),
		(*C.float)(&b[0]),
		(*C.float)(&out[0]),
		C.int(batches),
		C.int(m),
		C.int(n),
		C.int(k),
	)
	if status != 0 {
		return fmt.Errorf("%w: mps status %d", kernel.ErrDispatchUnavailable, int(status))
	}
	return nil
}
