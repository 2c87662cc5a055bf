//go:build darwin && cgo

// Darwin-specific initialization for Queue. Creates the underlying
// Metal device and command queue eagerly so the first DispatchMatMul
// call doesn't pay setup cost.

package metal

/*
#cgo darwin CFLAGS: -fobjc-arc
#cgo darwin LDFLAGS: -framework Metal -framework MetalPerformanceShaders -framework Foundation
#include "tensorforge_metal_ctx.h"
*/
import "C"

import "unsafe"

func initMetalQueue(q *Queue) {
	q.ctx = unsafe.Pointer(C.TFMetalCreateContext())
}
