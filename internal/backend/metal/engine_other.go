//go:build !darwin || !cgo

// Non-darwin (or non-cgo) stub: Queue has nothing to dispatch to, so
// DispatchMatMul (see kernels_other.go) always declines.

package metal

func initMetalQueue(q *Queue) {
	_ = q
}
