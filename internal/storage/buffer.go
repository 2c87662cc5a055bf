// Package storage wraps gorgonia.org/tensor.Dense as the opaque typed
// buffer handle backing both host and device tensors. The graph layers
// treat a Buffer as an addressable, typed slab of memory; the kernels
// (internal/ops, internal/backend), the executor and the tensor package
// reach into its Dense representation directly.
package storage

import (
	"fmt"

	"gorgonia.org/tensor"
)

// Device identifies where a Buffer's bytes physically live.
type Device int

const (
	// DeviceHost is regular Go/CPU memory.
	DeviceHost Device = iota
	// DeviceMetal is Metal device memory (darwin+cgo backend only).
	DeviceMetal
)

func (d Device) String() string {
	if d == DeviceMetal {
		return "metal"
	}
	return "host"
}

// Buffer is a typed, shaped slab of memory owning a *tensor.Dense
// directly. Buffers start as DeviceHost; MarkDevice can retag one, but
// no backend calls it, so the Metal path also leaves buffers DeviceHost.
type Buffer struct {
	dense  *tensor.Dense
	device Device
}

// NewHost allocates a zeroed host Buffer with the given dtype and shape.
func NewHost(dt tensor.Dtype, shapeDims ...int) *Buffer {
	return &Buffer{
		dense:  tensor.New(tensor.Of(dt), tensor.WithShape(shapeDims...)),
		device: DeviceHost,
	}
}

// FromDense wraps an existing *tensor.Dense as a host Buffer, e.g. for
// user-provided constants (Function op payloads, `set` calls).
func FromDense(d *tensor.Dense) *Buffer {
	return &Buffer{dense: d, device: DeviceHost}
}

// Dense returns the underlying dense tensor.
func (b *Buffer) Dense() *tensor.Dense { return b.dense }

// Device reports where the buffer's bytes currently live.
func (b *Buffer) Device() Device { return b.device }

// MarkDevice updates the device tag after a kernel has staged the
// buffer's contents onto a device; it does not move any data itself.
func (b *Buffer) MarkDevice(d Device) { b.device = d }

// Dtype returns the buffer's element type.
func (b *Buffer) Dtype() tensor.Dtype { return b.dense.Dtype() }

// Shape returns the buffer's concrete (fully resolved) shape.
func (b *Buffer) Shape() []int { return b.dense.Shape().Clone() }

// Reshape reinterprets the buffer in place; the caller must already
// have established (via ShapeTracker.Reshape) that this is legal.
func (b *Buffer) Reshape(dims ...int) error {
	return b.dense.Reshape(dims...)
}

// String implements fmt.Stringer for debug logging.
func (b *Buffer) String() string {
	return fmt.Sprintf("Buffer{dtype=%v shape=%v device=%v}", b.Dtype(), b.Shape(), b.device)
}
