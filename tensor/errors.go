// Package tensor is the public builder surface (component E,
// GraphTensor, per spec.md §4.E): a phantom-typed handle carrying only
// a node id, its ShapeTracker, and a back-reference to the owning
// Graph. Every method here desugars to one or more primitive-op
// appendings on the underlying internal/graph.Graph; nothing in this
// package executes eagerly.
//
// Shapes are validated dynamically at build time rather than through
// the source's phantom compile-time types, per spec.md §9's
// "phantom-typed shapes" design note: a reimplementation need not
// reproduce the type-level encoding, only its build-time-validation
// behavior.
package tensor

import "errors"

// ErrHandleStale names the case of a handle whose node id no longer
// resolves to a live node in its Graph (the node was removed by a
// rewrite pass without an id_remap redirect reaching it — a compiler
// bug, never a normal outcome of Compile). No GraphTensor method checks
// for this case or returns this error.
var ErrHandleStale = errors.New("tensor: handle no longer resolves to a live node")

// ErrNotRetrieved is returned by Result when called on a handle that
// was never marked via Retrieve before Compile/Execute.
var ErrNotRetrieved = errors.New("tensor: handle was not marked for retrieval")

// ErrNotExecuted is returned by Result when Execute has not yet run.
var ErrNotExecuted = errors.New("tensor: graph has not been executed yet")
