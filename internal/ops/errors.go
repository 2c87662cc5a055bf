package ops

import (
	"errors"
	"fmt"
)

// ErrShapeMismatch is returned at graph-build time (via InferShape) when
// an operator's input shapes do not satisfy its arity/broadcast
// contract. Per the error-handling design this is fatal and
// non-recoverable — callers do not retry.
var ErrShapeMismatch = errors.New("ops: shape mismatch")

// ErrRankMismatch is a narrower ErrShapeMismatch for operators whose
// inputs must share rank exactly (all elementwise ops).
var ErrRankMismatch = fmt.Errorf("%w: rank mismatch", ErrShapeMismatch)
