package executor

import "errors"

// ErrExecutionInProgress enforces the at-most-one-execution-in-flight
// invariant: a second concurrent Execute call on the same Executor is
// a programming error, not a retryable condition.
var ErrExecutionInProgress = errors.New("executor: execution already in progress")

// ErrKernelCompilation is returned when a node's Forward call fails
// irrecoverably (the device-driver-surfaced failure kind from
// spec.md §7); the pipeline aborts rather than retrying.
var ErrKernelCompilation = errors.New("executor: kernel forward failed")
