package backend

import (
	"fmt"

	"github.com/tensorforge/tensorforge/internal/dim"
	"github.com/tensorforge/tensorforge/internal/graph"
	"github.com/tensorforge/tensorforge/internal/kernel"
	"github.com/tensorforge/tensorforge/internal/shape"
	"github.com/tensorforge/tensorforge/internal/storage"
	"github.com/tensorforge/tensorforge/internal/tflog"
)

// MatMulKernel is the device-specific kernel family the MatMul compiler
// pass substitutes in place of a broadcast-Mul + SumReduce idiom: GEMV,
// batched GEMV, GEMM, and batched GEMM are all the same shape of kernel
// (inputs [...,M,K] and [...,K,N], output [...,M,N]) differing only in
// whether a batch axis is present and which variant name is handed to
// the device backend as a label.
type MatMulKernel struct {
	// Batched is true for the 4D (leading batch axis) idioms.
	Batched bool
	// GEMV is true when M is known at compile time to be 1. It only
	// changes Name(); the Metal backend runs the same MPS matrix
	// multiplication for GEMV and GEMM, with no per-variant tile choice.
	GEMV bool
	// AContiguous / BContiguous record whether the rewrite pass found
	// each operand already contiguous after undoing its broadcast axis,
	// used to pick the "n"/"t" orientation variant pair per spec.md
	// §4.I.e. Whether a Contiguous op is spliced in ahead of this kernel
	// is decided separately by the pass, from the operand's slice/pad
	// state.
	AContiguous, BContiguous bool
}

// Name reports the kernel variant, used as the pattern-iteration
// tie-break label and passed to the Metal backend, which does not
// consult it: every variant issues the same untransposed MPS GEMM.
func (k *MatMulKernel) Name() string {
	base := "gemm"
	if k.GEMV {
		base = "gemv"
	}
	if k.Batched {
		base = "batched_" + base
	}
	orient := "nn"
	if !k.AContiguous {
		orient = "t" + orient[1:]
	}
	if !k.BContiguous {
		orient = orient[:1] + "t"
	}
	return base + "_" + orient
}

func (k *MatMulKernel) Arity() int { return 2 }

func (k *MatMulKernel) Custom(key string) (any, bool) {
	if key == "metal.kernel_name" {
		return k.Name(), true
	}
	return nil, false
}

// InferShape computes [...,M,N] from A:[...,M,K] and B:[...,K,N], or
// from a batched A and a batch-shared B:[K,N]. Both inputs must already
// be in this un-broadcast, contraction-axis-inner orientation: the
// compiler pass only ever constructs this kernel after undoing the
// Mul's fake axes and restoring B's [K,N] layout.
func (k *MatMulKernel) InferShape(inputs []*shape.Tracker) ([]*shape.Tracker, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("backend: %s wants 2 inputs, got %d", k.Name(), len(inputs))
	}
	a, b := inputs[0].Shape(), inputs[1].Shape()
	if len(a) < 2 || len(b) < 2 || (len(b) != len(a) && len(b) != 2) {
		return nil, fmt.Errorf("backend: %s rank mismatch %d vs %d", k.Name(), len(a), len(b))
	}
	n, nb := len(a), len(b)
	if !a[n-1].Equal(b[nb-2]) {
		return nil, fmt.Errorf("backend: %s inner dims %s vs %s", k.Name(), a[n-1], b[nb-2])
	}
	out := make([]dim.Expr, 0, n-1)
	out = append(out, a[:n-2]...)
	out = append(out, a[n-2], b[nb-1])
	return []*shape.Tracker{shape.New(out...)}, nil
}

func (k *MatMulKernel) OutputBufferSizes(dyn map[byte]int, inputs []kernel.Input) ([][]int, error) {
	out, err := k.InferShape([]*shape.Tracker{inputs[0].View, inputs[1].View})
	if err != nil {
		return nil, err
	}
	axes, err := out[0].Resolve(dyn)
	if err != nil {
		return nil, err
	}
	sizes := make([]int, len(axes))
	for i, a := range axes {
		sizes[i] = a.Size
	}
	return [][]int{sizes}, nil
}

// dims splits a resolved shape [...,X,Y] into its leading batch product
// and its trailing two extents.
func dims(axes []shape.ResolvedAxis) (batch, x, y int) {
	batch = 1
	for i := 0; i < len(axes)-2; i++ {
		batch *= axes[i].Size
	}
	return batch, axes[len(axes)-2].Size, axes[len(axes)-1].Size
}

// materialize walks a resolved view into a dense row-major float32
// buffer, the same general-case technique the teacher's
// denseToRowMajor2DF32 uses for non-contiguous 2D tensors, generalized
// to arbitrary rank here since a batch axis may be present.
func materialize(raw []float32, axes []shape.ResolvedAxis) []float32 {
	total := 1
	for _, a := range axes {
		total *= a.Size
	}
	out := make([]float32, total)
	i := 0
	shape.Walk(axes, func(addr int, valid bool) {
		if valid {
			out[i] = raw[addr]
		}
		i++
	})
	return out
}

func (k *MatMulKernel) Forward(ctx *kernel.Context, inputs []kernel.Input, outputs []*storage.Buffer) error {
	aAxes, err := inputs[0].View.Resolve(ctx.Dyn)
	if err != nil {
		return err
	}
	bAxes, err := inputs[1].View.Resolve(ctx.Dyn)
	if err != nil {
		return err
	}
	aBatch, m, k2 := dims(aAxes)
	bBatch, k3, n := dims(bAxes)
	if k2 != k3 {
		return fmt.Errorf("backend: %s inner dim mismatch %d vs %d", k.Name(), k2, k3)
	}
	batches := aBatch
	if bBatch > batches {
		batches = bBatch
	}

	aData := materialize(inputs[0].Buf.Dense().Data().([]float32), aAxes)
	bData := materialize(inputs[1].Buf.Dense().Data().([]float32), bAxes)
	outData := outputs[0].Dense().Data().([]float32)

	// B is always rank-2 after the rewrite pass collapses its broadcast
	// axes (weights don't vary per batch element), so replicate it up
	// front when A is batched: both the device dispatcher and the host
	// loop below then see matching batch counts without special-casing
	// the broadcast at every inner-loop index.
	if batches > 1 && bBatch == 1 {
		bData = broadcastBatches(bData, batches, k2*n)
	}
	if batches > 1 && aBatch == 1 {
		aData = broadcastBatches(aData, batches, m*k2)
	}

	if ctx.Queue != nil {
		if dispatcher, ok := ctx.Queue.(kernel.MatMulDispatcher); ok {
			cb := ctx.Queue.Begin()
			err := dispatcher.DispatchMatMul(cb, k.Name(), aData, bData, outData, batches, m, n, k2)
			if err == nil {
				cb.Commit()
				cb.WaitUntilCompleted()
				return nil
			}
			tflog.Log.Warn().Err(err).Str("kernel", k.Name()).Msg("device dispatch declined, falling back to host loop")
		}
	}

	hostMatMul(aData, bData, outData, batches, m, n, k2)
	return nil
}

// broadcastBatches repeats a single-batch buffer of the given stride
// count times, the host-side counterpart of a fake leading axis.
func broadcastBatches(data []float32, count, stride int) []float32 {
	out := make([]float32, count*stride)
	for i := 0; i < count; i++ {
		copy(out[i*stride:(i+1)*stride], data[:stride])
	}
	return out
}

// hostMatMul is the correctness fallback every MatMulKernel variant
// shares: a plain batched row-major GEMM loop. GEMV is simply the m==1
// case of the same loop, so no separate implementation is needed here
// (the Metal backend likewise runs GEMV through its one GEMM call).
func hostMatMul(a, b, out []float32, batches, m, n, k int) {
	for bi := 0; bi < batches; bi++ {
		aOff := bi * m * k
		bOff := bi * k * n
		oOff := bi * m * n
		for i := 0; i < m; i++ {
			for j := 0; j < n; j++ {
				var sum float32
				for p := 0; p < k; p++ {
					sum += a[aOff+i*k+p] * b[bOff+p*n+j]
				}
				out[oOff+i*n+j] = sum
			}
		}
	}
}

// NewMatMulKernel builds the kernel the MatMul compiler pass substitutes
// for a recognized broadcast-Mul + SumReduce idiom. batched selects the
// 4D (leading batch axis) idiom family; gemv is chosen by the caller
// when M resolves to the compile-time constant 1.
func NewMatMulKernel(batched, gemv, aContig, bContig bool) graph.Op {
	return &MatMulKernel{Batched: batched, GEMV: gemv, AContiguous: aContig, BContiguous: bContig}
}
