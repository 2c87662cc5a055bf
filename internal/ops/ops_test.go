package ops

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/tensorforge/tensorforge/internal/dim"
	"github.com/tensorforge/tensorforge/internal/kernel"
	"github.com/tensorforge/tensorforge/internal/shape"
	"github.com/tensorforge/tensorforge/internal/storage"
)

func bufOf(vals ...float32) *storage.Buffer {
	d := tensor.New(tensor.WithShape(len(vals)), tensor.WithBacking(append([]float32{}, vals...)))
	return storage.FromDense(d)
}

func outBuf(n int) *storage.Buffer {
	return storage.NewHost(tensor.Float32, n)
}

func dims(vs ...int) []dim.Expr {
	out := make([]dim.Expr, len(vs))
	for i, v := range vs {
		out[i] = dim.Const(v)
	}
	return out
}

func TestAddElementwise(t *testing.T) {
	op := NewAdd()
	view := shape.New(dims(3)...)

	a := bufOf(1, 2, 3)
	b := bufOf(10, 20, 30)
	out := outBuf(3)

	err := op.(interface {
		Forward(ctx *kernel.Context, inputs []kernel.Input, outputs []*storage.Buffer) error
	}).Forward(&kernel.Context{Dyn: map[byte]int{}}, []kernel.Input{
		{Buf: a, View: view},
		{Buf: b, View: view},
	}, []*storage.Buffer{out})
	require.NoError(t, err)
	assert.Equal(t, []float32{11, 22, 33}, out.Dense().Data().([]float32))
}

func TestMulBroadcastsOverFakeAxis(t *testing.T) {
	op := NewMul()

	plain := shape.New(dims(2, 3)...)
	row := shape.New(dims(3)...).Expand(0, dim.Const(2))

	a := bufOf(1, 2, 3, 4, 5, 6)
	b := bufOf(10, 20, 30)
	out := outBuf(6)

	fwd := op.(interface {
		Forward(ctx *kernel.Context, inputs []kernel.Input, outputs []*storage.Buffer) error
	})
	err := fwd.Forward(&kernel.Context{Dyn: map[byte]int{}}, []kernel.Input{
		{Buf: a, View: plain},
		{Buf: b, View: row},
	}, []*storage.Buffer{out})
	require.NoError(t, err)
	assert.Equal(t, []float32{10, 40, 90, 40, 100, 180}, out.Dense().Data().([]float32))
}

func TestLessThanProducesZeroOneMask(t *testing.T) {
	op := NewLessThan()
	view := shape.New(dims(3)...)
	a := bufOf(1, 5, 3)
	b := bufOf(2, 2, 3)
	out := outBuf(3)

	fwd := op.(interface {
		Forward(ctx *kernel.Context, inputs []kernel.Input, outputs []*storage.Buffer) error
	})
	err := fwd.Forward(&kernel.Context{Dyn: map[byte]int{}}, []kernel.Input{
		{Buf: a, View: view},
		{Buf: b, View: view},
	}, []*storage.Buffer{out})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0}, out.Dense().Data().([]float32))
}

func TestRecipUnary(t *testing.T) {
	op := NewRecip()
	view := shape.New(dims(2)...)
	a := bufOf(2, 4)
	out := outBuf(2)

	fwd := op.(interface {
		Forward(ctx *kernel.Context, inputs []kernel.Input, outputs []*storage.Buffer) error
	})
	err := fwd.Forward(&kernel.Context{Dyn: map[byte]int{}}, []kernel.Input{{Buf: a, View: view}}, []*storage.Buffer{out})
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.25}, out.Dense().Data().([]float32))
}

func TestSumReduceCollapsesAxis(t *testing.T) {
	op := NewSumReduce(1)
	view := shape.New(dims(2, 3)...)
	a := bufOf(1, 2, 3, 4, 5, 6)
	out := outBuf(2)

	fwd := op.(interface {
		Forward(ctx *kernel.Context, inputs []kernel.Input, outputs []*storage.Buffer) error
	})
	err := fwd.Forward(&kernel.Context{Dyn: map[byte]int{}}, []kernel.Input{{Buf: a, View: view}}, []*storage.Buffer{out})
	require.NoError(t, err)
	assert.Equal(t, []float32{6, 15}, out.Dense().Data().([]float32))

	shapes, err := op.InferShape([]*shape.Tracker{view})
	require.NoError(t, err)
	assert.Equal(t, 1, shapes[0].Rank())
}

func TestMaxReduceCollapsesAxis(t *testing.T) {
	op := NewMaxReduce(0)
	view := shape.New(dims(3, 2)...)
	a := bufOf(1, 9, 3, 2, 5, 0)
	out := outBuf(2)

	fwd := op.(interface {
		Forward(ctx *kernel.Context, inputs []kernel.Input, outputs []*storage.Buffer) error
	})
	err := fwd.Forward(&kernel.Context{Dyn: map[byte]int{}}, []kernel.Input{{Buf: a, View: view}}, []*storage.Buffer{out})
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 9}, out.Dense().Data().([]float32))
}

func TestContiguousMaterializesPermutedView(t *testing.T) {
	op := NewContiguous()
	base := shape.New(dims(2, 3)...)
	permuted, err := base.Permute([]int{1, 0})
	require.NoError(t, err)

	a := bufOf(1, 2, 3, 4, 5, 6) // row-major 2x3
	out := outBuf(6)

	fwd := op.(interface {
		Forward(ctx *kernel.Context, inputs []kernel.Input, outputs []*storage.Buffer) error
	})
	err = fwd.Forward(&kernel.Context{Dyn: map[byte]int{}}, []kernel.Input{{Buf: a, View: permuted}}, []*storage.Buffer{out})
	require.NoError(t, err)
	// transposed 3x2: [1,4, 2,5, 3,6]
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, out.Dense().Data().([]float32))

	outShapes, err := op.InferShape([]*shape.Tracker{permuted})
	require.NoError(t, err)
	assert.True(t, outShapes[0].IsContiguous())
}

func TestFunctionOpRunsUserClosure(t *testing.T) {
	doubleEveryElement := func(dyn map[byte]int, inputs [][]float32, inShapes [][]int, outData []float32) {
		for i, v := range inputs[0] {
			outData[i] = v * 2
		}
	}
	op := NewFunction("double", 1, func(inputs []*shape.Tracker) (*shape.Tracker, error) {
		return shape.New(inputs[0].Shape()...), nil
	}, doubleEveryElement)

	view := shape.New(dims(3)...)
	a := bufOf(1, 2, 3)
	out := outBuf(3)

	fwd := op.(interface {
		Forward(ctx *kernel.Context, inputs []kernel.Input, outputs []*storage.Buffer) error
	})
	err := fwd.Forward(&kernel.Context{Dyn: map[byte]int{}}, []kernel.Input{{Buf: a, View: view}}, []*storage.Buffer{out})
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 4, 6}, out.Dense().Data().([]float32))
}

func TestBinaryShapeMismatchRejected(t *testing.T) {
	op := NewAdd()
	a := shape.New(dims(2, 3)...)
	b := shape.New(dims(2, 4)...)
	_, err := op.InferShape([]*shape.Tracker{a, b})
	require.ErrorIs(t, err, ErrShapeMismatch)
}
