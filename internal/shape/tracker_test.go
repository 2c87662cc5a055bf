package shape

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorforge/tensorforge/internal/dim"
)

func dims(vs ...int) []dim.Expr {
	out := make([]dim.Expr, len(vs))
	for i, v := range vs {
		out[i] = dim.Const(v)
	}
	return out
}

func TestNewIsContiguous(t *testing.T) {
	tr := New(dims(2, 3, 4)...)
	assert.True(t, tr.IsContiguous())
	assert.False(t, tr.IsSliced())
	assert.False(t, tr.IsPadded())
}

func TestPermuteBreaksContiguity(t *testing.T) {
	tr := New(dims(2, 3)...)
	p, err := tr.Permute([]int{1, 0})
	require.NoError(t, err)
	assert.False(t, p.IsContiguous())
	assert.Equal(t, []int{3, 2}, exprInts(t, p.Shape()))
}

func TestPermuteInvalidRejected(t *testing.T) {
	tr := New(dims(2, 3)...)
	_, err := tr.Permute([]int{0, 0})
	require.ErrorIs(t, err, ErrBadPermutation)
}

func TestExpandThenRemoveDimRoundtrips(t *testing.T) {
	tr := New(dims(2, 3)...)
	expanded := tr.Expand(1, dim.Const(5))
	assert.Equal(t, []int{2, 5, 3}, exprInts(t, expanded.Shape()))
	assert.Equal(t, []bool{false, true, false}, expanded.Fake())

	back, err := expanded.RemoveDim(1)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, exprInts(t, back.Shape()))
}

func TestRemoveDimRejectsNonUnitNonFake(t *testing.T) {
	tr := New(dims(2, 3)...)
	_, err := tr.RemoveDim(1)
	require.ErrorIs(t, err, ErrNotRemovable)
}

func TestRemoveDimAcceptsUnitAxis(t *testing.T) {
	tr := New(dims(1, 3)...)
	out, err := tr.RemoveDim(0)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, exprInts(t, out.Shape()))
}

func TestSliceMarksSlicedNotContiguous(t *testing.T) {
	tr := New(dims(10)...)
	sliced := tr.Slice(map[int][2]dim.Expr{0: {dim.Const(2), dim.Const(5)}})
	assert.True(t, sliced.IsSliced())
	assert.False(t, sliced.IsContiguous())
	lo, hi, ok := sliced.Mask(0)
	require.True(t, ok)
	assert.True(t, lo.Equal(dim.Const(2)))
	assert.True(t, hi.Equal(dim.Const(5)))
}

func TestPadMarksPaddedNotContiguous(t *testing.T) {
	tr := New(dims(10)...)
	padded := tr.Pad(map[int][2]dim.Expr{0: {dim.Const(1), dim.Const(1)}})
	assert.True(t, padded.IsPadded())
	assert.False(t, padded.IsContiguous())
}

func TestReshapeRequiresContiguous(t *testing.T) {
	tr := New(dims(2, 3)...)
	permuted, err := tr.Permute([]int{1, 0})
	require.NoError(t, err)

	_, err = permuted.Reshape(dims(6))
	require.ErrorIs(t, err, ErrNotContiguous)

	reshaped, err := tr.Reshape(dims(6))
	require.NoError(t, err)
	assert.Equal(t, []int{6}, exprInts(t, reshaped.Shape()))
}

func TestContiguousDropsMaskPadAndFake(t *testing.T) {
	tr := New(dims(4)...)
	expanded := tr.Expand(0, dim.Const(3))
	sliced := expanded.Slice(map[int][2]dim.Expr{1: {dim.Const(0), dim.Const(2)}})

	c := sliced.Contiguous()
	assert.True(t, c.IsContiguous())
	assert.Equal(t, sliced.Shape()[0].String(), c.Shape()[0].String())
}

func TestStridesFollowPermutation(t *testing.T) {
	tr := New(dims(2, 3, 4)...)
	strides := tr.Strides()
	assert.Equal(t, []int{12, 4, 1}, exprInts(t, strides))

	p, err := tr.Permute([]int{2, 0, 1})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 12, 4}, exprInts(t, p.Strides()))
}

func TestResolveAndWalkContiguous(t *testing.T) {
	tr := New(dims(2, 3)...)
	axes, err := tr.Resolve(nil)
	require.NoError(t, err)

	var addrs []int
	Walk(axes, func(addr int, valid bool) {
		require.True(t, valid)
		addrs = append(addrs, addr)
	})
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, addrs)
}

func TestResolveAndWalkFakeAxisRepeats(t *testing.T) {
	tr := New(dims(3)...).Expand(0, dim.Const(2))
	axes, err := tr.Resolve(nil)
	require.NoError(t, err)

	var addrs []int
	Walk(axes, func(addr int, valid bool) {
		require.True(t, valid)
		addrs = append(addrs, addr)
	})
	// fake axis of size 2 repeats the same 3-element read twice.
	assert.Equal(t, []int{0, 1, 2, 0, 1, 2}, addrs)
}

func TestResolveAndWalkSliceOffsets(t *testing.T) {
	tr := New(dims(10)...)
	sliced := tr.Slice(map[int][2]dim.Expr{0: {dim.Const(3), dim.Const(6)}})
	axes, err := sliced.Resolve(nil)
	require.NoError(t, err)

	var addrs []int
	Walk(axes, func(addr int, valid bool) {
		require.True(t, valid)
		addrs = append(addrs, addr)
	})
	assert.Equal(t, []int{3, 4, 5}, addrs)
}

func TestResolveAndWalkPadMarksBorderInvalid(t *testing.T) {
	tr := New(dims(3)...)
	padded := tr.Pad(map[int][2]dim.Expr{0: {dim.Const(1), dim.Const(1)}})
	axes, err := padded.Resolve(nil)
	require.NoError(t, err)

	var valids []bool
	var addrs []int
	Walk(axes, func(addr int, valid bool) {
		valids = append(valids, valid)
		addrs = append(addrs, addr)
	})
	assert.Equal(t, []bool{false, true, true, true, false}, valids)
	assert.Equal(t, []int{0, 1, 2}, addrs[1:4])
}

func TestResolveRequiresBoundSymbols(t *testing.T) {
	tr := New(dim.Sym('A'))
	_, err := tr.Resolve(nil)
	require.ErrorIs(t, err, dim.ErrSymbolUnbound)

	axes, err := tr.Resolve(map[byte]int{'A': 5})
	require.NoError(t, err)
	assert.Equal(t, 5, axes[0].Size)
}

func TestWalkMultiZipsBroadcastOperand(t *testing.T) {
	plain := New(dims(2, 3)...)
	broadcastSrc := New(dims(3)...).Expand(0, dim.Const(2))

	plainAxes, err := plain.Resolve(nil)
	require.NoError(t, err)
	bAxes, err := broadcastSrc.Resolve(nil)
	require.NoError(t, err)

	var plainAddrs, bAddrs []int
	WalkMulti([][]ResolvedAxis{plainAxes, bAxes}, func(addrs []int, valids []bool) {
		plainAddrs = append(plainAddrs, addrs[0])
		bAddrs = append(bAddrs, addrs[1])
	})

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, plainAddrs)
	assert.Equal(t, []int{0, 1, 2, 0, 1, 2}, bAddrs)
}

func exprInts(t *testing.T, es []dim.Expr) []int {
	t.Helper()
	out := make([]int, len(es))
	for i, e := range es {
		v, ok := e.IsConst()
		require.True(t, ok, "expected constant expr, got %s", e.String())
		out[i] = v
	}
	return out
}
