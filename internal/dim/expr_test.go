package dim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstantFold(t *testing.T) {
	e := Add(Const(2), Const(3))
	v, ok := e.IsConst()
	require.True(t, ok)
	assert.Equal(t, 5, v)
}

func TestSymbolSubstituteAndResolve(t *testing.T) {
	e := Add(Sym('A'), Const(1))

	_, err := e.Resolve(map[byte]int{})
	require.ErrorIs(t, err, ErrSymbolUnbound)

	v, err := e.Resolve(map[byte]int{'A': 7})
	require.NoError(t, err)
	assert.Equal(t, 8, v)
}

func TestCommutativeCanonicalEquality(t *testing.T) {
	lhs := Add(Sym('A'), Const(4))
	rhs := Add(Const(4), Sym('A'))
	assert.True(t, lhs.Equal(rhs))
}

func TestMulByZeroCollapses(t *testing.T) {
	e := Mul(Sym('A'), Const(0))
	v, ok := e.IsConst()
	require.True(t, ok)
	assert.Equal(t, 0, v)
}

func TestMulByOneDropsIdentity(t *testing.T) {
	e := Mul(Sym('A'), Const(1))
	assert.True(t, e.Equal(Sym('A')))
}

func TestArangePlusOffsetScenario(t *testing.T) {
	// Covers the symbol-binding half of scenario S6 (arange<Seq>() +
	// prev_seq_offset): with Seq=8 and prev_seq=5 bound, each symbol
	// resolves to its value. The arange and the addition are not built.
	seq := Sym('S')
	prev := Sym('P')
	dynMap := map[byte]int{'S': 8, 'P': 5}

	seqVal, err := seq.Resolve(dynMap)
	require.NoError(t, err)
	assert.Equal(t, 8, seqVal)

	offset, err := prev.Resolve(dynMap)
	require.NoError(t, err)
	assert.Equal(t, 5, offset)
}

func TestSymbolsReportsFreeNames(t *testing.T) {
	e := Add(Mul(Sym('A'), Sym('B')), Const(3))
	assert.Equal(t, []byte{'A', 'B'}, e.Symbols())
}
