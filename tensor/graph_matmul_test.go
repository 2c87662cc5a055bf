package tensor

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tensorforge/tensorforge/internal/compiler"
	"github.com/tensorforge/tensorforge/internal/dim"
)

// equalApprox mirrors the teacher's own matmul-test tolerance check
// (mps/matmul_test.go's equalApprox), used here to compare the
// compiled-and-executed graph path against a plain reference matmul.
func equalApprox(t *testing.T, got, want []float32, tol float32) {
	t.Helper()
	require.Equal(t, len(want), len(got))
	for i := range want {
		diff := float32(math.Abs(float64(got[i] - want[i])))
		if diff > tol {
			t.Fatalf("index %d: got %v want %v (diff %v > tol %v)", i, got[i], want[i], diff, tol)
		}
	}
}

func randomData(r *rand.Rand, n int) []float32 {
	data := make([]float32, n)
	for i := range data {
		data[i] = float32(r.NormFloat64())
	}
	return data
}

// referenceMatMul computes a plain row-major [m,k]x[k,n] -> [m,n]
// product, the reference every compiled-path assertion below checks
// against — spec.md §8's testable property #1 ("round-trip
// equivalence... executing the primitive graph vs the compiled graph
// yields numerically equivalent outputs").
func referenceMatMul(a []float32, m, k int, b []float32, n int) []float32 {
	out := make([]float32, m*n)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			var sum float32
			for p := 0; p < k; p++ {
				sum += a[i*k+p] * b[p*n+j]
			}
			out[i*n+j] = sum
		}
	}
	return out
}

// TestMatMulS1GEMVRoundTrip is spec.md §8's S1 (test_matrix_vector):
// A∈[1,53], B∈[256,53], computing A·Bᵀ should compile to a gemv_
// kernel (internal/compiler/matmul_test.go already asserts the kernel
// name) and execute to the same numbers a plain reference matmul
// produces.
func TestMatMulS1GEMVRoundTrip(t *testing.T) {
	const (
		m = 1
		k = 53
		n = 256
	)
	r := rand.New(rand.NewSource(1))
	aData := randomData(r, m*k)
	bData := randomData(r, n*k)

	g := New(nil)
	a, err := g.NamedTensor("A", dim.Const(m), dim.Const(k))
	require.NoError(t, err)
	b, err := g.NamedTensor("B", dim.Const(n), dim.Const(k))
	require.NoError(t, err)
	require.NoError(t, a.Set(aData))
	require.NoError(t, b.Set(bData))

	bT, err := b.Permute(1, 0)
	require.NoError(t, err)
	out, err := a.MatMul(bT)
	require.NoError(t, err)
	out.Retrieve()

	require.NoError(t, g.Compile(compiler.Default(), out))
	require.NoError(t, g.Execute())

	got, shape, err := out.Result()
	require.NoError(t, err)
	require.Equal(t, []int{m, n}, shape)

	// Bᵀ is [k,n] row-major: Bᵀ[p][j] = B[j][p] = bData[j*k+p].
	bT2D := make([]float32, k*n)
	for j := 0; j < n; j++ {
		for p := 0; p < k; p++ {
			bT2D[p*n+j] = bData[j*k+p]
		}
	}
	want := referenceMatMul(aData, m, k, bT2D, n)
	equalApprox(t, got, want, 1e-3)
}

// TestMatMulS2BatchedGEMVRoundTrip is spec.md §8's S2: A∈[1,1,256],
// B∈[256,256] with no batch dim of its own (broadcast across A's
// leading dim), compiling to a batched-GEMV path and executing to the
// same numbers a plain reference matmul produces.
func TestMatMulS2BatchedGEMVRoundTrip(t *testing.T) {
	const (
		m = 1
		k = 256
		n = 256
	)
	r := rand.New(rand.NewSource(2))
	aData := randomData(r, m*k)
	bData := randomData(r, k*n)

	g := New(nil)
	a, err := g.NamedTensor("A", dim.Const(1), dim.Const(m), dim.Const(k))
	require.NoError(t, err)
	b, err := g.NamedTensor("B", dim.Const(k), dim.Const(n))
	require.NoError(t, err)
	require.NoError(t, a.Set(aData))
	require.NoError(t, b.Set(bData))

	bExp := b.Expand(0, dim.Const(1))
	out, err := a.MatMul(bExp)
	require.NoError(t, err)
	out.Retrieve()

	require.NoError(t, g.Compile(compiler.Default(), out))
	require.NoError(t, g.Execute())

	got, shape, err := out.Result()
	require.NoError(t, err)
	require.Equal(t, []int{1, m, n}, shape)

	want := referenceMatMul(aData, m, k, bData, n)
	equalApprox(t, got, want, 1e-3)
}
