//go:build darwin && cgo

package metal

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func hostMatMul(a, b []float32, batches, m, n, k int) []float32 {
	out := make([]float32, batches*m*n)
	for bi := 0; bi < batches; bi++ {
		ao, bo, oo := bi*m*k, bi*k*n, bi*m*n
		for i := 0; i < m; i++ {
			for j := 0; j < n; j++ {
				var sum float32
				for p := 0; p < k; p++ {
					sum += a[ao+i*k+p] * b[bo+p*n+j]
				}
				out[oo+i*n+j] = sum
			}
		}
	}
	return out
}

func randomMatrix(r *rand.Rand, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(r.NormFloat64())
	}
	return out
}

func approxEqual(a, b []float32, tol float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if float32(math.Abs(float64(a[i]-b[i]))) > tol {
			return false
		}
	}
	return true
}

func TestQueueDispatchMatMulMatchesHostLoop(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	m, n, k := 4, 5, 3
	a := randomMatrix(r, m*k)
	b := randomMatrix(r, k*n)
	want := hostMatMul(a, b, 1, m, n, k)

	q := NewQueue()
	cb := q.Begin()
	out := make([]float32, m*n)
	err := q.DispatchMatMul(cb, "gemm_nn", a, b, out, 1, m, n, k)
	cb.Commit()
	cb.WaitUntilCompleted()

	if err != nil {
		t.Skipf("Metal device unavailable in this environment: %v", err)
	}
	require.True(t, approxEqual(out, want, 1e-3))
}
