package kernels

import "github.com/fxnlabs/compute-node/internal/gpu"

// matmul computes C = A*B for row-major A (MxK) and B (KxN) over an
// (N, M) range.
func matmul(l *gpu.Launch) error {
	a, b, c := l.Float32s(0), l.Float32s(1), l.Float32s(2)
	m, n, k := int(l.Uint32(3)), int(l.Uint32(4)), int(l.Uint32(5))
	if err := checkLen(l, 0, len(a), m*k); err != nil {
		return err
	}
	if err := checkLen(l, 1, len(b), k*n); err != nil {
		return err
	}
	if err := checkLen(l, 2, len(c), m*n); err != nil {
		return err
	}
	l.ForEach(func(w gpu.WorkItem) {
		col, row := w.Global[0], w.Global[1]
		if row >= m || col >= n {
			return
		}
		var sum float32
		for i := 0; i < k; i++ {
			sum += a[row*k+i] * b[i*n+col]
		}
		c[row*n+col] = sum
	})
	return nil
}
