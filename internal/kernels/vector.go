package kernels

import "github.com/fxnlabs/compute-node/internal/gpu"

// vectorAdd computes c[i] = a[i] + b[i] for i < n.
func vectorAdd(l *gpu.Launch) error {
	a, b, c := l.Float32s(0), l.Float32s(1), l.Float32s(2)
	n := int(l.Uint32(3))
	for i, s := range [][]float32{a, b, c} {
		if err := checkLen(l, i, len(s), n); err != nil {
			return err
		}
	}
	l.ForEach(func(w gpu.WorkItem) {
		if i := w.Global[0]; i < n {
			c[i] = a[i] + b[i]
		}
	})
	return nil
}

// scale multiplies data in place by a by-value factor.
func scale(l *gpu.Launch) error {
	data := l.Float32s(0)
	factor := l.Float32(1)
	n := int(l.Uint32(2))
	if err := checkLen(l, 0, len(data), n); err != nil {
		return err
	}
	l.ForEach(func(w gpu.WorkItem) {
		if i := w.Global[0]; i < n {
			data[i] *= factor
		}
	})
	return nil
}
