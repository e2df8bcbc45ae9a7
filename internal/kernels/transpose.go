package kernels

import (
	"fmt"

	"github.com/fxnlabs/compute-node/internal/gpu"
)

// transpose writes out[x*height+y] = in[y*width+x] over a (width, height) range.
func transpose(l *gpu.Launch) error {
	in, out := l.Float32s(0), l.Float32s(1)
	width, height := int(l.Uint32(2)), int(l.Uint32(3))
	if err := checkLen(l, 0, len(in), width*height); err != nil {
		return err
	}
	if err := checkLen(l, 1, len(out), width*height); err != nil {
		return err
	}
	l.ForEach(func(w gpu.WorkItem) {
		x, y := w.Global[0], w.Global[1]
		if x < width && y < height {
			out[x*height+y] = in[y*width+x]
		}
	})
	return nil
}

// transposeTiled stages each work-group's block in the __local tile
// argument before writing it out transposed.
func transposeTiled(l *gpu.Launch) error {
	in, out := l.Float32s(0), l.Float32s(1)
	width, height := int(l.Uint32(2)), int(l.Uint32(3))
	if err := checkLen(l, 0, len(in), width*height); err != nil {
		return err
	}
	if err := checkLen(l, 1, len(out), width*height); err != nil {
		return err
	}
	lx, ly := l.LocalSize(0), l.LocalSize(1)
	if need := lx * ly * 4; l.ScratchSize(4) < need {
		return fmt.Errorf("%s: tile holds %d bytes, need %d", l.Kernel, l.ScratchSize(4), need)
	}

	l.ForEachGroup(func(_ [3]int, items []gpu.WorkItem) {
		tile := make([]float32, lx*ly)
		for _, w := range items {
			x, y := w.Global[0], w.Global[1]
			if x < width && y < height {
				tile[w.Local[1]*lx+w.Local[0]] = in[y*width+x]
			}
		}
		for _, w := range items {
			x, y := w.Global[0], w.Global[1]
			if x < width && y < height {
				out[x*height+y] = tile[w.Local[1]*lx+w.Local[0]]
			}
		}
	})
	return nil
}
