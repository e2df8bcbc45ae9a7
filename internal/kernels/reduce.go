package kernels

import (
	"fmt"

	"github.com/fxnlabs/compute-node/internal/gpu"
)

// reduceSum writes one partial sum per work-group: partial[g] is the sum
// of in[i] over the group's work-items with i < n. Argument 2 is the
// __local scratch of one float per work-item.
func reduceSum(l *gpu.Launch) error {
	in, partial := l.Float32s(0), l.Float32s(1)
	n := int(l.Uint32(3))
	if err := checkLen(l, 0, len(in), n); err != nil {
		return err
	}
	if err := checkLen(l, 1, len(partial), l.NumGroups(0)); err != nil {
		return err
	}
	local := l.LocalSize(0)
	if need := local * 4; l.ScratchSize(2) < need {
		return fmt.Errorf("%s: scratch holds %d bytes, need %d", l.Kernel, l.ScratchSize(2), need)
	}

	l.ForEachGroup(func(group [3]int, items []gpu.WorkItem) {
		scratch := make([]float32, local)
		for _, w := range items {
			if i := w.Global[0]; i < n {
				scratch[w.Local[0]] = in[i]
			}
		}
		var sum float32
		for _, v := range scratch {
			sum += v
		}
		partial[group[0]] = sum
	})
	return nil
}
