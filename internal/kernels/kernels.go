// Package kernels provides host implementations of the reference device
// programs shipped in fixtures/kernels. Importing the package registers
// them with the host backend.
package kernels

import (
	"fmt"

	"github.com/fxnlabs/compute-node/internal/gpu"
)

// Programs lists the reference program names, one per .cl file.
var Programs = []string{"matmul", "reduce_sum", "scale", "transpose", "vector_add"}

func init() {
	for _, k := range []gpu.HostKernel{
		{Name: "transpose", NumArgs: 4, Run: transpose},
		{Name: "transpose_tiled", NumArgs: 5, MaxWorkGroupSize: 256, Run: transposeTiled},
		{Name: "vector_add", NumArgs: 4, Run: vectorAdd},
		{Name: "scale", NumArgs: 3, Run: scale},
		{Name: "reduce_sum", NumArgs: 4, Run: reduceSum},
		{Name: "matmul", NumArgs: 6, PrivateMem: 4, Run: matmul},
	} {
		gpu.RegisterKernel(k)
	}
}

func checkLen(l *gpu.Launch, arg, have, want int) error {
	if have < want {
		return fmt.Errorf("%s: argument %d holds %d elements, need %d", l.Kernel, arg, have, want)
	}
	return nil
}
