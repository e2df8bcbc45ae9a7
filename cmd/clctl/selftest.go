package main

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/fxnlabs/compute-node/fixtures"
	"github.com/fxnlabs/compute-node/internal/compute"
)

func selftestCommand() *cli.Command {
	return &cli.Command{
		Name:  "selftest",
		Usage: "Run the reference programs on every device and check them against gonum",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "size", Value: 64, Usage: "Matrix dimension"},
			&cli.Int64Flag{Name: "seed", Value: 1, Usage: "Random seed for the input matrices"},
			&cli.Float64Flag{Name: "tolerance", Value: 1e-3, Usage: "Allowed absolute error of matmul"},
		},
		Action: func(c *cli.Context) error {
			return withRuntime(c, func(e *env) error {
				rng := rand.New(rand.NewSource(c.Int64("seed")))
				n := c.Int("size")
				if n <= 0 {
					return cli.Exit("selftest: --size must be positive", 2)
				}
				failed := 0
				for _, d := range e.registry.Devices() {
					for _, check := range []struct {
						name string
						run  func(*compute.Device, *rand.Rand, int, float64) error
					}{
						{"transpose", checkTranspose},
						{"matmul", checkMatmul},
					} {
						start := time.Now()
						err := check.run(d, rng, n, c.Float64("tolerance"))
						status := "ok"
						if err != nil {
							failed++
							status = "FAIL: " + err.Error()
						}
						fmt.Fprintf(c.App.Writer, "%-24s %-10s %8s  %s\n", d.Name(), check.name,
							time.Since(start).Round(time.Microsecond), status)
						e.log.Debug("Self test", zap.String("device", d.Name()), zap.String("check", check.name), zap.Error(err))
					}
				}
				if failed > 0 {
					return fmt.Errorf("%d checks failed", failed)
				}
				return nil
			})
		},
	}
}

// kernelFromFixtures compiles a reference program on d regardless of the
// configured kernel directory.
func kernelFromFixtures(d *compute.Device, program, kernel string) (*compute.Kernel, error) {
	src, err := fixtures.Kernels.ReadFile("kernels/" + program + ".cl")
	if err != nil {
		return nil, err
	}
	ess, other := d.BuildOptions()
	set, err := d.Compiler().BuildSource(program, string(src), ess, other)
	if err != nil {
		return nil, err
	}
	return set.Lookup(kernel), nil
}

func randomDense(rng *rand.Rand, rows, cols int) *mat.Dense {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = rng.Float64()*2 - 1
	}
	return mat.NewDense(rows, cols, data)
}

func toFloat32(m *mat.Dense) []float32 {
	raw := m.RawMatrix().Data
	out := make([]float32, len(raw))
	for i, v := range raw {
		out[i] = float32(v)
	}
	return out
}

func toFloat64(s []float32) []float64 {
	out := make([]float64, len(s))
	for i, v := range s {
		out[i] = float64(v)
	}
	return out
}

// runMatrixKernel uploads inputs, runs k over global and reads back count
// results.
func runMatrixKernel(d *compute.Device, k *compute.Kernel, inputs [][]float32, count int, scalars []uint32, global compute.NDRange) ([]float32, error) {
	var args []compute.Arg
	for _, in := range inputs {
		buf, err := compute.MallocFrom(d, compute.Read, in)
		if err != nil {
			return nil, err
		}
		defer buf.Release()
		args = append(args, buf)
	}
	out, err := compute.MallocWrite[float32](d, count)
	if err != nil {
		return nil, err
	}
	defer out.Release()
	args = append(args, out)
	for _, s := range scalars {
		args = append(args, compute.Value(s))
	}

	if err := d.EnqueueKernel(k, args, compute.NullRange, global, compute.NullRange); err != nil {
		return nil, err
	}
	if err := d.Finish(); err != nil {
		return nil, err
	}
	result := make([]float32, count)
	err = out.WithMap(compute.Read, true, func(r *compute.MappedRegion[float32]) error {
		copy(result, r.Slice())
		return nil
	}, compute.AllowCrossMode())
	return result, err
}

func checkTranspose(d *compute.Device, rng *rand.Rand, n int, _ float64) error {
	k, err := kernelFromFixtures(d, "transpose", "transpose")
	if err != nil {
		return err
	}
	rows, cols := n, n+n/2
	a := randomDense(rng, rows, cols)
	got, err := runMatrixKernel(d, k, [][]float32{toFloat32(a)}, rows*cols,
		[]uint32{uint32(cols), uint32(rows)}, compute.Range2(cols, rows))
	if err != nil {
		return err
	}
	var want mat.Dense
	want.CloneFrom(a.T())
	if !floats.Equal(toFloat64(got), toFloat64(toFloat32(&want))) {
		return fmt.Errorf("transpose of %dx%d differs from reference", rows, cols)
	}
	return nil
}

func checkMatmul(d *compute.Device, rng *rand.Rand, n int, tol float64) error {
	k, err := kernelFromFixtures(d, "matmul", "matmul")
	if err != nil {
		return err
	}
	m, inner, cols := n, n/2+1, n+3
	a := randomDense(rng, m, inner)
	b := randomDense(rng, inner, cols)
	got, err := runMatrixKernel(d, k, [][]float32{toFloat32(a), toFloat32(b)}, m*cols,
		[]uint32{uint32(m), uint32(cols), uint32(inner)}, compute.Range2(cols, m))
	if err != nil {
		return err
	}
	var want mat.Dense
	want.Mul(a, b)
	if !floats.EqualApprox(toFloat64(got), want.RawMatrix().Data, tol) {
		return fmt.Errorf("product of %dx%d and %dx%d differs from reference by more than %g", m, inner, inner, cols, tol)
	}
	return nil
}
