package compute

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fxnlabs/compute-node/internal/gpu"
	"github.com/fxnlabs/compute-node/internal/kernels"
)

func TestCompiler_BuildAll(t *testing.T) {
	d := newTestDevice(t)
	c := d.Compiler()
	ess, other := Options(OptimizeFastMath), Options(StdCL20)

	t.Run("every program", func(t *testing.T) {
		built, err := c.BuildAll(context.Background(), d.dir, ess, other)
		require.NoError(t, err)
		names := make([]string, 0, len(built))
		for name, set := range built {
			names = append(names, name)
			assert.NotEmpty(t, set)
		}
		sort.Strings(names)
		assert.Equal(t, kernels.Programs, names)
		assert.Equal(t, []string{"transpose", "transpose_tiled"}, built["transpose"].Names())
	})

	t.Run("one broken program", func(t *testing.T) {
		dir := writeKernels(t)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.cl"), []byte("__kernel void nothing_here() {}\n"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("not a program"), 0o644))

		built, err := c.BuildAll(context.Background(), dir, ess, other)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrBuild)
		assert.Len(t, built, len(kernels.Programs))
		assert.NotContains(t, built, "broken")
	})

	t.Run("program without kernels", func(t *testing.T) {
		dir := writeKernels(t)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "helpers.cl"), []byte("float sq(float x) { return x * x; }\n"), 0o644))

		built, err := c.BuildAll(context.Background(), dir, ess, other)
		require.NoError(t, err)
		assert.Len(t, built, len(kernels.Programs)+1)
		require.Contains(t, built, "helpers")
		assert.Empty(t, built["helpers"])
		assert.Equal(t, []string{"scale"}, built["scale"].Names())
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		built, err := c.BuildAll(ctx, d.dir, ess, other)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, built)
	})

	t.Run("missing directory", func(t *testing.T) {
		_, err := c.BuildAll(context.Background(), filepath.Join(d.dir, "nope"), ess, other)
		assert.Error(t, err)
	})
}

func TestCompiler_BuildSourceOptions(t *testing.T) {
	d := newTestDevice(t)
	src := `
#ifndef WIDTH
#error WIDTH must be defined
#endif
__kernel void scale(__global float *data, const float factor, const uint n) {
    size_t i = get_global_id(0);
    if (i < n) data[i] *= factor;
}
`
	tests := []struct {
		name      string
		essential CompileOptions
		other     CompileOptions
		wantErr   bool
	}{
		{"macro defined", Options(Macro("WIDTH", "16")), Options(StdCL12), false},
		{"macro without value", Options(Macro("WIDTH", "")), nil, false},
		{"macro missing", Options(OptimizeFastMath), Options(StdCL20), true},
		{"macro only in rejected options", Options(OptimizeFastMath), Options(Macro("WIDTH", "8"), "-cl-std=CL3.0"), true},
		{"bad essential option", Options("--bogus", Macro("WIDTH", "1")), nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := d.Compiler().BuildSource("scale", src, tt.essential, tt.other)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrBuild)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []string{"scale"}, set.Names())
		})
	}
}

func TestCompiler_SaveLoad(t *testing.T) {
	d := newTestDevice(t)
	k, err := d.Kernel("vector_add")
	require.NoError(t, err)

	path, err := d.Compiler().SaveKernel(filepath.Join(t.TempDir(), "vector_add"), k)
	require.NoError(t, err)
	assert.Equal(t, ".bin", filepath.Ext(path))

	kept, err := d.Compiler().SaveKernel(filepath.Join(t.TempDir(), "va.clbin"), k)
	require.NoError(t, err)
	assert.Equal(t, ".clbin", filepath.Ext(kept))

	set, err := d.Compiler().LoadKernel(path, nil)
	require.NoError(t, err)
	loaded := set.Lookup("vector_add")
	require.NotNil(t, loaded)
	assert.Equal(t, "vector_add", loaded.Program())

	a, err := MallocFrom(d.Device, Read, []float32{1, 2, 3, 4})
	require.NoError(t, err)
	b, err := MallocFrom(d.Device, Read, []float32{10, 20, 30, 40})
	require.NoError(t, err)
	out, err := MallocReadWrite[float32](d.Device, 4)
	require.NoError(t, err)
	require.NoError(t, d.EnqueueKernel(loaded, Args(a, b, out, Value(uint32(4))), NullRange, Range1(4), NullRange))
	got := make([]float32, 4)
	require.NoError(t, out.CopyTo(got, true))
	assert.Equal(t, []float32{11, 22, 33, 44}, got)

	t.Run("other device", func(t *testing.T) {
		backend := gpu.NewHostBackend(nil, gpu.WithDevices(gpu.HostDeviceSpec{Name: "elsewhere"}))
		devices, err := backend.Devices(gpu.DeviceTypeAll)
		require.NoError(t, err)
		other, err := NewDevice(backend, devices[0], nil)
		require.NoError(t, err)
		defer other.Release()
		_, err = other.Compiler().LoadKernel(path, nil)
		assert.ErrorIs(t, err, ErrBuild)
		assert.ErrorIs(t, err, gpu.StatusInvalidBinary)
	})
	t.Run("not a binary", func(t *testing.T) {
		junk := filepath.Join(t.TempDir(), "junk.bin")
		require.NoError(t, os.WriteFile(junk, []byte("junk"), 0o644))
		_, err := d.Compiler().LoadKernel(junk, nil)
		assert.ErrorIs(t, err, gpu.StatusInvalidBinary)
	})
}

func TestKernelSet_Lookup(t *testing.T) {
	d := newTestDevice(t)
	set, err := d.KernelSet("transpose")
	require.NoError(t, err)

	assert.Equal(t, "transpose_tiled", set.Lookup("transpose_tiled").Name())
	assert.Equal(t, "transpose", set.Lookup("unknown").Name())
	assert.Nil(t, KernelSet(nil).Lookup("transpose"))
}

func TestKernelInfo(t *testing.T) {
	d := newTestDevice(t)
	tiled, err := d.Kernel("transpose_tiled")
	require.NoError(t, err)

	info, err := NewKernelInfo(tiled, d.Device)
	require.NoError(t, err)
	assert.Equal(t, 256, info.WorkGroupSize)
	assert.Equal(t, 32, info.PreferredWorkGroupSizeMultiple)
	assert.True(t, info.CheckKernel())

	tests := []struct {
		name  string
		local NDRange
		want  bool
	}{
		{"backend chooses", NullRange, true},
		{"16x16", Range2(16, 16), true},
		{"32x32 above kernel limit", Range2(32, 32), false},
		{"zero", Range1(0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, info.Fits(tt.local))
		})
	}

	t.Run("local memory above device limit", func(t *testing.T) {
		big := info
		big.LocalMemSize = d.Info().LocalMemory + 1
		assert.False(t, big.CheckKernel())
		assert.False(t, big.Fits(NullRange))
	})
	t.Run("bound local scratch counts", func(t *testing.T) {
		require.NoError(t, Local[float32](256).bind(tiled.Native(), 4))
		info, err := NewKernelInfo(tiled, d.Device)
		require.NoError(t, err)
		assert.Equal(t, int64(1024), info.LocalMemSize)
	})
}
