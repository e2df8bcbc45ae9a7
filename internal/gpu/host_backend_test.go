package gpu

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var addOne = HostKernel{
	Name:    "add_one",
	NumArgs: 2,
	Run: func(l *Launch) error {
		data := l.Int32s(0)
		n := int(l.Uint32(1))
		l.ForEach(func(w WorkItem) {
			if i := w.Global[0]; i < n {
				data[i]++
			}
		})
		return nil
	},
}

var failing = HostKernel{
	Name:    "always_fails",
	NumArgs: 0,
	Run:     func(*Launch) error { return errors.New("boom") },
}

const addOneSource = `
/* block comment mentioning __kernel void commented_out(int x) */
// __kernel void also_commented(int x)
__kernel void add_one(__global int *data, const uint n) {
	size_t i = get_global_id(0);
	if (i < n) data[i] += 1;
}
`

func newTestContext(t *testing.T, opts ...HostOption) (*HostBackend, Context, Device) {
	t.Helper()
	opts = append([]HostOption{WithKernels(addOne, failing)}, opts...)
	b := NewHostBackend(zaptest.NewLogger(t), opts...)
	devices, err := b.Devices(DeviceTypeAll)
	require.NoError(t, err)
	ctx, err := b.CreateContext(devices[:1])
	require.NoError(t, err)
	return b, ctx, devices[0]
}

func uint32Arg(v uint32) []byte {
	b := make([]byte, 4)
	binary.NativeEndian.PutUint32(b, v)
	return b
}

func TestHostBackend_Devices(t *testing.T) {
	b := NewHostBackend(nil, WithDevices(
		HostDeviceSpec{Name: "cpu0", Type: DeviceTypeCPU},
		HostDeviceSpec{Name: "gpu0", Type: DeviceTypeGPU, Version: "OpenCL 3.0 host"},
	))

	all, err := b.Devices(DeviceTypeAll)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	gpus, err := b.Devices(DeviceTypeGPU)
	require.NoError(t, err)
	require.Len(t, gpus, 1)
	info := gpus[0].Info()
	assert.Equal(t, "gpu0", info.Name)
	assert.Equal(t, int64(64*1024), info.LocalMemory)
	assert.Equal(t, 1024, info.MaxWorkGroupSize)
	assert.Positive(t, info.GlobalMemory)

	_, err = b.Devices(DeviceTypeAccelerator)
	assert.ErrorIs(t, err, StatusDeviceNotFound)
}

func TestHostContext_CreateQueueRequiresVersion2(t *testing.T) {
	b := NewHostBackend(nil, WithDevices(HostDeviceSpec{Name: "old", Version: "OpenCL 1.2 host"}))
	devices, err := b.Devices(DeviceTypeAll)
	require.NoError(t, err)
	ctx, err := b.CreateContext(devices)
	require.NoError(t, err)

	_, err = ctx.CreateQueue(devices[0])
	assert.ErrorIs(t, err, StatusInvalidOperation)
}

func TestHostContext_CreateBuffer(t *testing.T) {
	_, ctx, _ := newTestContext(t)
	host := make([]byte, 16)

	tests := []struct {
		name  string
		flags MemFlags
		size  int
		host  []byte
		want  error
	}{
		{"zero size", MemReadWrite, 0, nil, StatusInvalidBufferSize},
		{"conflicting access", MemReadOnly | MemWriteOnly, 16, nil, StatusInvalidValue},
		{"copy without pointer", MemCopyHostPtr, 16, nil, StatusInvalidHostPtr},
		{"pointer without flag", MemReadWrite, 16, host, StatusInvalidHostPtr},
		{"short host slice", MemCopyHostPtr, 32, host, StatusInvalidHostPtr},
		{"use and copy", MemUseHostPtr | MemCopyHostPtr, 16, host, StatusInvalidValue},
		{"plain", MemReadOnly, 16, nil, nil},
		{"default access", 0, 16, nil, nil},
		{"alias host", MemUseHostPtr, 16, host, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := ctx.CreateBuffer(tt.flags, tt.size, tt.host)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.size, m.Size())
			if tt.flags == 0 {
				assert.True(t, m.Flags().Has(MemReadWrite))
			}
			require.NoError(t, m.Release())
			assert.ErrorIs(t, m.Release(), StatusInvalidMemObject)
		})
	}
}

func TestHostQueue_Transfers(t *testing.T) {
	_, ctx, dev := newTestContext(t)
	q, err := ctx.CreateQueue(dev)
	require.NoError(t, err)
	defer q.Release()

	src := []int32{1, 2, 3, 4}
	a, err := ctx.CreateBuffer(MemReadWrite, 16, nil)
	require.NoError(t, err)
	b, err := ctx.CreateBuffer(MemReadWrite, 16, nil)
	require.NoError(t, err)

	require.NoError(t, q.WriteBuffer(a, false, 0, AsBytes(src)))
	require.NoError(t, q.CopyBuffer(a, b, 0, 0, 16))
	dst := make([]int32, 4)
	require.NoError(t, q.ReadBuffer(b, true, 0, AsBytes(dst)))
	assert.Equal(t, src, dst)

	assert.ErrorIs(t, q.WriteBuffer(a, true, 8, make([]byte, 16)), StatusInvalidValue)
	assert.ErrorIs(t, q.CopyBuffer(a, a, 0, 4, 8), StatusMemCopyOverlap)
	require.NoError(t, q.CopyBuffer(a, a, 0, 8, 8))
	require.NoError(t, q.Finish())
}

func TestHostQueue_MapUnmap(t *testing.T) {
	_, ctx, dev := newTestContext(t)
	q, err := ctx.CreateQueue(dev)
	require.NoError(t, err)
	defer q.Release()

	m, err := ctx.CreateBuffer(MemReadWrite, 32, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		mapped, err := q.MapBuffer(m, true, MapWrite, 0, 32)
		require.NoError(t, err)
		assert.Equal(t, 1, HostMappedCount(m))
		FromBytes[int32](mapped)[0] = int32(i)
		require.NoError(t, q.UnmapBuffer(m, mapped))
		assert.Equal(t, 0, HostMappedCount(m))
	}

	out := make([]int32, 8)
	require.NoError(t, q.ReadBuffer(m, true, 0, AsBytes(out)))
	assert.Equal(t, int32(2), out[0])

	assert.ErrorIs(t, q.UnmapBuffer(m, make([]byte, 32)), StatusInvalidValue)
	_, err = q.MapBuffer(m, true, 0, 0, 32)
	assert.ErrorIs(t, err, StatusInvalidValue)
}

func TestHostProgram_Build(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		options string
		status  Status
		log     string
		kernels []string
	}{
		{name: "comments stripped", source: addOneSource, kernels: []string{"add_one"}},
		{name: "fast math", source: addOneSource, options: "-cl-fast-relaxed-math -cl-std=CL2.0 -DWIDTH=4 -D HEIGHT", kernels: []string{"add_one"}},
		{name: "unknown option", source: addOneSource, options: "-cl-no-such-flag", status: StatusInvalidBuildOptions, log: "unrecognized option"},
		{name: "std above device", source: addOneSource, options: "-cl-std=CL3.0", status: StatusBuildProgramFailure, log: "-cl-std=CL3.0"},
		{name: "missing implementation", source: "__kernel void nope(int x) {}", status: StatusBuildProgramFailure, log: "nope"},
		{
			name:    "inactive block",
			source:  "#ifdef WITH_NOPE\n__kernel void nope(int x) {}\n#endif\n" + addOneSource,
			kernels: []string{"add_one"},
		},
		{
			name:   "error directive",
			source: "#ifndef WIDTH\n#error WIDTH must be defined\n#endif\n" + addOneSource,
			status: StatusBuildProgramFailure,
			log:    "WIDTH must be defined",
		},
		{
			name:    "error directive satisfied",
			source:  "#ifndef WIDTH\n#error WIDTH must be defined\n#endif\n" + addOneSource,
			options: "-DWIDTH=8",
			kernels: []string{"add_one"},
		},
		{name: "warning", source: "#warning slow path\n" + addOneSource, kernels: []string{"add_one"}, log: "slow path"},
		{name: "warning as error", source: "#warning slow path\n" + addOneSource, options: "-Werror", status: StatusBuildProgramFailure, log: "-Werror"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ctx, _ := newTestContext(t)
			p, err := ctx.CreateProgram(tt.source)
			require.NoError(t, err)

			err = p.Build(nil, tt.options)
			if tt.log != "" {
				require.Len(t, p.BuildLog(), 1)
				assert.Contains(t, p.BuildLog()[0].Log, tt.log)
			}
			if tt.status != StatusSuccess {
				var be *BuildError
				require.ErrorAs(t, err, &be)
				assert.Equal(t, tt.status, be.Status)
				_, err = p.Kernels()
				assert.ErrorIs(t, err, StatusInvalidProgramExecutable)
				return
			}
			require.NoError(t, err)
			ks, err := p.Kernels()
			require.NoError(t, err)
			var names []string
			for _, k := range ks {
				names = append(names, k.Name())
			}
			assert.Equal(t, tt.kernels, names)
		})
	}
}

func TestHostProgram_KernelOrder(t *testing.T) {
	second := HostKernel{Name: "second", NumArgs: 1, Run: func(*Launch) error { return nil }}
	_, ctx, _ := newTestContext(t, WithKernels(second))
	p, err := ctx.CreateProgram("kernel void second(int a) {}\n" + addOneSource)
	require.NoError(t, err)
	require.NoError(t, p.Build(nil, ""))

	ks, err := p.Kernels()
	require.NoError(t, err)
	require.Len(t, ks, 2)
	assert.Equal(t, "second", ks[0].Name())
	assert.Equal(t, "add_one", ks[1].Name())
	assert.Equal(t, 2, ks[1].NumArgs())
}

func buildAddOne(t *testing.T, ctx Context, options string) Kernel {
	t.Helper()
	p, err := ctx.CreateProgram(addOneSource)
	require.NoError(t, err)
	require.NoError(t, p.Build(nil, options))
	ks, err := p.Kernels()
	require.NoError(t, err)
	return ks[0]
}

func TestHostQueue_EnqueueNDRange(t *testing.T) {
	_, ctx, dev := newTestContext(t)
	q, err := ctx.CreateQueue(dev)
	require.NoError(t, err)
	defer q.Release()

	const n = 100
	data := make([]int32, n)
	for i := range data {
		data[i] = int32(i)
	}
	m, err := ctx.CreateBuffer(MemReadWrite|MemCopyHostPtr, n*4, AsBytes(data))
	require.NoError(t, err)

	k := buildAddOne(t, ctx, "")
	assert.ErrorIs(t, q.EnqueueNDRange(k, nil, []int{n}, nil), StatusInvalidKernelArgs)

	require.NoError(t, k.SetArgBuffer(0, m))
	require.NoError(t, k.SetArg(1, uint32Arg(n)))
	assert.ErrorIs(t, k.SetArg(2, uint32Arg(1)), StatusInvalidArgIndex)

	require.NoError(t, q.EnqueueNDRange(k, nil, []int{n}, []int{10}))
	require.NoError(t, q.Finish())

	out := make([]int32, n)
	require.NoError(t, q.ReadBuffer(m, true, 0, AsBytes(out)))
	for i, v := range out {
		assert.Equal(t, int32(i+1), v)
	}

	tests := []struct {
		name   string
		offset []int
		global []int
		local  []int
		want   Status
	}{
		{"no dims", nil, nil, nil, StatusInvalidWorkDimension},
		{"four dims", nil, []int{1, 1, 1, 1}, nil, StatusInvalidWorkDimension},
		{"zero global", nil, []int{0}, nil, StatusInvalidGlobalWorkSize},
		{"offset dims", []int{0, 0}, []int{n}, nil, StatusInvalidGlobalOffset},
		{"local not dividing", nil, []int{n}, []int{7}, StatusInvalidWorkGroupSize},
		{"local too big", nil, []int{4096}, []int{2048}, StatusInvalidWorkItemSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, q.EnqueueNDRange(k, tt.offset, tt.global, tt.local), tt.want)
		})
	}
}

func TestHostQueue_NonUniformWorkGroups(t *testing.T) {
	_, ctx, dev := newTestContext(t)
	q, err := ctx.CreateQueue(dev)
	require.NoError(t, err)
	defer q.Release()

	m, err := ctx.CreateBuffer(MemReadWrite, 10*4, nil)
	require.NoError(t, err)

	k := buildAddOne(t, ctx, "-cl-std=CL2.0")
	require.NoError(t, k.SetArgBuffer(0, m))
	require.NoError(t, k.SetArg(1, uint32Arg(10)))
	require.NoError(t, q.EnqueueNDRange(k, nil, []int{10}, []int{4}))

	out := make([]int32, 10)
	require.NoError(t, q.ReadBuffer(m, true, 0, AsBytes(out)))
	for _, v := range out {
		assert.Equal(t, int32(1), v)
	}

	uniform := buildAddOne(t, ctx, "-cl-std=CL2.0 -cl-uniform-work-group-size")
	require.NoError(t, uniform.SetArgBuffer(0, m))
	require.NoError(t, uniform.SetArg(1, uint32Arg(10)))
	assert.ErrorIs(t, q.EnqueueNDRange(uniform, nil, []int{10}, []int{4}), StatusInvalidWorkGroupSize)
}

func TestHostQueue_FinishReportsKernelFailure(t *testing.T) {
	_, ctx, dev := newTestContext(t)
	q, err := ctx.CreateQueue(dev)
	require.NoError(t, err)
	defer q.Release()

	p, err := ctx.CreateProgram("__kernel void always_fails() {}")
	require.NoError(t, err)
	require.NoError(t, p.Build(nil, ""))
	ks, err := p.Kernels()
	require.NoError(t, err)

	require.NoError(t, q.EnqueueNDRange(ks[0], nil, []int{1}, nil))
	err = q.Finish()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "always_fails")
	assert.NoError(t, q.Finish(), "errors are reported once")
}

func TestHostKernel_WorkGroupInfo(t *testing.T) {
	scratch := HostKernel{Name: "scratch", NumArgs: 1, LocalMem: 256, PrivateMem: 16, MaxWorkGroupSize: 128,
		Run: func(*Launch) error { return nil }}
	_, ctx, dev := newTestContext(t, WithKernels(scratch))
	p, err := ctx.CreateProgram("__kernel void scratch(__local float *tmp) {}")
	require.NoError(t, err)
	require.NoError(t, p.Build(nil, ""))
	ks, err := p.Kernels()
	require.NoError(t, err)

	require.NoError(t, ks[0].SetArgLocal(0, 1024))
	info, err := ks[0].WorkGroupInfo(dev)
	require.NoError(t, err)
	assert.Equal(t, int64(256+1024), info.LocalMemSize)
	assert.Equal(t, 128, info.WorkGroupSize)
	assert.Equal(t, 32, info.PreferredWorkGroupSizeMultiple)
	assert.Equal(t, int64(16), info.PrivateMemSize)

	assert.ErrorIs(t, ks[0].SetArgLocal(0, 0), StatusInvalidArgSize)
}

func TestHostProgram_Binaries(t *testing.T) {
	_, ctx, dev := newTestContext(t)
	p, err := ctx.CreateProgram(addOneSource)
	require.NoError(t, err)

	_, err = p.Binaries()
	assert.ErrorIs(t, err, StatusInvalidProgramExecutable)

	require.NoError(t, p.Build(nil, "-cl-mad-enable"))
	bins, err := p.Binaries()
	require.NoError(t, err)
	require.Len(t, bins, 1)

	loaded, err := ctx.CreateProgramWithBinary([]Device{dev}, bins)
	require.NoError(t, err)
	require.NoError(t, loaded.Build(nil, ""))
	ks, err := loaded.Kernels()
	require.NoError(t, err)
	require.Len(t, ks, 1)
	assert.Equal(t, "add_one", ks[0].Name())

	_, err = ctx.CreateProgramWithBinary([]Device{dev}, [][]byte{[]byte("garbage")})
	assert.ErrorIs(t, err, StatusInvalidBinary)

	other := NewHostBackend(nil, WithDevices(HostDeviceSpec{Name: "other"}))
	otherDevs, err := other.Devices(DeviceTypeAll)
	require.NoError(t, err)
	otherCtx, err := other.CreateContext(otherDevs)
	require.NoError(t, err)
	_, err = otherCtx.CreateProgramWithBinary(otherDevs, bins)
	assert.ErrorIs(t, err, StatusInvalidBinary)
}
