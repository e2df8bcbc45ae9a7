//go:build opencl

package gpu

/*
#cgo LDFLAGS: -lOpenCL
#cgo darwin LDFLAGS: -framework OpenCL
#define CL_TARGET_OPENCL_VERSION 200
#ifdef __APPLE__
#include <OpenCL/opencl.h>
#else
#include <CL/cl.h>
#endif
#include <stdlib.h>

static cl_command_queue fxn_create_queue(cl_context ctx, cl_device_id device, cl_int *status) {
	const cl_queue_properties props[] = {0};
	return clCreateCommandQueueWithProperties(ctx, device, props, status);
}
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"

	"go.uber.org/zap"
)

// OpenCLBackend implements Backend on top of the system OpenCL ICD loader.
//
// Go memory may not be retained by C after a call returns, so transfers
// are always performed blocking and host-pointer aliasing is rejected.
type OpenCLBackend struct {
	logger  *zap.Logger
	devices []*clDevice
}

// NewOpenCLBackend discovers every device of every platform.
func NewOpenCLBackend(logger *zap.Logger) (*OpenCLBackend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &OpenCLBackend{logger: logger.Named("opencl")}

	var count C.cl_uint
	if st := C.clGetPlatformIDs(0, nil, &count); st != C.CL_SUCCESS {
		return nil, fmt.Errorf("clGetPlatformIDs: %w", Status(st))
	}
	if count == 0 {
		return nil, fmt.Errorf("no OpenCL platforms: %w", StatusPlatformNotFoundKHR)
	}
	platforms := make([]C.cl_platform_id, int(count))
	if st := C.clGetPlatformIDs(count, &platforms[0], nil); st != C.CL_SUCCESS {
		return nil, fmt.Errorf("clGetPlatformIDs: %w", Status(st))
	}

	for _, p := range platforms {
		var n C.cl_uint
		st := C.clGetDeviceIDs(p, C.CL_DEVICE_TYPE_ALL, 0, nil, &n)
		if st == C.CL_DEVICE_NOT_FOUND || n == 0 {
			continue
		}
		if st != C.CL_SUCCESS {
			return nil, fmt.Errorf("clGetDeviceIDs: %w", Status(st))
		}
		ids := make([]C.cl_device_id, int(n))
		if st := C.clGetDeviceIDs(p, C.CL_DEVICE_TYPE_ALL, n, &ids[0], nil); st != C.CL_SUCCESS {
			return nil, fmt.Errorf("clGetDeviceIDs: %w", Status(st))
		}
		for _, id := range ids {
			info, err := clDeviceInfo(id)
			if err != nil {
				return nil, err
			}
			b.devices = append(b.devices, &clDevice{id: id, platform: p, info: info})
		}
	}
	b.logger.Debug("Discovered OpenCL devices", zap.Int("count", len(b.devices)))
	return b, nil
}

func (b *OpenCLBackend) Name() string { return "opencl" }

func (b *OpenCLBackend) Devices(t DeviceType) ([]Device, error) {
	var out []Device
	for _, d := range b.devices {
		if t == DeviceTypeAll || d.info.Type == t {
			out = append(out, d)
		}
	}
	if len(out) == 0 {
		return nil, StatusDeviceNotFound
	}
	return out, nil
}

func (b *OpenCLBackend) CreateContext(devices []Device) (Context, error) {
	if len(devices) == 0 {
		return nil, StatusInvalidValue
	}
	cds := make([]*clDevice, 0, len(devices))
	ids := make([]C.cl_device_id, 0, len(devices))
	for _, d := range devices {
		cd, ok := d.(*clDevice)
		if !ok || cd.platform != devices[0].(*clDevice).platform {
			return nil, StatusInvalidDevice
		}
		cds = append(cds, cd)
		ids = append(ids, cd.id)
	}
	var st C.cl_int
	ctx := C.clCreateContext(nil, C.cl_uint(len(ids)), &ids[0], nil, nil, &st)
	if st != C.CL_SUCCESS {
		return nil, fmt.Errorf("clCreateContext: %w", Status(st))
	}
	return &clContext{backend: b, ctx: ctx, devices: cds}, nil
}

type clDevice struct {
	id       C.cl_device_id
	platform C.cl_platform_id
	info     DeviceInfo
}

func (d *clDevice) Info() DeviceInfo { return d.info }

func clDeviceInfo(id C.cl_device_id) (DeviceInfo, error) {
	var info DeviceInfo
	var err error
	if info.Name, err = clDeviceString(id, C.CL_DEVICE_NAME); err != nil {
		return info, err
	}
	if info.Vendor, err = clDeviceString(id, C.CL_DEVICE_VENDOR); err != nil {
		return info, err
	}
	if info.Version, err = clDeviceString(id, C.CL_DEVICE_VERSION); err != nil {
		return info, err
	}

	var rawType C.cl_device_type
	var units C.cl_uint
	var global, local, maxAlloc C.cl_ulong
	var wgSize C.size_t
	for _, q := range []struct {
		param C.cl_device_info
		size  uintptr
		ptr   unsafe.Pointer
	}{
		{C.CL_DEVICE_TYPE, unsafe.Sizeof(rawType), unsafe.Pointer(&rawType)},
		{C.CL_DEVICE_MAX_COMPUTE_UNITS, unsafe.Sizeof(units), unsafe.Pointer(&units)},
		{C.CL_DEVICE_GLOBAL_MEM_SIZE, unsafe.Sizeof(global), unsafe.Pointer(&global)},
		{C.CL_DEVICE_LOCAL_MEM_SIZE, unsafe.Sizeof(local), unsafe.Pointer(&local)},
		{C.CL_DEVICE_MAX_MEM_ALLOC_SIZE, unsafe.Sizeof(maxAlloc), unsafe.Pointer(&maxAlloc)},
		{C.CL_DEVICE_MAX_WORK_GROUP_SIZE, unsafe.Sizeof(wgSize), unsafe.Pointer(&wgSize)},
	} {
		if st := C.clGetDeviceInfo(id, q.param, C.size_t(q.size), q.ptr, nil); st != C.CL_SUCCESS {
			return info, fmt.Errorf("clGetDeviceInfo: %w", Status(st))
		}
	}

	switch {
	case rawType&C.CL_DEVICE_TYPE_GPU != 0:
		info.Type = DeviceTypeGPU
	case rawType&C.CL_DEVICE_TYPE_CPU != 0:
		info.Type = DeviceTypeCPU
	default:
		info.Type = DeviceTypeAccelerator
	}
	info.ComputeUnits = int(units)
	info.GlobalMemory = int64(global)
	info.LocalMemory = int64(local)
	info.MaxAllocation = int64(maxAlloc)
	info.MaxWorkGroupSize = int(wgSize)
	return info, nil
}

func clDeviceString(id C.cl_device_id, param C.cl_device_info) (string, error) {
	var size C.size_t
	if st := C.clGetDeviceInfo(id, param, 0, nil, &size); st != C.CL_SUCCESS {
		return "", fmt.Errorf("clGetDeviceInfo: %w", Status(st))
	}
	if size == 0 {
		return "", nil
	}
	buf := make([]byte, int(size))
	if st := C.clGetDeviceInfo(id, param, size, unsafe.Pointer(&buf[0]), nil); st != C.CL_SUCCESS {
		return "", fmt.Errorf("clGetDeviceInfo: %w", Status(st))
	}
	return trimNull(buf), nil
}

func trimNull(buf []byte) string {
	if n := len(buf); n > 0 && buf[n-1] == 0 {
		buf = buf[:n-1]
	}
	return string(buf)
}

type clContext struct {
	backend *OpenCLBackend
	ctx     C.cl_context
	devices []*clDevice
}

func (c *clContext) Devices() []Device {
	out := make([]Device, len(c.devices))
	for i, d := range c.devices {
		out[i] = d
	}
	return out
}

func (c *clContext) device(d Device) (*clDevice, bool) {
	for _, cd := range c.devices {
		if Device(cd) == d {
			return cd, true
		}
	}
	return nil, false
}

func (c *clContext) CreateQueue(device Device) (Queue, error) {
	cd, ok := c.device(device)
	if !ok {
		return nil, StatusInvalidDevice
	}
	major, _, err := cd.info.APIVersion()
	if err != nil || major < 2 {
		return nil, StatusInvalidOperation
	}
	var st C.cl_int
	q := C.fxn_create_queue(c.ctx, cd.id, &st)
	if st != C.CL_SUCCESS {
		return nil, fmt.Errorf("clCreateCommandQueueWithProperties: %w", Status(st))
	}
	return &clQueue{ctx: c, device: cd, q: q}, nil
}

func (c *clContext) CreateBuffer(flags MemFlags, size int, host []byte) (Mem, error) {
	if flags.Has(MemUseHostPtr) {
		return nil, fmt.Errorf("host pointer aliasing of Go memory: %w", StatusInvalidHostPtr)
	}
	if flags&(MemReadWrite|MemWriteOnly|MemReadOnly) == 0 {
		flags |= MemReadWrite
	}
	var clFlags C.cl_mem_flags
	for f, cf := range map[MemFlags]C.cl_mem_flags{
		MemReadWrite:    C.CL_MEM_READ_WRITE,
		MemWriteOnly:    C.CL_MEM_WRITE_ONLY,
		MemReadOnly:     C.CL_MEM_READ_ONLY,
		MemAllocHostPtr: C.CL_MEM_ALLOC_HOST_PTR,
		MemCopyHostPtr:  C.CL_MEM_COPY_HOST_PTR,
	} {
		if flags.Has(f) {
			clFlags |= cf
		}
	}
	var ptr unsafe.Pointer
	if flags.Has(MemCopyHostPtr) {
		if len(host) < size {
			return nil, StatusInvalidHostPtr
		}
		ptr = unsafe.Pointer(&host[0])
	}
	var st C.cl_int
	m := C.clCreateBuffer(c.ctx, clFlags, C.size_t(size), ptr, &st)
	if st != C.CL_SUCCESS {
		return nil, fmt.Errorf("clCreateBuffer: %w", Status(st))
	}
	return &clMem{m: m, flags: flags, size: size}, nil
}

func (c *clContext) CreateProgram(source string) (Program, error) {
	src := C.CString(source)
	defer C.free(unsafe.Pointer(src))
	length := C.size_t(len(source))
	var st C.cl_int
	p := C.clCreateProgramWithSource(c.ctx, 1, &src, &length, &st)
	if st != C.CL_SUCCESS {
		return nil, fmt.Errorf("clCreateProgramWithSource: %w", Status(st))
	}
	return &clProgram{ctx: c, p: p}, nil
}

func (c *clContext) CreateProgramWithBinary(devices []Device, binaries [][]byte) (Program, error) {
	if len(devices) == 0 || len(devices) != len(binaries) {
		return nil, StatusInvalidValue
	}
	n := len(devices)
	ids := make([]C.cl_device_id, n)
	lengths := make([]C.size_t, n)
	ptrs := (*[1 << 20]*C.uchar)(C.malloc(C.size_t(n) * C.size_t(unsafe.Sizeof(uintptr(0)))))[:n:n]
	defer C.free(unsafe.Pointer(&ptrs[0]))
	for i, d := range devices {
		cd, ok := c.device(d)
		if !ok {
			return nil, StatusInvalidDevice
		}
		ids[i] = cd.id
		lengths[i] = C.size_t(len(binaries[i]))
		ptrs[i] = (*C.uchar)(C.CBytes(binaries[i]))
	}
	defer func() {
		for _, p := range ptrs {
			C.free(unsafe.Pointer(p))
		}
	}()

	status := make([]C.cl_int, n)
	var st C.cl_int
	p := C.clCreateProgramWithBinary(c.ctx, C.cl_uint(n), &ids[0], &lengths[0], &ptrs[0], &status[0], &st)
	if st != C.CL_SUCCESS {
		return nil, fmt.Errorf("clCreateProgramWithBinary: %w", Status(st))
	}
	return &clProgram{ctx: c, p: p}, nil
}

func (c *clContext) Release() error {
	if st := C.clReleaseContext(c.ctx); st != C.CL_SUCCESS {
		return Status(st)
	}
	return nil
}

type clMem struct {
	m     C.cl_mem
	flags MemFlags
	size  int
}

func (m *clMem) Size() int       { return m.size }
func (m *clMem) Flags() MemFlags { return m.flags }

func (m *clMem) Release() error {
	if st := C.clReleaseMemObject(m.m); st != C.CL_SUCCESS {
		return Status(st)
	}
	return nil
}

type clQueue struct {
	ctx    *clContext
	device *clDevice
	q      C.cl_command_queue
}

func (q *clQueue) Device() Device { return q.device }

// Transfers are always blocking: cgo forbids the driver keeping the Go
// pointer after the call returns.
func (q *clQueue) WriteBuffer(m Mem, _ bool, offset int, src []byte) error {
	cm, ok := m.(*clMem)
	if !ok {
		return StatusInvalidMemObject
	}
	if len(src) == 0 {
		return StatusInvalidValue
	}
	st := C.clEnqueueWriteBuffer(q.q, cm.m, C.CL_TRUE, C.size_t(offset), C.size_t(len(src)),
		unsafe.Pointer(&src[0]), 0, nil, nil)
	if st != C.CL_SUCCESS {
		return fmt.Errorf("clEnqueueWriteBuffer: %w", Status(st))
	}
	return nil
}

// Transfers are always blocking: cgo forbids the driver keeping the Go
// pointer after the call returns.
func (q *clQueue) ReadBuffer(m Mem, _ bool, offset int, dst []byte) error {
	cm, ok := m.(*clMem)
	if !ok {
		return StatusInvalidMemObject
	}
	if len(dst) == 0 {
		return StatusInvalidValue
	}
	st := C.clEnqueueReadBuffer(q.q, cm.m, C.CL_TRUE, C.size_t(offset), C.size_t(len(dst)),
		unsafe.Pointer(&dst[0]), 0, nil, nil)
	if st != C.CL_SUCCESS {
		return fmt.Errorf("clEnqueueReadBuffer: %w", Status(st))
	}
	return nil
}

func (q *clQueue) CopyBuffer(src, dst Mem, srcOffset, dstOffset, size int) error {
	cs, ok1 := src.(*clMem)
	cd, ok2 := dst.(*clMem)
	if !ok1 || !ok2 {
		return StatusInvalidMemObject
	}
	st := C.clEnqueueCopyBuffer(q.q, cs.m, cd.m, C.size_t(srcOffset), C.size_t(dstOffset), C.size_t(size), 0, nil, nil)
	if st != C.CL_SUCCESS {
		return fmt.Errorf("clEnqueueCopyBuffer: %w", Status(st))
	}
	return nil
}

func (q *clQueue) MapBuffer(m Mem, blocking bool, flags MapFlags, offset, size int) ([]byte, error) {
	cm, ok := m.(*clMem)
	if !ok {
		return nil, StatusInvalidMemObject
	}
	var clFlags C.cl_map_flags
	if flags&MapRead != 0 {
		clFlags |= C.CL_MAP_READ
	}
	if flags&MapWrite != 0 {
		clFlags |= C.CL_MAP_WRITE
	}
	block := C.cl_bool(C.CL_FALSE)
	if blocking {
		block = C.CL_TRUE
	}
	var st C.cl_int
	ptr := C.clEnqueueMapBuffer(q.q, cm.m, block, clFlags, C.size_t(offset), C.size_t(size), 0, nil, nil, &st)
	if st != C.CL_SUCCESS {
		return nil, fmt.Errorf("clEnqueueMapBuffer: %w", Status(st))
	}
	return unsafe.Slice((*byte)(ptr), size), nil
}

func (q *clQueue) UnmapBuffer(m Mem, mapped []byte) error {
	cm, ok := m.(*clMem)
	if !ok {
		return StatusInvalidMemObject
	}
	if len(mapped) == 0 {
		return StatusInvalidValue
	}
	st := C.clEnqueueUnmapMemObject(q.q, cm.m, unsafe.Pointer(&mapped[0]), 0, nil, nil)
	if st != C.CL_SUCCESS {
		return fmt.Errorf("clEnqueueUnmapMemObject: %w", Status(st))
	}
	return nil
}

func toSizeT(v []int) []C.size_t {
	if v == nil {
		return nil
	}
	out := make([]C.size_t, len(v))
	for i, x := range v {
		out[i] = C.size_t(x)
	}
	return out
}

func firstOrNil(v []C.size_t) *C.size_t {
	if len(v) == 0 {
		return nil
	}
	return &v[0]
}

func (q *clQueue) EnqueueNDRange(k Kernel, offset, global, local []int) error {
	ck, ok := k.(*clKernel)
	if !ok {
		return StatusInvalidKernel
	}
	if len(global) == 0 {
		return StatusInvalidWorkDimension
	}
	g, o, l := toSizeT(global), toSizeT(offset), toSizeT(local)
	st := C.clEnqueueNDRangeKernel(q.q, ck.k, C.cl_uint(len(global)), firstOrNil(o), firstOrNil(g), firstOrNil(l), 0, nil, nil)
	if st != C.CL_SUCCESS {
		return fmt.Errorf("clEnqueueNDRangeKernel(%s): %w", ck.name, Status(st))
	}
	return nil
}

func (q *clQueue) Flush() error {
	if st := C.clFlush(q.q); st != C.CL_SUCCESS {
		return Status(st)
	}
	return nil
}

func (q *clQueue) Finish() error {
	if st := C.clFinish(q.q); st != C.CL_SUCCESS {
		return Status(st)
	}
	return nil
}

func (q *clQueue) Release() error {
	if st := C.clReleaseCommandQueue(q.q); st != C.CL_SUCCESS {
		return Status(st)
	}
	return nil
}

type clProgram struct {
	ctx *clContext
	p   C.cl_program

	mu      sync.Mutex
	devices []*clDevice
}

func (p *clProgram) Build(devices []Device, options string) error {
	targets := p.ctx.devices
	if devices != nil {
		targets = nil
		for _, d := range devices {
			cd, ok := p.ctx.device(d)
			if !ok {
				return StatusInvalidDevice
			}
			targets = append(targets, cd)
		}
	}
	ids := make([]C.cl_device_id, len(targets))
	for i, d := range targets {
		ids[i] = d.id
	}
	opts := C.CString(options)
	defer C.free(unsafe.Pointer(opts))

	p.mu.Lock()
	p.devices = targets
	p.mu.Unlock()

	st := C.clBuildProgram(p.p, C.cl_uint(len(ids)), &ids[0], opts, nil, nil)
	if st != C.CL_SUCCESS {
		return &BuildError{Status: Status(st), Logs: p.BuildLog()}
	}
	return nil
}

func (p *clProgram) BuildLog() []BuildLog {
	p.mu.Lock()
	devices := p.devices
	p.mu.Unlock()

	logs := make([]BuildLog, 0, len(devices))
	for _, d := range devices {
		var size C.size_t
		if st := C.clGetProgramBuildInfo(p.p, d.id, C.CL_PROGRAM_BUILD_LOG, 0, nil, &size); st != C.CL_SUCCESS || size == 0 {
			continue
		}
		buf := make([]byte, int(size))
		if st := C.clGetProgramBuildInfo(p.p, d.id, C.CL_PROGRAM_BUILD_LOG, size, unsafe.Pointer(&buf[0]), nil); st != C.CL_SUCCESS {
			continue
		}
		logs = append(logs, BuildLog{Device: d.info.Name, Log: trimNull(buf)})
	}
	return logs
}

func (p *clProgram) Kernels() ([]Kernel, error) {
	var n C.cl_uint
	if st := C.clCreateKernelsInProgram(p.p, 0, nil, &n); st != C.CL_SUCCESS {
		return nil, fmt.Errorf("clCreateKernelsInProgram: %w", Status(st))
	}
	if n == 0 {
		return nil, nil
	}
	ks := make([]C.cl_kernel, int(n))
	if st := C.clCreateKernelsInProgram(p.p, n, &ks[0], nil); st != C.CL_SUCCESS {
		return nil, fmt.Errorf("clCreateKernelsInProgram: %w", Status(st))
	}
	out := make([]Kernel, 0, len(ks))
	for _, k := range ks {
		ck := &clKernel{program: p, k: k}
		var size C.size_t
		C.clGetKernelInfo(k, C.CL_KERNEL_FUNCTION_NAME, 0, nil, &size)
		if size > 0 {
			buf := make([]byte, int(size))
			C.clGetKernelInfo(k, C.CL_KERNEL_FUNCTION_NAME, size, unsafe.Pointer(&buf[0]), nil)
			ck.name = trimNull(buf)
		}
		var nargs C.cl_uint
		C.clGetKernelInfo(k, C.CL_KERNEL_NUM_ARGS, C.size_t(unsafe.Sizeof(nargs)), unsafe.Pointer(&nargs), nil)
		ck.numArgs = int(nargs)
		out = append(out, ck)
	}
	return out, nil
}

func (p *clProgram) Binaries() ([][]byte, error) {
	var n C.cl_uint
	if st := C.clGetProgramInfo(p.p, C.CL_PROGRAM_NUM_DEVICES, C.size_t(unsafe.Sizeof(n)), unsafe.Pointer(&n), nil); st != C.CL_SUCCESS {
		return nil, fmt.Errorf("clGetProgramInfo: %w", Status(st))
	}
	sizes := make([]C.size_t, int(n))
	if st := C.clGetProgramInfo(p.p, C.CL_PROGRAM_BINARY_SIZES, C.size_t(len(sizes))*C.size_t(unsafe.Sizeof(sizes[0])),
		unsafe.Pointer(&sizes[0]), nil); st != C.CL_SUCCESS {
		return nil, fmt.Errorf("clGetProgramInfo: %w", Status(st))
	}

	ptrSize := C.size_t(unsafe.Sizeof(uintptr(0)))
	ptrs := (*[1 << 20]unsafe.Pointer)(C.malloc(C.size_t(n) * ptrSize))[:n:n]
	defer C.free(unsafe.Pointer(&ptrs[0]))
	for i, s := range sizes {
		ptrs[i] = C.malloc(s + 1)
	}
	defer func() {
		for _, ptr := range ptrs {
			C.free(ptr)
		}
	}()

	if st := C.clGetProgramInfo(p.p, C.CL_PROGRAM_BINARIES, C.size_t(n)*ptrSize, unsafe.Pointer(&ptrs[0]), nil); st != C.CL_SUCCESS {
		return nil, fmt.Errorf("clGetProgramInfo: %w", Status(st))
	}
	out := make([][]byte, int(n))
	for i, s := range sizes {
		out[i] = C.GoBytes(ptrs[i], C.int(s))
	}
	return out, nil
}

func (p *clProgram) Release() error {
	if st := C.clReleaseProgram(p.p); st != C.CL_SUCCESS {
		return Status(st)
	}
	return nil
}

type clKernel struct {
	program *clProgram
	k       C.cl_kernel
	name    string
	numArgs int
}

func (k *clKernel) Name() string     { return k.name }
func (k *clKernel) NumArgs() int     { return k.numArgs }
func (k *clKernel) Program() Program { return k.program }

func (k *clKernel) SetArg(index int, value []byte) error {
	if len(value) == 0 {
		return StatusInvalidArgValue
	}
	if st := C.clSetKernelArg(k.k, C.cl_uint(index), C.size_t(len(value)), unsafe.Pointer(&value[0])); st != C.CL_SUCCESS {
		return Status(st)
	}
	return nil
}

func (k *clKernel) SetArgBuffer(index int, m Mem) error {
	cm, ok := m.(*clMem)
	if !ok {
		return StatusInvalidMemObject
	}
	mem := cm.m
	if st := C.clSetKernelArg(k.k, C.cl_uint(index), C.size_t(unsafe.Sizeof(mem)), unsafe.Pointer(&mem)); st != C.CL_SUCCESS {
		return Status(st)
	}
	return nil
}

func (k *clKernel) SetArgLocal(index int, size int) error {
	if st := C.clSetKernelArg(k.k, C.cl_uint(index), C.size_t(size), nil); st != C.CL_SUCCESS {
		return Status(st)
	}
	return nil
}

func (k *clKernel) WorkGroupInfo(device Device) (WorkGroupInfo, error) {
	cd, ok := k.program.ctx.device(device)
	if !ok {
		return WorkGroupInfo{}, StatusInvalidDevice
	}
	var localMem, privateMem C.cl_ulong
	var wgSize, multiple C.size_t
	for _, q := range []struct {
		param C.cl_kernel_work_group_info
		size  uintptr
		ptr   unsafe.Pointer
	}{
		{C.CL_KERNEL_LOCAL_MEM_SIZE, unsafe.Sizeof(localMem), unsafe.Pointer(&localMem)},
		{C.CL_KERNEL_PRIVATE_MEM_SIZE, unsafe.Sizeof(privateMem), unsafe.Pointer(&privateMem)},
		{C.CL_KERNEL_WORK_GROUP_SIZE, unsafe.Sizeof(wgSize), unsafe.Pointer(&wgSize)},
		{C.CL_KERNEL_PREFERRED_WORK_GROUP_SIZE_MULTIPLE, unsafe.Sizeof(multiple), unsafe.Pointer(&multiple)},
	} {
		if st := C.clGetKernelWorkGroupInfo(k.k, cd.id, q.param, C.size_t(q.size), q.ptr, nil); st != C.CL_SUCCESS {
			return WorkGroupInfo{}, fmt.Errorf("clGetKernelWorkGroupInfo: %w", Status(st))
		}
	}
	return WorkGroupInfo{
		LocalMemSize:                   int64(localMem),
		WorkGroupSize:                  int(wgSize),
		PreferredWorkGroupSizeMultiple: int(multiple),
		PrivateMemSize:                 int64(privateMem),
	}, nil
}

func (k *clKernel) Release() error {
	if st := C.clReleaseKernel(k.k); st != C.CL_SUCCESS {
		return Status(st)
	}
	return nil
}
