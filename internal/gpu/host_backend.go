package gpu

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/shirou/gopsutil/mem"
	"go.uber.org/zap"
)

// HostDeviceSpec describes one device exposed by the host backend.
type HostDeviceSpec struct {
	Name    string
	Vendor  string
	Version string
	Type    DeviceType
	// LocalMemory and MaxWorkGroupSize default to 64 KiB and 1024.
	LocalMemory      int64
	MaxWorkGroupSize int
}

// HostBackend implements Backend in-process. Kernels execute as Go
// functions registered with RegisterKernel, which makes the backend
// usable on machines without a compute driver and in tests.
type HostBackend struct {
	logger  *zap.Logger
	devices []*hostDevice
	kernels map[string]HostKernel
}

// HostOption configures a HostBackend.
type HostOption func(*HostBackend)

// WithDevices replaces the default device list.
func WithDevices(specs ...HostDeviceSpec) HostOption {
	return func(b *HostBackend) {
		b.devices = b.devices[:0]
		for _, s := range specs {
			b.devices = append(b.devices, newHostDevice(s))
		}
	}
}

// WithKernels registers host kernels on this backend only. They take
// precedence over globally registered kernels of the same name.
func WithKernels(kernels ...HostKernel) HostOption {
	return func(b *HostBackend) {
		for _, k := range kernels {
			b.kernels[k.Name] = k
		}
	}
}

// DefaultHostDevice is the device exposed when no spec is given.
var DefaultHostDevice = HostDeviceSpec{
	Name:    "Host Compute Device",
	Vendor:  "fxnlabs",
	Version: "OpenCL 2.0 host",
	Type:    DeviceTypeGPU,
}

// NewHostBackend creates a new host backend instance
func NewHostBackend(logger *zap.Logger, opts ...HostOption) *HostBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &HostBackend{
		logger:  logger.Named("host"),
		devices: []*hostDevice{newHostDevice(DefaultHostDevice)},
		kernels: map[string]HostKernel{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *HostBackend) Name() string { return "host" }

// Devices returns the configured devices matching t.
func (b *HostBackend) Devices(t DeviceType) ([]Device, error) {
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

// CreateContext groups host devices into a context.
func (b *HostBackend) CreateContext(devices []Device) (Context, error) {
	if len(devices) == 0 {
		return nil, StatusInvalidValue
	}
	hds := make([]*hostDevice, 0, len(devices))
	for _, d := range devices {
		hd, ok := d.(*hostDevice)
		if !ok {
			return nil, StatusInvalidDevice
		}
		hds = append(hds, hd)
	}
	return &hostContext{backend: b, devices: hds}, nil
}

func (b *HostBackend) lookupKernel(name string) (HostKernel, bool) {
	if k, ok := b.kernels[name]; ok {
		return k, true
	}
	return lookupHostKernel(name)
}

type hostDevice struct {
	info DeviceInfo
}

func newHostDevice(s HostDeviceSpec) *hostDevice {
	if s.Name == "" {
		s.Name = DefaultHostDevice.Name
	}
	if s.Vendor == "" {
		s.Vendor = DefaultHostDevice.Vendor
	}
	if s.Version == "" {
		s.Version = DefaultHostDevice.Version
	}
	if s.Type == "" {
		s.Type = DefaultHostDevice.Type
	}
	if s.LocalMemory == 0 {
		s.LocalMemory = 64 * 1024
	}
	if s.MaxWorkGroupSize == 0 {
		s.MaxWorkGroupSize = 1024
	}
	global := getTotalSystemMemory()
	return &hostDevice{info: DeviceInfo{
		Name:                       s.Name,
		Vendor:                     s.Vendor,
		Version:                    s.Version,
		Type:                       s.Type,
		ComputeUnits:               runtime.NumCPU(),
		GlobalMemory:               global,
		LocalMemory:                s.LocalMemory,
		MaxAllocation:              global / 4,
		MaxWorkGroupSize:           s.MaxWorkGroupSize,
		PreferredWorkGroupMultiple: 32,
	}}
}

func (d *hostDevice) Info() DeviceInfo { return d.info }

// getTotalSystemMemory returns total system memory in bytes
func getTotalSystemMemory() int64 {
	vm, err := mem.VirtualMemory()
	if err != nil || vm.Total == 0 {
		return 8 * 1024 * 1024 * 1024 // 8GB
	}
	return int64(vm.Total)
}

type hostContext struct {
	backend *HostBackend

	mu       sync.Mutex
	devices  []*hostDevice
	released bool
}

func (c *hostContext) Devices() []Device {
	out := make([]Device, len(c.devices))
	for i, d := range c.devices {
		out[i] = d
	}
	return out
}

func (c *hostContext) has(d Device) bool {
	for _, hd := range c.devices {
		if Device(hd) == d {
			return true
		}
	}
	return false
}

func (c *hostContext) valid() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return StatusInvalidContext
	}
	return nil
}

// maxAllocation is the smallest allocation limit among the context's devices.
func (c *hostContext) maxAllocation() int64 {
	limit := c.devices[0].info.MaxAllocation
	for _, d := range c.devices[1:] {
		if d.info.MaxAllocation < limit {
			limit = d.info.MaxAllocation
		}
	}
	return limit
}

// CreateQueue starts the in-order worker of a new queue. Devices below
// OpenCL 2.0 have no command-queue-with-properties entry point.
func (c *hostContext) CreateQueue(device Device) (Queue, error) {
	if err := c.valid(); err != nil {
		return nil, err
	}
	if !c.has(device) {
		return nil, StatusInvalidDevice
	}
	major, _, err := device.Info().APIVersion()
	if err != nil || major < 2 {
		return nil, StatusInvalidOperation
	}
	return newHostQueue(c, device.(*hostDevice)), nil
}

func (c *hostContext) CreateBuffer(flags MemFlags, size int, host []byte) (Mem, error) {
	if err := c.valid(); err != nil {
		return nil, err
	}
	if size <= 0 || int64(size) > c.maxAllocation() {
		return nil, StatusInvalidBufferSize
	}

	access := flags & (MemReadWrite | MemWriteOnly | MemReadOnly)
	if access != 0 && access != MemReadWrite && access != MemWriteOnly && access != MemReadOnly {
		return nil, StatusInvalidValue
	}
	if access == 0 {
		flags |= MemReadWrite
	}
	if flags.Has(MemUseHostPtr) && (flags.Has(MemAllocHostPtr) || flags.Has(MemCopyHostPtr)) {
		return nil, StatusInvalidValue
	}

	hostFlags := flags.Has(MemUseHostPtr) || flags.Has(MemCopyHostPtr)
	if hostFlags != (host != nil) {
		return nil, StatusInvalidHostPtr
	}
	if host != nil && len(host) < size {
		return nil, StatusInvalidHostPtr
	}

	m := &hostMem{ctx: c, flags: flags, size: size}
	switch {
	case flags.Has(MemUseHostPtr):
		m.data = host[:size]
	default:
		m.data = alignedBytes(size)
		if flags.Has(MemCopyHostPtr) {
			copy(m.data, host[:size])
		}
	}
	return m, nil
}

func (c *hostContext) CreateProgram(source string) (Program, error) {
	if err := c.valid(); err != nil {
		return nil, err
	}
	return &hostProgram{ctx: c, source: source}, nil
}

func (c *hostContext) CreateProgramWithBinary(devices []Device, binaries [][]byte) (Program, error) {
	if err := c.valid(); err != nil {
		return nil, err
	}
	if len(devices) == 0 || len(devices) != len(binaries) {
		return nil, StatusInvalidValue
	}
	var image *hostBinary
	for i, d := range devices {
		if !c.has(d) {
			return nil, StatusInvalidDevice
		}
		bin, err := decodeHostBinary(binaries[i])
		if err != nil {
			return nil, StatusInvalidBinary
		}
		if bin.Device != d.Info().Name {
			return nil, fmt.Errorf("binary built for %q, not %q: %w", bin.Device, d.Info().Name, StatusInvalidBinary)
		}
		image = bin
	}
	return &hostProgram{ctx: c, source: image.Source, binary: image}, nil
}

func (c *hostContext) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return StatusInvalidContext
	}
	c.released = true
	return nil
}

type hostMapping struct {
	offset int
	size   int
}

type hostMem struct {
	ctx   *hostContext
	flags MemFlags
	size  int
	data  []byte

	mu       sync.Mutex
	mappings []hostMapping
	released bool
}

func (m *hostMem) Size() int       { return m.size }
func (m *hostMem) Flags() MemFlags { return m.flags }

func (m *hostMem) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return StatusInvalidMemObject
	}
	m.released = true
	return nil
}

func (m *hostMem) valid() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return StatusInvalidMemObject
	}
	return nil
}

func (m *hostMem) addMapping(offset, size int) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mappings = append(m.mappings, hostMapping{offset: offset, size: size})
	return m.data[offset : offset+size : offset+size]
}

// removeMapping forgets the mapping whose storage is mapped.
func (m *hostMem) removeMapping(mapped []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(mapped) == 0 {
		return StatusInvalidValue
	}
	for i, mp := range m.mappings {
		if mp.size == len(mapped) && &m.data[mp.offset] == &mapped[0] {
			m.mappings = append(m.mappings[:i], m.mappings[i+1:]...)
			return nil
		}
	}
	return StatusInvalidValue
}

// MappedCount reports how many host mappings of m are outstanding.
func (m *hostMem) MappedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.mappings)
}

// HostMappedCount returns the number of outstanding mappings of a host
// backend buffer, or -1 for buffers of other backends.
func HostMappedCount(m Mem) int {
	hm, ok := m.(*hostMem)
	if !ok {
		return -1
	}
	return hm.MappedCount()
}

func asHostMem(c *hostContext, m Mem) (*hostMem, error) {
	hm, ok := m.(*hostMem)
	if !ok || hm.ctx != c {
		return nil, StatusInvalidMemObject
	}
	if err := hm.valid(); err != nil {
		return nil, err
	}
	return hm, nil
}
