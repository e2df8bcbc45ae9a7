package gpu

import (
	"fmt"
	"strings"
)

// DeviceType selects a class of compute devices during enumeration.
type DeviceType string

const (
	DeviceTypeGPU         DeviceType = "gpu"
	DeviceTypeCPU         DeviceType = "cpu"
	DeviceTypeAccelerator DeviceType = "accelerator"
	DeviceTypeAll         DeviceType = "all"
)

// ParseDeviceType converts a configuration string into a DeviceType.
func ParseDeviceType(s string) (DeviceType, error) {
	switch t := DeviceType(strings.ToLower(strings.TrimSpace(s))); t {
	case DeviceTypeGPU, DeviceTypeCPU, DeviceTypeAccelerator, DeviceTypeAll:
		return t, nil
	case "":
		return DeviceTypeGPU, nil
	default:
		return "", fmt.Errorf("unknown device type: %q", s)
	}
}

// Vendor classifies the device vendor string.
type Vendor int

const (
	VendorOther Vendor = iota
	VendorAMD
	VendorNVIDIA
	VendorIntel
	VendorQualcomm
)

func (v Vendor) String() string {
	switch v {
	case VendorAMD:
		return "AMD"
	case VendorNVIDIA:
		return "NVIDIA"
	case VendorIntel:
		return "Intel"
	case VendorQualcomm:
		return "Qualcomm"
	default:
		return "Other"
	}
}

// DeviceInfo contains information about a compute device
type DeviceInfo struct {
	Name                       string     `json:"name"`
	Vendor                     string     `json:"vendor"`
	Version                    string     `json:"version"` // "OpenCL <major>.<minor> ..."
	Type                       DeviceType `json:"type"`
	ComputeUnits               int        `json:"computeUnits"`
	GlobalMemory               int64      `json:"globalMemory"` // in bytes
	LocalMemory                int64      `json:"localMemory"`  // in bytes
	MaxAllocation              int64      `json:"maxAllocation"`
	MaxWorkGroupSize           int        `json:"maxWorkGroupSize"`
	PreferredWorkGroupMultiple int        `json:"preferredWorkGroupMultiple"`
}

// VendorKind classifies the vendor string reported by the driver.
func (d DeviceInfo) VendorKind() Vendor {
	v := strings.ToUpper(d.Vendor)
	switch {
	case strings.Contains(v, "AMD"), strings.Contains(v, "ADVANCED MICRO DEVICES"):
		return VendorAMD
	case strings.Contains(v, "NVIDIA"):
		return VendorNVIDIA
	case strings.Contains(v, "INTEL"):
		return VendorIntel
	case strings.Contains(v, "QUALCOMM"):
		return VendorQualcomm
	default:
		return VendorOther
	}
}

// APIVersion parses the major and minor API version out of Version.
func (d DeviceInfo) APIVersion() (major, minor int, err error) {
	return ParseVersion(d.Version)
}

// ParseVersion parses strings like "OpenCL 2.0 CUDA" or "1.2".
func ParseVersion(s string) (major, minor int, err error) {
	fields := strings.Fields(s)
	for _, f := range fields {
		if _, err := fmt.Sscanf(f, "%d.%d", &major, &minor); err == nil {
			return major, minor, nil
		}
	}
	return 0, 0, fmt.Errorf("unparsable version %q", s)
}

// MemFlags controls how a buffer is allocated.
type MemFlags uint32

const (
	MemReadWrite    MemFlags = 1 << 0
	MemWriteOnly    MemFlags = 1 << 1
	MemReadOnly     MemFlags = 1 << 2
	MemUseHostPtr   MemFlags = 1 << 3
	MemAllocHostPtr MemFlags = 1 << 4
	MemCopyHostPtr  MemFlags = 1 << 5
)

// Has reports whether all bits of f are set.
func (m MemFlags) Has(f MemFlags) bool {
	return m&f == f
}

// MapFlags selects the direction of a host mapping.
type MapFlags uint32

const (
	MapRead  MapFlags = 1 << 0
	MapWrite MapFlags = 1 << 1
)

// BuildLog is the build output of one device.
type BuildLog struct {
	Device string
	Log    string
}

// WorkGroupInfo is the resource footprint of a kernel on one device.
type WorkGroupInfo struct {
	LocalMemSize                   int64
	WorkGroupSize                  int
	PreferredWorkGroupSizeMultiple int
	PrivateMemSize                 int64
}

// Backend defines the interface for compute API implementations.
// This interface allows for multiple implementations (OpenCL drivers,
// the in-process host backend) and provides a consistent handle model:
// devices are grouped into contexts, contexts own memory and programs,
// and queues submit work to one device in order.
//
// Implementation notes:
// - Handles are only valid together with the context that created them
// - Queues are not required to be safe for concurrent submission
// - Program builds on distinct program objects may run concurrently
type Backend interface {
	// Name identifies the backend ("host", "opencl").
	Name() string

	// Devices enumerates the devices of the given type across all platforms.
	Devices(t DeviceType) ([]Device, error)

	// CreateContext groups devices that share memory and programs.
	CreateContext(devices []Device) (Context, error)
}

// Device is one physical or virtual accelerator.
type Device interface {
	Info() DeviceInfo
}

// Context owns memory objects and programs for a set of devices.
type Context interface {
	Devices() []Device
	CreateQueue(device Device) (Queue, error)
	// CreateBuffer allocates size bytes. host is copied when flags carry
	// MemCopyHostPtr and used as backing storage with MemUseHostPtr.
	CreateBuffer(flags MemFlags, size int, host []byte) (Mem, error)
	CreateProgram(source string) (Program, error)
	CreateProgramWithBinary(devices []Device, binaries [][]byte) (Program, error)
	Release() error
}

// Queue is an in-order submission channel to one device.
type Queue interface {
	Device() Device
	WriteBuffer(m Mem, blocking bool, offset int, src []byte) error
	ReadBuffer(m Mem, blocking bool, offset int, dst []byte) error
	CopyBuffer(src, dst Mem, srcOffset, dstOffset, size int) error
	// MapBuffer exposes size bytes at offset to the host. The returned
	// slice must be handed back to UnmapBuffer exactly once.
	MapBuffer(m Mem, blocking bool, flags MapFlags, offset, size int) ([]byte, error)
	UnmapBuffer(m Mem, mapped []byte) error
	EnqueueNDRange(k Kernel, offset, global, local []int) error
	Flush() error
	Finish() error
	Release() error
}

// Mem is a device memory allocation.
type Mem interface {
	Size() int
	Flags() MemFlags
	Release() error
}

// Program is a compilation unit holding one or more kernels.
type Program interface {
	Build(devices []Device, options string) error
	BuildLog() []BuildLog
	// Kernels returns every kernel of a built program in declaration order.
	Kernels() ([]Kernel, error)
	// Binaries returns one binary per device the program was built for.
	Binaries() ([][]byte, error)
	Release() error
}

// Kernel is one callable entry point of a built program.
type Kernel interface {
	Name() string
	NumArgs() int
	Program() Program
	SetArg(index int, value []byte) error
	SetArgBuffer(index int, m Mem) error
	SetArgLocal(index int, size int) error
	WorkGroupInfo(device Device) (WorkGroupInfo, error)
	Release() error
}
