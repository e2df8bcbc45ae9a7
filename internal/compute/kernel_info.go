package compute

import (
	"github.com/fxnlabs/compute-node/internal/gpu"
)

// KernelInfo is the resource footprint of a kernel on one device.
type KernelInfo struct {
	LocalMemSize                   int64
	WorkGroupSize                  int
	PreferredWorkGroupSizeMultiple int
	PrivateMemSize                 int64

	device gpu.DeviceInfo
}

// NewKernelInfo queries the footprint of k on dev.
func NewKernelInfo(k *Kernel, dev *Device) (KernelInfo, error) {
	wg, err := k.native.WorkGroupInfo(dev.device)
	if err != nil {
		return KernelInfo{}, newError(ErrLaunch, "kernel info "+k.Name(), err)
	}
	return KernelInfo{
		LocalMemSize:                   wg.LocalMemSize,
		WorkGroupSize:                  wg.WorkGroupSize,
		PreferredWorkGroupSizeMultiple: wg.PreferredWorkGroupSizeMultiple,
		PrivateMemSize:                 wg.PrivateMemSize,
		device:                         dev.Info(),
	}, nil
}

// CheckKernel reports whether the device has enough local memory for the
// kernel.
func (i KernelInfo) CheckKernel() bool {
	return i.LocalMemSize <= i.device.LocalMemory
}

// Fits reports whether a launch with work-group size local stays within
// the kernel and device limits. An empty local always fits.
func (i KernelInfo) Fits(local NDRange) bool {
	if !i.CheckKernel() {
		return false
	}
	if len(local) == 0 {
		return true
	}
	total := local.Total()
	return total > 0 && total <= i.WorkGroupSize && total <= i.device.MaxWorkGroupSize
}
