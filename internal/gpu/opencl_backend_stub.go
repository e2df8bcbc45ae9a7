//go:build !opencl

package gpu

import "go.uber.org/zap"

// OpenCLBackend is a stub type when the module is built without the
// opencl tag.
type OpenCLBackend struct{}

// NewOpenCLBackend always fails with ErrNotBuilt.
func NewOpenCLBackend(logger *zap.Logger) (*OpenCLBackend, error) {
	return nil, ErrNotBuilt
}

// Stub implementations to satisfy the Backend interface
func (b *OpenCLBackend) Name() string { return "opencl" }

func (b *OpenCLBackend) Devices(DeviceType) ([]Device, error) {
	return nil, ErrNotBuilt
}

func (b *OpenCLBackend) CreateContext([]Device) (Context, error) {
	return nil, ErrNotBuilt
}
