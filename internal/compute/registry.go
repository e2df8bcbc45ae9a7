package compute

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fxnlabs/compute-node/internal/gpu"
	"github.com/fxnlabs/compute-node/internal/metrics"
)

// Registry holds the usable devices of one backend.
type Registry struct {
	backend gpu.Backend
	logger  *zap.Logger
	devices []*Device
	def     int

	sharedOnce sync.Once
	shared     gpu.Context
	sharedErr  error

	closeOnce sync.Once
}

type registryOptions struct {
	defaultDevice int
	deviceOpts    []DeviceOption
}

// RegistryOption configures Enumerate.
type RegistryOption func(*registryOptions)

// WithDefaultDevice selects the default device by its index among the
// usable devices.
func WithDefaultDevice(index int) RegistryOption {
	return func(o *registryOptions) { o.defaultDevice = index }
}

// WithDeviceOptions passes opts to every NewDevice call.
func WithDeviceOptions(opts ...DeviceOption) RegistryOption {
	return func(o *registryOptions) { o.deviceOpts = append(o.deviceOpts, opts...) }
}

// Enumerate opens every device of type t. Devices that fail with
// ErrDeviceInit are logged and skipped; the remaining devices keep their
// enumeration order. It fails only if no device is usable.
func Enumerate(backend gpu.Backend, t gpu.DeviceType, logger *zap.Logger, opts ...RegistryOption) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o registryOptions
	for _, opt := range opts {
		opt(&o)
	}
	logger = logger.Named("registry")

	candidates, err := backend.Devices(t)
	if err != nil {
		return nil, newError(ErrDeviceInit, fmt.Sprintf("enumerate %s devices", t), err)
	}

	r := &Registry{backend: backend, logger: logger}
	for i, dev := range candidates {
		d, err := NewDevice(backend, dev, logger, o.deviceOpts...)
		if errors.Is(err, ErrDeviceInit) {
			logger.Warn("Skipping unusable device",
				zap.Int("index", i),
				zap.String("device", dev.Info().Name),
				zap.Error(err))
			continue
		}
		if err != nil {
			r.Close()
			return nil, err
		}
		r.devices = append(r.devices, d)
	}
	metrics.DevicesUsable.Set(float64(len(r.devices)))
	if len(r.devices) == 0 {
		return nil, &Error{Kind: ErrDeviceInit, Op: fmt.Sprintf("enumerate %s devices", t),
			Code: gpu.StatusDeviceNotFound, Err: fmt.Errorf("none of %d devices is usable", len(candidates))}
	}

	if o.defaultDevice < 0 || o.defaultDevice >= len(r.devices) {
		logger.Warn("Default device index out of range, using 0",
			zap.Int("index", o.defaultDevice),
			zap.Int("devices", len(r.devices)))
	} else {
		r.def = o.defaultDevice
	}
	logger.Info("Enumerated compute devices",
		zap.String("backend", backend.Name()),
		zap.Int("usable", len(r.devices)),
		zap.Int("candidates", len(candidates)),
		zap.String("default", r.Default().Name()))
	return r, nil
}

// Default returns the default device.
func (r *Registry) Default() *Device { return r.devices[r.def] }

// Devices returns the usable devices in enumeration order.
func (r *Registry) Devices() []*Device { return r.devices }

func (r *Registry) Backend() gpu.Backend { return r.backend }

// Compiler returns the compiler of the default device.
func (r *Registry) Compiler() *Compiler { return r.Default().compiler }

// SharedContext returns one context spanning every usable device. It is
// created on first use.
func (r *Registry) SharedContext() (gpu.Context, error) {
	r.sharedOnce.Do(func() {
		natives := make([]gpu.Device, len(r.devices))
		for i, d := range r.devices {
			natives[i] = d.device
		}
		ctx, err := r.backend.CreateContext(natives)
		if err != nil {
			r.sharedErr = newError(ErrDeviceInit, "create shared context", err)
			return
		}
		r.shared = ctx
	})
	return r.shared, r.sharedErr
}

// KernelInfo queries k on the default device.
func (r *Registry) KernelInfo(k *Kernel) (KernelInfo, error) {
	return NewKernelInfo(k, r.Default())
}

// Close releases every device and the shared context. Failures are
// logged.
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		for _, d := range r.devices {
			d.Release()
		}
		if r.shared != nil {
			if err := r.shared.Release(); err != nil {
				r.logger.Warn("Failed to release shared context", zap.Error(err))
			}
		}
		metrics.DevicesUsable.Set(0)
	})
}
