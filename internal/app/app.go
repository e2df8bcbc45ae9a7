// Package app assembles the compute stack with fx: configuration, logger,
// backend, device registry and the default device and compiler. Devices
// are released when the application stops.
package app

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fxnlabs/compute-node/internal/compute"
	"github.com/fxnlabs/compute-node/internal/config"
	"github.com/fxnlabs/compute-node/internal/gpu"
	"github.com/fxnlabs/compute-node/internal/logger"
)

// Module provides *zap.Logger, gpu.Backend, *compute.Registry,
// *compute.Device and *compute.Compiler. A *config.Config must be
// supplied separately.
var Module = fx.Options(
	fx.Provide(
		NewLogger,
		NewBackend,
		NewRegistry,
		DefaultDevice,
		DefaultCompiler,
	),
	fx.Invoke(RegisterMetricsServer),
)

// New builds an application around cfg. extra options are appended, e.g.
// fx.Populate or fx.NopLogger.
func New(cfg *config.Config, extra ...fx.Option) *fx.App {
	return fx.New(append([]fx.Option{fx.Supply(cfg), Module}, extra...)...)
}

func NewLogger(lc fx.Lifecycle, cfg *config.Config) (*zap.Logger, error) {
	log, err := logger.New(cfg.Logger.Verbosity)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			_ = log.Sync() // fails on terminals, nothing to do about it
			return nil
		},
	})
	return log, nil
}

func NewBackend(cfg *config.Config, log *zap.Logger) (gpu.Backend, error) {
	return gpu.NewBackend(cfg.Compute.Backend, log.Named("gpu"))
}

// NewRegistry enumerates the configured device type and closes every
// device on stop.
func NewRegistry(lc fx.Lifecycle, cfg *config.Config, backend gpu.Backend, log *zap.Logger) (*compute.Registry, error) {
	t, err := gpu.ParseDeviceType(cfg.Compute.DeviceType)
	if err != nil {
		return nil, err
	}
	r, err := compute.Enumerate(backend, t, log,
		compute.WithDefaultDevice(cfg.Compute.DefaultDevice),
		compute.WithDeviceOptions(DeviceOptions(cfg)...),
	)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			r.Close()
			return nil
		},
	})
	return r, nil
}

// DeviceOptions translates the compute section into device options.
func DeviceOptions(cfg *config.Config) []compute.DeviceOption {
	return []compute.DeviceOption{
		compute.WithMinVersion(cfg.Compute.MinVersion),
		compute.WithKernelDir(cfg.Compute.KernelDir),
		compute.WithBuildOptions(
			compute.ParseOptions(cfg.Compute.EssentialOptions),
			compute.ParseOptions(cfg.Compute.OtherOptions),
		),
	}
}

func DefaultDevice(r *compute.Registry) *compute.Device { return r.Default() }

func DefaultCompiler(r *compute.Registry) *compute.Compiler { return r.Compiler() }
