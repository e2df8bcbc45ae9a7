package compute

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fxnlabs/compute-node/internal/gpu"
	"github.com/fxnlabs/compute-node/internal/metrics"
)

// Defaults applied by NewDevice.
const (
	DefaultMinVersion       = "2.0"
	DefaultEssentialOptions = OptimizeFastMath
	DefaultOtherOptions     = StdCL20
)

// Device owns a context and an in-order queue on one compute device, and
// caches the kernels compiled for it.
type Device struct {
	backend  gpu.Backend
	device   gpu.Device
	ctx      gpu.Context
	queue    gpu.Queue
	compiler *Compiler
	logger   *zap.Logger

	minVersion string
	kernelDir  string
	essential  CompileOptions
	other      CompileOptions

	mu       sync.Mutex
	kernels  map[string]*cacheEntry
	reported int

	releaseOnce sync.Once
}

type cacheEntry struct {
	once sync.Once
	set  KernelSet
	err  error
}

// DeviceOption configures a Device.
type DeviceOption func(*Device)

// WithMinVersion rejects devices reporting an older API version.
func WithMinVersion(version string) DeviceOption {
	return func(d *Device) { d.minVersion = version }
}

// WithBuildOptions sets the options used when a kernel is compiled on a
// cache miss. other is dropped if the build fails with it.
func WithBuildOptions(essential, other CompileOptions) DeviceOption {
	return func(d *Device) {
		d.essential = essential
		d.other = other
	}
}

// WithKernelDir sets where kernel sources are looked up.
func WithKernelDir(dir string) DeviceOption {
	return func(d *Device) { d.kernelDir = dir }
}

// NewDevice opens dev for use. It fails with ErrDeviceInit when the device
// is too old or no queue can be created on it.
func NewDevice(backend gpu.Backend, dev gpu.Device, logger *zap.Logger, opts ...DeviceOption) (*Device, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Device{
		backend:    backend,
		device:     dev,
		minVersion: DefaultMinVersion,
		kernelDir:  ".",
		essential:  Options(DefaultEssentialOptions),
		other:      Options(DefaultOtherOptions),
		kernels:    map[string]*cacheEntry{},
	}
	for _, opt := range opts {
		opt(d)
	}

	info := dev.Info()
	d.logger = logger.Named("device").With(zap.String("device", info.Name))
	op := "open " + info.Name

	if err := checkVersion(info, d.minVersion); err != nil {
		return nil, &Error{Kind: ErrDeviceInit, Op: op, Code: gpu.StatusInvalidDevice, Err: err}
	}

	ctx, err := backend.CreateContext([]gpu.Device{dev})
	if err != nil {
		return nil, newError(ErrDeviceInit, op, err)
	}
	queue, err := ctx.CreateQueue(dev)
	if err != nil {
		if rerr := ctx.Release(); rerr != nil {
			d.logger.Warn("Failed to release context", zap.Error(rerr))
		}
		return nil, newError(ErrDeviceInit, op, err)
	}
	d.ctx = ctx
	d.queue = queue
	d.compiler = NewCompiler(ctx, logger, WithSourceDir(d.kernelDir))

	d.logger.Info("Opened compute device",
		zap.String("vendor", info.VendorKind().String()),
		zap.String("version", info.Version),
		zap.String("backend", backend.Name()))
	return d, nil
}

func checkVersion(info gpu.DeviceInfo, min string) error {
	wantMajor, wantMinor, err := gpu.ParseVersion(min)
	if err != nil {
		return err
	}
	major, minor, err := info.APIVersion()
	if err != nil {
		return err
	}
	if major < wantMajor || (major == wantMajor && minor < wantMinor) {
		return fmt.Errorf("device version %d.%d is below required %d.%d", major, minor, wantMajor, wantMinor)
	}
	return nil
}

func (d *Device) Info() gpu.DeviceInfo { return d.device.Info() }
func (d *Device) Name() string         { return d.device.Info().Name }
func (d *Device) Vendor() gpu.Vendor   { return d.device.Info().VendorKind() }

// Native returns the backend device handle.
func (d *Device) Native() gpu.Device   { return d.device }
func (d *Device) Backend() gpu.Backend { return d.backend }
func (d *Device) Context() gpu.Context { return d.ctx }
func (d *Device) Queue() gpu.Queue     { return d.queue }
func (d *Device) Compiler() *Compiler  { return d.compiler }
func (d *Device) Logger() *zap.Logger  { return d.logger }

// BuildOptions returns the options used for cache misses.
func (d *Device) BuildOptions() (essential, other CompileOptions) { return d.essential, d.other }

// KernelSet returns every kernel of the program called name, compiling
// <kernelDir>/<name>.cl on the first request. Concurrent callers share a
// single compilation. Failed compilations are not cached.
func (d *Device) KernelSet(name string) (KernelSet, error) {
	d.mu.Lock()
	e, ok := d.kernels[name]
	if !ok {
		e = &cacheEntry{}
		d.kernels[name] = e
	}
	d.mu.Unlock()

	e.once.Do(func() {
		e.set, e.err = d.compiler.Build(name, d.essential, d.other)
		d.mu.Lock()
		defer d.mu.Unlock()
		if e.err != nil {
			delete(d.kernels, name)
			d.reportCacheSize()
			return
		}
		d.addAliases(e.set)
		d.reportCacheSize()
	})
	return e.set, e.err
}

// addAliases registers set under every kernel name it declares. Existing
// entries win. Callers hold d.mu.
func (d *Device) addAliases(set KernelSet) {
	for _, k := range set {
		if _, ok := d.kernels[k.Name()]; ok {
			continue
		}
		alias := &cacheEntry{set: set}
		alias.once.Do(func() {})
		d.kernels[k.Name()] = alias
	}
}

// reportCacheSize moves the shared cache gauge by this device's change
// since the last report. Callers hold d.mu.
func (d *Device) reportCacheSize() {
	n := len(d.kernels)
	metrics.KernelCacheEntries.Add(float64(n - d.reported))
	d.reported = n
}

// Kernel returns the kernel called name. name may be a program name or a
// kernel declared in any cached program; when a program has no kernel of
// that name its first kernel is returned.
func (d *Device) Kernel(name string) (*Kernel, error) {
	set, err := d.KernelSet(name)
	if err != nil {
		return nil, err
	}
	k := set.Lookup(name)
	if k == nil {
		return nil, &Error{Kind: ErrBuild, Op: "kernel " + name, Code: gpu.StatusInvalidKernelName,
			Err: fmt.Errorf("program %s declares no kernels", name)}
	}
	return k, nil
}

// Cached reports the names currently held by the kernel cache.
func (d *Device) Cached() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.kernels))
	for name := range d.kernels {
		names = append(names, name)
	}
	return names
}

// Preload compiles every program in dir into the cache. Programs that
// build are cached even if others fail.
func (d *Device) Preload(ctx context.Context, dir string) error {
	built, err := d.compiler.BuildAll(ctx, dir, d.essential, d.other)
	d.mu.Lock()
	for name, set := range built {
		if _, ok := d.kernels[name]; !ok {
			e := &cacheEntry{set: set}
			e.once.Do(func() {})
			d.kernels[name] = e
		}
		d.addAliases(set)
	}
	d.reportCacheSize()
	d.mu.Unlock()
	return err
}

// EnqueueKernel binds args in order and submits k over global, split into
// work-groups of local. A nil offset starts at zero and a nil local lets
// the backend choose.
func (d *Device) EnqueueKernel(k *Kernel, args []Arg, offset, global, local NDRange) error {
	op := "launch " + k.Name()
	if len(args) != k.NumArgs() {
		return &Error{Kind: ErrLaunch, Op: op, Code: gpu.StatusInvalidKernelArgs,
			Err: fmt.Errorf("got %d arguments, kernel takes %d", len(args), k.NumArgs())}
	}
	for i, arg := range args {
		if err := arg.bind(k.native, i); err != nil {
			return newError(ErrLaunch, fmt.Sprintf("%s: argument %d", op, i), err)
		}
	}
	if err := d.queue.EnqueueNDRange(k.native, offset, global, local); err != nil {
		return newError(ErrLaunch, op, err)
	}
	if err := d.queue.Flush(); err != nil {
		return newError(ErrLaunch, op, err)
	}
	metrics.KernelLaunches.WithLabelValues(k.Name()).Inc()
	return nil
}

// Finish blocks until every submitted command has completed.
func (d *Device) Finish() error {
	if err := d.queue.Finish(); err != nil {
		return newError(ErrLaunch, "finish", err)
	}
	return nil
}

// Release drains the queue and frees the queue and context. Failures are
// logged. Later calls do nothing.
func (d *Device) Release() {
	d.releaseOnce.Do(func() {
		if err := d.queue.Finish(); err != nil {
			d.logger.Warn("Failed to drain queue", zap.Error(err))
		}
		if err := d.queue.Release(); err != nil {
			d.logger.Warn("Failed to release queue", zap.Error(err))
		}
		if err := d.ctx.Release(); err != nil {
			d.logger.Warn("Failed to release context", zap.Error(err))
		}
		d.mu.Lock()
		metrics.KernelCacheEntries.Sub(float64(d.reported))
		d.reported = 0
		d.mu.Unlock()
		d.logger.Debug("Released compute device")
	})
}
