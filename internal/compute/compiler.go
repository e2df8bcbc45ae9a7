package compute

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fxnlabs/compute-node/internal/gpu"
	"github.com/fxnlabs/compute-node/internal/metrics"
)

// SourceExt is the extension of program source files.
const SourceExt = ".cl"

// BinaryExt is appended by SaveKernel when the path has no extension.
const BinaryExt = ".bin"

// Kernel is one callable entry point of a built program.
type Kernel struct {
	native  gpu.Kernel
	program string
}

// Name returns the kernel function name.
func (k *Kernel) Name() string { return k.native.Name() }

// Program returns the name of the program the kernel was built from.
func (k *Kernel) Program() string { return k.program }

func (k *Kernel) NumArgs() int { return k.native.NumArgs() }

// Native returns the backend kernel handle.
func (k *Kernel) Native() gpu.Kernel { return k.native }

// KernelSet holds the kernels of one program in declaration order.
type KernelSet []*Kernel

// Lookup returns the kernel called name, or the first kernel when none
// matches. It returns nil for an empty set.
func (s KernelSet) Lookup(name string) *Kernel {
	for _, k := range s {
		if k.Name() == name {
			return k
		}
	}
	if len(s) == 0 {
		return nil
	}
	return s[0]
}

// Names lists the kernel names in declaration order.
func (s KernelSet) Names() []string {
	names := make([]string, len(s))
	for i, k := range s {
		names[i] = k.Name()
	}
	return names
}

// KernelMap maps program names to their kernels.
type KernelMap map[string]KernelSet

// Compiler builds programs for every device of one context.
type Compiler struct {
	ctx       gpu.Context
	logger    *zap.Logger
	sourceDir string
}

// CompilerOption configures a Compiler.
type CompilerOption func(*Compiler)

// WithSourceDir sets the directory Build resolves program names in.
func WithSourceDir(dir string) CompilerOption {
	return func(c *Compiler) { c.sourceDir = dir }
}

// NewCompiler returns a compiler bound to ctx.
func NewCompiler(ctx gpu.Context, logger *zap.Logger, opts ...CompilerOption) *Compiler {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Compiler{ctx: ctx, logger: logger.Named("compiler"), sourceDir: "."}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SourceDir returns the directory Build reads from.
func (c *Compiler) SourceDir() string { return c.sourceDir }

// Build compiles <name>.cl from the source directory.
func (c *Compiler) Build(name string, essential, other CompileOptions) (KernelSet, error) {
	return c.BuildFile(filepath.Join(c.sourceDir, name+SourceExt), essential, other)
}

// BuildFile compiles the program at path. The program is named after the
// file without its extension.
func (c *Compiler) BuildFile(path string, essential, other CompileOptions) (KernelSet, error) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Kind: ErrBuild, Op: "build " + name, Err: err}
	}
	return c.BuildSource(name, string(src), essential, other)
}

// BuildSource compiles src with essential and other options combined. If
// that fails it retries once with the essential options alone; a second
// failure returns an ErrBuild error carrying every device's build log.
func (c *Compiler) BuildSource(name, src string, essential, other CompileOptions) (KernelSet, error) {
	op := "build " + name
	start := time.Now()
	defer func() {
		metrics.KernelBuildDuration.Observe(float64(time.Since(start).Milliseconds()))
	}()

	program, err := c.ctx.CreateProgram(src)
	if err != nil {
		metrics.KernelBuilds.WithLabelValues(metrics.BuildFailed).Inc()
		return nil, newError(ErrBuild, op, err)
	}

	result := metrics.BuildOK
	full := essential.With(other...)
	err = program.Build(nil, full.String())
	if err != nil && len(other) > 0 {
		c.logger.Warn("Build failed, retrying with essential options only",
			zap.String("program", name),
			zap.String("options", full.String()),
			zap.String("rejected", other.String()),
			zap.Error(err))
		result = metrics.BuildFallback
		err = program.Build(nil, essential.String())
	}
	if err != nil {
		metrics.KernelBuilds.WithLabelValues(metrics.BuildFailed).Inc()
		log := formatBuildLog(program.BuildLog())
		c.logger.Error("Build program failed",
			zap.String("program", name),
			zap.Error(err),
			zap.String("log", log))
		if rerr := program.Release(); rerr != nil {
			c.logger.Warn("Failed to release program", zap.String("program", name), zap.Error(rerr))
		}
		return nil, &Error{Kind: ErrBuild, Op: op, Code: gpu.StatusOf(err), Log: log}
	}

	set, err := c.kernels(name, program)
	if err != nil {
		metrics.KernelBuilds.WithLabelValues(metrics.BuildFailed).Inc()
		return nil, newError(ErrBuild, op, err)
	}
	metrics.KernelBuilds.WithLabelValues(result).Inc()
	c.logger.Debug("Built program",
		zap.String("program", name),
		zap.Strings("kernels", set.Names()),
		zap.String("result", result))
	return set, nil
}

func (c *Compiler) kernels(name string, program gpu.Program) (KernelSet, error) {
	natives, err := program.Kernels()
	if err != nil {
		return nil, err
	}
	set := make(KernelSet, len(natives))
	for i, k := range natives {
		set[i] = &Kernel{native: k, program: name}
	}
	return set, nil
}

// BuildAll compiles every .cl file in dir concurrently and returns once
// all builds have finished. Results are keyed by file name without the
// extension; a program declaring no kernels maps to an empty set.
// Programs that built are returned even when others failed; the error
// joins every failure.
func (c *Compiler) BuildAll(ctx context.Context, dir string, essential, other CompileOptions) (KernelMap, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read program directory: %w", err)
	}

	var (
		mu   sync.Mutex
		errs []error
		out  = KernelMap{}
	)
	var g errgroup.Group
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != SourceExt {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		name := strings.TrimSuffix(entry.Name(), SourceExt)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", path, err))
				mu.Unlock()
				return err
			}
			set, err := c.BuildFile(path, essential, other)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return err
			}
			out[name] = set
			return nil
		})
	}
	_ = g.Wait() // every failure is collected in errs
	c.logger.Info("Built programs", zap.String("dir", dir), zap.Int("programs", len(out)), zap.Int("failed", len(errs)))
	return out, errors.Join(errs...)
}

// SaveKernel writes the binaries of k's program to path, appending
// BinaryExt when path has no extension. It returns the path written.
// Binaries of a program built for several devices are concatenated, and
// LoadKernel cannot split them again; save from a single-device context.
func (c *Compiler) SaveKernel(path string, k *Kernel) (string, error) {
	if filepath.Ext(path) == "" {
		path += BinaryExt
	}
	binaries, err := k.native.Program().Binaries()
	if err != nil {
		return "", fmt.Errorf("failed to read binaries of %s: %w", k.Program(), err)
	}
	if err := os.WriteFile(path, bytes.Join(binaries, nil), 0o644); err != nil {
		return "", fmt.Errorf("failed to save kernel %s: %w", k.Name(), err)
	}
	c.logger.Debug("Saved kernel binary", zap.String("kernel", k.Name()), zap.String("path", path))
	return path, nil
}

// LoadKernel creates a program for devices from a binary written by
// SaveKernel. The same image is used for every device; a binary built for
// another device is rejected by the backend.
func (c *Compiler) LoadKernel(path string, devices []gpu.Device) (KernelSet, error) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	op := "load " + name
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Kind: ErrBuild, Op: op, Err: err}
	}
	if len(devices) == 0 {
		devices = c.ctx.Devices()
	}
	binaries := make([][]byte, len(devices))
	for i := range devices {
		binaries[i] = blob
	}

	program, err := c.ctx.CreateProgramWithBinary(devices, binaries)
	if err != nil {
		return nil, newError(ErrBuild, op, err)
	}
	if err := program.Build(devices, ""); err != nil {
		return nil, &Error{Kind: ErrBuild, Op: op, Code: gpu.StatusOf(err), Log: formatBuildLog(program.BuildLog())}
	}
	set, err := c.kernels(name, program)
	if err != nil {
		return nil, newError(ErrBuild, op, err)
	}
	return set, nil
}
