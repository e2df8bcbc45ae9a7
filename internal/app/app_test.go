package app

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/fxnlabs/compute-node/fixtures"
	"github.com/fxnlabs/compute-node/internal/compute"
	"github.com/fxnlabs/compute-node/internal/config"
	"github.com/fxnlabs/compute-node/internal/gpu"
	_ "github.com/fxnlabs/compute-node/internal/kernels"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	src, err := fixtures.Kernels.ReadFile("kernels/scale.cl")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scale.cl"), src, 0o644))

	cfg := config.Default()
	cfg.Logger.Verbosity = "error"
	cfg.Compute.Backend = gpu.KindHost
	cfg.Compute.KernelDir = dir
	return cfg
}

func TestModule(t *testing.T) {
	var (
		registry *compute.Registry
		device   *compute.Device
		compiler *compute.Compiler
		backend  gpu.Backend
	)
	app := fxtest.New(t,
		fx.NopLogger,
		fx.Supply(testConfig(t)),
		Module,
		fx.Populate(&registry, &device, &compiler, &backend),
	)
	app.RequireStart()

	assert.Equal(t, "host", backend.Name())
	assert.Same(t, registry.Default(), device)
	assert.Same(t, device.Compiler(), compiler)

	k, err := device.Kernel("scale")
	require.NoError(t, err)
	data, err := compute.MallocFrom(device, compute.ReadWrite, []float32{1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, device.EnqueueKernel(k,
		compute.Args(data, compute.Value(float32(2)), compute.Value(uint32(3))),
		compute.NullRange, compute.Range1(3), compute.NullRange))
	got := make([]float32, 3)
	require.NoError(t, data.CopyTo(got, true))
	assert.Equal(t, []float32{2, 4, 6}, got)
	data.Release()

	app.RequireStop()
	assert.Error(t, device.Finish())
}

func TestModule_NoDevices(t *testing.T) {
	cfg := testConfig(t)
	cfg.Compute.DeviceType = string(gpu.DeviceTypeAccelerator)

	app := fx.New(fx.NopLogger, fx.Supply(cfg), Module, fx.Invoke(func(*compute.Registry) {}))
	err := app.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, compute.ErrDeviceInit)
}

func TestModule_MetricsServer(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.ListenAddress = "127.0.0.1:0"
	app := fxtest.New(t, fx.NopLogger, fx.Supply(cfg), Module)
	app.RequireStart()
	app.RequireStop()
}

func TestMetricsHandler(t *testing.T) {
	srv := httptest.NewServer(MetricsHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + MetricsPath)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	missing, err := http.Get(srv.URL + "/other")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}
