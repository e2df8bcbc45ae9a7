package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Build results recorded by KernelBuilds.
const (
	BuildOK       = "ok"
	BuildFallback = "fallback"
	BuildFailed   = "failed"
)

// Transfer directions recorded by TransferBytes.
const (
	HostToDevice   = "h2d"
	DeviceToHost   = "d2h"
	DeviceToDevice = "d2d"
)

var (
	EndpointResponses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "endpoint_responses_total",
		Help: "The total number of endpoint responses",
	}, []string{"endpoint", "status_code"})

	// Kernel compiler metrics
	KernelBuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "compute_kernel_builds_total",
		Help: "Total number of program builds by result",
	}, []string{"result"})

	KernelBuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "compute_kernel_build_duration_ms",
		Help:    "Duration of program builds in milliseconds, fallback retries included",
		Buckets: prometheus.ExponentialBuckets(1, 2, 15), // 1ms to ~32s
	})

	KernelCacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "compute_kernel_cache_entries",
		Help: "Number of kernel names cached across all devices",
	})

	// Execution metrics
	KernelLaunches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "compute_kernel_launches_total",
		Help: "Total number of kernel launches by kernel name",
	}, []string{"kernel"})

	TransferBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "compute_transfer_bytes_total",
		Help: "Bytes moved between host and device memory by direction",
	}, []string{"direction"})

	DevicesUsable = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "compute_devices_usable",
		Help: "Number of devices that passed initialization during enumeration",
	})
)
