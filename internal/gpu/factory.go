package gpu

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ErrNotBuilt is returned when the OpenCL backend was compiled out.
var ErrNotBuilt = errors.New("OpenCL support not compiled in (build with -tags opencl)")

// Backend kinds accepted by NewBackend.
const (
	KindHost   = "host"
	KindOpenCL = "opencl"
	KindAuto   = "auto"
)

// NewBackend creates the backend named by kind. "auto" tries OpenCL
// first and falls back to the host backend.
func NewBackend(kind string, logger *zap.Logger) (Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindHost:
		logger.Info("Using host compute backend")
		return NewHostBackend(logger), nil
	case KindOpenCL:
		b, err := NewOpenCLBackend(logger)
		if err != nil {
			return nil, err
		}
		logger.Info("Using OpenCL compute backend")
		return b, nil
	case KindAuto, "":
		b, err := NewOpenCLBackend(logger)
		if err == nil {
			logger.Info("Using OpenCL compute backend")
			return b, nil
		}
		logger.Info("Using host compute backend (OpenCL unavailable)", zap.Error(err))
		return NewHostBackend(logger), nil
	default:
		return nil, fmt.Errorf("unknown compute backend %q", kind)
	}
}
