package logger

import (
	"fmt"

	"go.uber.org/zap"
)

// New builds a JSON production logger at the given verbosity. An empty
// verbosity means info. Sampling is off so repeated build failures are
// all recorded.
func New(verbosity string, opts ...zap.Option) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	level, err := zap.ParseAtomicLevel(verbosity)
	if err != nil {
		return nil, fmt.Errorf("logger verbosity: %w", err)
	}
	config.Level = level
	config.Sampling = nil
	return config.Build(opts...)
}
