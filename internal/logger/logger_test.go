package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	tests := []struct {
		verbosity string
		enabled   zapcore.Level
		disabled  zapcore.Level
		wantErr   bool
	}{
		{verbosity: "info", enabled: zap.InfoLevel, disabled: zap.DebugLevel},
		{verbosity: "debug", enabled: zap.DebugLevel, disabled: zap.DebugLevel - 1},
		{verbosity: "warn", enabled: zap.WarnLevel, disabled: zap.InfoLevel},
		{verbosity: "", enabled: zap.InfoLevel, disabled: zap.DebugLevel},
		{verbosity: "invalid", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.verbosity, func(t *testing.T) {
			logger, err := New(tt.verbosity)
			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, logger)
				return
			}
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tt.enabled))
			assert.False(t, logger.Core().Enabled(tt.disabled))
		})
	}
}

func TestNew_Options(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	logger, err := New("debug", zap.WrapCore(func(zapcore.Core) zapcore.Core { return core }))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		logger.Warn("Build failed, retrying with essential options only")
	}
	logger.Info("dropped")
	assert.Equal(t, 3, logs.Len())
}
