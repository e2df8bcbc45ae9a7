package gpu

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusNames(t *testing.T) {
	tests := []struct {
		status Status
		name   string
		desc   string
	}{
		{StatusSuccess, "CL_SUCCESS", "completed successfully"},
		{StatusInvalidValue, "CL_INVALID_VALUE", ""},
		{StatusBuildProgramFailure, "CL_BUILD_PROGRAM_FAILURE", ""},
		{StatusPlatformNotFoundKHR, "CL_PLATFORM_NOT_FOUND_KHR", ""},
		{Status(-9999), "CL_UNKNOWN_ERROR", "Unknown OpenCL error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.status.Name())
			assert.NotEmpty(t, tt.status.Description())
			if tt.desc != "" {
				assert.Contains(t, tt.status.Description(), tt.desc)
			}
			assert.Contains(t, tt.status.Error(), fmt.Sprintf("(%d)", int32(tt.status)))
		})
	}
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, StatusSuccess, StatusOf(nil))
	assert.Equal(t, StatusInvalidValue, StatusOf(StatusInvalidValue))
	assert.Equal(t, StatusInvalidBinary, StatusOf(fmt.Errorf("load: %w", StatusInvalidBinary)))
	assert.Equal(t, StatusInvalidOperation, StatusOf(errors.New("plain")))

	be := &BuildError{Status: StatusBuildProgramFailure, Logs: []BuildLog{{Device: "d", Log: "error"}}}
	assert.Equal(t, StatusBuildProgramFailure, StatusOf(be))
	assert.ErrorIs(t, be, StatusBuildProgramFailure)
}
