package gpu

import (
	"errors"
	"fmt"
)

// Status is a native status code as reported by the compute API.
// The numbering follows the OpenCL specification so that codes coming
// back from a real driver and from the host backend read the same.
type Status int32

const (
	StatusSuccess                      Status = 0
	StatusDeviceNotFound               Status = -1
	StatusDeviceNotAvailable           Status = -2
	StatusCompilerNotAvailable         Status = -3
	StatusMemObjectAllocationFailure   Status = -4
	StatusOutOfResources               Status = -5
	StatusOutOfHostMemory              Status = -6
	StatusProfilingInfoNotAvailable    Status = -7
	StatusMemCopyOverlap               Status = -8
	StatusImageFormatMismatch          Status = -9
	StatusImageFormatNotSupported      Status = -10
	StatusBuildProgramFailure          Status = -11
	StatusMapFailure                   Status = -12
	StatusMisalignedSubBufferOffset    Status = -13
	StatusExecStatusErrorForEvents     Status = -14
	StatusCompileProgramFailure        Status = -15
	StatusLinkerNotAvailable           Status = -16
	StatusLinkProgramFailure           Status = -17
	StatusDevicePartitionFailed        Status = -18
	StatusKernelArgInfoNotAvailable    Status = -19
	StatusInvalidValue                 Status = -30
	StatusInvalidDeviceType            Status = -31
	StatusInvalidPlatform              Status = -32
	StatusInvalidDevice                Status = -33
	StatusInvalidContext               Status = -34
	StatusInvalidQueueProperties       Status = -35
	StatusInvalidCommandQueue          Status = -36
	StatusInvalidHostPtr               Status = -37
	StatusInvalidMemObject             Status = -38
	StatusInvalidImageFormatDescriptor Status = -39
	StatusInvalidImageSize             Status = -40
	StatusInvalidSampler               Status = -41
	StatusInvalidBinary                Status = -42
	StatusInvalidBuildOptions          Status = -43
	StatusInvalidProgram               Status = -44
	StatusInvalidProgramExecutable     Status = -45
	StatusInvalidKernelName            Status = -46
	StatusInvalidKernelDefinition      Status = -47
	StatusInvalidKernel                Status = -48
	StatusInvalidArgIndex              Status = -49
	StatusInvalidArgValue              Status = -50
	StatusInvalidArgSize               Status = -51
	StatusInvalidKernelArgs            Status = -52
	StatusInvalidWorkDimension         Status = -53
	StatusInvalidWorkGroupSize         Status = -54
	StatusInvalidWorkItemSize          Status = -55
	StatusInvalidGlobalOffset          Status = -56
	StatusInvalidEventWaitList         Status = -57
	StatusInvalidEvent                 Status = -58
	StatusInvalidOperation             Status = -59
	StatusInvalidGLObject              Status = -60
	StatusInvalidBufferSize            Status = -61
	StatusInvalidMipLevel              Status = -62
	StatusInvalidGlobalWorkSize        Status = -63
	StatusInvalidProperty              Status = -64
	StatusInvalidImageDescriptor       Status = -65
	StatusInvalidCompilerOptions       Status = -66
	StatusInvalidLinkerOptions         Status = -67
	StatusInvalidDevicePartitionCount  Status = -68
	StatusInvalidPipeSize              Status = -69
	StatusInvalidDeviceQueue           Status = -70
	StatusInvalidSpecID                Status = -71
	StatusMaxSizeRestrictionExceeded   Status = -72
	StatusPlatformNotFoundKHR          Status = -1001
)

type statusEntry struct {
	name        string
	description string
}

var statusTable = map[Status]statusEntry{
	StatusSuccess:                      {"CL_SUCCESS", "The operation completed successfully"},
	StatusDeviceNotFound:               {"CL_DEVICE_NOT_FOUND", "No devices matching the requested device type were found"},
	StatusDeviceNotAvailable:           {"CL_DEVICE_NOT_AVAILABLE", "The device is currently not available"},
	StatusCompilerNotAvailable:         {"CL_COMPILER_NOT_AVAILABLE", "No online compiler is available for the device"},
	StatusMemObjectAllocationFailure:   {"CL_MEM_OBJECT_ALLOCATION_FAILURE", "Failed to allocate memory for a buffer object"},
	StatusOutOfResources:               {"CL_OUT_OF_RESOURCES", "Failed to allocate resources required on the device"},
	StatusOutOfHostMemory:              {"CL_OUT_OF_HOST_MEMORY", "Failed to allocate resources required on the host"},
	StatusProfilingInfoNotAvailable:    {"CL_PROFILING_INFO_NOT_AVAILABLE", "Profiling information is not available for the event"},
	StatusMemCopyOverlap:               {"CL_MEM_COPY_OVERLAP", "Source and destination regions of a copy overlap"},
	StatusImageFormatMismatch:          {"CL_IMAGE_FORMAT_MISMATCH", "Source and destination images do not use the same image format"},
	StatusImageFormatNotSupported:      {"CL_IMAGE_FORMAT_NOT_SUPPORTED", "The image format is not supported"},
	StatusBuildProgramFailure:          {"CL_BUILD_PROGRAM_FAILURE", "Program build failure, see the build log"},
	StatusMapFailure:                   {"CL_MAP_FAILURE", "Failed to map the requested region into the host address space"},
	StatusMisalignedSubBufferOffset:    {"CL_MISALIGNED_SUB_BUFFER_OFFSET", "Sub-buffer offset is not aligned to the device base address alignment"},
	StatusExecStatusErrorForEvents:     {"CL_EXEC_STATUS_ERROR_FOR_EVENTS_IN_WAIT_LIST", "An event in the wait list has a negative execution status"},
	StatusCompileProgramFailure:        {"CL_COMPILE_PROGRAM_FAILURE", "Program compilation failure, see the build log"},
	StatusLinkerNotAvailable:           {"CL_LINKER_NOT_AVAILABLE", "No linker is available for the device"},
	StatusLinkProgramFailure:           {"CL_LINK_PROGRAM_FAILURE", "Program link failure, see the build log"},
	StatusDevicePartitionFailed:        {"CL_DEVICE_PARTITION_FAILED", "The device could not be partitioned"},
	StatusKernelArgInfoNotAvailable:    {"CL_KERNEL_ARG_INFO_NOT_AVAILABLE", "Kernel argument information is not available"},
	StatusInvalidValue:                 {"CL_INVALID_VALUE", "An argument value is invalid"},
	StatusInvalidDeviceType:            {"CL_INVALID_DEVICE_TYPE", "The device type is not valid"},
	StatusInvalidPlatform:              {"CL_INVALID_PLATFORM", "The platform is not valid"},
	StatusInvalidDevice:                {"CL_INVALID_DEVICE", "The device is not valid or not associated with the context"},
	StatusInvalidContext:               {"CL_INVALID_CONTEXT", "The context is not valid"},
	StatusInvalidQueueProperties:       {"CL_INVALID_QUEUE_PROPERTIES", "The command queue properties are not supported by the device"},
	StatusInvalidCommandQueue:          {"CL_INVALID_COMMAND_QUEUE", "The command queue is not valid"},
	StatusInvalidHostPtr:               {"CL_INVALID_HOST_PTR", "The host pointer does not match the memory flags"},
	StatusInvalidMemObject:             {"CL_INVALID_MEM_OBJECT", "The memory object is not valid"},
	StatusInvalidImageFormatDescriptor: {"CL_INVALID_IMAGE_FORMAT_DESCRIPTOR", "The image format descriptor is not valid"},
	StatusInvalidImageSize:             {"CL_INVALID_IMAGE_SIZE", "The image dimensions are not supported"},
	StatusInvalidSampler:               {"CL_INVALID_SAMPLER", "The sampler is not valid"},
	StatusInvalidBinary:                {"CL_INVALID_BINARY", "The program binary is not valid for the device"},
	StatusInvalidBuildOptions:          {"CL_INVALID_BUILD_OPTIONS", "The build options are not valid"},
	StatusInvalidProgram:               {"CL_INVALID_PROGRAM", "The program object is not valid"},
	StatusInvalidProgramExecutable:     {"CL_INVALID_PROGRAM_EXECUTABLE", "There is no successfully built executable for the program"},
	StatusInvalidKernelName:            {"CL_INVALID_KERNEL_NAME", "The kernel name is not found in the program"},
	StatusInvalidKernelDefinition:      {"CL_INVALID_KERNEL_DEFINITION", "The kernel definition differs between devices"},
	StatusInvalidKernel:                {"CL_INVALID_KERNEL", "The kernel object is not valid"},
	StatusInvalidArgIndex:              {"CL_INVALID_ARG_INDEX", "The kernel argument index is not valid"},
	StatusInvalidArgValue:              {"CL_INVALID_ARG_VALUE", "The kernel argument value is not valid"},
	StatusInvalidArgSize:               {"CL_INVALID_ARG_SIZE", "The kernel argument size does not match the parameter"},
	StatusInvalidKernelArgs:            {"CL_INVALID_KERNEL_ARGS", "One or more kernel arguments have not been set"},
	StatusInvalidWorkDimension:         {"CL_INVALID_WORK_DIMENSION", "The number of work dimensions is not valid"},
	StatusInvalidWorkGroupSize:         {"CL_INVALID_WORK_GROUP_SIZE", "The local work size is not valid for the kernel or global size"},
	StatusInvalidWorkItemSize:          {"CL_INVALID_WORK_ITEM_SIZE", "A local work size dimension exceeds the device limit"},
	StatusInvalidGlobalOffset:          {"CL_INVALID_GLOBAL_OFFSET", "The global work offset is not valid"},
	StatusInvalidEventWaitList:         {"CL_INVALID_EVENT_WAIT_LIST", "The event wait list is not valid"},
	StatusInvalidEvent:                 {"CL_INVALID_EVENT", "The event object is not valid"},
	StatusInvalidOperation:             {"CL_INVALID_OPERATION", "The operation is not valid in the current state"},
	StatusInvalidGLObject:              {"CL_INVALID_GL_OBJECT", "The GL object is not valid"},
	StatusInvalidBufferSize:            {"CL_INVALID_BUFFER_SIZE", "The buffer size is zero or exceeds the device limit"},
	StatusInvalidMipLevel:              {"CL_INVALID_MIP_LEVEL", "The mip level is not valid"},
	StatusInvalidGlobalWorkSize:        {"CL_INVALID_GLOBAL_WORK_SIZE", "The global work size is not valid"},
	StatusInvalidProperty:              {"CL_INVALID_PROPERTY", "A property name or value is not valid"},
	StatusInvalidImageDescriptor:       {"CL_INVALID_IMAGE_DESCRIPTOR", "The image descriptor is not valid"},
	StatusInvalidCompilerOptions:       {"CL_INVALID_COMPILER_OPTIONS", "The compiler options are not valid"},
	StatusInvalidLinkerOptions:         {"CL_INVALID_LINKER_OPTIONS", "The linker options are not valid"},
	StatusInvalidDevicePartitionCount:  {"CL_INVALID_DEVICE_PARTITION_COUNT", "The device partition count is not valid"},
	StatusInvalidPipeSize:              {"CL_INVALID_PIPE_SIZE", "The pipe size is not valid"},
	StatusInvalidDeviceQueue:           {"CL_INVALID_DEVICE_QUEUE", "The device queue is not valid"},
	StatusInvalidSpecID:                {"CL_INVALID_SPEC_ID", "The specialization constant id is not valid"},
	StatusMaxSizeRestrictionExceeded:   {"CL_MAX_SIZE_RESTRICTION_EXCEEDED", "A size exceeds the maximum allowed by the device"},
	StatusPlatformNotFoundKHR:          {"CL_PLATFORM_NOT_FOUND_KHR", "No platforms were found by the ICD loader"},
}

// Name returns the symbolic name of the status, e.g. CL_INVALID_VALUE.
func (s Status) Name() string {
	if e, ok := statusTable[s]; ok {
		return e.name
	}
	return "CL_UNKNOWN_ERROR"
}

// Description returns the human-readable description of the status.
func (s Status) Description() string {
	if e, ok := statusTable[s]; ok {
		return e.description
	}
	return "Unknown OpenCL error"
}

func (s Status) Error() string {
	return fmt.Sprintf("%s (%d): %s", s.Name(), int32(s), s.Description())
}

// StatusOf extracts the native status from err. Errors that carry no
// status report StatusInvalidOperation; a nil error is StatusSuccess.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var s Status
	if errors.As(err, &s) {
		return s
	}
	return StatusInvalidOperation
}

// BuildError is returned by Program.Build when compilation fails. It
// carries the native status and the build log of every device.
type BuildError struct {
	Status Status
	Logs   []BuildLog
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("program build failed: %v", e.Status)
}

func (e *BuildError) Unwrap() error {
	return e.Status
}
