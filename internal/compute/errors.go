package compute

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fxnlabs/compute-node/internal/gpu"
)

// Error kinds. Match them with errors.Is.
var (
	// ErrDeviceInit marks a device that cannot be used. Enumeration skips
	// such devices instead of failing.
	ErrDeviceInit = errors.New("device initialization failed")
	// ErrBuild marks a program that failed to compile.
	ErrBuild = errors.New("program build failed")
	// ErrLaunch marks a rejected kernel dispatch.
	ErrLaunch = errors.New("kernel launch failed")
	// ErrTransfer marks a failed copy or mapping.
	ErrTransfer = errors.New("memory transfer failed")
	// ErrInvalidAccessMode marks an access mode that cannot be used for the
	// requested operation.
	ErrInvalidAccessMode = errors.New("invalid access mode")
)

// Error is the error type returned by this package.
type Error struct {
	Kind error
	Op   string
	// Code is the native status, StatusSuccess when none applies.
	Code gpu.Status
	// Log is the combined per-device build log of a failed build.
	Log string
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	} else if e.Code != gpu.StatusSuccess {
		fmt.Fprintf(&b, ": %v", e.Code)
	}
	if e.Log != "" {
		b.WriteString("\n")
		b.WriteString(e.Log)
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	} else if e.Code != gpu.StatusSuccess {
		errs = append(errs, e.Code)
	}
	return errs
}

// newError wraps a native failure. The status is taken from err.
func newError(kind error, op string, err error) *Error {
	e := &Error{Kind: kind, Op: op, Err: err}
	if err != nil {
		e.Code = gpu.StatusOf(err)
	}
	return e
}

// formatBuildLog renders build logs as "device:\tlog" lines.
func formatBuildLog(logs []gpu.BuildLog) string {
	lines := make([]string, 0, len(logs))
	for _, l := range logs {
		lines = append(lines, l.Device+":\t"+strings.TrimRight(l.Log, "\n"))
	}
	return strings.Join(lines, "\n")
}
