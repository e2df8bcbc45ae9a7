package compute

import "strings"

// CompileOptions is an ordered set of program build flags and macros.
type CompileOptions []string

// Options joins flags and macros into CompileOptions.
func Options(opts ...string) CompileOptions {
	return CompileOptions(opts)
}

// Language standard flags.
const (
	StdCL11 = "-cl-std=CL1.1"
	StdCL12 = "-cl-std=CL1.2"
	StdCL20 = "-cl-std=CL2.0"
)

// Optimization flags.
const (
	OptimizeNone                 = "-cl-opt-disable"
	OptimizeEnableMad            = "-cl-mad-enable"
	OptimizeNoSignedZero         = "-cl-no-signed-zeros"
	OptimizeLevel3               = "-O3"
	OptimizeFiniteMath           = "-cl-finite-math-only"
	OptimizeUnsafeMath           = "-cl-unsafe-math-optimizations"
	OptimizeFastMath             = "-cl-fast-relaxed-math" // implies -cl-no-signed-zeros and -cl-mad-enable
	OptimizeUniformWorkGroupSize = "-cl-uniform-work-group-size"
)

// Warning flags.
const (
	WarningNone = "-w"
	WarningAll  = "-Werror"
)

// Macro renders a -D definition. An empty def defines name without a value.
func Macro(name, def string) string {
	if def == "" {
		return "-D " + name
	}
	return "-D " + name + "=" + def
}

// ParseOptions splits a configuration string into CompileOptions,
// keeping "-D NAME" pairs together.
func ParseOptions(s string) CompileOptions {
	fields := strings.Fields(s)
	var out CompileOptions
	for i := 0; i < len(fields); i++ {
		if fields[i] == "-D" && i+1 < len(fields) {
			out = append(out, "-D "+fields[i+1])
			i++
			continue
		}
		out = append(out, fields[i])
	}
	return out
}

func (o CompileOptions) String() string {
	return strings.Join(o, " ")
}

// With returns o followed by more, leaving o untouched.
func (o CompileOptions) With(more ...string) CompileOptions {
	out := make(CompileOptions, 0, len(o)+len(more))
	return append(append(out, o...), more...)
}
