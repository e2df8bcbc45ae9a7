package gpu

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"
)

const hostBinaryMagic = "fxn-host-program/1"

// hostBinary is the program image written by Program.Binaries. It is
// RLP encoded so the layout stays stable across Go versions.
type hostBinary struct {
	Magic   string
	Device  string
	Options string
	Source  string
	Kernels []string
}

func decodeHostBinary(b []byte) (*hostBinary, error) {
	var bin hostBinary
	if err := rlp.DecodeBytes(b, &bin); err != nil {
		return nil, err
	}
	if bin.Magic != hostBinaryMagic {
		return nil, errors.New("not a host program image")
	}
	return &bin, nil
}

// buildOptions is the parsed form of a build option string.
type buildOptions struct {
	std        [2]int // zero when no -cl-std was given
	uniform    bool
	werror     bool
	noWarnings bool
	defines    map[string]string
}

var knownFlags = map[string]bool{
	"-cl-opt-disable":               true,
	"-cl-mad-enable":                true,
	"-cl-no-signed-zeros":           true,
	"-cl-finite-math-only":          true,
	"-cl-unsafe-math-optimizations": true,
	"-cl-fast-relaxed-math":         true,
	"-cl-denorms-are-zero":          true,
	"-cl-single-precision-constant": true,
	"-cl-strict-aliasing":           true,
	"-cl-kernel-arg-info":           true,
	"-O0":                           true,
	"-O1":                           true,
	"-O2":                           true,
	"-O3":                           true,
}

func parseBuildOptions(options string) (buildOptions, error) {
	opts := buildOptions{defines: map[string]string{}}
	fields := strings.Fields(options)
	for i := 0; i < len(fields); i++ {
		f := fields[i]
		switch {
		case f == "-D" || f == "-I":
			if i+1 >= len(fields) {
				return opts, fmt.Errorf("missing argument to %s", f)
			}
			i++
			if f == "-D" {
				addDefine(opts.defines, fields[i])
			}
		case strings.HasPrefix(f, "-D"):
			addDefine(opts.defines, f[2:])
		case strings.HasPrefix(f, "-I"):
		case strings.HasPrefix(f, "-cl-std="):
			var major, minor int
			if _, err := fmt.Sscanf(strings.TrimPrefix(f, "-cl-std="), "CL%d.%d", &major, &minor); err != nil {
				return opts, fmt.Errorf("invalid value in %s", f)
			}
			opts.std = [2]int{major, minor}
		case f == "-cl-uniform-work-group-size":
			opts.uniform = true
		case f == "-Werror":
			opts.werror = true
		case f == "-w":
			opts.noWarnings = true
		case knownFlags[f]:
		default:
			return opts, fmt.Errorf("unrecognized option %s", f)
		}
	}
	return opts, nil
}

func addDefine(defines map[string]string, def string) {
	name, value, ok := strings.Cut(def, "=")
	if !ok {
		value = "1"
	}
	defines[name] = value
}

// nonUniform reports whether work-group sizes need not divide the global size.
func (o buildOptions) nonUniform() bool {
	return o.std[0] >= 2 && !o.uniform
}

var (
	blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	lineComment  = regexp.MustCompile(`//[^\n]*`)
	kernelDecl   = regexp.MustCompile(`(?:__kernel|\bkernel)\s+(?:__attribute__\s*\(\(.*?\)\)\s*)*void\s+([A-Za-z_]\w*)\s*\(`)
	definedExpr  = regexp.MustCompile(`^!?\s*defined\s*\(?\s*([A-Za-z_]\w*)\s*\)?$`)
)

// preprocessed is the result of the host backend's small preprocessor.
type preprocessed struct {
	text     string
	errors   []string
	warnings []string
}

// preprocess strips comments and resolves #ifdef/#ifndef/#if defined
// blocks, #define, #error and #warning. Other directives are ignored.
func preprocess(source string, defines map[string]string) preprocessed {
	source = blockComment.ReplaceAllStringFunc(source, func(s string) string {
		return strings.Repeat("\n", strings.Count(s, "\n"))
	})
	source = lineComment.ReplaceAllString(source, "")

	defs := make(map[string]string, len(defines)+1)
	for k, v := range defines {
		defs[k] = v
	}
	defs["__OPENCL_VERSION__"] = "200"

	type frame struct{ active, taken, parent bool }
	var stack []frame
	active := true

	var out preprocessed
	var kept []string
	for n, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			if active {
				kept = append(kept, line)
			}
			continue
		}
		directive, rest, _ := strings.Cut(strings.TrimSpace(trimmed[1:]), " ")
		rest = strings.TrimSpace(rest)
		switch directive {
		case "ifdef", "ifndef", "if":
			var cond bool
			switch directive {
			case "ifdef":
				_, cond = defs[rest]
			case "ifndef":
				_, cond = defs[rest]
				cond = !cond
			default:
				cond = evalCondition(rest, defs)
			}
			stack = append(stack, frame{active: active && cond, taken: cond, parent: active})
			active = active && cond
		case "elif":
			if len(stack) == 0 {
				out.errors = append(out.errors, fmt.Sprintf("line %d: error: #elif without #if", n+1))
				continue
			}
			top := &stack[len(stack)-1]
			cond := !top.taken && evalCondition(rest, defs)
			top.taken = top.taken || cond
			top.active = top.parent && cond
			active = top.active
		case "else":
			if len(stack) == 0 {
				out.errors = append(out.errors, fmt.Sprintf("line %d: error: #else without #if", n+1))
				continue
			}
			top := &stack[len(stack)-1]
			top.active = top.parent && !top.taken
			top.taken = true
			active = top.active
		case "endif":
			if len(stack) == 0 {
				out.errors = append(out.errors, fmt.Sprintf("line %d: error: #endif without #if", n+1))
				continue
			}
			active = stack[len(stack)-1].parent
			stack = stack[:len(stack)-1]
		case "define":
			if active {
				name, value, _ := strings.Cut(rest, " ")
				defs[name] = strings.TrimSpace(value)
			}
		case "error":
			if active {
				out.errors = append(out.errors, fmt.Sprintf("line %d: error: %s", n+1, rest))
			}
		case "warning":
			if active {
				out.warnings = append(out.warnings, fmt.Sprintf("line %d: warning: %s", n+1, rest))
			}
		}
	}
	if len(stack) > 0 {
		out.errors = append(out.errors, "error: unterminated conditional directive")
	}
	out.text = strings.Join(kept, "\n")
	return out
}

func evalCondition(expr string, defs map[string]string) bool {
	expr = strings.TrimSpace(expr)
	switch expr {
	case "0":
		return false
	case "1":
		return true
	}
	if m := definedExpr.FindStringSubmatch(expr); m != nil {
		_, ok := defs[m[1]]
		if strings.HasPrefix(expr, "!") {
			return !ok
		}
		return ok
	}
	return true
}

type hostProgram struct {
	ctx    *hostContext
	source string
	binary *hostBinary

	mu       sync.Mutex
	built    bool
	released bool
	options  string
	parsed   buildOptions
	devices  []*hostDevice
	names    []string
	logs     []BuildLog
}

// Build compiles the program for devices (all context devices when nil).
// A program may be rebuilt, e.g. with different options after a failure.
func (p *hostProgram) Build(devices []Device, options string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return StatusInvalidProgram
	}
	if devices == nil {
		devices = p.ctx.Devices()
	}
	if p.binary != nil && strings.TrimSpace(options) == "" {
		options = p.binary.Options
	}

	targets := make([]*hostDevice, 0, len(devices))
	for _, d := range devices {
		if !p.ctx.has(d) {
			return StatusInvalidDevice
		}
		targets = append(targets, d.(*hostDevice))
	}

	p.built = false
	p.logs = p.logs[:0]

	parsed, err := parseBuildOptions(options)
	if err != nil {
		for _, d := range targets {
			p.logs = append(p.logs, BuildLog{Device: d.info.Name, Log: "error: " + err.Error()})
		}
		return &BuildError{Status: StatusInvalidBuildOptions, Logs: p.copyLogs()}
	}

	pre := preprocess(p.source, parsed.defines)
	var names []string
	for _, m := range kernelDecl.FindAllStringSubmatch(pre.text, -1) {
		names = append(names, m[1])
	}
	if p.binary != nil && len(names) == 0 {
		names = p.binary.Kernels
	}

	failed := false
	for _, d := range targets {
		var lines []string
		if parsed.std[0] > 0 {
			major, minor, _ := d.info.APIVersion()
			if parsed.std[0] > major || (parsed.std[0] == major && parsed.std[1] > minor) {
				lines = append(lines, fmt.Sprintf("error: -cl-std=CL%d.%d is not supported by %s (%s)",
					parsed.std[0], parsed.std[1], d.info.Name, d.info.Version))
			}
		}
		lines = append(lines, pre.errors...)
		if !parsed.noWarnings {
			for _, w := range pre.warnings {
				if parsed.werror {
					lines = append(lines, strings.Replace(w, "warning:", "error:", 1)+" [-Werror]")
				} else {
					lines = append(lines, w)
				}
			}
		}
		for _, name := range names {
			if _, ok := p.ctx.backend.lookupKernel(name); !ok {
				lines = append(lines, fmt.Sprintf("error: no host implementation for kernel '%s'", name))
			}
		}

		log := strings.Join(lines, "\n")
		p.logs = append(p.logs, BuildLog{Device: d.info.Name, Log: log})
		if strings.Contains(log, "error:") {
			failed = true
		}
	}
	if failed {
		return &BuildError{Status: StatusBuildProgramFailure, Logs: p.copyLogs()}
	}

	p.built = true
	p.options = options
	p.parsed = parsed
	p.devices = targets
	p.names = names
	return nil
}

func (p *hostProgram) copyLogs() []BuildLog {
	return append([]BuildLog(nil), p.logs...)
}

func (p *hostProgram) BuildLog() []BuildLog {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.copyLogs()
}

func (p *hostProgram) Kernels() ([]Kernel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return nil, StatusInvalidProgram
	}
	if !p.built {
		return nil, StatusInvalidProgramExecutable
	}
	kernels := make([]Kernel, 0, len(p.names))
	for _, name := range p.names {
		impl, _ := p.ctx.backend.lookupKernel(name)
		kernels = append(kernels, &hostKernel{
			program: p,
			impl:    impl,
			args:    make([]HostArg, impl.NumArgs),
			set:     make([]bool, impl.NumArgs),
		})
	}
	return kernels, nil
}

func (p *hostProgram) Binaries() ([][]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.built {
		return nil, StatusInvalidProgramExecutable
	}
	out := make([][]byte, 0, len(p.devices))
	for _, d := range p.devices {
		b, err := rlp.EncodeToBytes(&hostBinary{
			Magic:   hostBinaryMagic,
			Device:  d.info.Name,
			Options: p.options,
			Source:  p.source,
			Kernels: p.names,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func (p *hostProgram) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return StatusInvalidProgram
	}
	p.released = true
	return nil
}

func (p *hostProgram) builtFor(d *hostDevice) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, bd := range p.devices {
		if bd == d {
			return p.built
		}
	}
	return false
}

type hostKernel struct {
	program *hostProgram
	impl    HostKernel

	mu   sync.Mutex
	args []HostArg
	set  []bool
}

func (k *hostKernel) Name() string     { return k.impl.Name }
func (k *hostKernel) NumArgs() int     { return k.impl.NumArgs }
func (k *hostKernel) Program() Program { return k.program }
func (k *hostKernel) Release() error   { return nil }

func (k *hostKernel) setArg(index int, arg HostArg) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if index < 0 || index >= len(k.args) {
		return StatusInvalidArgIndex
	}
	k.args[index] = arg
	k.set[index] = true
	return nil
}

func (k *hostKernel) SetArg(index int, value []byte) error {
	if len(value) == 0 {
		return StatusInvalidArgValue
	}
	return k.setArg(index, HostArg{Value: append([]byte(nil), value...)})
}

func (k *hostKernel) SetArgBuffer(index int, m Mem) error {
	hm, err := asHostMem(k.program.ctx, m)
	if err != nil {
		return err
	}
	return k.setArg(index, HostArg{Mem: hm.data})
}

func (k *hostKernel) SetArgLocal(index int, size int) error {
	if size <= 0 {
		return StatusInvalidArgSize
	}
	return k.setArg(index, HostArg{LocalSize: size})
}

func (k *hostKernel) localMem() int64 {
	total := k.impl.LocalMem
	for i, a := range k.args {
		if k.set[i] {
			total += int64(a.LocalSize)
		}
	}
	return total
}

func (k *hostKernel) maxWorkGroupSize(d *hostDevice) int {
	limit := d.info.MaxWorkGroupSize
	if k.impl.MaxWorkGroupSize > 0 && k.impl.MaxWorkGroupSize < limit {
		limit = k.impl.MaxWorkGroupSize
	}
	return limit
}

func (k *hostKernel) WorkGroupInfo(device Device) (WorkGroupInfo, error) {
	d, ok := device.(*hostDevice)
	if !ok || !k.program.ctx.has(device) {
		return WorkGroupInfo{}, StatusInvalidDevice
	}
	if !k.program.builtFor(d) {
		return WorkGroupInfo{}, StatusInvalidProgramExecutable
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	return WorkGroupInfo{
		LocalMemSize:                   k.localMem(),
		WorkGroupSize:                  k.maxWorkGroupSize(d),
		PreferredWorkGroupSizeMultiple: d.info.PreferredWorkGroupMultiple,
		PrivateMemSize:                 k.impl.PrivateMem,
	}, nil
}

// prepare validates a launch and snapshots the bound arguments.
func (k *hostKernel) prepare(d *hostDevice, offset, global, local []int) (*Launch, error) {
	if !k.program.builtFor(d) {
		return nil, StatusInvalidProgramExecutable
	}
	dims := len(global)
	if dims < 1 || dims > 3 {
		return nil, StatusInvalidWorkDimension
	}
	if offset != nil && len(offset) != dims {
		return nil, StatusInvalidGlobalOffset
	}
	if local != nil && len(local) != dims {
		return nil, StatusInvalidWorkGroupSize
	}
	for _, g := range global {
		if g <= 0 {
			return nil, StatusInvalidGlobalWorkSize
		}
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	for _, set := range k.set {
		if !set {
			return nil, StatusInvalidKernelArgs
		}
	}

	if local == nil {
		local = make([]int, dims)
		for i := range local {
			local[i] = 1
		}
	} else {
		groupSize := 1
		nonUniform := k.program.parsed.nonUniform()
		for i, l := range local {
			if l <= 0 {
				return nil, StatusInvalidWorkGroupSize
			}
			if l > d.info.MaxWorkGroupSize {
				return nil, StatusInvalidWorkItemSize
			}
			if global[i]%l != 0 && !nonUniform {
				return nil, StatusInvalidWorkGroupSize
			}
			groupSize *= l
		}
		if groupSize > k.maxWorkGroupSize(d) {
			return nil, StatusInvalidWorkGroupSize
		}
	}
	if k.localMem() > d.info.LocalMemory {
		return nil, StatusOutOfResources
	}

	defines := make(map[string]string, len(k.program.parsed.defines))
	for name, v := range k.program.parsed.defines {
		defines[name] = v
	}
	return &Launch{
		Kernel:  k.impl.Name,
		Args:    append([]HostArg(nil), k.args...),
		Offset:  append([]int(nil), offset...),
		Global:  append([]int(nil), global...),
		Local:   append([]int(nil), local...),
		Defines: defines,
	}, nil
}
