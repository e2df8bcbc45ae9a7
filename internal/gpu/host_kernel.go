package gpu

import (
	"encoding/binary"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"
)

// HostKernel is the host implementation of one device kernel. The host
// backend binds a kernel declared in program source to the HostKernel
// registered under the same name.
type HostKernel struct {
	Name    string
	NumArgs int
	// LocalMem is the statically declared __local usage in bytes.
	LocalMem int64
	// PrivateMem is the per work-item private usage in bytes.
	PrivateMem int64
	// MaxWorkGroupSize limits the work-group size below the device limit
	// when non-zero.
	MaxWorkGroupSize int
	Run              func(l *Launch) error
}

var (
	hostKernelsMu sync.RWMutex
	hostKernels   = map[string]HostKernel{}
)

// RegisterKernel makes a host kernel available to every host backend.
// Registering a name twice replaces the earlier implementation.
func RegisterKernel(k HostKernel) {
	if k.Name == "" || k.Run == nil {
		panic("gpu: RegisterKernel requires a name and a Run function")
	}
	hostKernelsMu.Lock()
	defer hostKernelsMu.Unlock()
	hostKernels[k.Name] = k
}

// RegisteredKernels lists the names of globally registered host kernels.
func RegisteredKernels() []string {
	hostKernelsMu.RLock()
	defer hostKernelsMu.RUnlock()
	names := make([]string, 0, len(hostKernels))
	for name := range hostKernels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupHostKernel(name string) (HostKernel, bool) {
	hostKernelsMu.RLock()
	defer hostKernelsMu.RUnlock()
	k, ok := hostKernels[name]
	return k, ok
}

// HostArg is one bound kernel argument as seen by a host kernel.
type HostArg struct {
	// Mem is the storage of a buffer argument.
	Mem []byte
	// Value holds the bytes of a by-value argument.
	Value []byte
	// LocalSize is the size of a __local scratch argument.
	LocalSize int
}

// Launch describes one NDRange execution of a host kernel.
type Launch struct {
	Kernel  string
	Args    []HostArg
	Offset  []int
	Global  []int
	Local   []int
	Defines map[string]string
}

// Dims returns the number of work dimensions.
func (l *Launch) Dims() int { return len(l.Global) }

// GlobalSize returns the global size in dimension d, 1 past Dims.
func (l *Launch) GlobalSize(d int) int {
	if d < len(l.Global) {
		return l.Global[d]
	}
	return 1
}

// LocalSize returns the work-group size in dimension d, 1 past Dims.
func (l *Launch) LocalSize(d int) int {
	if d < len(l.Local) {
		return l.Local[d]
	}
	return 1
}

// GlobalOffset returns the global offset in dimension d.
func (l *Launch) GlobalOffset(d int) int {
	if d < len(l.Offset) {
		return l.Offset[d]
	}
	return 0
}

// NumGroups returns the number of work-groups in dimension d. A trailing
// partial group counts as a group.
func (l *Launch) NumGroups(d int) int {
	local := l.LocalSize(d)
	return (l.GlobalSize(d) + local - 1) / local
}

// Define returns the value of a -D macro passed at build time.
func (l *Launch) Define(name string) (string, bool) {
	v, ok := l.Defines[name]
	return v, ok
}

func (l *Launch) arg(i int) HostArg {
	if i < 0 || i >= len(l.Args) {
		panic(fmt.Sprintf("gpu: kernel %s has no argument %d", l.Kernel, i))
	}
	return l.Args[i]
}

// Float32s views buffer argument i as []float32.
func (l *Launch) Float32s(i int) []float32 { return FromBytes[float32](l.arg(i).Mem) }

// Float64s views buffer argument i as []float64.
func (l *Launch) Float64s(i int) []float64 { return FromBytes[float64](l.arg(i).Mem) }

// Int32s views buffer argument i as []int32.
func (l *Launch) Int32s(i int) []int32 { return FromBytes[int32](l.arg(i).Mem) }

// Uint32s views buffer argument i as []uint32.
func (l *Launch) Uint32s(i int) []uint32 { return FromBytes[uint32](l.arg(i).Mem) }

// Uint32 decodes by-value argument i.
func (l *Launch) Uint32(i int) uint32 {
	v := l.arg(i).Value
	if len(v) < 4 {
		return 0
	}
	return binary.NativeEndian.Uint32(v)
}

// Int32 decodes by-value argument i.
func (l *Launch) Int32(i int) int32 { return int32(l.Uint32(i)) }

// Float32 decodes by-value argument i.
func (l *Launch) Float32(i int) float32 { return math.Float32frombits(l.Uint32(i)) }

// ScratchSize returns the size of __local argument i.
func (l *Launch) ScratchSize(i int) int { return l.arg(i).LocalSize }

// WorkItem identifies one work-item of a launch.
type WorkItem struct {
	Global [3]int
	Group  [3]int
	Local  [3]int
}

// ForEach runs fn for every work-item. Work-groups are spread across
// goroutines; items within a group run sequentially in order.
func (l *Launch) ForEach(fn func(w WorkItem)) {
	l.ForEachGroup(func(group [3]int, items []WorkItem) {
		for _, w := range items {
			fn(w)
		}
	})
}

// ForEachGroup runs fn once per work-group with the group's work-items.
// Groups run concurrently, so fn must only write memory owned by its group.
func (l *Launch) ForEachGroup(fn func(group [3]int, items []WorkItem)) {
	ng := [3]int{l.NumGroups(0), l.NumGroups(1), l.NumGroups(2)}
	total := ng[0] * ng[1] * ng[2]
	if total == 0 {
		return
	}

	workers := runtime.NumCPU()
	if total < workers {
		workers = total
	}
	perWorker := (total + workers - 1) / workers

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		start := w * perWorker
		end := start + perWorker
		if end > total {
			end = total
		}
		go func() {
			defer wg.Done()
			var items []WorkItem
			for g := start; g < end; g++ {
				group := [3]int{g % ng[0], (g / ng[0]) % ng[1], g / (ng[0] * ng[1])}
				items = l.groupItems(group, items[:0])
				fn(group, items)
			}
		}()
	}
	wg.Wait()
}

func (l *Launch) groupItems(group [3]int, items []WorkItem) []WorkItem {
	for z := 0; z < l.LocalSize(2); z++ {
		for y := 0; y < l.LocalSize(1); y++ {
			for x := 0; x < l.LocalSize(0); x++ {
				local := [3]int{x, y, z}
				var global [3]int
				inRange := true
				for d := 0; d < 3; d++ {
					g := group[d]*l.LocalSize(d) + local[d]
					if g >= l.GlobalSize(d) {
						inRange = false
						break
					}
					global[d] = g + l.GlobalOffset(d)
				}
				if inRange {
					items = append(items, WorkItem{Global: global, Group: group, Local: local})
				}
			}
		}
	}
	return items
}
