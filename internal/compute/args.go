package compute

import (
	"unsafe"

	"golang.org/x/exp/constraints"

	"github.com/fxnlabs/compute-node/internal/gpu"
)

// Element is the set of types a Buffer can hold.
type Element interface {
	constraints.Integer | constraints.Float
}

// Arg is one positional kernel argument. Implementations are Value,
// Bytes, LocalScratch and *Buffer.
type Arg interface {
	bind(k gpu.Kernel, index int) error
}

type valueArg []byte

func (v valueArg) bind(k gpu.Kernel, index int) error {
	return k.SetArg(index, v)
}

// Value passes v by value.
func Value[T Element](v T) Arg {
	return valueArg(gpu.AsBytes([]T{v}))
}

// Bytes passes raw bytes by value, e.g. a packed struct.
func Bytes(b []byte) Arg {
	return valueArg(append([]byte(nil), b...))
}

// LocalScratch reserves Size bytes of work-group local memory. No host
// data is transferred.
type LocalScratch struct {
	Size int
}

func (l LocalScratch) bind(k gpu.Kernel, index int) error {
	return k.SetArgLocal(index, l.Size)
}

// Local reserves local memory for count elements of T.
func Local[T Element](count int) LocalScratch {
	var zero T
	return LocalScratch{Size: count * int(unsafe.Sizeof(zero))}
}

// Args collects arguments in parameter order.
func Args(args ...Arg) []Arg { return args }

// NDRange is a work size with one entry per dimension.
type NDRange []int

// NullRange lets the backend choose, and means a zero offset.
var NullRange NDRange

func Range1(x int) NDRange       { return NDRange{x} }
func Range2(x, y int) NDRange    { return NDRange{x, y} }
func Range3(x, y, z int) NDRange { return NDRange{x, y, z} }

// Total returns the number of work-items covered by r.
func (r NDRange) Total() int {
	if len(r) == 0 {
		return 0
	}
	total := 1
	for _, n := range r {
		total *= n
	}
	return total
}
