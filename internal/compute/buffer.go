package compute

import (
	"errors"
	"fmt"
	"unsafe"

	"go.uber.org/zap"

	"github.com/fxnlabs/compute-node/internal/gpu"
	"github.com/fxnlabs/compute-node/internal/metrics"
)

// AccessMode is the access intent of a buffer or mapping, fixed at
// allocation time.
type AccessMode int

const (
	Unspecified AccessMode = iota
	Read
	Write
	ReadWrite
)

func (m AccessMode) String() string {
	switch m {
	case Read:
		return "read"
	case Write:
		return "write"
	case ReadWrite:
		return "read-write"
	default:
		return "unspecified"
	}
}

func (m AccessMode) memFlags() (gpu.MemFlags, error) {
	switch m {
	case Read:
		return gpu.MemReadOnly, nil
	case Write:
		return gpu.MemWriteOnly, nil
	case ReadWrite:
		return gpu.MemReadWrite, nil
	}
	return 0, &Error{Kind: ErrInvalidAccessMode, Op: "allocate " + m.String()}
}

func (m AccessMode) mapFlags() (gpu.MapFlags, error) {
	switch m {
	case Read:
		return gpu.MapRead, nil
	case Write:
		return gpu.MapWrite, nil
	case ReadWrite:
		return gpu.MapRead | gpu.MapWrite, nil
	}
	return 0, &Error{Kind: ErrInvalidAccessMode, Op: "map " + m.String()}
}

// Buffer is a typed device allocation bound to the queue of one Device.
// The zero value is an empty buffer.
type Buffer[T Element] struct {
	device *Device
	mem    gpu.Mem
	mode   AccessMode
	count  int
}

func elemSize[T Element]() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

// Malloc allocates count elements without initializing them.
func Malloc[T Element](d *Device, mode AccessMode, count int) (*Buffer[T], error) {
	return MallocFlags[T](d, mode, count, 0, nil)
}

// MallocFrom allocates len(data) elements initialized from data.
func MallocFrom[T Element](d *Device, mode AccessMode, data []T) (*Buffer[T], error) {
	return MallocFlags(d, mode, len(data), gpu.MemCopyHostPtr, data)
}

// MallocFlags allocates with extra backend flags. host is required by
// MemCopyHostPtr and MemUseHostPtr; with MemUseHostPtr the buffer aliases
// host for its whole lifetime.
func MallocFlags[T Element](d *Device, mode AccessMode, count int, extra gpu.MemFlags, host []T) (*Buffer[T], error) {
	op := fmt.Sprintf("allocate %d x %T", count, *new(T))
	flags, err := mode.memFlags()
	if err != nil {
		return nil, err
	}
	if extra&(gpu.MemReadOnly|gpu.MemWriteOnly|gpu.MemReadWrite) != 0 {
		return nil, &Error{Kind: ErrInvalidAccessMode, Op: op, Err: errors.New("access flags come from the access mode")}
	}
	if count <= 0 {
		return nil, newError(ErrTransfer, op, gpu.StatusInvalidBufferSize)
	}
	var hostBytes []byte
	if host != nil {
		if len(host) < count {
			return nil, newError(ErrTransfer, op, gpu.StatusInvalidHostPtr)
		}
		hostBytes = gpu.AsBytes(host[:count])
	}

	mem, err := d.ctx.CreateBuffer(flags|extra, count*elemSize[T](), hostBytes)
	if err != nil {
		return nil, newError(ErrTransfer, op, err)
	}
	if extra.Has(gpu.MemCopyHostPtr) {
		metrics.TransferBytes.WithLabelValues(metrics.HostToDevice).Add(float64(len(hostBytes)))
	}
	return &Buffer[T]{device: d, mem: mem, mode: mode, count: count}, nil
}

// MallocRead allocates a buffer kernels only read.
func MallocRead[T Element](d *Device, count int) (*Buffer[T], error) {
	return Malloc[T](d, Read, count)
}

// MallocWrite allocates a buffer kernels only write.
func MallocWrite[T Element](d *Device, count int) (*Buffer[T], error) {
	return Malloc[T](d, Write, count)
}

// MallocReadWrite allocates a buffer kernels read and write.
func MallocReadWrite[T Element](d *Device, count int) (*Buffer[T], error) {
	return Malloc[T](d, ReadWrite, count)
}

// Size returns the allocation size in bytes, 0 for an empty buffer.
func (b *Buffer[T]) Size() int {
	if b.mem == nil {
		return 0
	}
	return b.mem.Size()
}

// Len returns the number of elements.
func (b *Buffer[T]) Len() int { return b.count }

func (b *Buffer[T]) Mode() AccessMode { return b.mode }

// Flags returns the native allocation flags.
func (b *Buffer[T]) Flags() gpu.MemFlags {
	if b.mem == nil {
		return 0
	}
	return b.mem.Flags()
}

// Empty reports whether the buffer owns no allocation.
func (b *Buffer[T]) Empty() bool { return b.mem == nil }

// Device returns the device whose queue the buffer is bound to.
func (b *Buffer[T]) Device() *Device { return b.device }

func (b *Buffer[T]) bind(k gpu.Kernel, index int) error {
	if b.mem == nil {
		return gpu.StatusInvalidMemObject
	}
	return k.SetArgBuffer(index, b.mem)
}

func (b *Buffer[T]) checkTransfer(op string, n int) error {
	if b.mem == nil {
		return newError(ErrTransfer, op, gpu.StatusInvalidMemObject)
	}
	if n == 0 || n > b.count {
		return newError(ErrTransfer, op, fmt.Errorf("%d elements into a buffer of %d: %w", n, b.count, gpu.StatusInvalidValue))
	}
	return nil
}

// CopyFrom writes src to the start of the buffer. A non-blocking copy
// reads src later, so src must not change before Finish.
func (b *Buffer[T]) CopyFrom(src []T, blocking bool) error {
	const op = "copy to device"
	if b.mode == Read {
		return &Error{Kind: ErrInvalidAccessMode, Op: op, Err: errors.New("buffer is read-only after construction")}
	}
	if err := b.checkTransfer(op, len(src)); err != nil {
		return err
	}
	data := gpu.AsBytes(src)
	if err := b.device.queue.WriteBuffer(b.mem, blocking, 0, data); err != nil {
		return newError(ErrTransfer, op, err)
	}
	metrics.TransferBytes.WithLabelValues(metrics.HostToDevice).Add(float64(len(data)))
	return nil
}

// CopyTo reads the start of the buffer into dst.
func (b *Buffer[T]) CopyTo(dst []T, blocking bool) error {
	const op = "copy to host"
	if err := b.checkTransfer(op, len(dst)); err != nil {
		return err
	}
	data := gpu.AsBytes(dst)
	if err := b.device.queue.ReadBuffer(b.mem, blocking, 0, data); err != nil {
		return newError(ErrTransfer, op, err)
	}
	metrics.TransferBytes.WithLabelValues(metrics.DeviceToHost).Add(float64(len(data)))
	return nil
}

// Clone copies the buffer into a new allocation on dst with the same
// access mode. Within one context the copy stays on the device; across
// contexts it is staged through host memory.
func (b *Buffer[T]) Clone(dst *Device) (*Buffer[T], error) {
	const op = "clone buffer"
	if b.mem == nil {
		return nil, newError(ErrTransfer, op, gpu.StatusInvalidMemObject)
	}
	if dst.ctx == b.device.ctx {
		out, err := Malloc[T](dst, b.mode, b.count)
		if err != nil {
			return nil, err
		}
		if err := dst.queue.CopyBuffer(b.mem, out.mem, 0, 0, b.Size()); err != nil {
			out.Release()
			return nil, newError(ErrTransfer, op, err)
		}
		metrics.TransferBytes.WithLabelValues(metrics.DeviceToDevice).Add(float64(b.Size()))
		return out, nil
	}

	staging := make([]T, b.count)
	if err := b.CopyTo(staging, true); err != nil {
		return nil, err
	}
	return MallocFrom(dst, b.mode, staging)
}

// Move transfers ownership of the allocation to a new Buffer and leaves
// b empty.
func (b *Buffer[T]) Move() *Buffer[T] {
	out := *b
	*b = Buffer[T]{}
	return &out
}

// Release frees the allocation and leaves the buffer empty. Releasing an
// empty buffer does nothing. Failures are logged.
func (b *Buffer[T]) Release() {
	if b.mem == nil {
		return
	}
	if err := b.mem.Release(); err != nil {
		b.device.logger.Warn("Failed to release buffer", zap.Int("bytes", b.Size()), zap.Error(err))
	}
	*b = Buffer[T]{}
}

// MapOption adjusts a Map call.
type MapOption func(*mapOptions)

type mapOptions struct {
	crossMode bool
	offset    int
	count     int
}

// AllowCrossMode permits mapping a write-only buffer for reading or a
// read-only buffer for writing.
func AllowCrossMode() MapOption {
	return func(o *mapOptions) { o.crossMode = true }
}

// MapRange maps count elements starting at offset instead of the whole
// buffer.
func MapRange(offset, count int) MapOption {
	return func(o *mapOptions) {
		o.offset = offset
		o.count = count
	}
}

func crossMode(buffer, requested AccessMode) bool {
	switch buffer {
	case Write:
		return requested != Write
	case Read:
		return requested != Read
	}
	return false
}

// Map exposes the buffer to the host. The region must be unmapped before
// the buffer is released.
func (b *Buffer[T]) Map(mode AccessMode, blocking bool, opts ...MapOption) (*MappedRegion[T], error) {
	op := "map " + mode.String()
	flags, err := mode.mapFlags()
	if err != nil {
		return nil, err
	}
	o := mapOptions{count: b.count}
	for _, opt := range opts {
		opt(&o)
	}
	if crossMode(b.mode, mode) && !o.crossMode {
		return nil, &Error{Kind: ErrInvalidAccessMode, Op: op,
			Err: fmt.Errorf("buffer was allocated %s", b.mode)}
	}
	if b.mem == nil {
		return nil, newError(ErrTransfer, op, gpu.StatusInvalidMemObject)
	}
	if o.offset < 0 || o.count <= 0 || o.offset+o.count > b.count {
		return nil, newError(ErrTransfer, op, gpu.StatusInvalidValue)
	}

	size := elemSize[T]()
	raw, err := b.device.queue.MapBuffer(b.mem, blocking, flags, o.offset*size, o.count*size)
	if err != nil {
		return nil, newError(ErrTransfer, op, err)
	}
	return &MappedRegion[T]{
		queue: b.device.queue,
		mem:   b.mem,
		raw:   raw,
		data:  gpu.FromBytes[T](raw),
		mode:  mode,
	}, nil
}

// WithMap maps the buffer, runs fn and unmaps, also when fn fails or
// panics. An unmap failure is logged and returned if fn succeeded.
func (b *Buffer[T]) WithMap(mode AccessMode, blocking bool, fn func(*MappedRegion[T]) error, opts ...MapOption) (err error) {
	region, err := b.Map(mode, blocking, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if uerr := region.Unmap(); uerr != nil {
			b.device.logger.Warn("Failed to unmap buffer", zap.Error(uerr))
			if err == nil {
				err = uerr
			}
		}
	}()
	return fn(region)
}
