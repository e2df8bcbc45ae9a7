package compute

import (
	"github.com/fxnlabs/compute-node/internal/gpu"
)

// MappedRegion is a host view of a mapped buffer range. It is unmapped
// exactly once: by Unmap, or by WithMap on any exit path. Only one region
// per buffer should be live at a time.
type MappedRegion[T Element] struct {
	queue    gpu.Queue
	mem      gpu.Mem
	raw      []byte
	data     []T
	mode     AccessMode
	unmapped bool
}

// Slice returns the mapped elements. The slice is invalid after Unmap.
func (r *MappedRegion[T]) Slice() []T { return r.data }

// Get is Slice under the name callers of pointer-style APIs expect.
func (r *MappedRegion[T]) Get() []T { return r.data }

func (r *MappedRegion[T]) At(i int) T { return r.data[i] }

func (r *MappedRegion[T]) Set(i int, v T) { r.data[i] = v }

func (r *MappedRegion[T]) Len() int { return len(r.data) }

// Mode returns the access mode the region was mapped with.
func (r *MappedRegion[T]) Mode() AccessMode { return r.mode }

// Unmapped reports whether the region has been returned to the device.
func (r *MappedRegion[T]) Unmapped() bool { return r.unmapped }

// Unmap returns the region to the device. Only the first call reaches
// the backend; later calls return nil.
func (r *MappedRegion[T]) Unmap() error {
	if r.unmapped {
		return nil
	}
	r.unmapped = true
	raw := r.raw
	r.raw, r.data = nil, nil
	if err := r.queue.UnmapBuffer(r.mem, raw); err != nil {
		return newError(ErrTransfer, "unmap", err)
	}
	return nil
}
