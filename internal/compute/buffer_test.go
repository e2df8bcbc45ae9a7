package compute

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fxnlabs/compute-node/internal/gpu"
)

func TestMalloc_Size(t *testing.T) {
	d := newTestDevice(t)
	for _, n := range []int{1, 7, 1024} {
		f32, err := MallocReadWrite[float32](d.Device, n)
		require.NoError(t, err)
		assert.Equal(t, 4*n, f32.Size())
		assert.Equal(t, n, f32.Len())
		f32.Release()

		i64, err := MallocRead[int64](d.Device, n)
		require.NoError(t, err)
		assert.Equal(t, 8*n, i64.Size())
		i64.Release()

		u8, err := MallocWrite[uint8](d.Device, n)
		require.NoError(t, err)
		assert.Equal(t, n, u8.Size())
		u8.Release()
	}
}

func TestMalloc_Errors(t *testing.T) {
	d := newTestDevice(t)
	tests := []struct {
		name  string
		alloc func() error
		kind  error
	}{
		{"unspecified mode", func() error {
			_, err := Malloc[float32](d.Device, Unspecified, 4)
			return err
		}, ErrInvalidAccessMode},
		{"zero elements", func() error {
			_, err := MallocReadWrite[float32](d.Device, 0)
			return err
		}, ErrTransfer},
		{"access flag in extra flags", func() error {
			_, err := MallocFlags[float32](d.Device, Read, 4, gpu.MemWriteOnly, nil)
			return err
		}, ErrInvalidAccessMode},
		{"short host data", func() error {
			_, err := MallocFlags(d.Device, Read, 4, gpu.MemCopyHostPtr, []float32{1, 2})
			return err
		}, ErrTransfer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.alloc(), tt.kind)
		})
	}
}

func TestBuffer_CopyRoundTrip(t *testing.T) {
	d := newTestDevice(t)
	src := []int32{1, -2, 3, -4, 5}
	b, err := MallocReadWrite[int32](d.Device, len(src))
	require.NoError(t, err)
	defer b.Release()

	require.NoError(t, b.CopyFrom(src, false))
	got := make([]int32, len(src))
	require.NoError(t, b.CopyTo(got, true))
	assert.Equal(t, src, got)

	prefix := make([]int32, 2)
	require.NoError(t, b.CopyTo(prefix, true))
	assert.Equal(t, []int32{1, -2}, prefix)

	assert.ErrorIs(t, b.CopyFrom(make([]int32, 6), true), ErrTransfer)
	assert.ErrorIs(t, b.CopyTo(make([]int32, 6), true), ErrTransfer)
}

func TestBuffer_AccessMode(t *testing.T) {
	d := newTestDevice(t)
	read, err := MallocFrom(d.Device, Read, []float32{1, 2, 3})
	require.NoError(t, err)
	defer read.Release()
	write, err := MallocWrite[float32](d.Device, 3)
	require.NoError(t, err)
	defer write.Release()

	t.Run("copy into read-only buffer", func(t *testing.T) {
		assert.ErrorIs(t, read.CopyFrom([]float32{4}, true), ErrInvalidAccessMode)
	})
	t.Run("read mapping of write-only buffer", func(t *testing.T) {
		_, err := write.Map(Read, true)
		assert.ErrorIs(t, err, ErrInvalidAccessMode)
	})
	t.Run("write mapping of read-only buffer", func(t *testing.T) {
		_, err := read.Map(ReadWrite, true)
		assert.ErrorIs(t, err, ErrInvalidAccessMode)
	})
	t.Run("unspecified mapping", func(t *testing.T) {
		_, err := read.Map(Unspecified, true)
		assert.ErrorIs(t, err, ErrInvalidAccessMode)
	})
	t.Run("cross-mode mapping allowed", func(t *testing.T) {
		r, err := write.Map(Read, true, AllowCrossMode())
		require.NoError(t, err)
		assert.Equal(t, 3, r.Len())
		require.NoError(t, r.Unmap())
	})
	t.Run("matching mode", func(t *testing.T) {
		r, err := read.Map(Read, true)
		require.NoError(t, err)
		assert.Equal(t, []float32{1, 2, 3}, r.Get())
		require.NoError(t, r.Unmap())
	})
}

func TestBuffer_MapUnmap(t *testing.T) {
	d := newTestDevice(t)
	b, err := MallocReadWrite[float32](d.Device, 16)
	require.NoError(t, err)
	defer b.Release()

	for i := 0; i < 10; i++ {
		r, err := b.Map(ReadWrite, true)
		require.NoError(t, err)
		assert.Equal(t, 1, gpu.HostMappedCount(b.mem))
		r.Set(i, float32(i))
		require.NoError(t, r.Unmap())
		require.NoError(t, r.Unmap())
		assert.True(t, r.Unmapped())
		assert.Equal(t, 0, gpu.HostMappedCount(b.mem))
	}

	got := make([]float32, 16)
	require.NoError(t, b.CopyTo(got, true))
	for i := 0; i < 10; i++ {
		assert.Equal(t, float32(i), got[i])
	}

	t.Run("range", func(t *testing.T) {
		r, err := b.Map(Read, true, MapRange(2, 3))
		require.NoError(t, err)
		assert.Equal(t, []float32{2, 3, 4}, r.Slice())
		require.NoError(t, r.Unmap())

		_, err = b.Map(Read, true, MapRange(14, 3))
		assert.ErrorIs(t, err, ErrTransfer)
	})
}

func TestBuffer_WithMap(t *testing.T) {
	d := newTestDevice(t)
	b, err := MallocReadWrite[uint32](d.Device, 4)
	require.NoError(t, err)
	defer b.Release()

	require.NoError(t, b.WithMap(Write, true, func(r *MappedRegion[uint32]) error {
		copy(r.Slice(), []uint32{9, 8, 7, 6})
		return nil
	}))
	assert.Equal(t, 0, gpu.HostMappedCount(b.mem))

	failure := errors.New("callback failed")
	err = b.WithMap(Read, true, func(r *MappedRegion[uint32]) error { return failure })
	assert.ErrorIs(t, err, failure)
	assert.Equal(t, 0, gpu.HostMappedCount(b.mem))

	assert.Panics(t, func() {
		_ = b.WithMap(Read, true, func(r *MappedRegion[uint32]) error { panic("boom") })
	})
	assert.Equal(t, 0, gpu.HostMappedCount(b.mem))

	got := make([]uint32, 4)
	require.NoError(t, b.CopyTo(got, true))
	assert.Equal(t, []uint32{9, 8, 7, 6}, got)
}

func TestBuffer_CloneMoveRelease(t *testing.T) {
	d := newTestDevice(t)
	src, err := MallocFrom(d.Device, ReadWrite, []float64{1.5, 2.5, 3.5})
	require.NoError(t, err)

	clone, err := src.Clone(d.Device)
	require.NoError(t, err)
	defer clone.Release()
	assert.Equal(t, src.Size(), clone.Size())
	assert.Equal(t, ReadWrite, clone.Mode())

	got := make([]float64, 3)
	require.NoError(t, clone.CopyTo(got, true))
	assert.Equal(t, []float64{1.5, 2.5, 3.5}, got)

	other := newTestDevice(t)
	staged, err := src.Clone(other.Device)
	require.NoError(t, err)
	defer staged.Release()
	assert.Same(t, other.Device, staged.Device())
	require.NoError(t, staged.CopyTo(got, true))
	assert.Equal(t, []float64{1.5, 2.5, 3.5}, got)

	moved := src.Move()
	assert.True(t, src.Empty())
	assert.Equal(t, 0, src.Size())
	assert.False(t, moved.Empty())
	assert.Equal(t, 24, moved.Size())

	moved.Release()
	assert.True(t, moved.Empty())
	moved.Release()
	assert.ErrorIs(t, moved.CopyTo(got, true), ErrTransfer)
}
