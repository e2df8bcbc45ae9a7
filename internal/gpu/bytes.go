package gpu

import "unsafe"

// AsBytes reinterprets a slice of plain values as its backing bytes.
// The result aliases s.
func AsBytes[T any](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(s))), len(s)*int(unsafe.Sizeof(zero)))
}

// FromBytes reinterprets b as a slice of T. Trailing bytes that do not
// make up a whole element are dropped. The result aliases b; b must be
// suitably aligned for T, which holds for every allocation made by this
// package.
func FromBytes[T any](b []byte) []T {
	var zero T
	size := int(unsafe.Sizeof(zero))
	if size == 0 || len(b) < size {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(b))), len(b)/size)
}

// alignedBytes allocates n zeroed bytes on an 8-byte boundary so that
// any element type can be viewed through FromBytes.
func alignedBytes(n int) []byte {
	if n == 0 {
		return nil
	}
	words := make([]uint64, (n+7)/8)
	return AsBytes(words)[:n]
}
