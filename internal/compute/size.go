package compute

// Byte counts.
const (
	KiB = 1 << 10
	MiB = 1 << 20
	GiB = 1 << 30
)

// ToKiB converts a byte count to kibibytes.
func ToKiB(bytes int64) float64 { return float64(bytes) / KiB }

// ToMiB converts a byte count to mebibytes.
func ToMiB(bytes int64) float64 { return float64(bytes) / MiB }

// ToGiB converts a byte count to gibibytes.
func ToGiB(bytes int64) float64 { return float64(bytes) / GiB }
