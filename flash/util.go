package flash

import (
	"golang.org/x/exp/constraints"
)

// Checksum will create a STM-compatible XOR-based checksum of the provided data
func Checksum(bs []byte) byte {
	return checksumFrom(0x00, bs)
}

// checksumFrom folds bs into the checksum starting from seed
func checksumFrom(seed byte, bs []byte) byte {
	s := seed
	for _, b := range bs {
		s ^= b
	}
	return s
}

// withChecksum returns a copy of bs with its checksum appended
func withChecksum(bs []byte) []byte {
	out := make([]byte, 0, len(bs)+1)
	out = append(out, bs...)
	return append(out, Checksum(bs))
}

// ceilDiv will divide a by b rounding up
func ceilDiv[T constraints.Unsigned](a, b T) T {
	if a == 0 {
		return 0
	}
	return (a-1)/b + 1
}
